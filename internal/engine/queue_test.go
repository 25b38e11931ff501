package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkQueue_FIFO(t *testing.T) {
	q := newWorkQueue()
	w := &window{offset: 8}
	q.Enqueue(forced{file: "a.o", w: w})
	q.Enqueue(forced{file: "b.o", w: w})
	q.Enqueue(forced{file: "c.o", w: w})
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"a.o", "b.o", "c.o"} {
		f, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, string(f.file))
		assert.Same(t, w, f.w)
	}
	assert.Equal(t, 0, q.Len())
}

func TestWorkQueue_EmptyDequeue(t *testing.T) {
	q := newWorkQueue()
	_, ok := q.TryDequeue()
	assert.False(t, ok)

	// Reusable after draining.
	q.Enqueue(forced{file: "x.o"})
	f, ok := q.TryDequeue()
	require.True(t, ok)
	assert.Equal(t, "x.o", string(f.file))
}
