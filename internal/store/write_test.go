package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/libmap/internal/ir"
)

func TestWriteRun(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	rep := createTestReport()

	run, err := s.WriteRun(ctx, RunInput{Label: "game.z64", Arch: "mips", Blob: []byte{1, 2, 3, 4}, Report: rep})
	require.NoError(t, err)

	assert.Equal(t, "run-1", run.ID)
	assert.Equal(t, int64(1), run.Seq)
	assert.Equal(t, ir.BlobDigest([]byte{1, 2, 3, 4}), run.BlobDigest)
	assert.Equal(t, ir.MustReportDigest(rep), run.ReportDigest)
	assert.Equal(t, uint32(0x80000400), run.BaseAddress)
	assert.Equal(t, 3, run.Regions)
	assert.Equal(t, 1, run.Cliques)
	assert.Equal(t, 2, run.Diagnostics)

	again, err := s.WriteRun(ctx, RunInput{Label: "game.z64", Arch: "mips", Report: rep})
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Seq)
}

func TestWriteRunNilReport(t *testing.T) {
	s := createTestStore(t)
	_, err := s.WriteRun(context.Background(), RunInput{Label: "x"})
	assert.ErrorIs(t, err, ErrNoReport)
}

func TestWriteRunIsAtomic(t *testing.T) {
	s := createTestStore(t, "run-1", "run-1")
	ctx := context.Background()

	_, err := s.WriteRun(ctx, RunInput{Label: "a", Arch: "mips", Report: createTestReport()})
	require.NoError(t, err)

	// Duplicate id: the insert fails and nothing from the second run remains.
	_, err = s.WriteRun(ctx, RunInput{Label: "b", Arch: "mips", Report: createTestReport()})
	require.Error(t, err)

	runs, err := s.ListRuns(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "a", runs[0].Label)
	assert.Equal(t, 3, runs[0].Regions)
}
