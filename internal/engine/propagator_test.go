package engine

import (
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/libmap/internal/arch"
	"github.com/roach88/libmap/internal/ir"
	"github.com/roach88/libmap/internal/match"
	"github.com/roach88/libmap/internal/signature"
	"github.com/roach88/libmap/internal/symgraph"
	"github.com/roach88/libmap/internal/testutil"
)

var mips = arch.MIPS(binary.BigEndian)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// propagateBlob runs matcher and propagator over objs and blob.
func propagateBlob(t *testing.T, objs []*ir.ObjectFile, blob []byte, opts ...Option) *Result {
	t.Helper()
	ctx := context.Background()

	var sigs []*signature.Signature
	for _, o := range objs {
		s, err := signature.Extract(mips, o)
		require.NoError(t, err)
		sigs = append(sigs, s)
	}
	m, err := match.New(mips, signature.NewSet(sigs), blob, match.WithLogger(quiet()))
	require.NoError(t, err)
	scan, err := m.Scan(ctx)
	require.NoError(t, err)

	g := symgraph.Build(objs, quiet())
	opts = append([]Option{WithLogger(quiet()), WithWorkers(4)}, opts...)
	res, err := New(g, opts...).Run(ctx, m, scan)
	require.NoError(t, err)
	return res
}

// win builds a window by hand for rule-level tests.
func win(off int, sizes map[ir.FileID]int) *window {
	w := &window{offset: off, sizes: sizes, removed: make(map[ir.FileID]int64)}
	for _, s := range sizes {
		w.span = max(w.span, s)
	}
	w.initial = w.files()
	return w
}

func certainAt(t *testing.T, res *Result, off int) Certain {
	t.Helper()
	o, ok := res.At(off)
	require.True(t, ok, "no outcome at %#x", off)
	c, ok := o.(Certain)
	require.True(t, ok, "outcome at %#x is %T", off, o)
	return c
}

func TestScenarioA_DistinctFilesBackToBack(t *testing.T) {
	a := testutil.Object("a.o", testutil.Distinct(1, 3))
	b := testutil.Object("b.o", testutil.Distinct(2, 4))
	c := testutil.Object("c.o", testutil.Distinct(3, 2))

	res := propagateBlob(t, []*ir.ObjectFile{a, b, c}, testutil.Concat(a.Text, b.Text, c.Text))

	assert.Equal(t, []ir.Commit{
		{Seq: 1, File: "a.o", Offset: 0, Size: 12, Reason: ir.ReasonSingleton},
		{Seq: 2, File: "b.o", Offset: 12, Size: 16, Reason: ir.ReasonSingleton},
		{Seq: 3, File: "c.o", Offset: 28, Size: 8, Reason: ir.ReasonSingleton},
	}, res.Commits)
	assert.Len(t, res.Certain(), 3)
	assert.Len(t, res.Outcomes, 3)
	assert.Empty(t, res.Diagnostics)
	assert.Empty(t, res.Cliques)
	assert.Equal(t, 3, res.Components)
}

func TestScenarioC_IdenticalFilesFormClique(t *testing.T) {
	text := testutil.Distinct(4, 3)
	main := testutil.Object("main.o", testutil.Distinct(1, 2), testutil.References("alpha"))
	a := testutil.Object("a.o", text, testutil.Defines("alpha"))
	b := testutil.Object("b.o", text, testutil.Defines("beta"))
	other := testutil.Object("other.o", testutil.Distinct(2, 2))

	blob := testutil.Concat(main.Text, text, other.Text, text)
	res := propagateBlob(t, []*ir.ObjectFile{main, a, b, other}, blob)

	require.Len(t, res.Cliques, 1)
	assert.Equal(t, ir.Clique{
		Start:   8,
		End:     40,
		Offsets: []int{8, 28},
		Members: []ir.FileID{"a.o", "b.o"},
		Ranked:  []ir.FileID{"a.o", "b.o"},
	}, res.Cliques[0])

	for _, off := range []int{8, 28} {
		o, ok := res.At(off)
		require.True(t, ok)
		cl, ok := o.(Clique)
		require.True(t, ok, "outcome at %#x is %T", off, o)
		assert.Equal(t, 0, cl.Group)
		assert.Equal(t, 12, cl.Size)
	}
	assert.Equal(t, ir.FileID("main.o"), certainAt(t, res, 0).Commit.File)
	assert.Equal(t, ir.FileID("other.o"), certainAt(t, res, 20).Commit.File)
	assert.Empty(t, res.Diagnostics)
}

func TestScenarioC_ReferenceNarrowsClique(t *testing.T) {
	text := testutil.Distinct(4, 3)
	main := testutil.Object("main.o", testutil.Distinct(1, 2), testutil.References("alpha"))
	a := testutil.Object("a.o", text, testutil.Defines("alpha"))
	b := testutil.Object("b.o", text, testutil.Defines("beta"))
	other := testutil.Object("other.o", testutil.Distinct(2, 2))

	blob := testutil.Concat(main.Text, text, other.Text)
	res := propagateBlob(t, []*ir.ObjectFile{main, a, b, other}, blob)

	c := certainAt(t, res, 8)
	assert.Equal(t, ir.Commit{
		Seq: 2, File: "a.o", Offset: 8, Size: 12,
		Reason: ir.ReasonRequired, Symbol: "alpha", Via: "main.o",
	}, c.Commit)
	assert.Equal(t, []ir.FileID{"a.o", "b.o"}, c.Initial)
	assert.Empty(t, res.Cliques)
	assert.Empty(t, res.Diagnostics)
}

func TestScenarioD_FlippedBitContradicts(t *testing.T) {
	a := testutil.Object("a.o", testutil.Distinct(1, 4))
	b := testutil.Object("b.o", testutil.Distinct(2, 4))
	c := testutil.Object("c.o", testutil.Distinct(3, 4))

	blob := testutil.Concat(a.Text, b.Text, c.Text)
	// Corrupt the opcode of b's third instruction.
	blob[16+8] ^= 0x80

	res := propagateBlob(t, []*ir.ObjectFile{a, b, c}, blob)

	assert.Equal(t, ir.FileID("a.o"), certainAt(t, res, 0).Commit.File)
	assert.Equal(t, ir.FileID("c.o"), certainAt(t, res, 32).Commit.File)

	o, ok := res.At(16)
	require.True(t, ok)
	con, ok := o.(Contradiction)
	require.True(t, ok, "outcome at 0x10 is %T", o)

	d := con.Diagnostic
	require.NotNil(t, d)
	assert.True(t, ir.IsContradiction(d))
	assert.Equal(t, 16, d.Offset)
	assert.Equal(t, []ir.FileID{"b.o"}, d.Files)
	require.Len(t, d.Chain, 2)
	assert.Equal(t, ir.FileID("a.o"), d.Chain[0].File)
	assert.Equal(t, ir.FileID("c.o"), d.Chain[1].File)
	assert.Equal(t, []*ir.Error{d}, res.Diagnostics)
}

func TestUnknownCodeInGapIsNotContradiction(t *testing.T) {
	const (
		addu = 0x00851021
		subu = 0x00851023
		and  = 0x00851024
		or   = 0x00851025
		xor  = 0x00851026
		nor  = 0x00851027
	)
	a := testutil.Object("a.o", testutil.Distinct(1, 3))
	b := testutil.Object("b.o", testutil.Distinct(2, 4))
	tiny := testutil.Object("tiny.o", testutil.Words(0x03E00008, 0))
	arith := testutil.Object("arith.o", testutil.Words(addu, subu, and, or))

	tests := []struct {
		name string
		gap  []byte
	}{
		{"short object", testutil.Words(addu, subu, testutil.Lui(2, 0x8000), testutil.Addiu(2, 2, 0x10))},
		{"every word differs", testutil.Words(or, and, xor, nor)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blob := testutil.Concat(a.Text, tt.gap, b.Text)
			res := propagateBlob(t, []*ir.ObjectFile{a, tiny, arith, b}, blob)

			assert.Equal(t, ir.FileID("a.o"), certainAt(t, res, 0).Commit.File)
			assert.Equal(t, ir.FileID("b.o"), certainAt(t, res, 28).Commit.File)
			assert.Empty(t, res.Diagnostics)
			for _, o := range res.Outcomes {
				_, bad := o.(Contradiction)
				assert.False(t, bad, "unexpected contradiction at %#x", o.Start())
			}
		})
	}
}

func TestUniquenessContradiction(t *testing.T) {
	a := testutil.Object("a.o", testutil.Distinct(1, 3))
	res := propagateBlob(t, []*ir.ObjectFile{a}, testutil.Concat(a.Text, a.Text))

	assert.Equal(t, ir.FileID("a.o"), certainAt(t, res, 0).Commit.File)

	o, ok := res.At(12)
	require.True(t, ok)
	con, ok := o.(Contradiction)
	require.True(t, ok)
	assert.Equal(t, []ir.FileID{"a.o"}, con.Diagnostic.Files)
	assert.Equal(t, []ir.Commit{res.Commits[0]}, con.Diagnostic.Chain)
	assert.Equal(t, 1, res.Components)
}

func TestOverlapAbsorbsInnerWindow(t *testing.T) {
	long := testutil.Object("long.o", testutil.Distinct(1, 4))
	short := testutil.Object("short.o", long.Text[4:12])

	res := propagateBlob(t, []*ir.ObjectFile{long, short}, long.Text)

	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, ir.FileID("long.o"), certainAt(t, res, 0).Commit.File)
	assert.Empty(t, res.Diagnostics)
}

func TestIterationCap(t *testing.T) {
	a := testutil.Object("a.o", testutil.Distinct(1, 3), testutil.Defines("fa"), testutil.References("fb"))
	b := testutil.Object("b.o", testutil.Distinct(2, 4), testutil.Defines("fb"), testutil.References("fc"))
	c := testutil.Object("c.o", testutil.Distinct(3, 2), testutil.Defines("fc"))

	res := propagateBlob(t, []*ir.ObjectFile{a, b, c},
		testutil.Concat(a.Text, b.Text, c.Text), WithMaxIterations(1))

	assert.Equal(t, 1, res.Components)
	assert.Equal(t, 1, res.Iterations)
	assert.Equal(t, ir.FileID("a.o"), certainAt(t, res, 0).Commit.File)
	for _, off := range []int{12, 28} {
		o, ok := res.At(off)
		require.True(t, ok)
		assert.IsType(t, Unresolved{}, o)
	}

	require.Len(t, res.Diagnostics, 1)
	d := res.Diagnostics[0]
	assert.True(t, ir.IsIterationCap(d))
	assert.Equal(t, "2", d.Details["unresolved"])
	assert.Equal(t, "1", d.Details["limit"])
}

func TestRequiredChainCommitsInOrder(t *testing.T) {
	a := testutil.Object("a.o", testutil.Distinct(1, 3), testutil.Defines("fa"), testutil.References("fb"))
	b := testutil.Object("b.o", testutil.Distinct(2, 4), testutil.Defines("fb"), testutil.References("fc"))
	c := testutil.Object("c.o", testutil.Distinct(3, 2), testutil.Defines("fc"))

	res := propagateBlob(t, []*ir.ObjectFile{a, b, c}, testutil.Concat(a.Text, b.Text, c.Text))

	require.Len(t, res.Commits, 3)
	assert.Equal(t, ir.ReasonSingleton, res.Commits[0].Reason)
	assert.Equal(t, ir.Commit{Seq: 2, File: "b.o", Offset: 12, Size: 16, Reason: ir.ReasonRequired, Symbol: "fb", Via: "a.o"}, res.Commits[1])
	assert.Equal(t, ir.Commit{Seq: 3, File: "c.o", Offset: 28, Size: 8, Reason: ir.ReasonRequired, Symbol: "fc", Via: "b.o"}, res.Commits[2])
}

func TestDeterministic(t *testing.T) {
	text := testutil.Distinct(4, 3)
	objs := []*ir.ObjectFile{
		testutil.Object("main.o", testutil.Distinct(1, 2), testutil.References("alpha")),
		testutil.Object("a.o", text, testutil.Defines("alpha")),
		testutil.Object("b.o", text, testutil.Defines("beta")),
		testutil.Object("other.o", testutil.Distinct(2, 2)),
		testutil.Object("x.o", testutil.Distinct(3, 3)),
		testutil.Object("y.o", testutil.Distinct(5, 2)),
	}
	blob := testutil.Concat(objs[0].Text, text, objs[3].Text, text, objs[4].Text, objs[5].Text, objs[4].Text)

	first := propagateBlob(t, objs, blob)
	for range 5 {
		assert.Equal(t, first, propagateBlob(t, objs, blob, WithWorkers(1)))
	}
}

func TestRunCancelled(t *testing.T) {
	a := testutil.Object("a.o", testutil.Distinct(1, 2))
	sig, err := signature.Extract(mips, a)
	require.NoError(t, err)
	set := signature.NewSet([]*signature.Signature{sig})

	m, err := match.New(mips, set, a.Text, match.WithLogger(quiet()))
	require.NoError(t, err)
	scan, err := m.Scan(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = New(nil, WithLogger(quiet())).Run(ctx, m, scan)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSplitComponents(t *testing.T) {
	g := symgraph.Build([]*ir.ObjectFile{
		testutil.Object("e.o", nil, testutil.Defines("fe"), testutil.References("ff")),
		testutil.Object("f.o", nil, testutil.Defines("ff")),
	}, quiet())
	p := New(g, WithLogger(quiet()))

	ws := []*window{
		win(0, map[ir.FileID]int{"a.o": 4}),
		win(8, map[ir.FileID]int{"b.o": 4}),
		win(16, map[ir.FileID]int{"a.o": 4}),
		win(24, map[ir.FileID]int{"c.o": 8}),
		win(28, map[ir.FileID]int{"d.o": 4}),
		win(40, map[ir.FileID]int{"e.o": 4}),
		win(48, map[ir.FileID]int{"f.o": 4}),
	}
	parts := p.split(ws)

	var offsets [][]int
	for _, part := range parts {
		var offs []int
		for _, w := range part {
			offs = append(offs, w.offset)
		}
		offsets = append(offsets, offs)
	}
	assert.Equal(t, [][]int{{0, 16}, {8}, {24, 28}, {40, 48}}, offsets)
}

func TestClosedGroupFreesOtherWindows(t *testing.T) {
	p := New(nil, WithLogger(quiet()))
	ws := []*window{
		win(0, map[ir.FileID]int{"a.o": 4, "b.o": 4}),
		win(8, map[ir.FileID]int{"a.o": 4, "b.o": 4}),
		win(16, map[ir.FileID]int{"a.o": 4, "c.o": 4}),
	}
	res, err := p.propagate(context.Background(), ws)
	require.NoError(t, err)
	p.finish(res)

	assert.Equal(t, ir.FileID("c.o"), certainAt(t, res, 16).Commit.File)
	require.Len(t, res.Cliques, 1)
	assert.Equal(t, []int{0, 8}, res.Cliques[0].Offsets)
	assert.Equal(t, 2, res.Iterations)
}

func TestRequiredPrunesCommonOverlap(t *testing.T) {
	g := symgraph.Build([]*ir.ObjectFile{
		testutil.Object("main.o", nil, testutil.References("dsym")),
		testutil.Object("d.o", nil, testutil.Defines("dsym")),
	}, quiet())

	ws := []*window{
		win(0, map[ir.FileID]int{"main.o": 4}),
		win(4, map[ir.FileID]int{"d.o": 8, "h.o": 4}),
		win(6, map[ir.FileID]int{"e.o": 4, "k.o": 2}),
		win(8, map[ir.FileID]int{"d.o": 8, "g.o": 8}),
	}
	c := newComponent(0, ws, g, 0, quiet())
	c.commit(ws[0], "main.o", ir.ReasonSingleton)

	assert.Equal(t, []ir.FileID{"d.o", "h.o"}, ws[1].files())
	assert.Equal(t, []ir.FileID{"k.o"}, ws[2].files())
	assert.Equal(t, []ir.FileID{"d.o"}, ws[3].files())
	assert.Equal(t, int64(1), ws[2].removed["e.o"])
	assert.Empty(t, c.findings)
}

func TestUnsatisfiedReference(t *testing.T) {
	g := symgraph.Build([]*ir.ObjectFile{
		testutil.Object("main.o", nil, testutil.References("dsym")),
		testutil.Object("d.o", nil, testutil.Defines("dsym")),
	}, quiet())
	p := New(g, WithLogger(quiet()))

	ws := []*window{
		win(0, map[ir.FileID]int{"main.o": 8}),
		win(4, map[ir.FileID]int{"d.o": 4}),
	}
	res, err := p.propagate(context.Background(), ws)
	require.NoError(t, err)
	p.finish(res)

	require.Len(t, res.Diagnostics, 1)
	d := res.Diagnostics[0]
	assert.Equal(t, ir.ErrCodeUnsatisfiedReference, d.Code)
	assert.Equal(t, ir.FileID("d.o"), d.File)
	assert.Equal(t, "dsym", d.Symbol)
	assert.Equal(t, "main.o", d.Details["via"])

	// The absorbed window leaves no outcome behind.
	assert.Len(t, res.Outcomes, 1)
}
