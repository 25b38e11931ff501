package match

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
	"github.com/roach88/libmap/internal/signature"
	"github.com/roach88/libmap/internal/symgraph"
	"github.com/roach88/libmap/internal/testutil"
)

var mips = arch.MIPS(binary.BigEndian)

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sigSet(t *testing.T, objs ...*ir.ObjectFile) *signature.Set {
	t.Helper()
	var sigs []*signature.Signature
	for _, o := range objs {
		s, err := signature.Extract(mips, o)
		require.NoError(t, err)
		sigs = append(sigs, s)
	}
	return signature.NewSet(sigs)
}

func newMatcher(t *testing.T, set *signature.Set, blob []byte) *Matcher {
	t.Helper()
	m, err := New(mips, set, blob, WithWorkers(2), WithLogger(quiet()))
	require.NoError(t, err)
	return m
}

func TestScanFindsPreciseMatches(t *testing.T) {
	a := testutil.Object("a.o", testutil.Distinct(1, 3))
	b := testutil.Object("b.o", testutil.Distinct(2, 2))
	set := sigSet(t, a, b)
	blob := testutil.Concat(a.Text, b.Text, a.Text)

	res, err := newMatcher(t, set, blob).Scan(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []Candidate{
		{File: "a.o", Offset: 0, Size: 12, Score: FullScore, Precise: true},
		{File: "b.o", Offset: 12, Size: 8, Score: FullScore, Precise: true},
		{File: "a.o", Offset: 20, Size: 12, Score: FullScore, Precise: true},
	}, res.Matches)
	assert.Empty(t, res.NearMisses)
	assert.Len(t, res.ByFile()["a.o"], 2)
}

func TestScanRelocationTolerance(t *testing.T) {
	obj := testutil.Object("call.o",
		testutil.Words(testutil.Lui(4, 0), testutil.Jal(0), testutil.JrRA),
		testutil.Relocs(
			ir.Relocation{Offset: 0, Type: arch.RMIPSHi16},
			ir.Relocation{Offset: 4, Type: arch.RMIPS26},
		))
	set := sigSet(t, obj)
	blob := testutil.Words(testutil.Lui(4, 0x8004), testutil.Jal(0x80041230), testutil.JrRA)

	res, err := newMatcher(t, set, blob).Scan(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Matches, 1)
	assert.Equal(t, 0, res.Matches[0].Offset)
}

func TestScanNearMiss(t *testing.T) {
	// Same opcode classes, different register field: rough passes,
	// precise fails.
	obj := testutil.Object("f.o", testutil.Words(testutil.Addiu(4, 4, 1), testutil.JrRA))
	set := sigSet(t, obj)
	blob := testutil.Words(testutil.Addiu(5, 5, 1), testutil.JrRA)

	res, err := newMatcher(t, set, blob).Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Matches)
	require.Len(t, res.NearMisses, 1)
	assert.False(t, res.NearMisses[0].Precise)
}

func TestWordGranularAlignmentOnly(t *testing.T) {
	a := testutil.Object("a.o", testutil.Distinct(1, 2))
	set := sigSet(t, a)
	blob := testutil.Concat([]byte{0xFF, 0xFF}, a.Text, []byte{0xFF, 0xFF})

	m := newMatcher(t, set, blob)
	res, err := m.Scan(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Matches)

	sig, _ := set.Get("a.o")
	assert.False(t, m.PreciseMatch(sig, 2))
	assert.Zero(t, m.OpcodeScore(sig, 2))
}

func TestOpcodeScoreFraction(t *testing.T) {
	a := testutil.Object("a.o", testutil.Distinct(1, 4))
	set := sigSet(t, a)
	blob := append([]byte(nil), a.Text...)
	// Flip the top bit of word 2: its opcode class changes.
	blob[8] ^= 0x80

	m := newMatcher(t, set, blob)
	sig, _ := set.Get("a.o")
	assert.Equal(t, 750_000, m.OpcodeScore(sig, 0))
	// Memoized value is stable.
	assert.Equal(t, 750_000, m.OpcodeScore(sig, 0))

	c := m.Score(sig, 0, ModePrecise)
	assert.Zero(t, c.Score)
	assert.False(t, c.Precise)

	c = m.Score(sig, 0, ModeOpcode)
	assert.Equal(t, 750_000, c.Score)
	assert.False(t, c.Precise)

	assert.Equal(t, 1, m.PreciseMismatches(sig, 0))

	// Out of range.
	assert.Zero(t, m.OpcodeScore(sig, 4))
	assert.Equal(t, -1, m.PreciseMismatches(sig, 4))
}

func TestCandidatesRankedAndFiltered(t *testing.T) {
	a := testutil.Object("a.o", testutil.Distinct(1, 2))
	a2 := testutil.Object("a2.o", testutil.Distinct(1, 2))
	long := testutil.Object("long.o", testutil.Distinct(1, 3))
	other := testutil.Object("z.o", testutil.Distinct(9, 2))
	set := sigSet(t, long, a2, a, other)

	m := newMatcher(t, set, testutil.Concat(long.Text, testutil.Zeros(8)))
	got := m.Candidates(0, ModeOpcode, DefaultNearMiss, nil, nil)

	var ids []ir.FileID
	for _, c := range got {
		ids = append(ids, c.File)
	}
	// All three tie at full score; shorter files first, then by id.
	assert.Equal(t, []ir.FileID{"a.o", "a2.o", "long.o"}, ids)
}

func TestRankers(t *testing.T) {
	objs := []*ir.ObjectFile{
		testutil.Object("lib.o", testutil.Distinct(1, 2), testutil.Defines("lib")),
		testutil.Object("x.o", testutil.Distinct(2, 2), testutil.References("lib")),
		testutil.Object("y.o", testutil.Distinct(3, 2), testutil.References("lib")),
		testutil.Object("aaa.o", testutil.Distinct(4, 2)),
	}
	g := symgraph.Build(objs, quiet())

	cands := []Candidate{
		{File: "aaa.o", Size: 8, Score: FullScore},
		{File: "lib.o", Size: 8, Score: FullScore},
	}

	Rank(&RankContext{Graph: g}, CallTree{}, cands)
	assert.Equal(t, ir.FileID("lib.o"), cands[0].File)

	Rank(&RankContext{Graph: g}, MostConstrained{}, cands)
	assert.Equal(t, ir.FileID("aaa.o"), cands[0].File)

	rc := &RankContext{Placements: map[ir.FileID]int{"aaa.o": 3, "lib.o": 1}}
	Rank(rc, nil, cands)
	assert.Equal(t, ir.FileID("lib.o"), cands[0].File)

	// Score dominates every tie-break.
	cands[1].Score = FullScore - 1
	Rank(rc, CallTree{}, cands)
	assert.Equal(t, FullScore, cands[0].Score)
}

func TestParseRanker(t *testing.T) {
	r, err := ParseRanker("call-tree")
	require.NoError(t, err)
	assert.Equal(t, "call-tree", r.Name())

	_, err = ParseRanker("coin-flip")
	assert.ErrorContains(t, err, "call-tree, most-constrained")
}

func TestRankFiles(t *testing.T) {
	sizes := map[ir.FileID]int{"b.o": 4, "a.o": 8, "c.o": 4}
	got := RankFiles(nil, nil, []ir.FileID{"a.o", "b.o", "c.o"}, func(f ir.FileID) int { return sizes[f] })
	assert.Equal(t, []ir.FileID{"b.o", "c.o", "a.o"}, got)
}

func TestIsZero(t *testing.T) {
	m := newMatcher(t, sigSet(t), testutil.Concat(testutil.Zeros(8), testutil.Words(1)))
	assert.True(t, m.IsZero(0, 8))
	assert.False(t, m.IsZero(4, 8))
	assert.False(t, m.IsZero(8, 8))
}

func TestScanCancelled(t *testing.T) {
	a := testutil.Object("a.o", testutil.Distinct(1, 2))
	m := newMatcher(t, sigSet(t, a), a.Text)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := m.Scan(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
