package store

import (
	"path/filepath"
	"testing"

	"github.com/roach88/libmap/internal/ir"
	"github.com/roach88/libmap/internal/testutil"
)

// createTestStore creates a new temporary store with fixed run ids.
func createTestStore(t *testing.T, ids ...string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	if len(ids) == 0 {
		ids = []string{"run-1", "run-2", "run-3"}
	}
	s, err := Open(path, WithRunIDs(testutil.NewFixedRunIDs(ids...)))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestReport builds a small report with every section populated.
func createTestReport() *ir.Report {
	chain := []ir.Commit{{Seq: 1, File: "a.o", Offset: 0, Size: 16, Reason: ir.ReasonSingleton}}
	return &ir.Report{
		BaseAddress: 0x80000400,
		Size:        48,
		Regions: []ir.Region{
			{Start: 0, End: 16, Files: []ir.FileID{"a.o"}, Confidence: ir.ConfidenceCertain},
			{Start: 16, End: 32, Files: []ir.FileID{"b.o", "c.o"}, Confidence: ir.ConfidenceClique},
			{Start: 32, End: 48, Confidence: ir.ConfidenceUnknown},
		},
		Cliques: []ir.Clique{
			{Start: 16, End: 32, Offsets: []int{16}, Members: []ir.FileID{"b.o", "c.o"}, Ranked: []ir.FileID{"c.o", "b.o"}},
		},
		Diagnostics: []*ir.Error{
			ir.NewParseError("bad.o", "no .text section", nil),
			ir.NewContradictionError(32, []ir.FileID{"d.o"}, chain, "every candidate was eliminated"),
		},
		Commits:  chain,
		Symbols:  []ir.PlacedSymbol{{Name: "main", Address: 0x80000400, Size: 16, File: "a.o"}},
		NotFound: []ir.FileID{"e.o"},
	}
}
