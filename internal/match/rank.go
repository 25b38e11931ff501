package match

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/libmap/internal/ir"
	"github.com/roach88/libmap/internal/symgraph"
)

// RankContext carries the run state a tie-break may consult. Either field
// may be nil.
type RankContext struct {
	// Placements counts the viable placements each file still has.
	Placements map[ir.FileID]int
	// Graph is the corpus symbol graph.
	Graph *symgraph.Graph
}

func (rc *RankContext) placements(f ir.FileID) int {
	if rc == nil || rc.Placements == nil {
		return 0
	}
	return rc.Placements[f]
}

// Ranker breaks ties between equally scored candidates.
type Ranker interface {
	Name() string
	Compare(rc *RankContext, a, b Candidate) int
}

// MostConstrained prefers the file with fewer remaining placements, then
// the shorter file, then the smaller id.
type MostConstrained struct{}

func (MostConstrained) Name() string { return "most-constrained" }

func (MostConstrained) Compare(rc *RankContext, a, b Candidate) int {
	return cmp.Or(
		cmp.Compare(rc.placements(a.File), rc.placements(b.File)),
		cmp.Compare(a.Size, b.Size),
		strings.Compare(string(a.File), string(b.File)),
	)
}

// CallTree prefers files referenced by more distinct files, on the
// assumption that heavily called routines are the likeliest to be linked
// in. Remaining ties fall back to MostConstrained.
type CallTree struct{}

func (CallTree) Name() string { return "call-tree" }

func (CallTree) Compare(rc *RankContext, a, b Candidate) int {
	if rc != nil && rc.Graph != nil {
		if c := cmp.Compare(rc.Graph.InDegree(b.File), rc.Graph.InDegree(a.File)); c != 0 {
			return c
		}
	}
	return MostConstrained{}.Compare(rc, a, b)
}

// Rankers lists the built-in tie-break strategies by name.
var Rankers = map[string]Ranker{
	"most-constrained": MostConstrained{},
	"call-tree":        CallTree{},
}

// ParseRanker returns the built-in ranker called name.
func ParseRanker(name string) (Ranker, error) {
	if r, ok := Rankers[name]; ok {
		return r, nil
	}
	names := make([]string, 0, len(Rankers))
	for n := range Rankers {
		names = append(names, n)
	}
	slices.Sort(names)
	return nil, fmt.Errorf("unknown ranker %q (want one of %s)", name, strings.Join(names, ", "))
}

// Rank sorts candidates best first: higher score, then precise before
// rough, then r's tie-break. A nil ranker means MostConstrained.
func Rank(rc *RankContext, r Ranker, cands []Candidate) {
	if r == nil {
		r = MostConstrained{}
	}
	slices.SortStableFunc(cands, func(a, b Candidate) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		if a.Precise != b.Precise {
			if a.Precise {
				return -1
			}
			return 1
		}
		return r.Compare(rc, a, b)
	})
}

// RankFiles orders file ids by r, as if every file were an equally scored
// candidate of the given sizes.
func RankFiles(rc *RankContext, r Ranker, files []ir.FileID, size func(ir.FileID) int) []ir.FileID {
	cands := make([]Candidate, len(files))
	for i, f := range files {
		cands[i] = Candidate{File: f, Size: size(f), Score: FullScore}
	}
	Rank(rc, r, cands)
	out := make([]ir.FileID, len(cands))
	for i, c := range cands {
		out[i] = c.File
	}
	return out
}
