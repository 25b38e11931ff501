package engine

import (
	"slices"

	"github.com/roach88/libmap/internal/ir"
)

// Outcome is the final state of one window. It is one of Certain, Clique,
// Contradiction or Unresolved; consumers switch on the concrete type.
type Outcome interface {
	Start() int
	outcome()
}

// Certain is a committed placement. Initial lists every file that matched
// precisely at the offset before propagation began.
type Certain struct {
	Commit  ir.Commit
	Initial []ir.FileID
}

// Clique is a window left with several indistinguishable candidates at the
// fixed point. Group indexes Result.Cliques.
type Clique struct {
	Offset int
	Size   int
	Files  []ir.FileID
	Group  int
}

// Contradiction is a window whose candidates all failed.
type Contradiction struct {
	Offset     int
	Diagnostic *ir.Error
}

// Unresolved is a window still open when the iteration budget ran out.
type Unresolved struct {
	Offset int
	Size   int
	Files  []ir.FileID
}

func (o Certain) Start() int       { return o.Commit.Offset }
func (o Clique) Start() int        { return o.Offset }
func (o Contradiction) Start() int { return o.Offset }
func (o Unresolved) Start() int    { return o.Offset }

func (Certain) outcome()       {}
func (Clique) outcome()        {}
func (Contradiction) outcome() {}
func (Unresolved) outcome()    {}

// Result is the output of one propagation.
type Result struct {
	// Outcomes holds one entry per surviving window, by offset. Windows
	// absorbed by a committed region have no entry.
	Outcomes []Outcome
	// Commits in commit order.
	Commits []ir.Commit
	// Cliques groups Clique outcomes sharing one candidate set.
	Cliques []ir.Clique
	// Diagnostics lists contradictions, unsatisfied references and
	// iteration caps.
	Diagnostics []*ir.Error

	Components int
	Iterations int
}

// At returns the outcome of the window at off.
func (r *Result) At(off int) (Outcome, bool) {
	i, ok := slices.BinarySearchFunc(r.Outcomes, off, func(o Outcome, t int) int { return o.Start() - t })
	if !ok {
		return nil, false
	}
	return r.Outcomes[i], true
}

// Certain returns the committed placements, by offset.
func (r *Result) Certain() []Certain {
	var out []Certain
	for _, o := range r.Outcomes {
		if c, ok := o.(Certain); ok {
			out = append(out, c)
		}
	}
	return out
}

// Placed returns the files committed somewhere.
func (r *Result) Placed() map[ir.FileID]ir.Commit {
	out := make(map[ir.FileID]ir.Commit, len(r.Commits))
	for _, c := range r.Commits {
		out[c.File] = c
	}
	return out
}
