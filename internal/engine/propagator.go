package engine

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/libmap/internal/arch"
	"github.com/roach88/libmap/internal/ir"
	"github.com/roach88/libmap/internal/match"
	"github.com/roach88/libmap/internal/signature"
	"github.com/roach88/libmap/internal/symgraph"
)

// Propagator resolves matcher output into per-offset outcomes.
//
// A Propagator holds configuration only and may run any number of times,
// including concurrently.
type Propagator struct {
	graph         *symgraph.Graph
	ranker        match.Ranker
	maxIterations int
	workers       int
	nearMiss      int
	logger        *slog.Logger
}

// Option configures a Propagator.
type Option func(*Propagator)

// WithMaxIterations sets the iteration budget per component.
//
// Default: DefaultMaxIterations.
func WithMaxIterations(n int) Option {
	return func(p *Propagator) { p.maxIterations = n }
}

// WithWorkers bounds how many components propagate at once; zero means
// GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(p *Propagator) { p.workers = n }
}

// WithRanker sets the tie-break used to order clique members.
func WithRanker(r match.Ranker) Option {
	return func(p *Propagator) { p.ranker = r }
}

// WithNearMiss sets the opcode score at which an unplaced file probed at
// a gap is reported as a contradiction.
func WithNearMiss(ppm int) Option {
	return func(p *Propagator) { p.nearMiss = ppm }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Propagator) { p.logger = l }
}

// New creates a Propagator over the corpus symbol graph. A nil graph
// disables the required-present rule.
func New(g *symgraph.Graph, opts ...Option) *Propagator {
	p := &Propagator{
		graph:         g,
		ranker:        match.MostConstrained{},
		maxIterations: DefaultMaxIterations,
		workers:       runtime.GOMAXPROCS(0),
		nearMiss:      match.DefaultNearMiss,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workers <= 0 {
		p.workers = runtime.GOMAXPROCS(0)
	}
	if p.ranker == nil {
		p.ranker = match.MostConstrained{}
	}
	return p
}

// Run propagates scan, the output of m.Scan. It fails only if ctx is
// cancelled; every per-offset failure is reported in the Result.
func (p *Propagator) Run(ctx context.Context, m *match.Matcher, scan *match.ScanResult) (*Result, error) {
	res, err := p.propagate(ctx, seed(scan))
	if err != nil {
		return nil, err
	}
	p.probe(m, scan, res)
	p.finish(res)

	p.logger.Debug("propagation complete",
		"components", res.Components,
		"iterations", res.Iterations,
		"commits", len(res.Commits),
		"cliques", len(res.Cliques),
		"diagnostics", len(res.Diagnostics))
	return res, nil
}

// propagate runs every component to its fixed point and merges them.
func (p *Propagator) propagate(ctx context.Context, windows []*window) (*Result, error) {
	parts := p.split(windows)

	comps := make([]*component, len(parts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, ws := range parts {
		g.Go(func() error {
			c := newComponent(i, ws, p.graph, p.maxIterations, p.logger)
			if err := c.run(gctx); err != nil {
				return err
			}
			comps[i] = c
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("propagating: %w", err)
	}
	return p.assemble(comps), nil
}

// split partitions windows into components: windows sharing a candidate,
// overlapping, or linked by a reference edge between candidates end up
// together. Components are ordered by their first offset.
func (p *Propagator) split(windows []*window) [][]*window {
	uf := newUnionFind(len(windows))

	first := make(map[ir.FileID]int)
	var files []ir.FileID
	for i, w := range windows {
		for _, f := range w.initial {
			if j, ok := first[f]; ok {
				uf.union(i, j)
			} else {
				first[f] = i
				files = append(files, f)
			}
		}
	}

	reach, at := -1, -1
	for i, w := range windows {
		if w.offset < reach {
			uf.union(i, at)
		}
		if end := w.offset + w.span; end > reach {
			reach, at = end, i
		}
	}

	if p.graph != nil {
		for _, f := range files {
			for _, n := range p.graph.Neighbors(f) {
				if j, ok := first[n]; ok {
					uf.union(first[f], j)
				}
			}
		}
	}

	index := make(map[int]int)
	var out [][]*window
	for i, w := range windows {
		r := uf.find(i)
		k, ok := index[r]
		if !ok {
			k = len(out)
			index[r] = k
			out = append(out, nil)
		}
		out[k] = append(out[k], w)
	}
	return out
}

// assemble renumbers commits and gathers outcomes across components.
func (p *Propagator) assemble(comps []*component) *Result {
	res := &Result{Components: len(comps)}
	clock := NewClock()
	bySeq := make(map[int64]ir.Commit)
	renum := make([]map[int64]int64, len(comps))

	for i, c := range comps {
		renum[i] = make(map[int64]int64, len(c.commits))
		for _, cm := range c.commits {
			local := clock.Stamp(&cm)
			renum[i][local] = cm.Seq
			bySeq[cm.Seq] = cm
			res.Commits = append(res.Commits, cm)
		}
		res.Iterations += c.budget.Used()
	}

	for i, c := range comps {
		contradicted := make(map[*window]*ir.Error)
		for _, f := range c.findings {
			if f.w != nil && c.covered(f.w.offset) {
				// Absorbed by a later commit.
				f.w.state = stateAbsorbed
				continue
			}
			for _, s := range f.chain {
				f.err.Chain = append(f.err.Chain, bySeq[renum[i][s]])
			}
			res.Diagnostics = append(res.Diagnostics, f.err)
			if f.w != nil {
				contradicted[f.w] = f.err
			}
		}

		unresolved := 0
		for _, w := range c.windows {
			switch w.state {
			case stateCertain:
				cm := w.commit
				cm.Seq = renum[i][cm.Seq]
				res.Outcomes = append(res.Outcomes, Certain{Commit: cm, Initial: w.initial})
			case stateContradicted:
				res.Outcomes = append(res.Outcomes, Contradiction{Offset: w.offset, Diagnostic: contradicted[w]})
			case stateOpen:
				if c.capped != nil || len(w.sizes) < 2 {
					unresolved++
					res.Outcomes = append(res.Outcomes, Unresolved{Offset: w.offset, Size: w.end() - w.offset, Files: w.files()})
				} else {
					res.Outcomes = append(res.Outcomes, Clique{Offset: w.offset, Size: w.end() - w.offset, Files: w.files()})
				}
			}
		}
		if c.capped != nil {
			err := ir.NewIterationCapError(c.budget.Used(), c.budget.Limit(), unresolved)
			err.Details["component"] = fmt.Sprintf("%d", c.id)
			res.Diagnostics = append(res.Diagnostics, err)
			p.logger.Warn("iteration cap reached", "component", c.id, "limit", c.budget.Limit(), "unresolved", unresolved)
		}
	}
	return res
}

// minProbeWords is the shortest object whose near miss counts as evidence.
const minProbeWords = 4

// damaged reports whether sig at off looks like a copy of the object with a
// few corrupted words: long enough, and failing the precise comparison in
// at least one but no more than a quarter of its words.
func damaged(m *match.Matcher, sig *signature.Signature, off int) bool {
	if sig.Len() < minProbeWords {
		return false
	}
	n := m.PreciseMismatches(sig, off)
	return n > 0 && n*4 <= sig.Len()
}

// probe inspects every gap left between outcomes. An unplaced file that
// nearly fits a gap means the blob differs from the corpus there: the gap
// start, or the near-miss offset, is reported as a contradiction chained to
// the commits bounding the gap.
func (p *Propagator) probe(m *match.Matcher, scan *match.ScanResult, res *Result) {
	if m == nil {
		return
	}

	type span struct{ start, end int }
	var covered []span
	placed := make(map[ir.FileID]bool)
	failed := make(map[int]bool)
	for _, o := range res.Outcomes {
		switch o := o.(type) {
		case Certain:
			covered = append(covered, span{o.Commit.Offset, o.Commit.End()})
			placed[o.Commit.File] = true
		case Clique:
			covered = append(covered, span{o.Offset, o.Offset + o.Size})
			for _, f := range o.Files {
				placed[f] = true
			}
		case Unresolved:
			covered = append(covered, span{o.Offset, o.Offset + o.Size})
			for _, f := range o.Files {
				placed[f] = true
			}
		case Contradiction:
			failed[o.Offset] = true
		}
	}
	slices.SortFunc(covered, func(a, b span) int { return cmp.Compare(a.start, b.start) })

	var gaps []span
	pos, limit := 0, m.Words()*arch.WordSize
	for _, s := range covered {
		if s.start > pos {
			gaps = append(gaps, span{pos, s.start})
		}
		pos = max(pos, s.end)
	}
	if pos < limit {
		gaps = append(gaps, span{pos, limit})
	}

	byOffset := slices.Clone(res.Commits)
	slices.SortFunc(byOffset, func(a, b ir.Commit) int { return cmp.Compare(a.Offset, b.Offset) })

	for _, gap := range gaps {
		lost := make(map[int][]ir.FileID)
		if !failed[gap.start] {
			for _, sig := range m.Signatures().Sigs {
				if sig.Zero || placed[sig.File] || sig.Size() > gap.end-gap.start {
					continue
				}
				if m.OpcodeScore(sig, gap.start) >= p.nearMiss && damaged(m, sig, gap.start) {
					lost[gap.start] = append(lost[gap.start], sig.File)
				}
			}
		}
		for _, c := range scan.NearMisses {
			if c.Offset < gap.start || c.End() > gap.end || placed[c.File] || failed[c.Offset] {
				continue
			}
			if sig, ok := m.Signatures().Get(c.File); !ok || !damaged(m, sig, c.Offset) {
				continue
			}
			if !slices.Contains(lost[c.Offset], c.File) {
				lost[c.Offset] = append(lost[c.Offset], c.File)
			}
		}
		if len(lost) == 0 {
			continue
		}

		chain := bounding(byOffset, gap.start, gap.end)
		for _, off := range slices.Sorted(maps.Keys(lost)) {
			err := ir.NewContradictionError(off, ir.SortFileIDs(lost[off]), chain,
				"opcode classes match but the precise signature does not")
			res.Diagnostics = append(res.Diagnostics, err)
			res.Outcomes = append(res.Outcomes, Contradiction{Offset: off, Diagnostic: err})
			failed[off] = true
			p.logger.Debug("near-miss contradiction", "offset", off, "lost", err.Files)
		}
	}
}

// bounding returns the commits adjacent to [start, end), in commit order.
func bounding(byOffset []ir.Commit, start, end int) []ir.Commit {
	var out []ir.Commit
	var before *ir.Commit
	for i := range byOffset {
		c := byOffset[i]
		if c.End() <= start && (before == nil || c.End() > before.End()) {
			before = &byOffset[i]
		}
	}
	if before != nil {
		out = append(out, *before)
	}
	for _, c := range byOffset {
		if c.Offset >= end {
			out = append(out, c)
			break
		}
	}
	slices.SortFunc(out, func(a, b ir.Commit) int { return cmp.Compare(a.Seq, b.Seq) })
	return out
}

// finish orders outcomes and diagnostics and groups cliques.
func (p *Propagator) finish(res *Result) {
	slices.SortFunc(res.Outcomes, func(a, b Outcome) int { return cmp.Compare(a.Start(), b.Start()) })

	index := make(map[string]int)
	sizes := make(map[ir.FileID]int)
	counts := make(map[ir.FileID]int)
	for i, o := range res.Outcomes {
		cl, ok := o.(Clique)
		if !ok {
			continue
		}
		for _, f := range cl.Files {
			counts[f]++
			if sizes[f] == 0 {
				sizes[f] = cl.Size
			}
		}
		key := joinIDs(cl.Files)
		g, ok := index[key]
		if !ok {
			g = len(res.Cliques)
			index[key] = g
			res.Cliques = append(res.Cliques, ir.Clique{Start: cl.Offset, Members: cl.Files})
		}
		q := &res.Cliques[g]
		q.Offsets = append(q.Offsets, cl.Offset)
		q.End = max(q.End, cl.Offset+cl.Size)
		cl.Group = g
		res.Outcomes[i] = cl
	}
	rc := &match.RankContext{Placements: counts, Graph: p.graph}
	for i := range res.Cliques {
		q := &res.Cliques[i]
		q.Ranked = match.RankFiles(rc, p.ranker, q.Members, func(f ir.FileID) int { return sizes[f] })
	}

	slices.SortStableFunc(res.Diagnostics, func(a, b *ir.Error) int {
		return cmp.Or(
			cmp.Compare(a.Code, b.Code),
			cmp.Compare(a.Offset, b.Offset),
			cmp.Compare(a.File, b.File),
			cmp.Compare(a.Symbol, b.Symbol),
		)
	})
}

func joinIDs(ids []ir.FileID) string {
	parts := make([]string, len(ids))
	for i, f := range ids {
		parts[i] = string(f)
	}
	return strings.Join(parts, "\x00")
}

type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	u := &unionFind{parent: make([]int, n)}
	for i := range u.parent {
		u.parent[i] = i
	}
	return u
}

func (u *unionFind) find(i int) int {
	for u.parent[i] != i {
		u.parent[i] = u.parent[u.parent[i]]
		i = u.parent[i]
	}
	return i
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra == rb {
		return
	}
	if ra < rb {
		u.parent[rb] = ra
	} else {
		u.parent[ra] = rb
	}
}
