package engine

import (
	"cmp"
	"context"
	"errors"
	"log/slog"
	"math"
	"slices"
	"sort"

	"github.com/roach88/libmap/internal/ir"
	"github.com/roach88/libmap/internal/symgraph"
)

type requirement struct {
	symbol string
	via    ir.FileID
	queued bool
	failed bool
}

// finding is a diagnostic whose chain still holds local commit seqs.
type finding struct {
	err   *ir.Error
	chain []int64
	w     *window
}

// component propagates one independent group of windows. All of its state
// is owned by the goroutine running it.
type component struct {
	id        int
	windows   []*window
	byFile    map[ir.FileID][]*window
	placeable map[ir.FileID]bool
	maxSpan   int
	graph     *symgraph.Graph

	clock  *Clock
	budget *Budget
	queue  *workQueue
	heap   windowHeap

	commits   []ir.Commit
	committed map[ir.FileID]ir.Commit
	regions   []ir.Commit // by offset
	required  map[ir.FileID]*requirement
	findings  []finding
	capped    *BudgetExceededError

	logger *slog.Logger
}

func newComponent(id int, windows []*window, g *symgraph.Graph, maxIterations int, logger *slog.Logger) *component {
	c := &component{
		id:        id,
		windows:   windows,
		byFile:    make(map[ir.FileID][]*window),
		placeable: make(map[ir.FileID]bool),
		graph:     g,
		clock:     NewClock(),
		budget:    NewBudget(maxIterations),
		queue:     newWorkQueue(),
		committed: make(map[ir.FileID]ir.Commit),
		required:  make(map[ir.FileID]*requirement),
		logger:    logger,
	}
	for _, w := range windows {
		c.maxSpan = max(c.maxSpan, w.span)
		for _, f := range w.initial {
			c.byFile[f] = append(c.byFile[f], w)
			c.placeable[f] = true
		}
		c.heap.push(w)
	}
	return c
}

// run applies the inference rules until nothing changes or the budget
// runs out.
func (c *component) run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		step := c.next()
		if step == nil {
			return nil
		}
		if err := c.budget.Check(); err != nil {
			if errors.As(err, &c.capped) {
				c.capped.Component = c.id
			}
			c.logger.Debug("iteration budget exhausted", "component", c.id, "limit", c.budget.Limit())
			return nil
		}
		step()
	}
}

// next picks the next rule application: forced commits first, then the
// most constrained singleton, then a closed group.
func (c *component) next() func() {
	for c.queue.Len() > 0 {
		f, _ := c.queue.TryDequeue()
		if c.forceable(f) {
			return func() { c.commit(f.w, f.file, ir.ReasonRequired) }
		}
	}
	if w := c.heap.peek(); w != nil && len(w.sizes) == 1 {
		return func() { c.commit(w, w.files()[0], ir.ReasonSingleton) }
	}
	if g := c.closedGroup(); g != nil {
		return func() { c.closeGroup(g) }
	}
	return nil
}

func (c *component) forceable(f forced) bool {
	if _, done := c.committed[f.file]; done {
		return false
	}
	if f.w.state != stateOpen {
		return false
	}
	_, ok := f.w.sizes[f.file]
	return ok && len(c.byFile[f.file]) == 1
}

func (c *component) commit(w *window, f ir.FileID, reason ir.CommitReason) {
	seq := c.clock.Next()
	cm := ir.Commit{Seq: seq, File: f, Offset: w.offset, Size: w.sizes[f], Reason: reason}
	if r := c.required[f]; r != nil && reason == ir.ReasonRequired {
		cm.Symbol, cm.Via = r.symbol, r.via
	}
	w.state = stateCertain
	w.commit = cm
	c.commits = append(c.commits, cm)
	c.committed[f] = cm
	i, _ := slices.BinarySearchFunc(c.regions, cm.Offset, func(r ir.Commit, off int) int {
		return cmp.Compare(r.Offset, off)
	})
	c.regions = slices.Insert(c.regions, i, cm)

	c.logger.Debug("commit",
		"component", c.id,
		"seq", seq,
		"file", f,
		"offset", cm.Offset,
		"reason", reason)

	for _, g := range w.files() {
		if g != f {
			c.remove(w, g, seq)
		}
	}
	for _, o := range slices.Clone(c.byFile[f]) {
		if o != w {
			c.remove(o, f, seq)
		}
	}
	delete(c.byFile, f)

	c.clearOverlaps(cm)
	c.require(cm)
}

// clearOverlaps drops every candidate sharing a byte with cm. Windows that
// start inside cm are absorbed by it.
func (c *component) clearOverlaps(cm ir.Commit) {
	for _, o := range c.around(cm.Offset, cm.End()) {
		if o.state != stateOpen {
			continue
		}
		if o.offset > cm.Offset {
			o.state = stateAbsorbed
			for _, g := range o.files() {
				c.remove(o, g, cm.Seq)
			}
			continue
		}
		for _, g := range o.files() {
			if o.offset+o.sizes[g] > cm.Offset {
				c.remove(o, g, cm.Seq)
			}
		}
	}
}

// require marks the unique definers of cm's references as required.
func (c *component) require(cm ir.Commit) {
	if c.graph == nil {
		return
	}
	for _, req := range c.graph.Requirements(cm.File) {
		d := req.Definer
		if _, done := c.committed[d]; done || !c.placeable[d] {
			continue
		}
		if c.required[d] == nil {
			c.required[d] = &requirement{symbol: req.Symbol, via: cm.File}
		}
		c.checkRequired(d)
	}
}

func (c *component) checkRequired(d ir.FileID) {
	r := c.required[d]
	if r.failed {
		return
	}
	if _, done := c.committed[d]; done {
		return
	}
	switch ws := c.byFile[d]; len(ws) {
	case 0:
		r.failed = true
		err := ir.NewUnsatisfiedReferenceError(d, r.symbol, r.via)
		c.findings = append(c.findings, finding{err: err})
		c.logger.Debug("unsatisfied reference", "component", c.id, "file", d, "symbol", r.symbol, "via", r.via)
	case 1:
		if !r.queued {
			r.queued = true
			c.queue.Enqueue(forced{file: d, w: ws[0]})
		}
	default:
		c.pruneAround(d, ws)
	}
}

// pruneAround removes candidates that overlap every placement left to the
// required file d.
func (c *component) pruneAround(d ir.FileID, ws []*window) {
	lo, hi := 0, math.MaxInt
	for _, w := range ws {
		lo = max(lo, w.offset)
		hi = min(hi, w.offset+w.sizes[d])
	}
	if lo >= hi {
		return
	}
	seq := c.clock.Current()
	for _, o := range c.around(lo, hi) {
		if o.state != stateOpen {
			continue
		}
		for _, g := range o.files() {
			if g == d {
				continue
			}
			if size, ok := o.sizes[g]; ok && o.offset+size > lo {
				c.remove(o, g, seq)
			}
		}
	}
}

// remove drops f from w. It is a no-op if f is not viable there.
func (c *component) remove(w *window, f ir.FileID, seq int64) {
	if _, ok := w.sizes[f]; !ok {
		return
	}
	delete(w.sizes, f)
	w.removed[f] = seq
	c.byFile[f] = slices.DeleteFunc(c.byFile[f], func(o *window) bool { return o == w })

	if w.state == stateOpen {
		if len(w.sizes) == 0 {
			c.contradict(w)
		} else {
			c.heap.push(w)
		}
	}
	if c.required[f] != nil {
		c.checkRequired(f)
	}
}

func (c *component) contradict(w *window) {
	if c.covered(w.offset) {
		w.state = stateAbsorbed
		return
	}
	w.state = stateContradicted
	err := ir.NewContradictionError(w.offset, w.initial, nil, "every candidate was eliminated")
	c.findings = append(c.findings, finding{err: err, chain: w.chain(), w: w})
	c.logger.Debug("contradiction", "component", c.id, "offset", w.offset, "lost", w.initial)
}

// covered reports whether off lies inside a committed region.
func (c *component) covered(off int) bool {
	i := sort.Search(len(c.regions), func(i int) bool { return c.regions[i].Offset > off })
	return i > 0 && off < c.regions[i-1].End()
}

// around returns the windows whose longest possible span may intersect
// [lo, hi), in offset order.
func (c *component) around(lo, hi int) []*window {
	end := sort.Search(len(c.windows), func(i int) bool { return c.windows[i].offset >= hi })
	start := end
	for start > 0 && c.windows[start-1].offset+c.maxSpan > lo {
		start--
	}
	return c.windows[start:end]
}

type group struct {
	files   []ir.FileID
	windows []*window
}

// closedGroup finds k pairwise disjoint windows sharing one k-file
// candidate set whose files are still viable elsewhere.
func (c *component) closedGroup() *group {
	seen := make(map[string]*group)
	var order []*group
	for _, w := range c.windows {
		if w.state != stateOpen || len(w.sizes) < 2 {
			continue
		}
		k := w.key()
		g, ok := seen[k]
		if !ok {
			g = &group{files: w.files()}
			seen[k] = g
			order = append(order, g)
		}
		g.windows = append(g.windows, w)
	}
	for _, g := range order {
		if len(g.windows) != len(g.files) || !disjoint(g.windows) {
			continue
		}
		if c.leaks(g) {
			return g
		}
	}
	return nil
}

func disjoint(ws []*window) bool {
	for i := 1; i < len(ws); i++ {
		if ws[i-1].end() > ws[i].offset {
			return false
		}
	}
	return true
}

func (c *component) leaks(g *group) bool {
	for _, f := range g.files {
		for _, o := range c.byFile[f] {
			if !slices.Contains(g.windows, o) {
				return true
			}
		}
	}
	return false
}

func (c *component) closeGroup(g *group) {
	seq := c.clock.Current()
	c.logger.Debug("closed group", "component", c.id, "files", g.files)
	for _, f := range g.files {
		for _, o := range slices.Clone(c.byFile[f]) {
			if !slices.Contains(g.windows, o) {
				c.remove(o, f, seq)
			}
		}
	}
}
