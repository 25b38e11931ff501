package engine

import (
	"container/heap"
	"maps"
	"slices"

	"github.com/roach88/libmap/internal/ir"
	"github.com/roach88/libmap/internal/match"
)

type windowState int

const (
	stateOpen windowState = iota
	stateCertain
	stateAbsorbed
	stateContradicted
)

// window is one blob offset and the files still viable there.
type window struct {
	offset int
	span   int // longest initial candidate

	sizes   map[ir.FileID]int
	initial []ir.FileID
	removed map[ir.FileID]int64 // file -> seq of the commit that removed it

	state  windowState
	commit ir.Commit
}

// files returns the viable candidates in id order.
func (w *window) files() []ir.FileID {
	return ir.SortFileIDs(slices.Collect(maps.Keys(w.sizes)))
}

// end returns the end of the longest viable candidate.
func (w *window) end() int {
	n := 0
	for _, s := range w.sizes {
		n = max(n, s)
	}
	return w.offset + n
}

// key identifies the viable candidate set.
func (w *window) key() string {
	return joinIDs(w.files())
}

// chain returns the seqs of the commits that removed candidates, ascending.
func (w *window) chain() []int64 {
	var seqs []int64
	for _, s := range w.removed {
		if s > 0 && !slices.Contains(seqs, s) {
			seqs = append(seqs, s)
		}
	}
	slices.Sort(seqs)
	return seqs
}

// seed builds one window per offset carrying a precise match.
func seed(scan *match.ScanResult) []*window {
	var out []*window
	for _, c := range scan.Matches {
		if n := len(out); n == 0 || out[n-1].offset != c.Offset {
			out = append(out, &window{
				offset:  c.Offset,
				sizes:   make(map[ir.FileID]int),
				removed: make(map[ir.FileID]int64),
			})
		}
		w := out[len(out)-1]
		w.sizes[c.File] = c.Size
		w.span = max(w.span, c.Size)
	}
	for _, w := range out {
		w.initial = w.files()
	}
	return out
}

// heapEntry snapshots a window's candidate count. Entries go stale when
// the window changes; stale entries are dropped when they surface.
type heapEntry struct {
	size   int
	offset int
	w      *window
}

func (e heapEntry) live() bool {
	return e.w.state == stateOpen && len(e.w.sizes) == e.size && e.size > 0
}

// windowHeap orders windows most constrained first, then by offset.
type windowHeap []heapEntry

func (h windowHeap) Len() int { return len(h) }

func (h windowHeap) Less(i, j int) bool {
	if h[i].size != h[j].size {
		return h[i].size < h[j].size
	}
	return h[i].offset < h[j].offset
}

func (h windowHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *windowHeap) Push(x any) { *h = append(*h, x.(heapEntry)) }

func (h *windowHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = heapEntry{}
	*h = old[:n-1]
	return e
}

// push records the window's current candidate count.
func (h *windowHeap) push(w *window) {
	heap.Push(h, heapEntry{size: len(w.sizes), offset: w.offset, w: w})
}

// peek returns the most constrained open window, dropping stale entries.
func (h *windowHeap) peek() *window {
	for h.Len() > 0 {
		if top := (*h)[0]; top.live() {
			return top.w
		}
		heap.Pop(h)
	}
	return nil
}
