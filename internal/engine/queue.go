package engine

import "github.com/roach88/libmap/internal/ir"

// forced is a pending commit of a required file at its last placement.
type forced struct {
	file ir.FileID
	w    *window
}

// workQueue is the FIFO of forced commits.
//
// It is owned by one component and never shared, so it carries no lock.
// Forced commits run in the order their files became required.
type workQueue struct {
	items []forced
}

func newWorkQueue() *workQueue {
	return &workQueue{items: make([]forced, 0, 16)}
}

// Enqueue adds an item to the back of the queue.
func (q *workQueue) Enqueue(f forced) {
	q.items = append(q.items, f)
}

// TryDequeue removes and returns the front item.
// Returns (forced{}, false) if the queue is empty.
func (q *workQueue) TryDequeue() (forced, bool) {
	if len(q.items) == 0 {
		return forced{}, false
	}
	f := q.items[0]

	// Nil out the slot so the array does not pin the window.
	q.items[0] = forced{}
	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}
	return f, true
}

// Len returns the current queue length.
func (q *workQueue) Len() int {
	return len(q.items)
}
