package engine

import "github.com/roach88/libmap/internal/ir"

// Clock is the logical clock that orders commits. Seq 0 means "before any
// commit"; the first commit is 1.
//
// A component owns its clock and only its goroutine touches it, so there
// is no locking. Propagator.assemble renumbers all commits with one fresh
// clock once every component is done.
type Clock struct {
	last int64
}

// NewClock creates a clock with no commits issued.
func NewClock() *Clock {
	return &Clock{}
}

// Next issues the next seq.
func (c *Clock) Next() int64 {
	c.last++
	return c.last
}

// Current returns the last issued seq.
func (c *Clock) Current() int64 {
	return c.last
}

// Stamp gives cm the next seq and returns the seq it carried before.
func (c *Clock) Stamp(cm *ir.Commit) int64 {
	prev := cm.Seq
	cm.Seq = c.Next()
	return prev
}
