package engine

import (
	"errors"
	"fmt"
)

// DefaultMaxIterations is the default iteration budget per component.
const DefaultMaxIterations = 100_000

// Budget counts propagation iterations of one component and stops them at
// a limit. One iteration is one commit or one closed-group pass.
type Budget struct {
	limit int
	used  int
}

// NewBudget creates a budget of limit iterations. A non-positive limit
// means DefaultMaxIterations.
func NewBudget(limit int) *Budget {
	if limit <= 0 {
		limit = DefaultMaxIterations
	}
	return &Budget{limit: limit}
}

// Check spends one iteration. It returns BudgetExceededError, without
// spending, once the limit is reached.
func (b *Budget) Check() error {
	if b.used >= b.limit {
		return &BudgetExceededError{Steps: b.used, Limit: b.limit}
	}
	b.used++
	return nil
}

// Reset returns every spent iteration.
func (b *Budget) Reset() {
	b.used = 0
}

// Used returns the iterations spent so far.
func (b *Budget) Used() int {
	return b.used
}

// Limit returns the iteration limit.
func (b *Budget) Limit() int {
	return b.limit
}

// BudgetExceededError is returned when a component runs out of iterations.
//
// It never aborts a run: the component stops and reports what it has.
type BudgetExceededError struct {
	Component int
	Steps     int
	Limit     int
}

// Error implements the error interface.
func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("component %d exceeded iteration budget: %d steps, limit %d",
		e.Component, e.Steps, e.Limit)
}

// IsBudgetExceeded reports whether err is a BudgetExceededError.
func IsBudgetExceeded(err error) bool {
	var be *BudgetExceededError
	return errors.As(err, &be)
}
