package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudget_WithinLimit(t *testing.T) {
	b := NewBudget(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Check(), "step %d should be allowed", i+1)
	}
	assert.Equal(t, 3, b.Used())
	assert.Equal(t, 3, b.Limit())
}

func TestBudget_ExceedsLimit(t *testing.T) {
	b := NewBudget(2)
	require.NoError(t, b.Check())
	require.NoError(t, b.Check())

	err := b.Check()
	require.Error(t, err)

	var be *BudgetExceededError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 2, be.Steps)
	assert.Equal(t, 2, be.Limit)

	// A refused check spends nothing.
	assert.Equal(t, 2, b.Used())
}

func TestBudget_Reset(t *testing.T) {
	b := NewBudget(1)
	require.NoError(t, b.Check())
	require.Error(t, b.Check())

	b.Reset()
	assert.Equal(t, 0, b.Used())
	assert.NoError(t, b.Check())
}

func TestBudget_DefaultLimit(t *testing.T) {
	assert.Equal(t, DefaultMaxIterations, NewBudget(0).Limit())
	assert.Equal(t, DefaultMaxIterations, NewBudget(-5).Limit())
}

func TestIsBudgetExceeded(t *testing.T) {
	err := &BudgetExceededError{Component: 3, Steps: 10, Limit: 10}
	assert.True(t, IsBudgetExceeded(err))
	assert.True(t, IsBudgetExceeded(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsBudgetExceeded(fmt.Errorf("other")))
	assert.Contains(t, err.Error(), "component 3")
}
