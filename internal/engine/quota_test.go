package engine

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuotaEnforcer_WithinLimit(t *testing.T) {
	q := NewQuotaEnforcer(10)

	for i := 0; i < 10; i++ {
		assert.NoError(t, q.Check("run-1"), "step %d should be allowed", i+1)
	}
	assert.Equal(t, 10, q.Current())
	assert.Equal(t, 10, q.MaxSteps())
}

func TestQuotaEnforcer_ExceedsLimit(t *testing.T) {
	q := NewQuotaEnforcer(5)
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Check("run-1"))
	}

	err := q.Check("run-1")
	require.Error(t, err)

	var stepsErr *StepsExceededError
	require.ErrorAs(t, err, &stepsErr)
	assert.Equal(t, "run-1", stepsErr.RunID)
	assert.Equal(t, 6, stepsErr.Steps)
	assert.Equal(t, 5, stepsErr.Limit)
	assert.True(t, IsQuotaError(err))
	assert.True(t, IsStepsExceededError(fmt.Errorf("wrapped: %w", err)))
}

func TestQuotaEnforcer_Reset(t *testing.T) {
	q := NewQuotaEnforcer(5)
	for i := 0; i < 5; i++ {
		_ = q.Check("run-1")
	}
	q.Reset()
	assert.Equal(t, 0, q.Current())
	assert.NoError(t, q.Check("run-1"))
}

func TestRuntimeError_Helpers(t *testing.T) {
	unknown := NewUnknownActionError("run-1", "deploy", "k8s.apply")
	assert.True(t, IsUnknownActionError(fmt.Errorf("x: %w", unknown)))
	assert.False(t, IsQuotaError(unknown))
	assert.Equal(t, `UNKNOWN_ACTION: no handler for action type "k8s.apply" (run=run-1, action=deploy)`, unknown.Error())

	quota := NewQuotaError("run-1", 3, 2)
	assert.True(t, IsQuotaError(quota))
	assert.Equal(t, "QUOTA_EXCEEDED: run exceeded max steps (3 > 2) (run=run-1)", quota.Error())

	invalid := NewInvalidTargetError("", "", "bad")
	assert.True(t, IsInvalidTargetError(invalid))
	assert.Equal(t, "INVALID_TARGET: bad", invalid.Error())
}
