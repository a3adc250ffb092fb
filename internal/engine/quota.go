package engine

import (
	"errors"
	"fmt"
)

// QuotaEnforcer counts action calls in one run and enforces a maximum.
//
// Each run has its own QuotaEnforcer. A call is one action applied to one
// target or target pair, so the quota bounds runs whose selection fans out
// over many targets.
//
// The quota is checked before every call, never after: the call that would
// exceed the limit does not run and is not recorded.
//
// Quota vs. artifact cycles:
//   - Artifact cycles are rejected at compile time (A -> B -> A)
//   - The quota bounds linear fan-out (flow x targets x pairs)
//
// Together they guarantee a run terminates.
type QuotaEnforcer struct {
	maxSteps int // Maximum allowed calls per run
	current  int // Calls checked so far
}

// NewQuotaEnforcer creates a new quota enforcer with the given limit.
//
// maxSteps: maximum number of action calls per run.
// Default: DefaultMaxSteps (configurable via engine.WithMaxSteps()).
func NewQuotaEnforcer(maxSteps int) *QuotaEnforcer {
	return &QuotaEnforcer{maxSteps: maxSteps}
}

// Check increments the step counter and validates against the limit.
//
// Returns StepsExceededError if the quota is exceeded.
// The engine calls it before executing each call.
func (q *QuotaEnforcer) Check(runID string) error {
	q.current++
	if q.current > q.maxSteps {
		return &StepsExceededError{
			RunID: runID,
			Steps: q.current,
			Limit: q.maxSteps,
		}
	}
	return nil
}

// Reset resets the step counter to 0.
// Used when one enforcer is reused across runs (tests).
func (q *QuotaEnforcer) Reset() {
	q.current = 0
}

// Current returns the current step count.
func (q *QuotaEnforcer) Current() int {
	return q.current
}

// MaxSteps returns the maximum steps limit.
func (q *QuotaEnforcer) MaxSteps() int {
	return q.maxSteps
}

// StepsExceededError is returned when a run exceeds the max steps quota.
// It terminates the run.
type StepsExceededError struct {
	RunID string
	Steps int
	Limit int
}

// Error implements the error interface.
func (e *StepsExceededError) Error() string {
	return fmt.Sprintf("run %s exceeded max steps quota: %d steps > %d limit",
		e.RunID, e.Steps, e.Limit)
}

// IsStepsExceededError returns true if the error is a StepsExceededError.
func IsStepsExceededError(err error) bool {
	var se *StepsExceededError
	return errors.As(err, &se)
}
