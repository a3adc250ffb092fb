package engine

import (
	"errors"
	"fmt"
)

// RuntimeError represents an error detected while dispatching a flow.
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// RunID identifies the affected run.
	RunID string

	// ActionID identifies the action being dispatched, if any.
	ActionID string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeUnknownAction indicates no handler is registered for an action type.
	ErrCodeUnknownAction RuntimeErrorCode = "UNKNOWN_ACTION"

	// ErrCodeQuotaExceeded indicates the run exceeded max steps.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"

	// ErrCodeInvalidTarget indicates a target selection the flow cannot serve.
	ErrCodeInvalidTarget RuntimeErrorCode = "INVALID_TARGET"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.RunID != "" && e.ActionID != "" {
		return fmt.Sprintf("%s: %s (run=%s, action=%s)", e.Code, e.Message, e.RunID, e.ActionID)
	}
	if e.RunID != "" {
		return fmt.Sprintf("%s: %s (run=%s)", e.Code, e.Message, e.RunID)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// IsUnknownActionError returns true if no handler served an action type.
func IsUnknownActionError(err error) bool {
	return hasCode(err, ErrCodeUnknownAction)
}

// IsQuotaError returns true if the error is a quota exceeded error.
// Matches both RuntimeError with ErrCodeQuotaExceeded and StepsExceededError.
func IsQuotaError(err error) bool {
	if hasCode(err, ErrCodeQuotaExceeded) {
		return true
	}
	var se *StepsExceededError
	return errors.As(err, &se)
}

// IsInvalidTargetError returns true for rejected target selections.
func IsInvalidTargetError(err error) bool {
	return hasCode(err, ErrCodeInvalidTarget)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// NewUnknownActionError creates a RuntimeError for an unregistered action type.
func NewUnknownActionError(runID, actionID, actionType string) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeUnknownAction,
		Message:  fmt.Sprintf("no handler for action type %q", actionType),
		RunID:    runID,
		ActionID: actionID,
		Details:  map[string]string{"type": actionType},
	}
}

// NewQuotaError creates a RuntimeError for quota exceeded.
func NewQuotaError(runID string, steps, maxSteps int) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeQuotaExceeded,
		Message: fmt.Sprintf("run exceeded max steps (%d > %d)", steps, maxSteps),
		RunID:   runID,
		Details: map[string]string{
			"steps":     fmt.Sprintf("%d", steps),
			"max_steps": fmt.Sprintf("%d", maxSteps),
		},
	}
}

// NewInvalidTargetError creates a RuntimeError for a bad target selection.
func NewInvalidTargetError(runID, actionID, message string) *RuntimeError {
	return &RuntimeError{
		Code:     ErrCodeInvalidTarget,
		Message:  message,
		RunID:    runID,
		ActionID: actionID,
	}
}
