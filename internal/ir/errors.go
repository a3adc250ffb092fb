package ir

import (
	"errors"
	"fmt"
	"strings"
)

// LookupErrorCode categorizes lookup failures.
type LookupErrorCode string

const (
	// ErrCodeNotFound indicates an unknown project, target, stream, flow,
	// action, artifact or registry entry.
	ErrCodeNotFound LookupErrorCode = "NOT_FOUND"

	// ErrCodeTypeMismatch indicates an entity exists but has an unexpected type.
	ErrCodeTypeMismatch LookupErrorCode = "TYPE_MISMATCH"
)

// LookupError is returned by domain lookups. It is always fatal to the
// operation that triggered it.
type LookupError struct {
	Code LookupErrorCode

	// Kind names the entity kind ("target", "stream", "artifact", ...).
	Kind string

	// ID is the id that failed to resolve.
	ID string

	// Expected and Actual are set for type mismatches.
	Expected string
	Actual   string

	// Ref locates the lookup when known.
	Ref Ref
}

// Error implements the error interface.
func (e *LookupError) Error() string {
	where := ""
	if e.Ref.ProjectID != "" {
		where = fmt.Sprintf(" (ref=%s)", e.Ref.Key())
	}
	if e.Code == ErrCodeTypeMismatch {
		return fmt.Sprintf("%s: %s %q has type %q, expected %q%s", e.Code, e.Kind, e.ID, e.Actual, e.Expected, where)
	}
	return fmt.Sprintf("%s: %s %q%s", e.Code, e.Kind, e.ID, where)
}

// NewNotFoundError creates a LookupError for a missing entity.
func NewNotFoundError(kind, id string, ref Ref) *LookupError {
	return &LookupError{Code: ErrCodeNotFound, Kind: kind, ID: id, Ref: ref}
}

// NewTypeMismatchError creates a LookupError for an entity with the wrong type.
func NewTypeMismatchError(kind, id, expected, actual string, ref Ref) *LookupError {
	return &LookupError{
		Code:     ErrCodeTypeMismatch,
		Kind:     kind,
		ID:       id,
		Expected: expected,
		Actual:   actual,
		Ref:      ref,
	}
}

// IsNotFound returns true if err is (or wraps) a NOT_FOUND LookupError.
func IsNotFound(err error) bool {
	var le *LookupError
	if errors.As(err, &le) {
		return le.Code == ErrCodeNotFound
	}
	return false
}

// IsTypeMismatch returns true if err is (or wraps) a TYPE_MISMATCH LookupError.
func IsTypeMismatch(err error) bool {
	var le *LookupError
	if errors.As(err, &le) {
		return le.Code == ErrCodeTypeMismatch
	}
	return false
}

// MatchType reports whether actual satisfies expected.
//
// With strict set, the types must be equal. Otherwise a dotted prefix also
// matches: "git" matches "git.github" but not "gitlab".
func MatchType(expected, actual string, strict bool) bool {
	if expected == actual {
		return true
	}
	if strict || expected == "" {
		return false
	}
	return strings.HasPrefix(actual, expected+".")
}
