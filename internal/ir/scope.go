package ir

import "strings"

// Scope tags a resync request with the sub-computations it must redo.
type Scope string

const (
	ScopeChange   Scope = "change"
	ScopeArtifact Scope = "artifact"
	ScopeAction   Scope = "action"

	// ScopeAll requests every sub-computation.
	ScopeAll Scope = "*"

	// ScopeResync forces a full reread even when the entity is clean. It is
	// what a dirty target passes down to its streams.
	ScopeResync Scope = "resync"
)

// Scopes is a set of scope tags. A nil or empty Scopes means "no scopes":
// reads may be served from cache.
type Scopes []Scope

// ParseScopes builds Scopes from strings, accepting comma separated lists.
// Unknown tags are kept verbatim; empty parts are dropped.
func ParseScopes(raw ...string) Scopes {
	var out Scopes
	for _, r := range raw {
		for _, part := range strings.Split(r, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			if !out.has(Scope(part)) {
				out = append(out, Scope(part))
			}
		}
	}
	return out
}

// Empty reports whether no scopes were requested.
func (s Scopes) Empty() bool {
	return len(s) == 0
}

// Wants reports whether the sub-computation tagged x must be redone.
func (s Scopes) Wants(x Scope) bool {
	return s.has(x) || s.has(ScopeAll)
}

// With returns a copy of s including x.
func (s Scopes) With(x Scope) Scopes {
	if s.has(x) {
		return s
	}
	out := make(Scopes, 0, len(s)+1)
	out = append(out, s...)
	return append(out, x)
}

// Strings returns the tags as strings.
func (s Scopes) Strings() []string {
	out := make([]string, len(s))
	for i, x := range s {
		out[i] = string(x)
	}
	return out
}

func (s Scopes) has(x Scope) bool {
	for _, v := range s {
		if v == x {
			return true
		}
	}
	return false
}
