package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/rollout/internal/ir"
)

// AllStreams selects every stream of a target.
const AllStreams = "*"

// TargetsStreams selects targets and, per target, streams. A nil (or
// empty) selection means the flow's own targets with all their streams.
// A target mapped to no stream ids, or to AllStreams, selects all of its
// streams.
type TargetsStreams map[string][]string

// ParseTargetsStreams parses "t1,t2:s1+s2" into {t1: [*], t2: [s1 s2]}.
// An empty string yields a nil selection.
func ParseTargetsStreams(raw string) (TargetsStreams, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	out := make(TargetsStreams)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, streams, hasStreams := strings.Cut(part, ":")
		if id == "" {
			return nil, fmt.Errorf("invalid target selection %q", part)
		}
		if !hasStreams {
			out[id] = []string{AllStreams}
			continue
		}
		for _, s := range strings.Split(streams, "+") {
			if s = strings.TrimSpace(s); s != "" {
				out[id] = append(out[id], s)
			}
		}
		if len(out[id]) == 0 {
			return nil, fmt.Errorf("invalid target selection %q: no streams", part)
		}
	}
	return out, nil
}

// Selects reports whether the selection includes targetID.
func (ts TargetsStreams) Selects(targetID string) bool {
	if len(ts) == 0 {
		return true
	}
	_, ok := ts[targetID]
	return ok
}

// TargetIDs returns the selected target ids, sorted.
func (ts TargetsStreams) TargetIDs() []string {
	out := make([]string, 0, len(ts))
	for id := range ts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// StreamsFor resolves the selected streams of t in declaration order of
// the selection. Unknown stream ids fail with NOT_FOUND.
func (ts TargetsStreams) StreamsFor(t *ir.Target) ([]*ir.Stream, error) {
	ids := ts[t.ID]
	if len(ids) == 0 || containsString(ids, AllStreams) {
		return t.Streams(), nil
	}
	out := make([]*ir.Stream, 0, len(ids))
	for _, id := range ids {
		s, err := t.Stream(id)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

// PossibleTargetIDs returns the flow targets the selection keeps, in flow
// order. A nil selection keeps them all.
func PossibleTargetIDs(ts TargetsStreams, flowTargets []string) []string {
	out := make([]string, 0, len(flowTargets))
	for _, id := range flowTargets {
		if ts.Selects(id) {
			out = append(out, id)
		}
	}
	return out
}

// FirstNonEmpty returns preferred unless it is empty.
func FirstNonEmpty(preferred, fallback []string) []string {
	if len(preferred) > 0 {
		return preferred
	}
	return fallback
}

// IsPair reports whether entry has the "source:target" form.
func IsPair(entry string) bool {
	return strings.Contains(entry, ":")
}

// ParsePair splits a "source:target" entry.
func ParsePair(entry string) (source, target string, err error) {
	source, target, ok := strings.Cut(entry, ":")
	if !ok || source == "" || target == "" || strings.Contains(target, ":") {
		return "", "", fmt.Errorf("invalid target pair %q: want source:target", entry)
	}
	return source, target, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
