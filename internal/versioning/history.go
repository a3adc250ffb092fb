package versioning

import "time"

// HistoryLimit bounds the number of history entries kept per entity.
const HistoryLimit = 20

// HistoryEntry records one version assignment.
type HistoryEntry struct {
	// ID is the entity that produced the version (the source for overrides).
	ID      string    `json:"id"`
	At      time.Time `json:"at"`
	Version string    `json:"version"`
}

// appendHistory appends e, dropping an earlier entry with the same version
// and the oldest entries beyond HistoryLimit.
func appendHistory(h []HistoryEntry, e HistoryEntry) []HistoryEntry {
	out := make([]HistoryEntry, 0, len(h)+1)
	for _, cur := range h {
		if cur.Version != e.Version {
			out = append(out, cur)
		}
	}
	out = append(out, e)
	if len(out) > HistoryLimit {
		out = out[len(out)-HistoryLimit:]
	}
	return out
}

// popVersion removes the last entry matching version and returns the new
// history and the version now current. When no entry matches, the history
// is kept and the newest entry becomes current.
func popVersion(h []HistoryEntry, version string) ([]HistoryEntry, string) {
	idx := -1
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Version == version {
			idx = i
			break
		}
	}
	if idx < 0 {
		if len(h) == 0 {
			return h, ""
		}
		return h, h[len(h)-1].Version
	}

	prev := ""
	if idx > 0 {
		prev = h[idx-1].Version
	}
	out := make([]HistoryEntry, 0, len(h)-1)
	out = append(out, h[:idx]...)
	out = append(out, h[idx+1:]...)
	return out, prev
}
