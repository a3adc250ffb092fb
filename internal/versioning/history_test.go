package versioning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func entries(versions ...string) []HistoryEntry {
	out := make([]HistoryEntry, len(versions))
	for i, v := range versions {
		out[i] = HistoryEntry{ID: "t", Version: v}
	}
	return out
}

func versionsOf(h []HistoryEntry) []string {
	out := make([]string, len(h))
	for i, e := range h {
		out[i] = e.Version
	}
	return out
}

func TestAppendHistory_Dedup(t *testing.T) {
	h := appendHistory(entries("1", "2", "3"), HistoryEntry{Version: "2"})
	assert.Equal(t, []string{"1", "3", "2"}, versionsOf(h))
}

func TestPopVersion(t *testing.T) {
	h, prev := popVersion(entries("1", "2", "3"), "3")
	assert.Equal(t, "2", prev)
	assert.Equal(t, []string{"1", "2"}, versionsOf(h))

	h, prev = popVersion(entries("1"), "1")
	assert.Equal(t, "", prev)
	assert.Empty(t, h)

	h, prev = popVersion(entries("1", "2"), "9")
	assert.Equal(t, "2", prev, "unknown current falls back to the newest entry")
	assert.Len(t, h, 2)

	_, prev = popVersion(nil, "")
	assert.Equal(t, "", prev)
}
