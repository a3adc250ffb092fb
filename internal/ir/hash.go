package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// The version suffix allows algorithm migration.
const (
	DomainEntry = "rollout/entry/v1"
	DomainState = "rollout/state/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EntryID derives a stable id for a generated history or changelog entry.
// The id depends only on the entry type and the given fields.
func EntryID(entryType string, fields map[string]any) (string, error) {
	obj := map[string]any{
		"type":   entryType,
		"fields": fields,
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EntryID: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainEntry, canonical)[:16], nil
}

// StreamFingerprint hashes the observable content of a stream state: the
// version and the ids and statuses of its history entries. Ver and
// IsSyncing are excluded, so two reads of unchanged external state agree.
func StreamFingerprint(s *StreamState) (string, error) {
	obj := map[string]any{
		"ref":      s.Ref.Key(),
		"version":  s.Version,
		"action":   entryKeys(s.History.Action),
		"artifact": entryKeys(s.History.Artifact),
		"change":   entryKeys(s.History.Change),
	}
	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("StreamFingerprint: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}

func entryKeys(entries []HistoryEntry) []any {
	out := make([]any, len(entries))
	for i, e := range entries {
		out[i] = e.Type + "/" + e.ID + "/" + e.Status
	}
	return out
}
