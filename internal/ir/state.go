package ir

import (
	"maps"
	"time"
)

// HistoryEntry is one observed fact about a stream: a change (commit), an
// artifact (build output, generated note) or an action (job run).
type HistoryEntry struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Author      string         `json:"author,omitempty"`
	Description string         `json:"description,omitempty"`
	Link        string         `json:"link,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Status      string         `json:"status,omitempty"`
	Time        time.Time      `json:"time,omitzero"`
}

// StreamHistory groups the ordered history lists of a stream.
type StreamHistory struct {
	Action   []HistoryEntry `json:"action"`
	Artifact []HistoryEntry `json:"artifact"`
	Change   []HistoryEntry `json:"change"`
}

// StreamState is the observed state of one stream.
type StreamState struct {
	Ref       Ref           `json:"ref"`
	History   StreamHistory `json:"history"`
	Version   string        `json:"version,omitempty"`
	IsSyncing bool          `json:"is_syncing"`
	Ver       int64         `json:"ver"`
}

// NewStreamState returns an empty state with non-nil history lists.
func NewStreamState(ref Ref) *StreamState {
	return &StreamState{
		Ref: ref,
		History: StreamHistory{
			Action:   []HistoryEntry{},
			Artifact: []HistoryEntry{},
			Change:   []HistoryEntry{},
		},
	}
}

// Clone returns a copy whose history slices can be mutated independently.
func (s *StreamState) Clone() *StreamState {
	if s == nil {
		return nil
	}
	c := *s
	c.History = StreamHistory{
		Action:   cloneEntries(s.History.Action),
		Artifact: cloneEntries(s.History.Artifact),
		Change:   cloneEntries(s.History.Change),
	}
	return &c
}

// PushArtifact appends an artifact entry.
func (s *StreamState) PushArtifact(e HistoryEntry) {
	s.History.Artifact = append(s.History.Artifact, e)
}

// PushArtifactUniq upserts an artifact entry keyed by (ID, Type).
// On update, non-empty fields replace the stored ones and non-nil metadata
// values are merged key by key.
func (s *StreamState) PushArtifactUniq(e HistoryEntry) {
	for i := range s.History.Artifact {
		cur := &s.History.Artifact[i]
		if cur.ID != e.ID || cur.Type != e.Type {
			continue
		}
		if e.Author != "" {
			cur.Author = e.Author
		}
		if e.Description != "" {
			cur.Description = e.Description
		}
		if e.Link != "" {
			cur.Link = e.Link
		}
		if e.Status != "" {
			cur.Status = e.Status
		}
		if !e.Time.IsZero() {
			cur.Time = e.Time
		}
		for k, v := range e.Metadata {
			if v == nil {
				continue
			}
			if cur.Metadata == nil {
				cur.Metadata = make(map[string]any)
			}
			cur.Metadata[k] = v
		}
		return
	}
	s.PushArtifact(e)
}

// TargetState is the observed state of a target and its streams.
type TargetState struct {
	Ref         Ref                     `json:"ref"`
	Version     string                  `json:"version,omitempty"`
	Streams     map[string]*StreamState `json:"streams"`
	StreamOrder []string                `json:"stream_order"`
	Ver         int64                   `json:"ver"`

	// Extensions holds per-extension state keyed by extension id. Extensions
	// persist their own state, so it is not part of snapshots.
	Extensions map[string]any `json:"-"`
}

// NewTargetState returns an empty target state.
func NewTargetState(ref Ref) *TargetState {
	return &TargetState{
		Ref:        ref,
		Streams:    make(map[string]*StreamState),
		Extensions: make(map[string]any),
	}
}

// IsSyncing is true iff any child stream state is syncing.
func (t *TargetState) IsSyncing() bool {
	for _, s := range t.Streams {
		if s != nil && s.IsSyncing {
			return true
		}
	}
	return false
}

// SetStream stores a stream state, keeping first-seen order.
func (t *TargetState) SetStream(id string, s *StreamState) {
	if _, ok := t.Streams[id]; !ok {
		t.StreamOrder = append(t.StreamOrder, id)
	}
	t.Streams[id] = s
}

// OrderedStreams returns stream states in stream order.
func (t *TargetState) OrderedStreams() []*StreamState {
	out := make([]*StreamState, 0, len(t.StreamOrder))
	for _, id := range t.StreamOrder {
		if s := t.Streams[id]; s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Clone returns a shallow copy with its own maps. Stream states are shared.
func (t *TargetState) Clone() *TargetState {
	if t == nil {
		return nil
	}
	c := *t
	c.Streams = maps.Clone(t.Streams)
	c.StreamOrder = append([]string{}, t.StreamOrder...)
	c.Extensions = maps.Clone(t.Extensions)
	if c.Extensions == nil {
		c.Extensions = make(map[string]any)
	}
	return &c
}

// SyncRequest asks for a batch resync of one target, optionally limited to
// some streams.
type SyncRequest struct {
	TargetID    string    `json:"target_id"`
	StreamIDs   []string  `json:"stream_ids,omitempty"`
	Scopes      Scopes    `json:"scopes,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

// ProjectState aggregates target states and pending sync requests.
type ProjectState struct {
	ProjectID   string                  `json:"project_id"`
	Targets     map[string]*TargetState `json:"targets"`
	TargetOrder []string                `json:"target_order"`
	Pending     []SyncRequest           `json:"pending,omitempty"`
}

// NewProjectState returns an empty project state.
func NewProjectState(projectID string) *ProjectState {
	return &ProjectState{
		ProjectID: projectID,
		Targets:   make(map[string]*TargetState),
	}
}

// SetTarget stores a target state, keeping first-seen order.
func (p *ProjectState) SetTarget(id string, t *TargetState) {
	if _, ok := p.Targets[id]; !ok {
		p.TargetOrder = append(p.TargetOrder, id)
	}
	p.Targets[id] = t
}

func cloneEntries(in []HistoryEntry) []HistoryEntry {
	out := make([]HistoryEntry, len(in))
	copy(out, in)
	return out
}
