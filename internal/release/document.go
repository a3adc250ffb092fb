package release

import (
	"time"
)

// Section types used by rollout itself.
const (
	SectionStream = "stream"
	SectionOp     = "op"
)

// Entry is one changelog item.
type Entry struct {
	ID          string         `json:"id"`
	Type        string         `json:"type,omitempty"`
	Description string         `json:"description,omitempty"`
	Link        string         `json:"link,omitempty"`
	Author      string         `json:"author,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	IsSystem    bool           `json:"is_system,omitempty"`
}

// ChangelogEntry groups the items contributed under one id (a stream id
// for stream sections).
type ChangelogEntry struct {
	ID        string  `json:"id"`
	Artifacts []Entry `json:"artifacts"`
	Changes   []Entry `json:"changes"`
	Notes     []Entry `json:"notes"`
}

// Section is one block of the release document.
type Section struct {
	ID          string           `json:"id"`
	Type        string           `json:"type"`
	Description string           `json:"description,omitempty"`
	Changelog   []ChangelogEntry `json:"changelog,omitempty"`
	Flows       []string         `json:"flows,omitempty"`

	// Level orders sections; nil sorts after every set level.
	Level *int `json:"level,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
	Status   string         `json:"status,omitempty"`
}

// Level returns a pointer for Section.Level.
func Level(n int) *int {
	return &n
}

// levelLE reports a <= b with nil as +inf.
func levelLE(a, b *int) bool {
	if b == nil {
		return true
	}
	if a == nil {
		return false
	}
	return *a <= *b
}

// Document is a target's release document.
type Document struct {
	Sections []*Section `json:"sections"`
	Status   string     `json:"status,omitempty"`
	StatusAt time.Time  `json:"status_at,omitzero"`

	// Ver is the persisted version of the document. Higher wins.
	Ver int64 `json:"ver"`

	schema *Schema
}

// NewDocument creates an empty document filtered by schema (nil allows all).
func NewDocument(schema *Schema) *Document {
	return &Document{Sections: []*Section{}, schema: schema}
}

// SetSchema replaces the filtering schema.
func (d *Document) SetSchema(schema *Schema) {
	d.schema = schema
}

// GetSection returns the section with the given id and type, or nil.
func (d *Document) GetSection(id, typ string) *Section {
	for _, s := range d.Sections {
		if s.ID == id && s.Type == typ {
			return s
		}
	}
	return nil
}

// SetSection merges patch into the section with the same (ID, Type).
//
// A present section is updated in place: non-empty Description and Status,
// and non-nil Changelog, Flows, Level and Metadata replace the stored
// values. An absent section is ignored when onlyExisting is set, otherwise
// inserted right after the last section whose level is <= the new level.
// Returns the stored section, or nil when nothing was stored.
func (d *Document) SetSection(patch Section, onlyExisting bool) *Section {
	if cur := d.GetSection(patch.ID, patch.Type); cur != nil {
		if patch.Description != "" {
			cur.Description = patch.Description
		}
		if patch.Changelog != nil {
			cur.Changelog = patch.Changelog
		}
		if patch.Flows != nil {
			cur.Flows = patch.Flows
		}
		if patch.Level != nil {
			cur.Level = patch.Level
		}
		if patch.Metadata != nil {
			cur.Metadata = patch.Metadata
		}
		if patch.Status != "" {
			cur.Status = patch.Status
		}
		return cur
	}
	if onlyExisting {
		return nil
	}

	s := patch
	pos := 0
	if s.Level == nil {
		pos = len(d.Sections)
	} else {
		for i, cur := range d.Sections {
			if levelLE(cur.Level, s.Level) {
				pos = i + 1
			}
		}
	}
	d.Sections = append(d.Sections, nil)
	copy(d.Sections[pos+1:], d.Sections[pos:])
	d.Sections[pos] = &s
	return &s
}

// StreamEntries are the items folded into a stream section.
type StreamEntries struct {
	Artifacts []Entry
	Changes   []Entry
	Notes     []Entry
}

// SetSectionByStreamID folds entries into the level-1 stream section for
// streamID, under the changelog entry keyed by streamID. Items are unioned
// by id with existing items winning; new items are tagged with isSystem.
// The document schema filters the items first. Returns nil when the
// section is absent and onlyExisting is set.
func (d *Document) SetSectionByStreamID(streamID string, in StreamEntries, isSystem, onlyExisting bool) *Section {
	sec := d.GetSection(streamID, SectionStream)
	if sec == nil {
		if onlyExisting {
			return nil
		}
		sec = d.SetSection(Section{ID: streamID, Type: SectionStream, Level: Level(1)}, false)
	}

	var cl *ChangelogEntry
	for i := range sec.Changelog {
		if sec.Changelog[i].ID == streamID {
			cl = &sec.Changelog[i]
			break
		}
	}
	if cl == nil {
		sec.Changelog = append(sec.Changelog, ChangelogEntry{
			ID:        streamID,
			Artifacts: []Entry{},
			Changes:   []Entry{},
			Notes:     []Entry{},
		})
		cl = &sec.Changelog[len(sec.Changelog)-1]
	}

	rule := d.schema.rule(SectionStream)
	cl.Artifacts = unionEntries(cl.Artifacts, rule.filter(in.Artifacts, rule.AllowedArtifacts, isSystem), isSystem)
	cl.Changes = unionEntries(cl.Changes, rule.filter(in.Changes, rule.AllowedChanges, isSystem), isSystem)
	cl.Notes = unionEntries(cl.Notes, rule.filter(in.Notes, nil, isSystem), isSystem)
	return sec
}

func unionEntries(existing, incoming []Entry, isSystem bool) []Entry {
	if existing == nil {
		existing = []Entry{}
	}
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[e.ID] = true
	}
	for _, e := range incoming {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		e.IsSystem = isSystem
		existing = append(existing, e)
	}
	return existing
}

// SetStatus sets the document status and its timestamp. Empty or unchanged
// statuses are ignored. Reports whether the document changed.
func (d *Document) SetStatus(status string, at time.Time) bool {
	if status == "" || status == d.Status {
		return false
	}
	d.Status = status
	d.StatusAt = at.UTC()
	return true
}

// ResetType removes every section of the given type and returns how many
// were removed.
func (d *Document) ResetType(typ string) int {
	kept := d.Sections[:0]
	removed := 0
	for _, s := range d.Sections {
		if s.Type == typ {
			removed++
			continue
		}
		kept = append(kept, s)
	}
	for i := len(kept); i < len(d.Sections); i++ {
		d.Sections[i] = nil
	}
	d.Sections = kept
	return removed
}
