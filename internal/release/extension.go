package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/syncer"
)

// ExtensionID is the key of the release document in TargetState.Extensions.
const ExtensionID = "release"

// Extension keeps each target's release document in step with its stream
// states. On target.reread.started it loads the document into the target
// state; on target.reread.finished it folds every stream's artifacts and
// changes into the stream sections and persists the result.
type Extension struct {
	repo   *Repository
	schema *Schema
	logger *slog.Logger
	now    func() time.Time
}

var _ syncer.Extension = (*Extension)(nil)

// ExtensionOption configures an Extension.
type ExtensionOption func(*Extension)

// WithSchema sets the schema applied to folded items.
func WithSchema(s *Schema) ExtensionOption {
	return func(e *Extension) { e.schema = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ExtensionOption {
	return func(e *Extension) { e.logger = l }
}

// WithNow sets the clock used for status timestamps.
func WithNow(now func() time.Time) ExtensionOption {
	return func(e *Extension) { e.now = now }
}

// NewExtension creates the release extension.
func NewExtension(repo *Repository, opts ...ExtensionOption) *Extension {
	e := &Extension{repo: repo, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ID implements syncer.Extension.
func (e *Extension) ID() string {
	return ExtensionID
}

// HandleEvent implements syncer.Extension.
func (e *Extension) HandleEvent(ctx context.Context, ev syncer.Event) error {
	switch ev.Name {
	case syncer.EventTargetRereadStarted:
		doc, err := e.repo.Load(ctx, ev.Ref, e.schema)
		if err != nil {
			return err
		}
		prev, _ := ev.TargetState.Extensions[ExtensionID].(*Document)
		ev.TargetState.Extensions[ExtensionID] = Newer(doc, prev)
		return nil

	case syncer.EventTargetRereadFinished:
		doc, _ := ev.TargetState.Extensions[ExtensionID].(*Document)
		if doc == nil {
			loaded, err := e.repo.Load(ctx, ev.Ref, e.schema)
			if err != nil {
				return err
			}
			doc = loaded
		}
		doc.SetSchema(e.schema)
		fold(doc, ev.TargetState)

		err := e.repo.Save(ctx, ev.Ref, doc)
		if errors.Is(err, ErrStaleWrite) {
			e.logger.Debug("release document changed concurrently, refolding", "target", ev.Ref.Key())
			doc, err = e.repo.Update(ctx, ev.Ref, e.schema, func(d *Document) error {
				fold(d, ev.TargetState)
				return nil
			})
		}
		if err != nil {
			return fmt.Errorf("save release document: %w", err)
		}
		ev.TargetState.Extensions[ExtensionID] = doc
		return nil
	}
	return nil
}

// FromTargetState returns the release document stored in a target state.
func FromTargetState(ts *ir.TargetState) (*Document, bool) {
	if ts == nil {
		return nil, false
	}
	doc, ok := ts.Extensions[ExtensionID].(*Document)
	return doc, ok && doc != nil
}

// SetStatus updates and persists the document status of a target.
func (e *Extension) SetStatus(ctx context.Context, ref ir.Ref, status string) (*Document, error) {
	return e.repo.Update(ctx, ref, e.schema, func(d *Document) error {
		d.SetStatus(status, e.now())
		return nil
	})
}

// ResetType removes all sections of a type and persists the document.
func (e *Extension) ResetType(ctx context.Context, ref ir.Ref, typ string) (*Document, error) {
	return e.repo.Update(ctx, ref, e.schema, func(d *Document) error {
		d.ResetType(typ)
		return nil
	})
}

// Mutate applies fn to the persisted document of a target.
func (e *Extension) Mutate(ctx context.Context, ref ir.Ref, fn func(*Document) error) (*Document, error) {
	return e.repo.Update(ctx, ref, e.schema, fn)
}

// Load returns the persisted document of a target.
func (e *Extension) Load(ctx context.Context, ref ir.Ref) (*Document, error) {
	return e.repo.Load(ctx, ref, e.schema)
}

func fold(doc *Document, ts *ir.TargetState) {
	for _, st := range ts.OrderedStreams() {
		doc.SetSectionByStreamID(st.Ref.StreamID, StreamEntries{
			Artifacts: entriesFromHistory(st.History.Artifact),
			Changes:   entriesFromHistory(st.History.Change),
		}, true, false)
	}
}

func entriesFromHistory(in []ir.HistoryEntry) []Entry {
	out := make([]Entry, 0, len(in))
	for _, h := range in {
		out = append(out, Entry{
			ID:          h.ID,
			Type:        h.Type,
			Description: h.Description,
			Link:        h.Link,
			Author:      h.Author,
			Metadata:    h.Metadata,
		})
	}
	return out
}
