package release

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/keylock"
	"github.com/roach88/rollout/internal/store"
)

// Var kinds used for release documents.
const (
	KindRelease    = "release"
	KindReleaseVer = "release-ver"
)

// ErrStaleWrite is returned when saving a document older than the
// persisted one.
var ErrStaleWrite = errors.New("stale release document")

// Repository persists release documents in the var store, one per target.
type Repository struct {
	vars  store.Vars
	locks *keylock.Map
}

// NewRepository creates a repository over vars.
func NewRepository(vars store.Vars) *Repository {
	return &Repository{vars: vars, locks: keylock.New()}
}

func docKey(ref ir.Ref) string {
	return store.TargetKey(KindRelease, ref.ProjectID, ref.TargetID)
}

// Load returns the persisted document of a target, or an empty one with
// Ver 0.
func (r *Repository) Load(ctx context.Context, ref ir.Ref, schema *Schema) (*Document, error) {
	raw, ok, err := r.vars.VarGet(ctx, docKey(ref))
	if err != nil {
		return nil, err
	}
	doc := NewDocument(schema)
	if !ok || raw == "" {
		return doc, nil
	}
	if err := json.Unmarshal([]byte(raw), doc); err != nil {
		return nil, fmt.Errorf("decode release document %s: %w", ref.Key(), err)
	}
	if doc.Sections == nil {
		doc.Sections = []*Section{}
	}
	return doc, nil
}

// Save persists doc and assigns it a new Ver. It fails with ErrStaleWrite
// when the persisted document has a higher Ver than doc.
func (r *Repository) Save(ctx context.Context, ref ir.Ref, doc *Document) error {
	unlock, err := r.locks.Lock(ctx, docKey(ref))
	if err != nil {
		return err
	}
	defer unlock()
	return r.save(ctx, ref, doc)
}

func (r *Repository) save(ctx context.Context, ref ir.Ref, doc *Document) error {
	persisted, err := r.Load(ctx, ref, nil)
	if err != nil {
		return err
	}
	if persisted.Ver > doc.Ver {
		return fmt.Errorf("%w: %s has ver %d, write based on ver %d", ErrStaleWrite, ref.Key(), persisted.Ver, doc.Ver)
	}

	ver, err := r.vars.VarInc(ctx, store.TargetKey(KindReleaseVer, ref.ProjectID, ref.TargetID), 1)
	if err != nil {
		return err
	}
	prev := doc.Ver
	doc.Ver = ver
	data, err := json.Marshal(doc)
	if err != nil {
		doc.Ver = prev
		return fmt.Errorf("encode release document %s: %w", ref.Key(), err)
	}
	if err := r.vars.VarSet(ctx, docKey(ref), string(data)); err != nil {
		doc.Ver = prev
		return err
	}
	return nil
}

// Update loads the document, applies fn and saves it while holding the
// target's lock.
func (r *Repository) Update(ctx context.Context, ref ir.Ref, schema *Schema, fn func(*Document) error) (*Document, error) {
	unlock, err := r.locks.Lock(ctx, docKey(ref))
	if err != nil {
		return nil, err
	}
	defer unlock()

	doc, err := r.Load(ctx, ref, schema)
	if err != nil {
		return nil, err
	}
	if err := fn(doc); err != nil {
		return nil, err
	}
	if err := r.save(ctx, ref, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// Newer returns whichever document has the higher Ver; a on ties.
func Newer(a, b *Document) *Document {
	if a == nil {
		return b
	}
	if b == nil || a.Ver >= b.Ver {
		return a
	}
	return b
}
