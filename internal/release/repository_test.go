package release

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/testutil"
)

var prodRef = ir.Ref{ProjectID: "shop", TargetID: "prod"}

func TestRepositoryLoadEmpty(t *testing.T) {
	repo := NewRepository(testutil.NewMemoryVars())

	doc, err := repo.Load(context.Background(), prodRef, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), doc.Ver)
	assert.NotNil(t, doc.Sections)
}

func TestRepositorySaveAssignsVer(t *testing.T) {
	ctx := context.Background()
	vars := testutil.NewMemoryVars()
	repo := NewRepository(vars)

	doc := NewDocument(nil)
	doc.SetSection(Section{ID: "intro", Type: "text", Description: "hello", Level: Level(0)}, false)
	require.NoError(t, repo.Save(ctx, prodRef, doc))
	assert.Equal(t, int64(1), doc.Ver)

	require.NoError(t, repo.Save(ctx, prodRef, doc))
	assert.Equal(t, int64(2), doc.Ver)

	loaded, err := repo.Load(ctx, prodRef, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.Ver)
	require.Len(t, loaded.Sections, 1)
	assert.Equal(t, "hello", loaded.Sections[0].Description)

	assert.Contains(t, vars.Snapshot(), "release:shop:prod")
}

func TestRepositoryRejectsStaleWrite(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testutil.NewMemoryVars())

	a, err := repo.Load(ctx, prodRef, nil)
	require.NoError(t, err)
	b, err := repo.Load(ctx, prodRef, nil)
	require.NoError(t, err)

	require.NoError(t, repo.Save(ctx, prodRef, a))
	err = repo.Save(ctx, prodRef, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrStaleWrite))
	assert.Equal(t, int64(0), b.Ver)
}

func TestRepositoryUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewRepository(testutil.NewMemoryVars())

	doc, err := repo.Update(ctx, prodRef, nil, func(d *Document) error {
		d.SetSection(Section{ID: "deploy", Type: SectionOp}, false)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.Ver)

	boom := errors.New("boom")
	_, err = repo.Update(ctx, prodRef, nil, func(d *Document) error { return boom })
	assert.ErrorIs(t, err, boom)

	loaded, err := repo.Load(ctx, prodRef, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), loaded.Ver)
}

func TestRepositoryPropagatesStorageErrors(t *testing.T) {
	vars := testutil.NewMemoryVars()
	vars.Err = errors.New("disk full")
	repo := NewRepository(vars)

	_, err := repo.Load(context.Background(), prodRef, nil)
	assert.EqualError(t, err, "disk full")
}

func TestNewer(t *testing.T) {
	a := &Document{Ver: 3}
	b := &Document{Ver: 5}
	assert.Same(t, b, Newer(a, b))
	assert.Same(t, b, Newer(b, a))
	assert.Same(t, a, Newer(a, nil))
	assert.Same(t, a, Newer(nil, a))
	assert.Same(t, a, Newer(a, &Document{Ver: 3}))
}
