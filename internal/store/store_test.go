package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestStore opens a store in a temp dir, closed on cleanup.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file should exist")
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	for i := 0; i < 3; i++ {
		s, err := Open(path)
		require.NoError(t, err, "iteration %d", i)
		s.Close()
	}

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	for _, table := range []string{"vars", "flow_runs", "action_records"} {
		var name string
		err := s.db.QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		assert.NoError(t, err, "table %q missing", table)
	}
}

func TestOpen_Pragmas(t *testing.T) {
	s := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestVarSetGet(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, ok, err := s.VarGet(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.VarSet(ctx, "k", "v1"))
	require.NoError(t, s.VarSet(ctx, "k", "v2"))

	v, ok, err := s.VarGet(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestVarAdd_Bounded(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c", "d"} {
		_, err := s.VarAdd(ctx, "list", v, 3)
		require.NoError(t, err)
	}

	list, err := s.VarAdd(ctx, "list", "e", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "d", "e"}, list)
}

func TestVarAdd_RejectsNonList(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.VarSet(ctx, "scalar", "7"))
	_, err := s.VarAdd(ctx, "scalar", "x", 0)
	assert.Error(t, err)
}

func TestVarInc(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	n, err := s.VarInc(ctx, "counter", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.VarInc(ctx, "counter", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(6), n)

	v, _, err := s.VarGet(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, "6", v)
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "version:shop:dev", TargetKey("version", "shop", "dev"))
	assert.Equal(t, "version:shop:dev:api", StreamKey("version", "shop", "dev", "api"))
	assert.NotEqual(t, TargetKey("version", "shop", "dev"), StreamKey("version", "shop", "dev", ""))
}
