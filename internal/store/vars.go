package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Vars is the key/value contract consumed by the versioning engine and the
// release extension. *Store implements it; decorators in internal/instrument
// wrap it.
type Vars interface {
	// VarGet returns the value and whether the key exists.
	VarGet(ctx context.Context, key string) (string, bool, error)

	// VarSet stores a value, replacing any previous one.
	VarSet(ctx context.Context, key, value string) error

	// VarAdd appends value to the JSON string list stored at key and returns
	// the resulting list. With limit > 0 the oldest items are dropped so that
	// at most limit remain.
	VarAdd(ctx context.Context, key, value string, limit int) ([]string, error)

	// VarInc adds delta to the integer stored at key (missing = 0) and
	// returns the new value.
	VarInc(ctx context.Context, key string, delta int64) (int64, error)
}

var _ Vars = (*Store)(nil)

// TargetKey builds a target-scoped var key.
func TargetKey(kind, projectID, ns string) string {
	return strings.Join([]string{kind, projectID, ns}, ":")
}

// StreamKey builds a stream-scoped var key.
func StreamKey(kind, projectID, ns, streamID string) string {
	return strings.Join([]string{kind, projectID, ns, streamID}, ":")
}

// VarGet implements Vars.
func (s *Store) VarGet(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM vars WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("var get %q: %w", key, err)
	}
	return value, true, nil
}

// VarSet implements Vars.
func (s *Store) VarSet(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vars (key, value, seq) VALUES (?, ?, 1)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, seq = vars.seq + 1
	`, key, value)
	if err != nil {
		return fmt.Errorf("var set %q: %w", key, err)
	}
	return nil
}

// VarAdd implements Vars.
func (s *Store) VarAdd(ctx context.Context, key, value string, limit int) ([]string, error) {
	var list []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT value FROM vars WHERE key = ?`, key).Scan(&raw)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			list = []string{}
		case err != nil:
			return err
		default:
			if err := json.Unmarshal([]byte(raw), &list); err != nil {
				return fmt.Errorf("value is not a list: %w", err)
			}
		}

		list = append(list, value)
		if limit > 0 && len(list) > limit {
			list = list[len(list)-limit:]
		}

		encoded, err := json.Marshal(list)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO vars (key, value, seq) VALUES (?, ?, 1)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, seq = vars.seq + 1
		`, key, string(encoded))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("var add %q: %w", key, err)
	}
	return list, nil
}

// VarInc implements Vars.
func (s *Store) VarInc(ctx context.Context, key string, delta int64) (int64, error) {
	var next int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var raw string
		err := tx.QueryRowContext(ctx, `SELECT value FROM vars WHERE key = ?`, key).Scan(&raw)
		var cur int64
		switch {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return err
		default:
			cur, err = strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return fmt.Errorf("value is not an integer: %w", err)
			}
		}

		next = cur + delta
		_, err = tx.ExecContext(ctx, `
			INSERT INTO vars (key, value, seq) VALUES (?, ?, 1)
			ON CONFLICT(key) DO UPDATE SET value = excluded.value, seq = vars.seq + 1
		`, key, strconv.FormatInt(next, 10))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("var inc %q: %w", key, err)
	}
	return next, nil
}
