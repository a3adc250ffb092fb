package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/roach88/rollout/internal/ir"
)

const (
	streamPrefix = "stream/"
	targetPrefix = "target/"
)

// Store is a BadgerDB-backed snapshot store. Safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Config configures Open.
type Config struct {
	// Dir holds the database files. Ignored when InMemory is set.
	Dir string

	// InMemory keeps everything in memory. Used by tests.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// Logger receives badger's internal logs. Nil silences them.
	Logger *slog.Logger
}

// Open opens or creates a snapshot store.
func Open(cfg Config) (*Store, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Dir == "" {
			return nil, errors.New("snapshot dir is required")
		}
		if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
			return nil, fmt.Errorf("create snapshot dir %s: %w", cfg.Dir, err)
		}
		opts = badger.DefaultOptions(cfg.Dir)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.Default()
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open snapshot store: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// OpenInMemory opens an in-memory store.
func OpenInMemory() (*Store, error) {
	return Open(Config{InMemory: true})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveStream stores a stream state under its ref. Older Ver values never
// replace newer ones.
func (s *Store) SaveStream(ctx context.Context, st *ir.StreamState) error {
	return s.put(ctx, streamPrefix+st.Ref.Key(), st.Ver, st)
}

// LoadStream returns the stored state of a stream.
func (s *Store) LoadStream(ctx context.Context, ref ir.Ref) (*ir.StreamState, bool, error) {
	var st ir.StreamState
	ok, err := s.get(ctx, streamPrefix+ref.Key(), &st)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &st, true, nil
}

// SaveTarget stores a target state, including its stream states.
// Extension state is not persisted.
func (s *Store) SaveTarget(ctx context.Context, st *ir.TargetState) error {
	return s.put(ctx, targetPrefix+st.Ref.Key(), st.Ver, st)
}

// LoadTarget returns the stored state of a target.
func (s *Store) LoadTarget(ctx context.Context, ref ir.Ref) (*ir.TargetState, bool, error) {
	st := ir.NewTargetState(ref)
	ok, err := s.get(ctx, targetPrefix+ref.Key(), st)
	if err != nil || !ok {
		return nil, ok, err
	}
	if st.Streams == nil {
		st.Streams = make(map[string]*ir.StreamState)
	}
	if st.Extensions == nil {
		st.Extensions = make(map[string]any)
	}
	return st, true, nil
}

// Keys returns the stored keys with the given prefix ("stream/",
// "target/" or "" for all), in key order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	keys := []string{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

type envelope struct {
	Ver   int64           `json:"ver"`
	State json.RawMessage `json:"state"`
}

func (s *Store) put(ctx context.Context, key string, ver int64, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", key, err)
	}
	rec, err := json.Marshal(envelope{Ver: ver, State: data})
	if err != nil {
		return fmt.Errorf("encode snapshot %s: %w", key, err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			var cur envelope
			if err := item.Value(func(val []byte) error { return json.Unmarshal(val, &cur) }); err != nil {
				return fmt.Errorf("decode snapshot %s: %w", key, err)
			}
			if cur.Ver > ver {
				s.logger.Debug("snapshot skipped, stored ver is newer", "key", key, "stored", cur.Ver, "ver", ver)
				return nil
			}
		}
		return txn.Set([]byte(key), rec)
	})
}

func (s *Store) get(ctx context.Context, key string, into any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			var rec envelope
			if err := json.Unmarshal(val, &rec); err != nil {
				return err
			}
			return json.Unmarshal(rec.State, into)
		})
	})
	if err != nil {
		return false, fmt.Errorf("read snapshot %s: %w", key, err)
	}
	return found, nil
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
