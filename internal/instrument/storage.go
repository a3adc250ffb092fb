package instrument

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/rollout/internal/store"
)

// WrapStorage returns vars decorated with logging and metrics.
func WrapStorage(vars store.Vars, m *Metrics, logger *slog.Logger) store.Vars {
	if logger == nil {
		logger = slog.Default()
	}
	return &storage{next: vars, metrics: m, logger: logger}
}

type storage struct {
	next    store.Vars
	metrics *Metrics
	logger  *slog.Logger
}

func (s *storage) observe(ctx context.Context, op, key string, start time.Time, err error) {
	s.metrics.StorageOps.WithLabelValues(op, status(err)).Inc()
	s.metrics.StorageDuration.WithLabelValues(op).Observe(since(start))
	if err != nil {
		s.logger.WarnContext(ctx, "storage call failed", "op", op, "key", key, "error", err)
	}
}

func (s *storage) VarGet(ctx context.Context, key string) (string, bool, error) {
	start := time.Now()
	v, ok, err := s.next.VarGet(ctx, key)
	s.observe(ctx, "get", key, start, err)
	return v, ok, err
}

func (s *storage) VarSet(ctx context.Context, key, value string) error {
	start := time.Now()
	err := s.next.VarSet(ctx, key, value)
	s.observe(ctx, "set", key, start, err)
	return err
}

func (s *storage) VarAdd(ctx context.Context, key, value string, limit int) ([]string, error) {
	start := time.Now()
	list, err := s.next.VarAdd(ctx, key, value, limit)
	s.observe(ctx, "add", key, start, err)
	return list, err
}

func (s *storage) VarInc(ctx context.Context, key string, delta int64) (int64, error) {
	start := time.Now()
	n, err := s.next.VarInc(ctx, key, delta)
	s.observe(ctx, "inc", key, start, err)
	return n, err
}
