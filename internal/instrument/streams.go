package instrument

import (
	"context"
	"log/slog"
	"time"

	"github.com/roach88/rollout/internal/integration"
	"github.com/roach88/rollout/internal/ir"
)

// WrapStreamService returns a middleware that logs and measures every
// StreamService call. A nil logger uses slog.Default().
func WrapStreamService(m *Metrics, logger *slog.Logger) integration.Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	return func(streamType string, next integration.StreamService) integration.StreamService {
		return &streamService{next: next, streamType: streamType, metrics: m, logger: logger}
	}
}

type streamService struct {
	next       integration.StreamService
	streamType string
	metrics    *Metrics
	logger     *slog.Logger
}

func (s *streamService) observe(ctx context.Context, op string, stream *ir.Stream, start time.Time, err error) {
	s.metrics.IntegrationCalls.WithLabelValues(s.streamType, op, status(err)).Inc()
	s.metrics.IntegrationDuration.WithLabelValues(s.streamType, op).Observe(since(start))

	ref := stream.Ref()
	if err != nil {
		s.logger.WarnContext(ctx, "integration call failed",
			"op", op, "stream_type", s.streamType, "target", ref.TargetID, "stream", ref.StreamID, "error", err)
		return
	}
	s.logger.DebugContext(ctx, "integration call",
		"op", op, "stream_type", s.streamType, "target", ref.TargetID, "stream", ref.StreamID,
		"duration", time.Since(start))
}

func (s *streamService) StreamGetState(ctx context.Context, stream *ir.Stream, scopes ir.Scopes) (*ir.StreamState, error) {
	start := time.Now()
	st, err := s.next.StreamGetState(ctx, stream, scopes)
	s.observe(ctx, "get_state", stream, start, err)
	return st, err
}

func (s *streamService) StreamBookmark(ctx context.Context, stream *ir.Stream, name string) error {
	start := time.Now()
	err := s.next.StreamBookmark(ctx, stream, name)
	s.observe(ctx, "bookmark", stream, start, err)
	return err
}

func (s *streamService) StreamDetach(ctx context.Context, stream *ir.Stream) error {
	start := time.Now()
	err := s.next.StreamDetach(ctx, stream)
	s.observe(ctx, "detach", stream, start, err)
	return err
}

func (s *streamService) StreamMove(ctx context.Context, source, target *ir.Stream, opts integration.MoveOptions) error {
	start := time.Now()
	err := s.next.StreamMove(ctx, source, target, opts)
	s.observe(ctx, "move", target, start, err)
	return err
}
