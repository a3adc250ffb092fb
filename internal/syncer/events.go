package syncer

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/rollout/internal/ir"
)

// EventName identifies a reread lifecycle event.
type EventName string

const (
	EventTargetRereadStarted  EventName = "target.reread.started"
	EventTargetRereadFinished EventName = "target.reread.finished"
	EventStreamRereadStarted  EventName = "stream.reread.started"
	EventStreamRereadFinished EventName = "stream.reread.finished"
)

// Event is delivered to extensions. Target events carry Target and
// TargetState; stream events carry Stream and StreamState.
type Event struct {
	Name EventName
	Ref  ir.Ref

	Target      *ir.Target
	TargetState *ir.TargetState

	Stream      *ir.Stream
	StreamState *ir.StreamState
}

// Extension observes reread events. Extensions may keep their own state
// in TargetState.Extensions under their ID.
type Extension interface {
	ID() string
	HandleEvent(ctx context.Context, ev Event) error
}

// Bus delivers events to extensions in registration order. Extension
// errors are logged and swallowed.
type Bus struct {
	mu         sync.RWMutex
	extensions []Extension
	logger     *slog.Logger
}

// NewBus creates an empty bus. A nil logger uses slog.Default().
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// Register appends an extension.
func (b *Bus) Register(ext Extension) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.extensions = append(b.extensions, ext)
}

// Extensions returns the registered extension IDs in order.
func (b *Bus) Extensions() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, len(b.extensions))
	for i, ext := range b.extensions {
		ids[i] = ext.ID()
	}
	return ids
}

// Fire delivers ev to every extension.
func (b *Bus) Fire(ctx context.Context, ev Event) {
	b.mu.RLock()
	exts := append([]Extension{}, b.extensions...)
	b.mu.RUnlock()

	for _, ext := range exts {
		if err := ext.HandleEvent(ctx, ev); err != nil {
			b.logger.Warn("extension failed",
				"extension", ext.ID(),
				"event", string(ev.Name),
				"ref", ev.Ref.Key(),
				"error", err)
		}
	}
}
