package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/roach88/rollout/internal/ir"
)

// Call is one action applied to one target.
type Call struct {
	RunID  string
	Actor  string
	Flow   *ir.Flow
	Action *ir.Action

	Target *ir.Target

	// Source is set for "source:target" pair entries.
	Source *ir.Target

	// Streams are the selected streams of Target.
	Streams []*ir.Stream
}

// StreamIDs returns the ids of the selected streams.
func (c Call) StreamIDs() []string {
	out := make([]string, len(c.Streams))
	for i, s := range c.Streams {
		out[i] = s.ID
	}
	return out
}

// Handler executes one action call.
type Handler interface {
	Execute(ctx context.Context, call Call) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, call Call) error

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, call Call) error {
	return f(ctx, call)
}

// ActionRegistry maps action types to handlers.
type ActionRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewActionRegistry creates an empty registry.
func NewActionRegistry() *ActionRegistry {
	return &ActionRegistry{handlers: make(map[string]Handler)}
}

// Register adds or replaces the handler for typ.
func (r *ActionRegistry) Register(typ string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[typ] = h
}

// Get returns the handler for typ.
func (r *ActionRegistry) Get(typ string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[typ]
	return h, ok
}

// Types returns the registered action types, sorted.
func (r *ActionRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func paramBool(a *ir.Action, key string) bool {
	b, _ := a.Params[key].(bool)
	return b
}

// paramStrings accepts a string, a []string or a []any of strings.
func paramStrings(a *ir.Action, key string) []string {
	switch v := a.Params[key].(type) {
	case string:
		return []string{v}
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
