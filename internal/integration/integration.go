package integration

import (
	"context"
	"sort"
	"sync"

	"github.com/roach88/rollout/internal/ir"
)

// MoveOptions tunes StreamMove.
type MoveOptions struct {
	// Force allows a move that is not a fast-forward.
	Force bool

	// Actor is recorded by integrations that keep an audit trail.
	Actor string
}

// StreamService is implemented once per stream type.
type StreamService interface {
	// StreamGetState reads fresh state from the external system. Scopes
	// tell the integration which sub-histories are wanted; it may return
	// more. Version may be left empty.
	StreamGetState(ctx context.Context, stream *ir.Stream, scopes ir.Scopes) (*ir.StreamState, error)

	// StreamBookmark records the current position of the stream under name.
	StreamBookmark(ctx context.Context, stream *ir.Stream, name string) error

	// StreamDetach releases the stream from its tracked position.
	StreamDetach(ctx context.Context, stream *ir.Stream) error

	// StreamMove makes target point at the position of source.
	StreamMove(ctx context.Context, source, target *ir.Stream, opts MoveOptions) error
}

// Middleware decorates a StreamService registered for streamType.
type Middleware func(streamType string, next StreamService) StreamService

// Registry maps stream types to services. Middlewares added with Use are
// applied when a service is registered, so register services after Use.
type Registry struct {
	mu          sync.RWMutex
	services    map[string]StreamService
	middlewares []Middleware
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{services: make(map[string]StreamService)}
}

// Use appends middlewares. The first middleware is the outermost.
func (r *Registry) Use(mw ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middlewares = append(r.middlewares, mw...)
}

// Register installs svc for streamType, wrapped by the registered middlewares.
func (r *Registry) Register(streamType string, svc StreamService) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		svc = r.middlewares[i](streamType, svc)
	}
	r.services[streamType] = svc
}

// ForStream returns the service for the stream's type. An exact type match
// wins; otherwise the longest registered dotted prefix is used ("git"
// serves "git.github"). Returns a NOT_FOUND LookupError when none applies.
func (r *Registry) ForStream(s *ir.Stream) (StreamService, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if svc, ok := r.services[s.Type]; ok {
		return svc, nil
	}
	best := ""
	for typ := range r.services {
		if ir.MatchType(typ, s.Type, false) && len(typ) > len(best) {
			best = typ
		}
	}
	if best == "" {
		return nil, ir.NewNotFoundError("stream service", s.Type, s.Ref())
	}
	return r.services[best], nil
}

// Types returns the registered stream types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.services))
	for typ := range r.services {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}
