package artifact

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/roach88/rollout/internal/ir"
)

// Context is the mutable value bag shared by all producers of one Run.
type Context struct {
	mu     sync.Mutex
	values map[string]any
}

// NewContext creates an empty Context.
func NewContext() *Context {
	return &Context{values: make(map[string]any)}
}

// Get returns the value stored under key.
func (c *Context) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// Set stores a value under key.
func (c *Context) Set(key string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = v
}

// Request asks for a set of artifacts to be produced for a stream.
type Request struct {
	ArtifactIDs []string
	Ref         ir.Ref

	// Context is shared with the caller; nil creates a fresh one.
	Context *Context
}

// Job is what a producer receives for one artifact.
type Job struct {
	Artifact *ir.Artifact
	Ref      ir.Ref
	Context  *Context
}

// Producer computes one artifact into a stream state.
type Producer interface {
	Run(ctx context.Context, job Job, state *ir.StreamState, params map[string]any, scopes ir.Scopes) error
}

// ProducerFunc adapts a function to Producer.
type ProducerFunc func(ctx context.Context, job Job, state *ir.StreamState, params map[string]any, scopes ir.Scopes) error

// Run implements Producer.
func (f ProducerFunc) Run(ctx context.Context, job Job, state *ir.StreamState, params map[string]any, scopes ir.Scopes) error {
	return f(ctx, job, state, params, scopes)
}

// Registry maps artifact types to producers.
type Registry struct {
	mu        sync.RWMutex
	producers map[string]Producer
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{producers: make(map[string]Producer)}
}

// DefaultRegistry holds the built-in producers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(TypeStatic, Static{})
	r.Register(TypeChangesSummary, ChangesSummary{})
	return r
}

// Register adds or replaces the producer for typ.
func (r *Registry) Register(typ string, p Producer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[typ] = p
}

// Get returns the producer for typ: exact match first, then the longest
// registered dotted prefix.
func (r *Registry) Get(typ string) (Producer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.producers[typ]; ok {
		return p, nil
	}
	best := ""
	for k := range r.producers {
		if ir.MatchType(k, typ, false) && len(k) > len(best) {
			best = k
		}
	}
	if best == "" {
		return nil, ir.NewNotFoundError("artifact producer", typ, ir.Ref{})
	}
	return r.producers[best], nil
}

// Types returns the registered types, sorted.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.producers))
	for k := range r.producers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Resolver runs producers for artifacts declared in a project.
type Resolver struct {
	project   *ir.Project
	producers *Registry
	logger    *slog.Logger
}

// NewResolver creates a resolver. A nil logger uses slog.Default().
func NewResolver(project *ir.Project, producers *Registry, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{project: project, producers: producers, logger: logger}
}

// Run produces each requested artifact after its transitive dependencies,
// in declaration order, each at most once. Unknown artifacts and producer
// types fail with NOT_FOUND; producer errors stop the run and are returned.
func (r *Resolver) Run(ctx context.Context, req Request, state *ir.StreamState, params map[string]any, scopes ir.Scopes) error {
	shared := req.Context
	if shared == nil {
		shared = NewContext()
	}

	done := make(map[string]bool)
	inFlight := make(map[string]bool)

	var visit func(id string, path []string) error
	visit = func(id string, path []string) error {
		if done[id] {
			return nil
		}
		if inFlight[id] {
			// The compiler rejects cycles; this guards hand-built projects.
			return fmt.Errorf("artifact dependency cycle: %v", append(path, id))
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		art, err := r.project.Artifact(id)
		if err != nil {
			return err
		}
		inFlight[id] = true
		for _, dep := range art.DependsOn {
			if err := visit(dep, append(path, id)); err != nil {
				return err
			}
		}

		producer, err := r.producers.Get(art.Type)
		if err != nil {
			return err
		}
		job := Job{Artifact: art, Ref: req.Ref, Context: shared}
		if err := producer.Run(ctx, job, state, params, scopes); err != nil {
			return fmt.Errorf("artifact %q: %w", id, err)
		}
		r.logger.Debug("artifact produced", "ref", req.Ref.Key(), "artifact", id, "type", art.Type)

		inFlight[id] = false
		done[id] = true
		return nil
	}

	for _, id := range req.ArtifactIDs {
		if err := visit(id, nil); err != nil {
			return err
		}
	}
	return nil
}
