package versioning

import (
	"sort"
	"sync"

	"github.com/roach88/rollout/internal/ir"
)

// Bump selects how a version is incremented.
type Bump int

const (
	BumpPatch Bump = iota + 1
	BumpMinor
	BumpPrePatch
	BumpPreMinor
	BumpPrerelease
)

// String implements fmt.Stringer.
func (b Bump) String() string {
	switch b {
	case BumpPatch:
		return "patch"
	case BumpMinor:
		return "minor"
	case BumpPrePatch:
		return "prepatch"
	case BumpPreMinor:
		return "preminor"
	case BumpPrerelease:
		return "prerelease"
	default:
		return "unknown"
	}
}

// Strategy is a versioning scheme.
type Strategy interface {
	// ID is the name targets use to select the strategy.
	ID() string

	// Seed is the first version assigned when none is stored.
	// An empty seed means the strategy never assigns versions.
	Seed() string

	// Next computes the version after current. preID is the prerelease
	// identifier for the pre* bumps and may be empty.
	Next(current string, bump Bump, preID string) (string, error)

	// Format renders raw through a template. Strategies return raw
	// unchanged when it cannot be parsed.
	Format(raw, format string) string
}

// Registry maps strategy ids to strategies. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry creates a registry holding the given strategies.
func NewRegistry(strategies ...Strategy) *Registry {
	r := &Registry{strategies: make(map[string]Strategy)}
	for _, s := range strategies {
		r.Register(s)
	}
	return r
}

// DefaultRegistry holds the built-in semver and none strategies.
func DefaultRegistry() *Registry {
	return NewRegistry(Semver{}, None{})
}

// Register adds or replaces a strategy.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.ID()] = s
}

// Get returns the strategy with the given id or a NOT_FOUND LookupError.
func (r *Registry) Get(id string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[id]
	if !ok {
		return nil, ir.NewNotFoundError("versioning strategy", id, ir.Ref{})
	}
	return s, nil
}

// IDs returns the registered ids, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.strategies))
	for id := range r.strategies {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
