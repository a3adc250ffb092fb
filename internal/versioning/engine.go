package versioning

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/keylock"
	"github.com/roach88/rollout/internal/store"
)

// Var kinds used for versioning keys.
const (
	KindVersion = "version"
	KindHistory = "version-history"
)

// DefaultCacheTTL bounds how long a read may be served from cache.
const DefaultCacheTTL = 2 * time.Second

// Params tunes a bump.
type Params struct {
	// ReleaseName turns the bump into a prerelease with this identifier.
	ReleaseName string
}

// Engine computes and persists versions. Safe for concurrent use.
type Engine struct {
	vars       store.Vars
	strategies *Registry
	logger     *slog.Logger
	now        func() time.Time
	ttl        time.Duration

	cache *expirable.LRU[string, cachedValue]
	group singleflight.Group
	locks *keylock.Map

	// gens counts invalidations per key. A read only caches its value if
	// no invalidation happened since it started.
	genMu sync.Mutex
	gens  map[string]uint64
}

type cachedValue struct {
	value string
	ok    bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithCacheTTL sets the read cache TTL. Zero or negative disables caching.
func WithCacheTTL(ttl time.Duration) Option {
	return func(e *Engine) { e.ttl = ttl }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithNow sets the time source for history entries.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine over a var store.
func New(vars store.Vars, strategies *Registry, opts ...Option) *Engine {
	e := &Engine{
		vars:       vars,
		strategies: strategies,
		logger:     slog.Default(),
		now:        time.Now,
		ttl:        DefaultCacheTTL,
		locks:      keylock.New(),
		gens:       make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.ttl > 0 {
		e.cache = expirable.NewLRU[string, cachedValue](1024, nil, e.ttl)
	}
	return e
}

// slot addresses the storage of one versioned entity.
type slot struct {
	ref        ir.Ref
	entityID   string
	versionKey string
	historyKey string
	strategy   Strategy
	stream     bool
}

func (e *Engine) targetSlot(t *ir.Target) (slot, error) {
	strategy, err := e.strategies.Get(t.Versioning)
	if err != nil {
		return slot{}, err
	}
	project := t.Ref().ProjectID
	return slot{
		ref:        t.Ref(),
		entityID:   t.ID,
		versionKey: store.TargetKey(KindVersion, project, t.Namespace()),
		historyKey: store.TargetKey(KindHistory, project, t.Namespace()),
		strategy:   strategy,
	}, nil
}

func (e *Engine) streamSlot(s *ir.Stream) (slot, error) {
	t := s.Target()
	if t == nil {
		return slot{}, ir.NewNotFoundError("target", s.Ref().TargetID, s.Ref())
	}
	strategy, err := e.strategies.Get(t.Versioning)
	if err != nil {
		return slot{}, err
	}
	project := s.Ref().ProjectID
	return slot{
		ref:        s.Ref(),
		entityID:   s.ID,
		versionKey: store.StreamKey(KindVersion, project, t.Namespace(), s.ID),
		historyKey: store.StreamKey(KindHistory, project, t.Namespace(), s.ID),
		strategy:   strategy,
		stream:     true,
	}, nil
}

// GetCurrent returns the current target version, formatted when format is
// non-empty. ok is false when the target has no version.
func (e *Engine) GetCurrent(ctx context.Context, t *ir.Target, format string) (string, bool, error) {
	sl, err := e.targetSlot(t)
	if err != nil {
		return "", false, err
	}
	return e.current(ctx, sl, format)
}

// GetCurrentStream is GetCurrent for a stream.
func (e *Engine) GetCurrentStream(ctx context.Context, s *ir.Stream, format string) (string, bool, error) {
	sl, err := e.streamSlot(s)
	if err != nil {
		return "", false, err
	}
	return e.current(ctx, sl, format)
}

func (e *Engine) current(ctx context.Context, sl slot, format string) (string, bool, error) {
	raw, ok, err := e.read(ctx, sl.versionKey)
	if err != nil {
		return "", false, err
	}
	if !ok || raw == "" {
		return "", false, nil
	}
	return sl.strategy.Format(raw, format), true, nil
}

// Patch bumps the target patch version, or a prepatch when a release name
// is given. An unversioned target is seeded instead.
func (e *Engine) Patch(ctx context.Context, t *ir.Target, p Params) (string, error) {
	sl, err := e.targetSlot(t)
	if err != nil {
		return "", err
	}
	bump := BumpPatch
	if p.ReleaseName != "" {
		bump = BumpPrePatch
	}
	return e.bump(ctx, sl, bump, p.ReleaseName)
}

// Release bumps the target minor version, or a preminor when a release
// name is given.
func (e *Engine) Release(ctx context.Context, t *ir.Target, p Params) (string, error) {
	sl, err := e.targetSlot(t)
	if err != nil {
		return "", err
	}
	bump := BumpMinor
	if p.ReleaseName != "" {
		bump = BumpPreMinor
	}
	return e.bump(ctx, sl, bump, p.ReleaseName)
}

// PatchStream bumps the stream patch version. A release name makes it a
// prerelease bump.
func (e *Engine) PatchStream(ctx context.Context, s *ir.Stream, p Params) (string, error) {
	sl, err := e.streamSlot(s)
	if err != nil {
		return "", err
	}
	bump := BumpPatch
	if p.ReleaseName != "" {
		bump = BumpPrerelease
	}
	return e.bump(ctx, sl, bump, p.ReleaseName)
}

// ReleaseStream bumps the stream minor version. A release name makes it a
// prerelease bump.
func (e *Engine) ReleaseStream(ctx context.Context, s *ir.Stream, p Params) (string, error) {
	sl, err := e.streamSlot(s)
	if err != nil {
		return "", err
	}
	bump := BumpMinor
	if p.ReleaseName != "" {
		bump = BumpPrerelease
	}
	return e.bump(ctx, sl, bump, p.ReleaseName)
}

func (e *Engine) bump(ctx context.Context, sl slot, bump Bump, preID string) (string, error) {
	unlock, err := e.locks.Lock(ctx, sl.versionKey)
	if err != nil {
		return "", err
	}
	defer unlock()

	cur, _, err := e.vars.VarGet(ctx, sl.versionKey)
	if err != nil {
		return "", err
	}

	var next string
	if cur == "" {
		next = sl.strategy.Seed()
	} else {
		next, err = sl.strategy.Next(cur, bump, preID)
		if err != nil {
			return "", err
		}
	}
	if next == "" || next == cur {
		return next, nil
	}

	if err := e.persist(ctx, sl, next, sl.entityID); err != nil {
		return "", err
	}
	e.logger.Info("version bumped",
		"ref", sl.ref.Key(),
		"bump", bump.String(),
		"from", cur,
		"to", next,
	)
	return next, nil
}

// Override copies the source target version onto the target. A source
// without a version yields InitialVersion.
func (e *Engine) Override(ctx context.Context, source, target *ir.Target) (string, error) {
	src, err := e.targetSlot(source)
	if err != nil {
		return "", err
	}
	dst, err := e.targetSlot(target)
	if err != nil {
		return "", err
	}
	return e.override(ctx, src, dst)
}

// OverrideStream copies the source stream version onto the target stream.
func (e *Engine) OverrideStream(ctx context.Context, source, target *ir.Stream) (string, error) {
	src, err := e.streamSlot(source)
	if err != nil {
		return "", err
	}
	dst, err := e.streamSlot(target)
	if err != nil {
		return "", err
	}
	return e.override(ctx, src, dst)
}

func (e *Engine) override(ctx context.Context, src, dst slot) (string, error) {
	version, _, err := e.vars.VarGet(ctx, src.versionKey)
	if err != nil {
		return "", err
	}
	if version == "" {
		version = InitialVersion
	}

	unlock, err := e.locks.Lock(ctx, dst.versionKey)
	if err != nil {
		return "", err
	}
	defer unlock()

	if err := e.persist(ctx, dst, version, src.entityID); err != nil {
		return "", err
	}
	e.logger.Info("version overridden", "ref", dst.ref.Key(), "source", src.ref.Key(), "version", version)
	return version, nil
}

// Rollback pops the history entry of the current target version. The
// preceding entry becomes current; ok is false when none remains.
func (e *Engine) Rollback(ctx context.Context, t *ir.Target) (string, bool, error) {
	sl, err := e.targetSlot(t)
	if err != nil {
		return "", false, err
	}
	return e.rollback(ctx, sl)
}

// RollbackStream is Rollback for a stream.
func (e *Engine) RollbackStream(ctx context.Context, s *ir.Stream) (string, bool, error) {
	sl, err := e.streamSlot(s)
	if err != nil {
		return "", false, err
	}
	return e.rollback(ctx, sl)
}

func (e *Engine) rollback(ctx context.Context, sl slot) (string, bool, error) {
	unlock, err := e.locks.Lock(ctx, sl.versionKey)
	if err != nil {
		return "", false, err
	}
	defer unlock()

	cur, _, err := e.vars.VarGet(ctx, sl.versionKey)
	if err != nil {
		return "", false, err
	}
	history, err := e.loadHistory(ctx, sl.historyKey)
	if err != nil {
		return "", false, err
	}

	history, prev := popVersion(history, cur)
	if err := e.saveHistory(ctx, sl.historyKey, history); err != nil {
		return "", false, err
	}
	if err := e.vars.VarSet(ctx, sl.versionKey, prev); err != nil {
		return "", false, err
	}
	e.invalidate(sl)

	e.logger.Info("version rolled back", "ref", sl.ref.Key(), "from", cur, "to", prev)
	return prev, prev != "", nil
}

// History returns the target version history, oldest first.
func (e *Engine) History(ctx context.Context, t *ir.Target) ([]HistoryEntry, error) {
	sl, err := e.targetSlot(t)
	if err != nil {
		return nil, err
	}
	return e.loadHistory(ctx, sl.historyKey)
}

// StreamHistory returns the stream version history, oldest first.
func (e *Engine) StreamHistory(ctx context.Context, s *ir.Stream) ([]HistoryEntry, error) {
	sl, err := e.streamSlot(s)
	if err != nil {
		return nil, err
	}
	return e.loadHistory(ctx, sl.historyKey)
}

// persist appends to history then sets the current version. Callers hold
// the slot lock.
func (e *Engine) persist(ctx context.Context, sl slot, version, sourceID string) error {
	history, err := e.loadHistory(ctx, sl.historyKey)
	if err != nil {
		return err
	}
	history = appendHistory(history, HistoryEntry{ID: sourceID, At: e.now().UTC(), Version: version})
	if err := e.saveHistory(ctx, sl.historyKey, history); err != nil {
		return err
	}
	if err := e.vars.VarSet(ctx, sl.versionKey, version); err != nil {
		return err
	}
	e.invalidate(sl)
	return nil
}

func (e *Engine) loadHistory(ctx context.Context, key string) ([]HistoryEntry, error) {
	raw, ok, err := e.vars.VarGet(ctx, key)
	if err != nil {
		return nil, err
	}
	history := []HistoryEntry{}
	if !ok || raw == "" {
		return history, nil
	}
	if err := json.Unmarshal([]byte(raw), &history); err != nil {
		return nil, fmt.Errorf("decode version history %q: %w", key, err)
	}
	return history, nil
}

func (e *Engine) saveHistory(ctx context.Context, key string, history []HistoryEntry) error {
	data, err := json.Marshal(history)
	if err != nil {
		return fmt.Errorf("encode version history %q: %w", key, err)
	}
	return e.vars.VarSet(ctx, key, string(data))
}

// read serves a var from cache, coalescing concurrent misses per key.
func (e *Engine) read(ctx context.Context, key string) (string, bool, error) {
	if e.cache != nil {
		if v, hit := e.cache.Get(key); hit {
			return v.value, v.ok, nil
		}
	}
	res, err, _ := e.group.Do(key, func() (any, error) {
		gen := e.generation(key)
		value, ok, err := e.vars.VarGet(ctx, key)
		if err != nil {
			return nil, err
		}
		cv := cachedValue{value: value, ok: ok}
		e.cacheIfCurrent(key, gen, cv)
		return cv, nil
	})
	if err != nil {
		return "", false, err
	}
	cv := res.(cachedValue)
	return cv.value, cv.ok, nil
}

func (e *Engine) generation(key string) uint64 {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	return e.gens[key]
}

// cacheIfCurrent stores cv unless key was invalidated after gen was taken.
func (e *Engine) cacheIfCurrent(key string, gen uint64, cv cachedValue) {
	if e.cache == nil {
		return
	}
	e.genMu.Lock()
	defer e.genMu.Unlock()
	if e.gens[key] != gen {
		return
	}
	e.cache.Add(key, cv)
}

func (e *Engine) invalidate(sl slot) {
	e.genMu.Lock()
	e.gens[sl.versionKey]++
	if e.cache != nil {
		e.cache.Remove(sl.versionKey)
	}
	e.genMu.Unlock()
	e.group.Forget(sl.versionKey)
}
