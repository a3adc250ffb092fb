package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/roach88/rollout/internal/artifact"
	"github.com/roach88/rollout/internal/integration"
	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/keylock"
)

// DefaultCacheSize bounds each state cache.
const DefaultCacheSize = 4096

// VersionReader provides current versions. *versioning.Engine satisfies it.
type VersionReader interface {
	GetCurrent(ctx context.Context, t *ir.Target, format string) (string, bool, error)
	GetCurrentStream(ctx context.Context, s *ir.Stream, format string) (string, bool, error)
}

// ArtifactRunner produces artifacts into a stream state.
// *artifact.Resolver satisfies it.
type ArtifactRunner interface {
	Run(ctx context.Context, req artifact.Request, state *ir.StreamState, params map[string]any, scopes ir.Scopes) error
}

// SnapshotStore persists produced states across restarts.
// *snapshot.Store satisfies it.
type SnapshotStore interface {
	LoadStream(ctx context.Context, ref ir.Ref) (*ir.StreamState, bool, error)
	SaveStream(ctx context.Context, st *ir.StreamState) error
	LoadTarget(ctx context.Context, ref ir.Ref) (*ir.TargetState, bool, error)
	SaveTarget(ctx context.Context, st *ir.TargetState) error
}

// RereadContext carries optional per-read inputs. A non-nil Artifact runs
// the artifact producers after the integration read.
type RereadContext struct {
	Artifact *artifact.Request
	Params   map[string]any
}

// Synchronizer produces stream, target and project state on demand.
type Synchronizer struct {
	project      *ir.Project
	integrations *integration.Registry
	versions     VersionReader
	artifacts    ArtifactRunner
	snapshots    SnapshotStore
	bus          *Bus
	clock        *Clock
	logger       *slog.Logger
	now          func() time.Time

	cacheTTL  time.Duration
	cacheSize int

	locks   *keylock.Map
	streams *expirable.LRU[string, *ir.StreamState]
	targets *expirable.LRU[string, *ir.TargetState]

	// warmed records keys already looked up in the snapshot store, so
	// snapshots only seed the first read of a key after startup.
	warmed sync.Map

	pendingMu sync.Mutex
	pending   []ir.SyncRequest
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithVersions sets the version source used when an integration reports
// no version.
func WithVersions(v VersionReader) Option {
	return func(s *Synchronizer) { s.versions = v }
}

// WithArtifacts sets the artifact runner.
func WithArtifacts(r ArtifactRunner) Option {
	return func(s *Synchronizer) { s.artifacts = r }
}

// WithSnapshots enables the persisted state cache.
func WithSnapshots(store SnapshotStore) Option {
	return func(s *Synchronizer) { s.snapshots = store }
}

// WithBus sets the event bus. By default events go to an empty bus.
func WithBus(b *Bus) Option {
	return func(s *Synchronizer) { s.bus = b }
}

// WithClock sets the Ver source.
func WithClock(c *Clock) Option {
	return func(s *Synchronizer) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Synchronizer) { s.logger = l }
}

// WithCacheTTL expires clean cache entries after ttl. Zero keeps them until
// evicted by size.
func WithCacheTTL(ttl time.Duration) Option {
	return func(s *Synchronizer) { s.cacheTTL = ttl }
}

// WithCacheSize bounds the number of cached states per kind.
func WithCacheSize(n int) Option {
	return func(s *Synchronizer) { s.cacheSize = n }
}

// WithNow sets the wall clock used for pending request timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Synchronizer) { s.now = now }
}

// New creates a Synchronizer for project.
func New(project *ir.Project, integrations *integration.Registry, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		project:      project,
		integrations: integrations,
		clock:        NewClock(),
		logger:       slog.Default(),
		now:          time.Now,
		cacheSize:    DefaultCacheSize,
		locks:        keylock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bus == nil {
		s.bus = NewBus(s.logger)
	}
	s.streams = expirable.NewLRU[string, *ir.StreamState](s.cacheSize, nil, s.cacheTTL)
	s.targets = expirable.NewLRU[string, *ir.TargetState](s.cacheSize, nil, s.cacheTTL)
	return s
}

// Project returns the project being synchronized.
func (s *Synchronizer) Project() *ir.Project {
	return s.project
}

// Bus returns the event bus.
func (s *Synchronizer) Bus() *Bus {
	return s.bus
}

// CachedStream returns the cached state of a stream without reading.
func (s *Synchronizer) CachedStream(ref ir.Ref) (*ir.StreamState, bool) {
	return s.streams.Get(ref.Key())
}

// CachedTarget returns the cached state of a target without reading.
func (s *Synchronizer) CachedTarget(ref ir.Ref) (*ir.TargetState, bool) {
	return s.targets.Get(ref.Key())
}

func streamLockKey(ref ir.Ref) string { return "stream:" + ref.Key() }
func targetLockKey(ref ir.Ref) string { return "target:" + ref.Key() }

// RereadStream returns the state of stream.
//
// A clean stream with no requested scopes is served from the cache. Any
// other call fetches fresh state; sub-histories whose scope was not
// requested are carried over from the cached state. Concurrent calls for
// the same stream are serialized; callers that waited on a fetch get the
// cached result of that fetch.
//
// The dirty flag is claimed before the integration read. A MarkDirty that
// lands during the read stays set; a failed read restores a claimed flag.
func (s *Synchronizer) RereadStream(ctx context.Context, stream *ir.Stream, scopes ir.Scopes, rctx *RereadContext) (*ir.StreamState, error) {
	st, _, err := s.rereadStream(ctx, stream, scopes, rctx)
	return st, err
}

// rereadStream is RereadStream that also reports whether any step of the
// recompute failed, so RereadTarget can keep its own flag set.
func (s *Synchronizer) rereadStream(ctx context.Context, stream *ir.Stream, scopes ir.Scopes, rctx *RereadContext) (*ir.StreamState, bool, error) {
	svc, err := s.integrations.ForStream(stream)
	if err != nil {
		return nil, false, err
	}

	ref := stream.Ref()
	unlock, err := s.locks.Lock(ctx, streamLockKey(ref))
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	cached := s.cachedStream(ctx, ref)
	if cached != nil && !stream.IsDirty() && scopes.Empty() {
		return cached, false, nil
	}
	wasDirty := stream.TakeDirty()

	effective := scopes
	if effective.Empty() {
		effective = ir.Scopes{ir.ScopeAll}
	}
	wants := func(x ir.Scope) bool {
		return effective.Wants(x) || effective.Wants(ir.ScopeResync)
	}

	logger := s.logger.With("project", ref.ProjectID, "target", ref.TargetID, "stream", ref.StreamID)
	s.bus.Fire(ctx, Event{Name: EventStreamRereadStarted, Ref: ref, Stream: stream, StreamState: cached})

	next := ir.NewStreamState(ref)
	if cached != nil {
		next = cached.Clone()
	}
	failed := false

	fresh, err := svc.StreamGetState(ctx, stream, effective)
	if err != nil {
		logger.Warn("stream read failed", "scopes", effective.Strings(), "error", err)
		failed = true
	} else {
		if wants(ir.ScopeChange) {
			next.History.Change = fresh.History.Change
		}
		if wants(ir.ScopeAction) {
			next.History.Action = fresh.History.Action
		}
		if wants(ir.ScopeArtifact) {
			next.History.Artifact = fresh.History.Artifact
		}
		next.Version = fresh.Version
		normalizeHistory(next)
	}

	if !failed && rctx != nil && rctx.Artifact != nil && s.artifacts != nil && wants(ir.ScopeArtifact) {
		next.IsSyncing = true
		s.streams.Add(ref.Key(), next)
		if err := s.artifacts.Run(ctx, *rctx.Artifact, next, rctx.Params, effective); err != nil {
			logger.Warn("artifact run failed", "error", err)
			failed = true
		}
		next.IsSyncing = false
	}

	if !failed && next.Version == "" && s.versions != nil {
		v, ok, err := s.versions.GetCurrentStream(ctx, stream, "")
		switch {
		case err != nil:
			logger.Warn("stream version read failed", "error", err)
			failed = true
		case ok:
			next.Version = v
		}
	}

	next.IsSyncing = false
	next.Ver = s.clock.Next()
	if failed && wasDirty {
		stream.MarkDirty()
	}
	s.storeStream(ctx, next)
	logger.Debug("stream reread", "scopes", effective.Strings(), "ver", next.Ver, "failed", failed)

	s.bus.Fire(ctx, Event{Name: EventStreamRereadFinished, Ref: ref, Stream: stream, StreamState: next})
	return next, failed, nil
}

// RereadTarget returns the state of target and all its streams.
//
// A dirty target forces a full resync of its streams. Extensions receive
// target.reread.started before the streams are read and
// target.reread.finished once the state is complete. If any stream or the
// target version fails to read, the target stays dirty so the next read
// retries the resync.
func (s *Synchronizer) RereadTarget(ctx context.Context, target *ir.Target, scopes ir.Scopes) (*ir.TargetState, error) {
	ref := target.Ref()
	unlock, err := s.locks.Lock(ctx, targetLockKey(ref))
	if err != nil {
		return nil, err
	}
	defer unlock()

	cached := s.cachedTarget(ctx, ref)
	if cached != nil && scopes.Empty() && !target.IsDirty() && !anyStreamDirty(target) {
		return cached, nil
	}

	wasDirty := target.TakeDirty()
	streamScopes := scopes
	if wasDirty {
		streamScopes = streamScopes.With(ir.ScopeResync)
	}

	logger := s.logger.With("project", ref.ProjectID, "target", ref.TargetID)

	next := ir.NewTargetState(ref)
	if cached != nil {
		next.Extensions = cached.Clone().Extensions
	}
	s.bus.Fire(ctx, Event{Name: EventTargetRereadStarted, Ref: ref, Target: target, TargetState: next})

	failed := false
	for _, stream := range target.Streams() {
		st, streamFailed, err := s.rereadStream(ctx, stream, streamScopes, s.rereadContext(stream))
		if err != nil {
			if wasDirty {
				target.MarkDirty()
			}
			return nil, err
		}
		failed = failed || streamFailed
		next.SetStream(stream.ID, st)
	}

	if s.versions != nil {
		v, ok, err := s.versions.GetCurrent(ctx, target, "")
		switch {
		case err != nil:
			logger.Warn("target version read failed", "error", err)
			failed = true
			if cached != nil {
				next.Version = cached.Version
			}
		case ok:
			next.Version = v
		}
	}

	next.Ver = s.clock.Next()
	s.bus.Fire(ctx, Event{Name: EventTargetRereadFinished, Ref: ref, Target: target, TargetState: next})

	if failed && wasDirty {
		target.MarkDirty()
	}
	s.storeTarget(ctx, next)
	logger.Debug("target reread", "scopes", scopes.Strings(), "ver", next.Ver, "streams", len(next.StreamOrder))
	return next, nil
}

// RereadProject rereads every target in declaration order. Pending sync
// requests are reported but not processed.
func (s *Synchronizer) RereadProject(ctx context.Context, scopes ir.Scopes) (*ir.ProjectState, error) {
	ps := ir.NewProjectState(s.project.ID)
	for _, target := range s.project.Targets() {
		ts, err := s.RereadTarget(ctx, target, scopes)
		if err != nil {
			return nil, err
		}
		ps.SetTarget(target.ID, ts)
	}
	ps.Pending = s.Pending()
	return ps, nil
}

func (s *Synchronizer) rereadContext(stream *ir.Stream) *RereadContext {
	if len(stream.Artifacts) == 0 {
		return nil
	}
	return &RereadContext{
		Artifact: &artifact.Request{
			ArtifactIDs: stream.Artifacts,
			Ref:         stream.Ref(),
			Context:     artifact.NewContext(),
		},
		Params: stream.Config,
	}
}

func anyStreamDirty(t *ir.Target) bool {
	for _, s := range t.Streams() {
		if s.IsDirty() {
			return true
		}
	}
	return false
}

func normalizeHistory(st *ir.StreamState) {
	if st.History.Change == nil {
		st.History.Change = []ir.HistoryEntry{}
	}
	if st.History.Action == nil {
		st.History.Action = []ir.HistoryEntry{}
	}
	if st.History.Artifact == nil {
		st.History.Artifact = []ir.HistoryEntry{}
	}
}

func (s *Synchronizer) cachedStream(ctx context.Context, ref ir.Ref) *ir.StreamState {
	key := ref.Key()
	if st, ok := s.streams.Get(key); ok {
		return st
	}
	if s.snapshots == nil {
		return nil
	}
	if _, seen := s.warmed.LoadOrStore(streamLockKey(ref), true); seen {
		return nil
	}
	st, ok, err := s.snapshots.LoadStream(ctx, ref)
	if err != nil {
		s.logger.Warn("snapshot load failed", "ref", key, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	st.IsSyncing = false
	s.clock.Observe(st.Ver)
	s.streams.Add(key, st)
	return st
}

func (s *Synchronizer) cachedTarget(ctx context.Context, ref ir.Ref) *ir.TargetState {
	key := ref.Key()
	if st, ok := s.targets.Get(key); ok {
		return st
	}
	if s.snapshots == nil {
		return nil
	}
	if _, seen := s.warmed.LoadOrStore(targetLockKey(ref), true); seen {
		return nil
	}
	st, ok, err := s.snapshots.LoadTarget(ctx, ref)
	if err != nil {
		s.logger.Warn("snapshot load failed", "ref", key, "error", err)
		return nil
	}
	if !ok {
		return nil
	}
	s.clock.Observe(st.Ver)
	s.targets.Add(key, st)
	return st
}

func (s *Synchronizer) storeStream(ctx context.Context, st *ir.StreamState) {
	s.streams.Add(st.Ref.Key(), st)
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.SaveStream(ctx, st); err != nil {
		s.logger.Warn("snapshot save failed", "ref", st.Ref.Key(), "error", err)
	}
}

func (s *Synchronizer) storeTarget(ctx context.Context, st *ir.TargetState) {
	s.targets.Add(st.Ref.Key(), st)
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.SaveTarget(ctx, st); err != nil {
		s.logger.Warn("snapshot save failed", "ref", st.Ref.Key(), "error", err)
	}
}
