package syncer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/rollout/internal/artifact"
	"github.com/roach88/rollout/internal/integration"
	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/snapshot"
	"github.com/roach88/rollout/internal/testutil"
)

type fixture struct {
	project *ir.Project
	target  *ir.Target
	api     *ir.Stream
	web     *ir.Stream
	fake    *testutil.FakeStreamService
	reg     *integration.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	p := ir.NewProject("shop")
	target := ir.NewTarget("prod", "env")
	api := ir.NewStream("api", "git.local")
	web := ir.NewStream("web", "git.local")
	require.NoError(t, target.AddStream(api))
	require.NoError(t, target.AddStream(web))
	require.NoError(t, p.AddTarget(target))

	fake := testutil.NewFakeStreamService()
	reg := integration.NewRegistry()
	reg.Register("git", fake)
	return &fixture{project: p, target: target, api: api, web: web, fake: fake, reg: reg}
}

func changes(ids ...string) []ir.HistoryEntry {
	out := make([]ir.HistoryEntry, len(ids))
	for i, id := range ids {
		out[i] = ir.HistoryEntry{ID: id, Type: "commit", Description: "change " + id}
	}
	return out
}

type fakeVersions struct {
	target map[string]string
	stream map[string]string
	err    error
}

func (f *fakeVersions) GetCurrent(_ context.Context, t *ir.Target, _ string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	v, ok := f.target[t.ID]
	return v, ok, nil
}

func (f *fakeVersions) GetCurrentStream(_ context.Context, s *ir.Stream, _ string) (string, bool, error) {
	if f.err != nil {
		return "", false, f.err
	}
	v, ok := f.stream[s.ID]
	return v, ok, nil
}

func TestRereadStreamServesCacheWhenClean(t *testing.T) {
	f := newFixture(t)
	s := New(f.project, f.reg)
	ctx := context.Background()

	first, err := s.RereadStream(ctx, f.api, nil, nil)
	require.NoError(t, err)
	second, err := s.RereadStream(ctx, f.api, nil, nil)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int64(1), f.fake.GetCalls.Load())
}

func TestRereadStreamSingleFlight(t *testing.T) {
	f := newFixture(t)
	f.fake.Delay = 20 * time.Millisecond
	f.fake.SetState(f.api.Ref(), &ir.StreamState{History: ir.StreamHistory{Change: changes("c1")}})
	s := New(f.project, f.reg)
	f.api.MarkDirty()

	const n = 8
	results := make([]*ir.StreamState, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := s.RereadStream(context.Background(), f.api, nil, nil)
			if assert.NoError(t, err) {
				results[i] = st
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), f.fake.GetCalls.Load())
	for _, st := range results {
		assert.Same(t, results[0], st)
	}
	assert.False(t, f.api.IsDirty())
}

func TestRereadStreamDirtyBypassesCache(t *testing.T) {
	f := newFixture(t)
	s := New(f.project, f.reg)
	ctx := context.Background()

	f.fake.SetState(f.api.Ref(), &ir.StreamState{History: ir.StreamHistory{Change: changes("c1")}})
	first, err := s.RereadStream(ctx, f.api, nil, nil)
	require.NoError(t, err)

	f.fake.SetState(f.api.Ref(), &ir.StreamState{History: ir.StreamHistory{Change: changes("c2", "c1")}})
	f.api.MarkDirty()
	second, err := s.RereadStream(ctx, f.api, nil, nil)
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Len(t, second.History.Change, 2)
	assert.Greater(t, second.Ver, first.Ver)
	assert.False(t, f.api.IsDirty())
	assert.Equal(t, int64(2), f.fake.GetCalls.Load())
}

func TestRereadStreamScopesKeepUnrequestedHistory(t *testing.T) {
	f := newFixture(t)
	s := New(f.project, f.reg)
	ctx := context.Background()

	f.fake.SetState(f.api.Ref(), &ir.StreamState{History: ir.StreamHistory{
		Change: changes("c1"),
		Action: []ir.HistoryEntry{{ID: "job-1", Type: "job"}},
	}})
	_, err := s.RereadStream(ctx, f.api, nil, nil)
	require.NoError(t, err)

	f.fake.SetState(f.api.Ref(), &ir.StreamState{History: ir.StreamHistory{
		Change: changes("c2", "c1"),
		Action: []ir.HistoryEntry{},
	}})
	st, err := s.RereadStream(ctx, f.api, ir.ParseScopes("change"), nil)
	require.NoError(t, err)

	assert.Len(t, st.History.Change, 2)
	require.Len(t, st.History.Action, 1)
	assert.Equal(t, "job-1", st.History.Action[0].ID)
	assert.Equal(t, []ir.Scopes{{ir.ScopeAll}, {ir.ScopeChange}}, f.fake.ScopesSeen())
}

func TestRereadStreamFailureKeepsLastKnownState(t *testing.T) {
	f := newFixture(t)
	s := New(f.project, f.reg)
	ctx := context.Background()

	f.fake.SetState(f.api.Ref(), &ir.StreamState{History: ir.StreamHistory{Change: changes("c1")}})
	good, err := s.RereadStream(ctx, f.api, nil, nil)
	require.NoError(t, err)

	f.fake.SetError(errors.New("remote unavailable"))
	f.api.MarkDirty()
	st, err := s.RereadStream(ctx, f.api, nil, nil)
	require.NoError(t, err)

	assert.False(t, st.IsSyncing)
	assert.Equal(t, good.History.Change, st.History.Change)
	assert.True(t, f.api.IsDirty(), "failed read must leave the stream dirty")

	f.fake.SetError(nil)
	_, err = s.RereadStream(ctx, f.api, nil, nil)
	require.NoError(t, err)
	assert.False(t, f.api.IsDirty())
}

func TestRereadStreamKeepsDirtyMarkedDuringRead(t *testing.T) {
	f := newFixture(t)
	s := New(f.project, f.reg)
	ctx := context.Background()

	var once sync.Once
	f.fake.OnGet = func(st *ir.Stream) {
		once.Do(st.MarkDirty)
	}

	_, err := s.RereadStream(ctx, f.api, nil, nil)
	require.NoError(t, err)
	assert.True(t, f.api.IsDirty(), "a change during the read must survive it")

	_, err = s.RereadStream(ctx, f.api, nil, nil)
	require.NoError(t, err)
	assert.False(t, f.api.IsDirty())
	assert.Equal(t, int64(2), f.fake.GetCalls.Load())
}

func TestRereadTargetStreamFailureKeepsTargetDirty(t *testing.T) {
	f := newFixture(t)
	s := New(f.project, f.reg)
	ctx := context.Background()

	_, err := s.RereadTarget(ctx, f.target, nil)
	require.NoError(t, err)
	require.Equal(t, int64(2), f.fake.GetCalls.Load())

	f.target.MarkDirty()
	f.fake.SetError(errors.New("git down"))
	_, err = s.RereadTarget(ctx, f.target, nil)
	require.NoError(t, err)
	assert.True(t, f.target.IsDirty())
	assert.Equal(t, int64(4), f.fake.GetCalls.Load())

	f.fake.SetError(nil)
	_, err = s.RereadTarget(ctx, f.target, nil)
	require.NoError(t, err)
	assert.False(t, f.target.IsDirty())
	assert.Equal(t, int64(6), f.fake.GetCalls.Load(), "the failed resync is retried")
}

func TestRereadStreamUnknownTypeIsNotFound(t *testing.T) {
	f := newFixture(t)
	s := New(f.project, integration.NewRegistry())

	_, err := s.RereadStream(context.Background(), f.api, nil, nil)
	require.Error(t, err)
	assert.True(t, ir.IsNotFound(err))
}

func TestRereadStreamFillsVersion(t *testing.T) {
	f := newFixture(t)
	versions := &fakeVersions{stream: map[string]string{"api": "1.2.0"}}
	s := New(f.project, f.reg, WithVersions(versions))

	st, err := s.RereadStream(context.Background(), f.api, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "1.2.0", st.Version)

	f.fake.SetState(f.web.Ref(), &ir.StreamState{Version: "9.9.9"})
	st, err = s.RereadStream(context.Background(), f.web, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "9.9.9", st.Version, "integration version wins")
}

func TestRereadStreamRunsArtifacts(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.project.AddArtifact(&ir.Artifact{ID: "summary", Type: artifact.TypeChangesSummary}))
	f.api.Artifacts = []string{"summary"}
	f.fake.SetState(f.api.Ref(), &ir.StreamState{History: ir.StreamHistory{Change: changes("c1", "c2")}})

	var sawSyncing bool
	producers := artifact.DefaultRegistry()
	producers.Register("observer", artifact.ProducerFunc(func(_ context.Context, _ artifact.Job, st *ir.StreamState, _ map[string]any, _ ir.Scopes) error {
		sawSyncing = st.IsSyncing
		return nil
	}))
	require.NoError(t, f.project.AddArtifact(&ir.Artifact{ID: "observer", Type: "observer"}))
	f.api.Artifacts = append(f.api.Artifacts, "observer")

	s := New(f.project, f.reg, WithArtifacts(artifact.NewResolver(f.project, producers, nil)))
	ts, err := s.RereadTarget(context.Background(), f.target, nil)
	require.NoError(t, err)

	st := ts.Streams["api"]
	require.NotNil(t, st)
	require.Len(t, st.History.Artifact, 1)
	assert.Equal(t, "summary", st.History.Artifact[0].ID)
	assert.True(t, sawSyncing)
	assert.False(t, st.IsSyncing)
}

func TestRereadTargetDirtyResyncsStreams(t *testing.T) {
	f := newFixture(t)
	s := New(f.project, f.reg)
	ctx := context.Background()

	_, err := s.RereadTarget(ctx, f.target, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.fake.GetCalls.Load())

	// Clean target: everything served from cache.
	_, err = s.RereadTarget(ctx, f.target, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.fake.GetCalls.Load())

	f.target.MarkDirty()
	ts, err := s.RereadTarget(ctx, f.target, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), f.fake.GetCalls.Load())
	assert.False(t, f.target.IsDirty())
	assert.Equal(t, []string{"api", "web"}, ts.StreamOrder)

	seen := f.fake.ScopesSeen()
	assert.Equal(t, ir.Scopes{ir.ScopeResync}, seen[len(seen)-1])
}

func TestRereadTargetDirtyStreamRefreshesOnlyThatStream(t *testing.T) {
	f := newFixture(t)
	s := New(f.project, f.reg)
	ctx := context.Background()

	_, err := s.RereadTarget(ctx, f.target, nil)
	require.NoError(t, err)

	f.web.MarkDirty()
	_, err = s.RereadTarget(ctx, f.target, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(3), f.fake.GetCalls.Load())
}

func TestRereadTargetVersionFailureKeepsDirty(t *testing.T) {
	f := newFixture(t)
	versions := &fakeVersions{err: errors.New("store down")}
	s := New(f.project, f.reg, WithVersions(versions))

	f.target.MarkDirty()
	ts, err := s.RereadTarget(context.Background(), f.target, nil)
	require.NoError(t, err)
	assert.False(t, ts.IsSyncing())
	assert.True(t, f.target.IsDirty())
}

type recordingExtension struct {
	id     string
	events *[]string
	err    error
}

func (r *recordingExtension) ID() string { return r.id }

func (r *recordingExtension) HandleEvent(_ context.Context, ev Event) error {
	*r.events = append(*r.events, r.id+":"+string(ev.Name))
	if ev.TargetState != nil {
		ev.TargetState.Extensions[r.id] = len(*r.events)
	}
	return r.err
}

func TestRereadTargetFiresEventsInOrder(t *testing.T) {
	f := newFixture(t)
	var events []string
	bus := NewBus(nil)
	bus.Register(&recordingExtension{id: "a", events: &events, err: errors.New("ignored")})
	bus.Register(&recordingExtension{id: "b", events: &events})
	s := New(f.project, f.reg, WithBus(bus))

	ts, err := s.RereadTarget(context.Background(), f.target, nil)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"a:target.reread.started", "b:target.reread.started",
		"a:stream.reread.started", "b:stream.reread.started",
		"a:stream.reread.finished", "b:stream.reread.finished",
		"a:stream.reread.started", "b:stream.reread.started",
		"a:stream.reread.finished", "b:stream.reread.finished",
		"a:target.reread.finished", "b:target.reread.finished",
	}, events)
	assert.Contains(t, ts.Extensions, "a")
	assert.Contains(t, ts.Extensions, "b")
	assert.Equal(t, []string{"a", "b"}, bus.Extensions())
}

func TestRereadProjectInDeclarationOrder(t *testing.T) {
	f := newFixture(t)
	staging := ir.NewTarget("staging", "env")
	require.NoError(t, staging.AddStream(ir.NewStream("api", "git")))
	require.NoError(t, f.project.AddTarget(staging))
	s := New(f.project, f.reg)

	ps, err := s.RereadProject(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "shop", ps.ProjectID)
	assert.Equal(t, []string{"prod", "staging"}, ps.TargetOrder)
	assert.Empty(t, ps.Pending)
}

func TestRequestSyncAndFlush(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New(f.project, f.reg, WithNow(func() time.Time { return now }))
	ctx := context.Background()

	_, err := s.RereadTarget(ctx, f.target, nil)
	require.NoError(t, err)
	calls := f.fake.GetCalls.Load()

	require.NoError(t, s.RequestSync(ir.SyncRequest{TargetID: "prod", StreamIDs: []string{"api"}}))
	require.NoError(t, s.RequestSync(ir.SyncRequest{TargetID: "prod", StreamIDs: []string{"api"}, Scopes: ir.ParseScopes("change")}))

	pending := s.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, now, pending[0].RequestedAt)

	n, err := s.FlushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Empty(t, s.Pending())
	assert.Equal(t, calls+2, f.fake.GetCalls.Load(), "both streams reread once with the merged scope")
	assert.False(t, f.api.IsDirty())
}

func TestRequestSyncUnknownTarget(t *testing.T) {
	f := newFixture(t)
	s := New(f.project, f.reg)

	err := s.RequestSync(ir.SyncRequest{TargetID: "nope"})
	require.Error(t, err)
	assert.True(t, ir.IsNotFound(err))

	err = s.RequestSync(ir.SyncRequest{TargetID: "prod", StreamIDs: []string{"nope"}})
	require.Error(t, err)
	assert.True(t, ir.IsNotFound(err))
}

func TestMergeRequests(t *testing.T) {
	got := mergeRequests([]ir.SyncRequest{
		{TargetID: "a", StreamIDs: []string{"s1"}},
		{TargetID: "b"},
		{TargetID: "a", StreamIDs: []string{"s2", "s1"}, Scopes: ir.ParseScopes("change")},
		{TargetID: "b", StreamIDs: []string{"s9"}},
	})
	require.Len(t, got, 2)
	assert.Equal(t, []string{"s1", "s2"}, got[0].StreamIDs)
	assert.Equal(t, ir.Scopes{ir.ScopeChange}, got[0].Scopes)
	assert.Empty(t, got[1].StreamIDs, "an empty stream list means every stream")
}

func TestClockObserve(t *testing.T) {
	c := NewClockAt(5)
	c.Observe(3)
	assert.Equal(t, int64(5), c.Current())
	c.Observe(10)
	assert.Equal(t, int64(11), c.Next())
}

func TestSnapshotsWarmTheCache(t *testing.T) {
	snaps, err := snapshot.OpenInMemory()
	require.NoError(t, err)
	defer snaps.Close()
	ctx := context.Background()

	f := newFixture(t)
	f.fake.SetState(f.api.Ref(), &ir.StreamState{History: ir.StreamHistory{Change: changes("c1")}})
	first := New(f.project, f.reg, WithSnapshots(snaps))
	before, err := first.RereadStream(ctx, f.api, nil, nil)
	require.NoError(t, err)

	// A fresh process with the same snapshots serves the first read
	// without asking the integration.
	g := newFixture(t)
	clock := NewClock()
	second := New(g.project, g.reg, WithSnapshots(snaps), WithClock(clock))
	st, err := second.RereadStream(ctx, g.api, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), g.fake.GetCalls.Load())
	assert.Equal(t, before.History.Change, st.History.Change)
	assert.Equal(t, before.Ver, clock.Current())

	g.api.MarkDirty()
	fresh, err := second.RereadStream(ctx, g.api, nil, nil)
	require.NoError(t, err)
	assert.Greater(t, fresh.Ver, before.Ver)
}
