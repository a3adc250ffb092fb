package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/roach88/rollout/internal/cli"
	"github.com/roach88/rollout/internal/engine"
	"github.com/roach88/rollout/internal/integration"
	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/store"
	"github.com/roach88/rollout/internal/testutil"
)

// seedTime stamps seeded changes; the first change gets seedTime and each
// following one a minute earlier.
var seedTime = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// Harness executes one scenario against a fresh runtime.
type Harness struct {
	rt     *cli.Runtime
	fake   *testutil.FakeStreamService
	actor  string
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each scenario runs against its own database and in-memory snapshots.
// Every stream type of the project is served by one fake integration that
// records the calls it receives. Flows run through the engine one at a
// time, in order.
func Run(scenario *Scenario) (*Result, error) {
	dir, err := os.MkdirTemp("", "rollout-harness-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(dir)

	loaded, err := cli.LoadProject(scenario.Project)
	if err != nil {
		return nil, fmt.Errorf("failed to load project: %w", err)
	}

	fake := testutil.NewFakeStreamService()
	services := make(map[string]integration.StreamService)
	for _, t := range loaded.Project.Targets() {
		for _, s := range t.Streams() {
			services[s.Type] = fake
		}
	}

	actor := scenario.Actor
	if actor == "" {
		actor = DefaultActor
	}
	rt, err := cli.OpenRuntime(&cli.RootOptions{
		DBPath:         filepath.Join(dir, "rollout.db"),
		Actor:          actor,
		IDGenerator:    testutil.NewSequenceIDs("run"),
		StreamServices: services,
	}, loaded)
	if err != nil {
		return nil, fmt.Errorf("failed to open runtime: %w", err)
	}
	defer rt.Close()

	h := &Harness{
		rt:     rt,
		fake:   fake,
		actor:  actor,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	ctx := context.Background()
	result := NewResult()

	if err := h.seed(scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.executeRuns(ctx, scenario.Runs, result); err != nil {
		return nil, fmt.Errorf("failed to execute runs: %w", err)
	}
	result.Calls = append(result.Calls, fake.CallLog()...)

	actx := &AssertionContext{Ctx: ctx, Runtime: rt}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}
	return result, nil
}

// seed installs the initial stream states in the fake integration.
func (h *Harness) seed(setup []StreamSeed) error {
	project := h.rt.Project
	for i, seed := range setup {
		s, err := project.Stream(seed.Target, seed.Stream)
		if err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		st := ir.NewStreamState(s.Ref())
		st.Version = seed.Version
		for j, c := range seed.Changes {
			st.History.Change = append(st.History.Change, ir.HistoryEntry{
				ID:          c.ID,
				Type:        c.Type,
				Description: c.Description,
				Author:      c.Author,
				Time:        seedTime.Add(-time.Duration(j) * time.Minute),
			})
		}
		h.fake.SetState(s.Ref(), st)
		h.logger.Info("stream seeded", "stream", s.Ref().Key(), "changes", len(seed.Changes))
	}
	return nil
}

// executeRuns runs each flow and checks its status against the step's
// expectation. A mismatch is recorded on the result; it does not stop
// the scenario.
func (h *Harness) executeRuns(ctx context.Context, runs []RunStep, result *Result) error {
	for i, step := range runs {
		selection, err := engine.ParseTargetsStreams(step.Targets)
		if err != nil {
			return fmt.Errorf("runs[%d]: %w", i, err)
		}

		res, runErr := h.rt.Engine.RunFlow(ctx, engine.RunRequest{
			FlowID:  step.Flow,
			Targets: selection,
			Actor:   h.actor,
		})

		summary := RunSummary{FlowID: step.Flow, Status: ExpectRejected}
		if res != nil {
			summary.RunID = res.RunID
			summary.Status = res.Status
			for _, s := range res.Steps {
				result.Trace = append(result.Trace, traceEvent(res, s))
			}
		}
		if runErr != nil {
			summary.Error = runErr.Error()
		}
		result.Runs = append(result.Runs, summary)

		want := step.Expect
		if want == "" {
			want = store.RunStatusSucceeded
		}
		if summary.Status != want {
			msg := fmt.Sprintf("runs[%d] flow %s: expected %s, got %s", i, step.Flow, want, summary.Status)
			if summary.Error != "" {
				msg += ": " + summary.Error
			}
			result.AddError(msg)
		}

		h.logger.Info("run completed",
			"step", i,
			"flow", step.Flow,
			"run", summary.RunID,
			"status", summary.Status,
		)
	}
	return nil
}

func traceEvent(res *engine.RunResult, s engine.StepResult) TraceEvent {
	ev := TraceEvent{
		RunID:      res.RunID,
		FlowID:     res.FlowID,
		ActionID:   s.ActionID,
		ActionType: s.ActionType,
		TargetID:   s.TargetID,
		SourceID:   s.SourceID,
		StreamIDs:  s.StreamIDs,
		Status:     store.RunStatusSucceeded,
	}
	if s.Err != nil {
		ev.Status = store.RunStatusFailed
		ev.Error = s.Err.Error()
	}
	return ev
}
