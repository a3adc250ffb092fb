package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/roach88/rollout/internal/instrument"
	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/store"
	"github.com/roach88/rollout/internal/syncer"
)

// DefaultMaxSteps is the default maximum number of action calls per run.
const DefaultMaxSteps = 1000

// ErrStopped is returned for requests submitted after Stop.
var ErrStopped = errors.New("engine stopped")

// RunStore persists runs and their action log. *store.Store implements it.
type RunStore interface {
	WriteFlowRun(ctx context.Context, run store.FlowRun) error
	WriteActionRecord(ctx context.Context, rec store.ActionRecord) error
}

// RunRequest asks for one flow run.
type RunRequest struct {
	FlowID string

	// Targets narrows the flow's targets; nil runs them all.
	Targets TargetsStreams

	Actor string
}

// StepResult is the outcome of one action call.
type StepResult struct {
	ActionID   string
	ActionType string
	TargetID   string
	SourceID   string
	StreamIDs  []string
	Err        error
}

// RunResult summarizes a finished run.
type RunResult struct {
	RunID      string
	FlowID     string
	Status     string
	Steps      []StepResult
	StartedAt  time.Time
	FinishedAt time.Time
}

// Outcome is delivered for a submitted request.
type Outcome struct {
	Result *RunResult
	Err    error
}

// Engine dispatches flows of one project.
//
// RunFlow may be called from any goroutine; calls for the same entities
// are serialized by the synchronizer and versioning locks, not here.
// Submit and Run add a single-writer FIFO on top: Run must be called from
// exactly one goroutine.
type Engine struct {
	project  *ir.Project
	actions  *ActionRegistry
	runs     RunStore
	ids      RunIDGenerator
	clock    *syncer.Clock
	metrics  *instrument.Metrics
	logger   *slog.Logger
	now      func() time.Time
	maxSteps int
	queue    *runQueue
}

// Option configures an Engine.
type Option func(*Engine)

// WithRunStore records runs and action calls in s.
func WithRunStore(s RunStore) Option {
	return func(e *Engine) { e.runs = s }
}

// WithIDGenerator sets the run id generator. Default: UUIDv7Generator.
func WithIDGenerator(g RunIDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithClock sets the sequence clock stamped on runs and records.
func WithClock(c *syncer.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithMetrics counts finished runs.
func WithMetrics(m *instrument.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithNow sets the wall clock used for run timestamps.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMaxSteps sets the maximum action calls per run.
//
// Default: 1000 steps (DefaultMaxSteps)
func WithMaxSteps(maxSteps int) Option {
	return func(e *Engine) { e.maxSteps = maxSteps }
}

// New creates an Engine for project with the given action handlers.
func New(project *ir.Project, actions *ActionRegistry, opts ...Option) *Engine {
	e := &Engine{
		project:  project,
		actions:  actions,
		ids:      UUIDv7Generator{},
		clock:    syncer.NewClock(),
		logger:   slog.Default(),
		now:      time.Now,
		maxSteps: DefaultMaxSteps,
		queue:    newRunQueue(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunFlow executes a flow synchronously.
//
// Actions run in declaration order, each over its selected targets in
// order. The first failing call stops the run; its error is returned
// along with the partial result. An unknown flow returns a NOT_FOUND
// LookupError and no result.
func (e *Engine) RunFlow(ctx context.Context, req RunRequest) (*RunResult, error) {
	flow, err := e.project.Flow(req.FlowID)
	if err != nil {
		return nil, err
	}

	runID := e.ids.Generate()
	if err := e.checkSelection(runID, flow, req.Targets); err != nil {
		return nil, err
	}

	res := &RunResult{RunID: runID, FlowID: flow.ID, Status: store.RunStatusRunning, StartedAt: e.now()}
	run := store.FlowRun{
		ID:        runID,
		ProjectID: e.project.ID,
		FlowID:    flow.ID,
		Actor:     req.Actor,
		Status:    store.RunStatusRunning,
		Seq:       e.clock.Next(),
		StartedAt: res.StartedAt,
	}
	if err := e.writeRun(ctx, run); err != nil {
		return nil, err
	}
	e.logger.Info("flow run started", "run", runID, "project", e.project.ID, "flow", flow.ID, "actor", req.Actor)

	runErr := e.runActions(ctx, runID, flow, req, res)

	res.FinishedAt = e.now()
	res.Status = store.RunStatusSucceeded
	run.Status = store.RunStatusSucceeded
	if runErr != nil {
		res.Status = store.RunStatusFailed
		run.Status = store.RunStatusFailed
		run.Error = runErr.Error()
	}
	run.FinishedAt = res.FinishedAt
	if err := e.writeRun(ctx, run); err != nil && runErr == nil {
		runErr = err
	}
	if e.metrics != nil {
		e.metrics.ObserveFlowRun(flow.ID, runErr)
	}

	if runErr != nil {
		e.logger.Warn("flow run failed", "run", runID, "flow", flow.ID, "steps", len(res.Steps), "error", runErr)
	} else {
		e.logger.Info("flow run finished", "run", runID, "flow", flow.ID, "steps", len(res.Steps))
	}
	return res, runErr
}

func (e *Engine) runActions(ctx context.Context, runID string, flow *ir.Flow, req RunRequest, res *RunResult) error {
	quota := NewQuotaEnforcer(e.maxSteps)

	for _, action := range flow.Actions {
		if err := ctx.Err(); err != nil {
			return err
		}
		handler, ok := e.actions.Get(action.Type)
		if !ok {
			return NewUnknownActionError(runID, action.ID, action.Type)
		}
		calls, err := e.expand(runID, flow, action, req)
		if err != nil {
			return err
		}

		for _, call := range calls {
			if err := quota.Check(runID); err != nil {
				e.logger.Error("max steps quota exceeded", "run", runID, "flow", flow.ID, "steps", quota.Current(), "limit", e.maxSteps)
				return fmt.Errorf("%w: %w", NewQuotaError(runID, quota.Current(), e.maxSteps), err)
			}

			err := handler.Execute(ctx, call)
			step := StepResult{
				ActionID:   action.ID,
				ActionType: action.Type,
				TargetID:   call.Target.ID,
				StreamIDs:  call.StreamIDs(),
				Err:        err,
			}
			if call.Source != nil {
				step.SourceID = call.Source.ID
			}
			res.Steps = append(res.Steps, step)
			if werr := e.writeStep(ctx, runID, len(res.Steps), step); werr != nil && err == nil {
				err = werr
			}
			if err != nil {
				return fmt.Errorf("action %q on target %q: %w", action.ID, call.Target.ID, err)
			}
		}
	}
	return nil
}

// checkSelection rejects selections naming targets the flow does not run.
func (e *Engine) checkSelection(runID string, flow *ir.Flow, sel TargetsStreams) error {
	if len(sel) == 0 {
		return nil
	}
	kept := PossibleTargetIDs(sel, flow.Targets)
	if len(kept) == len(sel) {
		return nil
	}
	var unknown []string
	for _, id := range sel.TargetIDs() {
		if !containsString(kept, id) {
			unknown = append(unknown, id)
		}
	}
	return NewInvalidTargetError(runID, "", fmt.Sprintf("flow %q does not run targets %s", flow.ID, strings.Join(unknown, ", ")))
}

// expand turns an action into its calls: one per target, or one per
// "source:target" pair. An action's own non-empty target list wins over
// the flow targets kept by the selection. A pair names the source of a
// cross-target action; otherwise the "source" param does.
func (e *Engine) expand(runID string, flow *ir.Flow, action *ir.Action, req RunRequest) ([]Call, error) {
	var defaultSource *ir.Target
	if id := action.ParamString(ParamSource); id != "" {
		source, err := e.project.Target(id)
		if err != nil {
			return nil, err
		}
		defaultSource = source
	}

	var calls []Call
	for _, entry := range FirstNonEmpty(action.Targets, PossibleTargetIDs(req.Targets, flow.Targets)) {
		call := Call{RunID: runID, Actor: req.Actor, Flow: flow, Action: action, Source: defaultSource}

		targetID := entry
		if IsPair(entry) {
			src, dst, err := ParsePair(entry)
			if err != nil {
				return nil, NewInvalidTargetError(runID, action.ID, err.Error())
			}
			source, err := e.project.Target(src)
			if err != nil {
				return nil, err
			}
			call.Source = source
			targetID = dst
		}

		target, err := e.project.Target(targetID)
		if err != nil {
			return nil, err
		}
		streams, err := req.Targets.StreamsFor(target)
		if err != nil {
			return nil, err
		}
		call.Target = target
		call.Streams = streams
		calls = append(calls, call)
	}
	return calls, nil
}

func (e *Engine) writeRun(ctx context.Context, run store.FlowRun) error {
	if e.runs == nil {
		return nil
	}
	if err := e.runs.WriteFlowRun(ctx, run); err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

func (e *Engine) writeStep(ctx context.Context, runID string, n int, step StepResult) error {
	if e.runs == nil {
		return nil
	}
	rec := store.ActionRecord{
		ID:         runID + "/" + strconv.Itoa(n),
		RunID:      runID,
		ActionID:   step.ActionID,
		ActionType: step.ActionType,
		TargetID:   step.TargetID,
		StreamIDs:  step.StreamIDs,
		Status:     store.RunStatusSucceeded,
		Seq:        e.clock.Next(),
	}
	if step.Err != nil {
		rec.Status = store.RunStatusFailed
		rec.Error = step.Err.Error()
	}
	if err := e.runs.WriteActionRecord(ctx, rec); err != nil {
		return fmt.Errorf("record action %s: %w", rec.ID, err)
	}
	return nil
}

// Submit queues a request for the Run loop. The returned channel receives
// exactly one Outcome. Safe from any goroutine.
func (e *Engine) Submit(req RunRequest) <-chan Outcome {
	done := make(chan Outcome, 1)
	if !e.queue.Enqueue(job{req: req, done: done}) {
		done <- Outcome{Err: ErrStopped}
	}
	return done
}

// Run processes submitted requests one at a time in FIFO order.
// Blocks until ctx is cancelled or Stop is called and the queue drained.
//
// CRITICAL: Must be called from exactly ONE goroutine.
//
// A failed run does not stop the loop; its error is delivered to the
// submitter.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting", "project", e.project.ID)

	for {
		if j, ok := e.queue.TryDequeue(); ok {
			res, err := e.RunFlow(ctx, j.req)
			j.done <- Outcome{Result: res, Err: err}
			continue
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			e.queue.Close()
			for _, j := range e.queue.Drain() {
				j.done <- Outcome{Err: ctx.Err()}
			}
			return ctx.Err()

		case <-e.queue.Wait():
			// The signal channel is closed by Stop; exit once drained.
			if e.queue.Len() == 0 && e.stopped() {
				e.logger.Info("engine stopping: queue closed")
				return nil
			}
		}
	}
}

// Stop stops accepting requests. Run returns after the queued ones.
func (e *Engine) Stop() {
	e.queue.Close()
}

func (e *Engine) stopped() bool {
	e.queue.mu.Lock()
	defer e.queue.mu.Unlock()
	return e.queue.closed
}
