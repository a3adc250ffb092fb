package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/rollout/internal/engine"
	"github.com/roach88/rollout/internal/ir"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Targets string
}

// RunOutput is the structured result of a flow run.
type RunOutput struct {
	RunID      string       `json:"run_id"`
	FlowID     string       `json:"flow_id"`
	Status     string       `json:"status"`
	Error      string       `json:"error,omitempty"`
	Steps      []StepOutput `json:"steps"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
}

// StepOutput is one executed action call.
type StepOutput struct {
	ActionID   string   `json:"action_id"`
	ActionType string   `json:"action_type"`
	TargetID   string   `json:"target_id"`
	SourceID   string   `json:"source_id,omitempty"`
	StreamIDs  []string `json:"stream_ids,omitempty"`
	Error      string   `json:"error,omitempty"`
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <project-dir> <flow>",
		Short: "Run a flow",
		Long: `Run a flow of the project through the single-writer engine.

Actions run in declaration order over the flow's targets; the first failing
action stops the run. Every run and action outcome is recorded in the
database (see "rollout log").

--targets narrows the run to some targets and, after a colon, some streams:
  t1,t2          targets t1 and t2, all streams
  t1,t2:s1+s2    targets t1 and t2, streams s1 and s2 only

Example:
  rollout run ./project promote
  rollout run ./project deploy --targets staging:api`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFlow(opts, args[0], args[1], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Targets, "targets", "", "targets and streams to run on (t1,t2:s1+s2)")

	return cmd
}

func runFlow(opts *RunOptions, dir, flowID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	selection, err := engine.ParseTargetsStreams(opts.Targets)
	if err != nil {
		_ = formatter.Error(ErrCodeInvalidArg, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid --targets", err)
	}

	rt, err := openProject(opts.RootOptions, formatter, dir)
	if err != nil {
		return err
	}
	defer closeRuntime(rt)

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	loopErr := make(chan error, 1)
	go func() {
		loopErr <- rt.Engine.Run(ctx)
	}()

	formatter.VerboseLog("Running flow %s", flowID)
	outcome := <-rt.Engine.Submit(engine.RunRequest{
		FlowID:  flowID,
		Targets: selection,
		Actor:   opts.Actor,
	})
	rt.Engine.Stop()
	if err := <-loopErr; err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("engine loop stopped", "error", err)
	}

	if outcome.Result == nil {
		return reportRunError(formatter, outcome.Err)
	}

	out := runOutput(outcome.Result, outcome.Err)
	if formatter.Structured() {
		if outcome.Err != nil {
			_ = formatter.encode(CLIResponse{
				Status: "error",
				Data:   out,
				Error:  &CLIError{Code: ErrCodeFlowFailed, Message: outcome.Err.Error()},
				RunID:  out.RunID,
			})
		} else {
			_ = formatter.encode(CLIResponse{Status: "ok", Data: out, RunID: out.RunID})
		}
	} else {
		renderRun(formatter, out)
	}

	if outcome.Err != nil {
		return WrapExitError(ExitFailure, "flow failed", outcome.Err)
	}
	return nil
}

// reportRunError reports a run that failed before any action ran.
func reportRunError(formatter *OutputFormatter, err error) error {
	switch {
	case ir.IsNotFound(err):
		_ = formatter.Error(ErrCodeNotFound, err.Error(), nil)
		return WrapExitError(ExitCommandError, ErrCodeNotFound, err)
	case engine.IsInvalidTargetError(err):
		_ = formatter.Error(ErrCodeInvalidArg, err.Error(), nil)
		return WrapExitError(ExitCommandError, ErrCodeInvalidArg, err)
	default:
		_ = formatter.Error(ErrCodeFlowFailed, err.Error(), nil)
		return WrapExitError(ExitFailure, "flow failed", err)
	}
}

func runOutput(res *engine.RunResult, err error) RunOutput {
	out := RunOutput{
		RunID:      res.RunID,
		FlowID:     res.FlowID,
		Status:     res.Status,
		Steps:      make([]StepOutput, 0, len(res.Steps)),
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
	if err != nil {
		out.Error = err.Error()
	}
	for _, s := range res.Steps {
		step := StepOutput{
			ActionID:   s.ActionID,
			ActionType: s.ActionType,
			TargetID:   s.TargetID,
			SourceID:   s.SourceID,
			StreamIDs:  s.StreamIDs,
		}
		if s.Err != nil {
			step.Error = s.Err.Error()
		}
		out.Steps = append(out.Steps, step)
	}
	return out
}

func renderRun(formatter *OutputFormatter, out RunOutput) {
	fmt.Fprintf(formatter.Writer, "Run %s (flow %s): %s\n", out.RunID, out.FlowID, out.Status)
	if len(out.Steps) == 0 {
		return
	}
	rows := make([]table.Row, 0, len(out.Steps))
	for _, s := range out.Steps {
		target := s.TargetID
		if s.SourceID != "" {
			target = s.SourceID + " -> " + s.TargetID
		}
		result := "ok"
		if s.Error != "" {
			result = s.Error
		}
		rows = append(rows, table.Row{s.ActionID, s.ActionType, target, orDash(strings.Join(s.StreamIDs, ",")), result})
	}
	formatter.Table(table.Row{"Action", "Type", "Target", "Streams", "Result"}, rows)
}
