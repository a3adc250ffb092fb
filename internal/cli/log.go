package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/store"
)

// LogOptions holds flags for the log command.
type LogOptions struct {
	*RootOptions
	Project string
	Limit   int
}

// RunLog is a flow run with its action records.
type RunLog struct {
	Run     store.FlowRun        `json:"run"`
	Actions []store.ActionRecord `json:"actions"`
}

// NewLogCommand creates the log command.
func NewLogCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LogOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "log [run-id]",
		Short: "Show recorded flow runs",
		Long: `Show one flow run and the outcome of each of its actions, or with
--project and no run id, the most recent runs of a project.

Example:
  rollout log 0192f1c4-5b6e-7c8d-9e0f-a1b2c3d4e5f6
  rollout log --project shop --limit 10`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLog(opts, args, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Project, "project", "", "list recent runs of this project")
	cmd.Flags().IntVar(&opts.Limit, "limit", 20, "maximum number of runs to list")

	return cmd
}

func runLog(opts *LogOptions, args []string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if len(args) == 0 && opts.Project == "" {
		_ = formatter.Error(ErrCodeInvalidArg, "a run id or --project is required", nil)
		return NewExitError(ExitCommandError, "a run id or --project is required")
	}

	// Check database exists
	if _, err := os.Stat(opts.DBPath); os.IsNotExist(err) {
		_ = formatter.Error(ErrCodeNotFound, fmt.Sprintf("database not found: %s", opts.DBPath), nil)
		return NewExitError(ExitCommandError, fmt.Sprintf("database not found: %s", opts.DBPath))
	}
	st, err := store.Open(opts.DBPath)
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ctx := cmd.Context()
	if len(args) == 0 {
		runs, err := st.ListFlowRuns(ctx, opts.Project, opts.Limit)
		if err != nil {
			_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
			return WrapExitError(ExitCommandError, "failed to list runs", err)
		}
		if formatter.Structured() {
			return formatter.Success(runs)
		}
		renderRuns(formatter, runs)
		return nil
	}

	run, err := st.ReadFlowRun(ctx, args[0])
	if err != nil {
		code := ErrCodeStoreFailed
		if ir.IsNotFound(err) {
			code = ErrCodeNotFound
		}
		_ = formatter.Error(code, err.Error(), nil)
		return WrapExitError(ExitCommandError, code, err)
	}
	records, err := st.ReadActionRecords(ctx, run.ID)
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read actions", err)
	}

	out := RunLog{Run: run, Actions: records}
	if formatter.Structured() {
		return formatter.Success(out)
	}
	renderRunLog(formatter, out)
	return nil
}

func renderRuns(formatter *OutputFormatter, runs []store.FlowRun) {
	rows := make([]table.Row, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, table.Row{r.ID, r.FlowID, r.Status, orDash(r.Actor), r.StartedAt.UTC().Format("2006-01-02T15:04:05Z")})
	}
	formatter.Table(table.Row{"Run", "Flow", "Status", "Actor", "Started"}, rows)
}

func renderRunLog(formatter *OutputFormatter, out RunLog) {
	r := out.Run
	fmt.Fprintf(formatter.Writer, "Run %s (flow %s): %s\n", r.ID, r.FlowID, r.Status)
	if r.Actor != "" {
		fmt.Fprintf(formatter.Writer, "Actor: %s\n", r.Actor)
	}
	if r.Error != "" {
		fmt.Fprintf(formatter.Writer, "Error: %s\n", r.Error)
	}
	if len(out.Actions) == 0 {
		return
	}
	rows := make([]table.Row, 0, len(out.Actions))
	for _, a := range out.Actions {
		result := a.Status
		if a.Error != "" {
			result = a.Status + ": " + a.Error
		}
		rows = append(rows, table.Row{a.ActionID, a.ActionType, a.TargetID, orDash(strings.Join(a.StreamIDs, ",")), result})
	}
	formatter.Table(table.Row{"Action", "Type", "Target", "Streams", "Result"}, rows)
}
