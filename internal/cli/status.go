package cli

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/release"
)

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Target string
	Resync bool
}

// TargetStatus is the status of one target.
type TargetStatus struct {
	TargetID      string         `json:"target_id"`
	Type          string         `json:"type"`
	Version       string         `json:"version,omitempty"`
	Syncing       bool           `json:"syncing"`
	ReleaseStatus string         `json:"release_status,omitempty"`
	Streams       []StreamStatus `json:"streams"`
}

// StreamStatus is the status of one stream.
type StreamStatus struct {
	StreamID  string `json:"stream_id"`
	Type      string `json:"type"`
	Version   string `json:"version,omitempty"`
	Head      string `json:"head,omitempty"`
	Changes   int    `json:"changes"`
	Artifacts int    `json:"artifacts"`
	Actions   int    `json:"actions"`
	Syncing   bool   `json:"syncing"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status <project-dir>",
		Short: "Show target and stream state",
		Long: `Read the state of every target (or one with --target) and print the
current version, release status and stream history counts.

Clean cached state is served when available; --resync forces a full reread
from the integrations.

Example:
  rollout status ./project
  rollout status ./project --target prod --resync --format yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Target, "target", "t", "", "only show this target")
	cmd.Flags().BoolVar(&opts.Resync, "resync", false, "force a full reread")

	return cmd
}

func runStatus(opts *StatusOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	rt, err := openProject(opts.RootOptions, formatter, dir)
	if err != nil {
		return err
	}
	defer closeRuntime(rt)

	var scopes ir.Scopes
	if opts.Resync {
		scopes = ir.Scopes{ir.ScopeResync}
	}

	ctx := cmd.Context()
	var states []*ir.TargetState
	if opts.Target != "" {
		target, err := rt.Target(formatter, opts.Target)
		if err != nil {
			return err
		}
		ts, err := rt.Syncer.RereadTarget(ctx, target, scopes)
		if err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitFailure, "status failed", err)
		}
		states = append(states, ts)
	} else {
		ps, err := rt.Syncer.RereadProject(ctx, scopes)
		if err != nil {
			_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
			return WrapExitError(ExitFailure, "status failed", err)
		}
		for _, id := range ps.TargetOrder {
			states = append(states, ps.Targets[id])
		}
	}

	statuses := make([]TargetStatus, 0, len(states))
	for _, ts := range states {
		statuses = append(statuses, targetStatus(rt.Project, ts))
	}

	if formatter.Structured() {
		return formatter.Success(statuses)
	}
	renderStatus(formatter, statuses)
	return nil
}

func targetStatus(p *ir.Project, ts *ir.TargetState) TargetStatus {
	out := TargetStatus{
		TargetID: ts.Ref.TargetID,
		Version:  ts.Version,
		Syncing:  ts.IsSyncing(),
		Streams:  []StreamStatus{},
	}
	if t, err := p.Target(ts.Ref.TargetID); err == nil {
		out.Type = t.Type
	}
	if doc, ok := release.FromTargetState(ts); ok {
		out.ReleaseStatus = doc.Status
	}

	for _, st := range ts.OrderedStreams() {
		ss := StreamStatus{
			StreamID:  st.Ref.StreamID,
			Version:   st.Version,
			Changes:   len(st.History.Change),
			Artifacts: len(st.History.Artifact),
			Actions:   len(st.History.Action),
			Syncing:   st.IsSyncing,
		}
		if s, err := p.Stream(st.Ref.TargetID, st.Ref.StreamID); err == nil {
			ss.Type = s.Type
		}
		if len(st.History.Change) > 0 {
			ss.Head = shortID(st.History.Change[0].ID)
		}
		out.Streams = append(out.Streams, ss)
	}
	return out
}

func renderStatus(formatter *OutputFormatter, statuses []TargetStatus) {
	rows := make([]table.Row, 0, len(statuses))
	for _, ts := range statuses {
		rows = append(rows, table.Row{ts.TargetID, "", orDash(ts.Version), orDash(ts.ReleaseStatus), "", "", syncing(ts.Syncing)})
		for _, ss := range ts.Streams {
			rows = append(rows, table.Row{"", ss.StreamID, orDash(ss.Version), "", orDash(ss.Head),
				fmt.Sprintf("%d/%d", ss.Changes, ss.Artifacts), syncing(ss.Syncing)})
		}
	}
	formatter.Table(table.Row{"Target", "Stream", "Version", "Release", "Head", "Changes/Artifacts", "State"}, rows)
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func syncing(b bool) string {
	if b {
		return "syncing"
	}
	return "idle"
}
