package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/versioning"
)

// VersionOptions holds flags shared by the version subcommands.
type VersionOptions struct {
	*RootOptions
	Stream        string
	ReleaseName   string
	VersionFormat string
}

// VersionOutput is the structured result of a version command.
type VersionOutput struct {
	TargetID string                    `json:"target_id"`
	StreamID string                    `json:"stream_id,omitempty"`
	Version  string                    `json:"version,omitempty"`
	Changed  bool                      `json:"changed"`
	History  []versioning.HistoryEntry `json:"history,omitempty"`
}

// versionOp applies one version operation to a target or a stream.
type versionOp func(ctx context.Context, rt *Runtime, t *ir.Target, s *ir.Stream, opts *VersionOptions) (VersionOutput, error)

// NewVersionCommand creates the version command and its subcommands.
func NewVersionCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &VersionOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show or change target and stream versions",
		Long: `Show or change the version of a target, or of one of its streams with
--stream. Versions follow the target's versioning strategy (semver, none).

Example:
  rollout version show ./project prod
  rollout version patch ./project staging --stream api
  rollout version release ./project staging --release-name rc
  rollout version show ./project prod --version-format "v{major}.{minor}"`,
	}

	cmd.PersistentFlags().StringVarP(&opts.Stream, "stream", "s", "", "apply to this stream instead of the target")
	cmd.PersistentFlags().StringVar(&opts.ReleaseName, "release-name", "", "prerelease identifier for patch/release")
	cmd.PersistentFlags().StringVar(&opts.VersionFormat, "version-format", "", "template used to print the version")

	cmd.AddCommand(newVersionSubcommand(opts, "show", "Show the current version and history", showVersion))
	cmd.AddCommand(newVersionSubcommand(opts, "patch", "Bump the patch version", patchVersion))
	cmd.AddCommand(newVersionSubcommand(opts, "release", "Bump the minor version", releaseVersion))
	cmd.AddCommand(newVersionSubcommand(opts, "rollback", "Restore the previous version", rollbackVersion))

	return cmd
}

func newVersionSubcommand(opts *VersionOptions, name, short string, op versionOp) *cobra.Command {
	return &cobra.Command{
		Use:           name + " <project-dir> <target>",
		Short:         short,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runVersion(opts, args[0], args[1], op, cmd)
		},
	}
}

func runVersion(opts *VersionOptions, dir, targetID string, op versionOp, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())
	rt, err := openProject(opts.RootOptions, formatter, dir)
	if err != nil {
		return err
	}
	defer closeRuntime(rt)

	target, err := rt.Target(formatter, targetID)
	if err != nil {
		return err
	}
	var stream *ir.Stream
	if opts.Stream != "" {
		if stream, err = rt.Stream(formatter, target, opts.Stream); err != nil {
			return err
		}
	}

	out, err := op(cmd.Context(), rt, target, stream, opts)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "version command failed", err)
	}

	if formatter.Structured() {
		return formatter.Success(out)
	}
	renderVersion(formatter, out)
	return nil
}

func newVersionOutput(t *ir.Target, s *ir.Stream) VersionOutput {
	out := VersionOutput{TargetID: t.ID}
	if s != nil {
		out.StreamID = s.ID
	}
	return out
}

func showVersion(ctx context.Context, rt *Runtime, t *ir.Target, s *ir.Stream, opts *VersionOptions) (VersionOutput, error) {
	out := newVersionOutput(t, s)
	var err error
	if s != nil {
		out.Version, _, err = rt.Versions.GetCurrentStream(ctx, s, opts.VersionFormat)
		if err == nil {
			out.History, err = rt.Versions.StreamHistory(ctx, s)
		}
	} else {
		out.Version, _, err = rt.Versions.GetCurrent(ctx, t, opts.VersionFormat)
		if err == nil {
			out.History, err = rt.Versions.History(ctx, t)
		}
	}
	return out, err
}

func patchVersion(ctx context.Context, rt *Runtime, t *ir.Target, s *ir.Stream, opts *VersionOptions) (VersionOutput, error) {
	p := versioning.Params{ReleaseName: opts.ReleaseName}
	return bumpVersion(ctx, rt, t, s, opts,
		func() (string, error) { return rt.Versions.Patch(ctx, t, p) },
		func() (string, error) { return rt.Versions.PatchStream(ctx, s, p) },
	)
}

func releaseVersion(ctx context.Context, rt *Runtime, t *ir.Target, s *ir.Stream, opts *VersionOptions) (VersionOutput, error) {
	p := versioning.Params{ReleaseName: opts.ReleaseName}
	return bumpVersion(ctx, rt, t, s, opts,
		func() (string, error) { return rt.Versions.Release(ctx, t, p) },
		func() (string, error) { return rt.Versions.ReleaseStream(ctx, s, p) },
	)
}

func rollbackVersion(ctx context.Context, rt *Runtime, t *ir.Target, s *ir.Stream, opts *VersionOptions) (VersionOutput, error) {
	return bumpVersion(ctx, rt, t, s, opts,
		func() (string, error) {
			v, _, err := rt.Versions.Rollback(ctx, t)
			return v, err
		},
		func() (string, error) {
			v, _, err := rt.Versions.RollbackStream(ctx, s)
			return v, err
		},
	)
}

func bumpVersion(ctx context.Context, rt *Runtime, t *ir.Target, s *ir.Stream, opts *VersionOptions,
	forTarget, forStream func() (string, error)) (VersionOutput, error) {
	out := newVersionOutput(t, s)
	bump := forTarget
	if s != nil {
		bump = forStream
	}
	if _, err := bump(); err != nil {
		return out, err
	}
	markDirty(t, s)
	out.Changed = true

	var err error
	out.Version, _, err = currentVersion(ctx, rt, t, s, opts.VersionFormat)
	return out, err
}

func currentVersion(ctx context.Context, rt *Runtime, t *ir.Target, s *ir.Stream, format string) (string, bool, error) {
	if s != nil {
		return rt.Versions.GetCurrentStream(ctx, s, format)
	}
	return rt.Versions.GetCurrent(ctx, t, format)
}

func markDirty(t *ir.Target, s *ir.Stream) {
	if s != nil {
		s.MarkDirty()
		return
	}
	t.MarkDirty()
}

func renderVersion(formatter *OutputFormatter, out VersionOutput) {
	subject := out.TargetID
	if out.StreamID != "" {
		subject += "/" + out.StreamID
	}
	version := out.Version
	if version == "" {
		version = "(none)"
	}
	fmt.Fprintf(formatter.Writer, "%s: %s\n", subject, version)
	for _, h := range out.History {
		fmt.Fprintf(formatter.Writer, "  %s  %s  %s\n", h.Version, h.At.UTC().Format("2006-01-02T15:04:05Z"), h.ID)
	}
}
