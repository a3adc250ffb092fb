package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/rollout/internal/ir"
	"github.com/roach88/rollout/internal/release"
)

// ReleaseOptions holds flags for the release subcommands.
type ReleaseOptions struct {
	*RootOptions
	Resync bool
}

// NewReleaseCommand creates the release command and its subcommands.
func NewReleaseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReleaseOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "release",
		Short: "Inspect and edit target release documents",
		Long: `A release document collects, per target, the changes and artifacts of
every stream into ordered sections.

Example:
  rollout release show ./project prod
  rollout release status ./project prod approved
  rollout release reset ./project prod op`,
	}

	show := &cobra.Command{
		Use:           "show <project-dir> <target>",
		Short:         "Render the release document as markdown",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReleaseShow(opts, args[0], args[1], cmd)
		},
	}
	show.Flags().BoolVar(&opts.Resync, "resync", false, "force a full reread before rendering")

	status := &cobra.Command{
		Use:           "status <project-dir> <target> <status>",
		Short:         "Set the release document status",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReleaseEdit(opts, args[0], args[1], cmd, func(ctx context.Context, rt *Runtime, ref ir.Ref) (*release.Document, error) {
				return rt.Release.SetStatus(ctx, ref, args[2])
			})
		},
	}

	reset := &cobra.Command{
		Use:           "reset <project-dir> <target> <section-type>",
		Short:         "Remove every section of a type",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReleaseEdit(opts, args[0], args[1], cmd, func(ctx context.Context, rt *Runtime, ref ir.Ref) (*release.Document, error) {
				return rt.Release.ResetType(ctx, ref, args[2])
			})
		},
	}

	cmd.AddCommand(show, status, reset)
	return cmd
}

func runReleaseShow(opts *ReleaseOptions, dir, targetID string, cmd *cobra.Command) error {
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

	var scopes ir.Scopes
	if opts.Resync {
		scopes = ir.Scopes{ir.ScopeResync}
	}
	ctx := cmd.Context()
	ts, err := rt.Syncer.RereadTarget(ctx, target, scopes)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "release show failed", err)
	}
	doc, ok := release.FromTargetState(ts)
	if !ok {
		if doc, err = rt.Release.Load(ctx, target.Ref()); err != nil {
			_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
			return WrapExitError(ExitFailure, "release show failed", err)
		}
	}

	return outputDocument(formatter, doc)
}

func runReleaseEdit(opts *ReleaseOptions, dir, targetID string, cmd *cobra.Command,
	edit func(ctx context.Context, rt *Runtime, ref ir.Ref) (*release.Document, error)) error {
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
	doc, err := edit(cmd.Context(), rt, target.Ref())
	if err != nil {
		_ = formatter.Error(ErrCodeStoreFailed, err.Error(), nil)
		return WrapExitError(ExitFailure, "release update failed", err)
	}
	target.MarkDirty()

	return outputDocument(formatter, doc)
}

func outputDocument(formatter *OutputFormatter, doc *release.Document) error {
	if formatter.Structured() {
		return formatter.Success(doc)
	}
	fmt.Fprint(formatter.Writer, release.Render(doc))
	return nil
}
