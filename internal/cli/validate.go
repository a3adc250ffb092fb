package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/rollout/internal/compiler"
	"github.com/roach88/rollout/internal/engine"
	"github.com/roach88/rollout/internal/instrument"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool                       `json:"valid"`
	ProjectID string                     `json:"project_id,omitempty"`
	Targets   int                        `json:"targets"`
	Flows     int                        `json:"flows"`
	Artifacts int                        `json:"artifacts"`
	Errors    []compiler.ValidationError `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <project-dir>",
		Short: "Validate a project definition",
		Long: `Load and compile the CUE project definition, then check it against the
registered stream types, versioning strategies, artifact producers and
flow actions.

Nothing is read from or written to the database.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	loaded, err := LoadProject(dir)
	if err != nil {
		return reportLoadError(formatter, err)
	}
	formatter.VerboseLog("Found %d CUE file(s) in %s", loaded.FileCount, dir)

	errs := ValidateProject(opts, loaded)
	p := loaded.Project
	result := ValidationResult{
		Valid:     len(errs) == 0,
		ProjectID: p.ID,
		Targets:   len(p.Targets()),
		Flows:     len(p.Flows()),
		Artifacts: len(p.Artifacts()),
		Errors:    errs,
	}

	if len(errs) > 0 {
		return outputValidationErrors(formatter, result)
	}
	return outputValidateSuccess(formatter, result)
}

// ValidateProject checks a loaded project against the built-in registries
// plus any stream services configured on opts.
func ValidateProject(opts *RootOptions, loaded *LoadResult) []compiler.ValidationError {
	regs := newRegistries(opts, instrument.NewMetrics(nil), slog.Default())
	engine.RegisterBuiltins(regs.actions, engine.Services{})
	return compiler.Validate(loaded.Project, regs.validateOptions())
}

// outputValidateSuccess outputs successful validation results.
func outputValidateSuccess(formatter *OutputFormatter, result ValidationResult) error {
	if formatter.Structured() {
		return formatter.Success(result)
	}

	fmt.Fprintf(formatter.Writer, "✓ Project %s valid (%d targets, %d flows, %d artifacts)\n",
		result.ProjectID, result.Targets, result.Flows, result.Artifacts)
	return nil
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(formatter *OutputFormatter, result ValidationResult) error {
	errs := result.Errors
	failure := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(errs)))

	if formatter.Structured() {
		if err := formatter.encode(CLIResponse{
			Status: "error",
			Data:   result,
			Error: &CLIError{
				Code:    errs[0].Code,
				Message: errs[0].Message,
			},
		}); err != nil {
			return err
		}
		return failure
	}

	fmt.Fprintln(formatter.Writer, "✗ Validation failed")
	fmt.Fprintln(formatter.Writer)
	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %s %s: %s\n", err.Code, err.Field, err.Message)
	}

	// Validation failures = exit code 1
	return failure
}
