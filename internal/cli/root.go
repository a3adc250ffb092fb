package cli

import (
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/roach88/rollout/internal/engine"
	"github.com/roach88/rollout/internal/integration"
)

// EnvPrefix prefixes the environment variables bound to global flags,
// e.g. ROLLOUT_DB or ROLLOUT_STATE_DIR.
const EnvPrefix = "ROLLOUT"

// Output formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "text" | "json" | "yaml"
	DBPath   string
	StateDir string // snapshot directory; empty keeps snapshots in memory
	CacheTTL time.Duration
	Actor    string

	// IDGenerator overrides the run id generator (for testing).
	// If nil, defaults to engine.UUIDv7Generator.
	IDGenerator engine.RunIDGenerator

	// StreamServices replaces the built-in integrations by stream type
	// (for testing).
	StreamServices map[string]integration.StreamService
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{FormatText, FormatJSON, FormatYAML}

// NewRootCommand creates the root command for the rollout CLI.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&RootOptions{})
}

func newRootCommand(opts *RootOptions) *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "rollout",
		Short: "rollout - multi-environment release orchestrator",
		Long: `Track what is deployed where, and move it forward.

rollout reads a project definition (CUE) describing targets, their streams,
artifacts and flows, then keeps versions, release documents and stream state
in step as flows promote changes between environments.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := applyConfig(v, opts); err != nil {
				return NewExitError(ExitCommandError, err.Error())
			}
			setupLogging(opts, cmd.ErrOrStderr())
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", FormatText, "output format (text|json|yaml)")
	flags.StringVar(&opts.DBPath, "db", ".rollout/rollout.db", "path to SQLite database")
	flags.StringVar(&opts.StateDir, "state-dir", ".rollout/state", "snapshot directory (empty keeps state in memory)")
	flags.DurationVar(&opts.CacheTTL, "cache-ttl", 30*time.Second, "TTL of cached clean state")
	flags.StringVar(&opts.Actor, "actor", "cli", "actor recorded on flow runs")

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, name := range []string{"verbose", "format", "db", "state-dir", "cache-ttl", "actor"} {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))
	cmd.AddCommand(NewReleaseCommand(opts))
	cmd.AddCommand(NewLogCommand(opts))

	return cmd
}

// applyConfig copies the merged flag and environment values into opts.
// Flags set on the command line win over ROLLOUT_* variables.
func applyConfig(v *viper.Viper, opts *RootOptions) error {
	opts.Verbose = v.GetBool("verbose")
	opts.Format = v.GetString("format")
	opts.DBPath = v.GetString("db")
	opts.StateDir = v.GetString("state-dir")
	opts.CacheTTL = v.GetDuration("cache-ttl")
	opts.Actor = v.GetString("actor")

	if !isValidFormat(opts.Format) {
		return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
	}
	if opts.CacheTTL < 0 {
		return fmt.Errorf("invalid cache-ttl %s: must not be negative", opts.CacheTTL)
	}
	return nil
}

// setupLogging installs a text handler on w, at debug level when verbose.
func setupLogging(opts *RootOptions, w io.Writer) {
	level := slog.LevelWarn
	if opts.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
