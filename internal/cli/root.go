package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/beadwal/internal/config"
	"github.com/roach88/beadwal/internal/logging"
	"github.com/roach88/beadwal/internal/metrics"
)

// RootOptions holds global flags for all commands and the settings
// resolved from them before a command runs.
type RootOptions struct {
	ConfigPath string
	Verbose    bool
	Format     string // "text" | "json" | "yaml"
	DB         string
	Backend    string
	Namespace  string

	Config *config.Config
	Logger zerolog.Logger
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json", "yaml"}

// NewRootCommand creates the root command for the beadwal CLI.
func NewRootCommand() *cobra.Command {
	cmd, _ := newRootCommand()
	return cmd
}

func newRootCommand() (*cobra.Command, *RootOptions) {
	opts := &RootOptions{Logger: zerolog.Nop()}

	cmd := &cobra.Command{
		Use:   "beadwal",
		Short: "beadwal - write-ahead log recovery bridge for beads",
		Long: `Record issue-tracker state transitions in a durable write-ahead log and
replay them through the beads CLI after a crash.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return opts.resolve(cmd)
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.ConfigPath, "config", "", "config file (default $"+config.PathEnvVar+")")
	flags.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	flags.StringVar(&opts.DB, "db", "", "write-ahead log path")
	flags.StringVar(&opts.Backend, "backend", "", "log backend (sqlite|badger|pebble)")
	flags.StringVar(&opts.Namespace, "namespace", "", "log namespace")

	cmd.AddCommand(NewRecordCommand(opts))
	cmd.AddCommand(NewInspectCommand(opts))
	cmd.AddCommand(NewSinceCommand(opts))
	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewRecoverCommand(opts))
	cmd.AddCommand(NewLintCommand(opts))

	return cmd, opts
}

// resolve loads configuration, applies flags that were set explicitly,
// and builds the logger.
func (o *RootOptions) resolve(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		cfg.WAL.Path = o.DB
	}
	if flags.Changed("backend") {
		cfg.WAL.Backend = o.Backend
	}
	if flags.Changed("namespace") {
		cfg.WAL.Namespace = o.Namespace
	}
	if o.Verbose {
		cfg.Logging.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return WrapExitError(ExitCommandError, "invalid settings", err)
	}

	o.Config = cfg
	o.Logger = logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
		Output: cmd.ErrOrStderr(),
	})
	return nil
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{Format: o.Format, Writer: cmd.OutOrStdout()}
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

// Execute runs the CLI with args and returns the process exit code.
// Errors are reported on stderr; metrics are exported when configured,
// whether or not the command succeeded.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd, opts := newRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
	}

	if opts.Config != nil && opts.Config.Metrics.Textfile != "" {
		if werr := metrics.WriteTextfile(opts.Config.Metrics.Textfile); werr != nil {
			opts.Logger.Error().Err(werr).Str("path", opts.Config.Metrics.Textfile).Msg("failed to write metrics")
		}
	}

	return GetExitCode(err)
}

// Main is the entry point used by cmd/beadwal.
func Main(ctx context.Context) int {
	return Execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
}
