package cli

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/roach88/beadwal/internal/command"
	"github.com/roach88/beadwal/internal/config"
	"github.com/roach88/beadwal/internal/recovery"
)

// RecoverOptions holds flags for the recover command.
type RecoverOptions struct {
	*RootOptions
	Tool        string
	WorkDir     string
	NoSync      bool
	DryRun      bool
	Concurrency int
	Shell       bool
	Timeout     time.Duration
}

// RecoverOutput is the output of the recover command.
type RecoverOutput struct {
	recovery.Result `yaml:",inline"`

	Error    string   `json:"error,omitempty" yaml:"error,omitempty"`
	DryRun   bool     `json:"dry_run" yaml:"dry_run"`
	Commands []string `json:"commands,omitempty" yaml:"commands,omitempty"`
}

// NewRecoverCommand creates the recover command.
func NewRecoverCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecoverOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Replay recorded transitions through the beads CLI",
		Long: `Replay every valid record in the log through the beads CLI, grouped by
entity in first-appearance order, then run a final sync.

A failing entity does not stop recovery of the others; it is listed in the
result and the command exits with code 1.

Exit codes:
  0 - All entities recovered
  1 - Recovery failed or at least one entity failed
  2 - Command error (log not readable, invalid flags, etc.)

Examples:
  beadwal recover
  beadwal recover --dry-run
  beadwal recover --tool /usr/local/bin/br --workdir ~/project --concurrency 4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecover(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Tool, "tool", "", "beads CLI binary (default from config, br)")
	cmd.Flags().StringVar(&opts.WorkDir, "workdir", "", "working directory for commands")
	cmd.Flags().BoolVar(&opts.NoSync, "no-sync", false, "skip the final sync command")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "print the commands instead of running them")
	cmd.Flags().IntVar(&opts.Concurrency, "concurrency", 0, "entities replayed in parallel")
	cmd.Flags().BoolVar(&opts.Shell, "shell", false, "run commands through sh -c")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "per-command timeout")

	return cmd
}

func runRecover(opts *RecoverOptions, cmd *cobra.Command) error {
	rc := opts.recoveryConfig(cmd)
	builder, err := command.NewBuilder(rc.Tool)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid tool", err)
	}

	a, closeLog, err := opts.openAdapter()
	if err != nil {
		return err
	}
	defer closeLog()

	var (
		exec    command.Executor
		planned *commandPlan
	)
	if opts.DryRun {
		planned = &commandPlan{}
		exec = planned
		rc.Concurrency = 1
	} else {
		exec = buildExecutor(rc, opts.Logger)
	}

	handler := recovery.New(a, builder, exec,
		recovery.WithWorkDir(rc.WorkDir),
		recovery.WithTimeout(rc.Timeout),
		recovery.WithSkipSync(rc.SkipSync),
		recovery.WithConcurrency(rc.Concurrency),
		recovery.WithLogger(opts.Logger),
	)
	res := handler.Recover(cmd.Context())

	out := RecoverOutput{Result: res, DryRun: opts.DryRun}
	if res.Error != nil {
		out.Error = res.Error.Error()
	}
	if planned != nil {
		out.Commands = planned.lines()
	}

	if err := opts.formatter(cmd).Success(out, func(w io.Writer) {
		writeRecoverText(w, out)
	}); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}

	switch {
	case !res.Success:
		return WrapExitError(ExitFailure, "recovery failed", res.Error)
	case len(res.EntitiesFailed) > 0:
		return NewExitError(ExitFailure, fmt.Sprintf("%d entities failed to recover", len(res.EntitiesFailed)))
	}
	return nil
}

// recoveryConfig returns the configured recovery settings with explicitly
// set flags applied.
func (o *RecoverOptions) recoveryConfig(cmd *cobra.Command) config.RecoveryConfig {
	rc := o.Config.Recovery
	flags := cmd.Flags()
	if flags.Changed("tool") {
		rc.Tool = o.Tool
	}
	if flags.Changed("workdir") {
		rc.WorkDir = o.WorkDir
	}
	if flags.Changed("no-sync") {
		rc.SkipSync = o.NoSync
	}
	if flags.Changed("concurrency") {
		rc.Concurrency = o.Concurrency
	}
	if flags.Changed("shell") {
		rc.Shell = o.Shell
	}
	if flags.Changed("timeout") {
		rc.Timeout = o.Timeout
	}
	return rc
}

// buildExecutor layers the rate limiter and circuit breaker over the base
// executor as configured.
func buildExecutor(rc config.RecoveryConfig, logger zerolog.Logger) command.Executor {
	var exec command.Executor = command.ProcessExecutor{}
	if rc.Shell {
		exec = command.ShellExecutor{}
	}
	if rc.RateLimit.PerSecond > 0 {
		exec = command.NewRateLimitedExecutor(exec, rc.RateLimit.PerSecond, rc.RateLimit.Burst)
	}
	if rc.Breaker.Enabled {
		exec = command.NewBreakerExecutor(exec, command.BreakerConfig{
			Name:             rc.Tool,
			FailureThreshold: rc.Breaker.FailureThreshold,
			Timeout:          rc.Breaker.Timeout,
		})
	}
	logger.Debug().
		Bool("shell", rc.Shell).
		Bool("breaker", rc.Breaker.Enabled).
		Float64("rate_per_second", rc.RateLimit.PerSecond).
		Msg("executor configured")
	return exec
}

// commandPlan is the executor used by --dry-run. It records each command
// and reports success.
type commandPlan struct {
	mu   sync.Mutex
	cmds []command.Command
}

func (p *commandPlan) Execute(_ context.Context, cmd command.Command, _ command.ExecOptions) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cmds = append(p.cmds, cmd)
	return nil, nil
}

func (p *commandPlan) lines() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	lines := make([]string, len(p.cmds))
	for i, c := range p.cmds {
		lines[i] = c.String()
	}
	return lines
}

func writeRecoverText(w io.Writer, out RecoverOutput) {
	if out.DryRun {
		for _, line := range out.Commands {
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w)
	}

	status := "succeeded"
	if !out.Success {
		status = "failed"
	}
	fmt.Fprintf(w, "Recovery %s: %d replayed, %d skipped, %d entities recovered in %s\n",
		status, out.EntriesReplayed, out.EntriesSkipped, len(out.EntitiesAffected),
		out.Duration.Round(time.Millisecond))
	if out.Error != "" {
		fmt.Fprintf(w, "Error: %s\n", out.Error)
	}
	if len(out.EntitiesFailed) > 0 {
		fmt.Fprintln(w, "Failed entities:")
		for _, e := range out.EntitiesFailed {
			fmt.Fprintf(w, "  %s: %s\n", e, out.Failures[e])
		}
	}
	if out.SyncError != "" {
		fmt.Fprintf(w, "Sync failed: %s\n", out.SyncError)
	}
}
