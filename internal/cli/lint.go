package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/beadwal/internal/schema"
)

// LintResult is the output of the lint command.
type LintResult struct {
	Records  int              `json:"records" yaml:"records"`
	Findings []schema.Finding `json:"findings" yaml:"findings"`
}

// NewLintCommand creates the lint command.
func NewLintCommand(opts *RootOptions) *cobra.Command {
	var strict bool

	cmd := &cobra.Command{
		Use:   "lint",
		Short: "Check recorded payloads against the payload schema",
		Long: `Check every valid record's payload against the CUE payload definitions and
report fields that recovery would ignore or values it would replace.

Lint is advisory and exits 0 unless --strict is given and findings exist.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			linter, err := schema.New()
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load payload schema", err)
			}

			a, closeLog, err := opts.openAdapter()
			if err != nil {
				return err
			}
			defer closeLog()

			recs, err := a.Replay(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read log", err)
			}

			result := LintResult{Records: len(recs), Findings: linter.LintAll(recs)}
			if result.Findings == nil {
				result.Findings = []schema.Finding{}
			}
			if err := opts.formatter(cmd).Success(result, func(w io.Writer) {
				for _, f := range result.Findings {
					fmt.Fprintln(w, f.String())
				}
				fmt.Fprintf(w, "%d findings in %d records\n", len(result.Findings), result.Records)
			}); err != nil {
				return err
			}

			if strict && len(result.Findings) > 0 {
				return NewExitError(ExitFailure, fmt.Sprintf("%d lint findings", len(result.Findings)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "exit 1 when there are findings")
	return cmd
}
