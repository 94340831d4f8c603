package cli

import (
	"fmt"
	"io"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/roach88/beadwal/internal/transition"
)

// InspectResult is the output of the inspect command.
type InspectResult struct {
	Namespace  string              `json:"namespace" yaml:"namespace"`
	Records    []transition.Record `json:"records" yaml:"records"`
	Considered int                 `json:"considered" yaml:"considered"`
	Discarded  map[string]int      `json:"discarded" yaml:"discarded"`
	LastSeq    uint64              `json:"last_seq" yaml:"last_seq"`
}

// SinceResult is the output of the since command.
type SinceResult struct {
	Seq     uint64              `json:"seq" yaml:"seq"`
	Records []transition.Record `json:"records" yaml:"records"`
}

// StatusResult is the output of the status command.
type StatusResult struct {
	Backend   string `json:"backend" yaml:"backend"`
	Path      string `json:"path" yaml:"path"`
	Namespace string `json:"namespace" yaml:"namespace"`
	Seq       uint64 `json:"seq" yaml:"seq"`
}

// NewInspectCommand creates the inspect command.
func NewInspectCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "List valid records and discard counts",
		Long: `Replay the whole log and list every valid record in the namespace, oldest
first, with counts of entries that were discarded and why.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeLog, err := opts.openAdapter()
			if err != nil {
				return err
			}
			defer closeLog()

			scan, err := a.Scan(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read log", err)
			}
			result := InspectResult{
				Namespace:  a.Namespace(),
				Records:    scan.Records,
				Considered: scan.Considered,
				Discarded:  scan.Discarded,
				LastSeq:    scan.LastSeq,
			}
			if result.Records == nil {
				result.Records = []transition.Record{}
			}
			return opts.formatter(cmd).Success(result, func(w io.Writer) {
				writeRecordsText(w, result.Records)
				fmt.Fprintf(w, "\n%d valid of %d considered, last seq %d\n",
					len(result.Records), result.Considered, result.LastSeq)
				reasons := make([]string, 0, len(result.Discarded))
				for r := range result.Discarded {
					reasons = append(reasons, r)
				}
				slices.Sort(reasons)
				for _, r := range reasons {
					fmt.Fprintf(w, "discarded (%s): %d\n", r, result.Discarded[r])
				}
			})
		},
	}
}

// NewSinceCommand creates the since command.
func NewSinceCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "since <seq>",
		Short: "List valid records appended after a sequence number",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seq, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid sequence number", err)
			}

			a, closeLog, err := opts.openAdapter()
			if err != nil {
				return err
			}
			defer closeLog()

			recs, err := a.TransitionsSince(cmd.Context(), seq)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read log", err)
			}
			result := SinceResult{Seq: seq, Records: recs}
			return opts.formatter(cmd).Success(result, func(w io.Writer) {
				writeRecordsText(w, recs)
			})
		},
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print the current sequence number of the log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closeLog, err := opts.openAdapter()
			if err != nil {
				return err
			}
			defer closeLog()

			seq, err := a.CurrentSeq(cmd.Context())
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read log status", err)
			}
			result := StatusResult{
				Backend:   opts.Config.WAL.Backend,
				Path:      opts.Config.WAL.Path,
				Namespace: a.Namespace(),
				Seq:       seq,
			}
			return opts.formatter(cmd).Success(result, func(w io.Writer) {
				fmt.Fprintln(w, seq)
			})
		},
	}
}

func writeRecordsText(w io.Writer, recs []transition.Record) {
	if len(recs) == 0 {
		fmt.Fprintln(w, "No records.")
		return
	}
	for _, r := range recs {
		fmt.Fprintf(w, "%s  %-8s %-16s %s\n", r.Timestamp, r.Operation, r.EntityID, r.ID)
	}
}
