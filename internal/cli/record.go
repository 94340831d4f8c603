package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/beadwal/internal/transition"
)

// RecordOptions holds flags for the record command.
type RecordOptions struct {
	*RootOptions
	Operation string
	EntityID  string
	Payload   string
	Set       []string
}

// RecordResult is the output of the record command.
type RecordResult struct {
	Seq       uint64 `json:"seq" yaml:"seq"`
	Operation string `json:"operation" yaml:"operation"`
	EntityID  string `json:"entity_id" yaml:"entity_id"`
}

// NewRecordCommand creates the record command.
func NewRecordCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecordOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "record",
		Short: "Append a state transition to the log",
		Long: `Validate a state transition, seal it with an id, timestamp, and payload
checksum, and append it to the write-ahead log. Prints the sequence number.

--set values are parsed as JSON when they are valid JSON and kept as plain
strings otherwise, so priority=1 is a number and title=Fix is a string.

Examples:
  beadwal record --op create --entity bd-1 --set title="Fix login" --set priority=1
  beadwal record --op label --entity bd-1 --payload '{"labels":["urgent"]}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecord(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Operation, "op", "", "operation ("+operationNames()+")")
	cmd.Flags().StringVar(&opts.EntityID, "entity", "", "entity id")
	cmd.Flags().StringVar(&opts.Payload, "payload", "", "payload as a JSON object")
	cmd.Flags().StringArrayVar(&opts.Set, "set", nil, "payload field as key=value (repeatable)")
	_ = cmd.MarkFlagRequired("op")
	_ = cmd.MarkFlagRequired("entity")

	return cmd
}

func runRecord(opts *RecordOptions, cmd *cobra.Command) error {
	op, err := transition.ParseOperation(opts.Operation)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid operation", err)
	}
	payload, err := buildPayload(opts.Payload, opts.Set)
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid payload", err)
	}

	a, closeLog, err := opts.openAdapter()
	if err != nil {
		return err
	}
	defer closeLog()

	seq, err := a.RecordTransition(cmd.Context(), transition.Change{
		Operation: op,
		EntityID:  opts.EntityID,
		Payload:   payload,
	})
	if err != nil {
		if transition.IsValidationError(err) {
			return WrapExitError(ExitCommandError, "transition rejected", err)
		}
		return WrapExitError(ExitFailure, "failed to record transition", err)
	}

	result := RecordResult{Seq: seq, Operation: string(op), EntityID: opts.EntityID}
	return opts.formatter(cmd).Success(result, func(w io.Writer) {
		fmt.Fprintln(w, seq)
	})
}

// buildPayload merges the JSON object in raw with key=value pairs.
// Pairs win over keys from raw.
func buildPayload(raw string, pairs []string) (transition.Payload, error) {
	payload := transition.Payload{}
	if strings.TrimSpace(raw) != "" {
		if err := decodeJSON(raw, &payload); err != nil {
			return nil, fmt.Errorf("--payload must be a JSON object: %w", err)
		}
	}
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("--set %q: want key=value", pair)
		}
		var v any
		if err := decodeJSON(value, &v); err != nil {
			v = value
		}
		payload[key] = v
	}
	return payload, nil
}

func decodeJSON(s string, v any) error {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

func operationNames() string {
	ops := transition.Operations()
	names := make([]string, len(ops))
	for i, op := range ops {
		names[i] = string(op)
	}
	return strings.Join(names, "|")
}
