// Package schema checks recorded payloads against CUE definitions of what
// replay actually consults.
//
// Lint is advisory. It reports fields that replay will ignore and values it
// will drop or replace with a default; it never changes what is recorded or
// replayed.
package schema

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"

	"github.com/roach88/beadwal/internal/transition"
)

//go:embed payloads.cue
var payloadsCUE string

// Finding codes.
const (
	CodeIgnored          = "ignored"
	CodeInvalid          = "invalid"
	CodeUnknownOperation = "unknown_operation"
)

// Finding is one lint result for a record.
type Finding struct {
	RecordID  string `json:"record_id" yaml:"record_id"`
	EntityID  string `json:"entity_id" yaml:"entity_id"`
	Operation string `json:"operation" yaml:"operation"`
	Field     string `json:"field,omitempty" yaml:"field,omitempty"`
	Code      string `json:"code" yaml:"code"`
	Message   string `json:"message" yaml:"message"`
}

// String renders the finding on one line.
func (f Finding) String() string {
	if f.Field == "" {
		return fmt.Sprintf("%s %s (%s): [%s] %s", f.EntityID, f.RecordID, f.Operation, f.Code, f.Message)
	}
	return fmt.Sprintf("%s %s (%s): [%s] %s: %s", f.EntityID, f.RecordID, f.Operation, f.Code, f.Field, f.Message)
}

// Linter holds compiled payload definitions.
type Linter struct {
	ctx  *cue.Context
	defs map[transition.Operation]cue.Value
	// known lists the declared fields of each operation.
	known map[transition.Operation]map[string]bool
}

// New compiles the built-in payload definitions.
func New() (*Linter, error) {
	return NewFromSource(payloadsCUE)
}

// NewFromSource compiles payload definitions from CUE source. The source
// must define a "payload" struct with one field per operation.
func NewFromSource(src string) (*Linter, error) {
	ctx := cuecontext.New()
	root := ctx.CompileString(src, cue.Filename("payloads.cue"))
	if err := root.Err(); err != nil {
		return nil, fmt.Errorf("compile payload schema: %w", formatCUEError(err))
	}

	l := &Linter{
		ctx:   ctx,
		defs:  make(map[transition.Operation]cue.Value),
		known: make(map[transition.Operation]map[string]bool),
	}
	for _, op := range transition.Operations() {
		def := root.LookupPath(cue.ParsePath("payload." + string(op)))
		if !def.Exists() {
			continue
		}
		iter, err := def.Fields(cue.Optional(true))
		if err != nil {
			return nil, fmt.Errorf("payload schema for %s: %w", op, err)
		}
		fields := make(map[string]bool)
		for iter.Next() {
			fields[iter.Label()] = true
		}
		l.defs[op] = def
		l.known[op] = fields
	}
	return l, nil
}

// Lint checks one record. Findings are ordered by field name.
func (l *Linter) Lint(rec transition.Record) []Finding {
	base := Finding{RecordID: rec.ID, EntityID: rec.EntityID, Operation: string(rec.Operation)}

	def, ok := l.defs[rec.Operation]
	if !ok {
		f := base
		f.Code = CodeUnknownOperation
		f.Message = "no payload definition for this operation"
		return []Finding{f}
	}

	var findings []Finding
	for _, key := range rec.Payload.Keys() {
		f := base
		f.Field = key
		if !l.known[rec.Operation][key] {
			f.Code = CodeIgnored
			f.Message = "field is not used when replaying " + string(rec.Operation)
			findings = append(findings, f)
			continue
		}
		if err := l.checkField(def, key, rec.Payload[key]); err != nil {
			f.Code = CodeInvalid
			f.Message = err.Error()
			findings = append(findings, f)
		}
	}
	return findings
}

// LintAll checks every record and returns the findings in record order.
func (l *Linter) LintAll(recs []transition.Record) []Finding {
	var out []Finding
	for _, rec := range recs {
		out = append(out, l.Lint(rec)...)
	}
	return out
}

// checkField unifies {key: value} with the operation definition.
func (l *Linter) checkField(def cue.Value, key string, value any) error {
	data, err := json.Marshal(map[string]any{key: value})
	if err != nil {
		return fmt.Errorf("cannot encode value: %w", err)
	}
	v := l.ctx.CompileBytes(data)
	if err := v.Err(); err != nil {
		return formatCUEError(err)
	}
	if err := def.Unify(v).Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// formatCUEError reduces a CUE error list to one message, picked in sorted
// order so output is stable.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	sort.Strings(msgs)
	return fmt.Errorf("%s", msgs[0])
}
