package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/roach88/beadwal/internal/metrics"
	"github.com/roach88/beadwal/internal/transition"
	"github.com/roach88/beadwal/internal/wal"
)

// DefaultNamespace is the path prefix used when none is configured.
const DefaultNamespace = "beads"

// Discard reasons reported by Scan.
const (
	DiscardDecode   = "decode"
	DiscardParse    = "parse"
	DiscardInvalid  = "invalid"
	DiscardChecksum = "checksum"
)

// Adapter writes transition records to a wal.Log and replays them.
type Adapter struct {
	log       wal.Log
	namespace string
	logger    zerolog.Logger
	verbose   bool
	now       func() time.Time
	ids       IDGenerator
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithNamespace sets the path prefix. It must be a valid identifier.
func WithNamespace(ns string) Option {
	return func(a *Adapter) { a.namespace = ns }
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(l zerolog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithVerbose logs each recorded transition at info level.
func WithVerbose(v bool) Option {
	return func(a *Adapter) { a.verbose = v }
}

// WithClock sets the time source for record timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// WithIDGenerator sets the record id source.
func WithIDGenerator(g IDGenerator) Option {
	return func(a *Adapter) { a.ids = g }
}

// New creates an Adapter over log.
func New(log wal.Log, opts ...Option) (*Adapter, error) {
	if log == nil {
		return nil, errors.New("adapter: nil log")
	}
	a := &Adapter{
		log:       log,
		namespace: DefaultNamespace,
		logger:    zerolog.Nop(),
		now:       time.Now,
		ids:       UUIDv7Generator{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if err := transition.ValidateEntityID(a.namespace); err != nil {
		return nil, fmt.Errorf("adapter: namespace: %w", err)
	}
	return a, nil
}

// Namespace returns the configured path prefix.
func (a *Adapter) Namespace() string {
	return a.namespace
}

// RecordTransition validates c, seals it into a record, and appends it.
// Returns the WAL sequence number. On validation failure nothing is
// appended and the error is a *transition.ValidationError.
func (a *Adapter) RecordTransition(ctx context.Context, c transition.Change) (uint64, error) {
	rec, err := transition.Seal(c, a.ids.Generate(), a.now())
	if err != nil {
		return 0, err
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return 0, fmt.Errorf("record %s transition: %w", rec.Operation, err)
	}

	seq, err := a.log.Append(ctx, wal.OpWrite, a.path(rec), data)
	if err != nil {
		return 0, fmt.Errorf("record %s transition: %w", rec.Operation, err)
	}

	metrics.TransitionsRecorded.WithLabelValues(string(rec.Operation)).Inc()

	ev := a.logger.Debug()
	if a.verbose {
		ev = a.logger.Info()
	}
	ev.Str("operation", string(rec.Operation)).Uint64("seq", seq).Msg("transition recorded")

	return seq, nil
}

// ScanResult is the outcome of a full replay.
type ScanResult struct {
	// Records are the valid records, stable-sorted by timestamp.
	Records []transition.Record

	// Discarded counts rejected entries by reason.
	Discarded map[string]int

	// Considered is the number of write entries under the namespace.
	Considered int

	// LastSeq is the highest sequence number seen, inside the namespace or not.
	LastSeq uint64
}

// DiscardedTotal sums Discarded.
func (r ScanResult) DiscardedTotal() int {
	n := 0
	for _, c := range r.Discarded {
		n += c
	}
	return n
}

// Scan replays the whole log and reports valid records and discards.
// The only error is a failure of the underlying log.
func (a *Adapter) Scan(ctx context.Context) (ScanResult, error) {
	res := ScanResult{Discarded: make(map[string]int)}
	err := a.log.Replay(ctx, func(e wal.Entry) error {
		if e.Seq > res.LastSeq {
			res.LastSeq = e.Seq
		}
		a.collect(&res, e)
		return nil
	})
	if err != nil {
		return ScanResult{}, fmt.Errorf("replay: %w", err)
	}
	sortByTimestamp(res.Records)
	return res, nil
}

// Replay returns every valid record in the namespace, oldest first.
func (a *Adapter) Replay(ctx context.Context) ([]transition.Record, error) {
	res, err := a.Scan(ctx)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// TransitionsSince returns valid records with a sequence number above seq.
// When the log cannot read incrementally the result is empty, not an error.
func (a *Adapter) TransitionsSince(ctx context.Context, seq uint64) ([]transition.Record, error) {
	sr, ok := a.log.(wal.SinceReader)
	if !ok {
		a.logger.Debug().Uint64("since", seq).Msg("log does not support incremental reads; returning no transitions")
		return []transition.Record{}, nil
	}

	entries, err := sr.EntriesSince(ctx, seq)
	if err != nil {
		return nil, fmt.Errorf("entries since %d: %w", seq, err)
	}

	res := ScanResult{Discarded: make(map[string]int)}
	for _, e := range entries {
		a.collect(&res, e)
	}
	sortByTimestamp(res.Records)
	if res.Records == nil {
		res.Records = []transition.Record{}
	}
	return res.Records, nil
}

// CurrentSeq returns the sequence number at the head of the log.
func (a *Adapter) CurrentSeq(ctx context.Context) (uint64, error) {
	st, err := a.log.Status(ctx)
	if err != nil {
		return 0, fmt.Errorf("status: %w", err)
	}
	return st.Seq, nil
}

func (a *Adapter) path(rec transition.Record) string {
	return a.namespace + "/" + rec.EntityID + "/" + rec.ID
}

// collect runs one entry through the decode pipeline and adds the result to res.
func (a *Adapter) collect(res *ScanResult, e wal.Entry) {
	if e.Op != wal.OpWrite || !strings.HasPrefix(e.Path, a.namespace+"/") {
		return
	}
	res.Considered++

	rec, reason, err := decodeEntry(e.Data)
	if err != nil {
		res.Discarded[reason]++
		metrics.EntriesDiscarded.WithLabelValues(reason).Inc()
		a.logger.Debug().
			Uint64("seq", e.Seq).
			Str("reason", reason).
			Err(err).
			Msg("discarding WAL entry")
		return
	}
	res.Records = append(res.Records, rec)
}

// wireRecord is the stored form; the payload is kept raw so that a
// non-object payload is a shape error rather than a parse error.
type wireRecord struct {
	ID        string          `json:"id"`
	Timestamp string          `json:"timestamp"`
	Operation string          `json:"operation"`
	EntityID  string          `json:"entity_id"`
	Payload   json.RawMessage `json:"payload"`
	Checksum  string          `json:"checksum"`
}

func encodeRecord(rec transition.Record) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(rec); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// decodeEntry returns the record in data or the discard reason and cause.
func decodeEntry(data []byte) (transition.Record, string, error) {
	if !utf8.Valid(data) {
		return transition.Record{}, DiscardDecode, errors.New("entry is not valid UTF-8")
	}

	var w wireRecord
	if err := strictUnmarshal(data, &w); err != nil {
		return transition.Record{}, DiscardParse, err
	}

	rec := transition.Record{
		ID:        w.ID,
		Timestamp: w.Timestamp,
		Operation: transition.Operation(w.Operation),
		EntityID:  w.EntityID,
		Checksum:  w.Checksum,
	}
	raw := bytes.TrimSpace(w.Payload)
	if len(raw) > 0 && raw[0] == '{' {
		var p transition.Payload
		if err := strictUnmarshal(raw, &p); err != nil {
			return transition.Record{}, DiscardParse, err
		}
		rec.Payload = p
	}

	if err := transition.ValidateShape(rec); err != nil {
		return transition.Record{}, DiscardInvalid, err
	}
	if err := rec.Verify(); err != nil {
		return transition.Record{}, DiscardChecksum, err
	}
	return rec, "", nil
}

// strictUnmarshal decodes exactly one JSON value with numbers kept as json.Number.
func strictUnmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return errors.New("trailing data after JSON value")
	}
	return nil
}

func sortByTimestamp(recs []transition.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Timestamp < recs[j].Timestamp
	})
}
