package transition

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the fixed-width UTC layout used for Record.Timestamp.
// Every timestamp has the same length, so lexicographic order is time order.
const TimestampLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTimestamp renders t in TimestampLayout after converting it to UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Payload is the operation-specific field mapping of a record.
// Values are scalars or arrays of scalars; see ValidatePayload.
type Payload map[string]any

// Change is a state change that has not been recorded yet.
// The id, timestamp, and checksum are assigned when it is sealed.
type Change struct {
	Operation Operation
	EntityID  string
	Payload   Payload
}

// Record is one immutable transition as stored in the write-ahead log.
type Record struct {
	ID        string    `json:"id" yaml:"id"`
	Timestamp string    `json:"timestamp" yaml:"timestamp"`
	Operation Operation `json:"operation" yaml:"operation"`
	EntityID  string    `json:"entity_id" yaml:"entity_id"`
	Payload   Payload   `json:"payload" yaml:"payload"`
	Checksum  string    `json:"checksum" yaml:"checksum"`
}

// Seal validates c and turns it into a Record with the given id and time.
// A nil payload is stored as an empty object.
func Seal(c Change, id string, at time.Time) (Record, error) {
	if err := ValidateChange(c); err != nil {
		return Record{}, err
	}
	payload := c.Payload
	if payload == nil {
		payload = Payload{}
	}
	sum, err := Checksum(payload)
	if err != nil {
		return Record{}, fmt.Errorf("seal %s record: %w", c.Operation, err)
	}
	return Record{
		ID:        id,
		Timestamp: FormatTimestamp(at),
		Operation: c.Operation,
		EntityID:  c.EntityID,
		Payload:   payload,
		Checksum:  sum,
	}, nil
}

// Verify recomputes the payload checksum and compares it to r.Checksum.
func (r Record) Verify() error {
	sum, err := Checksum(r.Payload)
	if err != nil {
		return fmt.Errorf("verify record %s: %w", r.ID, err)
	}
	if sum != r.Checksum {
		return fmt.Errorf("%w: record %s stored %s, computed %s", ErrChecksumMismatch, r.ID, r.Checksum, sum)
	}
	return nil
}

// Keys returns the payload keys in sorted order.
func (p Payload) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the value at key if it is a string.
func (p Payload) String(key string) (string, bool) {
	s, ok := p[key].(string)
	return s, ok
}

// Int returns the value at key as an integer.
// Accepts Go integer kinds, integral floats, json.Number, and decimal strings.
func (p Payload) Int(key string) (int64, bool) {
	v, ok := p[key]
	if !ok {
		return 0, false
	}
	return toInt(v)
}

// Strings returns the value at key as a list of strings.
// A single string yields a one-element list; non-string elements are dropped.
func (p Payload) Strings(key string) []string {
	switch v := p[key].(type) {
	case string:
		return []string{v}
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]string, 0, len(v))
		for _, elem := range v {
			if s, ok := elem.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func toInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float32:
		return floatToInt(float64(n))
	case float64:
		return floatToInt(n)
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return i, true
		}
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return floatToInt(f)
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

func floatToInt(f float64) (int64, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
