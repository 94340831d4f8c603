package transition

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
)

// MaxEntityIDLength bounds entity identifiers.
const MaxEntityIDLength = 128

// entityIDPattern is the allow-list for entity identifiers.
// Anything outside it (path separators, dots, quotes, whitespace) is rejected,
// as is a leading hyphen, since ids are passed to the tool as positional
// arguments.
var entityIDPattern = regexp.MustCompile(`^[A-Za-z0-9_][A-Za-z0-9_-]*$`)

// ErrChecksumMismatch is wrapped by Record.Verify when the stored checksum
// does not match the payload.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// ValidationError reports a record field that failed validation.
type ValidationError struct {
	// Field is the record field, e.g. "entity_id" or "payload.labels".
	Field string

	// Value is the offending value, truncated for display.
	Value string

	// Reason is a human-readable description.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

// IsValidationError returns true if err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ValidEntityID reports whether id passes ValidateEntityID.
func ValidEntityID(id string) bool {
	return ValidateEntityID(id) == nil
}

// ValidateEntityID checks id against the identifier allow-list and length bound.
func ValidateEntityID(id string) error {
	if id == "" {
		return &ValidationError{Field: "entity_id", Reason: "must not be empty"}
	}
	if len(id) > MaxEntityIDLength {
		return &ValidationError{
			Field:  "entity_id",
			Value:  truncate(id, 32),
			Reason: fmt.Sprintf("longer than %d bytes", MaxEntityIDLength),
		}
	}
	if !entityIDPattern.MatchString(id) {
		return &ValidationError{
			Field:  "entity_id",
			Value:  truncate(id, 64),
			Reason: "only letters, digits, underscore and hyphen are allowed, and it must not start with a hyphen",
		}
	}
	return nil
}

// ValidatePayload enforces the flat-payload rule: every value is a scalar
// or an array of scalars. Nested objects and arrays of arrays are rejected.
func ValidatePayload(p Payload) error {
	for _, key := range p.Keys() {
		if key == "" {
			return &ValidationError{Field: "payload", Reason: "empty key"}
		}
		switch v := p[key].(type) {
		case []any:
			for i, elem := range v {
				if !isScalar(elem) {
					return &ValidationError{
						Field:  fmt.Sprintf("payload.%s[%d]", key, i),
						Reason: fmt.Sprintf("array elements must be scalars, got %T", elem),
					}
				}
				if reason := numberProblem(elem); reason != "" {
					return &ValidationError{Field: fmt.Sprintf("payload.%s[%d]", key, i), Reason: reason}
				}
			}
		case []string:
		default:
			if !isScalar(v) {
				return &ValidationError{
					Field:  "payload." + key,
					Reason: fmt.Sprintf("payload must be flat, got %T", v),
				}
			}
			if reason := numberProblem(v); reason != "" {
				return &ValidationError{Field: "payload." + key, Reason: reason}
			}
		}
	}
	return nil
}

// ValidateChange checks the entity id, operation, and payload of c.
func ValidateChange(c Change) error {
	if err := ValidateEntityID(c.EntityID); err != nil {
		return err
	}
	if !c.Operation.Valid() {
		return &ValidationError{
			Field:  "operation",
			Value:  truncate(string(c.Operation), 32),
			Reason: fmt.Sprintf("must be one of %v", operations),
		}
	}
	return ValidatePayload(c.Payload)
}

// ValidateShape checks a record read back from the log: id, timestamp and
// checksum must be present, entity id and operation must pass the same
// checks as at write time, and the payload must be an object.
func ValidateShape(r Record) error {
	switch {
	case r.ID == "":
		return &ValidationError{Field: "id", Reason: "missing"}
	case r.Timestamp == "":
		return &ValidationError{Field: "timestamp", Reason: "missing"}
	case r.Checksum == "":
		return &ValidationError{Field: "checksum", Reason: "missing"}
	case r.Payload == nil:
		return &ValidationError{Field: "payload", Reason: "must be an object"}
	}
	if err := ValidateEntityID(r.EntityID); err != nil {
		return err
	}
	if !r.Operation.Valid() {
		return &ValidationError{
			Field:  "operation",
			Value:  truncate(string(r.Operation), 32),
			Reason: "unknown operation",
		}
	}
	return nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}

// numberProblem rejects numeric values whose JSON text does not decode back
// to the number that was hashed. float32 widens to a different float64 than
// its shortest decimal form, and unsigned values past MaxInt64 are outside
// the integer range the canonical form preserves.
func numberProblem(v any) string {
	switch n := v.(type) {
	case float32:
		return "float32 values are not supported, use float64"
	case uint:
		if uint64(n) > math.MaxInt64 {
			return fmt.Sprintf("unsigned value %d exceeds the int64 range", n)
		}
	case uint64:
		if n > math.MaxInt64 {
			return fmt.Sprintf("unsigned value %d exceeds the int64 range", n)
		}
	}
	return ""
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
