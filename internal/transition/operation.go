package transition

import "fmt"

// Operation names the kind of state change a record describes.
type Operation string

const (
	OpCreate  Operation = "create"
	OpUpdate  Operation = "update"
	OpClose   Operation = "close"
	OpReopen  Operation = "reopen"
	OpLabel   Operation = "label"
	OpComment Operation = "comment"
	OpDep     Operation = "dep"
)

// operations lists every valid operation in declaration order.
var operations = []Operation{OpCreate, OpUpdate, OpClose, OpReopen, OpLabel, OpComment, OpDep}

// Operations returns all valid operations.
func Operations() []Operation {
	out := make([]Operation, len(operations))
	copy(out, operations)
	return out
}

// Valid reports whether op is one of the fixed operations.
func (op Operation) Valid() bool {
	for _, known := range operations {
		if op == known {
			return true
		}
	}
	return false
}

// String returns the operation name.
func (op Operation) String() string {
	return string(op)
}

// ParseOperation converts s into an Operation.
// Returns a *ValidationError if s is not a known operation.
func ParseOperation(s string) (Operation, error) {
	op := Operation(s)
	if !op.Valid() {
		return "", &ValidationError{
			Field:  "operation",
			Value:  s,
			Reason: fmt.Sprintf("must be one of %v", operations),
		}
	}
	return op, nil
}
