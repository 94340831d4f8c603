package command

import (
	"errors"
	"fmt"
	"regexp"
)

// DefaultTool is the issue tracker binary used when none is configured.
const DefaultTool = "br"

// ErrInvalidTool is returned for tool names outside the allow-list.
var ErrInvalidTool = errors.New("invalid tool name")

// toolPattern allows a bare name or a slash-separated path. Segments must
// start with a letter, digit, or underscore, which also rules out "." and "..".
var toolPattern = regexp.MustCompile(`^/?[A-Za-z0-9_][A-Za-z0-9_.-]*(/[A-Za-z0-9_][A-Za-z0-9_.-]*)*$`)

// ValidateTool checks that name is a plain program name or path.
// Whitespace, shell metacharacters, and "." or ".." segments are rejected.
func ValidateTool(name string) error {
	if !toolPattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidTool, name)
	}
	return nil
}
