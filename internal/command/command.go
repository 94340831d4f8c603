package command

import (
	"regexp"
	"strings"
)

// Command is a program and its arguments.
type Command struct {
	Program string
	Args    []string
}

// Argv returns the program followed by its arguments.
func (c Command) Argv() []string {
	argv := make([]string, 0, len(c.Args)+1)
	argv = append(argv, c.Program)
	return append(argv, c.Args...)
}

// String renders the command as a single POSIX shell line.
func (c Command) String() string {
	argv := c.Argv()
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = Quote(a)
	}
	return strings.Join(quoted, " ")
}

var bareToken = regexp.MustCompile(`^[A-Za-z0-9_./:=@%+-]+$`)

// Quote makes s safe to splice into a POSIX shell line as one word.
// Tokens made only of safe characters are returned as-is; anything else is
// wrapped in single quotes with embedded quotes written as '\''.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if bareToken.MatchString(s) {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
