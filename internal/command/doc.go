// Package command turns transition records into external tool invocations
// and runs them.
//
// A Command is an argument vector. ProcessExecutor runs it directly with no
// shell in between; ShellExecutor exists for tools that are shell functions
// or aliases and runs the quoted rendering from Command.String. Every token
// in that rendering passes through Quote, and every free-text payload value
// passes through SanitizeText before it becomes an argument.
//
// Identifiers (entity ids, labels, dependency targets, the tool name) are
// checked against allow-lists rather than escaped.
package command
