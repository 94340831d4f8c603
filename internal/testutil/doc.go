// Package testutil provides deterministic fakes for tests: an in-memory
// write-ahead log, a recording command executor, a stepping wall clock, and
// fixed record id generators.
package testutil
