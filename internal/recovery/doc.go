// Package recovery replays recorded transitions into the external issue
// tracker after a crash.
//
// Records are grouped by entity. Within a group they are applied strictly in
// order; groups are independent, so a failing entity only abandons its own
// remaining records and recovery moves on. Groups run one at a time by
// default, or several at once with WithConcurrency.
//
// A Result is always returned. Only a failure to read the log at all makes
// the whole run unsuccessful; per-entity failures are reported in
// Result.EntitiesFailed and Result.Failures.
package recovery
