// Package adapter records issue-tracker state transitions in a generic
// write-ahead log and reads them back.
//
// Each transition is stored as one JSON object under the path
//
//	<namespace>/<entity id>/<record id>
//
// The namespace (default "beads") lets the adapter share a log with other
// writers; replay ignores anything outside it.
//
// Replay is tolerant: entries that are not UTF-8, not JSON, missing
// required fields, or whose checksum does not match the payload are
// discarded and counted, never returned. A corrupt entry never stops
// replay of the entries around it.
package adapter
