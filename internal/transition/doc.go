// Package transition defines the Transition Record: the durable unit the
// bridge writes to, and reads back from, the generic write-ahead log.
//
// A record describes one state change to one entity of the external record
// store. It is created exactly once, right before the change is applied,
// and is immutable afterwards.
//
// Key constraints:
//   - Entity identifiers match ^[A-Za-z0-9_][A-Za-z0-9_-]*$ and are at most 128 bytes
//   - Operations come from a closed set (create, update, close, reopen,
//     label, comment, dep)
//   - Payloads are flat: scalar values or arrays of scalars, no nested objects
//   - Checksums are computed over the canonical JSON form of the payload,
//     so key order and number spelling never change the digest
//   - Timestamps use a fixed-width UTC layout so string order equals time order
//
// This package imports nothing internal.
package transition
