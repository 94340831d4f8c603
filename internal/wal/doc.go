// Package wal defines the write-ahead log consumed by the recovery bridge.
//
// The log is generic: it stores opaque byte payloads under a path and hands
// out monotonically increasing sequence numbers. Callers own the encoding of
// the payload and the layout of the path.
//
// Three backends live in subpackages:
//   - sqlitewal: a single SQLite table, the default
//   - badgerwal: BadgerDB with synchronous writes
//   - pebblewal: Pebble with synced batches
//
// All backends implement Log and SinceReader. Consumers must not assume
// SinceReader is present; test doubles and foreign logs may omit it.
package wal
