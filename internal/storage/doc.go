// Package storage persists invocation history.
//
// Drivers:
//   - file: append-only JSON Lines, compacted to the newest records
//   - sqlite: a single-file database (pure Go driver)
//
// A Recorder feeds engine lifecycle events from the bus into a Store.
package storage
