// Package storage persists push traces: one record per delivery attempt
// handed to the transport. Pending tasks are never persisted.
//
// Drivers:
//   - "file":   append-only JSON Lines (dependency-free)
//   - "sqlite": SQLite database file (build with -tags sqlite)
package storage
