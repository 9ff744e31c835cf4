// Package storage persists execution records and the audit trail.
//
// Drivers:
//   - memory: process-local maps, used by tests and throwaway runs
//   - file: JSON snapshot plus an append-only journal, audit as JSON Lines
//   - sqlite: a single database file (modernc.org/sqlite, no cgo)
//   - postgres: pgxpool with golang-migrate migrations
//
// Every driver returns copies; callers may mutate what they get.
package storage
