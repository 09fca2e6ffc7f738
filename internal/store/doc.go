// Package store persists schedules, their task chains, and per-run outcome
// records.
//
// It currently supports:
//   - SQLite (primary; WAL, embedded migrations)
//   - An in-memory driver for development and tests
package store
