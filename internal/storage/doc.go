// Package storage persists projects and their tasks, including the schedule
// derived for them.
//
// Drivers:
//   - memory: process-local maps, used by tests and dry runs
//   - file: JSON snapshot plus an append-only JSON Lines journal
//   - sqlite: a SQLite database file (modernc.org/sqlite, no cgo)
//
// Every structural edit is written through Commit, which applies the project
// row, task upserts and task deletes of one project atomically.
package storage
