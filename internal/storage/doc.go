// Package storage persists reminders.
//
// Drivers:
//   - "sqlite": local database file (pure Go driver, default)
//   - "file": dependency-free JSON snapshot + journal
//   - "mongo": MongoDB collection compatible with the legacy document layout
//   - "postgres": PostgreSQL through gorm
//
// Every driver keys rows on (subject id, lower-cased medication label) and
// reports connectivity failures wrapped around ErrUnavailable.
package storage
