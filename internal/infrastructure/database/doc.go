// Package database provides SQLite connectivity for Homestream Core.
//
// It manages:
//   - Opening the database file with WAL mode and busy timeout pragmas
//   - Embedded schema migrations applied at startup
//   - Health checks and connection pool statistics
//
// SQLite is a deliberate choice for a single-home deployment: one file,
// no external service, and the single-writer model matches the bridge's
// write pattern (append-only telemetry and control history).
package database
