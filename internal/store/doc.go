// Package store owns SQLite connections.
//
// Three kinds of connection are opened here:
//   - Database: a direct handle used by the migration planner and tools.
//   - Worker: a goroutine that owns one connection exclusively and executes
//     statements and transactions sent to it over channels.
//   - Snapshot: a short-lived second connection that pins a read
//     transaction while the database file is streamed out.
//
// # Connection Configuration
//
// Every connection applies the same pragmas once, on the connection that
// will execute statements:
//   - journal_mode=WAL: readers proceed while the writer commits
//   - synchronous=NORMAL: balance durability/performance
//   - busy_timeout=5000: wait for locks up to 5 seconds
//   - foreign_keys=ON: enforce referential integrity
//   - wal_autocheckpoint=0: only when an external process checkpoints
//
// Read workers additionally set query_only, so a read-mode connection
// cannot modify the database even if handed a write statement.
//
// # Faults
//
// A worker that fails to execute a statement closes its connection and
// stops. Its state is unknown, so it is never reused; the supervisor
// replaces it. A MoreThanOneError is not a fault: the cursor is fully
// drained before it is reported.
package store
