// Package store provides the SQLite storage session used by the pipeline.
//
// A Store owns exactly one connection. Every statement, including BEGIN and
// COMMIT issued through the bypass path and the follow-up
// last_insert_rowid() lookup after an INSERT, runs on that connection.
//
// Besides the application tables (users, products) the schema carries two
// bookkeeping tables:
//   - app_state: one row per controller state entered (the audit trail)
//   - operation_queue: a best-effort mirror of queued requests with status
//     pending or processing
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
package store
