// Package store provides SQL-backed persistence for graph element records
// and their secondary index.
//
// Two tables carry all state:
//   - elements: one row per vertex or edge, properties as canonical JSON
//   - index_entries: (prop_key, value_hash, element_id) associations
//
// # Transactions
//
// A TxManager owns at most one *sql.Tx at a time. Begin is reentrant: an
// inner Begin joins the open transaction and only the outermost Commit
// reaches the database. Each inner scope opens a SAVEPOINT. An inner
// Rollback returns to it and runs that scope's AfterRollback hooks, then
// poisons the whole transaction, which the outermost Commit rolls back
// (ErrRollbackOnly).
//
// Hooks registered with AfterCommit and AfterRollback let callers keep
// in-memory state in step with the database: record identities assigned by
// an INSERT that is later rolled back revert to transient, and cache
// deregistration waits for a successful commit.
//
// # Drivers
//
//   - sqlite3: github.com/mattn/go-sqlite3 (cgo), the default
//   - sqlite:  modernc.org/sqlite (pure Go)
//   - pgx:     github.com/jackc/pgx/v5/stdlib (PostgreSQL)
//
// SQLite databases run in WAL mode with a single open connection, so all
// statements issued while a transaction is open must go through it. Exec
// and Query route there automatically.
package store
