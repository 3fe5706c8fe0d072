package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/mattn/go-sqlite3"    // registers "sqlite3"
	_ "modernc.org/sqlite"             // registers "sqlite"
)

//go:embed schema_sqlite.sql
var schemaSQLite string

//go:embed schema_postgres.sql
var schemaPostgres string

// Schema version tracking (SQLite user_version):
// 0 - fresh database
// 1 - elements + index_entries
const currentSchemaVersion = 1

// Driver names a database/sql driver the store knows how to configure.
type Driver string

const (
	DriverSQLite3  Driver = "sqlite3" // mattn/go-sqlite3
	DriverSQLite   Driver = "sqlite"  // modernc.org/sqlite
	DriverPostgres Driver = "pgx"     // jackc/pgx stdlib
)

// ParseDriver validates a driver name.
func ParseDriver(name string) (Driver, error) {
	switch Driver(name) {
	case DriverSQLite3, DriverSQLite, DriverPostgres:
		return Driver(name), nil
	case "":
		return DriverSQLite3, nil
	default:
		return "", fmt.Errorf("unknown storage driver %q", name)
	}
}

func (d Driver) isSQLite() bool {
	return d == DriverSQLite3 || d == DriverSQLite
}

var (
	// ErrNotFound is returned when a record id has no row.
	ErrNotFound = errors.New("record not found")

	// ErrRecordDeleted is returned when saving a record that was deleted.
	ErrRecordDeleted = errors.New("record deleted")
)

// sqlOpen is swapped in tests to inject failing connections.
var sqlOpen = sql.Open

// Store provides durable storage for element records and index entries.
type Store struct {
	db     *sql.DB
	driver Driver
	tx     *TxManager
}

// Open creates or opens a SQLite database at path using the default driver.
func Open(path string) (*Store, error) {
	return OpenDriver(context.Background(), DriverSQLite3, path)
}

// OpenDriver opens a store with the given driver and data source.
// The schema is applied idempotently; SQLite databases additionally get
// WAL pragmas and user_version migrations.
func OpenDriver(ctx context.Context, driver Driver, dsn string, opts ...TxOption) (*Store, error) {
	if dsn == "" {
		return nil, fmt.Errorf("open %s: empty data source", driver)
	}
	db, err := sqlOpen(string(driver), dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if driver.isSQLite() {
		// SQLite supports one writer; a single connection also keeps an
		// open transaction visible to every statement we issue.
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)

		if err := applyPragmas(ctx, db); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to apply pragmas: %w", err)
		}
	}

	if err := applySchema(ctx, db, driver); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	s := &Store{db: db, driver: driver}
	s.tx = newTxManager(db, opts...)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB returns the underlying sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver reports which driver the store was opened with.
func (s *Store) Driver() Driver {
	return s.driver
}

// Tx returns the store's transaction manager.
func (s *Store) Tx() *TxManager {
	return s.tx
}

// exec runs a statement through the open transaction, if any.
func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.conn().ExecContext(ctx, s.rebind(query), args...)
}

// query runs a query through the open transaction, if any.
// Callers are responsible for closing the returned rows.
func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.tx.conn().QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.tx.conn().QueryRowContext(ctx, s.rebind(query), args...)
}

// rebind rewrites ? placeholders to $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
func applySchema(ctx context.Context, db *sql.DB, driver Driver) error {
	if driver == DriverPostgres {
		for _, stmt := range splitStatements(schemaPostgres) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("failed to execute schema: %w", err)
			}
		}
		return nil
	}

	if _, err := db.ExecContext(ctx, schemaSQLite); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return runMigrations(ctx, db)
}

// runMigrations applies incremental SQLite migrations based on user_version.
func runMigrations(ctx context.Context, db *sql.DB) error {
	var version int
	if err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version >= currentSchemaVersion {
		return nil
	}
	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}

// splitStatements breaks a schema file on semicolons. The schema files
// contain no string literals with semicolons.
func splitStatements(schema string) []string {
	var out []string
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) != "" {
			out = append(out, stmt)
		}
	}
	return out
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	var got string
	if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", name)).Scan(&got); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if got != expected {
		return fmt.Errorf("%s = %q, expected %q", name, got, expected)
	}
	return nil
}
