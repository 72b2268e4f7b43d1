package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Database not yet initialized by this package
// 1 - Initial schema
const currentSchemaVersion = 1

// ErrClosed is returned by operations on a closed Store.
var ErrClosed = errors.New("store: session closed")

// Store is a single-connection SQLite session.
//
// Thread-safety: a Store is meant to be owned by one goroutine. database/sql
// serializes access to the pinned connection, but interleaving statements
// from several goroutines breaks BEGIN/COMMIT grouping.
type Store struct {
	db      *sql.DB
	conn    *sql.Conn
	path    string
	existed bool
}

// Open creates or opens the SQLite database at path, pins one connection,
// applies pragmas and brings the schema up to date.
//
// Existed reports whether the database file was present before Open ran.
// In-memory databases and URI paths never count as pre-existing.
func Open(ctx context.Context, path string) (*Store, error) {
	existed := fileExists(path)

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One writer; every statement of the session shares the connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &Store{db: db, conn: conn, path: path, existed: existed}

	if err := s.applyPragmas(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := s.applySchema(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return s, nil
}

func fileExists(path string) bool {
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file:") {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Close releases the connection. Safe to call more than once.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var errs []error
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
			errs = append(errs, err)
		}
		s.conn = nil
	}
	if err := s.db.Close(); err != nil {
		errs = append(errs, err)
	}
	s.db = nil
	return errors.Join(errs...)
}

// Path returns the path the store was opened with.
func (s *Store) Path() string {
	return s.path
}

// Existed reports whether the database file existed before Open.
func (s *Store) Existed() bool {
	return s.existed
}

// Ping verifies the session is still usable.
func (s *Store) Ping(ctx context.Context) error {
	if s.conn == nil {
		return ErrClosed
	}
	return s.conn.PingContext(ctx)
}

// Conn returns the pinned connection. Returns nil once the store is closed.
func (s *Store) Conn() *sql.Conn {
	return s.conn
}

// Exec runs a statement on the pinned connection.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if s.conn == nil {
		return nil, ErrClosed
	}
	return s.conn.ExecContext(ctx, query, args...)
}

// Query runs a query on the pinned connection.
// Callers are responsible for closing the returned rows.
func (s *Store) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if s.conn == nil {
		return nil, ErrClosed
	}
	return s.conn.QueryContext(ctx, query, args...)
}

// applyPragmas sets required SQLite configuration.
func (s *Store) applyPragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := s.conn.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and records the schema
// version. This function is idempotent.
func (s *Store) applySchema(ctx context.Context) error {
	var version int
	if err := s.conn.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("database schema version %d is newer than supported version %d", version, currentSchemaVersion)
	}

	if _, err := s.conn.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if version < currentSchemaVersion {
		if _, err := s.conn.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}

	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(ctx context.Context, name, expected string) error {
	var value string
	if err := s.conn.QueryRowContext(ctx, "PRAGMA "+name).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
