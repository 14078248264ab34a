package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roach88/intake/internal/query"
)

// Observer receives statement timings.
type Observer interface {
	ObserveQuery(query, worker string, elapsed time.Duration)
}

type options struct {
	mode               query.Mode
	externalCheckpoint bool
	statementCache     int
	observer           Observer
}

// Option configures a connection.
type Option func(*options)

// WithMode sets the connection mode. Read connections are query-only.
func WithMode(mode query.Mode) Option {
	return func(o *options) {
		o.mode = mode
	}
}

// WithExternalCheckpoint disables automatic WAL checkpoints.
// Use when another process owns checkpointing.
func WithExternalCheckpoint() Option {
	return func(o *options) {
		o.externalCheckpoint = true
	}
}

// WithStatementCache sets how many prepared statements a worker keeps.
func WithStatementCache(size int) Option {
	return func(o *options) {
		o.statementCache = size
	}
}

// WithObserver sets the statement timing observer for workers.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		o.observer = obs
	}
}

func buildOptions(opts []Option) options {
	o := options{
		mode:           query.Write,
		statementCache: 64,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Database is a direct handle on a single SQLite connection.
type Database struct {
	path string
	opts []Option
	o    options
	db   *sql.DB
	conn *sql.Conn
}

// Open creates or opens a SQLite database at the given path and pins one
// connection with the configured pragmas applied.
func Open(path string, opts ...Option) (*Database, error) {
	o := buildOptions(opts)

	// Open database (creates file if doesn't exist)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Pragmas are per connection; keep exactly one.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	conn, err := db.Conn(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	d := &Database{path: path, opts: opts, o: o, db: db, conn: conn}
	if err := d.applyPragmas(context.Background()); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	return d, nil
}

// Close releases the connection.
func (d *Database) Close() error {
	if d.db == nil {
		return nil
	}
	d.conn.Close()
	err := d.db.Close()
	d.db = nil
	return err
}

// Location returns the absolute path of the backing file, or "" for
// in-memory databases.
func (d *Database) Location() string {
	if InMemory(d.path) {
		return ""
	}
	abs, err := filepath.Abs(d.path)
	if err != nil {
		return d.path
	}
	return abs
}

// InMemory reports whether path names a database without a backing file.
func InMemory(path string) bool {
	return path == "" ||
		path == ":memory:" ||
		strings.HasPrefix(path, "file::memory:") ||
		strings.Contains(path, "mode=memory")
}

// Exec runs one or more statements without returning rows.
func (d *Database) Exec(ctx context.Context, sqlText string, args ...any) error {
	if _, err := d.conn.ExecContext(ctx, sqlText, args...); err != nil {
		return err
	}
	return nil
}

// Query executes a query and returns the resulting rows.
// Callers are responsible for closing the returned rows.
func (d *Database) Query(ctx context.Context, sqlText string, args ...any) (*sql.Rows, error) {
	return d.conn.QueryContext(ctx, sqlText, args...)
}

// QueryRow executes a query expected to return at most one row.
func (d *Database) QueryRow(ctx context.Context, sqlText string, args ...any) *sql.Row {
	return d.conn.QueryRowContext(ctx, sqlText, args...)
}

// InTx runs fn inside a transaction, committing on nil and rolling back
// on error.
func (d *Database) InTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (rollback: %v)", err, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// TableExists reports whether a table named name exists.
func (d *Database) TableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := d.conn.QueryRowContext(ctx,
		`select count(*) from sqlite_master where type = 'table' and name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("inspect table %s: %w", name, err)
	}
	return n > 0, nil
}

// applyPragmas sets required SQLite configuration.
func (d *Database) applyPragmas(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	if d.o.externalCheckpoint {
		pragmas = append(pragmas, "PRAGMA wal_autocheckpoint = 0")
	}
	if d.o.mode == query.Read {
		pragmas = append(pragmas, "PRAGMA query_only = ON")
	}

	for _, pragma := range pragmas {
		if _, err := d.conn.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (d *Database) verifyPragma(name, expected string) error {
	var value string
	if err := d.conn.QueryRowContext(context.Background(), "PRAGMA "+name).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}
