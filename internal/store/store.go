// Package store owns the shared SQLite datastore file: opening it, applying
// collector DDL idempotently, and executing parameterized inserts with a
// bounded busy-retry policy. Several independently scheduled collector
// sessions may touch the same file at overlapping times; the engine
// serializes writers at the file level and this package absorbs the
// resulting transient lock errors.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

// Busy-retry policy: a locked file is retried up to busyRetries times after
// the initial attempt, sleeping busyBaseDelay, then doubling.
const (
	busyRetries   = 5
	busyBaseDelay = 50 * time.Millisecond
)

// Session is one open connection to the shared datastore file. Owned by one
// collector run for its lifetime; create at start, Close at the end.
type Session struct {
	db   *sql.DB
	path string
}

// Open opens (creating if absent) the SQLite datastore at path and applies
// the pragmas for WAL mode, foreign keys, and performance. The parent
// directory is created when missing.
func Open(path string) (*Session, error) {
	if dir := filepath.Dir(path); path != ":memory:" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &StorageError{Kind: KindOpenFailed, Op: "mkdir " + dir, Err: err}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, &StorageError{Kind: KindOpenFailed, Op: "open " + path, Err: err}
	}

	// SQLite performs best with a single write connection. WAL enables
	// concurrent readers from sibling sessions.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, &StorageError{Kind: KindOpenFailed, Op: "ping " + path, Err: err}
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, &StorageError{Kind: KindOpenFailed, Op: p, Err: err}
		}
	}

	return &Session{db: db, path: path}, nil
}

// DB returns the underlying *sql.DB for direct queries.
func (s *Session) DB() *sql.DB {
	return s.db
}

// Path returns the datastore file location the session was opened on.
func (s *Session) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Session) Close() error {
	return s.db.Close()
}

// Migrate applies the DDL batch inside a single transaction, retrying the
// whole batch on transient lock contention. The statements come from the
// schema compiler and are idempotent (IF NOT EXISTS), so concurrent sessions
// racing on the same file all converge on the same schema: "already exists"
// never surfaces as an error, and a lost race costs at most a retry. Either
// the full batch applies or nothing does.
func (s *Session) Migrate(ctx context.Context, statements []string) error {
	return s.withBusyRetry(func() error {
		return s.Tx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range statements {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return classify("migrate", err)
				}
			}
			return nil
		})
	})
}

// Insert binds args positionally to the statement's placeholders, executes
// it under the busy-retry policy, and returns the affected row's id.
// Callers must pass values in the compiled statement's column order.
func (s *Session) Insert(ctx context.Context, query string, args ...any) (int64, error) {
	var rowID int64
	err := s.withBusyRetry(func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return classify("insert", err)
		}
		rowID, err = res.LastInsertId()
		if err != nil {
			return classify("insert rowid", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return rowID, nil
}

// Tx executes fn within a database transaction. The transaction is
// committed if fn returns nil, rolled back otherwise.
func (s *Session) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin tx", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original: %w)", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return classify("commit tx", err)
	}
	return nil
}

// withBusyRetry runs fn, retrying on lock contention with exponential
// backoff. After the budget is exhausted the last Busy error surfaces
// unchanged; non-busy failures propagate immediately.
func (s *Session) withBusyRetry(fn func() error) error {
	delay := busyBaseDelay
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !retryable(err) || attempt == busyRetries {
			return err
		}
		time.Sleep(delay)
		delay *= 2
	}
}
