package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// DB is the document store holding datasets, locks and remote services.
type DB struct {
	db *sql.DB

	// Now returns the current time. Defaults to time.Now; can be mocked for tests.
	Now func() time.Time
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS datasets (
		id TEXT PRIMARY KEY,
		status TEXT NOT NULL,
		is_virtual INTEGER NOT NULL DEFAULT 0,
		is_rest INTEGER NOT NULL DEFAULT 0,
		owner_type TEXT,
		owner_id TEXT,
		title TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		doc TEXT NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS datasets_status ON datasets (status, is_virtual);`,
	`CREATE INDEX IF NOT EXISTS datasets_owner ON datasets (owner_type, owner_id);`,
	`CREATE TABLE IF NOT EXISTS dataset_children (
		parent_id TEXT NOT NULL,
		child_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (parent_id, child_id)
	);`,
	`CREATE INDEX IF NOT EXISTS dataset_children_child ON dataset_children (child_id);`,
	`CREATE TABLE IF NOT EXISTS locks (
		id TEXT PRIMARY KEY,
		owner TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	);`,
	`CREATE INDEX IF NOT EXISTS locks_owner ON locks (owner);`,
	`CREATE TABLE IF NOT EXISTS remote_services (
		id TEXT PRIMARY KEY,
		doc TEXT NOT NULL
	);`,
}

// Open opens (creating if needed) the sqlite database at path and makes
// sure every table exists.
func Open(path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate", path)
	sdb, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}
	for _, stmt := range schema {
		if _, err := sdb.Exec(stmt); err != nil {
			sdb.Close()
			return nil, errors.Wrap(err, "creating tables")
		}
	}
	return &DB{db: sdb, Now: time.Now}, nil
}

// Close closes the underlying connection pool.
func (s *DB) Close() error {
	return s.db.Close()
}

// SQL exposes the connection pool to components sharing the database file.
func (s *DB) SQL() *sql.DB {
	return s.db
}

func (s *DB) now() time.Time {
	return s.Now().UTC()
}

// withTx runs fn in a write transaction, committing when fn succeeds.
func (s *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return errors.Wrap(tx.Commit(), "committing")
}

func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint
	}
	return false
}

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
