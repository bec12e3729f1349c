// Package store persists conversation summaries, unread counts and sync
// checkpoints in a per-profile SQLite database.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNoPath is returned by Open when no database file is given.
var ErrNoPath = errors.New("store: empty database path")

// connection pragmas, see github.com/mattn/go-sqlite3#connection-string.
var pragmas = url.Values{
	"_journal_mode": {"WAL"},
	"_synchronous":  {"NORMAL"},
	"_busy_timeout": {"5000"},
	"_foreign_keys": {"on"},
}

// DB is the profile's convsync.db. Writes come from the persistence engine;
// reads from warm start and the control CLI.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the database at path. The file must live
// in an existing directory.
func Open(path string) (*DB, error) {
	if path == "" {
		return nil, ErrNoPath
	}
	sqlDB, err := sql.Open("sqlite3", path+"?"+pragmas.Encode())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &DB{DB: sqlDB, path: path}, nil
}

// Path returns the database file.
func (db *DB) Path() string { return db.path }

// inTx runs fn in a transaction, committing when fn returns nil.
func (db *DB) inTx(op string, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("%s: begin tx: %w", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", op, err)
	}
	return nil
}
