package store

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/matheus3301/convsync/internal/store/migrations"
)

// migrationsTable records the applied schema version inside convsync.db.
const migrationsTable = "schema_version"

// ErrDirtySchema means a previous migration stopped halfway. The file has to
// be repaired or removed by hand; the daemon refuses to start on it.
var ErrDirtySchema = errors.New("store schema is dirty")

// MigrateResult reports the schema version before and after Migrate.
type MigrateResult struct {
	From    uint
	Version uint
	Dirty   bool
	Changed bool
}

// Migrate brings the schema up to the newest embedded migration. A database
// written by a newer build is rejected rather than downgraded.
func (db *DB) Migrate() (*MigrateResult, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	latest, err := latestVersion(src)
	if err != nil {
		return nil, err
	}

	driver, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{MigrationsTable: migrationsTable})
	if err != nil {
		return nil, fmt.Errorf("migrate %s: %w", db.path, err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return nil, fmt.Errorf("migrate %s: %w", db.path, err)
	}

	from, dirty, err := schemaVersion(m)
	if err != nil {
		return nil, err
	}
	switch {
	case dirty:
		return nil, fmt.Errorf("%w: %s at version %d", ErrDirtySchema, db.path, from)
	case from > latest:
		return nil, fmt.Errorf("store %s has schema %d, this build knows up to %d", db.path, from, latest)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return nil, fmt.Errorf("migrate %s: %w", db.path, err)
	}

	to, dirty, err := schemaVersion(m)
	if err != nil {
		return nil, err
	}
	return &MigrateResult{From: from, Version: to, Dirty: dirty, Changed: to != from}, nil
}

// schemaVersion reads the applied version; a fresh database is version 0.
func schemaVersion(m *migrate.Migrate) (uint, bool, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return v, dirty, nil
}

func latestVersion(src source.Driver) (uint, error) {
	v, err := src.First()
	if err != nil {
		return 0, fmt.Errorf("first migration: %w", err)
	}
	for {
		next, err := src.Next(v)
		if errors.Is(err, fs.ErrNotExist) {
			return v, nil
		}
		if err != nil {
			return 0, fmt.Errorf("next migration after %d: %w", v, err)
		}
		v = next
	}
}
