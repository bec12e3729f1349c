package store

import (
	"database/sql"
	"errors"
	"time"
)

// SetSyncState upserts a per-account checkpoint value.
func (db *DB) SetSyncState(account, key, value string) error {
	_, err := db.Exec(`
		INSERT INTO sync_state (account, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(account, key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		account, key, value, time.Now().UnixMilli())
	return err
}

// SyncState returns a checkpoint value. ok is false when none was recorded.
func (db *DB) SyncState(account, key string) (value string, ok bool, err error) {
	err = db.QueryRow(`SELECT value FROM sync_state WHERE account = ? AND key = ?`, account, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Accounts lists every account that has stored conversations.
func (db *DB) Accounts() ([]string, error) {
	rows, err := db.Query(`SELECT DISTINCT account FROM conversations ORDER BY account`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
