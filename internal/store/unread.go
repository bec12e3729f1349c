package store

import (
	"database/sql"
	"fmt"
	"time"
)

// ReplaceUnreadCounts stores counts as the account's complete unread map.
// Zero counts are not stored.
func (db *DB) ReplaceUnreadCounts(account string, counts map[string]int) error {
	return db.inTx("replace unread", func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM unread_counts WHERE account = ?`, account); err != nil {
			return fmt.Errorf("clear: %w", err)
		}
		now := time.Now().UnixMilli()
		for id, n := range counts {
			if n <= 0 {
				continue
			}
			if _, err := tx.Exec(`
				INSERT INTO unread_counts (account, conversation_id, count, updated_at)
				VALUES (?, ?, ?, ?)`, account, id, n, now); err != nil {
				return fmt.Errorf("insert %s: %w", id, err)
			}
		}
		return nil
	})
}

// UnreadCounts returns the stored unread map of account.
func (db *DB) UnreadCounts(account string) (map[string]int, error) {
	rows, err := db.Query(`SELECT conversation_id, count FROM unread_counts WHERE account = ?`, account)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]int)
	for rows.Next() {
		var id string
		var n int
		if err := rows.Scan(&id, &n); err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, rows.Err()
}
