package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/matheus3301/convsync/internal/chat"
)

const upsertConversation = `
	INSERT INTO conversations (account, id, kind, name, participants, display_name, avatar_url,
		last_content, last_sender, last_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(account, id) DO UPDATE SET
		kind = CASE WHEN excluded.kind != '' THEN excluded.kind ELSE conversations.kind END,
		name = CASE WHEN excluded.kind != '' THEN excluded.name ELSE conversations.name END,
		participants = CASE WHEN excluded.kind != '' THEN excluded.participants ELSE conversations.participants END,
		display_name = CASE WHEN excluded.kind != '' THEN excluded.display_name ELSE conversations.display_name END,
		avatar_url = CASE WHEN excluded.kind != '' THEN excluded.avatar_url ELSE conversations.avatar_url END,
		last_content = CASE WHEN excluded.last_at >= conversations.last_at THEN excluded.last_content ELSE conversations.last_content END,
		last_sender = CASE WHEN excluded.last_at >= conversations.last_at THEN excluded.last_sender ELSE conversations.last_sender END,
		last_at = MAX(excluded.last_at, conversations.last_at),
		updated_at = excluded.updated_at`

// UpsertConversation inserts or updates a summary. The stored last message
// only moves forward in time; a stub summary (empty kind) never clears
// metadata learned earlier.
func (db *DB) UpsertConversation(account string, c *chat.ConversationSummary) error {
	args, err := conversationArgs(account, c)
	if err != nil {
		return err
	}
	_, err = db.Exec(upsertConversation, args...)
	return err
}

// UpsertConversations writes a batch of summaries in one transaction.
func (db *DB) UpsertConversations(account string, list []chat.ConversationSummary) error {
	return db.inTx("upsert conversations", func(tx *sql.Tx) error {
		stmt, err := tx.Prepare(upsertConversation)
		if err != nil {
			return fmt.Errorf("prepare: %w", err)
		}
		defer func() { _ = stmt.Close() }()

		for i := range list {
			args, err := conversationArgs(account, &list[i])
			if err != nil {
				return err
			}
			if _, err := stmt.Exec(args...); err != nil {
				return fmt.Errorf("%s: %w", list[i].ID, err)
			}
		}
		return nil
	})
}

func conversationArgs(account string, c *chat.ConversationSummary) ([]any, error) {
	participants := c.ParticipantIDs
	if participants == nil {
		participants = []string{}
	}
	raw, err := json.Marshal(participants)
	if err != nil {
		return nil, fmt.Errorf("encode participants: %w", err)
	}
	var content, sender string
	var lastAt int64
	if c.LastMessage != nil {
		content = c.LastMessage.Content
		sender = c.LastMessage.SenderID
		lastAt = c.LastMessage.Timestamp.UnixMilli()
	}
	return []any{
		account, c.ID, string(c.Kind), c.Name, string(raw), c.DisplayName, c.AvatarURL,
		content, sender, lastAt, time.Now().UnixMilli(),
	}, nil
}

// ListConversations returns the account's summaries, most recent activity first.
func (db *DB) ListConversations(account string) ([]chat.ConversationSummary, error) {
	rows, err := db.Query(`
		SELECT id, kind, name, participants, display_name, avatar_url, last_content, last_sender, last_at
		FROM conversations
		WHERE account = ?
		ORDER BY last_at DESC, id ASC`, account)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []chat.ConversationSummary
	for rows.Next() {
		var (
			c                     chat.ConversationSummary
			kind, participants    string
			lastContent, lastFrom string
			lastAt                int64
		)
		if err := rows.Scan(&c.ID, &kind, &c.Name, &participants, &c.DisplayName, &c.AvatarURL, &lastContent, &lastFrom, &lastAt); err != nil {
			return nil, err
		}
		c.Kind = chat.Kind(kind)
		if err := json.Unmarshal([]byte(participants), &c.ParticipantIDs); err != nil {
			return nil, fmt.Errorf("decode participants of %s: %w", c.ID, err)
		}
		if lastAt > 0 {
			c.LastMessage = &chat.LastMessage{Content: lastContent, SenderID: lastFrom, Timestamp: time.UnixMilli(lastAt).UTC()}
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteConversation removes a summary and its unread count.
func (db *DB) DeleteConversation(account, id string) error {
	return db.inTx("delete conversation", func(tx *sql.Tx) error {
		if _, err := tx.Exec(`DELETE FROM conversations WHERE account = ? AND id = ?`, account, id); err != nil {
			return err
		}
		_, err := tx.Exec(`DELETE FROM unread_counts WHERE account = ? AND conversation_id = ?`, account, id)
		return err
	})
}
