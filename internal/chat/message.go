package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status tags a message as an optimistic local echo or a server record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
)

// LocalIDPrefix marks client-generated ids.
const LocalIDPrefix = "local-"

// DefaultMatchTolerance is how far apart an optimistic entry and its server
// confirmation may be stamped and still be reconciled.
const DefaultMatchTolerance = 10 * time.Second

// Message is a chat message. Pending messages use their ClientID as ID until
// the server confirmation replaces them.
type Message struct {
	ID             string    `json:"id"`
	ClientID       string    `json:"clientId,omitempty"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
	Read           bool      `json:"read"`
	Status         Status    `json:"-"`
}

// NewPendingMessage builds an optimistic message with a fresh client id.
func NewPendingMessage(conversationID, senderID, content string, now time.Time) Message {
	clientID := LocalIDPrefix + uuid.NewString()
	return Message{
		ID:             clientID,
		ClientID:       clientID,
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		Timestamp:      now,
		Read:           true,
		Status:         StatusPending,
	}
}

// IsPending reports whether m is an unconfirmed local echo.
func (m Message) IsPending() bool {
	return m.Status == StatusPending
}

// IsLocalID reports whether id was generated on this client.
func IsLocalID(id string) bool {
	return strings.HasPrefix(id, LocalIDPrefix)
}

// Confirms reports whether the server message m is the confirmation of the
// pending entry p: same client id, or same sender and content stamped within
// tolerance.
func (m Message) Confirms(p Message, tolerance time.Duration) bool {
	if !p.IsPending() || m.IsPending() {
		return false
	}
	if m.ClientID != "" && m.ClientID == p.ClientID {
		return true
	}
	if m.SenderID != p.SenderID || m.Content != p.Content {
		return false
	}
	delta := m.Timestamp.Sub(p.Timestamp)
	if delta < 0 {
		delta = -delta
	}
	return delta <= tolerance
}
