// Package chat holds the domain types shared by the cache, the sync
// coordinator and the transport clients.
package chat

import (
	"fmt"
	"slices"
	"time"
)

// Kind distinguishes one-to-one conversations from group conversations.
type Kind string

const (
	Private Kind = "private"
	Group   Kind = "group"
)

// ParseKind validates a wire conversation type.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case Private, Group:
		return Kind(s), nil
	}
	return "", fmt.Errorf("unknown conversation type %q", s)
}

// LastMessage is the preview shown in conversation lists.
type LastMessage struct {
	Content   string    `json:"content"`
	SenderID  string    `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
}

// ConversationSummary is the list-level view of a conversation.
type ConversationSummary struct {
	ID             string       `json:"id"`
	Kind           Kind         `json:"type"`
	ParticipantIDs []string     `json:"participants"`
	Name           string       `json:"name,omitempty"`
	LastMessage    *LastMessage `json:"lastMessage,omitempty"`
	DisplayName    string       `json:"displayName,omitempty"`
	AvatarURL      string       `json:"avatarUrl,omitempty"`
}

// Clone returns a deep copy. Nil-safe.
func (c *ConversationSummary) Clone() *ConversationSummary {
	if c == nil {
		return nil
	}
	out := *c
	out.ParticipantIDs = slices.Clone(c.ParticipantIDs)
	if c.LastMessage != nil {
		lm := *c.LastMessage
		out.LastMessage = &lm
	}
	return &out
}

// Title returns the best human label for the conversation.
func (c *ConversationSummary) Title() string {
	switch {
	case c.Name != "":
		return c.Name
	case c.DisplayName != "":
		return c.DisplayName
	}
	return c.ID
}

// ApplyLastMessage records msg as the conversation preview unless the current
// preview is newer. Reports whether the preview changed.
func (c *ConversationSummary) ApplyLastMessage(msg Message) bool {
	if c.LastMessage != nil && c.LastMessage.Timestamp.After(msg.Timestamp) {
		return false
	}
	next := LastMessage{Content: msg.Content, SenderID: msg.SenderID, Timestamp: msg.Timestamp}
	if c.LastMessage != nil && *c.LastMessage == next {
		return false
	}
	c.LastMessage = &next
	return true
}

// TypingUser is an ephemeral typing-presence entry.
type TypingUser struct {
	UserID         string
	DisplayName    string
	ConversationID string
}
