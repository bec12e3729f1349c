package sync

import (
	"github.com/matheus3301/convsync/internal/chat"
)

// BundleChange is the payload of chat.bundle_updated.
type BundleChange struct {
	ConversationID string
}

// ConversationChange is the payload of chat.conversation_updated.
type ConversationChange struct {
	Summary chat.ConversationSummary
}

// ConversationRemoval is the payload of chat.conversation_removed.
type ConversationRemoval struct {
	ConversationID string
}

// UnreadSnapshot is the payload of chat.unread_updated.
type UnreadSnapshot struct {
	Counts map[string]int
	Total  int
}

// TypingChange is the payload of chat.typing_updated.
type TypingChange struct {
	ConversationID string
	Users          []chat.TypingUser
}

// Confirmation is the payload of message.confirmed: the optimistic entry
// with ClientID was replaced by Message.
type Confirmation struct {
	ClientID string
	Message  chat.Message
}
