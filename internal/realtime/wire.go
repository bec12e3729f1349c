package realtime

import (
	"encoding/json"

	"github.com/matheus3301/convsync/internal/chat"
)

// Wire event names.
const (
	evAuthenticate       = "authenticate"
	evAuthenticated      = "authenticated"
	evJoin               = "join_conversation"
	evLeave              = "leave_conversation"
	evSendMessage        = "send_message"
	evTypingStart        = "typing_start"
	evTypingStop         = "typing_stop"
	evNewMessage         = "new_message"
	evUserTyping         = "user_typing"
	evUserStopTyping     = "user_stop_typing"
	evUnreadCounts       = "unread_counts"
	evConversationUnread = "conversation_unread"
	evMessagesRead       = "messages_read"
	evError              = "error"
)

// envelope is the frame format in both directions.
type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type authenticateData struct {
	Token     string `json:"token"`
	AccountID string `json:"accountId"`
}

type conversationData struct {
	ConversationID string `json:"conversationId"`
}

type sendMessageData struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
	ClientID       string `json:"clientId,omitempty"`
}

// NewMessage is the payload of rt.new_message events.
type NewMessage struct {
	Message chat.Message `json:"message"`
}

// Typing is the payload of rt.typing events. Typing is false for stop signals.
type Typing struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
	DisplayName    string `json:"displayName"`
	Typing         bool   `json:"-"`
}

// UnreadCounts is the payload of rt.unread_counts events.
type UnreadCounts struct {
	Counts map[string]int `json:"counts"`
}

// ConversationUnread is the payload of rt.conversation_unread events.
type ConversationUnread struct {
	ConversationID string `json:"conversationId"`
	Count          int    `json:"count"`
}

// MessagesRead is the payload of rt.messages_read events: userID's messages
// in the conversation were read by the other side.
type MessagesRead struct {
	ConversationID string `json:"conversationId"`
	UserID         string `json:"userId"`
}

// ServerError is the payload of rt.error events.
type ServerError struct {
	Message string `json:"message"`
}

// Disconnect is the payload of rt.disconnected events.
type Disconnect struct {
	Reason string
}
