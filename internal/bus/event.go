package bus

import "time"

// Event kinds. Subscribers filter on the namespace prefix (e.g. "rt.", "chat.").
const (
	KindChannelState = "channel.state_changed"

	KindRTConnected          = "rt.connected"
	KindRTDisconnected       = "rt.disconnected"
	KindRTNewMessage         = "rt.new_message"
	KindRTTyping             = "rt.typing"
	KindRTUnreadCounts       = "rt.unread_counts"
	KindRTConversationUnread = "rt.conversation_unread"
	KindRTMessagesRead       = "rt.messages_read"
	KindRTError              = "rt.error"

	KindBundleUpdated       = "chat.bundle_updated"
	KindConversationUpdated = "chat.conversation_updated"
	KindConversationsLoaded = "chat.conversations_loaded"
	KindConversationRemoved = "chat.conversation_removed"
	KindUnreadUpdated       = "chat.unread_updated"
	KindTypingUpdated       = "chat.typing_updated"

	KindMessageDispatched = "message.dispatched"
	KindMessageConfirmed  = "message.confirmed"
	KindMessageSendFailed = "message.send_failed"

	KindCacheEvicted = "cache.evicted"
)

// Event represents a domain event published on the bus. Account is empty for
// events that are not scoped to a single account.
type Event struct {
	Kind      string
	Account   string
	Timestamp time.Time
	Payload   any
}

// Scoped reports whether the event belongs to the given account.
func (e Event) Scoped(account string) bool {
	return e.Account == "" || e.Account == account
}
