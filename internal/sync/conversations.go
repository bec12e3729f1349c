package sync

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/chat"
	"go.uber.org/zap"
)

// LoadConversations replaces the account's conversation list with the
// backend's. A locally newer last message survives the replacement.
func (c *Coordinator) LoadConversations(ctx context.Context, account string) ([]chat.ConversationSummary, error) {
	list, err := c.api.ListConversations(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	c.mu.Lock()
	st := c.stateLocked(account)
	next := make(map[string]*chat.ConversationSummary, len(list))
	for i := range list {
		s := list[i].Clone()
		if prev, ok := st.conversations[s.ID]; ok && prev.LastMessage != nil {
			lm := prev.LastMessage
			s.ApplyLastMessage(chat.Message{Content: lm.Content, SenderID: lm.SenderID, Timestamp: lm.Timestamp})
		}
		next[s.ID] = s
	}
	st.conversations = next
	out := sortedSummaries(next)
	c.mu.Unlock()

	c.bus.Emit(bus.KindConversationsLoaded, account, slices.Clone(out))
	return out, nil
}

// SeedConversations fills in summaries the account does not know yet, e.g.
// from local persistence at startup. Nothing is published.
func (c *Coordinator) SeedConversations(account string, list []chat.ConversationSummary) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := c.stateLocked(account)
	for i := range list {
		if _, ok := st.conversations[list[i].ID]; !ok {
			st.conversations[list[i].ID] = list[i].Clone()
		}
	}
}

// Conversations returns the account's summaries, most recent activity first.
func (c *Coordinator) Conversations(account string) []chat.ConversationSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.accounts[account]
	if !ok {
		return nil
	}
	return sortedSummaries(st.conversations)
}

// Conversation returns one summary.
func (c *Coordinator) Conversation(account, conversation string) (chat.ConversationSummary, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.accounts[account]; ok {
		if s, ok := st.conversations[conversation]; ok {
			return *s.Clone(), true
		}
	}
	return chat.ConversationSummary{}, false
}

// CreatePrivateConversation opens a one-to-one conversation with otherUserID.
func (c *Coordinator) CreatePrivateConversation(ctx context.Context, account, otherUserID string) (chat.ConversationSummary, error) {
	conv, err := c.api.CreatePrivateConversation(ctx, account, otherUserID)
	if err != nil {
		return chat.ConversationSummary{}, fmt.Errorf("create private conversation: %w", err)
	}
	c.upsertSummary(account, conv)
	return *conv.Clone(), nil
}

// CreateGroupConversation creates a named group conversation.
func (c *Coordinator) CreateGroupConversation(ctx context.Context, account, name string, participants []string) (chat.ConversationSummary, error) {
	conv, err := c.api.CreateGroupConversation(ctx, account, name, participants)
	if err != nil {
		return chat.ConversationSummary{}, fmt.Errorf("create group conversation: %w", err)
	}
	c.upsertSummary(account, conv)
	return *conv.Clone(), nil
}

// DeleteConversation deletes the conversation on the backend and drops its
// summary, bundle, unread count and typing entries.
func (c *Coordinator) DeleteConversation(ctx context.Context, account, conversation string) error {
	if err := c.api.DeleteConversation(ctx, account, conversation); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	wasOpen := c.IsOpen(account, conversation)

	c.mu.Lock()
	st := c.stateLocked(account)
	delete(st.conversations, conversation)
	delete(st.open, conversation)
	delete(st.issued, conversation)
	delete(st.applied, conversation)
	c.mu.Unlock()

	c.cache.Remove(account, conversation)
	c.clearTyping(account, conversation)
	if c.ledger.UnreadCount(account, conversation) > 0 {
		c.ledger.SetConversationUnread(account, conversation, 0)
		c.publishUnread(account)
	}
	if wasOpen {
		c.leave(ctx, account, conversation)
	}
	c.bus.Emit(bus.KindConversationRemoved, account, ConversationRemoval{ConversationID: conversation})
	return nil
}

// RefreshUnreadCounts replaces the unread ledger with the backend's counts.
func (c *Coordinator) RefreshUnreadCounts(ctx context.Context, account string) error {
	counts, err := c.api.UnreadCounts(ctx, account)
	if err != nil {
		return fmt.Errorf("unread counts: %w", err)
	}
	c.ledger.SetUnreadCounts(account, counts)
	c.publishUnread(account)
	return nil
}

// OpenConversation loads the conversation and clears its local unread count.
func (c *Coordinator) OpenConversation(ctx context.Context, account, conversation string) error {
	if c.ledger.UnreadCount(account, conversation) > 0 {
		c.ledger.SetConversationUnread(account, conversation, 0)
		c.publishUnread(account)
	}
	return c.LoadConversation(ctx, account, conversation)
}

// CloseConversation leaves the room and clears typing presence for it.
func (c *Coordinator) CloseConversation(ctx context.Context, account, conversation string) {
	c.setOpen(account, conversation, false)
	c.leave(ctx, account, conversation)
	c.clearTyping(account, conversation)
}

func (c *Coordinator) leave(ctx context.Context, account, conversation string) {
	room := c.room(account)
	if room == nil {
		return
	}
	if err := room.LeaveConversation(ctx, conversation); err != nil {
		c.logger.Debug("leave conversation failed",
			zap.String("account", account),
			zap.String("conversation", conversation),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) upsertSummary(account string, conv *chat.ConversationSummary) {
	c.mu.Lock()
	st := c.stateLocked(account)
	s := conv.Clone()
	if prev, ok := st.conversations[s.ID]; ok && prev.LastMessage != nil {
		lm := prev.LastMessage
		s.ApplyLastMessage(chat.Message{Content: lm.Content, SenderID: lm.SenderID, Timestamp: lm.Timestamp})
	}
	st.conversations[s.ID] = s
	out := *s.Clone()
	c.mu.Unlock()

	c.bus.Emit(bus.KindConversationUpdated, account, ConversationChange{Summary: out})
}

// touchSummary moves the summary's last message forward, creating a stub
// summary for conversations the list has not seen yet.
func (c *Coordinator) touchSummary(account, conversation string, msg chat.Message) {
	c.mu.Lock()
	st := c.stateLocked(account)
	s, ok := st.conversations[conversation]
	if !ok {
		s = &chat.ConversationSummary{ID: conversation}
		st.conversations[conversation] = s
	}
	changed := s.ApplyLastMessage(msg) || !ok
	out := *s.Clone()
	c.mu.Unlock()

	if changed {
		c.bus.Emit(bus.KindConversationUpdated, account, ConversationChange{Summary: out})
	}
}

func sortedSummaries(m map[string]*chat.ConversationSummary) []chat.ConversationSummary {
	out := make([]chat.ConversationSummary, 0, len(m))
	for _, s := range m {
		out = append(out, *s.Clone())
	}
	slices.SortFunc(out, func(a, b chat.ConversationSummary) int {
		switch {
		case a.LastMessage != nil && b.LastMessage != nil:
			if c := b.LastMessage.Timestamp.Compare(a.LastMessage.Timestamp); c != 0 {
				return c
			}
		case a.LastMessage != nil:
			return -1
		case b.LastMessage != nil:
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}
