package sync

import (
	"slices"

	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/cache"
	"github.com/matheus3301/convsync/internal/chat"
)

// AddMessage records a message for the conversation. If the bundle is cached
// the message is appended unless its id is already present; a confirmed
// message replaces the pending entry it confirms. The conversation summary's
// last message is updated whether or not the bundle is cached. It returns
// false when the cached bundle already held the message.
func (c *Coordinator) AddMessage(account, conversation string, msg chat.Message) bool {
	if msg.ConversationID == "" {
		msg.ConversationID = conversation
	}
	if msg.Status == "" {
		msg.Status = chat.StatusConfirmed
	}

	var confirmed *Confirmation
	duplicate := false
	changed := c.cache.Update(account, conversation, func(b *cache.Bundle) bool {
		if b.IndexOf(msg.ID) >= 0 {
			duplicate = true
			return false
		}
		if b.Conversation != nil {
			b.Conversation.ApplyLastMessage(msg)
		}
		if msg.IsPending() {
			b.Messages = append(b.Messages, msg)
			return true
		}
		if i := findPending(b.Messages, msg, c.matchTolerance); i >= 0 {
			confirmed = &Confirmation{ClientID: b.Messages[i].ClientID, Message: msg}
			b.Messages = slices.Delete(b.Messages, i, i+1)
		}
		b.Messages = insertConfirmed(b.Messages, msg)
		return true
	})
	if duplicate {
		return false
	}
	if changed {
		c.publishBundle(account, conversation)
	}
	if confirmed != nil {
		c.bus.Emit(bus.KindMessageConfirmed, account, *confirmed)
	}

	c.touchSummary(account, conversation, msg)
	return true
}

// RemoveMessage deletes a message from the cached bundle. Used to roll back
// an optimistic entry whose dispatch failed.
func (c *Coordinator) RemoveMessage(account, conversation, messageID string) bool {
	removed := c.cache.Update(account, conversation, func(b *cache.Bundle) bool {
		i := b.IndexOf(messageID)
		if i < 0 {
			return false
		}
		b.Messages = slices.Delete(b.Messages, i, i+1)
		return true
	})
	if removed {
		c.publishBundle(account, conversation)
	}
	return removed
}

// UpdateMessageReadStatus sets the read flag of one cached message. No-op
// when the bundle is not cached.
func (c *Coordinator) UpdateMessageReadStatus(account, conversation, messageID string, read bool) bool {
	changed := c.cache.Update(account, conversation, func(b *cache.Bundle) bool {
		i := b.IndexOf(messageID)
		if i < 0 || b.Messages[i].Read == read {
			return false
		}
		b.Messages[i].Read = read
		return true
	})
	if changed {
		c.publishBundle(account, conversation)
	}
	return changed
}

// MarkAllMessagesAsRead flips every unread cached message sent by userID to
// read and returns how many changed. No-op when the bundle is not cached.
func (c *Coordinator) MarkAllMessagesAsRead(account, conversation, userID string) int {
	n := 0
	c.cache.Update(account, conversation, func(b *cache.Bundle) bool {
		for i := range b.Messages {
			if b.Messages[i].SenderID == userID && !b.Messages[i].Read {
				b.Messages[i].Read = true
				n++
			}
		}
		return n > 0
	})
	if n > 0 {
		c.publishBundle(account, conversation)
	}
	return n
}
