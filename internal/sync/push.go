package sync

import (
	"context"

	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/realtime"
	"go.uber.org/zap"
)

// Start subscribes to real-time events on the bus and applies them.
func (c *Coordinator) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.done = make(chan struct{})
	ch, unsub := c.bus.Subscribe("rt.", 256)

	go func() {
		defer close(c.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				c.handleEvent(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the event loop and cancels pending typing expiries.
func (c *Coordinator) Stop() {
	if c.cancel != nil {
		c.cancel()
		<-c.done
		c.cancel = nil
	}
	c.timers.CancelPrefix("")
}

func (c *Coordinator) handleEvent(evt bus.Event) {
	account := evt.Account
	switch p := evt.Payload.(type) {
	case realtime.NewMessage:
		c.handleNewMessage(account, p)
	case realtime.Typing:
		c.handleTyping(account, p)
	case realtime.UnreadCounts:
		c.ledger.SetUnreadCounts(account, p.Counts)
		c.publishUnread(account)
	case realtime.ConversationUnread:
		c.ledger.SetConversationUnread(account, p.ConversationID, p.Count)
		c.publishUnread(account)
	case realtime.MessagesRead:
		c.MarkAllMessagesAsRead(account, p.ConversationID, p.UserID)
	case realtime.Disconnect:
		c.logger.Info("channel disconnected", zap.String("account", account), zap.String("reason", p.Reason))
	case realtime.ServerError:
		c.logger.Warn("channel error", zap.String("account", account), zap.String("message", p.Message))
	}
}

func (c *Coordinator) handleNewMessage(account string, p realtime.NewMessage) {
	msg := p.Message
	conversation := msg.ConversationID
	if conversation == "" {
		c.logger.Warn("new message without conversation", zap.String("account", account), zap.String("message_id", msg.ID))
		return
	}
	added := c.AddMessage(account, conversation, msg)

	// Redelivered messages are not counted twice.
	if added && msg.SenderID != c.SelfID(account) && !c.IsOpen(account, conversation) {
		c.ledger.IncrementUnread(account, conversation, 1)
		c.publishUnread(account)
	}
	// A message from someone ends their typing indicator.
	if c.ledger.RemoveTypingUser(account, msg.SenderID, conversation) {
		c.timers.Cancel(typingKey(account, conversation, msg.SenderID))
		c.publishTyping(account, conversation)
	}
}

func (c *Coordinator) handleTyping(account string, p realtime.Typing) {
	if p.UserID == c.SelfID(account) {
		return
	}
	key := typingKey(account, p.ConversationID, p.UserID)
	if !p.Typing {
		c.timers.Cancel(key)
		if c.ledger.RemoveTypingUser(account, p.UserID, p.ConversationID) {
			c.publishTyping(account, p.ConversationID)
		}
		return
	}

	c.ledger.AddTypingUser(account, p.UserID, p.DisplayName, p.ConversationID)
	c.timers.Schedule(key, c.typingExpiry, func() {
		if c.ledger.RemoveTypingUser(account, p.UserID, p.ConversationID) {
			c.publishTyping(account, p.ConversationID)
		}
	})
	c.publishTyping(account, p.ConversationID)
}

func (c *Coordinator) clearTyping(account, conversation string) {
	c.timers.CancelPrefix(account + "/" + conversation + "/")
	c.ledger.ClearTypingForConversation(account, conversation)
	c.publishTyping(account, conversation)
}

func (c *Coordinator) publishTyping(account, conversation string) {
	c.bus.Emit(bus.KindTypingUpdated, account, TypingChange{
		ConversationID: conversation,
		Users:          c.ledger.TypingUsers(account, conversation),
	})
}

func typingKey(account, conversation, user string) string {
	return account + "/" + conversation + "/" + user
}
