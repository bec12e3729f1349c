// Package outbox sends messages with an optimistic local echo. Nothing is
// queued: a send while disconnected is rejected up front.
package outbox

import (
	"context"
	"strings"
	"time"

	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/chat"
	"go.uber.org/zap"
)

// Dispatcher writes messages to the real-time channel of one account.
type Dispatcher interface {
	IsConnected() bool
	SendMessage(ctx context.Context, conversation, content, clientID string) bool
}

// Channels resolves the dispatcher of a mounted account.
type Channels interface {
	Dispatcher(account string) (Dispatcher, bool)
}

// Messages is where optimistic entries are recorded and rolled back.
type Messages interface {
	SelfID(account string) string
	AddMessage(account, conversation string, msg chat.Message) bool
	RemoveMessage(account, conversation, messageID string) bool
}

// Dispatch is the payload of message.dispatched.
type Dispatch struct {
	ConversationID string
	ClientID       string
}

// SendFailure is the payload of message.send_failed.
type SendFailure struct {
	ConversationID string
	ClientID       string
	Reason         string
}

// Sender performs optimistic sends.
type Sender struct {
	channels Channels
	messages Messages
	bus      *bus.Bus
	logger   *zap.Logger
	now      func() time.Time
}

// NewSender creates a new sender.
func NewSender(channels Channels, messages Messages, b *bus.Bus, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		channels: channels,
		messages: messages,
		bus:      b,
		logger:   logger,
		now:      time.Now,
	}
}

// Send appends a pending message and dispatches it. It returns false, with
// no pending entry left behind, when the account's channel is disconnected
// or the frame could not be written. The caller keeps its input on false.
func (s *Sender) Send(ctx context.Context, account, conversation, content string) (chat.Message, bool) {
	if strings.TrimSpace(content) == "" {
		return chat.Message{}, false
	}
	log := s.logger.With(zap.String("account", account), zap.String("conversation", conversation))

	d, ok := s.channels.Dispatcher(account)
	if !ok || !d.IsConnected() {
		log.Debug("send rejected, channel disconnected")
		s.bus.Emit(bus.KindMessageSendFailed, account, SendFailure{ConversationID: conversation, Reason: "disconnected"})
		return chat.Message{}, false
	}

	msg := chat.NewPendingMessage(conversation, s.messages.SelfID(account), content, s.now())
	s.messages.AddMessage(account, conversation, msg)

	if !d.SendMessage(ctx, conversation, content, msg.ClientID) {
		s.messages.RemoveMessage(account, conversation, msg.ID)
		log.Warn("send not dispatched", zap.String("client_id", msg.ClientID))
		s.bus.Emit(bus.KindMessageSendFailed, account, SendFailure{ConversationID: conversation, ClientID: msg.ClientID, Reason: "dispatch failed"})
		return msg, false
	}

	log.Debug("message dispatched", zap.String("client_id", msg.ClientID))
	s.bus.Emit(bus.KindMessageDispatched, account, Dispatch{ConversationID: conversation, ClientID: msg.ClientID})
	return msg, true
}
