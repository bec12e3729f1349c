// Package chatview is the read/act surface a chat screen binds to. A View
// follows one conversation of one account at a time.
package chatview

import (
	"context"
	"sync"
	"time"

	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/cache"
	"github.com/matheus3301/convsync/internal/chat"
	"github.com/matheus3301/convsync/internal/sched"
	chatsync "github.com/matheus3301/convsync/internal/sync"
	"go.uber.org/zap"
)

// DefaultTypingIdle is how long after the last StartTyping a stop is sent.
const DefaultTypingIdle = 2 * time.Second

const idleKey = "typing-idle"

// Engine is the slice of the sync coordinator a view needs.
type Engine interface {
	Bundle(account, conversation string) (*cache.Bundle, bool)
	TypingUsers(account, conversation string) []chat.TypingUser
	OpenConversation(ctx context.Context, account, conversation string) error
	CloseConversation(ctx context.Context, account, conversation string)
	RefreshMessages(ctx context.Context, account, conversation string) error
}

// Sender performs optimistic sends.
type Sender interface {
	Send(ctx context.Context, account, conversation, content string) (chat.Message, bool)
}

// Typist emits typing signals on the account's channel.
type Typist interface {
	StartTyping(ctx context.Context, conversation string) bool
	StopTyping(ctx context.Context, conversation string) bool
}

// Deps wires a view to the engine.
type Deps struct {
	Engine Engine
	Sender Sender
	// Typist returns the account's typing channel, or nil when unmounted.
	Typist     func(account string) Typist
	Bus        *bus.Bus
	Logger     *zap.Logger
	TypingIdle time.Duration
}

// ChatData is the render state of the followed conversation.
type ChatData struct {
	Conversation *chat.ConversationSummary
	Messages     []chat.Message
	Participants map[string]chat.ParticipantProfile
}

// View follows one conversation and signals when its state changes.
type View struct {
	account string
	deps    Deps
	logger  *zap.Logger
	timers  *sched.Scheduler
	refresh chan struct{}
	stop    chan struct{}
	done    chan struct{}

	mu           sync.Mutex
	conversation string
	typing       bool
	closed       bool
}

// New creates a view for account and starts listening for changes.
func New(account string, deps Deps) *View {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.TypingIdle <= 0 {
		deps.TypingIdle = DefaultTypingIdle
	}
	v := &View{
		account: account,
		deps:    deps,
		logger:  deps.Logger.With(zap.String("account", account)),
		timers:  sched.New(),
		refresh: make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	ch, unsub := deps.Bus.SubscribeAccount("chat.", account, 64)
	go func() {
		defer close(v.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				if v.concerns(evt) {
					v.signal()
				}
			case <-v.stop:
				return
			}
		}
	}()
	return v
}

// RefreshCh receives a value whenever the view should re-render. Signals
// coalesce: many changes before a read yield one value.
func (v *View) RefreshCh() <-chan struct{} {
	return v.refresh
}

// ConversationID returns the followed conversation, or "".
func (v *View) ConversationID() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.conversation
}

// ChatData returns the cached state of the followed conversation.
func (v *View) ChatData() (ChatData, bool) {
	b, ok := v.bundle()
	if !ok {
		return ChatData{}, false
	}
	return ChatData{Conversation: b.Conversation, Messages: b.Messages, Participants: b.Participants}, true
}

// IsLoading reports whether a fetch of the followed conversation is running.
func (v *View) IsLoading() bool {
	b, _ := v.bundle()
	return b.State() == cache.StateLoading
}

// Error returns the last load failure of the followed conversation.
func (v *View) Error() string {
	if b, ok := v.bundle(); ok {
		return b.Err
	}
	return ""
}

// TypingUsers returns who else is typing in the followed conversation.
func (v *View) TypingUsers() []chat.TypingUser {
	conv := v.ConversationID()
	if conv == "" {
		return nil
	}
	return v.deps.Engine.TypingUsers(v.account, conv)
}

// LoadConversation switches the view to id, leaving the previous one.
func (v *View) LoadConversation(ctx context.Context, id string) error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	prev := v.conversation
	v.conversation = id
	v.mu.Unlock()

	if prev != "" && prev != id {
		v.stopTyping(ctx, prev)
		v.deps.Engine.CloseConversation(ctx, v.account, prev)
	}
	v.signal()
	return v.deps.Engine.OpenConversation(ctx, v.account, id)
}

// RefreshMessages refetches the followed conversation.
func (v *View) RefreshMessages(ctx context.Context) error {
	conv := v.ConversationID()
	if conv == "" {
		return nil
	}
	return v.deps.Engine.RefreshMessages(ctx, v.account, conv)
}

// SendMessage sends text to the followed conversation.
func (v *View) SendMessage(ctx context.Context, text string) bool {
	conv := v.ConversationID()
	if conv == "" {
		return false
	}
	v.stopTyping(ctx, conv)
	_, ok := v.deps.Sender.Send(ctx, v.account, conv, text)
	return ok
}

// StartTyping announces typing and re-arms the idle stop.
func (v *View) StartTyping(ctx context.Context) {
	conv := v.ConversationID()
	t := v.typist()
	if conv == "" || t == nil {
		return
	}
	v.mu.Lock()
	v.typing = true
	v.mu.Unlock()

	t.StartTyping(ctx, conv)
	v.timers.Schedule(idleKey, v.deps.TypingIdle, func() {
		v.stopTyping(context.Background(), conv)
	})
}

// StopTyping announces that typing ended.
func (v *View) StopTyping(ctx context.Context) {
	if conv := v.ConversationID(); conv != "" {
		v.stopTyping(ctx, conv)
	}
}

func (v *View) stopTyping(ctx context.Context, conv string) {
	v.timers.Cancel(idleKey)
	v.mu.Lock()
	was := v.typing
	v.typing = false
	v.mu.Unlock()
	if !was {
		return
	}
	if t := v.typist(); t != nil {
		t.StopTyping(ctx, conv)
	}
}

// Close leaves the followed conversation and stops listening.
func (v *View) Close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	conv := v.conversation
	v.mu.Unlock()

	ctx := context.Background()
	if conv != "" {
		v.stopTyping(ctx, conv)
		v.deps.Engine.CloseConversation(ctx, v.account, conv)
	}
	v.timers.Close()
	close(v.stop)
	<-v.done
	v.logger.Debug("view closed", zap.String("conversation", conv))
}

func (v *View) bundle() (*cache.Bundle, bool) {
	conv := v.ConversationID()
	if conv == "" {
		return nil, false
	}
	return v.deps.Engine.Bundle(v.account, conv)
}

func (v *View) typist() Typist {
	if v.deps.Typist == nil {
		return nil
	}
	return v.deps.Typist(v.account)
}

func (v *View) signal() {
	select {
	case v.refresh <- struct{}{}:
	default:
	}
}

// concerns reports whether evt may change what the view renders.
func (v *View) concerns(evt bus.Event) bool {
	conv := v.ConversationID()
	if conv == "" {
		return false
	}
	switch p := evt.Payload.(type) {
	case chatsync.BundleChange:
		return p.ConversationID == conv
	case chatsync.TypingChange:
		return p.ConversationID == conv
	case chatsync.ConversationChange:
		return p.Summary.ID == conv
	case chatsync.ConversationRemoval:
		return p.ConversationID == conv
	}
	return false
}
