// Package sync reconciles REST snapshots with real-time push events into the
// conversation cache, the conversation list and the unread/typing ledger.
package sync

import (
	"context"
	gosync "sync"
	"time"

	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/cache"
	"github.com/matheus3301/convsync/internal/chat"
	"github.com/matheus3301/convsync/internal/ledger"
	"github.com/matheus3301/convsync/internal/sched"
	"go.uber.org/zap"
)

const (
	DefaultStaleWindow  = 5 * time.Minute
	DefaultTypingExpiry = 2 * time.Second
)

// API is the subset of the backend the coordinator fetches from.
type API interface {
	ListConversations(ctx context.Context, account string) ([]chat.ConversationSummary, error)
	GetConversation(ctx context.Context, account, conversation string) (*chat.ConversationSummary, error)
	GetMessages(ctx context.Context, account, conversation string) ([]chat.Message, error)
	GetParticipants(ctx context.Context, account, conversation string, kind chat.Kind) (chat.ParticipantResponse, error)
	CreatePrivateConversation(ctx context.Context, account, otherUserID string) (*chat.ConversationSummary, error)
	CreateGroupConversation(ctx context.Context, account, name string, participants []string) (*chat.ConversationSummary, error)
	UnreadCounts(ctx context.Context, account string) (map[string]int, error)
	MarkAsRead(ctx context.Context, account, conversation string) error
	DeleteConversation(ctx context.Context, account, conversation string) error
}

// Room subscribes the account to conversation broadcast scopes.
type Room interface {
	JoinConversation(ctx context.Context, conversation string) error
	LeaveConversation(ctx context.Context, conversation string) error
}

// Options tunes a Coordinator. Zero values fall back to the defaults.
type Options struct {
	StaleWindow    time.Duration
	MatchTolerance time.Duration
	TypingExpiry   time.Duration
	Now            func() time.Time
	Logger         *zap.Logger
}

// Coordinator owns every mutation of cached conversation state.
type Coordinator struct {
	api    API
	cache  *cache.Store
	ledger *ledger.Ledger
	bus    *bus.Bus
	timers *sched.Scheduler
	logger *zap.Logger

	staleWindow    time.Duration
	matchTolerance time.Duration
	typingExpiry   time.Duration
	now            func() time.Time

	mu       gosync.Mutex
	accounts map[string]*accountState
	cancel   context.CancelFunc
	done     chan struct{}
}

type accountState struct {
	selfID        string
	room          Room
	conversations map[string]*chat.ConversationSummary
	open          map[string]bool
	issued        map[string]uint64
	applied       map[string]uint64
}

// NewCoordinator wires a coordinator over the given store and ledger.
func NewCoordinator(api API, store *cache.Store, l *ledger.Ledger, b *bus.Bus, opts Options) *Coordinator {
	if opts.StaleWindow <= 0 {
		opts.StaleWindow = DefaultStaleWindow
	}
	if opts.MatchTolerance <= 0 {
		opts.MatchTolerance = chat.DefaultMatchTolerance
	}
	if opts.TypingExpiry <= 0 {
		opts.TypingExpiry = DefaultTypingExpiry
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Coordinator{
		api:            api,
		cache:          store,
		ledger:         l,
		bus:            b,
		timers:         sched.New(),
		logger:         opts.Logger,
		staleWindow:    opts.StaleWindow,
		matchTolerance: opts.MatchTolerance,
		typingExpiry:   opts.TypingExpiry,
		now:            opts.Now,
		accounts:       make(map[string]*accountState),
	}
}

func (c *Coordinator) stateLocked(account string) *accountState {
	st, ok := c.accounts[account]
	if !ok {
		st = &accountState{
			conversations: make(map[string]*chat.ConversationSummary),
			open:          make(map[string]bool),
			issued:        make(map[string]uint64),
			applied:       make(map[string]uint64),
		}
		c.accounts[account] = st
	}
	return st
}

// Attach binds the account's identity and real-time room subscriber.
func (c *Coordinator) Attach(account, selfID string, room Room) {
	c.mu.Lock()
	st := c.stateLocked(account)
	st.selfID = selfID
	st.room = room
	c.mu.Unlock()
	c.logger.Info("account attached", zap.String("account", account))
}

// Detach forgets the account's room and open conversations and clears its
// typing state. Cached bundles and summaries survive for a later Attach.
func (c *Coordinator) Detach(account string) {
	c.mu.Lock()
	if st, ok := c.accounts[account]; ok {
		st.room = nil
		st.open = make(map[string]bool)
	}
	c.mu.Unlock()

	c.timers.CancelPrefix(account + "/")
	c.ledger.ClearTyping(account)
	c.logger.Info("account detached", zap.String("account", account))
}

// SelfID returns the local user id of account.
func (c *Coordinator) SelfID(account string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.accounts[account]; ok {
		return st.selfID
	}
	return ""
}

// Bundle returns a snapshot of the cached bundle.
func (c *Coordinator) Bundle(account, conversation string) (*cache.Bundle, bool) {
	return c.cache.Get(account, conversation)
}

// TypingUsers lists who is typing in conversation.
func (c *Coordinator) TypingUsers(account, conversation string) []chat.TypingUser {
	return c.ledger.TypingUsers(account, conversation)
}

// UnreadCount returns one conversation's unread count.
func (c *Coordinator) UnreadCount(account, conversation string) int {
	return c.ledger.UnreadCount(account, conversation)
}

// TotalUnread returns the account-wide unread total.
func (c *Coordinator) TotalUnread(account string) int {
	return c.ledger.TotalUnread(account)
}

// IsOpen reports whether the conversation is currently open for account.
func (c *Coordinator) IsOpen(account, conversation string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.accounts[account]; ok {
		return st.open[conversation]
	}
	return false
}

func (c *Coordinator) room(account string) Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.accounts[account]; ok {
		return st.room
	}
	return nil
}

func (c *Coordinator) join(ctx context.Context, account, conversation string) {
	room := c.room(account)
	if room == nil {
		c.logger.Debug("no room subscriber", zap.String("account", account))
		return
	}
	if err := room.JoinConversation(ctx, conversation); err != nil {
		c.logger.Warn("join conversation failed",
			zap.String("account", account),
			zap.String("conversation", conversation),
			zap.Error(err),
		)
	}
}

func (c *Coordinator) setOpen(account, conversation string, open bool) {
	c.mu.Lock()
	st := c.stateLocked(account)
	if open {
		st.open[conversation] = true
	} else {
		delete(st.open, conversation)
	}
	c.mu.Unlock()
}
