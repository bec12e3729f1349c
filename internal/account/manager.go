// Package account mounts and unmounts the signed-in accounts of a daemon.
// Mounting an account gives it a connected real-time channel and attaches it
// to the sync coordinator.
package account

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/config"
	"github.com/matheus3301/convsync/internal/outbox"
	"github.com/matheus3301/convsync/internal/realtime"
	chatsync "github.com/matheus3301/convsync/internal/sync"
	"go.uber.org/zap"
)

// ErrNotMounted is returned for accounts without a session.
var ErrNotMounted = errors.New("account not mounted")

// Coordinator is where mounted sessions are attached.
type Coordinator interface {
	Attach(account, selfID string, room chatsync.Room)
	Detach(account string)
}

// Tokens receives bearer tokens for REST calls.
type Tokens interface {
	SetToken(account, token string)
}

// Options configures a Manager.
type Options struct {
	WSURL          string
	TypingThrottle time.Duration
	ReadLimit      int64
	HTTPClient     *http.Client
	Bus            *bus.Bus
	Logger         *zap.Logger
}

// Manager owns one real-time session per mounted account.
type Manager struct {
	coord  Coordinator
	tokens Tokens
	opts   Options
	logger *zap.Logger

	mu       sync.Mutex
	sessions map[string]*realtime.Channel
}

// NewManager creates a manager with no mounted accounts.
func NewManager(coord Coordinator, tokens Tokens, opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Manager{
		coord:    coord,
		tokens:   tokens,
		opts:     opts,
		logger:   opts.Logger,
		sessions: make(map[string]*realtime.Channel),
	}
}

// Mount connects the account's channel and attaches it to the coordinator.
// An already mounted account is left untouched.
func (m *Manager) Mount(ctx context.Context, acct config.Account) error {
	m.mu.Lock()
	if _, ok := m.sessions[acct.ID]; ok {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if m.tokens != nil {
		m.tokens.SetToken(acct.ID, acct.Token)
	}
	ch := realtime.New(realtime.Config{
		URL:            m.opts.WSURL,
		Account:        acct.ID,
		Token:          acct.Token,
		TypingThrottle: m.opts.TypingThrottle,
		ReadLimit:      m.opts.ReadLimit,
		HTTPClient:     m.opts.HTTPClient,
		Bus:            m.opts.Bus,
		Logger:         m.logger,
	})
	if err := ch.Connect(ctx); err != nil {
		_ = ch.Close()
		return fmt.Errorf("mount %s: %w", acct.ID, err)
	}

	m.mu.Lock()
	if _, ok := m.sessions[acct.ID]; ok {
		// Lost a race with a concurrent Mount.
		m.mu.Unlock()
		_ = ch.Close()
		return nil
	}
	m.sessions[acct.ID] = ch
	m.mu.Unlock()

	m.coord.Attach(acct.ID, acct.UserID, ch)
	m.logger.Info("account mounted", zap.String("account", acct.ID))
	return nil
}

// Unmount detaches the account and closes its channel.
func (m *Manager) Unmount(account string) error {
	m.mu.Lock()
	ch, ok := m.sessions[account]
	delete(m.sessions, account)
	m.mu.Unlock()
	if !ok {
		return ErrNotMounted
	}

	m.coord.Detach(account)
	if err := ch.Close(); err != nil {
		m.logger.Debug("close channel failed", zap.String("account", account), zap.Error(err))
	}
	m.logger.Info("account unmounted", zap.String("account", account))
	return nil
}

// Remount replaces the account's session with a fresh connection.
func (m *Manager) Remount(ctx context.Context, acct config.Account) error {
	if err := m.Unmount(acct.ID); err != nil && !errors.Is(err, ErrNotMounted) {
		return err
	}
	return m.Mount(ctx, acct)
}

// UnmountAll unmounts every account.
func (m *Manager) UnmountAll() {
	for _, id := range m.Accounts() {
		_ = m.Unmount(id)
	}
}

// Session returns the mounted channel of account.
func (m *Manager) Session(account string) (*realtime.Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.sessions[account]
	return ch, ok
}

// Dispatcher implements outbox.Channels.
func (m *Manager) Dispatcher(account string) (outbox.Dispatcher, bool) {
	ch, ok := m.Session(account)
	if !ok {
		return nil, false
	}
	return ch, true
}

// Accounts lists mounted accounts in id order.
func (m *Manager) Accounts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
