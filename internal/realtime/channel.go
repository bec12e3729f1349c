// Package realtime is the per-account WebSocket channel to the chat backend.
// It never reconnects by itself: a dropped channel is replaced by remounting
// the account.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/chat"
	"github.com/matheus3301/convsync/internal/status"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// DefaultTypingThrottle is the minimum spacing of start-typing signals per conversation.
	DefaultTypingThrottle = 2 * time.Second
	// DefaultReadLimit caps the size of one inbound frame.
	DefaultReadLimit int64 = 4 << 20
)

var (
	// ErrNotConnected is returned by commands issued without a live connection.
	ErrNotConnected = errors.New("realtime channel not connected")
	// ErrClosed is returned by Connect on a channel that was closed.
	ErrClosed = errors.New("realtime channel closed")
)

// Config configures a Channel.
type Config struct {
	URL            string
	Account        string
	Token          string
	TypingThrottle time.Duration
	// ReadLimit is the largest inbound frame accepted, in bytes. A larger
	// frame fails the connection.
	ReadLimit      int64
	HTTPClient     *http.Client
	Bus            *bus.Bus
	Logger         *zap.Logger
}

// Channel is one authenticated WebSocket connection for one account.
type Channel struct {
	cfg     Config
	machine *status.Machine
	logger  *zap.Logger

	// connecting admits one handshake at a time.
	connecting chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	typingMu sync.Mutex
	typing   map[string]*rate.Limiter
}

// New creates a disconnected channel.
func New(cfg Config) *Channel {
	if cfg.TypingThrottle <= 0 {
		cfg.TypingThrottle = DefaultTypingThrottle
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = DefaultReadLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Channel{
		cfg:        cfg,
		machine:    status.NewMachine(cfg.Account, cfg.Bus),
		logger:     cfg.Logger.With(zap.String("account", cfg.Account)),
		connecting: make(chan struct{}, 1),
		typing:     make(map[string]*rate.Limiter),
	}
}

// Account returns the account this channel belongs to.
func (c *Channel) Account() string { return c.cfg.Account }

// State returns the connection state.
func (c *Channel) State() status.State { return c.machine.Current() }

// IsConnected reports whether commands can currently be sent.
func (c *Channel) IsConnected() bool { return c.machine.Is(status.Connected) }

// Connect dials the backend, sends authenticate and waits for the server to
// acknowledge it. Frames received afterwards are published on the bus.
// Concurrent calls wait for the handshake in flight and return only once the
// channel is connected or their own attempt failed.
func (c *Channel) Connect(ctx context.Context) error {
	select {
	case c.connecting <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.connecting }()

	switch c.machine.Current() {
	case status.Closed:
		return ErrClosed
	case status.Connected:
		return nil
	}
	if err := c.machine.Transition(status.Connecting); err != nil {
		return err
	}

	conn, err := c.dialAndAuthenticate(ctx)
	if err != nil {
		_ = c.machine.Transition(status.Disconnected)
		return err
	}

	readCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.mu.Lock()
	c.conn = conn
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	if err := c.machine.Transition(status.Connected); err != nil {
		cancel()
		_ = conn.CloseNow()
		return err
	}
	c.cfg.Bus.Emit(bus.KindRTConnected, c.cfg.Account, nil)
	c.logger.Info("realtime channel connected")

	go c.readLoop(readCtx, conn, done)
	return nil
}

func (c *Channel) dialAndAuthenticate(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, c.cfg.URL, &websocket.DialOptions{HTTPClient: c.cfg.HTTPClient})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(c.cfg.ReadLimit)

	auth := outbound{Event: evAuthenticate, Data: authenticateData{Token: c.cfg.Token, AccountID: c.cfg.Account}}
	if err := wsjson.Write(ctx, conn, auth); err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("send authenticate: %w", err)
	}

	var env envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("await authenticated: %w", err)
	}
	switch env.Event {
	case evAuthenticated:
		return conn, nil
	case evError:
		var se ServerError
		_ = json.Unmarshal(env.Data, &se)
		_ = conn.Close(websocket.StatusPolicyViolation, "authentication rejected")
		return nil, fmt.Errorf("authentication rejected: %s", se.Message)
	}
	_ = conn.Close(websocket.StatusProtocolError, "expected authenticated")
	return nil, fmt.Errorf("unexpected first event %q", env.Event)
}

// Close shuts the connection down for good.
func (c *Channel) Close() error {
	c.mu.Lock()
	conn, cancel, done := c.conn, c.cancel, c.done
	c.conn, c.cancel = nil, nil
	c.mu.Unlock()

	if c.machine.Current() != status.Closed {
		_ = c.machine.Transition(status.Closed)
	}
	if conn == nil {
		return nil
	}
	err := conn.Close(websocket.StatusNormalClosure, "client closing")
	cancel()
	<-done
	return err
}

func (c *Channel) readLoop(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		var env envelope
		if err := wsjson.Read(ctx, conn, &env); err != nil {
			c.dropped(conn, err)
			return
		}
		c.dispatch(env)
	}
}

// dropped handles a read failure. An intentional Close has already moved the
// machine to Closed and cleared conn.
func (c *Channel) dropped(conn *websocket.Conn, err error) {
	c.mu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
		c.cancel()
		c.cancel = nil
	}
	c.mu.Unlock()
	if !current {
		return
	}

	_ = conn.CloseNow()
	if transErr := c.machine.Transition(status.Disconnected); transErr != nil {
		return
	}
	c.logger.Warn("realtime channel dropped", zap.Error(err))
	c.cfg.Bus.Emit(bus.KindRTDisconnected, c.cfg.Account, Disconnect{Reason: err.Error()})
}

func (c *Channel) dispatch(env envelope) {
	kind, payload, err := decode(env)
	if err != nil {
		c.logger.Warn("bad realtime frame", zap.String("event", env.Event), zap.Error(err))
		return
	}
	if kind == "" {
		c.logger.Debug("ignoring realtime event", zap.String("event", env.Event))
		return
	}
	if se, ok := payload.(ServerError); ok {
		c.logger.Warn("realtime server error", zap.String("message", se.Message))
	}
	c.cfg.Bus.Emit(kind, c.cfg.Account, payload)
}

func decode(env envelope) (string, any, error) {
	switch env.Event {
	case evNewMessage:
		var p NewMessage
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return "", nil, err
		}
		p.Message.Status = chat.StatusConfirmed
		return bus.KindRTNewMessage, p, nil
	case evUserTyping, evUserStopTyping:
		var p Typing
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return "", nil, err
		}
		p.Typing = env.Event == evUserTyping
		return bus.KindRTTyping, p, nil
	case evUnreadCounts:
		var p UnreadCounts
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return "", nil, err
		}
		return bus.KindRTUnreadCounts, p, nil
	case evConversationUnread:
		var p ConversationUnread
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return "", nil, err
		}
		return bus.KindRTConversationUnread, p, nil
	case evMessagesRead:
		var p MessagesRead
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return "", nil, err
		}
		return bus.KindRTMessagesRead, p, nil
	case evError:
		var p ServerError
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return "", nil, err
		}
		return bus.KindRTError, p, nil
	}
	return "", nil, nil
}

func (c *Channel) send(ctx context.Context, event string, data any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil || !c.IsConnected() {
		return ErrNotConnected
	}
	if err := wsjson.Write(ctx, conn, outbound{Event: event, Data: data}); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

// JoinConversation subscribes to the conversation's room.
func (c *Channel) JoinConversation(ctx context.Context, conversation string) error {
	return c.send(ctx, evJoin, conversationData{ConversationID: conversation})
}

// LeaveConversation unsubscribes from the conversation's room.
func (c *Channel) LeaveConversation(ctx context.Context, conversation string) error {
	return c.send(ctx, evLeave, conversationData{ConversationID: conversation})
}

// SendMessage dispatches a message. The result says whether the frame was
// written, not whether the server accepted it. Nothing is queued while
// disconnected.
func (c *Channel) SendMessage(ctx context.Context, conversation, content, clientID string) bool {
	err := c.send(ctx, evSendMessage, sendMessageData{ConversationID: conversation, Content: content, ClientID: clientID})
	if err != nil {
		c.logger.Debug("send message not dispatched", zap.String("conversation", conversation), zap.Error(err))
		return false
	}
	return true
}

// StartTyping signals typing in conversation, at most once per throttle
// window. Reports whether a frame was sent.
func (c *Channel) StartTyping(ctx context.Context, conversation string) bool {
	if !c.IsConnected() || !c.limiter(conversation).Allow() {
		return false
	}
	return c.send(ctx, evTypingStart, conversationData{ConversationID: conversation}) == nil
}

// StopTyping signals the end of typing. It is never throttled.
func (c *Channel) StopTyping(ctx context.Context, conversation string) bool {
	return c.send(ctx, evTypingStop, conversationData{ConversationID: conversation}) == nil
}

func (c *Channel) limiter(conversation string) *rate.Limiter {
	c.typingMu.Lock()
	defer c.typingMu.Unlock()
	l, ok := c.typing[conversation]
	if !ok {
		l = rate.NewLimiter(rate.Every(c.cfg.TypingThrottle), 1)
		c.typing[conversation] = l
	}
	return l
}
