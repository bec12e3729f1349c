package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/chat"
	"github.com/matheus3301/convsync/internal/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer accepts one connection, answers authenticate and records every
// later frame.
type fakeServer struct {
	t      *testing.T
	srv    *httptest.Server
	reject bool
	auth   chan authenticateData
	frames chan envelope
	conns  chan *websocket.Conn

	// authDelay holds back the authenticated reply.
	authDelay time.Duration
	accepted  atomic.Int32
}

func newFakeServer(t *testing.T, reject bool, opts ...func(*fakeServer)) *fakeServer {
	t.Helper()
	fs := &fakeServer{
		t:      t,
		reject: reject,
		auth:   make(chan authenticateData, 1),
		frames: make(chan envelope, 32),
		conns:  make(chan *websocket.Conn, 1),
	}
	for _, opt := range opts {
		opt(fs)
	}
	fs.srv = httptest.NewServer(http.HandlerFunc(fs.handle))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	fs.accepted.Add(1)
	defer func() { _ = conn.CloseNow() }()
	ctx := r.Context()

	var env envelope
	if err := wsjson.Read(ctx, conn, &env); err != nil || env.Event != evAuthenticate {
		return
	}
	var auth authenticateData
	_ = json.Unmarshal(env.Data, &auth)
	fs.auth <- auth

	if fs.reject {
		_ = wsjson.Write(ctx, conn, outbound{Event: evError, Data: ServerError{Message: "bad token"}})
		return
	}
	if fs.authDelay > 0 {
		time.Sleep(fs.authDelay)
	}
	if err := wsjson.Write(ctx, conn, outbound{Event: evAuthenticated}); err != nil {
		return
	}
	fs.conns <- conn

	for {
		var in envelope
		if err := wsjson.Read(ctx, conn, &in); err != nil {
			return
		}
		fs.frames <- in
	}
}

func (fs *fakeServer) push(conn *websocket.Conn, event string, data any) {
	fs.t.Helper()
	require.NoError(fs.t, wsjson.Write(context.Background(), conn, outbound{Event: event, Data: data}))
}

func (fs *fakeServer) nextFrame() envelope {
	fs.t.Helper()
	select {
	case f := <-fs.frames:
		return f
	case <-time.After(2 * time.Second):
		fs.t.Fatal("timeout waiting for frame")
	}
	return envelope{}
}

func (fs *fakeServer) noFrame(wait time.Duration) {
	fs.t.Helper()
	select {
	case f := <-fs.frames:
		fs.t.Fatalf("unexpected frame %q", f.Event)
	case <-time.After(wait):
	}
}

func connect(t *testing.T, fs *fakeServer, b *bus.Bus) (*Channel, *websocket.Conn) {
	t.Helper()
	ch := New(Config{URL: fs.url(), Account: "acct", Token: "tok", Bus: b})
	require.NoError(t, ch.Connect(context.Background()))
	t.Cleanup(func() { _ = ch.Close() })

	var conn *websocket.Conn
	select {
	case conn = <-fs.conns:
	case <-time.After(2 * time.Second):
		t.Fatal("server never saw connection")
	}
	return ch, conn
}

func waitEvent(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case evt := <-ch:
		return evt
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for bus event")
	}
	return bus.Event{}
}

func TestConnectAuthenticatesFirst(t *testing.T) {
	fs := newFakeServer(t, false)
	b := bus.New()
	states, unsub := b.Subscribe(bus.KindChannelState, 8)
	defer unsub()

	ch, _ := connect(t, fs, b)

	auth := <-fs.auth
	assert.Equal(t, "tok", auth.Token)
	assert.Equal(t, "acct", auth.AccountID)
	assert.True(t, ch.IsConnected())

	first := waitEvent(t, states).Payload.(status.StatusChange)
	second := waitEvent(t, states).Payload.(status.StatusChange)
	assert.Equal(t, status.Connecting, first.To)
	assert.Equal(t, status.Connected, second.To)
}

func TestConnectRejected(t *testing.T) {
	fs := newFakeServer(t, true)
	ch := New(Config{URL: fs.url(), Account: "acct", Token: "bad"})

	err := ch.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad token")
	assert.Equal(t, status.Disconnected, ch.State())
	assert.False(t, ch.IsConnected())
}

func TestConcurrentConnectWaitsForHandshake(t *testing.T) {
	fs := newFakeServer(t, false, func(fs *fakeServer) { fs.authDelay = 150 * time.Millisecond })
	ch := New(Config{URL: fs.url(), Account: "acct", Token: "tok"})
	t.Cleanup(func() { _ = ch.Close() })

	type result struct {
		err       error
		connected bool
	}
	results := make(chan result, 2)
	for i := 0; i < 2; i++ {
		go func() {
			err := ch.Connect(context.Background())
			results <- result{err: err, connected: ch.IsConnected()}
		}()
	}
	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		assert.True(t, r.connected, "connect returned before the handshake completed")
	}
	assert.Equal(t, int32(1), fs.accepted.Load(), "one dial for both callers")
	assert.True(t, ch.SendMessage(context.Background(), "c1", "hi", "local-1"))
	assert.Equal(t, evSendMessage, fs.nextFrame().Event)
}

func TestConnectWaitHonoursContext(t *testing.T) {
	fs := newFakeServer(t, false, func(fs *fakeServer) { fs.authDelay = 300 * time.Millisecond })
	ch := New(Config{URL: fs.url(), Account: "acct", Token: "tok"})
	t.Cleanup(func() { _ = ch.Close() })

	first := make(chan error, 1)
	go func() { first <- ch.Connect(context.Background()) }()
	<-fs.auth

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ch.Connect(ctx), context.DeadlineExceeded)
	require.NoError(t, <-first)
	assert.True(t, ch.IsConnected())
}

func TestCommandsWhileDisconnected(t *testing.T) {
	ch := New(Config{URL: "ws://127.0.0.1:1", Account: "acct"})
	ctx := context.Background()

	assert.False(t, ch.SendMessage(ctx, "c1", "hi", "local-1"))
	assert.False(t, ch.StartTyping(ctx, "c1"))
	assert.False(t, ch.StopTyping(ctx, "c1"))
	assert.ErrorIs(t, ch.JoinConversation(ctx, "c1"), ErrNotConnected)
	assert.ErrorIs(t, ch.LeaveConversation(ctx, "c1"), ErrNotConnected)
}

func TestOutboundFrames(t *testing.T) {
	fs := newFakeServer(t, false)
	ch, _ := connect(t, fs, nil)
	ctx := context.Background()

	require.NoError(t, ch.JoinConversation(ctx, "c1"))
	f := fs.nextFrame()
	assert.Equal(t, evJoin, f.Event)
	assert.JSONEq(t, `{"conversationId":"c1"}`, string(f.Data))

	assert.True(t, ch.SendMessage(ctx, "c1", "hello", "local-9"))
	f = fs.nextFrame()
	assert.Equal(t, evSendMessage, f.Event)
	assert.JSONEq(t, `{"conversationId":"c1","content":"hello","clientId":"local-9"}`, string(f.Data))

	require.NoError(t, ch.LeaveConversation(ctx, "c1"))
	assert.Equal(t, evLeave, fs.nextFrame().Event)
}

func TestTypingThrottle(t *testing.T) {
	fs := newFakeServer(t, false)
	ch, _ := connect(t, fs, nil)
	ctx := context.Background()

	assert.True(t, ch.StartTyping(ctx, "c1"))
	assert.False(t, ch.StartTyping(ctx, "c1"), "second start within window throttled")
	assert.True(t, ch.StartTyping(ctx, "c2"), "throttle is per conversation")
	assert.True(t, ch.StopTyping(ctx, "c1"))
	assert.True(t, ch.StopTyping(ctx, "c1"), "stop is never throttled")

	got := []string{}
	for i := 0; i < 4; i++ {
		f := fs.nextFrame()
		var d conversationData
		require.NoError(t, json.Unmarshal(f.Data, &d))
		got = append(got, f.Event+":"+d.ConversationID)
	}
	assert.Equal(t, []string{"typing_start:c1", "typing_start:c2", "typing_stop:c1", "typing_stop:c1"}, got)
	fs.noFrame(50 * time.Millisecond)
}

func TestInboundEventsPublished(t *testing.T) {
	fs := newFakeServer(t, false)
	b := bus.New()
	events, unsub := b.Subscribe("rt.", 16)
	defer unsub()

	_, conn := connect(t, fs, b)
	assert.Equal(t, bus.KindRTConnected, waitEvent(t, events).Kind)

	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	fs.push(conn, evNewMessage, map[string]any{"message": chat.Message{ID: "m1", ConversationID: "c1", SenderID: "u2", Content: "hi", Timestamp: ts}})
	fs.push(conn, evUserTyping, Typing{ConversationID: "c1", UserID: "u2", DisplayName: "Bob"})
	fs.push(conn, evUserStopTyping, Typing{ConversationID: "c1", UserID: "u2"})
	fs.push(conn, evUnreadCounts, UnreadCounts{Counts: map[string]int{"c1": 3}})
	fs.push(conn, evConversationUnread, ConversationUnread{ConversationID: "c1", Count: 1})
	fs.push(conn, evMessagesRead, MessagesRead{ConversationID: "c1", UserID: "u1"})
	fs.push(conn, "presence", map[string]string{"x": "y"})
	fs.push(conn, evError, ServerError{Message: "oops"})

	evt := waitEvent(t, events)
	require.Equal(t, bus.KindRTNewMessage, evt.Kind)
	assert.Equal(t, "acct", evt.Account)
	nm := evt.Payload.(NewMessage)
	assert.Equal(t, "m1", nm.Message.ID)
	assert.Equal(t, chat.StatusConfirmed, nm.Message.Status)
	assert.True(t, ts.Equal(nm.Message.Timestamp))

	evt = waitEvent(t, events)
	require.Equal(t, bus.KindRTTyping, evt.Kind)
	assert.True(t, evt.Payload.(Typing).Typing)
	assert.Equal(t, "Bob", evt.Payload.(Typing).DisplayName)

	evt = waitEvent(t, events)
	require.Equal(t, bus.KindRTTyping, evt.Kind)
	assert.False(t, evt.Payload.(Typing).Typing)

	evt = waitEvent(t, events)
	require.Equal(t, bus.KindRTUnreadCounts, evt.Kind)
	assert.Equal(t, 3, evt.Payload.(UnreadCounts).Counts["c1"])

	evt = waitEvent(t, events)
	require.Equal(t, bus.KindRTConversationUnread, evt.Kind)
	assert.Equal(t, 1, evt.Payload.(ConversationUnread).Count)

	evt = waitEvent(t, events)
	require.Equal(t, bus.KindRTMessagesRead, evt.Kind)
	assert.Equal(t, "u1", evt.Payload.(MessagesRead).UserID)

	evt = waitEvent(t, events)
	require.Equal(t, bus.KindRTError, evt.Kind, "unknown events are skipped")
	assert.Equal(t, "oops", evt.Payload.(ServerError).Message)
}

func TestLargeInboundFrameDelivered(t *testing.T) {
	fs := newFakeServer(t, false)
	b := bus.New()
	events, unsub := b.Subscribe("rt.", 8)
	defer unsub()

	ch, conn := connect(t, fs, b)
	assert.Equal(t, bus.KindRTConnected, waitEvent(t, events).Kind)

	content := strings.Repeat("x", 40<<10)
	fs.push(conn, evNewMessage, map[string]any{"message": chat.Message{ID: "big", ConversationID: "c1", SenderID: "u2", Content: content}})

	evt := waitEvent(t, events)
	require.Equal(t, bus.KindRTNewMessage, evt.Kind)
	assert.Len(t, evt.Payload.(NewMessage).Message.Content, 40<<10)
	assert.True(t, ch.IsConnected())
}

func TestFrameOverReadLimitDisconnects(t *testing.T) {
	fs := newFakeServer(t, false)
	b := bus.New()
	events, unsub := b.Subscribe("rt.disconnected", 4)
	defer unsub()

	ch := New(Config{URL: fs.url(), Account: "acct", Token: "tok", ReadLimit: 1024, Bus: b})
	require.NoError(t, ch.Connect(context.Background()))
	t.Cleanup(func() { _ = ch.Close() })
	conn := <-fs.conns

	fs.push(conn, evNewMessage, map[string]any{"message": chat.Message{ID: "big", ConversationID: "c1", Content: strings.Repeat("x", 4096)}})
	waitEvent(t, events)
	assert.Eventually(t, func() bool { return ch.State() == status.Disconnected }, time.Second, 5*time.Millisecond)
}

func TestServerDropDisconnects(t *testing.T) {
	fs := newFakeServer(t, false)
	b := bus.New()
	events, unsub := b.Subscribe("rt.disconnected", 4)
	defer unsub()

	ch, conn := connect(t, fs, b)
	require.NoError(t, conn.Close(websocket.StatusGoingAway, "bye"))

	evt := waitEvent(t, events)
	assert.NotEmpty(t, evt.Payload.(Disconnect).Reason)
	assert.Eventually(t, func() bool { return ch.State() == status.Disconnected }, time.Second, 5*time.Millisecond)
	assert.False(t, ch.SendMessage(context.Background(), "c1", "hi", ""), "no queueing after drop")
}

func TestCloseIsTerminal(t *testing.T) {
	fs := newFakeServer(t, false)
	b := bus.New()
	dropped, unsub := b.Subscribe("rt.disconnected", 4)
	defer unsub()

	ch, _ := connect(t, fs, b)
	require.NoError(t, ch.Close())
	assert.Equal(t, status.Closed, ch.State())
	assert.ErrorIs(t, ch.Connect(context.Background()), ErrClosed)
	assert.NoError(t, ch.Close())

	select {
	case evt := <-dropped:
		t.Fatalf("intentional close published %s", evt.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}
