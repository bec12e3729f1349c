package sync

import (
	"context"
	"errors"
	gosync "sync"
	"time"

	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/cache"
	"github.com/matheus3301/convsync/internal/chat"
	"github.com/matheus3301/convsync/internal/ledger"
)

var errBackend = errors.New("backend down")

// fakeAPI serves canned data and counts calls.
type fakeAPI struct {
	mu            gosync.Mutex
	conversations map[string]*chat.ConversationSummary
	messages      map[string][]chat.Message
	participants  map[string]chat.ParticipantResponse
	unread        map[string]int
	fail          bool
	failPeople    bool
	calls         map[string]int
	markedRead    []string
	deleted       []string

	// onMessages runs inside GetMessages after the history was read; it
	// receives the 1-based call number.
	onMessages func(call int)
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		conversations: map[string]*chat.ConversationSummary{},
		messages:      map[string][]chat.Message{},
		participants:  map[string]chat.ParticipantResponse{},
		unread:        map[string]int{},
		calls:         map[string]int{},
	}
}

func (f *fakeAPI) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[name]++
	return f.calls[name]
}

func (f *fakeAPI) Calls(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func (f *fakeAPI) failing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fail
}

func (f *fakeAPI) setFail(v bool) {
	f.mu.Lock()
	f.fail = v
	f.mu.Unlock()
}

func (f *fakeAPI) setMessages(conversation string, msgs []chat.Message) {
	f.mu.Lock()
	f.messages[conversation] = msgs
	f.mu.Unlock()
}

func (f *fakeAPI) ListConversations(ctx context.Context, account string) ([]chat.ConversationSummary, error) {
	f.count("list")
	if f.failing() {
		return nil, errBackend
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []chat.ConversationSummary
	for _, c := range f.conversations {
		out = append(out, *c.Clone())
	}
	return out, nil
}

func (f *fakeAPI) GetConversation(ctx context.Context, account, conversation string) (*chat.ConversationSummary, error) {
	f.count("conversation")
	if f.failing() {
		return nil, errBackend
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.conversations[conversation]
	if !ok {
		return nil, errors.New("not found")
	}
	return c.Clone(), nil
}

func (f *fakeAPI) GetMessages(ctx context.Context, account, conversation string) ([]chat.Message, error) {
	call := f.count("messages")
	f.mu.Lock()
	snapshot := append([]chat.Message(nil), f.messages[conversation]...)
	f.mu.Unlock()
	if f.onMessages != nil {
		f.onMessages(call)
	}
	if f.failing() {
		return nil, errBackend
	}
	return snapshot, nil
}

func (f *fakeAPI) GetParticipants(ctx context.Context, account, conversation string, kind chat.Kind) (chat.ParticipantResponse, error) {
	f.count("participants")
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPeople {
		return chat.ParticipantResponse{}, errBackend
	}
	return f.participants[conversation], nil
}

func (f *fakeAPI) CreatePrivateConversation(ctx context.Context, account, otherUserID string) (*chat.ConversationSummary, error) {
	f.count("create_private")
	c := &chat.ConversationSummary{ID: "p-" + otherUserID, Kind: chat.Private, ParticipantIDs: []string{"me", otherUserID}}
	f.mu.Lock()
	f.conversations[c.ID] = c.Clone()
	f.mu.Unlock()
	return c, nil
}

func (f *fakeAPI) CreateGroupConversation(ctx context.Context, account, name string, participants []string) (*chat.ConversationSummary, error) {
	f.count("create_group")
	c := &chat.ConversationSummary{ID: "g-" + name, Kind: chat.Group, Name: name, ParticipantIDs: participants}
	f.mu.Lock()
	f.conversations[c.ID] = c.Clone()
	f.mu.Unlock()
	return c, nil
}

func (f *fakeAPI) UnreadCounts(ctx context.Context, account string) (map[string]int, error) {
	f.count("unread")
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]int{}
	for k, v := range f.unread {
		out[k] = v
	}
	return out, nil
}

func (f *fakeAPI) MarkAsRead(ctx context.Context, account, conversation string) error {
	f.count("mark_read")
	f.mu.Lock()
	f.markedRead = append(f.markedRead, conversation)
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) DeleteConversation(ctx context.Context, account, conversation string) error {
	f.count("delete")
	f.mu.Lock()
	f.deleted = append(f.deleted, conversation)
	f.mu.Unlock()
	return nil
}

// fakeRoom records join/leave calls.
type fakeRoom struct {
	mu     gosync.Mutex
	joins  []string
	leaves []string
}

func (r *fakeRoom) JoinConversation(ctx context.Context, conversation string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joins = append(r.joins, conversation)
	return nil
}

func (r *fakeRoom) LeaveConversation(ctx context.Context, conversation string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaves = append(r.leaves, conversation)
	return nil
}

func (r *fakeRoom) Joins() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.joins...)
}

func (r *fakeRoom) Leaves() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.leaves...)
}

type clock struct {
	mu  gosync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type harness struct {
	api    *fakeAPI
	room   *fakeRoom
	clock  *clock
	bus    *bus.Bus
	cache  *cache.Store
	ledger *ledger.Ledger
	coord  *Coordinator
}

const (
	acct = "acct"
	me   = "me"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func newHarness() *harness {
	h := &harness{
		api:    newFakeAPI(),
		room:   &fakeRoom{},
		clock:  &clock{now: t0},
		bus:    bus.New(),
		ledger: ledger.New(),
	}
	h.cache = cache.New(cache.Options{Now: h.clock.Now, Bus: h.bus})
	h.coord = NewCoordinator(h.api, h.cache, h.ledger, h.bus, Options{
		Now:          h.clock.Now,
		TypingExpiry: 30 * time.Millisecond,
	})
	h.coord.Attach(acct, me, h.room)

	h.api.conversations["c1"] = &chat.ConversationSummary{ID: "c1", Kind: chat.Private, ParticipantIDs: []string{me, "bob"}}
	h.api.messages["c1"] = []chat.Message{
		msg("m1", "bob", "hello", t0.Add(-2*time.Minute)),
		msg("m2", me, "hi bob", t0.Add(-time.Minute)),
	}
	h.api.participants["c1"] = chat.ParticipantResponse{Kind: chat.Private, Single: &chat.ParticipantProfile{ID: "bob", DisplayName: "Bob"}}
	return h
}

func msg(id, sender, content string, ts time.Time) chat.Message {
	return chat.Message{ID: id, ConversationID: "c1", SenderID: sender, Content: content, Timestamp: ts, Status: chat.StatusConfirmed}
}

func ids(msgs []chat.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}
