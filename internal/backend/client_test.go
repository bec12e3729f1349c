package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/matheus3301/convsync/internal/chat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", WithTokens(map[string]string{"acct": "tok-1"}), WithTimeout(5*time.Second))
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func TestListConversations(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/acct/chat/conversations", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`[
			{"id":"c1","type":"private","participants":["u1","u2"],"displayName":"Bob",
			 "lastMessage":{"content":"hi","senderId":"u2","timestamp":"2026-05-01T10:00:00Z"}},
			{"id":"c2","type":"group","participants":["u1","u2","u3"],"name":"Team"}
		]`))
	})

	convs, err := c.ListConversations(context.Background(), "acct")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, chat.Private, convs[0].Kind)
	assert.Equal(t, "Bob", convs[0].DisplayName)
	require.NotNil(t, convs[0].LastMessage)
	assert.Equal(t, "u2", convs[0].LastMessage.SenderID)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC), convs[0].LastMessage.Timestamp.UTC())
	assert.Equal(t, "Team", convs[1].Name)
	assert.Nil(t, convs[1].LastMessage)
}

func TestGetMessagesMarksConfirmed(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/acct/chat/conversations/c1/messages", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":"m1","senderId":"u2","content":"hi","timestamp":"2026-05-01T10:00:00Z","read":false}]`))
	})

	msgs, err := c.GetMessages(context.Background(), "acct", "c1")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, chat.StatusConfirmed, msgs[0].Status)
	assert.Equal(t, "c1", msgs[0].ConversationID)
	assert.False(t, msgs[0].IsPending())
}

func TestGetParticipantsDecodesByKind(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/acct/chat/conversations/c1/participants", r.URL.Path)
		switch r.URL.Query().Get("conversationType") {
		case "private":
			writeJSON(t, w, chat.ParticipantProfile{ID: "u2", DisplayName: "Bob"})
		case "group":
			writeJSON(t, w, []chat.ParticipantProfile{{ID: "u1", DisplayName: "Alice"}, {ID: "u2", DisplayName: "Bob"}})
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	})

	single, err := c.GetParticipants(context.Background(), "acct", "c1", chat.Private)
	require.NoError(t, err)
	require.NotNil(t, single.Single)
	assert.Equal(t, "Bob", single.Single.DisplayName)
	assert.Nil(t, single.Multiple)

	group, err := c.GetParticipants(context.Background(), "acct", "c1", chat.Group)
	require.NoError(t, err)
	assert.Nil(t, group.Single)
	assert.Len(t, group.Multiple, 2)
	assert.Equal(t, chat.SelfLabel, group.Profiles("u1")["u1"].DisplayName)

	_, err = c.GetParticipants(context.Background(), "acct", "c1", chat.Kind("weird"))
	assert.Error(t, err)
}

func TestCreateConversations(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch r.URL.Path {
		case "/acct/chat/conversations/private":
			assert.Equal(t, "u2", body["otherUserId"])
			writeJSON(t, w, chat.ConversationSummary{ID: "c1", Kind: chat.Private, ParticipantIDs: []string{"u1", "u2"}})
		case "/acct/chat/conversations/group":
			assert.Equal(t, "Team", body["name"])
			assert.Len(t, body["participants"], 2)
			writeJSON(t, w, chat.ConversationSummary{ID: "g1", Kind: chat.Group, Name: "Team"})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})

	priv, err := c.CreatePrivateConversation(context.Background(), "acct", "u2")
	require.NoError(t, err)
	assert.Equal(t, "c1", priv.ID)

	grp, err := c.CreateGroupConversation(context.Background(), "acct", "Team", []string{"u2", "u3"})
	require.NoError(t, err)
	assert.Equal(t, chat.Group, grp.Kind)
}

func TestUnreadMarkDelete(t *testing.T) {
	var calls []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.URL.Path == "/acct/chat/messages/unread/count/byConversation" {
			writeJSON(t, w, map[string]int{"c1": 2, "c2": 1})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	counts, err := c.UnreadCounts(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"c1": 2, "c2": 1}, counts)

	require.NoError(t, c.MarkAsRead(context.Background(), "acct", "c1"))
	require.NoError(t, c.DeleteConversation(context.Background(), "acct", "c1"))

	assert.Equal(t, []string{
		"GET /acct/chat/messages/unread/count/byConversation",
		"PUT /acct/chat/conversations/c1/read",
		"DELETE /acct/chat/conversations/c1",
	}, calls)
}

func TestNon2xxIsNetworkError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	})

	_, err := c.GetConversation(context.Background(), "acct", "c1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.True(t, IsNotFound(err))

	var re *RequestError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotFound, re.StatusCode)
	assert.Equal(t, "nope", re.Body)
}

func TestTransportErrorIsNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()
	c := NewClient(srv.URL)

	_, err := c.ListConversations(context.Background(), "acct")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.False(t, IsNotFound(err))
}

func TestContextCancelIsVisible(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.ListConversations(ctx, "acct")
	assert.ErrorIs(t, err, ErrNetwork)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestSetTokenAndNoToken(t *testing.T) {
	var got string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	})

	_, err := c.UnreadCounts(context.Background(), "other")
	require.NoError(t, err)
	assert.Empty(t, got)

	c.SetToken("other", "tok-2")
	_, err = c.UnreadCounts(context.Background(), "other")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok-2", got)
}

func TestBadJSON(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	})
	_, err := c.ListConversations(context.Background(), "acct")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNetwork)
}
