package store

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/matheus3301/convsync/internal/chat"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenEmptyPath(t *testing.T) {
	if _, err := Open(""); !errors.Is(err, ErrNoPath) {
		t.Errorf("Open(\"\") error = %v, want ErrNoPath", err)
	}
}

func TestMigrateFresh(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.From != 0 || result.Version != 1 || !result.Changed {
		t.Errorf("Migrate() = %+v, want 0 -> 1 changed", result)
	}
	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode = %q, want wal", mode)
	}
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.From != 1 || result.Version != 1 {
		t.Errorf("version = %d -> %d, want 1 -> 1", result.From, result.Version)
	}
	if result.Dirty {
		t.Error("schema left dirty")
	}
}

func TestMigrateRejectsDirtySchema(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec(`UPDATE ` + migrationsTable + ` SET dirty = 1`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); !errors.Is(err, ErrDirtySchema) {
		t.Errorf("Migrate() error = %v, want ErrDirtySchema", err)
	}
}

func TestMigrateRejectsNewerSchema(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec(`UPDATE ` + migrationsTable + ` SET version = 99`); err != nil {
		t.Fatal(err)
	}
	_, err := db.Migrate()
	if err == nil || !strings.Contains(err.Error(), "schema 99") {
		t.Errorf("Migrate() error = %v, want newer schema rejection", err)
	}
}

func TestUpsertConversationRoundTrip(t *testing.T) {
	db := testDB(t)
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	c := &chat.ConversationSummary{
		ID: "c1", Kind: chat.Group, Name: "Team", ParticipantIDs: []string{"u1", "u2"},
		DisplayName: "Team", AvatarURL: "https://x/a.png",
		LastMessage: &chat.LastMessage{Content: "hi", SenderID: "u2", Timestamp: ts},
	}
	if err := db.UpsertConversation("a", c); err != nil {
		t.Fatal(err)
	}
	// Same write twice is harmless.
	if err := db.UpsertConversation("a", c); err != nil {
		t.Fatal(err)
	}

	list, err := db.ListConversations("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Fatalf("got %d conversations, want 1", len(list))
	}
	got := list[0]
	if got.Kind != chat.Group || got.Name != "Team" || len(got.ParticipantIDs) != 2 {
		t.Errorf("metadata = %+v", got)
	}
	if got.LastMessage == nil || !got.LastMessage.Timestamp.Equal(ts) || got.LastMessage.Content != "hi" {
		t.Errorf("last message = %+v", got.LastMessage)
	}

	other, err := db.ListConversations("b")
	if err != nil {
		t.Fatal(err)
	}
	if len(other) != 0 {
		t.Errorf("account b sees %d conversations", len(other))
	}
}

func TestUpsertKeepsNewestLastMessage(t *testing.T) {
	db := testDB(t)
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	newer := &chat.ConversationSummary{ID: "c1", Kind: chat.Private, LastMessage: &chat.LastMessage{Content: "new", Timestamp: ts}}
	older := &chat.ConversationSummary{ID: "c1", Kind: chat.Private, LastMessage: &chat.LastMessage{Content: "old", Timestamp: ts.Add(-time.Hour)}}
	stub := &chat.ConversationSummary{ID: "c1"}

	for _, c := range []*chat.ConversationSummary{newer, older, stub} {
		if err := db.UpsertConversation("a", c); err != nil {
			t.Fatal(err)
		}
	}

	list, _ := db.ListConversations("a")
	if list[0].LastMessage == nil || list[0].LastMessage.Content != "new" {
		t.Errorf("last message = %+v, want new", list[0].LastMessage)
	}
	if list[0].Kind != chat.Private {
		t.Errorf("stub cleared kind: %q", list[0].Kind)
	}
}

func TestUpsertConversationsOrdering(t *testing.T) {
	db := testDB(t)
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	batch := []chat.ConversationSummary{
		{ID: "quiet", Kind: chat.Private},
		{ID: "old", Kind: chat.Private, LastMessage: &chat.LastMessage{Content: "a", Timestamp: ts}},
		{ID: "new", Kind: chat.Group, LastMessage: &chat.LastMessage{Content: "b", Timestamp: ts.Add(time.Minute)}},
	}
	if err := db.UpsertConversations("a", batch); err != nil {
		t.Fatal(err)
	}

	list, err := db.ListConversations("a")
	if err != nil {
		t.Fatal(err)
	}
	var order []string
	for _, c := range list {
		order = append(order, c.ID)
	}
	want := []string{"new", "old", "quiet"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order = %v, want %v", order, want)
		}
	}
	if list[2].LastMessage != nil {
		t.Error("conversation without messages got a last message")
	}
}

func TestUnreadCounts(t *testing.T) {
	db := testDB(t)
	if err := db.ReplaceUnreadCounts("a", map[string]int{"c1": 2, "c2": 0, "c3": 5}); err != nil {
		t.Fatal(err)
	}
	got, err := db.UnreadCounts("a")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got["c1"] != 2 || got["c3"] != 5 {
		t.Errorf("UnreadCounts() = %v", got)
	}

	if err := db.ReplaceUnreadCounts("a", map[string]int{"c9": 1}); err != nil {
		t.Fatal(err)
	}
	got, _ = db.UnreadCounts("a")
	if len(got) != 1 || got["c9"] != 1 {
		t.Errorf("after replace = %v", got)
	}
}

func TestDeleteConversation(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertConversation("a", &chat.ConversationSummary{ID: "c1", Kind: chat.Private})
	_ = db.ReplaceUnreadCounts("a", map[string]int{"c1": 3})

	if err := db.DeleteConversation("a", "c1"); err != nil {
		t.Fatal(err)
	}
	list, _ := db.ListConversations("a")
	counts, _ := db.UnreadCounts("a")
	if len(list) != 0 || len(counts) != 0 {
		t.Errorf("left behind: %v %v", list, counts)
	}
}

func TestSyncState(t *testing.T) {
	db := testDB(t)

	if _, ok, err := db.SyncState("a", "last_refresh"); err != nil || ok {
		t.Fatalf("empty SyncState() = ok %v, err %v", ok, err)
	}
	if err := db.SetSyncState("a", "last_refresh", "1"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetSyncState("a", "last_refresh", "2"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := db.SyncState("a", "last_refresh")
	if err != nil || !ok || v != "2" {
		t.Errorf("SyncState() = %q, %v, %v", v, ok, err)
	}
}

func TestAccounts(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertConversation("b", &chat.ConversationSummary{ID: "c1"})
	_ = db.UpsertConversation("a", &chat.ConversationSummary{ID: "c1"})

	got, err := db.Accounts()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Errorf("Accounts() = %v", got)
	}
}
