// Package cache is the per-account fingerprint store of conversation bundles.
package cache

import (
	"maps"
	"slices"
	"time"

	"github.com/matheus3301/convsync/internal/chat"
)

// State is the lifecycle phase of a cached bundle.
type State string

const (
	StateAbsent  State = "absent"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// Bundle is everything cached for one conversation.
type Bundle struct {
	Conversation *chat.ConversationSummary
	Messages     []chat.Message
	Participants map[string]chat.ParticipantProfile
	Loading      bool
	Err          string
	LastAccessed time.Time
}

// Clone returns a deep copy safe to hand to readers.
func (b *Bundle) Clone() *Bundle {
	if b == nil {
		return nil
	}
	out := *b
	out.Conversation = b.Conversation.Clone()
	out.Messages = slices.Clone(b.Messages)
	out.Participants = maps.Clone(b.Participants)
	return &out
}

// State derives the lifecycle phase. A nil bundle is absent.
func (b *Bundle) State() State {
	switch {
	case b == nil:
		return StateAbsent
	case b.Loading:
		return StateLoading
	case b.Err != "":
		return StateError
	}
	return StateReady
}

// IndexOf returns the position of the message with the given id, or -1.
func (b *Bundle) IndexOf(id string) int {
	return slices.IndexFunc(b.Messages, func(m chat.Message) bool { return m.ID == id })
}

// Partial carries the fields a Put should overwrite. Nil fields are left as they are.
type Partial struct {
	Conversation *chat.ConversationSummary
	Messages     *[]chat.Message
	Participants map[string]chat.ParticipantProfile
	Loading      *bool
	Err          *string
}

func (p Partial) applyTo(b *Bundle) {
	if p.Conversation != nil {
		b.Conversation = p.Conversation.Clone()
	}
	if p.Messages != nil {
		b.Messages = slices.Clone(*p.Messages)
	}
	if p.Participants != nil {
		b.Participants = maps.Clone(p.Participants)
	}
	if p.Loading != nil {
		b.Loading = *p.Loading
	}
	if p.Err != nil {
		b.Err = *p.Err
	}
}
