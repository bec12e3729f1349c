// Package ledger tracks per-account unread counters and typing presence.
// Every operation is a pure state transition and never fails.
package ledger

import (
	"maps"
	"slices"
	"sync"

	"github.com/matheus3301/convsync/internal/chat"
)

// Ledger is safe for concurrent use.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*accountState
}

type accountState struct {
	unread map[string]int
	total  int
	typing []chat.TypingUser
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{accounts: make(map[string]*accountState)}
}

func (l *Ledger) stateLocked(account string) *accountState {
	st, ok := l.accounts[account]
	if !ok {
		st = &accountState{unread: make(map[string]int)}
		l.accounts[account] = st
	}
	return st
}

func (st *accountState) recompute() {
	st.total = 0
	for _, n := range st.unread {
		st.total += n
	}
}

// SetUnreadCounts replaces the whole unread map for account.
func (l *Ledger) SetUnreadCounts(account string, counts map[string]int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stateLocked(account)
	st.unread = make(map[string]int, len(counts))
	for id, n := range counts {
		st.unread[id] = max(n, 0)
	}
	st.recompute()
}

// SetConversationUnread sets a single conversation's count.
func (l *Ledger) SetConversationUnread(account, conversation string, count int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stateLocked(account)
	st.unread[conversation] = max(count, 0)
	st.recompute()
}

// IncrementUnread adds delta to a conversation's count, clamping at zero.
func (l *Ledger) IncrementUnread(account, conversation string, delta int) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stateLocked(account)
	n := max(st.unread[conversation]+delta, 0)
	st.unread[conversation] = n
	st.recompute()
	return n
}

// UnreadCount returns the count for one conversation.
func (l *Ledger) UnreadCount(account, conversation string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if st, ok := l.accounts[account]; ok {
		return st.unread[conversation]
	}
	return 0
}

// TotalUnread returns the sum of every conversation count for account.
func (l *Ledger) TotalUnread(account string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if st, ok := l.accounts[account]; ok {
		return st.total
	}
	return 0
}

// UnreadCounts returns a copy of the account's unread map.
func (l *Ledger) UnreadCounts(account string) map[string]int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if st, ok := l.accounts[account]; ok {
		return maps.Clone(st.unread)
	}
	return map[string]int{}
}

// AddTypingUser records that userID is typing in conversation. A repeated
// signal replaces the existing entry, so there is at most one per key.
func (l *Ledger) AddTypingUser(account, userID, displayName, conversation string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stateLocked(account)
	st.typing = slices.DeleteFunc(st.typing, func(u chat.TypingUser) bool {
		return u.UserID == userID && u.ConversationID == conversation
	})
	st.typing = append(st.typing, chat.TypingUser{UserID: userID, DisplayName: displayName, ConversationID: conversation})
}

// RemoveTypingUser drops the (userID, conversation) entry. Reports whether one existed.
func (l *Ledger) RemoveTypingUser(account, userID, conversation string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.accounts[account]
	if !ok {
		return false
	}
	before := len(st.typing)
	st.typing = slices.DeleteFunc(st.typing, func(u chat.TypingUser) bool {
		return u.UserID == userID && u.ConversationID == conversation
	})
	return len(st.typing) != before
}

// ClearTypingForConversation drops every typing entry for conversation.
func (l *Ledger) ClearTypingForConversation(account, conversation string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.accounts[account]; ok {
		st.typing = slices.DeleteFunc(st.typing, func(u chat.TypingUser) bool {
			return u.ConversationID == conversation
		})
	}
}

// ClearTyping drops all typing entries for account.
func (l *Ledger) ClearTyping(account string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if st, ok := l.accounts[account]; ok {
		st.typing = nil
	}
}

// TypingUsers lists who is typing in conversation, oldest signal first.
func (l *Ledger) TypingUsers(account, conversation string) []chat.TypingUser {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []chat.TypingUser
	if st, ok := l.accounts[account]; ok {
		for _, u := range st.typing {
			if u.ConversationID == conversation {
				out = append(out, u)
			}
		}
	}
	return out
}

// DropAccount forgets everything about account.
func (l *Ledger) DropAccount(account string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.accounts, account)
}
