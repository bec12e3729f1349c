package sync

import (
	"slices"
	"time"

	"github.com/matheus3301/convsync/internal/chat"
)

// mergeSnapshot combines a fetched history with what is cached. The snapshot
// is deduplicated by id and ordered by timestamp. Cached confirmed messages
// newer than the snapshot and missing from it (pushed while the fetch was in
// flight) are kept, as are pending entries the snapshot does not confirm.
// Pending entries stay at the tail.
func mergeSnapshot(cached, snapshot []chat.Message, tolerance time.Duration) []chat.Message {
	out := make([]chat.Message, 0, len(snapshot)+len(cached))
	seen := make(map[string]bool, len(snapshot))
	var newest time.Time
	for _, m := range snapshot {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		m.Status = chat.StatusConfirmed
		out = append(out, m)
		if m.Timestamp.After(newest) {
			newest = m.Timestamp
		}
	}

	var pending []chat.Message
	for _, m := range cached {
		switch {
		case m.IsPending():
			pending = append(pending, m)
		case !seen[m.ID] && m.Timestamp.After(newest):
			seen[m.ID] = true
			out = append(out, m)
		}
	}
	sortByTimestamp(out)

	used := make(map[int]bool)
	for _, p := range pending {
		if i := findConfirmation(out, p, tolerance, used); i >= 0 {
			used[i] = true
			continue
		}
		out = append(out, p)
	}
	return out
}

func sortByTimestamp(msgs []chat.Message) {
	slices.SortStableFunc(msgs, func(a, b chat.Message) int {
		return a.Timestamp.Compare(b.Timestamp)
	})
}

// findConfirmation returns the index of the confirmed message in msgs that
// matches pending p, preferring an exact client id match.
func findConfirmation(msgs []chat.Message, p chat.Message, tolerance time.Duration, used map[int]bool) int {
	if p.ClientID != "" {
		for i, m := range msgs {
			if !used[i] && !m.IsPending() && m.ClientID == p.ClientID {
				return i
			}
		}
	}
	for i, m := range msgs {
		if !used[i] && m.Confirms(p, tolerance) {
			return i
		}
	}
	return -1
}

// findPending returns the index of the pending entry confirmed by m.
func findPending(msgs []chat.Message, m chat.Message, tolerance time.Duration) int {
	if m.ClientID != "" {
		for i, p := range msgs {
			if p.IsPending() && p.ClientID == m.ClientID {
				return i
			}
		}
	}
	for i, p := range msgs {
		if m.Confirms(p, tolerance) {
			return i
		}
	}
	return -1
}

// insertConfirmed places m after every confirmed message stamped at or
// before it, keeping pending entries at the tail.
func insertConfirmed(msgs []chat.Message, m chat.Message) []chat.Message {
	i := len(msgs)
	for i > 0 && (msgs[i-1].IsPending() || msgs[i-1].Timestamp.After(m.Timestamp)) {
		i--
	}
	return slices.Insert(msgs, i, m)
}
