package persist

import (
	"fmt"
	"strconv"
	"time"

	"github.com/matheus3301/convsync/internal/store"
)

const keyLastRefresh = "conversations.last_refresh"

// Checkpoints records per-account sync progress.
type Checkpoints struct {
	db *store.DB
}

// NewCheckpoints wraps db.
func NewCheckpoints(db *store.DB) *Checkpoints {
	return &Checkpoints{db: db}
}

// RecordRefresh stores the time of the last full conversation list load.
func (c *Checkpoints) RecordRefresh(account string, at time.Time) error {
	return c.db.SetSyncState(account, keyLastRefresh, strconv.FormatInt(at.UnixMilli(), 10))
}

// LastRefresh returns the recorded refresh time. ok is false when the account
// was never refreshed.
func (c *Checkpoints) LastRefresh(account string) (at time.Time, ok bool, err error) {
	v, ok, err := c.db.SyncState(account, keyLastRefresh)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse checkpoint %q: %w", v, err)
	}
	return time.UnixMilli(ms), true, nil
}

// NeedsRefresh reports whether the account's list is older than maxAge.
func (c *Checkpoints) NeedsRefresh(account string, maxAge time.Duration, now time.Time) bool {
	at, ok, err := c.LastRefresh(account)
	if err != nil || !ok {
		return true
	}
	return now.Sub(at) >= maxAge
}
