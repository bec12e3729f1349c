package cache

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultCleanupInterval is how often the Sweeper revisits every account.
const DefaultCleanupInterval = 5 * time.Minute

// Sweeper periodically expires bundles nobody has written to recently.
type Sweeper struct {
	store    *Store
	interval time.Duration
	logger   *zap.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a sweeper for store.
func NewSweeper(store *Store, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{store: store, interval: interval, logger: logger}
}

// Start launches the sweep loop.
func (w *Sweeper) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})

	go func() {
		defer close(w.done)
		ticker := time.NewTicker(w.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if n := w.store.Sweep(); n > 0 {
					w.logger.Debug("cache sweep", zap.Int("evicted", n))
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop ends the loop and waits for it to exit.
func (w *Sweeper) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.done
}
