package daemon

import (
	"context"
	"time"

	"github.com/matheus3301/convsync/internal/account"
	"github.com/matheus3301/convsync/internal/config"
	"github.com/matheus3301/convsync/internal/persist"
	chatsync "github.com/matheus3301/convsync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// refresher reloads conversation lists whose last refresh checkpoint is
// older than the stale window.
type refresher struct {
	coord       *chatsync.Coordinator
	accounts    *account.Manager
	checkpoints *persist.Checkpoints
	maxAge      time.Duration
	interval    time.Duration
	logger      *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func (r *refresher) Start(ctx context.Context) {
	ctx, r.cancel = context.WithCancel(ctx)
	r.done = make(chan struct{})

	go func() {
		defer close(r.done)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.tick(ctx, time.Now())
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (r *refresher) Stop() {
	if r.cancel == nil {
		return
	}
	r.cancel()
	<-r.done
}

func (r *refresher) tick(ctx context.Context, now time.Time) {
	for _, id := range r.accounts.Accounts() {
		if !r.checkpoints.NeedsRefresh(id, r.maxAge, now) {
			continue
		}
		r.logger.Debug("refreshing conversation list", zap.String("account", id))
		warm(ctx, r.coord, id, r.logger)
	}
}

func registerRefresher(lc fx.Lifecycle, cfg *config.Config, coord *chatsync.Coordinator, accounts *account.Manager, engine *persist.Engine, logger *zap.Logger) {
	r := &refresher{
		coord:       coord,
		accounts:    accounts,
		checkpoints: engine.Checkpoints(),
		maxAge:      cfg.Cache.StaleWindow.Duration,
		interval:    cfg.Cache.CleanupInterval.Duration,
		logger:      logger,
	}
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			r.Start(context.Background())
			return nil
		},
		OnStop: func(_ context.Context) error {
			r.Stop()
			return nil
		},
	})
}
