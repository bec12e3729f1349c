package daemon

import (
	"context"
	"errors"
	"io/fs"
	"slices"
	"sync"

	"github.com/matheus3301/convsync/internal/account"
	"github.com/matheus3301/convsync/internal/backend"
	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/cache"
	"github.com/matheus3301/convsync/internal/config"
	"github.com/matheus3301/convsync/internal/ledger"
	"github.com/matheus3301/convsync/internal/lock"
	"github.com/matheus3301/convsync/internal/logging"
	"github.com/matheus3301/convsync/internal/outbox"
	"github.com/matheus3301/convsync/internal/persist"
	"github.com/matheus3301/convsync/internal/profile"
	"github.com/matheus3301/convsync/internal/store"
	chatsync "github.com/matheus3301/convsync/internal/sync"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved profile configuration passed to the fx modules.
type Params struct {
	Profile    string
	ConfigPath string   // optional override for testing; empty = use default
	LogPath    string   // optional override; empty = profile log file
	LogLevel   string   // overrides [log] level when set
	Accounts   []string // restrict mounted accounts; empty = all configured
}

// Module returns the fx module for the daemon: the sync engine plus the
// profile lock and local persistence.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		engineProviders(),
		fx.Provide(
			provideLock,
			provideStore,
			providePersist,
		),
		// Persistence hooks run first so stored summaries are seeded before
		// any account is mounted.
		fx.Invoke(registerPersistence),
		fx.Invoke(registerEngine),
		fx.Invoke(registerRefresher),
	)
}

// EngineModule returns the sync engine alone, without lock or persistence.
// Command-line tools embed it to act on one account in-process.
func EngineModule(p Params) fx.Option {
	return fx.Module("engine",
		fx.Supply(p),
		engineProviders(),
		fx.Invoke(registerEngine),
	)
}

func engineProviders() fx.Option {
	return fx.Provide(
		provideConfig,
		provideLogger,
		provideBus,
		provideBackend,
		provideCache,
		provideSweeper,
		ledger.New,
		provideCoordinator,
		provideAccounts,
		provideSender,
	)
}

func provideConfig(p Params) (*config.Config, error) {
	path := p.ConfigPath
	if path == "" {
		path = profile.ConfigPath()
	}
	cfg, err := config.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = config.Defaults()
	} else if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLogger(p Params, cfg *config.Config) (*zap.Logger, error) {
	path := p.LogPath
	if path == "" {
		path = profile.LogPath(p.Profile)
	}
	level := cfg.Log.Level
	if p.LogLevel != "" {
		level = p.LogLevel
	}
	return logging.New(path, p.Profile, level)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideBackend(cfg *config.Config, logger *zap.Logger) *backend.Client {
	return backend.NewClient(cfg.Backend.BaseURL,
		backend.WithTimeout(cfg.Backend.Timeout.Duration),
		backend.WithTokens(cfg.Tokens()),
		backend.WithLogger(logger),
	)
}

func provideCache(cfg *config.Config, b *bus.Bus, logger *zap.Logger) *cache.Store {
	return cache.New(cache.Options{
		MaxCached: cfg.Cache.MaxCached,
		Expiry:    cfg.Cache.Expiry.Duration,
		Bus:       b,
		Logger:    logger,
	})
}

func provideSweeper(s *cache.Store, cfg *config.Config, logger *zap.Logger) *cache.Sweeper {
	return cache.NewSweeper(s, cfg.Cache.CleanupInterval.Duration, logger)
}

func provideCoordinator(api *backend.Client, s *cache.Store, l *ledger.Ledger, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *chatsync.Coordinator {
	return chatsync.NewCoordinator(api, s, l, b, chatsync.Options{
		StaleWindow:  cfg.Cache.StaleWindow.Duration,
		TypingExpiry: cfg.Typing.Expiry.Duration,
		Logger:       logger,
	})
}

func provideAccounts(coord *chatsync.Coordinator, api *backend.Client, cfg *config.Config, b *bus.Bus, logger *zap.Logger) *account.Manager {
	return account.NewManager(coord, api, account.Options{
		WSURL:          cfg.Backend.WSURL,
		TypingThrottle: cfg.Typing.Throttle.Duration,
		ReadLimit:      cfg.Backend.WSReadLimit,
		Bus:            b,
		Logger:         logger,
	})
}

func provideSender(m *account.Manager, coord *chatsync.Coordinator, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(m, coord, b, logger)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := profile.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(profile.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := profile.DBPath(p.Profile)
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", db.Path()))
	return db, nil
}

func providePersist(db *store.DB, b *bus.Bus, logger *zap.Logger) *persist.Engine {
	return persist.NewEngine(db, b, logger)
}

// mounted returns the configured accounts selected by p.
func mounted(p Params, cfg *config.Config) []config.Account {
	if len(p.Accounts) == 0 {
		return cfg.Accounts
	}
	var out []config.Account
	for _, a := range cfg.Accounts {
		if slices.Contains(p.Accounts, a.ID) {
			out = append(out, a)
		}
	}
	return out
}

func registerPersistence(lc fx.Lifecycle, p Params, cfg *config.Config, lk *lock.Lock, db *store.DB, engine *persist.Engine, coord *chatsync.Coordinator, l *ledger.Ledger, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			for _, a := range mounted(p, cfg) {
				snap, err := engine.Restore(a.ID)
				if err != nil {
					logger.Warn("restore failed", zap.String("account", a.ID), zap.Error(err))
					continue
				}
				coord.SeedConversations(a.ID, snap.Conversations)
				l.SetUnreadCounts(a.ID, snap.Unread)
				logger.Info("restored account state",
					zap.String("account", a.ID),
					zap.Int("conversations", len(snap.Conversations)),
				)
			}
			engine.Start(context.Background())
			return nil
		},
		OnStop: func(_ context.Context) error {
			engine.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}

func registerEngine(lc fx.Lifecycle, p Params, cfg *config.Config, coord *chatsync.Coordinator, sweeper *cache.Sweeper, accounts *account.Manager, logger *zap.Logger) {
	warmCtx, cancelWarm := context.WithCancel(context.Background())
	var warming sync.WaitGroup
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			coord.Start(context.Background())
			sweeper.Start(context.Background())

			for _, a := range mounted(p, cfg) {
				if err := accounts.Mount(ctx, a); err != nil {
					// The account stays unmounted until remounted.
					logger.Error("mount failed", zap.String("account", a.ID), zap.Error(err))
					continue
				}
				warming.Go(func() { warm(warmCtx, coord, a.ID, logger) })
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			cancelWarm()
			warming.Wait()
			accounts.UnmountAll()
			sweeper.Stop()
			coord.Stop()
			_ = logger.Sync()
			return nil
		},
	})
}

// warm loads the conversation list and unread counts of a freshly mounted account.
func warm(ctx context.Context, coord *chatsync.Coordinator, account string, logger *zap.Logger) {
	if _, err := coord.LoadConversations(ctx, account); err != nil {
		logger.Warn("initial conversation load failed", zap.String("account", account), zap.Error(err))
	}
	if err := coord.RefreshUnreadCounts(ctx, account); err != nil {
		logger.Warn("initial unread load failed", zap.String("account", account), zap.Error(err))
	}
}
