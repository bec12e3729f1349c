// Package persist mirrors coordinator state into the local store so a
// restarted daemon can show conversation lists before the backend answers.
package persist

import (
	"context"
	"time"

	"github.com/matheus3301/convsync/internal/bus"
	"github.com/matheus3301/convsync/internal/chat"
	"github.com/matheus3301/convsync/internal/store"
	chatsync "github.com/matheus3301/convsync/internal/sync"
	"go.uber.org/zap"
)

// Engine writes chat.* bus events to the store. Every write is an upsert or a
// full replacement, so replaying an event is harmless.
type Engine struct {
	db          *store.DB
	bus         *bus.Bus
	checkpoints *Checkpoints
	logger      *zap.Logger
	now         func() time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewEngine creates a persistence engine.
func NewEngine(db *store.DB, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:          db,
		bus:         b,
		checkpoints: NewCheckpoints(db),
		logger:      logger,
		now:         time.Now,
	}
}

// Checkpoints returns the engine's checkpoint store.
func (e *Engine) Checkpoints() *Checkpoints {
	return e.checkpoints
}

// Start begins consuming chat events.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe("chat.", 512)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handle(evt)
			case <-ctx.Done():
				return
			}
		}
	}()
	e.logger.Info("persist engine started")
}

// Stop ends the event loop. Events still buffered are dropped.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
		e.cancel = nil
	}
}

func (e *Engine) handle(evt bus.Event) {
	if evt.Account == "" {
		return
	}
	var err error
	switch p := evt.Payload.(type) {
	case chatsync.ConversationChange:
		err = e.db.UpsertConversation(evt.Account, &p.Summary)
	case []chat.ConversationSummary:
		err = e.db.UpsertConversations(evt.Account, p)
		if err == nil {
			err = e.checkpoints.RecordRefresh(evt.Account, e.now())
		}
	case chatsync.ConversationRemoval:
		err = e.db.DeleteConversation(evt.Account, p.ConversationID)
	case chatsync.UnreadSnapshot:
		err = e.db.ReplaceUnreadCounts(evt.Account, p.Counts)
	default:
		return
	}
	if err != nil {
		e.logger.Warn("persist event failed",
			zap.String("kind", evt.Kind),
			zap.String("account", evt.Account),
			zap.Error(err),
		)
	}
}

// Snapshot is what the store remembers about one account.
type Snapshot struct {
	Conversations []chat.ConversationSummary
	Unread        map[string]int
}

// Restore reads the stored state of account.
func (e *Engine) Restore(account string) (Snapshot, error) {
	list, err := e.db.ListConversations(account)
	if err != nil {
		return Snapshot{}, err
	}
	unread, err := e.db.UnreadCounts(account)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Conversations: list, Unread: unread}, nil
}
