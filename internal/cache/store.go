package cache

import (
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/convsync/internal/bus"
	"go.uber.org/zap"
)

const (
	DefaultMaxCached = 10
	DefaultExpiry    = 30 * time.Minute
)

// Options configures a Store. Zero values fall back to the defaults.
type Options struct {
	MaxCached int
	Expiry    time.Duration
	Bus       *bus.Bus
	Logger    *zap.Logger
	Now       func() time.Time
}

// Eviction is the payload of cache.evicted events.
type Eviction struct {
	ConversationID string
	Reason         string // "capacity" or "expired"
}

// Store holds bundles keyed by account then conversation. Every write runs
// the eviction policy for the written account before returning.
type Store struct {
	mu        sync.Mutex
	accounts  map[string]map[string]*entry
	seq       uint64
	maxCached int
	expiry    time.Duration
	bus       *bus.Bus
	logger    *zap.Logger
	now       func() time.Time
}

type entry struct {
	bundle *Bundle
	order  uint64
}

// New creates an empty store.
func New(opts Options) *Store {
	if opts.MaxCached <= 0 {
		opts.MaxCached = DefaultMaxCached
	}
	if opts.Expiry <= 0 {
		opts.Expiry = DefaultExpiry
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Store{
		accounts:  make(map[string]map[string]*entry),
		maxCached: opts.MaxCached,
		expiry:    opts.Expiry,
		bus:       opts.Bus,
		logger:    opts.Logger,
		now:       opts.Now,
	}
}

// Get returns a snapshot of the bundle. Absent is not an error.
func (s *Store) Get(account, conversation string) (*Bundle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.accounts[account][conversation]
	if !ok {
		return nil, false
	}
	return e.bundle.Clone(), true
}

// Put merges p into the bundle, creating it if needed, and stamps LastAccessed.
func (s *Store) Put(account, conversation string, p Partial) {
	s.mu.Lock()
	e := s.entryLocked(account, conversation, true)
	p.applyTo(e.bundle)
	e.bundle.LastAccessed = s.now()
	evicted := s.evictLocked(account)
	s.mu.Unlock()

	s.announce(account, evicted)
}

// Update runs fn against the live bundle under the store lock. When fn reports
// a change the bundle is stamped and eviction runs. Returns false when the
// bundle is absent or fn made no change.
func (s *Store) Update(account, conversation string, fn func(*Bundle) bool) bool {
	s.mu.Lock()
	e := s.entryLocked(account, conversation, false)
	if e == nil || !fn(e.bundle) {
		s.mu.Unlock()
		return false
	}
	e.bundle.LastAccessed = s.now()
	evicted := s.evictLocked(account)
	s.mu.Unlock()

	s.announce(account, evicted)
	return true
}

// Touch refreshes LastAccessed without other mutation.
func (s *Store) Touch(account, conversation string) {
	s.mu.Lock()
	if e := s.entryLocked(account, conversation, false); e != nil {
		e.bundle.LastAccessed = s.now()
	}
	s.mu.Unlock()
}

// Remove drops a bundle explicitly.
func (s *Store) Remove(account, conversation string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bundles, ok := s.accounts[account]; ok {
		delete(bundles, conversation)
		if len(bundles) == 0 {
			delete(s.accounts, account)
		}
	}
}

// Len returns how many bundles are cached for account.
func (s *Store) Len(account string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.accounts[account])
}

// Keys returns the cached conversation ids for account, most recently accessed first.
func (s *Store) Keys(account string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ordered := s.orderedLocked(account)
	keys := make([]string, len(ordered))
	for i, kv := range ordered {
		keys[i] = kv.id
	}
	return keys
}

// DropAccount forgets every bundle of account.
func (s *Store) DropAccount(account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accounts, account)
}

// Sweep runs the eviction policy across all accounts and returns the number
// of bundles dropped.
func (s *Store) Sweep() int {
	s.mu.Lock()
	all := make(map[string][]Eviction, len(s.accounts))
	for account := range s.accounts {
		if evicted := s.evictLocked(account); len(evicted) > 0 {
			all[account] = evicted
		}
	}
	s.mu.Unlock()

	total := 0
	for account, evicted := range all {
		s.announce(account, evicted)
		total += len(evicted)
	}
	return total
}

func (s *Store) entryLocked(account, conversation string, create bool) *entry {
	bundles, ok := s.accounts[account]
	if !ok {
		if !create {
			return nil
		}
		bundles = make(map[string]*entry)
		s.accounts[account] = bundles
	}
	e, ok := bundles[conversation]
	if !ok {
		if !create {
			return nil
		}
		s.seq++
		e = &entry{bundle: &Bundle{}, order: s.seq}
		bundles[conversation] = e
	}
	return e
}

type keyed struct {
	id string
	e  *entry
}

// orderedLocked sorts by LastAccessed descending, insertion order breaking ties.
func (s *Store) orderedLocked(account string) []keyed {
	bundles := s.accounts[account]
	out := make([]keyed, 0, len(bundles))
	for id, e := range bundles {
		out = append(out, keyed{id: id, e: e})
	}
	slices.SortStableFunc(out, func(a, b keyed) int {
		if c := b.e.bundle.LastAccessed.Compare(a.e.bundle.LastAccessed); c != 0 {
			return c
		}
		switch {
		case a.e.order < b.e.order:
			return -1
		case a.e.order > b.e.order:
			return 1
		}
		return 0
	})
	return out
}

// evictLocked keeps the maxCached most recently accessed bundles and then
// drops any of those older than expiry.
func (s *Store) evictLocked(account string) []Eviction {
	bundles := s.accounts[account]
	if len(bundles) == 0 {
		return nil
	}
	now := s.now()
	var evicted []Eviction
	for i, kv := range s.orderedLocked(account) {
		switch {
		case i >= s.maxCached:
			evicted = append(evicted, Eviction{ConversationID: kv.id, Reason: "capacity"})
		case now.Sub(kv.e.bundle.LastAccessed) > s.expiry:
			evicted = append(evicted, Eviction{ConversationID: kv.id, Reason: "expired"})
		default:
			continue
		}
		delete(bundles, kv.id)
	}
	if len(bundles) == 0 {
		delete(s.accounts, account)
	}
	return evicted
}

func (s *Store) announce(account string, evicted []Eviction) {
	for _, ev := range evicted {
		s.logger.Debug("bundle evicted",
			zap.String("account", account),
			zap.String("conversation", ev.ConversationID),
			zap.String("reason", ev.Reason),
		)
		s.bus.Emit(bus.KindCacheEvicted, account, ev)
	}
}
