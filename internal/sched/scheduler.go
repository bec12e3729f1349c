// Package sched provides keyed one-shot timers owned by their caller.
package sched

import (
	"strings"
	"sync"
	"time"
)

// Scheduler runs at most one pending task per key. Scheduling a key that is
// already pending replaces the earlier task.
type Scheduler struct {
	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
}

type task struct {
	timer *time.Timer
}

// New creates an empty scheduler.
func New() *Scheduler {
	return &Scheduler{tasks: make(map[string]*task)}
}

// Schedule runs fn after d unless the key is cancelled or rescheduled first.
// fn runs on its own goroutine. No-op once the scheduler is closed.
func (s *Scheduler) Schedule(key string, d time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if prev, ok := s.tasks[key]; ok {
		prev.timer.Stop()
	}
	t := &task{}
	t.timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		if s.tasks[key] != t {
			s.mu.Unlock()
			return
		}
		delete(s.tasks, key)
		s.mu.Unlock()
		fn()
	})
	s.tasks[key] = t
}

// Cancel stops the pending task for key. Reports whether one was pending.
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	t.timer.Stop()
	delete(s.tasks, key)
	return true
}

// CancelPrefix stops every task whose key starts with prefix.
func (s *Scheduler) CancelPrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, t := range s.tasks {
		if strings.HasPrefix(key, prefix) {
			t.timer.Stop()
			delete(s.tasks, key)
			n++
		}
	}
	return n
}

// Pending reports whether a task is scheduled for key.
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Close cancels everything and rejects further scheduling.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, key)
	}
	s.closed = true
}
