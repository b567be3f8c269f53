package observer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Settler runs at most one delayed task per tab. Scheduling a new task for a
// tab cancels the pending one, as does navigating away (Cancel).
type Settler struct {
	mu      sync.Mutex
	base    context.Context
	stop    context.CancelFunc
	pending map[string]*settleTask
	seq     uint64
	wg      sync.WaitGroup
	logger  *slog.Logger
}

type settleTask struct {
	id     uint64
	cancel context.CancelFunc
}

// NewSettler creates a Settler. A nil logger uses slog.Default().
func NewSettler(logger *slog.Logger) *Settler {
	if logger == nil {
		logger = slog.Default()
	}
	base, stop := context.WithCancel(context.Background())
	return &Settler{
		base:    base,
		stop:    stop,
		pending: make(map[string]*settleTask),
		logger:  logger,
	}
}

// Schedule runs fn after delay unless the tab's task is cancelled or
// replaced first. fn receives a context that is cancelled on Cancel or Close.
func (s *Settler) Schedule(tab string, delay time.Duration, fn func(ctx context.Context)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.base.Err() != nil {
		return
	}
	if prev, ok := s.pending[tab]; ok {
		prev.cancel()
	}

	s.seq++
	ctx, cancel := context.WithCancel(s.base)
	t := &settleTask{id: s.seq, cancel: cancel}
	s.pending[tab] = t

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.finish(tab, t)

		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		fn(ctx)
	}()
}

func (s *Settler) finish(tab string, t *settleTask) {
	t.cancel()
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.pending[tab]; ok && cur.id == t.id {
		delete(s.pending, tab)
	}
}

// Cancel drops the tab's pending task. It reports whether one was pending.
func (s *Settler) Cancel(tab string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.pending[tab]
	if !ok {
		return false
	}
	t.cancel()
	delete(s.pending, tab)
	s.logger.Debug("settle task cancelled", "tab", tab)
	return true
}

// Pending returns the number of scheduled tasks.
func (s *Settler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close cancels every pending task and waits for running ones to return.
func (s *Settler) Close() {
	s.mu.Lock()
	s.stop()
	s.mu.Unlock()
	s.wg.Wait()
}
