package netops

import (
	"log/slog"
	"sync"
)

// DefaultMaxConcurrent is the scheduler concurrency bound applied when the
// configuration leaves it unset.
const DefaultMaxConcurrent = 4

// Scheduler runs operations under a concurrency bound, honoring declared
// dependencies. An enqueued operation starts once every dependency has
// reached a terminal state and a slot is free; the slot is held until the
// operation's own terminal event, since the real work happens asynchronously
// in the transport layer.
type Scheduler struct {
	logger *slog.Logger
	slots  chan struct{}

	mu      sync.Mutex
	pending map[int64]Operation

	wg sync.WaitGroup
}

// NewScheduler creates a scheduler running at most maxConcurrent operations
// at a time. Non-positive values fall back to DefaultMaxConcurrent.
func NewScheduler(maxConcurrent int, logger *slog.Logger) *Scheduler {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger:  logger.With("component", "scheduler"),
		slots:   make(chan struct{}, maxConcurrent),
		pending: make(map[int64]Operation),
	}
}

// MaxConcurrent returns the concurrency bound.
func (s *Scheduler) MaxConcurrent() int { return cap(s.slots) }

// Enqueue submits op. Dependencies declared after this call are not
// honored. Enqueueing the same operation twice is a logged no-op.
func (s *Scheduler) Enqueue(op Operation) {
	s.mu.Lock()
	if _, dup := s.pending[op.Identifier()]; dup {
		s.mu.Unlock()
		s.logger.Warn("operation already enqueued", "task_id", op.Identifier())
		return
	}
	s.pending[op.Identifier()] = op
	s.mu.Unlock()

	s.wg.Add(1)
	go s.run(op)
}

func (s *Scheduler) run(op Operation) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.pending, op.Identifier())
		s.mu.Unlock()
	}()

	// Dependencies first. An operation cancelled while waiting stops
	// waiting: its Done channel closes without it ever starting.
	for _, dep := range op.dependencies() {
		select {
		case <-dep.Done():
		case <-op.Done():
			return
		}
	}

	select {
	case s.slots <- struct{}{}:
	case <-op.Done():
		return
	}
	defer func() { <-s.slots }()

	op.start()
	<-op.Done()
}

// CancelAll cancels every operation currently queued or executing. Queued
// operations never start; executing ones stop cooperatively and still
// deliver their completion callbacks with ErrCancelled.
func (s *Scheduler) CancelAll() {
	s.mu.Lock()
	ops := make([]Operation, 0, len(s.pending))
	for _, op := range s.pending {
		ops = append(ops, op)
	}
	s.mu.Unlock()

	s.logger.Info("cancelling all operations", "count", len(ops))
	for _, op := range ops {
		op.Cancel()
	}
}

// Wait blocks until every enqueued operation has reached a terminal state.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
