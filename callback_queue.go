package netops

import "sync"

// CallbackQueue is the execution context user callbacks run on. A single
// goroutine drains submitted functions in order, so callbacks scheduled on
// the same queue never run concurrently with each other. Operations rely on
// that serialization guarantee.
//
// A Manager without an explicit queue uses one shared default, mirroring the
// "main queue unless told otherwise" behavior of the system this wraps.
type CallbackQueue struct {
	mu      sync.Mutex
	pending []func()
	running bool
	closed  bool
}

// NewCallbackQueue creates an empty queue. The worker goroutine is started
// lazily on first submission and parks again when the queue drains.
func NewCallbackQueue() *CallbackQueue {
	return &CallbackQueue{}
}

var (
	defaultQueueOnce sync.Once
	defaultQueue     *CallbackQueue
)

// DefaultCallbackQueue returns the process-wide queue used by managers
// configured without one.
func DefaultCallbackQueue() *CallbackQueue {
	defaultQueueOnce.Do(func() {
		defaultQueue = NewCallbackQueue()
	})
	return defaultQueue
}

// Async schedules fn to run after every previously submitted function has
// returned. It never blocks the caller.
func (q *CallbackQueue) Async(fn func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, fn)
	if q.running {
		q.mu.Unlock()
		return
	}
	q.running = true
	q.mu.Unlock()

	go q.drain()
}

func (q *CallbackQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.running = false
			q.mu.Unlock()
			return
		}
		fn := q.pending[0]
		q.pending = q.pending[1:]
		q.mu.Unlock()

		fn()
	}
}

// Wait blocks until every function submitted before the call has returned.
// Intended for tests and orderly shutdown.
func (q *CallbackQueue) Wait() {
	done := make(chan struct{})
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.pending = append(q.pending, func() { close(done) })
	start := !q.running
	if start {
		q.running = true
	}
	q.mu.Unlock()

	if start {
		go q.drain()
	}
	<-done
}

// Close drops any functions submitted after the call. Already-submitted
// functions still run.
func (q *CallbackQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
