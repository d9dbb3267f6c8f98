package netops

import (
	"fmt"
	"sync"
)

// registry maps transport task identifiers to the operations that own them.
// It keeps an operation reachable for as long as it is in flight; entries are
// removed exactly once, by the operation itself on its terminal transition.
//
// All methods are safe for concurrent use. No user callback is ever invoked
// while the registry lock is held.
type registry struct {
	mu  sync.RWMutex
	ops map[int64]Operation
}

func newRegistry() *registry {
	return &registry{ops: make(map[int64]Operation)}
}

// insert registers op under id. The transport layer guarantees identifier
// uniqueness, so a collision means the session broke its contract; it is
// reported rather than silently overwritten.
func (r *registry) insert(id int64, op Operation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ops[id]; ok {
		return fmt.Errorf("%w: %d", ErrDuplicateIdentifier, id)
	}
	r.ops[id] = op
	return nil
}

// lookup returns the operation owning id, if any. Unknown identifiers are
// expected (background-relaunch case) and are not an error.
func (r *registry) lookup(id int64) (Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	op, ok := r.ops[id]
	return op, ok
}

// remove is idempotent.
func (r *registry) remove(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ops, id)
}

func (r *registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ops)
}

// snapshot returns the registered operations at a point in time, for
// teardown and CancelAll.
func (r *registry) snapshot() []Operation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ops := make([]Operation, 0, len(r.ops))
	for _, op := range r.ops {
		ops = append(ops, op)
	}
	return ops
}
