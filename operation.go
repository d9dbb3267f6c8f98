package netops

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/netkit/netops/transport"
)

// State is the lifecycle position of an operation.
//
//	Ready ──▶ Executing ──▶ Finished
//	                   └──▶ Cancelled
//
// Finished and Cancelled are terminal and absorbing: transport events
// arriving afterwards are dropped, never an error. Cancellation is
// cooperative: requesting it only asks the underlying transport task to
// stop, and the operation stays Executing until the corresponding terminal
// event arrives. An operation cancelled before it was ever started moves to
// Cancelled directly from Ready.
type State int32

const (
	StateReady State = iota
	StateExecuting
	StateFinished
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateExecuting:
		return "executing"
	case StateFinished:
		return "finished"
	case StateCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

func (s State) terminal() bool {
	return s == StateFinished || s == StateCancelled
}

// Operation is one schedulable wrapper around a transport task. The three
// concrete kinds are DataOperation, DownloadOperation and UploadOperation;
// the interface is sealed to them.
type Operation interface {
	// Identifier returns the transport task identifier this operation owns.
	Identifier() int64

	// State returns the current lifecycle state.
	State() State

	// Cancel cooperatively cancels the operation. The completion callback
	// still fires, with an error wrapping ErrCancelled, once the transport
	// delivers the terminal event. Cancelling a terminal operation is a
	// no-op.
	Cancel()

	// AddDependency delays the start of this operation until dep has
	// reached a terminal state. Must be called before Enqueue.
	AddDependency(dep Operation)

	// Done is closed when the operation reaches a terminal state.
	Done() <-chan struct{}

	start()
	handleEvent(ev transport.Event)
	resolveChallenge(ch transport.Challenge) (transport.Disposition, *transport.Credential)
	dependencies() []Operation
}

// taskOperation carries the machinery shared by all operation kinds: the
// lifecycle state machine, cancellation, dependency bookkeeping and the
// exactly-once terminal transition.
type taskOperation struct {
	id        int64
	kind      string
	manager   *Manager
	callbacks *CallbackQueue
	logger    *slog.Logger

	// Credential is offered in response to task-level authentication
	// challenges. When nil the manager's DefaultCredential is tried
	// instead. Set before enqueueing.
	Credential *transport.Credential

	mu              sync.Mutex
	state           State
	task            transport.Task
	deps            []Operation
	cancelRequested bool
	done            chan struct{}

	// onEvent handles kind-specific non-terminal events; onComplete
	// delivers the terminal result. Both are set once at construction.
	onEvent    func(ev transport.Event)
	onComplete func(err error)
}

func (m *Manager) newTaskOperation(kind string, task transport.Task) *taskOperation {
	id := task.Identifier()
	return &taskOperation{
		id:        id,
		kind:      kind,
		manager:   m,
		callbacks: m.callbacks,
		logger:    m.logger.With("component", kind+"_operation", "task_id", id),
		state:     StateReady,
		task:      task,
		done:      make(chan struct{}),
	}
}

func (op *taskOperation) Identifier() int64 { return op.id }

func (op *taskOperation) State() State {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

func (op *taskOperation) Done() <-chan struct{} { return op.done }

func (op *taskOperation) AddDependency(dep Operation) {
	op.mu.Lock()
	defer op.mu.Unlock()
	op.deps = append(op.deps, dep)
}

func (op *taskOperation) dependencies() []Operation {
	op.mu.Lock()
	defer op.mu.Unlock()
	return append([]Operation(nil), op.deps...)
}

func (op *taskOperation) Cancel() {
	op.mu.Lock()
	if op.state.terminal() {
		op.mu.Unlock()
		return
	}
	op.cancelRequested = true
	task := op.task
	op.mu.Unlock()

	op.logger.Debug("cancellation requested")
	if task != nil {
		task.Cancel()
	}
}

// start performs Ready → Executing and resumes the underlying transport
// task. Called by the scheduler only; a no-op if the operation was cancelled
// while still queued.
func (op *taskOperation) start() {
	op.mu.Lock()
	if op.state != StateReady {
		op.mu.Unlock()
		return
	}
	op.state = StateExecuting
	task := op.task
	op.mu.Unlock()

	op.logger.Debug("operation executing")
	if task != nil {
		task.Resume()
	}
}

// handleEvent receives every routed event for this operation. The transport
// contract delivers one identifier's events sequentially, so kind-specific
// handlers never run concurrently with each other.
func (op *taskOperation) handleEvent(ev transport.Event) {
	op.mu.Lock()
	terminal := op.state.terminal()
	op.mu.Unlock()
	if terminal {
		// Transport layers may deliver spurious trailing events.
		op.logger.Debug("dropping event for terminal operation", "event_kind", int(ev.Kind))
		return
	}

	if ev.Kind == transport.EventCompleted {
		op.finish(outcomeError(ev.Err))
		return
	}
	op.onEvent(ev)
}

// finish performs the terminal transition exactly once: state change,
// deregistration from the owning manager, completion callback dispatch, and
// the Done signal, in that order, with no lock held across any of them.
func (op *taskOperation) finish(err error) {
	op.mu.Lock()
	if op.state.terminal() {
		op.mu.Unlock()
		return
	}
	if errors.Is(err, ErrCancelled) {
		op.state = StateCancelled
	} else {
		op.state = StateFinished
	}
	state := op.state
	op.task = nil
	op.mu.Unlock()

	op.logger.Debug("operation terminal", "state", state.String(), "error", err)
	op.manager.operationTerminal(op.id, state, err)

	complete := op.onComplete
	op.callbacks.Async(func() { complete(err) })
	close(op.done)
}

// resolveChallenge answers a task-level authentication challenge: the
// operation's credential first, then the manager default, then the
// transport's default handling. A repeated challenge means the credential was
// rejected; it is not offered twice.
func (op *taskOperation) resolveChallenge(ch transport.Challenge) (transport.Disposition, *transport.Credential) {
	if ch.PreviousFailures > 0 {
		return transport.CancelChallenge, nil
	}
	if op.Credential != nil {
		return transport.UseCredential, op.Credential
	}
	if cred := op.manager.DefaultCredential; cred != nil {
		return transport.UseCredential, cred
	}
	return transport.PerformDefaultHandling, nil
}

// outcomeError folds a transport-level terminal error into the package error
// taxonomy.
func outcomeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, transport.ErrCancelled):
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	case errors.Is(err, transport.ErrAuthenticationRequired):
		return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
	default:
		return fmt.Errorf("%w: %w", ErrTransport, err)
	}
}
