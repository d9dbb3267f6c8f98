package netops

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/netkit/netops/transport"
)

// Config carries everything a Manager needs at construction. There is no
// ambient global state: credentials, callback context and journal all travel
// through here.
type Config struct {
	// Transport builds the underlying session. It receives the manager's
	// router as the session-wide delegate. Required.
	Transport func(d transport.Delegate) (transport.Session, error)

	// Callbacks is the execution context all user callbacks run on.
	// Defaults to the process-wide DefaultCallbackQueue.
	Callbacks *CallbackQueue

	// MaxConcurrent bounds concurrently executing operations. Non-positive
	// values fall back to DefaultMaxConcurrent.
	MaxConcurrent int

	// Credential is offered for session-level authentication challenges
	// and as the fallback for task-level ones.
	Credential *transport.Credential

	// Journal, when set, records operation lifecycle persistently.
	Journal Journal

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Manager is the composition root: it owns one transport session, the
// registry of in-flight operations, and the scheduler. Factory methods
// create and register operations; Enqueue schedules them.
//
// The exported callback fields mirror the session-wide fallbacks of the
// wrapped transport model. Set them before creating operations; they are
// read from transport goroutines.
type Manager struct {
	session   transport.Session
	reg       *registry
	sched     *Scheduler
	callbacks *CallbackQueue
	journal   Journal
	logger    *slog.Logger

	// DefaultCredential is tried for authentication challenges that no
	// operation-level credential answers.
	DefaultCredential *transport.Credential

	// OnSessionChallenge, when set, resolves session-scoped authentication
	// challenges instead of the default credential logic.
	OnSessionChallenge func(ch transport.Challenge) (transport.Disposition, *transport.Credential)

	// OnSessionInvalidated is invoked once, on the callback queue, when
	// the session becomes unusable.
	OnSessionInvalidated func(err error)

	// OnBackgroundDownloadFinished receives downloads that completed with
	// no owning operation registered (the process was relaunched and lost
	// its in-memory operations). It runs synchronously on the transport
	// goroutine: the file at location is deleted when it returns.
	OnBackgroundDownloadFinished func(taskID int64, location string)

	// OnTaskCompletedWithoutOperation is the symmetric fallback for
	// terminal events with no owning operation.
	OnTaskCompletedWithoutOperation func(taskID int64, err error)

	// OnBackgroundEventsFinished is invoked when a background session has
	// flushed all queued events. Returning true lets the manager invoke
	// the host completion signal; returning false means the handler has
	// taken over signalling.
	OnBackgroundEventsFinished func(m *Manager) bool

	invalidated atomic.Bool

	sigMu            sync.Mutex
	backgroundSignal func()
}

// New creates a Manager and its transport session.
func New(cfg Config) (*Manager, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("%w: nil transport factory", ErrInvalidArgument)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	callbacks := cfg.Callbacks
	if callbacks == nil {
		callbacks = DefaultCallbackQueue()
	}

	m := &Manager{
		reg:               newRegistry(),
		callbacks:         callbacks,
		journal:           cfg.Journal,
		logger:            logger.With("component", "netops_manager"),
		DefaultCredential: cfg.Credential,
	}
	m.sched = NewScheduler(cfg.MaxConcurrent, logger)

	session, err := cfg.Transport(&sessionRouter{m: m})
	if err != nil {
		return nil, fmt.Errorf("netops: building transport session: %w", err)
	}
	m.session = session
	return m, nil
}

var (
	backgroundMu       sync.Mutex
	backgroundManagers = make(map[string]*Manager)
)

// Background returns the Manager bound to the named background-session
// identifier, creating it on first use. Subsequent calls with the same
// identifier return the same instance and ignore cfg.
func Background(identifier string, cfg Config) (*Manager, error) {
	if identifier == "" {
		return nil, fmt.Errorf("%w: empty background session identifier", ErrInvalidArgument)
	}
	backgroundMu.Lock()
	defer backgroundMu.Unlock()
	if m, ok := backgroundManagers[identifier]; ok {
		return m, nil
	}
	m, err := New(cfg)
	if err != nil {
		return nil, err
	}
	backgroundManagers[identifier] = m
	return m, nil
}

// Queue exposes the scheduler for advanced use (waiting, cancelling
// everything, inspecting the concurrency bound).
func (m *Manager) Queue() *Scheduler { return m.sched }

// Enqueue submits an already-constructed operation to the scheduler. The
// separation from the factories lets callers declare dependencies and
// credentials before anything starts.
func (m *Manager) Enqueue(op Operation) {
	m.sched.Enqueue(op)
}

// DataOperation creates and registers a data operation for req. The caller
// must Enqueue it; nothing runs until then.
func (m *Manager) DataOperation(req *transport.Request, progress DataProgressHandler, completion DataCompletionHandler) (*DataOperation, error) {
	if err := m.checkFactory(req, completion == nil); err != nil {
		return nil, err
	}
	task, err := m.session.DataTask(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	op := newDataOperation(m, task, progress, completion)
	if err := m.register(op, req.URL); err != nil {
		return nil, err
	}
	return op, nil
}

// DataOperationURL is DataOperation for a bare GET of url.
func (m *Manager) DataOperationURL(url string, progress DataProgressHandler, completion DataCompletionHandler) (*DataOperation, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty url", ErrInvalidArgument)
	}
	return m.DataOperation(&transport.Request{URL: url}, progress, completion)
}

// DownloadOperation creates and registers a download operation for req.
// Install the Destination hook on the returned operation before enqueueing,
// or the downloaded file is discarded.
func (m *Manager) DownloadOperation(req *transport.Request, progress DownloadProgressHandler, completion DownloadCompletionHandler) (*DownloadOperation, error) {
	if err := m.checkFactory(req, completion == nil); err != nil {
		return nil, err
	}
	task, err := m.session.DownloadTask(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	op := newDownloadOperation(m, task, progress, completion)
	if err := m.register(op, req.URL); err != nil {
		return nil, err
	}
	return op, nil
}

// DownloadOperationURL is DownloadOperation for a bare GET of url.
func (m *Manager) DownloadOperationURL(url string, progress DownloadProgressHandler, completion DownloadCompletionHandler) (*DownloadOperation, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty url", ErrInvalidArgument)
	}
	return m.DownloadOperation(&transport.Request{URL: url}, progress, completion)
}

// DownloadOperationWithResumeData continues a transfer cancelled earlier
// with CancelWithResumeData.
func (m *Manager) DownloadOperationWithResumeData(resumeData []byte, progress DownloadProgressHandler, completion DownloadCompletionHandler) (*DownloadOperation, error) {
	if m.invalidated.Load() {
		return nil, ErrSessionInvalidated
	}
	if len(resumeData) == 0 {
		return nil, fmt.Errorf("%w: empty resume data", ErrInvalidArgument)
	}
	if completion == nil {
		return nil, fmt.Errorf("%w: nil completion handler", ErrInvalidArgument)
	}
	task, err := m.session.DownloadTaskWithResumeData(resumeData)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	op := newDownloadOperation(m, task, progress, completion)
	if err := m.register(op, ""); err != nil {
		return nil, err
	}
	return op, nil
}

// UploadOperation creates and registers an upload operation sending body.
func (m *Manager) UploadOperation(req *transport.Request, body transport.UploadBody, progress UploadProgressHandler, completion UploadCompletionHandler) (*UploadOperation, error) {
	if err := m.checkFactory(req, completion == nil); err != nil {
		return nil, err
	}
	if len(body.Data) == 0 && body.FilePath == "" {
		return nil, fmt.Errorf("%w: empty upload body", ErrInvalidArgument)
	}
	task, err := m.session.UploadTask(req, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	op := newUploadOperation(m, task, progress, completion)
	if err := m.register(op, req.URL); err != nil {
		return nil, err
	}
	return op, nil
}

// UploadOperationURL is UploadOperation for a bare PUT to url.
func (m *Manager) UploadOperationURL(url string, body transport.UploadBody, progress UploadProgressHandler, completion UploadCompletionHandler) (*UploadOperation, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: empty url", ErrInvalidArgument)
	}
	return m.UploadOperation(&transport.Request{URL: url}, body, progress, completion)
}

// SetBackgroundCompletionSignal installs the host's one-shot "all background
// work flushed" hook. The router invokes it (through
// SignalBackgroundEventsComplete) when the background session reports it has
// flushed its queued events, unless OnBackgroundEventsFinished opts to defer
// and signal manually.
func (m *Manager) SetBackgroundCompletionSignal(fn func()) {
	m.sigMu.Lock()
	m.backgroundSignal = fn
	m.sigMu.Unlock()
}

// SignalBackgroundEventsComplete invokes the installed completion signal, at
// most once per installation.
func (m *Manager) SignalBackgroundEventsComplete() {
	m.sigMu.Lock()
	fn := m.backgroundSignal
	m.backgroundSignal = nil
	m.sigMu.Unlock()
	if fn != nil {
		fn()
	}
}

// Close cancels every registered operation and invalidates the session.
// Completion callbacks for the cancelled operations still fire.
func (m *Manager) Close() {
	for _, op := range m.reg.snapshot() {
		op.Cancel()
	}
	m.session.Invalidate()
}

// InFlight reports the number of registered, non-terminal operations.
func (m *Manager) InFlight() int { return m.reg.size() }

func (m *Manager) markInvalidated() {
	m.invalidated.Store(true)
}

func (m *Manager) checkFactory(req *transport.Request, nilCompletion bool) error {
	if m.invalidated.Load() {
		return ErrSessionInvalidated
	}
	if req == nil || req.URL == "" {
		return fmt.Errorf("%w: nil request or empty url", ErrInvalidArgument)
	}
	if nilCompletion {
		return fmt.Errorf("%w: nil completion handler", ErrInvalidArgument)
	}
	return nil
}

// register makes creation-plus-registration one step: a failed insert never
// leaves a dangling entry. A duplicate identifier means the transport broke
// its uniqueness guarantee; the new task is deliberately NOT cancelled, since
// its identifier would route the cancellation event into the operation that
// legitimately owns it.
func (m *Manager) register(op Operation, url string) error {
	if err := m.reg.insert(op.Identifier(), op); err != nil {
		m.logger.Error("transport reissued a live task identifier",
			"task_id", op.Identifier())
		return err
	}
	m.journalCreated(op, url)
	return nil
}

func (m *Manager) journalCreated(op Operation, url string) {
	if m.journal == nil {
		return
	}
	kind := "data"
	switch op.(type) {
	case *DownloadOperation:
		kind = "download"
	case *UploadOperation:
		kind = "upload"
	}
	now := time.Now().UTC()
	entry := &JournalEntry{
		ID:        uuid.New(),
		TaskID:    op.Identifier(),
		Kind:      kind,
		URL:       url,
		State:     StateReady.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := m.journal.RecordCreated(context.Background(), entry); err != nil {
		m.logger.Error("journal create failed", "task_id", op.Identifier(), "error", err)
	}
}

// operationTerminal is invoked by an operation on its terminal transition:
// the registry entry is removed exactly once, here and nowhere else.
func (m *Manager) operationTerminal(id int64, state State, err error) {
	m.reg.remove(id)
	if m.journal == nil {
		return
	}
	errMsg := ""
	if err != nil {
		errMsg = err.Error()
	}
	if jerr := m.journal.RecordState(context.Background(), id, state, errMsg); jerr != nil {
		m.logger.Error("journal state update failed", "task_id", id, "error", jerr)
	}
}

func (m *Manager) journalResumeData(id int64, data []byte) {
	if m.journal == nil {
		return
	}
	if err := m.journal.RecordResumeData(context.Background(), id, data); err != nil {
		m.logger.Error("journal resume data update failed", "task_id", id, "error", err)
	}
}
