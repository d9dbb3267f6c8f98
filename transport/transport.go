package transport

import (
	"errors"
	"net/http"
)

// Errors a Session reports through the terminal Completed event. The core
// maps these onto its own error taxonomy; user code normally never sees them
// directly.
var (
	// ErrCancelled is carried by the terminal event of a task whose Cancel
	// or CancelWithResumeData was invoked before it finished.
	ErrCancelled = errors.New("transport: task cancelled")

	// ErrAuthenticationRequired is carried by the terminal event of a task
	// whose authentication challenge no credential could satisfy.
	ErrAuthenticationRequired = errors.New("transport: authentication required")
)

// Request describes one exchange to be performed by a task. URL is required;
// Method defaults to GET (PUT for upload tasks). Header and Body are optional.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

// UploadBody is the payload of an upload task: either an in-memory byte slice
// or a path to a file on disk. Exactly one of the two should be set.
type UploadBody struct {
	Data     []byte
	FilePath string
}

// Credential carries the username/password pair offered in response to an
// authentication challenge.
type Credential struct {
	Username string
	Password string
}

// Challenge describes an authentication challenge issued by the remote side
// or by the session itself. PreviousFailures counts earlier attempts to
// answer this same challenge; a responder seeing a non-zero count should not
// offer the same credential again.
type Challenge struct {
	Host             string
	Realm            string
	PreviousFailures int
}

// Disposition is the challenge responder's decision.
type Disposition int

const (
	// PerformDefaultHandling lets the session proceed as if no responder
	// were installed.
	PerformDefaultHandling Disposition = iota

	// UseCredential retries the exchange with the returned credential.
	UseCredential

	// CancelChallenge abandons the exchange; the task completes with
	// ErrAuthenticationRequired.
	CancelChallenge
)

// EventKind discriminates the task-scoped events a session delivers.
type EventKind int

const (
	// EventDataReceived carries a chunk of response body (data and upload
	// tasks).
	EventDataReceived EventKind = iota

	// EventWriteProgress reports bytes written to disk by a download task.
	EventWriteProgress

	// EventSendProgress reports request body bytes sent by an upload task.
	EventSendProgress

	// EventDownloadFinished reports the temporary location of a completed
	// download. The file at Location is deleted once the delegate call
	// returns; the receiver must consume it synchronously.
	EventDownloadFinished

	// EventCompleted is the terminal event. Err is nil on success,
	// ErrCancelled on cancellation, and some other error on transport
	// failure. Exactly one Completed event is delivered per task.
	EventCompleted
)

// Event is one task-scoped delegate callback, tagged with the identifier of
// the transport task it belongs to. Which fields are meaningful depends on
// Kind.
type Event struct {
	Kind   EventKind
	TaskID int64

	// EventDataReceived. The slice must not be retained past the delegate
	// call; copy it if needed.
	Chunk []byte

	// Progress counters: Bytes is the delta carried by this event, Total
	// the running total, Expected the expected final total (-1 if unknown).
	Bytes    int64
	Total    int64
	Expected int64

	// EventDownloadFinished.
	Location string

	// EventCompleted.
	Err error
}

// Delegate is the single session-wide sink for everything a Session reports.
// Sessions may invoke it from arbitrary goroutines, but events for one task
// identifier are always delivered sequentially and in order, with
// EventCompleted last.
type Delegate interface {
	// HandleTaskEvent receives every task-scoped event.
	HandleTaskEvent(ev Event)

	// HandleTaskChallenge resolves an authentication challenge scoped to a
	// single task.
	HandleTaskChallenge(taskID int64, ch Challenge) (Disposition, *Credential)

	// HandleSessionChallenge resolves a session-scoped authentication
	// challenge (e.g. proxy or TLS trust decisions).
	HandleSessionChallenge(ch Challenge) (Disposition, *Credential)

	// HandleSessionInvalidated reports that the session has become
	// unusable. No further events follow.
	HandleSessionInvalidated(err error)

	// HandleBackgroundEventsFinished reports that all queued events of a
	// background session have been flushed.
	HandleBackgroundEventsFinished()
}

// Task is one asynchronous exchange created by a Session. A task does nothing
// until Resume is called.
//
// Cancellation contract: Cancel (and CancelWithResumeData) always results in
// exactly one terminal Completed event carrying ErrCancelled, whether or not
// the task was ever resumed. Cancelling an already-terminal task is a no-op.
type Task interface {
	// Identifier returns the opaque integer assigned to this task at
	// creation. Unique for the lifetime of the session.
	Identifier() int64

	// Resume starts (or continues) the exchange.
	Resume()

	// Cancel asks the task to stop. The terminal event arrives
	// asynchronously.
	Cancel()

	// CancelWithResumeData is Cancel for download tasks that additionally
	// requests resume data. The handler is invoked, before the terminal
	// event, with data sufficient to continue the transfer later, or nil
	// when no resume data could be produced.
	CancelWithResumeData(handler func(resumeData []byte))
}

// Session creates tasks and reports all their events to the single Delegate
// supplied at construction.
type Session interface {
	// DataTask creates a task that delivers the response body via
	// EventDataReceived events.
	DataTask(req *Request) (Task, error)

	// DownloadTask creates a task that streams the response body to a
	// temporary file, reporting EventWriteProgress along the way and
	// EventDownloadFinished with the file's transient location.
	DownloadTask(req *Request) (Task, error)

	// DownloadTaskWithResumeData continues a transfer cancelled earlier
	// with CancelWithResumeData.
	DownloadTaskWithResumeData(resumeData []byte) (Task, error)

	// UploadTask creates a task that sends body, reporting
	// EventSendProgress, and delivers any response body via
	// EventDataReceived.
	UploadTask(req *Request, body UploadBody) (Task, error)

	// Invalidate cancels all outstanding tasks and renders the session
	// unusable. HandleSessionInvalidated is delivered once all tasks have
	// reached their terminal event.
	Invalidate()
}
