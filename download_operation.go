package netops

import (
	"sync"

	"github.com/netkit/netops/transport"
)

// DownloadProgressHandler observes download progress: bytes written by this
// event, the running total, and the expected final total (-1 when unknown).
type DownloadProgressHandler func(op *DownloadOperation, bytesWritten, totalWritten, totalExpected int64)

// DownloadCompletionHandler delivers the terminal result of a download.
// location is the path the Destination hook relocated the file to, or empty
// when the download failed or no hook was installed. err is nil on success,
// or wraps ErrTransport, ErrCancelled or ErrAuthenticationFailed; for
// cancellations requested with CancelWithResumeData, ResumeData carries the
// continuation state.
type DownloadCompletionHandler func(op *DownloadOperation, location string, err error)

// DownloadOperation wraps a transport download task: the response body is
// streamed to a temporary file owned by the transport layer.
type DownloadOperation struct {
	*taskOperation

	progress   DownloadProgressHandler
	completion DownloadCompletionHandler

	// Destination relocates the finished download. The temporary file is
	// deleted the moment the transport's delegate call returns, so the
	// hook runs synchronously on the event goroutine and must move or
	// copy the file before returning. The returned path is what the
	// completion handler receives. Set before enqueueing; without a hook
	// the file is lost and the completion location is empty.
	Destination func(op *DownloadOperation, tempPath string) (string, error)

	resMu      sync.Mutex
	resumeData []byte
	location   string
	destErr    error
}

func newDownloadOperation(m *Manager, task transport.Task, progress DownloadProgressHandler, completion DownloadCompletionHandler) *DownloadOperation {
	op := &DownloadOperation{
		taskOperation: m.newTaskOperation("download", task),
		progress:      progress,
		completion:    completion,
	}
	op.onEvent = op.event
	op.onComplete = op.complete
	return op
}

// CancelWithResumeData cancels like Cancel but additionally asks the
// transport for resume data. When the transport can produce it, the data is
// available from ResumeData once the completion handler has fired, and can
// seed Manager.DownloadOperationWithResumeData to continue the transfer.
func (op *DownloadOperation) CancelWithResumeData() {
	op.mu.Lock()
	if op.state.terminal() {
		op.mu.Unlock()
		return
	}
	op.cancelRequested = true
	task := op.task
	op.mu.Unlock()

	op.logger.Debug("cancellation with resume data requested")
	if task == nil {
		return
	}
	task.CancelWithResumeData(func(data []byte) {
		op.setResumeData(data)
	})
}

// ResumeData returns the continuation state captured by a
// CancelWithResumeData cancellation, or nil. Populated before the completion
// handler runs.
func (op *DownloadOperation) ResumeData() []byte {
	op.resMu.Lock()
	defer op.resMu.Unlock()
	return op.resumeData
}

func (op *DownloadOperation) setResumeData(data []byte) {
	op.resMu.Lock()
	op.resumeData = data
	op.resMu.Unlock()
	if data != nil {
		op.manager.journalResumeData(op.id, data)
	}
}

func (op *DownloadOperation) event(ev transport.Event) {
	switch ev.Kind {
	case transport.EventWriteProgress:
		if op.progress == nil {
			return
		}
		bytesWritten, total, expected := ev.Bytes, ev.Total, ev.Expected
		op.callbacks.Async(func() {
			op.progress(op, bytesWritten, total, expected)
		})

	case transport.EventDownloadFinished:
		// Synchronous on purpose: the file at ev.Location is gone once
		// this handler returns.
		if op.Destination == nil {
			op.logger.Warn("download finished with no destination hook, file discarded",
				"location", ev.Location)
			return
		}
		final, err := op.Destination(op, ev.Location)
		op.resMu.Lock()
		op.location, op.destErr = final, err
		op.resMu.Unlock()
	}
}

func (op *DownloadOperation) complete(err error) {
	op.resMu.Lock()
	location, destErr := op.location, op.destErr
	op.resMu.Unlock()

	if err == nil && destErr != nil {
		err, location = destErr, ""
	}
	op.completion(op, location, err)
}
