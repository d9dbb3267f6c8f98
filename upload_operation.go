package netops

import (
	"bytes"

	"github.com/netkit/netops/transport"
)

// UploadProgressHandler observes request body progress: bytes sent by this
// event, the running total, and the expected final total.
type UploadProgressHandler func(op *UploadOperation, bytesSent, totalSent, totalExpected int64)

// UploadCompletionHandler delivers the terminal result of an upload. body is
// the accumulated response body, if the server sent one. err is nil on
// success, or wraps ErrTransport, ErrCancelled or ErrAuthenticationFailed.
type UploadCompletionHandler func(op *UploadOperation, body []byte, err error)

// UploadOperation wraps a transport upload task. Send progress is reported
// through the progress handler; any response body is accumulated and handed
// to the completion handler, mirroring the data kind.
type UploadOperation struct {
	*taskOperation

	progress   UploadProgressHandler
	completion UploadCompletionHandler
	buf        bytes.Buffer
}

func newUploadOperation(m *Manager, task transport.Task, progress UploadProgressHandler, completion UploadCompletionHandler) *UploadOperation {
	op := &UploadOperation{
		taskOperation: m.newTaskOperation("upload", task),
		progress:      progress,
		completion:    completion,
	}
	op.onEvent = op.event
	op.onComplete = op.complete
	return op
}

func (op *UploadOperation) event(ev transport.Event) {
	switch ev.Kind {
	case transport.EventSendProgress:
		if op.progress == nil {
			return
		}
		sent, total, expected := ev.Bytes, ev.Total, ev.Expected
		op.callbacks.Async(func() {
			op.progress(op, sent, total, expected)
		})

	case transport.EventDataReceived:
		op.buf.Write(ev.Chunk)
	}
}

func (op *UploadOperation) complete(err error) {
	var body []byte
	if op.buf.Len() > 0 {
		body = op.buf.Bytes()
	}
	op.completion(op, body, err)
}
