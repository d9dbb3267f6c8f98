package netops

import (
	"bytes"

	"github.com/netkit/netops/transport"
)

// DataProgressHandler observes response body chunks as they arrive. The
// chunk is owned by the handler. totalReceived is the running byte count and
// expected the expected final total, -1 when unknown.
type DataProgressHandler func(op *DataOperation, chunk []byte, totalReceived, expected int64)

// DataCompletionHandler delivers the terminal result of a data operation.
// body is the accumulated payload when no progress handler was supplied and
// nil otherwise (the caller already consumed the chunks). err is nil on
// success, or wraps ErrTransport, ErrCancelled or ErrAuthenticationFailed.
type DataCompletionHandler func(op *DataOperation, body []byte, err error)

// DataOperation wraps a transport data task: the response body is delivered
// in memory, either chunk by chunk through the progress handler or
// accumulated into one final payload.
type DataOperation struct {
	*taskOperation

	progress   DataProgressHandler
	completion DataCompletionHandler

	// buf accumulates chunks only when no progress handler was supplied;
	// a caller handling chunks itself owns the payload, so nothing is
	// buffered on its behalf.
	buf *bytes.Buffer
}

func newDataOperation(m *Manager, task transport.Task, progress DataProgressHandler, completion DataCompletionHandler) *DataOperation {
	op := &DataOperation{
		taskOperation: m.newTaskOperation("data", task),
		progress:      progress,
		completion:    completion,
	}
	if progress == nil {
		op.buf = &bytes.Buffer{}
	}
	op.onEvent = op.event
	op.onComplete = op.complete
	return op
}

func (op *DataOperation) event(ev transport.Event) {
	if ev.Kind != transport.EventDataReceived {
		return
	}
	if op.progress == nil {
		op.buf.Write(ev.Chunk)
		return
	}
	// The transport reuses the chunk's backing array after the delegate
	// call returns; hand the handler its own copy.
	chunk := append([]byte(nil), ev.Chunk...)
	total, expected := ev.Total, ev.Expected
	op.callbacks.Async(func() {
		op.progress(op, chunk, total, expected)
	})
}

func (op *DataOperation) complete(err error) {
	var body []byte
	if op.buf != nil {
		// Whatever arrived is handed over, even on failure; partial
		// payloads are the caller's call to keep or drop.
		body = op.buf.Bytes()
	}
	op.completion(op, body, err)
}
