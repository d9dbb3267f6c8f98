// Package netops turns a session-oriented asynchronous transport, where one
// session delivers every callback to one session-wide delegate, into
// independently schedulable, independently cancellable task operations, one
// per in-flight request, each carrying its own progress and completion
// callbacks.
//
// A Manager owns one transport session, a registry of in-flight operations
// keyed by transport task identifier, and a bounded-concurrency scheduler.
// The session's delegate is a pure router: every transport event is tagged
// with a task identifier and forwarded to the one operation that owns it.
// Events for identifiers with no owning operation (for instance a background
// download finishing after the process was relaunched) are handed to
// manager-level fallback callbacks instead of being dropped.
//
// Basic usage:
//
//	m, err := netops.New(netops.Config{
//		Transport: func(d transport.Delegate) (transport.Session, error) {
//			return transport.NewHTTPSession(nil, d, logger), nil
//		},
//	})
//	...
//	op, err := m.DataOperationURL("https://example.com/resource", nil,
//		func(op *netops.DataOperation, body []byte, err error) {
//			// body holds the full payload, err the outcome
//		})
//	...
//	m.Enqueue(op)
//
// Factory methods return the operation without scheduling it so that callers
// can declare dependencies between operations first; nothing happens until
// Enqueue.
package netops
