package netops

import "errors"

// Errors reported by Manager factories and, through completion callbacks, by
// finished operations. Test with errors.Is; completion errors wrap the
// underlying transport failure.
var (
	// ErrInvalidArgument reports malformed factory input. Failed factories
	// leave no trace: no transport task, no registry entry.
	ErrInvalidArgument = errors.New("netops: invalid argument")

	// ErrDuplicateIdentifier reports a transport task identifier already
	// present in the registry. The transport layer guarantees identifier
	// uniqueness, so seeing this means the session broke its contract.
	ErrDuplicateIdentifier = errors.New("netops: duplicate task identifier")

	// ErrSessionInvalidated is returned by every factory once the
	// underlying session has been invalidated.
	ErrSessionInvalidated = errors.New("netops: session invalidated")

	// ErrTransport wraps network or protocol failures delivered through a
	// completion callback.
	ErrTransport = errors.New("netops: transport failure")

	// ErrCancelled is delivered through the completion callback of a
	// cancelled operation. For downloads cancelled with
	// CancelWithResumeData, the operation's ResumeData method carries the
	// data needed to continue the transfer.
	ErrCancelled = errors.New("netops: operation cancelled")

	// ErrAuthenticationFailed is delivered through the completion callback
	// when no credential satisfied a task-level authentication challenge.
	ErrAuthenticationFailed = errors.New("netops: authentication failed")
)
