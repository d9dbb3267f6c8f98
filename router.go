package netops

import (
	"github.com/netkit/netops/transport"
)

// sessionRouter is the session-wide transport delegate. It is stateless
// apart from the manager reference: every task-scoped event is looked up in
// the manager's registry and forwarded to the owning operation, and events
// with no owner degrade to manager-level fallbacks instead of being dropped.
//
// Routing failures are absorbed and logged, never raised: the transport
// layer has no channel to receive one.
type sessionRouter struct {
	m *Manager
}

func (r *sessionRouter) HandleTaskEvent(ev transport.Event) {
	if op, ok := r.m.reg.lookup(ev.TaskID); ok {
		op.handleEvent(ev)
		return
	}

	// No owning operation. Typical after an app relaunch drops in-memory
	// operations while a background session keeps delivering.
	switch ev.Kind {
	case transport.EventDownloadFinished:
		if fn := r.m.OnBackgroundDownloadFinished; fn != nil {
			fn(ev.TaskID, ev.Location)
			return
		}
	case transport.EventCompleted:
		if fn := r.m.OnTaskCompletedWithoutOperation; fn != nil {
			fn(ev.TaskID, ev.Err)
			return
		}
	}
	r.m.logger.Warn("dropping event with no owning operation",
		"task_id", ev.TaskID, "event_kind", int(ev.Kind))
}

func (r *sessionRouter) HandleTaskChallenge(taskID int64, ch transport.Challenge) (transport.Disposition, *transport.Credential) {
	if op, ok := r.m.reg.lookup(taskID); ok {
		return op.resolveChallenge(ch)
	}
	if ch.PreviousFailures == 0 && r.m.DefaultCredential != nil {
		return transport.UseCredential, r.m.DefaultCredential
	}
	return transport.PerformDefaultHandling, nil
}

func (r *sessionRouter) HandleSessionChallenge(ch transport.Challenge) (transport.Disposition, *transport.Credential) {
	if fn := r.m.OnSessionChallenge; fn != nil {
		return fn(ch)
	}
	if ch.PreviousFailures == 0 && r.m.DefaultCredential != nil {
		return transport.UseCredential, r.m.DefaultCredential
	}
	return transport.PerformDefaultHandling, nil
}

func (r *sessionRouter) HandleSessionInvalidated(err error) {
	r.m.markInvalidated()
	r.m.logger.Info("session invalidated", "error", err)
	if fn := r.m.OnSessionInvalidated; fn != nil {
		r.m.callbacks.Async(func() { fn(err) })
	}
}

func (r *sessionRouter) HandleBackgroundEventsFinished() {
	if fn := r.m.OnBackgroundEventsFinished; fn != nil {
		// A custom handler returning false has taken over signalling
		// (typically to defer it until its own cleanup ran).
		if !fn(r.m) {
			return
		}
	}
	r.m.SignalBackgroundEventsComplete()
}
