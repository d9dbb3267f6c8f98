package netops

import (
	"errors"
	"sync"

	"github.com/netkit/netops/transport"
)

// fakeScript describes what a fake task delivers once resumed. Scripts are
// keyed by request URL (or, for resumed downloads, by the resume blob).
type fakeScript struct {
	chunks        [][]byte // response body chunks (data/upload kinds)
	sendTotals    []int64  // cumulative send-progress totals (upload kind)
	writeTotals   []int64  // cumulative write-progress totals (download kind)
	expected      int64    // expected final byte count
	location      string   // transient download location
	err           error    // terminal error, nil for success
	resumeData    []byte   // handed out by CancelWithResumeData
	holdOpen      bool     // suppress the automatic terminal event
	taskChallenge bool     // issue one task-level challenge before running
}

// fakeSession is a scripted transport.Session. Each task replays its script
// on a private goroutine, which preserves the per-identifier ordering the
// real contract guarantees.
type fakeSession struct {
	mu          sync.Mutex
	delegate    transport.Delegate
	nextID      int64
	scripts     map[string]fakeScript
	tasks       map[int64]*fakeTask
	invalidated bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		scripts: make(map[string]fakeScript),
		tasks:   make(map[int64]*fakeTask),
	}
}

// factory plugs the session into netops.Config.Transport.
func (s *fakeSession) factory() func(transport.Delegate) (transport.Session, error) {
	return func(d transport.Delegate) (transport.Session, error) {
		s.delegate = d
		return s, nil
	}
}

func (s *fakeSession) script(key string, sc fakeScript) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[key] = sc
}

// deliver injects a raw event, bypassing any task. Used to simulate
// transport misbehavior (stale identifiers, duplicate terminal events).
func (s *fakeSession) deliver(ev transport.Event) {
	s.delegate.HandleTaskEvent(ev)
}

func (s *fakeSession) task(id int64) *fakeTask {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[id]
}

func (s *fakeSession) newTask(key string) (*fakeTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalidated {
		return nil, errors.New("fake session invalidated")
	}
	s.nextID++
	t := &fakeTask{
		session: s,
		id:      s.nextID,
		script:  s.scripts[key],
	}
	s.tasks[t.id] = t
	return t, nil
}

func (s *fakeSession) DataTask(req *transport.Request) (transport.Task, error) {
	return s.newTask(req.URL)
}

func (s *fakeSession) DownloadTask(req *transport.Request) (transport.Task, error) {
	return s.newTask(req.URL)
}

func (s *fakeSession) DownloadTaskWithResumeData(resumeData []byte) (transport.Task, error) {
	return s.newTask(string(resumeData))
}

func (s *fakeSession) UploadTask(req *transport.Request, body transport.UploadBody) (transport.Task, error) {
	return s.newTask(req.URL)
}

func (s *fakeSession) Invalidate() {
	s.mu.Lock()
	s.invalidated = true
	tasks := make([]*fakeTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
	s.delegate.HandleSessionInvalidated(nil)
}

type fakeTask struct {
	session *fakeSession
	id      int64
	script  fakeScript

	mu       sync.Mutex
	resumed  bool
	finished bool
}

func (t *fakeTask) Identifier() int64 { return t.id }

func (t *fakeTask) Resume() {
	t.mu.Lock()
	if t.resumed || t.finished {
		t.mu.Unlock()
		return
	}
	t.resumed = true
	t.mu.Unlock()
	go t.run()
}

func (t *fakeTask) run() {
	d := t.session.delegate

	if t.script.taskChallenge {
		ch := transport.Challenge{Host: "fake.test", Realm: "fake"}
		disp, cred := d.HandleTaskChallenge(t.id, ch)
		if disp != transport.UseCredential || cred == nil {
			t.finish(transport.ErrAuthenticationRequired)
			return
		}
	}

	var total int64
	for _, chunk := range t.script.chunks {
		if t.isFinished() {
			return
		}
		total += int64(len(chunk))
		d.HandleTaskEvent(transport.Event{
			Kind:     transport.EventDataReceived,
			TaskID:   t.id,
			Chunk:    chunk,
			Bytes:    int64(len(chunk)),
			Total:    total,
			Expected: t.script.expected,
		})
	}

	var prev int64
	for _, sent := range t.script.sendTotals {
		if t.isFinished() {
			return
		}
		d.HandleTaskEvent(transport.Event{
			Kind:     transport.EventSendProgress,
			TaskID:   t.id,
			Bytes:    sent - prev,
			Total:    sent,
			Expected: t.script.expected,
		})
		prev = sent
	}

	prev = 0
	for _, written := range t.script.writeTotals {
		if t.isFinished() {
			return
		}
		d.HandleTaskEvent(transport.Event{
			Kind:     transport.EventWriteProgress,
			TaskID:   t.id,
			Bytes:    written - prev,
			Total:    written,
			Expected: t.script.expected,
		})
		prev = written
	}

	if t.script.location != "" && t.script.err == nil {
		d.HandleTaskEvent(transport.Event{
			Kind:     transport.EventDownloadFinished,
			TaskID:   t.id,
			Location: t.script.location,
		})
	}

	if t.script.holdOpen {
		return
	}
	t.finish(t.script.err)
}

func (t *fakeTask) isFinished() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.finished
}

func (t *fakeTask) finish(err error) {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true
	t.mu.Unlock()

	t.session.delegate.HandleTaskEvent(transport.Event{
		Kind:   transport.EventCompleted,
		TaskID: t.id,
		Err:    err,
	})
}

func (t *fakeTask) Cancel() {
	go t.finish(transport.ErrCancelled)
}

func (t *fakeTask) CancelWithResumeData(handler func([]byte)) {
	data := t.script.resumeData
	go func() {
		if handler != nil {
			handler(data)
		}
		t.finish(transport.ErrCancelled)
	}()
}
