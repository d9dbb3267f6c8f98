package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

// chunkSize is the read granularity for response bodies. One delegate event
// is delivered per chunk.
const chunkSize = 32 * 1024

// HTTPSession implements Session on top of a net/http Client. Every task runs
// on its own goroutine; events for one task are therefore delivered
// sequentially, satisfying the Delegate ordering contract.
type HTTPSession struct {
	client   *http.Client
	delegate Delegate
	logger   *slog.Logger

	nextID atomic.Int64

	mu          sync.Mutex
	invalidated bool
	tasks       map[int64]*httpTask

	wg sync.WaitGroup
}

// NewHTTPSession creates a session delivering all events to delegate. A nil
// client falls back to http.DefaultClient.
func NewHTTPSession(client *http.Client, delegate Delegate, logger *slog.Logger) *HTTPSession {
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSession{
		client:   client,
		delegate: delegate,
		logger:   logger.With("component", "http_session"),
		tasks:    make(map[int64]*httpTask),
	}
}

// resumeState is the opaque resume-data payload produced when a download task
// is cancelled with CancelWithResumeData.
type resumeState struct {
	URL         string `json:"url"`
	PartialPath string `json:"partial_path"`
	Offset      int64  `json:"offset"`
	ETag        string `json:"etag,omitempty"`
}

type taskKind int

const (
	kindData taskKind = iota
	kindDownload
	kindUpload
)

// DataTask implements Session.
func (s *HTTPSession) DataTask(req *Request) (Task, error) {
	return s.newTask(kindData, req, UploadBody{}, nil)
}

// DownloadTask implements Session.
func (s *HTTPSession) DownloadTask(req *Request) (Task, error) {
	return s.newTask(kindDownload, req, UploadBody{}, nil)
}

// DownloadTaskWithResumeData implements Session.
func (s *HTTPSession) DownloadTaskWithResumeData(resumeData []byte) (Task, error) {
	var st resumeState
	if err := json.Unmarshal(resumeData, &st); err != nil {
		return nil, fmt.Errorf("transport: malformed resume data: %w", err)
	}
	if st.URL == "" {
		return nil, errors.New("transport: resume data carries no url")
	}
	return s.newTask(kindDownload, &Request{URL: st.URL}, UploadBody{}, &st)
}

// UploadTask implements Session.
func (s *HTTPSession) UploadTask(req *Request, body UploadBody) (Task, error) {
	return s.newTask(kindUpload, req, body, nil)
}

func (s *HTTPSession) newTask(kind taskKind, req *Request, body UploadBody, resume *resumeState) (Task, error) {
	if req == nil || req.URL == "" {
		return nil, errors.New("transport: request with empty url")
	}
	if _, err := url.Parse(req.URL); err != nil {
		return nil, fmt.Errorf("transport: bad url %q: %w", req.URL, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalidated {
		return nil, errors.New("transport: session invalidated")
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &httpTask{
		session: s,
		id:      s.nextID.Add(1),
		kind:    kind,
		req:     req,
		body:    body,
		resume:  resume,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.tasks[t.id] = t
	return t, nil
}

// Invalidate implements Session.
func (s *HTTPSession) Invalidate() {
	s.mu.Lock()
	if s.invalidated {
		s.mu.Unlock()
		return
	}
	s.invalidated = true
	tasks := make([]*httpTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}
	go func() {
		s.wg.Wait()
		s.delegate.HandleSessionInvalidated(nil)
	}()
}

func (s *HTTPSession) forget(id int64) {
	s.mu.Lock()
	delete(s.tasks, id)
	s.mu.Unlock()
}

// httpTask is one exchange run by HTTPSession.
type httpTask struct {
	session *HTTPSession
	id      int64
	kind    taskKind
	req     *Request
	body    UploadBody
	resume  *resumeState

	ctx    context.Context
	cancel context.CancelFunc

	mu            sync.Mutex
	started       bool
	finished      bool
	cancelled     bool
	produceResume bool
	resumeHandler func([]byte)
}

// Identifier implements Task.
func (t *httpTask) Identifier() int64 { return t.id }

// Resume implements Task.
func (t *httpTask) Resume() {
	t.mu.Lock()
	if t.started || t.finished {
		t.mu.Unlock()
		return
	}
	t.started = true
	t.mu.Unlock()

	t.session.wg.Add(1)
	go t.run()
}

// Cancel implements Task.
func (t *httpTask) Cancel() {
	t.cancelInternal(false, nil)
}

// CancelWithResumeData implements Task.
func (t *httpTask) CancelWithResumeData(handler func(resumeData []byte)) {
	t.cancelInternal(true, handler)
}

func (t *httpTask) cancelInternal(produceResume bool, handler func([]byte)) {
	t.mu.Lock()
	if t.finished || t.cancelled {
		t.mu.Unlock()
		return
	}
	t.cancelled = true
	t.produceResume = produceResume
	t.resumeHandler = handler
	started := t.started
	if !started {
		// The run goroutine will never exist; suppress a late Resume and
		// deliver the terminal event ourselves.
		t.started = true
	}
	t.mu.Unlock()

	t.cancel()
	if !started {
		t.session.wg.Add(1)
		go func() {
			defer t.session.wg.Done()
			t.mu.Lock()
			handler := t.resumeHandler
			t.mu.Unlock()
			if handler != nil {
				handler(nil)
			}
			t.finish(ErrCancelled)
		}()
	}
}

func (t *httpTask) isCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// finish delivers the terminal event exactly once and drops the task from the
// session table.
func (t *httpTask) finish(err error) {
	t.mu.Lock()
	if t.finished {
		t.mu.Unlock()
		return
	}
	t.finished = true
	t.mu.Unlock()

	t.session.forget(t.id)
	t.session.delegate.HandleTaskEvent(Event{
		Kind:   EventCompleted,
		TaskID: t.id,
		Err:    err,
	})
}

func (t *httpTask) emit(ev Event) {
	ev.TaskID = t.id
	t.session.delegate.HandleTaskEvent(ev)
}

func (t *httpTask) run() {
	defer t.session.wg.Done()

	resp, err := t.exchange()
	if err != nil {
		t.finish(t.mapError(err))
		return
	}
	defer resp.Body.Close()

	switch t.kind {
	case kindDownload:
		err = t.consumeDownload(resp)
	default:
		err = t.consumeBody(resp)
	}
	if err != nil {
		t.finish(t.mapError(err))
		return
	}
	t.finish(nil)
}

// exchange performs the HTTP round trip, resolving task-level authentication
// challenges through the session delegate. Each 401 is turned into a
// Challenge; the responder either supplies a credential for a retry, lets the
// unauthorized response stand, or abandons the task.
func (t *httpTask) exchange() (*http.Response, error) {
	var cred *Credential
	for attempt := 0; ; attempt++ {
		req, err := t.buildRequest()
		if err != nil {
			return nil, err
		}
		if cred != nil {
			req.SetBasicAuth(cred.Username, cred.Password)
		}

		resp, err := t.session.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusUnauthorized {
			return resp, nil
		}

		ch := Challenge{
			Host:             req.URL.Host,
			Realm:            challengeRealm(resp),
			PreviousFailures: attempt,
		}

		disp, c := t.session.delegate.HandleTaskChallenge(t.id, ch)
		switch disp {
		case UseCredential:
			if c == nil {
				resp.Body.Close()
				return nil, ErrAuthenticationRequired
			}
			cred = c
			resp.Body.Close()
		case CancelChallenge:
			resp.Body.Close()
			return nil, ErrAuthenticationRequired
		default:
			// Default handling: hand the 401 response to the caller as-is.
			// The request body was already consumed by this attempt, so a
			// second round trip would replay the exchange with an empty body.
			return resp, nil
		}
	}
}

func challengeRealm(resp *http.Response) string {
	auth := resp.Header.Get("WWW-Authenticate")
	if i := strings.Index(auth, `realm="`); i >= 0 {
		rest := auth[i+len(`realm="`):]
		if j := strings.Index(rest, `"`); j >= 0 {
			return rest[:j]
		}
	}
	return ""
}

func (t *httpTask) buildRequest() (*http.Request, error) {
	method := t.req.Method
	var body io.Reader

	switch t.kind {
	case kindUpload:
		if method == "" {
			method = http.MethodPut
		}
		r, err := t.uploadReader()
		if err != nil {
			return nil, err
		}
		body = r
	default:
		if method == "" {
			method = http.MethodGet
		}
		if len(t.req.Body) > 0 {
			body = bytes.NewReader(t.req.Body)
		}
	}

	req, err := http.NewRequestWithContext(t.ctx, method, t.req.URL, body)
	if err != nil {
		return nil, err
	}
	for k, vs := range t.req.Header {
		req.Header[k] = append([]string(nil), vs...)
	}
	if t.resume != nil && t.resume.Offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", t.resume.Offset))
		if t.resume.ETag != "" {
			req.Header.Set("If-Range", t.resume.ETag)
		}
	}
	return req, nil
}

// uploadReader wraps the upload body so that send progress is reported as the
// client consumes it.
func (t *httpTask) uploadReader() (io.Reader, error) {
	var (
		r     io.Reader
		total int64
	)
	switch {
	case t.body.FilePath != "":
		f, err := os.Open(t.body.FilePath)
		if err != nil {
			return nil, err
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, err
		}
		r, total = f, info.Size()
	default:
		r, total = bytes.NewReader(t.body.Data), int64(len(t.body.Data))
	}
	return &progressReader{r: r, task: t, expected: total}, nil
}

// progressReader reports send progress as the HTTP client drains the upload
// body. It closes the underlying reader when the client is done with it, which
// matters for file-backed uploads.
type progressReader struct {
	r        io.Reader
	task     *httpTask
	expected int64
	sent     int64
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.sent += int64(n)
		p.task.emit(Event{
			Kind:     EventSendProgress,
			Bytes:    int64(n),
			Total:    p.sent,
			Expected: p.expected,
		})
	}
	return n, err
}

func (p *progressReader) Close() error {
	if c, ok := p.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// consumeBody streams the response body as EventDataReceived chunks (data and
// upload tasks).
func (t *httpTask) consumeBody(resp *http.Response) error {
	var (
		buf   = make([]byte, chunkSize)
		total int64
	)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			total += int64(n)
			t.emit(Event{
				Kind:     EventDataReceived,
				Chunk:    buf[:n],
				Bytes:    int64(n),
				Total:    total,
				Expected: resp.ContentLength,
			})
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// consumeDownload streams the response body to a temporary file and reports
// write progress. On success the transient location is announced via
// EventDownloadFinished and the file is removed once that delegate call
// returns.
func (t *httpTask) consumeDownload(resp *http.Response) error {
	file, written, err := t.downloadTarget(resp)
	if err != nil {
		return err
	}

	expected := resp.ContentLength
	if expected >= 0 {
		expected += written
	}

	buf := make([]byte, chunkSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				file.Close()
				os.Remove(file.Name())
				return err
			}
			written += int64(n)
			t.emit(Event{
				Kind:     EventWriteProgress,
				Bytes:    int64(n),
				Total:    written,
				Expected: expected,
			})
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return t.abortDownload(file, written, resp, readErr)
		}
	}

	location := file.Name()
	if err := file.Close(); err != nil {
		os.Remove(location)
		return err
	}
	t.emit(Event{Kind: EventDownloadFinished, Location: location})
	os.Remove(location)
	return nil
}

// downloadTarget opens the file the body will be written to. A resumed task
// answered with 206 appends to its partial file; anything else starts over.
func (t *httpTask) downloadTarget(resp *http.Response) (*os.File, int64, error) {
	if t.resume != nil && resp.StatusCode == http.StatusPartialContent {
		f, err := os.OpenFile(t.resume.PartialPath, os.O_WRONLY|os.O_APPEND, 0o600)
		if err == nil {
			return f, t.resume.Offset, nil
		}
		t.session.logger.Warn("partial file unusable, restarting download",
			"task_id", t.id, "path", t.resume.PartialPath, "error", err)
	}
	f, err := os.CreateTemp("", "netops-download-*")
	if err != nil {
		return nil, 0, err
	}
	return f, 0, nil
}

// abortDownload handles a mid-stream failure. When the failure is a
// cancellation that asked for resume data, the partial file is kept and its
// coordinates handed to the resume handler; otherwise it is discarded.
func (t *httpTask) abortDownload(file *os.File, written int64, resp *http.Response, cause error) error {
	path := file.Name()
	file.Close()

	t.mu.Lock()
	wantResume := t.cancelled && t.produceResume && written > 0
	handler := t.resumeHandler
	t.resumeHandler = nil
	t.mu.Unlock()

	if !wantResume {
		os.Remove(path)
		if handler != nil {
			handler(nil)
		}
		return cause
	}

	data, err := json.Marshal(resumeState{
		URL:         t.req.URL,
		PartialPath: path,
		Offset:      written,
		ETag:        resp.Header.Get("ETag"),
	})
	if err != nil {
		os.Remove(path)
		data = nil
	}
	if handler != nil {
		handler(data)
	}
	return cause
}

// mapError folds context cancellation into the transport cancellation
// sentinel.
func (t *httpTask) mapError(err error) error {
	if t.isCancelled() && (errors.Is(err, context.Canceled) || t.ctx.Err() != nil) {
		t.mu.Lock()
		handler := t.resumeHandler
		t.resumeHandler = nil
		t.mu.Unlock()
		// A cancellation that never reached abortDownload (or was not a
		// download at all) still owes the resume handler an answer.
		if handler != nil {
			handler(nil)
		}
		return ErrCancelled
	}
	return err
}
