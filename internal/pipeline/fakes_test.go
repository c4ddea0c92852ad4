package pipeline

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EikeiDev/apkupdateross/internal/download"
	"github.com/EikeiDev/apkupdateross/internal/executor"
	"github.com/EikeiDev/apkupdateross/internal/httputil"
	"github.com/EikeiDev/apkupdateross/internal/installer"
	"github.com/EikeiDev/apkupdateross/internal/progress"
	"github.com/EikeiDev/apkupdateross/internal/store"
	"github.com/EikeiDev/apkupdateross/internal/workerpool"
)

const waitTimeout = 5 * time.Second

type harness struct {
	t        *testing.T
	p        *Pipeline
	bus      *progress.Bus
	sub      *progress.Subscription
	lock     *installer.CommitLock
	comps    *progress.Completions
	dlDir    string
	srv      *httptest.Server
	hits     atomic.Int32
	notifier *fakeNotifier
	tracker  *fakeTracker
	recorder *fakeRecorder
	opener   *fakeOpener
}

// newHarness builds a pipeline over a test HTTP server. /part/<n> serves n
// bytes and /bundle.apks serves a split archive of three packages.
func newHarness(t *testing.T, workers, queue int) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		bus:      progress.NewBus(),
		lock:     installer.NewCommitLock(),
		comps:    progress.NewCompletions(),
		dlDir:    filepath.Join(t.TempDir(), "downloads"),
		notifier: &fakeNotifier{},
		tracker:  &fakeTracker{installing: make(map[int]bool)},
		recorder: &fakeRecorder{},
		opener:   &fakeOpener{},
	}

	bundle := buildBundle(t, map[string]int{"base.apk": 300, "split_config.en.apk": 20, "split_config.xxhdpi.apk": 80})
	mux := http.NewServeMux()
	mux.HandleFunc("/part/", func(w http.ResponseWriter, r *http.Request) {
		h.hits.Add(1)
		n, err := strconv.Atoi(strings.TrimPrefix(r.URL.Path, "/part/"))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(n))
		w.Write(bytes.Repeat([]byte{'p'}, n))
	})
	mux.HandleFunc("/bundle.apks", func(w http.ResponseWriter, r *http.Request) {
		h.hits.Add(1)
		w.Write(bundle)
	})
	h.srv = httptest.NewServer(mux)
	t.Cleanup(h.srv.Close)

	dl := download.New(h.dlDir, download.Options{
		Client: h.srv.Client(),
		Retry:  httputil.RetryConfig{MaxRetries: 1, InitialDelay: time.Millisecond, BackoffFactor: 1},
	})

	p, err := New(Options{
		Source:      dl,
		Bus:         h.bus,
		Completions: h.comps,
		Lock:        h.lock,
		Pool:        workerpool.New(workers, queue),
		Tracker:     h.tracker,
		Opener:      h.opener,
		Notifier:    h.notifier,
		Recorder:    h.recorder,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.p = p
	h.sub = h.bus.Subscribe()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
		defer cancel()
		p.Close(ctx)
		h.sub.Close()
	})
	return h
}

func (h *harness) url(path string) string {
	return h.srv.URL + path
}

func (h *harness) awaitOutcome(id int) progress.Outcome {
	h.t.Helper()
	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()
	for {
		select {
		case o := <-h.sub.Status():
			if o.ID == id {
				return o
			}
		case <-timer.C:
			h.t.Fatalf("no outcome for %d", id)
		}
	}
}

// noMoreOutcomes fails if another outcome arrives within a short window.
func (h *harness) noMoreOutcomes() {
	h.t.Helper()
	select {
	case o := <-h.sub.Status():
		h.t.Fatalf("unexpected extra outcome %+v", o)
	case <-time.After(100 * time.Millisecond):
	}
}

// progressUntil collects progress events for id until stop returns true.
func (h *harness) progressUntil(id int, stop func(progress.Progress) bool) []progress.Progress {
	h.t.Helper()
	var events []progress.Progress
	timer := time.NewTimer(waitTimeout)
	defer timer.Stop()
	for {
		select {
		case e := <-h.sub.Progress():
			if e.ID != id {
				continue
			}
			events = append(events, e)
			if stop(e) {
				return events
			}
		case <-timer.C:
			h.t.Fatalf("progress for %d did not reach the expected event: %+v", id, events)
		}
	}
}

func (h *harness) close() {
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()
	h.p.Close(ctx)
}

func (h *harness) downloadDirEmpty() bool {
	entries, err := os.ReadDir(h.dlDir)
	if os.IsNotExist(err) {
		return true
	}
	if err != nil {
		h.t.Fatal(err)
	}
	for _, e := range entries {
		// Backends stage under their own directory, which may stay behind empty.
		if e.Name() == "staging" {
			inner, _ := os.ReadDir(filepath.Join(h.dlDir, e.Name()))
			if len(inner) == 0 {
				continue
			}
		}
		return false
	}
	return true
}

func buildBundle(t *testing.T, entries map[string]int) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range []string{"base.apk", "split_config.en.apk", "split_config.xxhdpi.apk"} {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		w.Write(bytes.Repeat([]byte{'z'}, entries[name]))
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// pmShell answers package manager commands for the root backend.
type pmShell struct {
	mu       sync.Mutex
	commands []string
}

func (s *pmShell) Shell(ctx context.Context, command string, stdin io.Reader) (executor.Result, error) {
	s.mu.Lock()
	s.commands = append(s.commands, command)
	s.mu.Unlock()
	if strings.Contains(command, "install-create") {
		return executor.Result{Stdout: "Success: created install session [4821]"}, nil
	}
	return executor.Result{Stdout: "Success"}, nil
}

// asyncPlatform is a session platform whose commits resolve after a delay.
// It tracks how many commits are in flight at once. Commits take their delay
// and outcome from script in order, then fall back to delay and outcome.
type asyncPlatform struct {
	comps   *progress.Completions
	delay   time.Duration
	outcome bool
	script  []scriptedCommit
	// commits, when set, receives the token of every accepted commit.
	commits chan int

	mu        sync.Mutex
	active    atomic.Int32
	maxActive atomic.Int32
	settled   atomic.Int32
	wg        sync.WaitGroup
}

type scriptedCommit struct {
	delay   time.Duration
	outcome bool
}

func (p *asyncPlatform) nextCommit() scriptedCommit {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.script) == 0 {
		return scriptedCommit{delay: p.delay, outcome: p.outcome}
	}
	next := p.script[0]
	p.script = p.script[1:]
	return next
}

func (p *asyncPlatform) Available(ctx context.Context) error { return nil }

func (p *asyncPlatform) CreateSession(ctx context.Context, pkg string, parts int) (installer.PackageSession, error) {
	return &asyncSession{platform: p}, nil
}

type asyncSession struct {
	platform *asyncPlatform
}

type nopWriter struct{ io.Writer }

func (nopWriter) Sync() error  { return nil }
func (nopWriter) Close() error { return nil }

func (s *asyncSession) OpenWrite(name string, size int64) (installer.SessionWriter, error) {
	return nopWriter{io.Discard}, nil
}

func (s *asyncSession) Commit(ctx context.Context, token int) error {
	p := s.platform
	n := p.active.Add(1)
	for {
		m := p.maxActive.Load()
		if n <= m || p.maxActive.CompareAndSwap(m, n) {
			break
		}
	}
	script := p.nextCommit()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		time.Sleep(script.delay)
		p.active.Add(-1)
		p.settled.Add(1)
		p.comps.Resolve(token, script.outcome)
	}()
	if p.commits != nil {
		p.commits <- token
	}
	return nil
}

func (s *asyncSession) Abandon() error { return nil }

// blockingBackend holds every install until its context is cancelled.
type blockingBackend struct {
	started chan int
}

func (b *blockingBackend) Mode() installer.Mode            { return installer.ModeRoot }
func (b *blockingBackend) Deferred() bool                  { return false }
func (b *blockingBackend) Check(ctx context.Context) error { return nil }

func (b *blockingBackend) InstallSingle(ctx context.Context, id int, pkg string, part installer.Part) error {
	return b.InstallSplit(ctx, id, pkg, []installer.Part{part})
}

func (b *blockingBackend) InstallSplit(ctx context.Context, id int, pkg string, parts []installer.Part) error {
	defer func() {
		for _, p := range parts {
			p.Reader.Close()
		}
	}()
	b.started <- id
	<-ctx.Done()
	return ctx.Err()
}

// scriptedBackend fails its precondition check or panics on install.
type scriptedBackend struct {
	checkErr  error
	panicWith any
	installs  atomic.Int32
}

func (b *scriptedBackend) Mode() installer.Mode            { return installer.ModeBroker }
func (b *scriptedBackend) Deferred() bool                  { return false }
func (b *scriptedBackend) Check(ctx context.Context) error { return b.checkErr }

func (b *scriptedBackend) InstallSingle(ctx context.Context, id int, pkg string, part installer.Part) error {
	return b.InstallSplit(ctx, id, pkg, []installer.Part{part})
}

func (b *scriptedBackend) InstallSplit(ctx context.Context, id int, pkg string, parts []installer.Part) error {
	b.installs.Add(1)
	for _, p := range parts {
		p.Reader.Close()
	}
	if b.panicWith != nil {
		panic(b.panicWith)
	}
	return nil
}

type notification struct {
	name      string
	succeeded bool
	cause     error
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *fakeNotifier) InstallFinished(ctx context.Context, name string, succeeded bool, cause error) {
	n.mu.Lock()
	n.sent = append(n.sent, notification{name, succeeded, cause})
	n.mu.Unlock()
}

func (n *fakeNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.sent...)
}

type fakeTracker struct {
	mu         sync.Mutex
	installing map[int]bool
}

func (t *fakeTracker) SetInstalling(id int, installing bool) {
	t.mu.Lock()
	t.installing[id] = installing
	t.mu.Unlock()
}

func (t *fakeTracker) get(id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.installing[id]
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []store.HistoryEntry
}

func (r *fakeRecorder) Record(e store.HistoryEntry) error {
	r.mu.Lock()
	r.entries = append(r.entries, e)
	r.mu.Unlock()
	return nil
}

func (r *fakeRecorder) all() []store.HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]store.HistoryEntry(nil), r.entries...)
}

type fakeOpener struct {
	mu   sync.Mutex
	urls []string
}

func (o *fakeOpener) Open(ctx context.Context, url string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if url == "" {
		return errors.New("empty url")
	}
	o.urls = append(o.urls, url)
	return nil
}

func (o *fakeOpener) opened() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.urls...)
}

func candidateName(id int) string {
	return fmt.Sprintf("com.example.app%d", id)
}

func timeAfter() <-chan time.Time {
	return time.After(waitTimeout)
}
