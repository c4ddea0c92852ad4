// Package pipeline drives an update candidate from an install request to
// exactly one terminal outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/EikeiDev/apkupdateross/internal/catalog"
	"github.com/EikeiDev/apkupdateross/internal/download"
	"github.com/EikeiDev/apkupdateross/internal/installer"
	"github.com/EikeiDev/apkupdateross/internal/logging"
	"github.com/EikeiDev/apkupdateross/internal/progress"
	"github.com/EikeiDev/apkupdateross/internal/store"
	"github.com/EikeiDev/apkupdateross/internal/workerpool"
)

var log = logging.L("pipeline")

// Source materializes package links.
type Source interface {
	Lazy(ctx context.Context, url string) io.ReadCloser
	NewWorkspace(id int) (*download.Workspace, error)
	Fetch(ctx context.Context, ws *download.Workspace, url string) (string, error)
}

// Emitter is the event sink, normally a *progress.Bus.
type Emitter interface {
	EmitStatus(progress.Outcome) bool
	EmitProgress(progress.Progress)
}

// Tracker is told when a candidate enters the pipeline.
type Tracker interface {
	SetInstalling(id int, installing bool)
}

// LinkOpener handles candidates that are opened instead of installed.
type LinkOpener interface {
	Open(ctx context.Context, url string) error
}

// Notifier tells the user how an install ended.
type Notifier interface {
	InstallFinished(ctx context.Context, name string, succeeded bool, cause error)
}

// Recorder keeps a history of finished attempts.
type Recorder interface {
	Record(store.HistoryEntry) error
}

// Options wires a Pipeline. Source, Bus, Completions, Lock and Pool are
// required.
type Options struct {
	Source      Source
	Bus         Emitter
	Completions *progress.Completions
	Lock        *installer.CommitLock
	Pool        *workerpool.Pool

	Tracker  Tracker
	Opener   LinkOpener
	Notifier Notifier
	Recorder Recorder
}

// Pipeline runs install attempts on a worker pool. At most one attempt per
// correlation id exists at a time.
type Pipeline struct {
	opts     Options
	gate     *progressGate
	backends map[installer.Mode]installer.Backend

	mu       sync.Mutex
	attempts map[int]*attempt
	states   map[int]State
}

type attempt struct {
	id      int
	c       catalog.Candidate
	backend installer.Backend
	ctx     context.Context
	cancel  context.CancelFunc
	once    sync.Once

	cancelled atomic.Bool

	// owned by the run goroutine
	ws        *download.Workspace
	closers   []io.Closer
	token     int
	handedOff bool
	resolved  bool
}

func New(opts Options) (*Pipeline, error) {
	switch {
	case opts.Source == nil:
		return nil, errors.New("pipeline: Source is required")
	case opts.Bus == nil:
		return nil, errors.New("pipeline: Bus is required")
	case opts.Completions == nil:
		return nil, errors.New("pipeline: Completions is required")
	case opts.Lock == nil:
		return nil, errors.New("pipeline: Lock is required")
	case opts.Pool == nil:
		return nil, errors.New("pipeline: Pool is required")
	}

	p := &Pipeline{
		opts:     opts,
		gate:     newProgressGate(opts.Bus),
		backends: make(map[installer.Mode]installer.Backend),
		attempts: make(map[int]*attempt),
		states:   make(map[int]State),
	}
	opts.Lock.OnAcquire(func(id int) {
		p.advance(id, StateTransferring, StateCommitting)
	})
	return p, nil
}

// Reporter is the progress sink backends must report to.
func (p *Pipeline) Reporter() installer.Reporter {
	return p.gate
}

// Register makes backend available for its mode.
func (p *Pipeline) Register(backend installer.Backend) {
	p.mu.Lock()
	p.backends[backend.Mode()] = backend
	p.mu.Unlock()
}

// Backends returns the registered backends.
func (p *Pipeline) Backends() []installer.Backend {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]installer.Backend, 0, len(p.backends))
	for _, mode := range []installer.Mode{installer.ModeStandard, installer.ModeRoot, installer.ModeBroker} {
		if b, ok := p.backends[mode]; ok {
			out = append(out, b)
		}
	}
	return out
}

// Install accepts c for installation with mode. External candidates are
// handed to the link opener and never enter the pipeline. An error means the
// request was rejected and nothing changed.
func (p *Pipeline) Install(ctx context.Context, c catalog.Candidate, mode installer.Mode) error {
	if c.External {
		return p.openExternal(ctx, c)
	}

	p.mu.Lock()
	backend, ok := p.backends[mode]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrModeUnavailable, mode)
	}
	if _, busy := p.attempts[c.ID]; busy || p.opts.Completions.Outstanding(c.ID) {
		p.mu.Unlock()
		return fmt.Errorf("%w: %d", ErrInProgress, c.ID)
	}
	attemptCtx, cancel := context.WithCancel(p.opts.Pool.Context())
	a := &attempt{id: c.ID, c: c, backend: backend, ctx: attemptCtx, cancel: cancel}
	prev, hadPrev := p.states[c.ID]
	p.attempts[c.ID] = a
	p.states[c.ID] = StateResolving
	p.mu.Unlock()

	p.gate.open(c.ID)
	if p.opts.Tracker != nil {
		p.opts.Tracker.SetInstalling(c.ID, true)
	}
	if !p.opts.Pool.Submit(func(context.Context) { p.run(a) }) {
		p.mu.Lock()
		delete(p.attempts, c.ID)
		if hadPrev {
			p.states[c.ID] = prev
		} else {
			delete(p.states, c.ID)
		}
		p.mu.Unlock()
		p.gate.close(c.ID)
		if p.opts.Tracker != nil {
			p.opts.Tracker.SetInstalling(c.ID, false)
		}
		cancel()
		if p.opts.Pool.Closed() {
			return ErrClosed
		}
		return ErrQueueFull
	}
	stats := p.opts.Pool.Stats()
	log.Info("install accepted",
		logging.KeyCorrelationID, c.ID,
		logging.KeyPackage, c.PackageName,
		logging.KeyMode, mode.String(),
		logging.KeyLink, c.Link,
		"queued", stats.Queued,
		"running", stats.Running,
	)
	return nil
}

func (p *Pipeline) openExternal(ctx context.Context, c catalog.Candidate) error {
	url, ok := catalog.PrimaryURL(c.Link)
	if !ok {
		return ErrNoArtifact
	}
	if p.opts.Opener == nil {
		return ErrNoOpener
	}
	log.Info("opening external candidate", logging.KeyCorrelationID, c.ID, logging.KeyURL, url)
	return p.opts.Opener.Open(ctx, url)
}

// Cancel stops the attempt for id and emits its terminal outcome if it has
// not been emitted yet. Byte copies stop at the next chunk; a package
// manager command already running is left to finish and its result ignored.
// A commit the platform already owns keeps the commit lock, and a reinstall
// of id is refused, until its result arrives.
func (p *Pipeline) Cancel(id int) bool {
	p.mu.Lock()
	a := p.attempts[id]
	p.mu.Unlock()
	if a == nil {
		return false
	}

	a.cancelled.Store(true)
	a.cancel()
	p.finish(a, false, false, ErrCancelled)
	return true
}

// State returns the lifecycle state of the most recent attempt for id.
func (p *Pipeline) State(id int) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.states[id]
}

// Active returns the ids with an attempt in flight.
func (p *Pipeline) Active() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]int, 0, len(p.attempts))
	for id := range p.attempts {
		ids = append(ids, id)
	}
	return ids
}

// Close waits for running attempts until ctx is done, then cancels the rest.
func (p *Pipeline) Close(ctx context.Context) {
	p.opts.Pool.Drain(ctx)
}

func (p *Pipeline) setState(id int, s State) {
	p.mu.Lock()
	p.states[id] = s
	p.mu.Unlock()
}

// advance moves id to next only when it is currently in from.
func (p *Pipeline) advance(id int, from, next State) {
	p.mu.Lock()
	if p.states[id] == from {
		p.states[id] = next
	}
	p.mu.Unlock()
}

func (p *Pipeline) run(a *attempt) {
	logger := logging.WithAttempt(log, a.id, a.c.PackageName)
	start := time.Now()

	var err error
	defer func() {
		if r := recover(); r != nil {
			logger.Error("install panicked", "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("pipeline: panic: %v", r)
		}

		a.release()
		p.settleCommit(a, logger)
		a.cancel()

		p.mu.Lock()
		if p.attempts[a.id] == a {
			delete(p.attempts, a.id)
		}
		p.mu.Unlock()

		if a.cancelled.Load() {
			logger.Info("install cancelled", logging.KeyDurationMs, time.Since(start).Milliseconds())
			p.finish(a, false, false, ErrCancelled)
			return
		}
		if err != nil {
			logger.Warn("install failed", logging.KeyError, err, logging.KeyDurationMs, time.Since(start).Milliseconds())
		} else {
			logger.Info("install succeeded", logging.KeyDurationMs, time.Since(start).Milliseconds())
		}
		p.finish(a, err == nil, true, err)
	}()

	err = p.execute(a, logger)
}

func (p *Pipeline) execute(a *attempt, logger *slog.Logger) error {
	ctx := a.ctx
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := a.backend.Check(ctx); err != nil {
		return err
	}

	parts, total, single, err := p.resolve(ctx, a)
	if err != nil {
		return err
	}

	p.advance(a.id, StateResolving, StateTransferring)
	p.gate.EmitProgress(progress.Progress{ID: a.id, Total: total})
	logger.Debug("transfer starting", "parts", len(parts), "total", total)

	var result <-chan bool
	if a.backend.Deferred() {
		a.token, result = p.opts.Completions.Expect(a.id)
		ctx = installer.WithCommitToken(ctx, a.token)
	}

	if single {
		err = a.backend.InstallSingle(ctx, a.id, a.c.PackageName, parts[0])
	} else {
		err = a.backend.InstallSplit(ctx, a.id, a.c.PackageName, parts)
	}
	if err != nil {
		return err
	}
	a.handedOff = result != nil
	if ctx.Err() != nil {
		return ctx.Err()
	}

	if result == nil {
		return nil
	}
	select {
	case ok := <-result:
		a.resolved = true
		if !ok {
			return &installer.CommitError{Step: "platform", ExitCode: -1, Output: "platform reported failure"}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// resolve turns the candidate's link into parts. single is set when the
// link names exactly one standalone package.
func (p *Pipeline) resolve(ctx context.Context, a *attempt) (parts []installer.Part, total int64, single bool, err error) {
	name := a.c.PackageName + ".apk"

	switch l := a.c.Link.(type) {
	case catalog.NoLink, nil:
		return nil, 0, false, ErrNoArtifact

	case catalog.DirectLink:
		if l.URL == "" {
			return nil, 0, false, ErrNoArtifact
		}
		parts = []installer.Part{{Name: name, Reader: p.opts.Source.Lazy(ctx, l.URL), Size: l.Size}}
		return parts, l.Size, true, nil

	case catalog.SplitArchiveLink:
		if l.URL == "" {
			return nil, 0, false, ErrNoArtifact
		}
		ws, wsErr := p.opts.Source.NewWorkspace(a.id)
		if wsErr != nil {
			return nil, 0, false, wsErr
		}
		a.ws = ws
		path, fetchErr := p.opts.Source.Fetch(ctx, ws, l.URL)
		if fetchErr != nil {
			return nil, 0, false, fetchErr
		}
		archive, openErr := installer.OpenSplitArchive(path)
		if openErr != nil {
			return nil, 0, false, openErr
		}
		a.closers = append(a.closers, archive)
		return archive.Parts(), archive.TotalSize(), false, nil

	case catalog.MultiPartLink:
		if len(l.Parts) == 0 {
			return nil, 0, false, ErrNoArtifact
		}
		for i, part := range l.Parts {
			parts = append(parts, installer.Part{
				Name:   fmt.Sprintf("%s.%d.apk", a.c.PackageName, i),
				Reader: p.opts.Source.Lazy(ctx, part.URL),
				Size:   part.Size,
			})
		}
		total, err = catalog.DeclaredSize(l)
		return parts, total, false, err

	default:
		return nil, 0, false, fmt.Errorf("pipeline: unsupported link type %T", l)
	}
}

// finish emits the terminal outcome for a exactly once.
func (p *Pipeline) finish(a *attempt, succeeded, notify bool, cause error) {
	a.once.Do(func() {
		state := StateFailed
		switch {
		case succeeded:
			state = StateSucceeded
		case errors.Is(cause, ErrCancelled):
			state = StateCancelled
		}
		p.setState(a.id, state)

		p.gate.close(a.id)
		p.opts.Bus.EmitStatus(progress.Outcome{ID: a.id, Succeeded: succeeded, NotifyUser: notify})
		if !succeeded {
			p.opts.Bus.EmitProgress(progress.Progress{ID: a.id})
		}

		if p.opts.Recorder != nil {
			entry := store.HistoryEntry{
				ID:          a.id,
				PackageName: a.c.PackageName,
				Version:     a.c.Version,
				Mode:        a.backend.Mode().String(),
				Succeeded:   succeeded,
			}
			if err := p.opts.Recorder.Record(entry); err != nil {
				log.Warn("history record failed", logging.KeyCorrelationID, a.id, logging.KeyError, err)
			}
		}
		if notify && p.opts.Notifier != nil {
			p.opts.Notifier.InstallFinished(context.WithoutCancel(a.ctx), a.c.Name, succeeded, cause)
		}
	})
}

// settleCommit releases the commit lock held for a. When the platform owns
// a commit whose result has not arrived, the lock and the token stay taken
// until it does, so no other commit overlaps it and no reinstall of the same
// id starts before it.
func (p *Pipeline) settleCommit(a *attempt, logger *slog.Logger) {
	if a.token != 0 && a.handedOff && !a.resolved {
		orphaned := p.opts.Completions.Orphan(a.token, func(succeeded bool) {
			logger.Info("abandoned commit settled", "succeeded", succeeded)
			p.opts.Lock.Release(a.id)
		})
		if orphaned {
			logger.Info("waiting for platform to settle abandoned commit")
			return
		}
	}
	if a.token != 0 {
		p.opts.Completions.Forget(a.token)
	}
	p.opts.Lock.Release(a.id)
}

// release closes archives and removes the workspace once the backend has
// returned.
func (a *attempt) release() {
	for _, c := range a.closers {
		c.Close()
	}
	if a.ws != nil {
		if err := a.ws.Remove(); err != nil {
			log.Warn("workspace cleanup failed", logging.KeyCorrelationID, a.id, logging.KeyError, err)
		}
	}
}
