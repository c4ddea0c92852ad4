package installer

import (
	"context"
	"sync"

	"github.com/EikeiDev/apkupdateross/internal/logging"
)

// CommitLock admits one install into the commit phase at a time. Waiters
// queue in Acquire. Release is a no-op unless the id holds the lock, which
// makes it safe to call from both the outcome path and a cancel.
type CommitLock struct {
	sem       chan struct{}
	mu        sync.Mutex
	holder    int
	held      bool
	onAcquire func(id int)
}

func NewCommitLock() *CommitLock {
	return &CommitLock{sem: make(chan struct{}, 1)}
}

// OnAcquire registers a hook called after each successful Acquire.
func (l *CommitLock) OnAcquire(fn func(id int)) {
	l.mu.Lock()
	l.onAcquire = fn
	l.mu.Unlock()
}

// Acquire blocks until the lock is free or ctx is done.
func (l *CommitLock) Acquire(ctx context.Context, id int) error {
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.mu.Lock()
	if err := ctx.Err(); err != nil {
		l.mu.Unlock()
		<-l.sem
		return err
	}
	l.holder = id
	l.held = true
	hook := l.onAcquire
	l.mu.Unlock()

	log.Debug("commit lock acquired", logging.KeyCorrelationID, id)
	if hook != nil {
		hook(id)
	}
	return nil
}

// Release frees the lock if id holds it and reports whether it did.
func (l *CommitLock) Release(id int) bool {
	l.mu.Lock()
	if !l.held || l.holder != id {
		l.mu.Unlock()
		return false
	}
	l.held = false
	l.mu.Unlock()

	<-l.sem
	log.Debug("commit lock released", logging.KeyCorrelationID, id)
	return true
}

// Holder returns the id currently in the commit phase.
func (l *CommitLock) Holder() (int, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.holder, l.held
}
