package installer

import (
	"context"
	"fmt"
	"io"

	"github.com/EikeiDev/apkupdateross/internal/logging"
)

// SessionWriter receives one package file inside a platform session.
type SessionWriter interface {
	io.Writer
	Sync() error
	Close() error
}

// PackageSession is an open platform install session.
type PackageSession interface {
	OpenWrite(name string, size int64) (SessionWriter, error)
	// Commit hands the session to the platform and returns once it was
	// accepted. The final result is resolved later under token.
	Commit(ctx context.Context, token int) error
	Abandon() error
}

// SessionPlatform creates install sessions on the device.
type SessionPlatform interface {
	Available(ctx context.Context) error
	CreateSession(ctx context.Context, packageName string, parts int) (PackageSession, error)
}

// SessionBackend is the unprivileged install path. Its commits complete
// asynchronously.
type SessionBackend struct {
	platform SessionPlatform
	lock     *CommitLock
	reporter Reporter
}

func NewSessionBackend(platform SessionPlatform, lock *CommitLock, rep Reporter) *SessionBackend {
	return &SessionBackend{platform: platform, lock: lock, reporter: rep}
}

type commitTokenKey struct{}

// WithCommitToken attaches the completion token the platform must resolve
// the commit under. Without one the correlation id is used.
func WithCommitToken(ctx context.Context, token int) context.Context {
	return context.WithValue(ctx, commitTokenKey{}, token)
}

func commitToken(ctx context.Context, id int) int {
	if token, ok := ctx.Value(commitTokenKey{}).(int); ok {
		return token
	}
	return id
}

func (b *SessionBackend) Mode() Mode { return ModeStandard }

func (b *SessionBackend) Deferred() bool { return true }

func (b *SessionBackend) Check(ctx context.Context) error {
	if err := b.platform.Available(ctx); err != nil {
		return &PreconditionError{Check: "session_platform", Message: err.Error()}
	}
	return nil
}

func (b *SessionBackend) InstallSingle(ctx context.Context, id int, packageName string, part Part) error {
	return b.InstallSplit(ctx, id, packageName, []Part{part})
}

func (b *SessionBackend) InstallSplit(ctx context.Context, id int, packageName string, parts []Part) error {
	defer closeParts(parts)

	session, err := b.platform.CreateSession(ctx, packageName, len(parts))
	if err != nil {
		return &PreconditionError{Check: "session_create", Message: err.Error()}
	}

	committed := false
	defer func() {
		if !committed {
			if err := session.Abandon(); err != nil {
				log.Warn("abandon session failed", logging.KeyCorrelationID, id, logging.KeyError, err)
			}
		}
	}()

	var offset int64
	for i, part := range parts {
		name := part.Name
		if name == "" {
			name = fmt.Sprintf("%s.%d.apk", packageName, i)
		}
		n, err := b.writePart(ctx, session, name, id, part, offset)
		if err != nil {
			return err
		}
		offset += n
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := b.lock.Acquire(ctx, id); err != nil {
		return err
	}
	if err := session.Commit(ctx, commitToken(ctx, id)); err != nil {
		return &CommitError{Step: "commit", ExitCode: -1, Output: err.Error()}
	}
	committed = true

	log.Info("session handed to platform",
		logging.KeyCorrelationID, id,
		logging.KeyPackage, packageName,
		"parts", len(parts),
		"bytes", offset,
	)
	return nil
}

func (b *SessionBackend) writePart(ctx context.Context, session PackageSession, name string, id int, part Part, offset int64) (int64, error) {
	defer part.Reader.Close()

	w, err := session.OpenWrite(name, part.Size)
	if err != nil {
		return 0, fmt.Errorf("open session write %s: %w", name, err)
	}
	n, err := copyWithProgress(ctx, w, part.Reader, id, offset, b.reporter)
	if err != nil {
		w.Close()
		return n, err
	}
	if err := w.Sync(); err != nil {
		w.Close()
		return n, fmt.Errorf("sync %s: %w", name, err)
	}
	return n, w.Close()
}
