package installer

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

type bufferWriter struct {
	bytes.Buffer
	closed bool
}

func (w *bufferWriter) Sync() error  { return nil }
func (w *bufferWriter) Close() error { w.closed = true; return nil }

type fakeSession struct {
	lock      *CommitLock
	files     map[string]*bufferWriter
	order     []string
	openErr   error
	commitErr error

	committed      int
	holderAtCommit int
	abandoned      bool
}

func (s *fakeSession) OpenWrite(name string, size int64) (SessionWriter, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	w := &bufferWriter{}
	s.files[name] = w
	s.order = append(s.order, name)
	return w, nil
}

func (s *fakeSession) Commit(ctx context.Context, token int) error {
	if s.commitErr != nil {
		return s.commitErr
	}
	s.committed = token
	s.holderAtCommit, _ = s.lock.Holder()
	return nil
}

func (s *fakeSession) Abandon() error {
	s.abandoned = true
	return nil
}

type fakePlatform struct {
	availErr error
	session  *fakeSession
	created  int
}

func (p *fakePlatform) Available(ctx context.Context) error { return p.availErr }

func (p *fakePlatform) CreateSession(ctx context.Context, packageName string, parts int) (PackageSession, error) {
	p.created++
	return p.session, nil
}

func newFakePlatform(lock *CommitLock) *fakePlatform {
	return &fakePlatform{session: &fakeSession{lock: lock, files: make(map[string]*bufferWriter)}}
}

func TestSessionBackendCommitsUnderLock(t *testing.T) {
	lock := NewCommitLock()
	platform := newFakePlatform(lock)
	rep := &recordingReporter{}
	b := NewSessionBackend(platform, lock, rep)

	if !b.Deferred() {
		t.Fatal("session backend reports results asynchronously")
	}

	parts, _ := partsOfSizes(100, 200, 50)
	parts[0].Name = "base.apk"
	if err := b.InstallSplit(context.Background(), 12, "com.example", parts); err != nil {
		t.Fatalf("InstallSplit: %v", err)
	}

	s := platform.session
	if s.committed != 12 || s.holderAtCommit != 12 {
		t.Fatalf("commit token %d, lock holder %d", s.committed, s.holderAtCommit)
	}
	if s.abandoned {
		t.Fatal("committed session abandoned")
	}
	wantNames := []string{"base.apk", "com.example.1.apk", "com.example.2.apk"}
	for i, name := range wantNames {
		if s.order[i] != name {
			t.Fatalf("file %d = %q, want %q", i, s.order[i], name)
		}
		if !s.files[name].closed {
			t.Fatalf("writer %s not closed", name)
		}
	}
	if s.files["com.example.1.apk"].Len() != 200 {
		t.Fatalf("part 1 wrote %d bytes", s.files["com.example.1.apk"].Len())
	}
	if rep.last() != 350 {
		t.Fatalf("final progress = %d", rep.last())
	}
}

func TestSessionBackendCommitsUnderAttachedToken(t *testing.T) {
	lock := NewCommitLock()
	platform := newFakePlatform(lock)
	b := NewSessionBackend(platform, lock, &recordingReporter{})

	parts, _ := partsOfSizes(10)
	ctx := WithCommitToken(context.Background(), 77)
	if err := b.InstallSplit(ctx, 12, "com.example", parts); err != nil {
		t.Fatalf("InstallSplit: %v", err)
	}
	if s := platform.session; s.committed != 77 || s.holderAtCommit != 12 {
		t.Fatalf("commit token %d, lock holder %d", s.committed, s.holderAtCommit)
	}
}

func TestSessionBackendAbandonsOnWriteError(t *testing.T) {
	lock := NewCommitLock()
	platform := newFakePlatform(lock)
	platform.session.openErr = errors.New("no space")
	b := NewSessionBackend(platform, lock, &recordingReporter{})

	parts, readers := partsOfSizes(10, 10)
	if err := b.InstallSplit(context.Background(), 1, "com.example", parts); err == nil {
		t.Fatal("expected error")
	}
	if !platform.session.abandoned {
		t.Fatal("session not abandoned")
	}
	if _, held := lock.Holder(); held {
		t.Fatal("lock taken although nothing was committed")
	}
	for i, r := range readers {
		if !r.closed {
			t.Fatalf("part %d not closed", i)
		}
	}
}

func TestSessionBackendCheck(t *testing.T) {
	platform := newFakePlatform(NewCommitLock())
	platform.availErr = errors.New("no device")
	b := NewSessionBackend(platform, NewCommitLock(), &recordingReporter{})

	var pre *PreconditionError
	if err := b.Check(context.Background()); !errors.As(err, &pre) {
		t.Fatalf("expected PreconditionError, got %v", err)
	}
}
