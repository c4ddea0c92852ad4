package installer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestCommitLockSingleFlight(t *testing.T) {
	lock := NewCommitLock()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for id := 1; id <= 5; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			if err := lock.Acquire(context.Background(), id); err != nil {
				t.Errorf("Acquire(%d): %v", id, err)
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			if !lock.Release(id) {
				t.Errorf("Release(%d) by holder returned false", id)
			}
		}(id)
	}
	wg.Wait()

	if maxInside.Load() != 1 {
		t.Fatalf("commit phases overlapped: %d concurrent holders", maxInside.Load())
	}
}

func TestCommitLockReleaseOnlyByHolder(t *testing.T) {
	lock := NewCommitLock()
	if lock.Release(1) {
		t.Fatal("release of a free lock should be a no-op")
	}

	if err := lock.Acquire(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if lock.Release(2) {
		t.Fatal("non-holder must not release the lock")
	}
	if holder, held := lock.Holder(); !held || holder != 1 {
		t.Fatalf("Holder = %d, %v", holder, held)
	}
	if !lock.Release(1) {
		t.Fatal("holder release failed")
	}
	if lock.Release(1) {
		t.Fatal("second release should be a no-op")
	}
}

func TestCommitLockAcquireHonoursContext(t *testing.T) {
	lock := NewCommitLock()
	lock.Acquire(context.Background(), 1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := lock.Acquire(ctx, 2); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}

	lock.Release(1)
	if err := lock.Acquire(context.Background(), 2); err != nil {
		t.Fatalf("lock should be free again: %v", err)
	}
}

func TestCommitLockHook(t *testing.T) {
	lock := NewCommitLock()
	var got atomic.Int32
	lock.OnAcquire(func(id int) { got.Store(int32(id)) })

	lock.Acquire(context.Background(), 9)
	if got.Load() != 9 {
		t.Fatalf("hook saw %d, want 9", got.Load())
	}
}
