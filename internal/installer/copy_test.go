package installer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
)

func TestCopyWithProgressThreshold(t *testing.T) {
	rep := &recordingReporter{}
	src := strings.NewReader(strings.Repeat("x", 200*1024))
	var dst bytes.Buffer

	n, err := copyWithProgress(context.Background(), &dst, src, 3, 1000, rep)
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	if n != 200*1024 || dst.Len() != 200*1024 {
		t.Fatalf("copied %d, dst %d", n, dst.Len())
	}

	events := rep.snapshot()
	// 64K, 128K, 192K, then the final emission
	if len(events) != 4 {
		t.Fatalf("expected 4 emissions, got %d: %+v", len(events), events)
	}
	for i, want := range []int64{64 * 1024, 128 * 1024, 192 * 1024, 200 * 1024} {
		if events[i].Transferred != 1000+want || events[i].ID != 3 {
			t.Fatalf("event %d = %+v, want offset+%d", i, events[i], want)
		}
	}
}

func TestCopyWithProgressSmallPartEmitsOnce(t *testing.T) {
	rep := &recordingReporter{}
	var dst bytes.Buffer

	if _, err := copyWithProgress(context.Background(), &dst, strings.NewReader("tiny"), 1, 0, rep); err != nil {
		t.Fatal(err)
	}
	if events := rep.snapshot(); len(events) != 1 || events[0].Transferred != 4 {
		t.Fatalf("unexpected events %+v", events)
	}
}

func TestCopyWithProgressStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var dst bytes.Buffer
	_, err := copyWithProgress(ctx, &dst, strings.NewReader("data"), 1, 0, &recordingReporter{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if dst.Len() != 0 {
		t.Fatal("nothing should be written after cancel")
	}
}
