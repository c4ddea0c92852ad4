package installer

import (
	"io"
	"strings"
	"sync"

	"github.com/EikeiDev/apkupdateross/internal/progress"
)

type recordingReporter struct {
	mu     sync.Mutex
	events []progress.Progress
}

func (r *recordingReporter) EmitProgress(p progress.Progress) {
	r.mu.Lock()
	r.events = append(r.events, p)
	r.mu.Unlock()
}

func (r *recordingReporter) snapshot() []progress.Progress {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]progress.Progress(nil), r.events...)
}

func (r *recordingReporter) last() int64 {
	events := r.snapshot()
	if len(events) == 0 {
		return -1
	}
	return events[len(events)-1].Transferred
}

func (r *recordingReporter) monotonic() bool {
	var prev int64
	for _, e := range r.snapshot() {
		if e.Transferred < prev {
			return false
		}
		prev = e.Transferred
	}
	return true
}

type trackedReader struct {
	io.Reader
	closed bool
}

func (t *trackedReader) Close() error {
	t.closed = true
	return nil
}

func partOf(data string) (Part, *trackedReader) {
	r := &trackedReader{Reader: strings.NewReader(data)}
	return Part{Reader: r, Size: int64(len(data))}, r
}

func partsOfSizes(sizes ...int) ([]Part, []*trackedReader) {
	parts := make([]Part, len(sizes))
	readers := make([]*trackedReader, len(sizes))
	for i, n := range sizes {
		parts[i], readers[i] = partOf(strings.Repeat(string(rune('a'+i)), n))
	}
	return parts, readers
}
