// Package progress broadcasts install outcomes and byte progress to any
// number of subscribers without ever blocking the producer.
package progress

import (
	"sync"

	"github.com/EikeiDev/apkupdateross/internal/logging"
)

var log = logging.L("progress")

const (
	// StatusBuffer is the per-subscriber outcome backlog. Outcomes beyond it
	// are dropped with a warning.
	StatusBuffer = 10

	// ProgressBuffer is the per-subscriber progress backlog. When full the
	// oldest queued event is discarded.
	ProgressBuffer = 64
)

// Outcome is the terminal result of one install attempt.
type Outcome struct {
	ID         int
	Succeeded  bool
	NotifyUser bool
}

// Progress reports cumulative bytes transferred for an attempt. Total of 0
// leaves the previously announced total in place.
type Progress struct {
	ID          int
	Transferred int64
	Total       int64
}

// Bus fans events out to subscribers. The zero value is ready to use.
type Bus struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[*Subscription]struct{})}
}

// Subscription owns one subscriber's channels.
type Subscription struct {
	bus      *Bus
	status   chan Outcome
	progress chan Progress
	mu       sync.Mutex // serializes drop-oldest on progress
	once     sync.Once
}

// Subscribe registers a new subscriber. Call Close when done.
func (b *Bus) Subscribe() *Subscription {
	s := &Subscription{
		bus:      b,
		status:   make(chan Outcome, StatusBuffer),
		progress: make(chan Progress, ProgressBuffer),
	}

	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[*Subscription]struct{})
	}
	b.subs[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (s *Subscription) Status() <-chan Outcome { return s.status }

func (s *Subscription) Progress() <-chan Progress { return s.progress }

// Close unregisters the subscription and closes its channels.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.subs, s)
		s.bus.mu.Unlock()

		close(s.status)
		close(s.progress)
	})
}

// EmitStatus delivers an outcome to every subscriber without blocking. It
// reports false when at least one subscriber had no room for it.
func (b *Bus) EmitStatus(o Outcome) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	delivered := true
	for s := range b.subs {
		select {
		case s.status <- o:
		default:
			delivered = false
			log.Warn("status subscriber full, outcome dropped",
				logging.KeyCorrelationID, o.ID,
				"succeeded", o.Succeeded,
			)
		}
	}
	return delivered
}

// EmitProgress delivers a progress event to every subscriber without
// blocking, discarding each full subscriber's oldest event to make room.
func (b *Bus) EmitProgress(p Progress) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		s.offer(p)
	}
}

func (s *Subscription) offer(p Progress) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		select {
		case s.progress <- p:
			return
		default:
		}
		select {
		case <-s.progress:
		default:
		}
	}
}
