package pipeline

import (
	"sync"

	"github.com/EikeiDev/apkupdateross/internal/progress"
)

// progressGate forwards backend progress to the bus while an attempt is
// live. Once an attempt has finished, late events from copy loops that had
// not yet noticed the cancel are dropped so the terminal reset stays last.
type progressGate struct {
	bus Emitter

	mu   sync.Mutex
	live map[int]bool
}

func newProgressGate(bus Emitter) *progressGate {
	return &progressGate{bus: bus, live: make(map[int]bool)}
}

func (g *progressGate) open(id int) {
	g.mu.Lock()
	g.live[id] = true
	g.mu.Unlock()
}

func (g *progressGate) EmitProgress(p progress.Progress) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.live[p.ID] {
		g.bus.EmitProgress(p)
	}
}

// close shuts the gate for id. Events reported after close are dropped.
func (g *progressGate) close(id int) {
	g.mu.Lock()
	delete(g.live, id)
	g.mu.Unlock()
}
