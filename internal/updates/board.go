// Package updates keeps the active update list: the candidates from the last
// refresh minus the ignored ones, annotated with install progress.
package updates

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/EikeiDev/apkupdateross/internal/catalog"
	"github.com/EikeiDev/apkupdateross/internal/logging"
	"github.com/EikeiDev/apkupdateross/internal/progress"
)

var log = logging.L("updates")

// Checker returns update candidates for the installed packages.
type Checker interface {
	CheckUpdates(ctx context.Context, installed []catalog.InstalledApp) ([]catalog.Candidate, error)
}

// IgnoreStore persists the ignored candidate ids.
type IgnoreStore interface {
	Ignored() (map[int]bool, error)
	ToggleIgnored(id int) (bool, error)
}

// Board holds the update list shown to the user.
type Board struct {
	checker Checker
	ignored IgnoreStore

	mu      sync.RWMutex
	fetched []catalog.Candidate
	items   map[int]*catalog.Candidate
	order   []int
	skip    map[int]bool
}

// NewBoard creates an empty Board.
func NewBoard(checker Checker, ignored IgnoreStore) *Board {
	return &Board{
		checker: checker,
		ignored: ignored,
		items:   make(map[int]*catalog.Candidate),
		skip:    make(map[int]bool),
	}
}

// Refresh fetches updates for installed and replaces the list. Installing
// flags and progress of candidates that survive the refresh are kept.
func (b *Board) Refresh(ctx context.Context, installed []catalog.InstalledApp) error {
	found, err := b.checker.CheckUpdates(ctx, installed)
	if err != nil {
		return err
	}
	skip, err := b.ignored.Ignored()
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.fetched = found
	b.skip = skip
	b.rebuild()
	log.Info("updates refreshed", "found", len(found), "active", len(b.order), "ignored", len(skip))
	return nil
}

// rebuild derives the active list from the last fetch. Caller holds mu.
func (b *Board) rebuild() {
	prev := b.items
	b.items = make(map[int]*catalog.Candidate, len(b.fetched))
	b.order = b.order[:0]
	for _, c := range b.fetched {
		if b.skip[c.ID] {
			continue
		}
		if _, dup := b.items[c.ID]; dup {
			continue
		}
		item := c
		if old, ok := prev[c.ID]; ok {
			item.Installing = old.Installing
			item.Transferred = old.Transferred
			item.Total = old.Total
		}
		b.items[c.ID] = &item
		b.order = append(b.order, c.ID)
	}
	sort.SliceStable(b.order, func(i, j int) bool {
		return strings.ToLower(b.items[b.order[i]].Name) < strings.ToLower(b.items[b.order[j]].Name)
	})
}

// Items returns a copy of the active list sorted by name.
func (b *Board) Items() []catalog.Candidate {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]catalog.Candidate, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, *b.items[id])
	}
	return out
}

// Fetched returns the unfiltered result of the last refresh.
func (b *Board) Fetched() []catalog.Candidate {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]catalog.Candidate(nil), b.fetched...)
}

// Get returns the active candidate with id.
func (b *Board) Get(id int) (catalog.Candidate, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.items[id]
	if !ok {
		return catalog.Candidate{}, false
	}
	return *c, true
}

// Find returns the active candidate for packageName.
func (b *Board) Find(packageName string) (catalog.Candidate, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, id := range b.order {
		if c := b.items[id]; c.PackageName == packageName {
			return *c, true
		}
	}
	return catalog.Candidate{}, false
}

// ToggleIgnore flips the ignored mark on id and rebuilds the list. It
// reports whether id is ignored afterwards.
func (b *Board) ToggleIgnore(id int) (bool, error) {
	ignored, err := b.ignored.ToggleIgnored(id)
	if err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if ignored {
		b.skip[id] = true
	} else {
		delete(b.skip, id)
	}
	b.rebuild()
	return ignored, nil
}

// SetInstalling marks id as entering or leaving the install pipeline.
func (b *Board) SetInstalling(id int, installing bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.items[id]; ok {
		c.Installing = installing
		if !installing {
			c.Transferred = 0
			c.Total = 0
		}
	}
}

// Watch applies bus events to the list until ctx is done or sub closes.
// A successful install removes the candidate from both the active list and
// the last fetch.
func (b *Board) Watch(ctx context.Context, sub *progress.Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case o, ok := <-sub.Status():
			if !ok {
				return
			}
			b.applyOutcome(o)
		case p, ok := <-sub.Progress():
			if !ok {
				return
			}
			b.applyProgress(p)
		}
	}
}

func (b *Board) applyOutcome(o progress.Outcome) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !o.Succeeded {
		if c, ok := b.items[o.ID]; ok {
			c.Installing = false
			c.Transferred = 0
			c.Total = 0
		}
		return
	}

	kept := b.fetched[:0:0]
	for _, c := range b.fetched {
		if c.ID != o.ID {
			kept = append(kept, c)
		}
	}
	b.fetched = kept
	b.rebuild()
}

func (b *Board) applyProgress(p progress.Progress) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.items[p.ID]
	if !ok {
		return
	}
	c.Transferred = p.Transferred
	if p.Total != 0 {
		c.Total = p.Total
	}
	if p.Transferred == 0 && p.Total == 0 {
		c.Total = 0
	}
}
