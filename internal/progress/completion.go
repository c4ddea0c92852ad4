package progress

import (
	"sync"

	"github.com/EikeiDev/apkupdateross/internal/logging"
)

// Completions correlates asynchronous platform results with the attempt
// waiting for them. Each Expect hands out a fresh token, so a late result
// from an earlier attempt on the same id cannot reach a newer one.
// Register before handing the commit to the platform so an early result
// cannot be lost.
type Completions struct {
	mu      sync.Mutex
	next    int
	pending map[int]*completion
}

type completion struct {
	id int
	ch chan bool
	// orphaned is set once the waiter gave up while the platform still
	// owns the commit.
	orphaned func(succeeded bool)
}

func NewCompletions() *Completions {
	return &Completions{pending: make(map[int]*completion)}
}

// Expect registers interest in one platform result for id. The platform must
// resolve under the returned token.
func (c *Completions) Expect(id int) (token int, result <-chan bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		c.pending = make(map[int]*completion)
	}
	c.next++
	ch := make(chan bool, 1)
	c.pending[c.next] = &completion{id: id, ch: ch}
	return c.next, ch
}

// Resolve delivers the platform result for token. It reports false when no
// one is waiting: the token is unknown, forgotten or orphaned.
func (c *Completions) Resolve(token int, succeeded bool) bool {
	c.mu.Lock()
	p, ok := c.pending[token]
	delete(c.pending, token)
	c.mu.Unlock()

	switch {
	case !ok:
		log.Debug("completion without waiter", "token", token, "succeeded", succeeded)
		return false
	case p.orphaned != nil:
		log.Info("late platform result for abandoned attempt", logging.KeyCorrelationID, p.id, "succeeded", succeeded)
		p.orphaned(succeeded)
		return false
	}
	p.ch <- succeeded
	return true
}

// Forget drops token. Use it when the platform never took the commit.
func (c *Completions) Forget(token int) {
	c.mu.Lock()
	delete(c.pending, token)
	c.mu.Unlock()
}

// Orphan keeps token registered after its waiter gave up, because the
// platform still owns the commit. onResult runs when the result finally
// arrives. Orphan reports false if the result was already delivered.
func (c *Completions) Orphan(token int, onResult func(succeeded bool)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[token]
	if !ok {
		return false
	}
	p.orphaned = onResult
	return true
}

// Outstanding reports whether any result for id is still expected, including
// results of abandoned attempts the platform has not finished.
func (c *Completions) Outstanding(id int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range c.pending {
		if p.id == id {
			return true
		}
	}
	return false
}
