package indexer

import (
	"sync"

	"github.com/susamn/obsidian-web/internal/models"
)

// coalescer holds at most one pending event per path.
type coalescer struct {
	mu      sync.Mutex
	pending map[string]models.ChangeEvent
}

func newCoalescer() *coalescer {
	return &coalescer{pending: make(map[string]models.ChangeEvent)}
}

// add merges ev into the pending set and returns the resulting size.
// absorbed is true when ev or the event it replaced no longer needs
// applying: a pending delete ignores anything that follows it, and any
// other pending event is replaced by the newer one.
func (c *coalescer) add(ev models.ChangeEvent) (size int, absorbed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev, ok := c.pending[ev.Path]
	switch {
	case !ok:
		c.pending[ev.Path] = ev
	case prev.Kind == models.ChangeDeleted:
		absorbed = true
	default:
		c.pending[ev.Path] = ev
		absorbed = true
	}
	return len(c.pending), absorbed
}

// drain swaps out the pending set and returns the old one.
func (c *coalescer) drain() map[string]models.ChangeEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.pending) == 0 {
		return nil
	}
	out := c.pending
	c.pending = make(map[string]models.ChangeEvent, len(out))
	return out
}

func (c *coalescer) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
