package graph

import (
	"fmt"
	"sync"
)

// IdentityCache maps identities to their live Element. It guarantees at
// most one Element per identity.
//
// Thread-safety: all methods are safe for concurrent use.
type IdentityCache struct {
	mu      sync.RWMutex
	entries map[Identity]*Element
	metrics *Metrics
}

// NewIdentityCache creates an empty cache. metrics may be nil.
func NewIdentityCache(metrics *Metrics) *IdentityCache {
	return &IdentityCache{
		entries: make(map[Identity]*Element),
		metrics: metrics,
	}
}

// Put registers e under id. Registering the same Element twice is a no-op;
// registering a different Element under a taken identity fails with
// ErrDuplicateWrapper and leaves the existing entry in place.
func (c *IdentityCache) Put(id Identity, e *Element) error {
	if id.IsZero() {
		return fmt.Errorf("cache put: zero identity")
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[id]; ok {
		if existing == e {
			return nil
		}
		return fmt.Errorf("cache put %s: %w", id, ErrDuplicateWrapper)
	}
	c.entries[id] = e
	c.metrics.recordSet(len(c.entries))
	return nil
}

// Get returns the Element registered under id.
func (c *IdentityCache) Get(id Identity) (*Element, bool) {
	c.mu.RLock()
	e, ok := c.entries[id]
	c.mu.RUnlock()

	if ok {
		c.metrics.recordHit()
	} else {
		c.metrics.recordMiss()
	}
	return e, ok
}

// Remove deregisters id. Removing an absent identity is a no-op.
func (c *IdentityCache) Remove(id Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[id]; !ok {
		return
	}
	delete(c.entries, id)
	c.metrics.recordDelete(len(c.entries))
}

// Rekey moves the entry under from to to. It is used when a transient
// element receives its record id, and in reverse when that save rolls back.
// If nothing is registered under from, Rekey does nothing.
func (c *IdentityCache) Rekey(from, to Identity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[from]
	if !ok {
		return nil
	}
	if existing, taken := c.entries[to]; taken && existing != e {
		return fmt.Errorf("cache rekey %s -> %s: %w", from, to, ErrDuplicateWrapper)
	}
	delete(c.entries, from)
	c.entries[to] = e
	return nil
}

// Len returns the number of registered elements.
func (c *IdentityCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
