// Package cache keeps node page containers in memory between backend
// reads.  RAM and LRU are plain caches; TransactionLog additionally
// never loses an entry before it is closed, spilling evictions to disk.
package cache

import (
	"sync"

	"github.com/t7a/revbase/page"

	. "github.com/stevegt/goadapt"
)

// DefaultCapacity is the LRU capacity used when none is configured.
const DefaultCapacity = 1000

// Cache maps page keys to node page containers.  Get returns nil, nil
// on a miss.  Using a cache after Close is a programming error.
type Cache interface {
	Get(key uint64) (*page.Container, error)
	Put(key uint64, c *page.Container) error
	Clear() error
	Close() error
}

// RAM is an unbounded map.
type RAM struct {
	mu      sync.RWMutex
	entries map[uint64]*page.Container
	closed  bool
	Metrics *Metrics
}

func NewRAM() *RAM {
	return &RAM{entries: make(map[uint64]*page.Container)}
}

func (c *RAM) Get(key uint64) (*page.Container, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	Assert(!c.closed, "get on closed cache")
	got := c.entries[key]
	c.Metrics.lookup(got != nil)
	return got, nil
}

func (c *RAM) Put(key uint64, v *page.Container) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	Assert(!c.closed, "put on closed cache")
	c.entries[key] = v
	return nil
}

func (c *RAM) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *RAM) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*page.Container)
	return nil
}

func (c *RAM) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.entries = nil
	return nil
}
