package cache

import (
	"sync"

	"github.com/hashicorp/golang-lru/simplelru"
	log "github.com/sirupsen/logrus"

	"github.com/t7a/revbase/page"

	. "github.com/stevegt/goadapt"
)

// EvictFunc is called with each entry pushed out of an LRU.  An error
// fails the Put that caused the eviction.
type EvictFunc func(key uint64, c *page.Container) error

// LRU holds at most capacity entries, evicting the least recently
// used one.
type LRU struct {
	mu       sync.Mutex
	capacity int
	// the inner list is sized one above capacity so that it never
	// evicts on its own; Put trims it and runs onEvict
	lru     *simplelru.LRU
	onEvict EvictFunc
	closed  bool
	Metrics *Metrics
}

// NewLRU returns an LRU of the given capacity, or DefaultCapacity if
// capacity is not positive.  onEvict may be nil.
func NewLRU(capacity int, onEvict EvictFunc) *LRU {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	inner, err := simplelru.NewLRU(capacity+1, nil)
	Ck(err)
	return &LRU{
		capacity: capacity,
		lru:      inner,
		onEvict:  onEvict,
	}
}

func (c *LRU) Get(key uint64) (*page.Container, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	Assert(!c.closed, "get on closed cache")
	v, ok := c.lru.Get(key)
	c.Metrics.lookup(ok)
	if !ok {
		return nil, nil
	}
	return v.(*page.Container), nil
}

// Put inserts or replaces key and marks it most recently used.
func (c *LRU) Put(key uint64, v *page.Container) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	Assert(!c.closed, "put on closed cache")
	c.lru.Add(key, v)
	for c.lru.Len() > c.capacity {
		k, old, ok := c.lru.RemoveOldest()
		if !ok {
			break
		}
		c.Metrics.evicted()
		log.Debugf("lru evict page %d", k)
		if c.onEvict != nil {
			err := c.onEvict(k.(uint64), old.(*page.Container))
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// Contains reports whether key is cached, without promoting it.
func (c *LRU) Contains(key uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(key)
}

// Keys returns the cached keys, oldest first.
func (c *LRU) Keys() (keys []uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range c.lru.Keys() {
		keys = append(keys, k.(uint64))
	}
	return
}

func (c *LRU) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Clear drops all entries without calling the eviction callback.
func (c *LRU) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
	return nil
}

func (c *LRU) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.lru.Purge()
	return nil
}
