// Package cache provides a generic, thread-safe LRU cache.
package cache

import (
	"container/list"
	"sync"
)

// Stats contains cache statistics.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
	MaxSize   int
}

// Config contains cache configuration options.
type Config struct {
	// MaxSize is the maximum number of entries (0 = unlimited).
	MaxSize int

	// OnEvict is called with the lock held when an entry is evicted to
	// make room. It is not called for Remove or Clear.
	OnEvict func(key, value any)
}

type entry[K comparable, V any] struct {
	key   K
	value V
}

// LRU is a least-recently-used cache. The zero value is not usable; call
// New.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	config    Config
	entries   map[K]*list.Element
	evictList *list.List
	stats     Stats
}

// New creates an LRU cache with the given configuration.
func New[K comparable, V any](config Config) *LRU[K, V] {
	if config.MaxSize < 0 {
		config.MaxSize = 0
	}
	return &LRU[K, V]{
		config:    config,
		entries:   make(map[K]*list.Element),
		evictList: list.New(),
	}
}

// Get retrieves a value and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ent, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	c.evictList.MoveToFront(ent)
	c.stats.Hits++
	return ent.Value.(*entry[K, V]).value, true
}

// Put stores a value, evicting the least recently used entry when the
// cache is full.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ent, ok := c.entries[key]; ok {
		c.evictList.MoveToFront(ent)
		ent.Value.(*entry[K, V]).value = value
		return
	}

	c.entries[key] = c.evictList.PushFront(&entry[K, V]{key: key, value: value})
	if c.config.MaxSize > 0 && c.evictList.Len() > c.config.MaxSize {
		oldest := c.evictList.Back()
		e := c.removeElement(oldest)
		c.stats.Evictions++
		if c.config.OnEvict != nil {
			c.config.OnEvict(e.key, e.value)
		}
	}
}

// Remove deletes key from the cache.
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ent, ok := c.entries[key]; ok {
		c.removeElement(ent)
	}
}

// Clear removes all entries. Statistics are kept.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*list.Element)
	c.evictList.Init()
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.evictList.Len()
}

// Stats returns cache statistics.
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = c.evictList.Len()
	s.MaxSize = c.config.MaxSize
	return s
}

func (c *LRU[K, V]) removeElement(ent *list.Element) *entry[K, V] {
	c.evictList.Remove(ent)
	e := ent.Value.(*entry[K, V])
	delete(c.entries, e.key)
	return e
}
