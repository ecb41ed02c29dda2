// Package cache provides a thread-safe LRU cache. Batch conversion uses it
// to share parse results between inputs with identical content.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache is a generic LRU cache interface.
type Cache[K comparable, V any] interface {
	// Get retrieves a value from the cache.
	Get(key K) (V, bool)

	// Put stores a value in the cache.
	Put(key K, value V)

	// Remove removes a value from the cache.
	Remove(key K)

	// Clear removes all entries from the cache.
	Clear()

	// Len returns the number of entries in the cache.
	Len() int

	// Stats returns cache statistics.
	Stats() Stats
}

// Stats contains cache statistics.
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
	MaxSize   int   `json:"maxSize"`
	Bytes     int64 `json:"bytes"`
}

// Config contains cache configuration options.
type Config struct {
	// MaxSize is the maximum number of entries (0 = unlimited).
	MaxSize int

	// MaxBytes bounds the summed SizeOf of all entries (0 = unlimited).
	// It needs SizeOf.
	MaxBytes int64

	// TTL is the time-to-live for entries (0 = no expiration).
	TTL time.Duration
}

// DefaultConfig returns a default cache configuration.
func DefaultConfig() Config {
	return Config{MaxSize: 64}
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	size      int64
	expiresAt time.Time
}

// LRU is a thread-safe LRU cache.
type LRU[K comparable, V any] struct {
	mu        sync.Mutex
	config    Config
	entries   map[K]*list.Element
	evictList *list.List
	stats     Stats

	// SizeOf estimates the size of a value for MaxBytes; nil counts zero.
	SizeOf func(V) int64

	// OnEvict is called with entries dropped to make room or expired.
	OnEvict func(key K, value V)

	now func() time.Time
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
		now:       time.Now,
	}
}

// Get retrieves a value from the cache.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	ent, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	e := ent.Value.(*entry[K, V])
	if c.config.TTL > 0 && c.now().After(e.expiresAt) {
		c.removeElement(ent, true)
		c.stats.Misses++
		return zero, false
	}
	c.evictList.MoveToFront(ent)
	c.stats.Hits++
	return e.value, true
}

// Put stores a value in the cache. A value larger than MaxBytes on its own
// is not stored.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var size int64
	if c.SizeOf != nil {
		size = c.SizeOf(value)
	}
	if c.config.MaxBytes > 0 && size > c.config.MaxBytes {
		return
	}

	if ent, ok := c.entries[key]; ok {
		c.removeElement(ent, false)
	}
	e := &entry[K, V]{key: key, value: value, size: size}
	if c.config.TTL > 0 {
		e.expiresAt = c.now().Add(c.config.TTL)
	}
	c.entries[key] = c.evictList.PushFront(e)
	c.stats.Bytes += size

	for c.evictList.Len() > 1 &&
		((c.config.MaxSize > 0 && c.evictList.Len() > c.config.MaxSize) ||
			(c.config.MaxBytes > 0 && c.stats.Bytes > c.config.MaxBytes)) {
		c.removeElement(c.evictList.Back(), true)
		c.stats.Evictions++
	}
}

// Remove removes a value from the cache.
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ent, ok := c.entries[key]; ok {
		c.removeElement(ent, false)
	}
}

// Clear removes all entries from the cache.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]*list.Element)
	c.evictList.Init()
	c.stats.Bytes = 0
}

// Len returns the number of entries in the cache.
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

func (c *LRU[K, V]) removeElement(ent *list.Element, notify bool) {
	c.evictList.Remove(ent)
	e := ent.Value.(*entry[K, V])
	delete(c.entries, e.key)
	c.stats.Bytes -= e.size
	if notify && c.OnEvict != nil {
		c.OnEvict(e.key, e.value)
	}
}
