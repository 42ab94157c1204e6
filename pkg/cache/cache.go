package cache

import (
	"fmt"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Options configures a Cache
type Options struct {
	// TTL is how long an entry stays valid after it was written; zero disables expiry
	TTL time.Duration
	// MaxSize bounds the number of entries; the least recently used entry is evicted first
	MaxSize int
	// Now overrides the clock, mainly for tests
	Now func() time.Time
}

// Stats is a point-in-time view of cache counters
type Stats struct {
	Size      int    `json:"size"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Expired   uint64 `json:"expired"`
}

type entry[V any] struct {
	value     V
	createdAt time.Time
}

// Cache is a thread-safe, size-bounded LRU cache whose entries expire after a fixed TTL
type Cache[K comparable, V any] struct {
	items *lru.Cache[K, entry[V]]
	ttl   time.Duration
	now   func() time.Time

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
	expired   atomic.Uint64
}

// New creates a cache with the given options
func New[K comparable, V any](opts Options) (*Cache[K, V], error) {
	if opts.MaxSize <= 0 {
		return nil, fmt.Errorf("cache size must be positive, got %d", opts.MaxSize)
	}
	items, err := lru.New[K, entry[V]](opts.MaxSize)
	if err != nil {
		return nil, err
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Cache[K, V]{items: items, ttl: opts.TTL, now: now}, nil
}

// Get returns the value for key; an expired entry is removed and reported as a miss
func (c *Cache[K, V]) Get(key K) (V, bool) {
	var zero V

	e, ok := c.items.Get(key)
	if !ok {
		c.misses.Add(1)
		return zero, false
	}

	if c.ttl > 0 && !c.now().Before(e.createdAt.Add(c.ttl)) {
		c.items.Remove(key)
		c.expired.Add(1)
		c.misses.Add(1)
		return zero, false
	}

	c.hits.Add(1)
	return e.value, true
}

// Set stores value under key, evicting the least recently used entry when full
func (c *Cache[K, V]) Set(key K, value V) {
	if evicted := c.items.Add(key, entry[V]{value: value, createdAt: c.now()}); evicted {
		c.evictions.Add(1)
	}
}

// Add stores value only when key is absent and reports whether it did; an expired entry still counts as present
func (c *Cache[K, V]) Add(key K, value V) bool {
	found, evicted := c.items.ContainsOrAdd(key, entry[V]{value: value, createdAt: c.now()})
	if evicted {
		c.evictions.Add(1)
	}
	return !found
}

// Delete removes an item from the cache
func (c *Cache[K, V]) Delete(key K) {
	c.items.Remove(key)
}

// Purge removes all items from the cache
func (c *Cache[K, V]) Purge() {
	c.items.Purge()
}

// Len returns the number of entries, including ones that expired but were not looked up yet
func (c *Cache[K, V]) Len() int {
	return c.items.Len()
}

// Keys returns the keys from oldest to most recently used
func (c *Cache[K, V]) Keys() []K {
	return c.items.Keys()
}

// Stats returns the current counters
func (c *Cache[K, V]) Stats() Stats {
	return Stats{
		Size:      c.items.Len(),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Expired:   c.expired.Load(),
	}
}
