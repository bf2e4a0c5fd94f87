// Package cache keeps evaluation results in memory, bounded both by entry
// count and by an estimate of the bytes they hold. The least recently used
// entries are evicted first.
package cache

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Sized is a cacheable value that reports its approximate memory footprint.
// The size of a value must not change while it is cached.
type Sized interface {
	Size() int64
}

type entry[V Sized] struct {
	value V
	size  int64
}

// Cache is a thread-safe LRU cache keyed by fingerprint. A cache with zero
// capacity or zero memory limit stores nothing.
type Cache[V Sized] struct {
	mu          sync.Mutex
	lru         *simplelru.LRU[uint64, entry[V]]
	capacity    int
	memoryLimit int64
	bytes       int64
	metrics     *Metrics
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	metrics *Metrics
}

// WithMetrics reports cache activity to m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New creates a cache holding at most capacity entries and memoryLimit bytes.
func New[V Sized](capacity int, memoryLimit int64, opts ...Option) *Cache[V] {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = NewMetrics()
	}

	c := &Cache[V]{capacity: capacity, memoryLimit: memoryLimit, metrics: o.metrics}
	if capacity > 0 && memoryLimit > 0 {
		// NewLRU only fails for a non-positive size.
		c.lru, _ = simplelru.NewLRU[uint64, entry[V]](capacity, nil)
	}
	return c
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[V]) Get(key uint64) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	if c.lru == nil {
		c.metrics.misses.Inc()
		return zero, false
	}
	e, ok := c.lru.Get(key)
	if !ok {
		c.metrics.misses.Inc()
		return zero, false
	}
	c.metrics.hits.Inc()
	return e.value, true
}

// Add stores value under key, evicting least recently used entries until
// both bounds hold. It reports whether the value was stored; values larger
// than the memory limit never are.
func (c *Cache[V]) Add(key uint64, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.lru == nil {
		return false
	}
	size := value.Size()
	if old, ok := c.lru.Peek(key); ok {
		c.lru.Remove(key)
		c.bytes -= old.size
	}
	if size > c.memoryLimit {
		c.observe()
		return false
	}

	for c.lru.Len() >= c.capacity || c.bytes+size > c.memoryLimit {
		_, old, ok := c.lru.RemoveOldest()
		if !ok {
			break
		}
		c.bytes -= old.size
		c.metrics.evictions.Inc()
	}
	c.lru.Add(key, entry[V]{value: value, size: size})
	c.bytes += size
	c.observe()
	return true
}

// Len returns the number of cached entries.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}

// Bytes returns the estimated memory held by cached entries.
func (c *Cache[V]) Bytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bytes
}

// Purge drops every entry.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lru != nil {
		c.lru.Purge()
	}
	c.bytes = 0
	c.observe()
}

// observe publishes the gauges. Callers hold mu.
func (c *Cache[V]) observe() {
	n := 0
	if c.lru != nil {
		n = c.lru.Len()
	}
	c.metrics.entries.Set(float64(n))
	c.metrics.bytes.Set(float64(c.bytes))
}
