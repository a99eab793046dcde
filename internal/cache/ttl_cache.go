// Package cache provides a thread-safe result cache with per-entry expiration.
package cache

import (
	"sync"
	"time"
)

// Config bounds a cache.
type Config struct {
	// TTL is how long an entry stays valid after Set. Zero or negative
	// disables caching: Get always misses.
	TTL time.Duration
	// MaxEntries caps the number of stored entries; the oldest entry is
	// evicted first. Zero means DefaultMaxEntries.
	MaxEntries int
}

// DefaultMaxEntries is used when Config.MaxEntries is zero.
const DefaultMaxEntries = 256

// DefaultConfig returns a five-minute cache of DefaultMaxEntries entries.
func DefaultConfig() Config {
	return Config{TTL: 5 * time.Minute, MaxEntries: DefaultMaxEntries}
}

type entry[V any] struct {
	value   V
	expires time.Time
	stored  time.Time
}

// Stats counts cache lookups.
type Stats struct {
	Hits    int64 `json:"hits"`
	Misses  int64 `json:"misses"`
	Entries int   `json:"entries"`
}

// TTLCache is a thread-safe cache whose entries expire individually.
type TTLCache[K comparable, V any] struct {
	mu     sync.Mutex
	data   map[K]entry[V]
	cfg    Config
	now    func() time.Time
	hits   int64
	misses int64
}

// New creates a cache with the given TTL and the default size bound.
func New[K comparable, V any](ttl time.Duration) *TTLCache[K, V] {
	return NewWithConfig[K, V](Config{TTL: ttl})
}

// NewWithConfig creates a cache from cfg.
func NewWithConfig[K comparable, V any](cfg Config) *TTLCache[K, V] {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultMaxEntries
	}
	return &TTLCache[K, V]{
		data: make(map[K]entry[V]),
		cfg:  cfg,
		now:  time.Now,
	}
}

// Get returns the value for key if it is present and not expired.
// Expired entries are removed on access.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.data[key]
	if ok && !c.now().Before(e.expires) {
		delete(c.data, key)
		ok = false
	}
	if !ok {
		c.misses++
		var zero V
		return zero, false
	}
	c.hits++
	return e.value, true
}

// Set stores value under key, evicting expired entries and then the oldest
// entry when the cache is full.
func (c *TTLCache[K, V]) Set(key K, value V) {
	if c.cfg.TTL <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.data[key]; !exists && len(c.data) >= c.cfg.MaxEntries {
		c.pruneLocked(now)
		if len(c.data) >= c.cfg.MaxEntries {
			c.evictOldestLocked()
		}
	}
	c.data[key] = entry[V]{value: value, expires: now.Add(c.cfg.TTL), stored: now}
}

// pruneLocked drops expired entries. MUST be called with the lock held.
func (c *TTLCache[K, V]) pruneLocked(now time.Time) {
	for k, e := range c.data {
		if !now.Before(e.expires) {
			delete(c.data, k)
		}
	}
}

// evictOldestLocked drops the entry stored first. MUST be called with the lock held.
func (c *TTLCache[K, V]) evictOldestLocked() {
	var (
		oldestKey K
		oldest    time.Time
		found     bool
	)
	for k, e := range c.data {
		if !found || e.stored.Before(oldest) {
			oldestKey, oldest, found = k, e.stored, true
		}
	}
	if found {
		delete(c.data, oldestKey)
	}
}

// Invalidate clears all entries.
func (c *TTLCache[K, V]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data = make(map[K]entry[V])
}

// Len returns the number of stored entries, including expired ones not yet
// pruned.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

// Stats returns lookup counters.
func (c *TTLCache[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Entries: len(c.data)}
}
