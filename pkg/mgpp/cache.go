package mgpp

import (
	"sync"
	"time"
)

// CacheTTL bounds how long a client trusts a cached value before refetching
// it regardless of whether an invalidation ever arrives.
const CacheTTL = 60 * time.Second

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a small TTL-bounded cache keyed by a cache-key string (the
// CBOR/raw bytes of an InvalidateCache.CacheKey), invalidated either by TTL
// expiry or by an explicit Drop call driven by an inbound InvalidateCache
// packet.
type TTLCache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	ttl     time.Duration
}

// NewTTLCache creates an empty cache with the given per-entry TTL.
func NewTTLCache[V any](ttl time.Duration) *TTLCache[V] {
	return &TTLCache[V]{entries: make(map[string]entry[V]), ttl: ttl}
}

// Get returns the cached value for key, or ok=false if absent or expired.
func (c *TTLCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with this cache's configured TTL.
func (c *TTLCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiresAt: time.Now().Add(c.ttl)}
}

// Drop removes a single key, used when an InvalidateCache names it
// specifically.
func (c *TTLCache[V]) Drop(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear drops every entry, used when the cache's CacheID has no per-key
// granularity (NodeStorageMap) or when an MGPP connection has just
// reconnected and any invalidation sent while it was down must be assumed
// missed.
func (c *TTLCache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
}
