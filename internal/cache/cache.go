// Package cache implements the process-local CacheEntry(k, v, expiresAt)
// model used uniformly by the token-version, token-metadata, gas-price,
// token-price, and balance caches (§3).
package cache

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// entry pairs a cached value with its expiry.
type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// TTLCache is a bounded, TTL-expiring cache keyed by comparable K. Eviction
// beyond maxSize falls back to LRU, delegated to hashicorp/golang-lru so
// this type only owns the TTL half of the contract.
type TTLCache[K comparable, V any] struct {
	mu  sync.Mutex
	lru *lru.Cache[K, entry[V]]
	ttl time.Duration
}

// New builds a TTLCache bounded to maxSize entries, each valid for ttl.
func New[K comparable, V any](maxSize int, ttl time.Duration) *TTLCache[K, V] {
	if maxSize <= 0 {
		maxSize = 1
	}
	l, err := lru.New[K, entry[V]](maxSize)
	if err != nil {
		// Only returns an error for maxSize <= 0, already guarded above.
		panic(err)
	}
	return &TTLCache[K, V]{lru: l, ttl: ttl}
}

// Get returns the cached value and true if present and not expired.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.lru.Get(key)
	if !ok {
		return zero, false
	}
	if time.Now().After(e.expiresAt) {
		c.lru.Remove(key)
		return zero, false
	}
	return e.value, true
}

// Set stores value under key with the cache's configured TTL.
func (c *TTLCache[K, V]) Set(key K, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL stores value under key with an explicit TTL override.
func (c *TTLCache[K, V]) SetWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, entry[V]{value: value, expiresAt: time.Now().Add(ttl)})
}

// Delete evicts key unconditionally.
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Len reports the number of entries currently held, expired or not.
func (c *TTLCache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Clear empties the cache, used on shutdown per §3's Lifecycle section.
func (c *TTLCache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}
