package cacheutil

import (
	"sync"
	"time"
)

// CachedValue represents a cached value with the time it was fetched.
type CachedValue[T any] struct {
	Value     T
	FetchedAt time.Time
}

// ReadThrough implements a thread-safe read-through cache with double-checked locking.
//
//   - checkCache runs under RLock, and again under Lock after a miss
//   - fetchAndCache runs under Lock only when the second check also misses
//
// Concurrent misses for the same cache therefore cause a single fetch.
func ReadThrough[T any](
	mu *sync.RWMutex,
	checkCache func(now time.Time) (T, bool),
	fetchAndCache func(now time.Time) (T, error),
) (T, error) {
	now := time.Now()
	mu.RLock()
	if value, ok := checkCache(now); ok {
		mu.RUnlock()
		return value, nil
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()

	// Another goroutine may have populated the entry between RUnlock and Lock.
	nowAfterLock := time.Now()
	if value, ok := checkCache(nowAfterLock); ok {
		return value, nil
	}

	return fetchAndCache(nowAfterLock)
}

// TTLCache is a keyed read-through cache. Failed fetches are not cached.
// A zero TTL disables caching and every Get calls fetch.
type TTLCache[K comparable, V any] struct {
	ttl     time.Duration
	mu      sync.RWMutex
	entries map[K]CachedValue[V]
}

// NewTTLCache creates a cache whose entries expire after ttl.
func NewTTLCache[K comparable, V any](ttl time.Duration) *TTLCache[K, V] {
	return &TTLCache[K, V]{
		ttl:     ttl,
		entries: make(map[K]CachedValue[V]),
	}
}

// Get returns the cached value for key or calls fetch and caches its result.
func (c *TTLCache[K, V]) Get(key K, fetch func() (V, error)) (V, error) {
	if c.ttl <= 0 {
		return fetch()
	}
	return ReadThrough(
		&c.mu,
		func(now time.Time) (V, bool) {
			if entry, ok := c.entries[key]; ok && now.Sub(entry.FetchedAt) < c.ttl {
				return entry.Value, true
			}
			var zero V
			return zero, false
		},
		func(now time.Time) (V, error) {
			value, err := fetch()
			if err != nil {
				return value, err
			}
			c.entries[key] = CachedValue[V]{Value: value, FetchedAt: now}
			return value, nil
		},
	)
}

// Invalidate drops every cached entry.
func (c *TTLCache[K, V]) Invalidate() {
	c.mu.Lock()
	c.entries = make(map[K]CachedValue[V])
	c.mu.Unlock()
}
