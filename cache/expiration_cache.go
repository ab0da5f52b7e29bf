// Package cache implements the TTL expiration cache and the class-keyed
// storage service described in spec.md §4.9.
package cache

import (
	"sync"
	"time"
)

// entry pairs a cached value with its expiration deadline.
type entry[V any] struct {
	value      V
	expiresAt  time.Time
}

// ExpirationCache is a TTL-per-entry cache. Entries are only evicted by a
// periodic sweep (see StorageService) or on-miss inspection in Get; readers
// never hold the sweep lock, matching spec.md §3's invariant.
type ExpirationCache[K comparable, V any] struct {
	mu             sync.RWMutex
	items          map[K]entry[V]
	ttl            time.Duration
	renewableOnRead bool
	shouldDispose  func(V) bool
	disposeItem    func(V)
}

// Option configures an ExpirationCache at construction time.
type Option[K comparable, V any] func(*ExpirationCache[K, V])

// RenewableOnRead resets an entry's expiration on every successful Get.
func RenewableOnRead[K comparable, V any]() Option[K, V] {
	return func(c *ExpirationCache[K, V]) { c.renewableOnRead = true }
}

// ShouldDispose supplies the predicate spec.md calls "shouldDispose(V) bool".
func ShouldDispose[K comparable, V any](f func(V) bool) Option[K, V] {
	return func(c *ExpirationCache[K, V]) { c.shouldDispose = f }
}

// DisposeItem supplies the side effect spec.md calls "disposeItem(V)".
func DisposeItem[K comparable, V any](f func(V)) Option[K, V] {
	return func(c *ExpirationCache[K, V]) { c.disposeItem = f }
}

// NewExpirationCache builds a cache with the given default TTL.
func NewExpirationCache[K comparable, V any](ttl time.Duration, opts ...Option[K, V]) *ExpirationCache[K, V] {
	c := &ExpirationCache[K, V]{
		items: make(map[K]entry[V]),
		ttl:   ttl,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Put stores a value under the cache's default TTL.
func (c *ExpirationCache[K, V]) Put(key K, value V) {
	c.PutWithTTL(key, value, c.ttl)
}

// PutWithTTL stores a value with an explicit TTL, overriding the default.
func (c *ExpirationCache[K, V]) PutWithTTL(key K, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = entry[V]{value: value, expiresAt: time.Now().Add(ttl)}
}

// Get implements spec.md §4.9's algorithm: if expired and shouldDispose
// returns true, evict and report absent; otherwise, if renewableOnRead, reset
// the expiration; otherwise return the (possibly stale-but-not-disposable)
// value unchanged.
func (c *ExpirationCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		var zero V
		return zero, false
	}

	if time.Now().After(e.expiresAt) {
		dispose := c.shouldDispose == nil || c.shouldDispose(e.value)
		if dispose {
			c.mu.Lock()
			// Re-check under write lock: another goroutine may have renewed
			// or replaced the entry between the RUnlock above and here.
			if cur, stillThere := c.items[key]; stillThere && cur.expiresAt.Equal(e.expiresAt) {
				delete(c.items, key)
			}
			c.mu.Unlock()
			if c.disposeItem != nil {
				c.disposeItem(e.value)
			}
			var zero V
			return zero, false
		}
	}

	if c.renewableOnRead {
		c.mu.Lock()
		if cur, stillThere := c.items[key]; stillThere {
			cur.expiresAt = time.Now().Add(c.ttl)
			c.items[key] = cur
			e = cur
		}
		c.mu.Unlock()
	}

	return e.value, true
}

// Delete removes a key unconditionally, without invoking disposeItem.
func (c *ExpirationCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// Len reports the number of entries, expired or not (expired entries are
// only pruned by Get or Sweep).
func (c *ExpirationCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Sweep visits every entry and evicts those that are both expired and
// disposable, invoking disposeItem for each. It is the body of the periodic
// cleanup goroutine StorageService runs; it never blocks a concurrent Get
// for longer than one map mutation.
func (c *ExpirationCache[K, V]) Sweep() {
	now := time.Now()

	c.mu.RLock()
	var expired []K
	for k, e := range c.items {
		if now.After(e.expiresAt) {
			expired = append(expired, k)
		}
	}
	c.mu.RUnlock()

	for _, k := range expired {
		c.mu.Lock()
		e, ok := c.items[k]
		if !ok || !now.After(e.expiresAt) {
			c.mu.Unlock()
			continue
		}
		dispose := c.shouldDispose == nil || c.shouldDispose(e.value)
		if dispose {
			delete(c.items, k)
		}
		c.mu.Unlock()
		if dispose && c.disposeItem != nil {
			c.disposeItem(e.value)
		}
	}
}
