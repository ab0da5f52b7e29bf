package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// DefaultCleanupInterval is the periodic sweep interval spec.md §4.9
// specifies for the Topology class.
const DefaultCleanupInterval = 5 * time.Minute

// TopologyClass is the class name the host-list provider registers its
// cache under. Kept as a string constant here (rather than StorageService
// importing the topology package) so the dependency order from SPEC_FULL.md
// §2 holds: storage service sits below host-info/topology in the leaves-
// first build order.
const TopologyClass = "Topology"

// classCache is one class's cache plus the metadata needed to sweep it.
type classCache struct {
	cache *ExpirationCache[string, any]
}

// StorageService owns one ExpirationCache per registered "class" and runs a
// single periodic goroutine that sweeps all of them, per spec.md §4.9: "A
// periodic cleanup goroutine visits every cache and evicts expired entries
// whose shouldDispose returns true."
//
// Go does not give us spec.md's "set infers the class from the value" for
// free without reflection; we require the caller to name the class
// explicitly (see DESIGN.md), which keeps Get's defensive type check a
// runtime type assertion to V instead of a reflect.Type comparison.
type StorageService struct {
	mu      sync.Mutex
	classes map[string]*classCache

	cleanupInterval time.Duration
	group           *errgroup.Group
	cancel          func()
}

// NewStorageService constructs a StorageService and registers the default
// Topology class with a 5-minute cleanup sweep (spec.md §4.9).
func NewStorageService() *StorageService {
	s := &StorageService{
		classes:         make(map[string]*classCache),
		cleanupInterval: DefaultCleanupInterval,
	}
	s.RegisterClass(TopologyClass, DefaultCleanupInterval)
	return s
}

// RegisterClass idempotently ensures a cache exists for the given class,
// with the given TTL used for entries Set through this service.
func (s *StorageService) RegisterClass(class string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.classes[class]; ok {
		return
	}
	s.classes[class] = &classCache{cache: NewExpirationCache[string, any](ttl)}
}

func (s *StorageService) classFor(class string) *ExpirationCache[string, any] {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[class]
	if !ok {
		return nil
	}
	return c.cache
}

// Set stores a value under (class, key), registering the class with the
// service's default cleanup interval if it has not been registered yet.
func (s *StorageService) Set(class, key string, value any) {
	s.mu.Lock()
	c, ok := s.classes[class]
	if !ok {
		c = &classCache{cache: NewExpirationCache[string, any](s.cleanupInterval)}
		s.classes[class] = c
	}
	s.mu.Unlock()
	c.cache.Put(key, value)
}

// SetWithTTL is Set with an explicit per-entry TTL override.
func (s *StorageService) SetWithTTL(class, key string, value any, ttl time.Duration) {
	s.mu.Lock()
	c, ok := s.classes[class]
	if !ok {
		c = &classCache{cache: NewExpirationCache[string, any](s.cleanupInterval)}
		s.classes[class] = c
	}
	s.mu.Unlock()
	c.cache.PutWithTTL(key, value, ttl)
}

// Get returns the value stored under (class, key) if present and if its
// concrete type matches V — spec.md's "defensive type check".
func Get[V any](s *StorageService, class, key string) (V, bool) {
	var zero V
	c := s.classFor(class)
	if c == nil {
		return zero, false
	}
	raw, ok := c.Get(key)
	if !ok {
		return zero, false
	}
	typed, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return typed, true
}

// Delete removes a key from a class's cache.
func (s *StorageService) Delete(class, key string) {
	c := s.classFor(class)
	if c == nil {
		return
	}
	c.Delete(key)
}

// Start launches the periodic cleanup goroutine. It is idempotent-safe to
// call once; calling Stop() joins it. Uses golang.org/x/sync/errgroup so the
// loop's exit is observable, per spec.md §9's "must expose a stop signal and
// a finite join; no daemonized hidden work."
func (s *StorageService) Start() {
	s.mu.Lock()
	if s.group != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)
	s.group = g
	s.cancel = cancel
	s.mu.Unlock()

	g.Go(func() error {
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				s.sweepAll()
			}
		}
	})
}

func (s *StorageService) sweepAll() {
	s.mu.Lock()
	caches := make([]*ExpirationCache[string, any], 0, len(s.classes))
	for _, c := range s.classes {
		caches = append(caches, c.cache)
	}
	s.mu.Unlock()

	for _, c := range caches {
		c.Sweep()
	}
}

// Stop signals the cleanup loop and blocks until it has returned.
func (s *StorageService) Stop() error {
	s.mu.Lock()
	cancel := s.cancel
	g := s.group
	s.group = nil
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	if g != nil {
		return g.Wait()
	}
	return nil
}

// classKey renders a fallback class name when a caller wants the Go type
// name rather than a hand-picked string (used by packages that store a
// single well-known type and prefer not to hardcode a string literal).
func classKey[V any]() string {
	var zero V
	return fmt.Sprintf("%T", zero)
}

// ClassKeyFor exposes classKey to other packages in this module.
func ClassKeyFor[V any]() string { return classKey[V]() }
