package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// DefaultComputeTimeout bounds a shared computation once it is detached from its caller
const DefaultComputeTimeout = 30 * time.Second

type entry[V any] struct {
	value   V
	expires time.Time
}

// MemoryCache is a bounded in-process TTL cache. A singleflight.Group guarantees at most
// one computation in flight per key; concurrent callers for the same key share its result.
type MemoryCache[V any] struct {
	mu      sync.RWMutex
	entries map[string]entry[V]
	group   singleflight.Group

	ttl            time.Duration
	maxEntries     int
	computeTimeout time.Duration
	now            func() time.Time
	recorder       Recorder
	log            zerolog.Logger
}

// MemoryOption customizes a MemoryCache
type MemoryOption func(*memoryOptions)

type memoryOptions struct {
	computeTimeout time.Duration
	now            func() time.Time
	recorder       Recorder
}

// WithComputeTimeout bounds each shared computation
func WithComputeTimeout(d time.Duration) MemoryOption {
	return func(o *memoryOptions) { o.computeTimeout = d }
}

// WithClock replaces time.Now (used by tests)
func WithClock(now func() time.Time) MemoryOption {
	return func(o *memoryOptions) { o.now = now }
}

// WithRecorder reports hits and misses
func WithRecorder(r Recorder) MemoryOption {
	return func(o *memoryOptions) { o.recorder = r }
}

// NewMemoryCache creates an in-memory cache. Non-positive ttl or maxEntries select the defaults.
func NewMemoryCache[V any](ttl time.Duration, maxEntries int, log zerolog.Logger, opts ...MemoryOption) *MemoryCache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	o := memoryOptions{
		computeTimeout: DefaultComputeTimeout,
		now:            time.Now,
		recorder:       nopRecorder{},
	}
	for _, opt := range opts {
		opt(&o)
	}

	return &MemoryCache[V]{
		entries:        make(map[string]entry[V]),
		ttl:            ttl,
		maxEntries:     maxEntries,
		computeTimeout: o.computeTimeout,
		now:            o.now,
		recorder:       o.recorder,
		log:            log.With().Str("component", "memory_cache").Logger(),
	}
}

// Get returns a fresh cached value
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.entries[key]
	if !ok || !c.now().Before(e.expires) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores a value, evicting expired entries (then the soonest-expiring one) when full
func (c *MemoryCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.sweepLocked(now)
		if len(c.entries) >= c.maxEntries {
			c.evictOldestLocked()
		}
	}
	c.entries[key] = entry[V]{value: value, expires: now.Add(c.ttl)}
}

// GetOrCompute implements Cache. If ctx is cancelled while waiting, the shared computation
// keeps running for the other callers and still populates the cache on success.
func (c *MemoryCache[V]) GetOrCompute(ctx context.Context, key string, compute ComputeFunc[V]) (V, error) {
	if v, ok := c.Get(key); ok {
		c.recorder.CacheHit("memory")
		c.log.Debug().Str("key", shortKey(key)).Msg("Cache hit")
		return v, nil
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		// Another flight may have filled the entry between Get and DoChan
		if v, ok := c.Get(key); ok {
			c.recorder.CacheHit("memory")
			return v, nil
		}
		c.recorder.CacheMiss("memory")

		computeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.computeTimeout)
		defer cancel()

		v, err := compute(computeCtx)
		if err != nil {
			return nil, err
		}
		c.Set(key, v)
		c.log.Debug().Str("key", shortKey(key)).Dur("ttl", c.ttl).Msg("Cached computed value")
		return v, nil
	})

	select {
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		v, ok := res.Val.(V)
		if !ok {
			var zero V
			return zero, fmt.Errorf("cache value for %s has unexpected type %T", shortKey(key), res.Val)
		}
		return v, nil
	}
}

// Delete drops a key
func (c *MemoryCache[V]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Sweep removes expired entries and returns how many were removed
func (c *MemoryCache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked(c.now())
}

// Len returns the number of stored entries, expired or not
func (c *MemoryCache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache[V]) sweepLocked(now time.Time) int {
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

func (c *MemoryCache[V]) evictOldestLocked() {
	var (
		oldestKey string
		oldest    time.Time
		found     bool
	)
	for k, e := range c.entries {
		if !found || e.expires.Before(oldest) {
			oldestKey, oldest, found = k, e.expires, true
		}
	}
	if found {
		delete(c.entries, oldestKey)
	}
}

func shortKey(key string) string {
	if len(key) > 8 {
		return key[:8]
	}
	return key
}
