// Package cache memoizes expensive per-key computations such as the covariance substrate.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"
)

const (
	// DefaultTTL is how long a computed value stays fresh
	DefaultTTL = 5 * time.Minute
	// DefaultMaxEntries bounds the in-memory cache
	DefaultMaxEntries = 256
)

// ComputeFunc produces the value for a key on a cache miss
type ComputeFunc[V any] func(ctx context.Context) (V, error)

// Cache returns the cached value for key or computes, stores and returns it.
// Errors returned by compute are never cached.
type Cache[V any] interface {
	GetOrCompute(ctx context.Context, key string, compute ComputeFunc[V]) (V, error)
}

// Recorder receives cache hit/miss notifications (e.g. for metrics)
type Recorder interface {
	CacheHit(layer string)
	CacheMiss(layer string)
}

type nopRecorder struct{}

func (nopRecorder) CacheHit(string)  {}
func (nopRecorder) CacheMiss(string) {}

// NopCache never stores anything and always computes
type NopCache[V any] struct{}

// GetOrCompute implements Cache
func (NopCache[V]) GetOrCompute(ctx context.Context, _ string, compute ComputeFunc[V]) (V, error) {
	return compute(ctx)
}

// SubstrateKey builds a deterministic key from the asset set, the price window and the
// return method. Symbols are sorted so the key is independent of request ordering.
func SubstrateKey(symbols []string, start, end time.Time, method string) string {
	sorted := make([]string, len(symbols))
	copy(sorted, symbols)
	sort.Strings(sorted)

	keyData := fmt.Sprintf("%s|%d|%d|%s", strings.Join(sorted, ","), start.UTC().Unix(), end.UTC().Unix(), method)
	h := sha256.Sum256([]byte(keyData))
	return hex.EncodeToString(h[:16])
}
