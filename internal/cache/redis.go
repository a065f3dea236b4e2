package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// RedisCache is a shared cache tier backed by Redis. Values are msgpack encoded and
// expire through Redis TTLs. Redis failures degrade to recomputation, never to errors.
type RedisCache[V any] struct {
	client   redis.UniversalClient
	prefix   string
	ttl      time.Duration
	recorder Recorder
	log      zerolog.Logger
}

// NewRedisCache creates a Redis-backed cache tier
func NewRedisCache[V any](client redis.UniversalClient, prefix string, ttl time.Duration, recorder Recorder, log zerolog.Logger) *RedisCache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &RedisCache[V]{
		client:   client,
		prefix:   prefix,
		ttl:      ttl,
		recorder: recorder,
		log:      log.With().Str("component", "redis_cache").Logger(),
	}
}

// NewRedisClient parses a redis:// URL and verifies connectivity
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}

func (c *RedisCache[V]) key(key string) string {
	return c.prefix + key
}

// Get returns the decoded value; ok is false on a miss
func (c *RedisCache[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V

	data, err := c.client.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return zero, false, nil
		}
		return zero, false, fmt.Errorf("failed to get %s from redis: %w", shortKey(key), err)
	}

	var v V
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return zero, false, fmt.Errorf("failed to decode cached value %s: %w", shortKey(key), err)
	}
	return v, true, nil
}

// Set encodes and stores a value with the tier TTL
func (c *RedisCache[V]) Set(ctx context.Context, key string, v V) error {
	data, err := msgpack.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode value %s: %w", shortKey(key), err)
	}
	if err := c.client.Set(ctx, c.key(key), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s in redis: %w", shortKey(key), err)
	}
	return nil
}

// GetOrCompute implements Cache
func (c *RedisCache[V]) GetOrCompute(ctx context.Context, key string, compute ComputeFunc[V]) (V, error) {
	v, ok, err := c.Get(ctx, key)
	if err != nil {
		c.log.Warn().Err(err).Msg("Redis read failed, recomputing")
	}
	if ok {
		c.recorder.CacheHit("redis")
		return v, nil
	}
	c.recorder.CacheMiss("redis")

	v, err = compute(ctx)
	if err != nil {
		return v, err
	}
	if err := c.Set(ctx, key, v); err != nil {
		c.log.Warn().Err(err).Msg("Failed to store value in redis")
	}
	return v, nil
}

// Tiered layers a memory cache over a slower shared tier. The memory layer's
// singleflight also coalesces lookups against the shared tier.
type Tiered[V any] struct {
	l1 *MemoryCache[V]
	l2 Cache[V]
}

// NewTiered creates a two-level cache
func NewTiered[V any](l1 *MemoryCache[V], l2 Cache[V]) *Tiered[V] {
	return &Tiered[V]{l1: l1, l2: l2}
}

// GetOrCompute implements Cache
func (t *Tiered[V]) GetOrCompute(ctx context.Context, key string, compute ComputeFunc[V]) (V, error) {
	return t.l1.GetOrCompute(ctx, key, func(ctx context.Context) (V, error) {
		return t.l2.GetOrCompute(ctx, key, compute)
	})
}

// Sweep removes expired entries from the memory layer
func (t *Tiered[V]) Sweep() int {
	return t.l1.Sweep()
}
