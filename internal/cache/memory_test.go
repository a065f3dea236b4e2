package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingRecorder struct {
	hits, misses atomic.Int64
}

func (r *countingRecorder) CacheHit(string)  { r.hits.Add(1) }
func (r *countingRecorder) CacheMiss(string) { r.misses.Add(1) }

func constant(v int, calls *atomic.Int64) ComputeFunc[int] {
	return func(ctx context.Context) (int, error) {
		calls.Add(1)
		return v, nil
	}
}

func TestMemoryCache_HitAfterCompute(t *testing.T) {
	rec := &countingRecorder{}
	c := NewMemoryCache[int](time.Minute, 10, zerolog.Nop(), WithRecorder(rec))
	var calls atomic.Int64

	v, err := c.GetOrCompute(context.Background(), "k", constant(42, &calls))
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	v, err = c.GetOrCompute(context.Background(), "k", constant(7, &calls))
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, int64(1), rec.hits.Load())
	assert.Equal(t, int64(1), rec.misses.Load())
}

func TestMemoryCache_TTLExpiry(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache[int](5*time.Minute, 10, zerolog.Nop(), WithClock(clock.Now))
	var calls atomic.Int64

	_, err := c.GetOrCompute(context.Background(), "k", constant(1, &calls))
	require.NoError(t, err)

	clock.Advance(4 * time.Minute)
	v, _ := c.GetOrCompute(context.Background(), "k", constant(2, &calls))
	assert.Equal(t, 1, v)

	clock.Advance(time.Minute)
	v, _ = c.GetOrCompute(context.Background(), "k", constant(2, &calls))
	assert.Equal(t, 2, v)
	assert.Equal(t, int64(2), calls.Load())
}

func TestMemoryCache_ErrorsAreNotCached(t *testing.T) {
	c := NewMemoryCache[int](time.Minute, 10, zerolog.Nop())
	boom := errors.New("boom")

	_, err := c.GetOrCompute(context.Background(), "k", func(ctx context.Context) (int, error) {
		return 0, boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, c.Len())

	var calls atomic.Int64
	v, err := c.GetOrCompute(context.Background(), "k", constant(3, &calls))
	require.NoError(t, err)
	assert.Equal(t, 3, v)
	assert.Equal(t, int64(1), calls.Load())
}

func TestMemoryCache_SingleComputationInFlight(t *testing.T) {
	c := NewMemoryCache[int](time.Minute, 10, zerolog.Nop())
	var calls atomic.Int64
	release := make(chan struct{})

	compute := func(ctx context.Context) (int, error) {
		calls.Add(1)
		<-release
		return 99, nil
	}

	const callers = 20
	var wg sync.WaitGroup
	results := make([]int, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.GetOrCompute(context.Background(), "shared", compute)
			assert.NoError(t, err)
			results[i] = v
		}(i)
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, 99, v)
	}
}

func TestMemoryCache_CancelledWaiterDoesNotPoisonEntry(t *testing.T) {
	c := NewMemoryCache[int](time.Minute, 10, zerolog.Nop())
	release := make(chan struct{})
	started := make(chan struct{})

	compute := func(ctx context.Context) (int, error) {
		close(started)
		<-release
		return 5, ctx.Err()
	}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.GetOrCompute(ctx, "k", compute)
		errCh <- err
	}()

	<-started
	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	close(release)
	require.Eventually(t, func() bool {
		_, ok := c.Get("k")
		return ok
	}, time.Second, 5*time.Millisecond)

	v, ok := c.Get("k")
	assert.True(t, ok)
	assert.Equal(t, 5, v)
}

func TestMemoryCache_BoundedSize(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache[int](time.Minute, 3, zerolog.Nop(), WithClock(clock.Now))

	for i, k := range []string{"a", "b", "c", "d"} {
		c.Set(k, i)
		clock.Advance(time.Second)
	}

	assert.Equal(t, 3, c.Len())
	_, ok := c.Get("a")
	assert.False(t, ok, "soonest-expiring entry is evicted first")
	_, ok = c.Get("d")
	assert.True(t, ok)
}

func TestMemoryCache_Sweep(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	c := NewMemoryCache[int](time.Minute, 10, zerolog.Nop(), WithClock(clock.Now))

	c.Set("old", 1)
	clock.Advance(30 * time.Second)
	c.Set("new", 2)
	clock.Advance(45 * time.Second)

	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 1, c.Len())
	_, ok := c.Get("new")
	assert.True(t, ok)
}

func TestNopCache_AlwaysComputes(t *testing.T) {
	var c Cache[int] = NopCache[int]{}
	var calls atomic.Int64

	for i := 0; i < 3; i++ {
		v, err := c.GetOrCompute(context.Background(), "k", constant(1, &calls))
		require.NoError(t, err)
		assert.Equal(t, 1, v)
	}
	assert.Equal(t, int64(3), calls.Load())
}

func TestSubstrateKey(t *testing.T) {
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	a := SubstrateKey([]string{"AAPL", "BONDS"}, start, end, "simple")
	b := SubstrateKey([]string{"BONDS", "AAPL"}, start, end, "simple")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)

	assert.NotEqual(t, a, SubstrateKey([]string{"AAPL", "BONDS"}, start, end, "log"))
	assert.NotEqual(t, a, SubstrateKey([]string{"AAPL", "BONDS"}, start.AddDate(0, 0, 1), end, "simple"))
	assert.NotEqual(t, a, SubstrateKey([]string{"AAPL"}, start, end, "simple"))
}
