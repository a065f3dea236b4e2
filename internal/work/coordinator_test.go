package work

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskengine/internal/domain"
)

func squareTasks(n int, delay func(i int) time.Duration) []Task[int] {
	tasks := make([]Task[int], n)
	for i := 0; i < n; i++ {
		i := i
		tasks[i] = Task[int]{
			ID: fmt.Sprintf("task:%d", i),
			Fn: func(ctx context.Context) (int, error) {
				if delay != nil {
					time.Sleep(delay(i))
				}
				return i * i, nil
			},
		}
	}
	return tasks
}

type recordingObserver struct {
	parallel atomic.Bool
	calls    atomic.Int64
}

func (o *recordingObserver) DispatchCompleted(tasks int, parallel bool, failed int, elapsed time.Duration) {
	o.parallel.Store(parallel)
	o.calls.Add(1)
}

func TestNewCoordinator_Defaults(t *testing.T) {
	c := NewCoordinator(Config{}, zerolog.Nop())
	assert.Equal(t, LogicalCores(), c.MaxInFlight())
	assert.Equal(t, DefaultParallelThreshold, c.threshold)
	assert.Greater(t, LogicalCores(), 0)
}

func TestDispatch_Empty(t *testing.T) {
	c := NewCoordinator(Config{MaxInFlight: 2}, zerolog.Nop())
	results, err := Dispatch[int](context.Background(), c, nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestDispatch_InlineBelowThreshold(t *testing.T) {
	obs := &recordingObserver{}
	c := NewCoordinator(Config{MaxInFlight: 2, ParallelThreshold: 4, Observer: obs}, zerolog.Nop())

	results, err := Dispatch(context.Background(), c, squareTasks(4, nil))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 4, 9}, results)
	assert.False(t, obs.parallel.Load())
	assert.Equal(t, int64(1), obs.calls.Load())
}

func TestDispatch_PreservesInputOrder(t *testing.T) {
	obs := &recordingObserver{}
	c := NewCoordinator(Config{MaxInFlight: 4, ParallelThreshold: 2, Observer: obs}, zerolog.Nop())

	// Later tasks finish first
	results, err := Dispatch(context.Background(), c, squareTasks(12, func(i int) time.Duration {
		return time.Duration(12-i) * time.Millisecond
	}))
	require.NoError(t, err)
	require.Len(t, results, 12)
	for i, v := range results {
		assert.Equal(t, i*i, v)
	}
	assert.True(t, obs.parallel.Load())
}

func TestDispatch_BoundsInFlight(t *testing.T) {
	c := NewCoordinator(Config{MaxInFlight: 3, ParallelThreshold: 1}, zerolog.Nop())
	var running, peak atomic.Int64

	tasks := make([]Task[struct{}], 20)
	for i := range tasks {
		tasks[i] = Task[struct{}]{
			ID: fmt.Sprintf("t%d", i),
			Fn: func(ctx context.Context) (struct{}, error) {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return struct{}{}, nil
			},
		}
	}

	_, err := Dispatch(context.Background(), c, tasks)
	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int64(3))
	assert.Greater(t, peak.Load(), int64(0))
}

func TestDispatch_AggregatesEveryFailure(t *testing.T) {
	c := NewCoordinator(Config{MaxInFlight: 4, ParallelThreshold: 2}, zerolog.Nop())
	var completed atomic.Int64

	tasks := make([]Task[int], 8)
	for i := range tasks {
		i := i
		tasks[i] = Task[int]{
			ID: fmt.Sprintf("frontier:%d", i),
			Fn: func(ctx context.Context) (int, error) {
				defer completed.Add(1)
				switch i {
				case 2:
					return 0, &domain.InfeasibleOptimizationError{Constraint: "target_return", Detail: "too high"}
				case 5:
					time.Sleep(20 * time.Millisecond)
					return 0, &domain.InsufficientDataError{Symbol: "X", Observations: 3, Required: 30}
				}
				return i, nil
			},
		}
	}

	results, err := Dispatch(context.Background(), c, tasks)
	assert.Nil(t, results)

	var agg *domain.AggregateTaskError
	require.ErrorAs(t, err, &agg)
	require.Len(t, agg.Failures, 2)
	assert.Equal(t, "frontier:2", agg.Failures[0].TaskID)
	assert.Equal(t, domain.KindInfeasible, agg.Failures[0].Kind)
	assert.Equal(t, "frontier:5", agg.Failures[1].TaskID)
	assert.Equal(t, domain.KindInsufficientData, agg.Failures[1].Kind)
	assert.Equal(t, domain.KindAggregate, domain.KindOf(err))

	// every task ran to completion before the aggregate error was raised
	assert.Equal(t, int64(8), completed.Load())

	var infeasible *domain.InfeasibleOptimizationError
	assert.ErrorAs(t, err, &infeasible)
}

func TestDispatch_InlineFailureIsAggregated(t *testing.T) {
	c := NewCoordinator(Config{MaxInFlight: 2, ParallelThreshold: 10}, zerolog.Nop())
	boom := errors.New("boom")

	_, err := Dispatch(context.Background(), c, []Task[int]{
		{ID: "a", Fn: func(ctx context.Context) (int, error) { return 1, nil }},
		{ID: "b", Fn: func(ctx context.Context) (int, error) { return 0, boom }},
	})

	var agg *domain.AggregateTaskError
	require.ErrorAs(t, err, &agg)
	require.Len(t, agg.Failures, 1)
	assert.Equal(t, "b", agg.Failures[0].TaskID)
	assert.Equal(t, domain.KindInternal, agg.Failures[0].Kind)
	assert.ErrorIs(t, err, boom)
}

func TestDispatch_PanicBecomesFailure(t *testing.T) {
	c := NewCoordinator(Config{MaxInFlight: 2, ParallelThreshold: 1}, zerolog.Nop())

	_, err := Dispatch(context.Background(), c, []Task[int]{
		{ID: "ok", Fn: func(ctx context.Context) (int, error) { return 1, nil }},
		{ID: "bad", Fn: func(ctx context.Context) (int, error) { panic("nil map") }},
	})

	var agg *domain.AggregateTaskError
	require.ErrorAs(t, err, &agg)
	assert.Equal(t, "bad", agg.Failures[0].TaskID)
}

func TestDispatch_InlinePanicBecomesFailure(t *testing.T) {
	c := NewCoordinator(Config{MaxInFlight: 2, ParallelThreshold: 4}, zerolog.Nop())

	_, err := Dispatch(context.Background(), c, []Task[int]{
		{ID: "ok", Fn: func(ctx context.Context) (int, error) { return 1, nil }},
		{ID: "bad", Fn: func(ctx context.Context) (int, error) { panic("boom") }},
	})

	var agg *domain.AggregateTaskError
	require.ErrorAs(t, err, &agg)
	require.Len(t, agg.Failures, 1)
	assert.Equal(t, "bad", agg.Failures[0].TaskID)
	assert.Contains(t, agg.Failures[0].Err.Error(), "boom")
}

func TestDispatch_CancellationAbortsWait(t *testing.T) {
	c := NewCoordinator(Config{MaxInFlight: 2, ParallelThreshold: 1}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())

	tasks := make([]Task[int], 6)
	for i := range tasks {
		tasks[i] = Task[int]{
			ID: fmt.Sprintf("slow:%d", i),
			Fn: func(ctx context.Context) (int, error) {
				select {
				case <-ctx.Done():
					return 0, ctx.Err()
				case <-time.After(5 * time.Second):
					return 1, nil
				}
			},
		}
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Dispatch(ctx, c, tasks)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestDispatch_DeadlineMapsToTimeout(t *testing.T) {
	c := NewCoordinator(Config{MaxInFlight: 1, ParallelThreshold: 1}, zerolog.Nop())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	tasks := make([]Task[int], 3)
	for i := range tasks {
		tasks[i] = Task[int]{
			ID: fmt.Sprintf("slow:%d", i),
			Fn: func(ctx context.Context) (int, error) {
				<-ctx.Done()
				return 0, ctx.Err()
			},
		}
	}

	_, err := Dispatch(ctx, c, tasks)
	var timeout *domain.ComputationTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, domain.KindTimeout, domain.KindOf(err))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
