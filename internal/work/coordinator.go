package work

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"golang.org/x/sync/semaphore"

	"github.com/aristath/riskengine/internal/domain"
)

// DefaultParallelThreshold is the batch size at and below which tasks run inline
const DefaultParallelThreshold = 4

// Task is one independent unit of computation. Fn must be a pure function of its inputs.
type Task[T any] struct {
	// ID identifies the task in aggregate errors (e.g. "frontier:12", "var:AAPL")
	ID string
	Fn func(ctx context.Context) (T, error)
}

// Observer receives per-dispatch statistics (e.g. for metrics)
type Observer interface {
	DispatchCompleted(tasks int, parallel bool, failed int, elapsed time.Duration)
}

// Coordinator bounds the fan-out of independent computations
type Coordinator struct {
	sem       *semaphore.Weighted
	maxFlight int
	threshold int
	observer  Observer
	log       zerolog.Logger
}

// Config configures a Coordinator
type Config struct {
	// MaxInFlight bounds concurrently running tasks; <= 0 uses the logical core count
	MaxInFlight int
	// ParallelThreshold is the batch size at and below which tasks run inline; <= 0 uses the default
	ParallelThreshold int
	Observer          Observer
}

// NewCoordinator creates a coordinator. The semaphore is shared by every dispatch so
// concurrent requests together never exceed MaxInFlight running tasks.
func NewCoordinator(cfg Config, log zerolog.Logger) *Coordinator {
	maxFlight := cfg.MaxInFlight
	if maxFlight <= 0 {
		maxFlight = LogicalCores()
	}
	threshold := cfg.ParallelThreshold
	if threshold <= 0 {
		threshold = DefaultParallelThreshold
	}
	return &Coordinator{
		sem:       semaphore.NewWeighted(int64(maxFlight)),
		maxFlight: maxFlight,
		threshold: threshold,
		observer:  cfg.Observer,
		log:       log.With().Str("component", "coordinator").Logger(),
	}
}

// MaxInFlight returns the concurrency bound
func (c *Coordinator) MaxInFlight() int {
	return c.maxFlight
}

// LogicalCores returns the number of logical CPUs, falling back to runtime.NumCPU
func LogicalCores() int {
	if n, err := cpu.Counts(true); err == nil && n > 0 {
		return n
	}
	return runtime.NumCPU()
}

type outcome[T any] struct {
	value T
	err   error
}

// Dispatch runs tasks and returns their results in input order.
//
// If any task fails, Dispatch waits for every started task to finish and returns an
// *domain.AggregateTaskError listing every failure; no partial results are returned.
// Cancelling ctx aborts the wait immediately; a deadline maps to ComputationTimeoutError.
func Dispatch[T any](ctx context.Context, c *Coordinator, tasks []Task[T]) ([]T, error) {
	if len(tasks) == 0 {
		return []T{}, nil
	}

	start := time.Now()
	parallel := len(tasks) > c.threshold

	var (
		outcomes []outcome[T]
		err      error
	)
	if parallel {
		outcomes, err = runParallel(ctx, c, tasks)
	} else {
		outcomes, err = runInline(ctx, tasks)
	}
	if err != nil {
		return nil, contextError(err, "dispatch")
	}

	results := make([]T, len(tasks))
	var failures []domain.TaskFailure
	for i, o := range outcomes {
		if o.err != nil {
			failures = append(failures, domain.TaskFailure{
				TaskID: tasks[i].ID,
				Kind:   domain.KindOf(o.err),
				Err:    o.err,
			})
			continue
		}
		results[i] = o.value
	}

	if c.observer != nil {
		c.observer.DispatchCompleted(len(tasks), parallel, len(failures), time.Since(start))
	}

	if len(failures) > 0 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, contextError(ctxErr, "dispatch")
		}
		c.log.Warn().
			Int("tasks", len(tasks)).
			Int("failed", len(failures)).
			Str("first_failure", failures[0].TaskID).
			Msg("Dispatch failed")
		return nil, &domain.AggregateTaskError{Failures: failures}
	}
	return results, nil
}

func runInline[T any](ctx context.Context, tasks []Task[T]) ([]outcome[T], error) {
	outcomes := make([]outcome[T], len(tasks))
	for i, task := range tasks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		outcomes[i] = runRecovered(ctx, task)
	}
	return outcomes, nil
}

// runRecovered turns a panicking task into a failed outcome
func runRecovered[T any](ctx context.Context, task Task[T]) (out outcome[T]) {
	defer func() {
		if r := recover(); r != nil {
			out.err = fmt.Errorf("task %s panicked: %v", task.ID, r)
		}
	}()
	out.value, out.err = task.Fn(ctx)
	return out
}

func runParallel[T any](ctx context.Context, c *Coordinator, tasks []Task[T]) ([]outcome[T], error) {
	outcomes := make([]outcome[T], len(tasks))
	var wg sync.WaitGroup

	done := make(chan struct{})
	var acquireErr error

	go func() {
		defer close(done)
		for i, task := range tasks {
			if err := c.sem.Acquire(ctx, 1); err != nil {
				acquireErr = err
				break
			}
			wg.Add(1)
			go func(i int, task Task[T]) {
				defer wg.Done()
				defer c.sem.Release(1)
				outcomes[i] = runRecovered(ctx, task)
			}(i, task)
		}
		wg.Wait()
	}()

	select {
	case <-ctx.Done():
		// Started tasks observe ctx and release their semaphore slots on their own
		return nil, ctx.Err()
	case <-done:
		if acquireErr != nil {
			return nil, acquireErr
		}
		return outcomes, nil
	}
}

func contextError(err error, operation string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &domain.ComputationTimeoutError{Operation: operation, Cause: err}
	}
	return err
}
