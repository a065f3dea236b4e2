// Package work fans independent computations out across a bounded worker pool.
//
// # Dispatch
//
// Dispatch runs a batch of Tasks and returns results in input order. Small batches
// (at or below the parallel threshold) run inline on the caller's goroutine; larger ones
// run on goroutines bounded by a weighted semaphore shared across all requests.
//
// # Failure policy
//
// A failing task never short-circuits the batch: the coordinator waits for every started
// task and then returns one *domain.AggregateTaskError naming each failed task and its
// error kind. Results are all-or-nothing.
//
// # Cancellation
//
// Tasks receive the caller's context. Cancelling it aborts the wait immediately; a
// deadline surfaces as *domain.ComputationTimeoutError.
package work
