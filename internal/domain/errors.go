package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorKind is the machine-readable classification of an engine error
type ErrorKind string

const (
	KindInsufficientData ErrorKind = "insufficient_data"
	KindInvalidParameter ErrorKind = "invalid_parameter"
	KindInfeasible       ErrorKind = "infeasible_optimization"
	KindTimeout          ErrorKind = "computation_timeout"
	KindAggregate        ErrorKind = "aggregate_task"
	KindNotFound         ErrorKind = "not_found"
	KindCanceled         ErrorKind = "canceled"
	KindInternal         ErrorKind = "internal"
)

// ErrNotFound is returned by collaborators when a portfolio or price history does not exist
var ErrNotFound = errors.New("not found")

// KindedError is implemented by every typed engine error
type KindedError interface {
	error
	Kind() ErrorKind
}

// InsufficientDataError means an asset has fewer observations than required
type InsufficientDataError struct {
	Symbol       string
	Observations int
	Required     int
}

func (e *InsufficientDataError) Error() string {
	if e.Symbol == "" {
		return fmt.Sprintf("insufficient data: %d observations, need at least %d", e.Observations, e.Required)
	}
	return fmt.Sprintf("insufficient data for %s: %d observations, need at least %d", e.Symbol, e.Observations, e.Required)
}

// Kind implements KindedError
func (e *InsufficientDataError) Kind() ErrorKind { return KindInsufficientData }

// InvalidParameterError means a request parameter is malformed
type InvalidParameterError struct {
	Field   string
	Message string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Message)
}

// Kind implements KindedError
func (e *InvalidParameterError) Kind() ErrorKind { return KindInvalidParameter }

// InfeasibleOptimizationError means the constraints admit no solution
type InfeasibleOptimizationError struct {
	Constraint string
	Detail     string
}

func (e *InfeasibleOptimizationError) Error() string {
	return fmt.Sprintf("infeasible optimization: constraint %s violated: %s", e.Constraint, e.Detail)
}

// Kind implements KindedError
func (e *InfeasibleOptimizationError) Kind() ErrorKind { return KindInfeasible }

// ComputationTimeoutError means an iteration or time budget was exhausted
type ComputationTimeoutError struct {
	Operation  string
	Budget     time.Duration
	Iterations int
	Cause      error
}

func (e *ComputationTimeoutError) Error() string {
	switch {
	case e.Iterations > 0:
		return fmt.Sprintf("computation timeout: %s exceeded %d iterations", e.Operation, e.Iterations)
	case e.Budget > 0:
		return fmt.Sprintf("computation timeout: %s exceeded %s", e.Operation, e.Budget)
	default:
		return fmt.Sprintf("computation timeout: %s exceeded its budget", e.Operation)
	}
}

// Kind implements KindedError
func (e *ComputationTimeoutError) Kind() ErrorKind { return KindTimeout }

// Unwrap exposes the underlying context error, if any
func (e *ComputationTimeoutError) Unwrap() error { return e.Cause }

// TaskFailure describes one failed unit of a parallel dispatch
type TaskFailure struct {
	TaskID string    `json:"taskId"`
	Kind   ErrorKind `json:"kind"`
	Err    error     `json:"-"`
}

// AggregateTaskError enumerates every failed task of a dispatch
type AggregateTaskError struct {
	Failures []TaskFailure
}

func (e *AggregateTaskError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("%s (%s): %v", f.TaskID, f.Kind, f.Err))
	}
	return fmt.Sprintf("%d task(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Kind implements KindedError
func (e *AggregateTaskError) Kind() ErrorKind { return KindAggregate }

// Unwrap returns the individual task errors so errors.Is/As can inspect them
func (e *AggregateTaskError) Unwrap() []error {
	out := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		out = append(out, f.Err)
	}
	return out
}

// KindOf classifies any error returned by the engine
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	// AggregateTaskError unwraps into its children, so it must be checked first.
	var agg *AggregateTaskError
	if errors.As(err, &agg) {
		return KindAggregate
	}
	var kinded KindedError
	if errors.As(err, &kinded) {
		return kinded.Kind()
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}
	return KindInternal
}
