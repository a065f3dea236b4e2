// Package domain provides the core value types shared by the risk and optimization engine.
package domain

import (
	"fmt"
	"math"
	"time"
)

// ReturnMethod selects how price changes are turned into returns
type ReturnMethod string

const (
	// ReturnSimple is (p[t] - p[t-1]) / p[t-1]
	ReturnSimple ReturnMethod = "simple"
	// ReturnLog is ln(p[t] / p[t-1])
	ReturnLog ReturnMethod = "log"
)

// Validate checks the method is one of the supported values
func (m ReturnMethod) Validate() error {
	switch m {
	case ReturnSimple, ReturnLog:
		return nil
	default:
		return &InvalidParameterError{Field: "return_method", Message: fmt.Sprintf("unsupported return method %q", string(m))}
	}
}

// PricePoint is a single observation of an asset price
type PricePoint struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}

// PriceSeries is an ordered price history for one symbol.
// Timestamps are strictly increasing.
type PriceSeries struct {
	Symbol string       `json:"symbol"`
	Points []PricePoint `json:"points"`
}

// Len returns the number of observations
func (s PriceSeries) Len() int {
	return len(s.Points)
}

// Validate checks ordering and price sanity
func (s PriceSeries) Validate() error {
	for i, p := range s.Points {
		if math.IsNaN(p.Price) || math.IsInf(p.Price, 0) || p.Price <= 0 {
			return &InvalidParameterError{
				Field:   "prices",
				Message: fmt.Sprintf("%s: price at %s must be positive and finite", s.Symbol, p.Time.Format(time.RFC3339)),
			}
		}
		if i > 0 && !p.Time.After(s.Points[i-1].Time) {
			return &InvalidParameterError{
				Field:   "prices",
				Message: fmt.Sprintf("%s: timestamps must be strictly increasing at index %d", s.Symbol, i),
			}
		}
	}
	return nil
}

// ReturnSeries holds per-period returns derived from a PriceSeries.
// Times[i] is the end of period i; len(Values) == len(prices) - 1.
type ReturnSeries struct {
	Symbol string       `json:"symbol"`
	Method ReturnMethod `json:"method"`
	Times  []time.Time  `json:"times"`
	Values []float64    `json:"values"`
}

// Len returns the number of return observations
func (r ReturnSeries) Len() int {
	return len(r.Values)
}

// Window is a closed date range of price history
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Validate checks the window is well formed
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return &InvalidParameterError{Field: "window", Message: "start and end are required"}
	}
	if !w.End.After(w.Start) {
		return &InvalidParameterError{Field: "window", Message: "end must be after start"}
	}
	return nil
}

// CovarianceMatrix is a square symmetric PSD matrix over a request's asset universe.
// Row/column i corresponds to Symbols[i].
type CovarianceMatrix struct {
	Symbols []string    `json:"symbols" msgpack:"symbols"`
	Values  [][]float64 `json:"values" msgpack:"values"`
}

// Size returns the dimension of the matrix
func (c CovarianceMatrix) Size() int {
	return len(c.Symbols)
}

// Index returns the row of a symbol
func (c CovarianceMatrix) Index(symbol string) (int, bool) {
	for i, s := range c.Symbols {
		if s == symbol {
			return i, true
		}
	}
	return -1, false
}

// Variance returns the diagonal entry for row i
func (c CovarianceMatrix) Variance(i int) float64 {
	return c.Values[i][i]
}

// Clone returns a deep copy
func (c CovarianceMatrix) Clone() CovarianceMatrix {
	out := CovarianceMatrix{
		Symbols: append([]string(nil), c.Symbols...),
		Values:  make([][]float64, len(c.Values)),
	}
	for i, row := range c.Values {
		out.Values[i] = append([]float64(nil), row...)
	}
	return out
}

// PortfolioVariance computes wᵗΣw for fractional weights in matrix order
func (c CovarianceMatrix) PortfolioVariance(weights []float64) float64 {
	var v float64
	for i := range weights {
		for j := range weights {
			v += weights[i] * weights[j] * c.Values[i][j]
		}
	}
	return v
}

// CorrelationMatrix has the same layout as CovarianceMatrix with entries in [-1, 1]
type CorrelationMatrix struct {
	Symbols []string    `json:"symbols"`
	Values  [][]float64 `json:"values"`
}

// CorrelationPair is a pair of assets whose correlation crossed a diagnostic threshold
type CorrelationPair struct {
	Symbol1     string  `json:"symbol1"`
	Symbol2     string  `json:"symbol2"`
	Correlation float64 `json:"correlation"`
}

// WarningKind classifies a numerical degradation attached to a result
type WarningKind string

const (
	// WarningCovarianceClipped means negative eigenvalues were clipped before Cholesky
	WarningCovarianceClipped WarningKind = "covariance_clipped"
	// WarningWeightsRenormalized means post-solve renormalization moved a weight by more than 1e-4
	WarningWeightsRenormalized WarningKind = "weights_renormalized"
)

// Warning is a quality flag: the result is usable but less precise than requested
type Warning struct {
	Kind   WarningKind `json:"kind"`
	Detail string      `json:"detail"`
}
