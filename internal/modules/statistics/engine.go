// Package statistics turns price histories into the returns and covariance substrate
// consumed by the risk, stress and optimization modules.
package statistics

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/pkg/formulas"
)

const (
	// DefaultMinObservations is the minimum number of price points per asset
	DefaultMinObservations = 30
	// HighCorrelationThreshold is the absolute correlation reported as "high"
	HighCorrelationThreshold = 0.80
)

// Engine computes returns, covariance and correlation. It holds no mutable state
// and is safe for concurrent use.
type Engine struct {
	minObservations int
	log             zerolog.Logger
}

// NewEngine creates a statistics engine. minObservations <= 0 selects the default.
func NewEngine(minObservations int, log zerolog.Logger) *Engine {
	if minObservations <= 0 {
		minObservations = DefaultMinObservations
	}
	return &Engine{
		minObservations: minObservations,
		log:             log.With().Str("component", "statistics").Logger(),
	}
}

// MinObservations returns the configured minimum number of price points
func (e *Engine) MinObservations() int {
	return e.minObservations
}

// ComputeReturns converts a price series into simple or log returns
func (e *Engine) ComputeReturns(series domain.PriceSeries, method domain.ReturnMethod) (domain.ReturnSeries, error) {
	if err := method.Validate(); err != nil {
		return domain.ReturnSeries{}, err
	}
	if err := series.Validate(); err != nil {
		return domain.ReturnSeries{}, err
	}
	if series.Len() < e.minObservations {
		return domain.ReturnSeries{}, &domain.InsufficientDataError{
			Symbol:       series.Symbol,
			Observations: series.Len(),
			Required:     e.minObservations,
		}
	}

	prices := make([]float64, series.Len())
	for i, p := range series.Points {
		prices[i] = p.Price
	}

	var values []float64
	switch method {
	case domain.ReturnLog:
		values = formulas.LogReturns(prices)
	default:
		values = formulas.SimpleReturns(prices)
	}

	times := make([]time.Time, 0, len(values))
	for _, p := range series.Points[1:] {
		times = append(times, p.Time)
	}

	return domain.ReturnSeries{
		Symbol: series.Symbol,
		Method: method,
		Times:  times,
		Values: values,
	}, nil
}

// Align inner-joins price series on their timestamps. Only timestamps present in every
// series survive; nothing is interpolated or extrapolated. Every series must carry at
// least MinObservations points both before and after the join.
func (e *Engine) Align(series []domain.PriceSeries) ([]domain.PriceSeries, error) {
	if len(series) == 0 {
		return nil, &domain.InvalidParameterError{Field: "assets", Message: "no price series supplied"}
	}

	counts := make(map[int64]int)
	for _, s := range series {
		if err := s.Validate(); err != nil {
			return nil, err
		}
		if s.Len() < e.minObservations {
			return nil, &domain.InsufficientDataError{Symbol: s.Symbol, Observations: s.Len(), Required: e.minObservations}
		}
		for _, p := range s.Points {
			counts[p.Time.UnixNano()]++
		}
	}

	aligned := make([]domain.PriceSeries, len(series))
	for i, s := range series {
		points := make([]domain.PricePoint, 0, s.Len())
		for _, p := range s.Points {
			if counts[p.Time.UnixNano()] == len(series) {
				points = append(points, p)
			}
		}
		aligned[i] = domain.PriceSeries{Symbol: s.Symbol, Points: points}
	}

	if n := aligned[0].Len(); n < e.minObservations {
		e.log.Debug().
			Int("common_points", n).
			Int("required", e.minObservations).
			Msg("Aligned history too short")
		return nil, &domain.InsufficientDataError{Observations: n, Required: e.minObservations}
	}
	if dropped := series[0].Len() - aligned[0].Len(); dropped > 0 {
		e.log.Debug().Int("dropped", dropped).Int("assets", len(series)).Msg("Dropped non-overlapping timestamps")
	}
	return aligned, nil
}

// ComputeCovariance builds the sample (N-1) covariance matrix of equally long return series.
// Row/column i corresponds to returns[i].
func (e *Engine) ComputeCovariance(returns []domain.ReturnSeries) (domain.CovarianceMatrix, error) {
	n, err := checkReturns(returns)
	if err != nil {
		return domain.CovarianceMatrix{}, err
	}

	x := mat.NewDense(n, len(returns), nil)
	for j, r := range returns {
		for i, v := range r.Values {
			x.Set(i, j, v)
		}
	}

	var sym mat.SymDense
	stat.CovarianceMatrix(&sym, x, nil)

	symbols := make([]string, len(returns))
	values := make([][]float64, len(returns))
	for i := range returns {
		symbols[i] = returns[i].Symbol
		values[i] = make([]float64, len(returns))
		for j := range returns {
			values[i][j] = sym.At(i, j)
		}
	}

	return domain.CovarianceMatrix{Symbols: symbols, Values: values}, nil
}

// ComputeCorrelation builds the correlation matrix of equally long return series
func (e *Engine) ComputeCorrelation(returns []domain.ReturnSeries) (domain.CorrelationMatrix, error) {
	cov, err := e.ComputeCovariance(returns)
	if err != nil {
		return domain.CorrelationMatrix{}, err
	}
	return CorrelationFromCovariance(cov), nil
}

// CorrelationFromCovariance normalizes a covariance matrix by the product of standard
// deviations and clamps to [-1, 1]. Zero-variance assets get zero off-diagonal entries.
func CorrelationFromCovariance(cov domain.CovarianceMatrix) domain.CorrelationMatrix {
	size := cov.Size()
	out := domain.CorrelationMatrix{
		Symbols: append([]string(nil), cov.Symbols...),
		Values:  make([][]float64, size),
	}
	for i := 0; i < size; i++ {
		out.Values[i] = make([]float64, size)
		for j := 0; j < size; j++ {
			if i == j {
				out.Values[i][j] = 1
				continue
			}
			vi, vj := cov.Values[i][i], cov.Values[j][j]
			if vi <= 0 || vj <= 0 {
				continue
			}
			out.Values[i][j] = formulas.Clamp(cov.Values[i][j]/math.Sqrt(vi*vj), -1, 1)
		}
	}
	return out
}

// HighCorrelations lists asset pairs whose absolute correlation is at least threshold
func (e *Engine) HighCorrelations(cor domain.CorrelationMatrix, threshold float64) []domain.CorrelationPair {
	pairs := make([]domain.CorrelationPair, 0)
	for i := 0; i < len(cor.Symbols); i++ {
		for j := i + 1; j < len(cor.Symbols); j++ {
			c := cor.Values[i][j]
			if math.Abs(c) >= threshold {
				pairs = append(pairs, domain.CorrelationPair{
					Symbol1:     cor.Symbols[i],
					Symbol2:     cor.Symbols[j],
					Correlation: c,
				})
				e.log.Debug().
					Str("symbol1", cor.Symbols[i]).
					Str("symbol2", cor.Symbols[j]).
					Float64("correlation", c).
					Msg("High correlation detected")
			}
		}
	}

	sort.SliceStable(pairs, func(a, b int) bool {
		return math.Abs(pairs[a].Correlation) > math.Abs(pairs[b].Correlation)
	})
	return pairs
}

// Means returns the arithmetic mean return per series
func Means(returns []domain.ReturnSeries) []float64 {
	out := make([]float64, len(returns))
	for i, r := range returns {
		out[i] = formulas.Mean(r.Values)
	}
	return out
}

// PortfolioReturns computes the weighted sum of asset returns per period.
// weights are fractions in the same order as returns.
func PortfolioReturns(returns []domain.ReturnSeries, weights []float64) ([]float64, error) {
	n, err := checkReturns(returns)
	if err != nil {
		return nil, err
	}
	if len(weights) != len(returns) {
		return nil, &domain.InvalidParameterError{
			Field:   "weights",
			Message: fmt.Sprintf("got %d weights for %d return series", len(weights), len(returns)),
		}
	}

	out := make([]float64, n)
	for j, r := range returns {
		w := weights[j]
		if w == 0 {
			continue
		}
		for t, v := range r.Values {
			out[t] += w * v
		}
	}
	return out, nil
}

func checkReturns(returns []domain.ReturnSeries) (int, error) {
	if len(returns) == 0 {
		return 0, &domain.InvalidParameterError{Field: "returns", Message: "no return series supplied"}
	}
	n := returns[0].Len()
	for _, r := range returns {
		if r.Len() != n {
			return 0, &domain.InvalidParameterError{
				Field:   "returns",
				Message: fmt.Sprintf("return series %s has %d observations, expected %d (align prices first)", r.Symbol, r.Len(), n),
			}
		}
	}
	if n < 2 {
		return 0, &domain.InsufficientDataError{Symbol: returns[0].Symbol, Observations: n, Required: 2}
	}
	return n, nil
}
