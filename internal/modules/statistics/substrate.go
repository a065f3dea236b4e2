package statistics

import (
	"fmt"

	"github.com/aristath/riskengine/internal/domain"
)

// Substrate is the aligned returns and covariance shared by every analytical component
// of a request. Index i of every slice refers to Symbols[i].
type Substrate struct {
	Symbols      []string                `msgpack:"symbols"`
	Method       domain.ReturnMethod     `msgpack:"method"`
	Returns      []domain.ReturnSeries   `msgpack:"returns"`
	Covariance   domain.CovarianceMatrix `msgpack:"covariance"`
	Means        []float64               `msgpack:"means"`
	Observations int                     `msgpack:"observations"`
}

// Build aligns the price series, derives returns and computes the covariance matrix
func (e *Engine) Build(series []domain.PriceSeries, method domain.ReturnMethod) (Substrate, error) {
	if err := method.Validate(); err != nil {
		return Substrate{}, err
	}

	aligned, err := e.Align(series)
	if err != nil {
		return Substrate{}, err
	}

	returns := make([]domain.ReturnSeries, len(aligned))
	symbols := make([]string, len(aligned))
	for i, s := range aligned {
		r, err := e.ComputeReturns(s, method)
		if err != nil {
			return Substrate{}, fmt.Errorf("failed to compute returns for %s: %w", s.Symbol, err)
		}
		returns[i] = r
		symbols[i] = s.Symbol
	}

	cov, err := e.ComputeCovariance(returns)
	if err != nil {
		return Substrate{}, fmt.Errorf("failed to compute covariance: %w", err)
	}

	e.log.Debug().
		Int("assets", len(symbols)).
		Int("observations", returns[0].Len()).
		Str("method", string(method)).
		Msg("Built statistics substrate")

	return Substrate{
		Symbols:      symbols,
		Method:       method,
		Returns:      returns,
		Covariance:   cov,
		Means:        Means(returns),
		Observations: returns[0].Len(),
	}, nil
}

// Select returns the substrate restricted and reordered to symbols.
// The receiver is not modified.
func (s Substrate) Select(symbols []string) (Substrate, error) {
	index := make(map[string]int, len(s.Symbols))
	for i, sym := range s.Symbols {
		index[sym] = i
	}

	order := make([]int, len(symbols))
	for i, sym := range symbols {
		j, ok := index[sym]
		if !ok {
			return Substrate{}, fmt.Errorf("symbol %s not in substrate: %w", sym, domain.ErrNotFound)
		}
		order[i] = j
	}

	out := Substrate{
		Symbols:      append([]string(nil), symbols...),
		Method:       s.Method,
		Returns:      make([]domain.ReturnSeries, len(order)),
		Covariance:   domain.CovarianceMatrix{Symbols: append([]string(nil), symbols...), Values: make([][]float64, len(order))},
		Means:        make([]float64, len(order)),
		Observations: s.Observations,
	}
	for i, j := range order {
		out.Returns[i] = s.Returns[j]
		out.Means[i] = s.Means[j]
		out.Covariance.Values[i] = make([]float64, len(order))
		for k, l := range order {
			out.Covariance.Values[i][k] = s.Covariance.Values[j][l]
		}
	}
	return out, nil
}
