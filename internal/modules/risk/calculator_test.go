package risk

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/modules/statistics"
	"github.com/aristath/riskengine/internal/work"
)

var day0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func series(symbol string, values []float64) domain.ReturnSeries {
	times := make([]time.Time, len(values))
	for i := range values {
		times[i] = day0.AddDate(0, 0, i+1)
	}
	return domain.ReturnSeries{Symbol: symbol, Method: domain.ReturnSimple, Times: times, Values: values}
}

func wave(n int, amplitude, drift, phase float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = drift + amplitude*math.Sin(float64(i)*0.9+phase)
	}
	return out
}

func newTestCalculator(cfg Config) *Calculator {
	coord := work.NewCoordinator(work.Config{MaxInFlight: 2, ParallelThreshold: 1}, zerolog.Nop())
	return NewCalculator(cfg, coord, zerolog.Nop())
}

func aaplBondsRequest(t *testing.T, method domain.VaRMethod, confidences ...float64) VaRRequest {
	t.Helper()
	returns := []domain.ReturnSeries{
		series("AAPL", wave(120, 0.02, 0.0008, 0)),
		series("BONDS", wave(120, 0.004, 0.0002, 1.3)),
	}
	cov, err := statistics.NewEngine(30, zerolog.Nop()).ComputeCovariance(returns)
	require.NoError(t, err)

	return VaRRequest{
		Portfolio: domain.Portfolio{
			ID: "p-1",
			Holdings: []domain.Holding{
				{Symbol: "AAPL", Weight: 60},
				{Symbol: "BONDS", Weight: 40},
			},
		},
		Returns:     returns,
		Covariance:  cov,
		Confidences: confidences,
		Method:      method,
	}
}

func TestCalculate_ParametricMatchesHandComputation(t *testing.T) {
	c := newTestCalculator(Config{})
	req := aaplBondsRequest(t, domain.VaRParametric, 0.95)

	report, err := c.Calculate(context.Background(), req)
	require.NoError(t, err)

	// Hand computation with plain loops
	a, b := req.Returns[0].Values, req.Returns[1].Values
	n := float64(len(a))
	meanA, meanB := 0.0, 0.0
	for i := range a {
		meanA += a[i]
		meanB += b[i]
	}
	meanA /= n
	meanB /= n
	varA, varB, covAB := 0.0, 0.0, 0.0
	for i := range a {
		varA += (a[i] - meanA) * (a[i] - meanA)
		varB += (b[i] - meanB) * (b[i] - meanB)
		covAB += (a[i] - meanA) * (b[i] - meanB)
	}
	varA /= n - 1
	varB /= n - 1
	covAB /= n - 1

	mu := 0.6*meanA + 0.4*meanB
	sigma := math.Sqrt(0.36*varA + 0.16*varB + 2*0.6*0.4*covAB)
	const z95 = 1.6448536269514722
	expected := -(mu - z95*sigma)

	level, ok := report.Level(0.95)
	require.True(t, ok)
	assert.InDelta(t, expected, level.VaR, 1e-9)
	assert.InDelta(t, mu, report.ExpectedReturn(), 1e-12)
	assert.InDelta(t, sigma*math.Sqrt(252), report.AnnualizedVolatility(), 1e-9)
	assert.Greater(t, level.CVaR, level.VaR)
	assert.Equal(t, domain.VaRParametric, report.Method())
	assert.Equal(t, "p-1", report.PortfolioID())
	assert.NotEmpty(t, report.ID())
	assert.Empty(t, report.Warnings())
}

func TestCalculate_ParametricZeroCovariance(t *testing.T) {
	c := newTestCalculator(Config{})
	constant := make([]float64, 60)
	for i := range constant {
		constant[i] = 0.0002
	}
	returns := []domain.ReturnSeries{series("TBILL", constant)}

	report, err := c.Calculate(context.Background(), VaRRequest{
		Portfolio:   domain.Portfolio{Holdings: []domain.Holding{{Symbol: "TBILL", Weight: 100}}},
		Returns:     returns,
		Covariance:  domain.CovarianceMatrix{Symbols: []string{"TBILL"}, Values: [][]float64{{0}}},
		Confidences: []float64{0.90, 0.95, 0.99},
		Method:      domain.VaRParametric,
	})
	require.NoError(t, err)

	for _, l := range report.Levels() {
		assert.InDelta(t, -0.0002, l.VaR, 1e-15, "confidence %v", l.Confidence)
	}
}

func TestCalculate_HistoricalMonotoneInConfidence(t *testing.T) {
	c := newTestCalculator(Config{})
	req := aaplBondsRequest(t, domain.VaRHistorical, 0.90, 0.95, 0.99)

	report, err := c.Calculate(context.Background(), req)
	require.NoError(t, err)

	levels := report.Levels()
	require.Len(t, levels, 3)
	assert.LessOrEqual(t, levels[0].VaR, levels[1].VaR)
	assert.LessOrEqual(t, levels[1].VaR, levels[2].VaR)
	for _, l := range levels {
		assert.GreaterOrEqual(t, l.CVaR, l.VaR)
	}
	assert.Equal(t, 120, report.Observations())
}

func TestCalculate_HistoricalIsDeterministic(t *testing.T) {
	c := newTestCalculator(Config{})
	req := aaplBondsRequest(t, domain.VaRHistorical, 0.95)

	r1, err := c.Calculate(context.Background(), req)
	require.NoError(t, err)
	r2, err := c.Calculate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, r1.Levels(), r2.Levels())
}

func TestCalculate_RejectsInvalidInputs(t *testing.T) {
	c := newTestCalculator(Config{})

	tests := []struct {
		name   string
		mutate func(r *VaRRequest)
		field  string
	}{
		{
			name:   "unsupported confidence",
			mutate: func(r *VaRRequest) { r.Confidences = []float64{0.975} },
			field:  "confidence",
		},
		{
			name:   "no confidence",
			mutate: func(r *VaRRequest) { r.Confidences = nil },
			field:  "confidence",
		},
		{
			name:   "unknown method",
			mutate: func(r *VaRRequest) { r.Method = "garch" },
			field:  "method",
		},
		{
			name: "weights sum to 90",
			mutate: func(r *VaRRequest) {
				r.Portfolio.Holdings = []domain.Holding{{Symbol: "AAPL", Weight: 50}, {Symbol: "MSFT", Weight: 40}}
				r.Returns = nil
			},
			field: "weights",
		},
		{
			name:   "history out of order",
			mutate: func(r *VaRRequest) { r.Returns[0], r.Returns[1] = r.Returns[1], r.Returns[0] },
			field:  "returns",
		},
		{
			name: "benchmark length mismatch",
			mutate: func(r *VaRRequest) {
				b := series("SPY", wave(10, 0.01, 0, 0))
				r.Benchmark = &b
			},
			field: "benchmark",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := aaplBondsRequest(t, domain.VaRParametric, 0.95)
			tt.mutate(&req)

			_, err := c.Calculate(context.Background(), req)
			var invalid *domain.InvalidParameterError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.field, invalid.Field)
			assert.Equal(t, domain.KindInvalidParameter, domain.KindOf(err))
		})
	}
}

func TestCalculate_MonteCarloReproducible(t *testing.T) {
	c := newTestCalculator(Config{Simulations: 20000})
	req := aaplBondsRequest(t, domain.VaRMonteCarlo, 0.95, 0.99)
	seed := uint64(42)
	req.Seed = &seed

	r1, err := c.Calculate(context.Background(), req)
	require.NoError(t, err)
	r2, err := c.Calculate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, r1.Levels(), r2.Levels())

	used, ok := r1.Seed()
	require.True(t, ok)
	assert.Equal(t, uint64(42), used)

	other := uint64(43)
	req.Seed = &other
	r3, err := c.Calculate(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, r1.Levels()[0].VaR, r3.Levels()[0].VaR)
}

func TestCalculate_MonteCarloDerivedSeedIsStable(t *testing.T) {
	c := newTestCalculator(Config{Simulations: 5000})
	req := aaplBondsRequest(t, domain.VaRMonteCarlo, 0.95)

	r1, err := c.Calculate(context.Background(), req)
	require.NoError(t, err)
	r2, err := c.Calculate(context.Background(), req)
	require.NoError(t, err)

	s1, _ := r1.Seed()
	s2, _ := r2.Seed()
	assert.Equal(t, s1, s2)
	assert.Equal(t, DeriveSeed(req), s1)
	assert.Equal(t, r1.Levels(), r2.Levels())
}

func TestCalculate_MonteCarloConvergesToParametric(t *testing.T) {
	c := newTestCalculator(Config{Simulations: 200000})
	req := aaplBondsRequest(t, domain.VaRMonteCarlo, 0.95)
	seed := uint64(7)
	req.Seed = &seed

	mc, err := c.Calculate(context.Background(), req)
	require.NoError(t, err)

	req.Method = domain.VaRParametric
	param, err := c.Calculate(context.Background(), req)
	require.NoError(t, err)

	mcLevel, _ := mc.Level(0.95)
	pLevel, _ := param.Level(0.95)
	assert.InEpsilon(t, pLevel.VaR, mcLevel.VaR, 0.05)
}

func TestCalculate_Beta(t *testing.T) {
	c := newTestCalculator(Config{})
	req := aaplBondsRequest(t, domain.VaRHistorical, 0.95)

	portfolioReturns, err := statistics.PortfolioReturns(req.Returns, req.Portfolio.Fractions())
	require.NoError(t, err)
	benchmark := series("SELF", portfolioReturns)
	req.Benchmark = &benchmark

	report, err := c.Calculate(context.Background(), req)
	require.NoError(t, err)
	beta, ok := report.Beta()
	require.True(t, ok)
	assert.InDelta(t, 1.0, beta, 1e-12)
}

func TestCalculate_Breakdown(t *testing.T) {
	c := newTestCalculator(Config{})
	req := aaplBondsRequest(t, domain.VaRHistorical, 0.95, 0.99)
	req.Breakdown = true

	report, err := c.Calculate(context.Background(), req)
	require.NoError(t, err)

	contributions := report.Contributions()
	require.Len(t, contributions, 4)
	assert.Equal(t, "AAPL", contributions[0].Symbol)
	assert.Equal(t, 0.95, contributions[0].Confidence)
	assert.Equal(t, "BONDS", contributions[2].Symbol)

	standalone := empiricalLevels(sortedCopy(req.Returns[0].Values), []float64{0.95})[0]
	assert.InDelta(t, 0.6*standalone.VaR, contributions[0].VaR, 1e-15)
}

func TestCalculate_BreakdownMonteCarlo(t *testing.T) {
	c := newTestCalculator(Config{Simulations: 2000})
	req := aaplBondsRequest(t, domain.VaRMonteCarlo, 0.95)
	req.Breakdown = true

	report, err := c.Calculate(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, report.Contributions(), 2)
}

func TestCalculate_BreakdownUsesRequestedSimulations(t *testing.T) {
	seed := uint64(42)

	overridden := aaplBondsRequest(t, domain.VaRMonteCarlo, 0.95)
	overridden.Breakdown = true
	overridden.Seed = &seed
	overridden.Simulations = 500

	configured := aaplBondsRequest(t, domain.VaRMonteCarlo, 0.95)
	configured.Breakdown = true
	configured.Seed = &seed

	a, err := newTestCalculator(Config{Simulations: 2000}).Calculate(context.Background(), overridden)
	require.NoError(t, err)
	b, err := newTestCalculator(Config{Simulations: 500}).Calculate(context.Background(), configured)
	require.NoError(t, err)

	assert.Equal(t, b.Levels(), a.Levels())
	assert.Equal(t, b.Contributions(), a.Contributions())
}

func TestCalculate_ReportIsImmutable(t *testing.T) {
	c := newTestCalculator(Config{})
	report, err := c.Calculate(context.Background(), aaplBondsRequest(t, domain.VaRHistorical, 0.95))
	require.NoError(t, err)

	levels := report.Levels()
	levels[0].VaR = 123
	assert.NotEqual(t, 123.0, report.Levels()[0].VaR)
}
