// Package risk computes Value-at-Risk and related portfolio risk figures.
package risk

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/modules/statistics"
	"github.com/aristath/riskengine/internal/work"
	"github.com/aristath/riskengine/pkg/formulas"
)

const (
	// DefaultSimulations is the number of Monte Carlo draws per request
	DefaultSimulations = 10000
	// DefaultBudget bounds the wall time of one Monte Carlo run
	DefaultBudget = 10 * time.Second
	// MaxSimulations caps caller-supplied draw counts
	MaxSimulations = 1_000_000
)

// Config configures a Calculator
type Config struct {
	Simulations int
	Budget      time.Duration
}

// Calculator computes VaR and CVaR reports. It is safe for concurrent use.
type Calculator struct {
	simulations int
	budget      time.Duration
	coord       *work.Coordinator
	log         zerolog.Logger
}

// NewCalculator creates a VaR calculator; coord is used for per-asset breakdowns
func NewCalculator(cfg Config, coord *work.Coordinator, log zerolog.Logger) *Calculator {
	if cfg.Simulations <= 0 {
		cfg.Simulations = DefaultSimulations
	}
	if cfg.Budget <= 0 {
		cfg.Budget = DefaultBudget
	}
	return &Calculator{
		simulations: cfg.Simulations,
		budget:      cfg.Budget,
		coord:       coord,
		log:         log.With().Str("component", "var_calculator").Logger(),
	}
}

// VaRRequest is the input of Calculate. Returns and Covariance are ordered like the
// portfolio holdings and must already be aligned.
type VaRRequest struct {
	Portfolio   domain.Portfolio
	Returns     []domain.ReturnSeries
	Covariance  domain.CovarianceMatrix
	Confidences []float64
	Method      domain.VaRMethod

	// Seed fixes the Monte Carlo stream; nil derives one from the inputs
	Seed *uint64
	// Simulations overrides the configured Monte Carlo draw count when positive
	Simulations int
	// Benchmark enables beta; it must be aligned with Returns
	Benchmark *domain.ReturnSeries
	// Breakdown adds each holding's standalone VaR, computed through the coordinator
	Breakdown bool
	// Correlations are copied onto the report as diagnostics
	Correlations []domain.CorrelationPair
}

// Validate rejects malformed requests before any numerical work
func (r VaRRequest) Validate() error {
	if err := r.Portfolio.Validate(); err != nil {
		return err
	}
	if err := r.Method.Validate(); err != nil {
		return err
	}
	if len(r.Confidences) == 0 {
		return &domain.InvalidParameterError{Field: "confidence", Message: "at least one confidence level is required"}
	}
	for _, c := range r.Confidences {
		if err := domain.ValidateConfidence(c); err != nil {
			return err
		}
	}
	if r.Simulations < 0 || r.Simulations > MaxSimulations {
		return &domain.InvalidParameterError{
			Field:   "simulations",
			Message: fmt.Sprintf("simulations must be between 1 and %d", MaxSimulations),
		}
	}

	if len(r.Returns) != len(r.Portfolio.Holdings) {
		return &domain.InvalidParameterError{
			Field:   "returns",
			Message: fmt.Sprintf("got %d return series for %d holdings", len(r.Returns), len(r.Portfolio.Holdings)),
		}
	}
	if r.Covariance.Size() != len(r.Portfolio.Holdings) {
		return &domain.InvalidParameterError{
			Field:   "covariance",
			Message: fmt.Sprintf("covariance is %dx%d for %d holdings", r.Covariance.Size(), r.Covariance.Size(), len(r.Portfolio.Holdings)),
		}
	}
	for i, h := range r.Portfolio.Holdings {
		if r.Returns[i].Symbol != h.Symbol || r.Covariance.Symbols[i] != h.Symbol {
			return &domain.InvalidParameterError{
				Field:   "returns",
				Message: fmt.Sprintf("return history at position %d does not match holding %s", i, h.Symbol),
			}
		}
	}
	if r.Benchmark != nil && len(r.Returns) > 0 && r.Benchmark.Len() != r.Returns[0].Len() {
		return &domain.InvalidParameterError{
			Field:   "benchmark",
			Message: fmt.Sprintf("benchmark has %d observations, portfolio history has %d", r.Benchmark.Len(), r.Returns[0].Len()),
		}
	}
	return nil
}

// Calculate computes VaR and CVaR at every requested confidence level
func (c *Calculator) Calculate(ctx context.Context, req VaRRequest) (domain.RiskReport, error) {
	if err := req.Validate(); err != nil {
		return domain.RiskReport{}, err
	}

	weights := req.Portfolio.Fractions()
	means := statistics.Means(req.Returns)
	mu := dot(weights, means)
	sigma := math.Sqrt(math.Max(req.Covariance.PortfolioVariance(weights), 0))

	portfolioReturns, err := statistics.PortfolioReturns(req.Returns, weights)
	if err != nil {
		return domain.RiskReport{}, fmt.Errorf("failed to compute portfolio returns: %w", err)
	}

	var (
		levels   []domain.VaRLevel
		warnings []domain.Warning
		seedUsed *uint64
	)

	switch req.Method {
	case domain.VaRHistorical:
		sorted := sortedCopy(portfolioReturns)
		levels = empiricalLevels(sorted, req.Confidences)

	case domain.VaRParametric:
		levels = make([]domain.VaRLevel, len(req.Confidences))
		for i, conf := range req.Confidences {
			v, cv := formulas.ParametricVaR(mu, sigma, conf)
			levels[i] = domain.VaRLevel{Confidence: conf, VaR: v, CVaR: cv}
		}

	case domain.VaRMonteCarlo:
		seed := DeriveSeed(req)
		if req.Seed != nil {
			seed = *req.Seed
		}
		seedUsed = &seed

		sim, err := c.Simulate(ctx, Simulation{
			Means:      means,
			Covariance: req.Covariance,
			Weights:    weights,
			Draws:      c.draws(req),
			Seed:       seed,
		})
		if err != nil {
			return domain.RiskReport{}, err
		}
		warnings = append(warnings, sim.Warnings...)
		levels = empiricalLevels(sim.Sorted, req.Confidences)
	}

	var beta *float64
	if req.Benchmark != nil {
		b := formulas.Beta(portfolioReturns, req.Benchmark.Values)
		beta = &b
	}

	var contributions []domain.AssetRisk
	if req.Breakdown {
		contributions, err = c.breakdown(ctx, req, means, seedUsed)
		if err != nil {
			return domain.RiskReport{}, err
		}
	}

	report := domain.NewRiskReport(domain.RiskReportParams{
		PortfolioID:          req.Portfolio.ID,
		Method:               req.Method,
		Levels:               levels,
		ExpectedReturn:       mu,
		AnnualizedVolatility: formulas.AnnualizeVolatility(sigma),
		Beta:                 beta,
		Observations:         len(portfolioReturns),
		Seed:                 seedUsed,
		Contributions:        contributions,
		Correlations:         req.Correlations,
		Warnings:             warnings,
	})

	c.log.Debug().
		Str("method", string(req.Method)).
		Int("assets", len(weights)).
		Int("levels", len(levels)).
		Bool("degraded", report.Degraded()).
		Msg("Calculated VaR")

	return report, nil
}

// draws is the Monte Carlo sample size for req
func (c *Calculator) draws(req VaRRequest) int {
	if req.Simulations > 0 {
		return req.Simulations
	}
	return c.simulations
}

// breakdown computes each holding's standalone VaR scaled by its weight
func (c *Calculator) breakdown(ctx context.Context, req VaRRequest, means []float64, seed *uint64) ([]domain.AssetRisk, error) {
	tasks := make([]work.Task[[]domain.AssetRisk], len(req.Portfolio.Holdings))
	for i, h := range req.Portfolio.Holdings {
		i, h := i, h
		tasks[i] = work.Task[[]domain.AssetRisk]{
			ID: "var:" + h.Symbol,
			Fn: func(ctx context.Context) ([]domain.AssetRisk, error) {
				w := h.Weight / 100
				returns := req.Returns[i].Values
				variance := req.Covariance.Values[i][i]

				var levels []domain.VaRLevel
				switch req.Method {
				case domain.VaRParametric:
					levels = make([]domain.VaRLevel, len(req.Confidences))
					for k, conf := range req.Confidences {
						v, cv := formulas.ParametricVaR(means[i], math.Sqrt(math.Max(variance, 0)), conf)
						levels[k] = domain.VaRLevel{Confidence: conf, VaR: v, CVaR: cv}
					}
				case domain.VaRMonteCarlo:
					sim, err := c.Simulate(ctx, Simulation{
						Means:      []float64{means[i]},
						Covariance: domain.CovarianceMatrix{Symbols: []string{h.Symbol}, Values: [][]float64{{variance}}},
						Weights:    []float64{1},
						Draws:      c.draws(req),
						Seed:       *seed + uint64(i) + 1,
					})
					if err != nil {
						return nil, err
					}
					levels = empiricalLevels(sim.Sorted, req.Confidences)
				default:
					levels = empiricalLevels(sortedCopy(returns), req.Confidences)
				}

				out := make([]domain.AssetRisk, len(levels))
				for k, l := range levels {
					out[k] = domain.AssetRisk{
						Symbol:     h.Symbol,
						Weight:     h.Weight,
						Confidence: l.Confidence,
						VaR:        w * l.VaR,
						CVaR:       w * l.CVaR,
					}
				}
				return out, nil
			},
		}
	}

	results, err := work.Dispatch(ctx, c.coord, tasks)
	if err != nil {
		return nil, fmt.Errorf("failed to compute per-asset VaR: %w", err)
	}

	var flat []domain.AssetRisk
	for _, r := range results {
		flat = append(flat, r...)
	}
	return flat, nil
}

func empiricalLevels(sorted []float64, confidences []float64) []domain.VaRLevel {
	levels := make([]domain.VaRLevel, len(confidences))
	for i, conf := range confidences {
		v, cv := formulas.SortedVaR(sorted, conf)
		levels[i] = domain.VaRLevel{Confidence: conf, VaR: v, CVaR: cv}
	}
	return levels
}

func sortedCopy(values []float64) []float64 {
	out := make([]float64, len(values))
	copy(out, values)
	sort.Float64s(out)
	return out
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}
