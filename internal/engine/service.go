// Package engine orchestrates one analytical request end to end: it loads price history,
// builds (or reuses) the statistics substrate and hands it to the risk, stress and
// optimization components.
package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aristath/riskengine/internal/cache"
	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/modules/optimization"
	"github.com/aristath/riskengine/internal/modules/risk"
	"github.com/aristath/riskengine/internal/modules/statistics"
	"github.com/aristath/riskengine/internal/modules/stress"
)

const (
	// DefaultRequestTimeout bounds one request end to end
	DefaultRequestTimeout = 30 * time.Second
	// DefaultFetchConcurrency bounds concurrent price history reads per request
	DefaultFetchConcurrency = 8
)

// Observer records per-operation latency and outcome (e.g. Prometheus)
type Observer interface {
	ObserveComputation(operation, outcome string, elapsed time.Duration)
}

// Deps are the collaborators of a Service
type Deps struct {
	Prices     domain.PriceHistoryReader
	Portfolios domain.PortfolioReader
	Statistics *statistics.Engine
	Calculator *risk.Calculator
	Stress     *stress.Engine
	Optimizer  *optimization.Optimizer
	// Cache stores substrates; nil disables caching
	Cache    cache.Cache[statistics.Substrate]
	Observer Observer
}

// Config tunes a Service
type Config struct {
	RequestTimeout   time.Duration
	FetchConcurrency int
}

// Service is the request-level entry point. It is safe for concurrent use; the substrate
// cache is its only shared mutable state.
type Service struct {
	deps             Deps
	requestTimeout   time.Duration
	fetchConcurrency int
	log              zerolog.Logger
}

// NewService wires the engine components together
func NewService(deps Deps, cfg Config, log zerolog.Logger) *Service {
	if deps.Cache == nil {
		deps.Cache = cache.NopCache[statistics.Substrate]{}
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.FetchConcurrency <= 0 {
		cfg.FetchConcurrency = DefaultFetchConcurrency
	}
	return &Service{
		deps:             deps,
		requestTimeout:   cfg.RequestTimeout,
		fetchConcurrency: cfg.FetchConcurrency,
		log:              log.With().Str("component", "engine").Logger(),
	}
}

// VaRInput is a portfolio VaR request
type VaRInput struct {
	Portfolio    domain.Portfolio
	Window       domain.Window
	Confidences  []float64
	Method       domain.VaRMethod
	ReturnMethod domain.ReturnMethod
	Seed         *uint64
	Simulations  int
	// Benchmark is a symbol whose history is aligned with the holdings for beta
	Benchmark string
	Breakdown bool
}

// MetricsInput parameterizes the risk report of a stored portfolio
type MetricsInput struct {
	Window       domain.Window
	Confidences  []float64
	Method       domain.VaRMethod
	ReturnMethod domain.ReturnMethod
}

// StressInput is a stress test request; Shocks make an ad hoc scenario
type StressInput struct {
	Portfolio domain.Portfolio
	Scenario  string
	Shocks    map[string]float64
}

// OptimizeInput is an allocation request over an asset universe
type OptimizeInput struct {
	Symbols      []string
	Window       domain.Window
	ReturnMethod domain.ReturnMethod
	Objective    domain.Objective
	Constraints  domain.Constraints
	// ExpectedReturns overrides the historical mean per symbol
	ExpectedReturns map[string]float64
}

// FrontierInput is an efficient frontier request
type FrontierInput struct {
	Symbols         []string
	Window          domain.Window
	ReturnMethod    domain.ReturnMethod
	PointCount      int
	Constraints     domain.Constraints
	ExpectedReturns map[string]float64
}

// VaR computes a risk report for an ad hoc portfolio
func (s *Service) VaR(ctx context.Context, in VaRInput) (report domain.RiskReport, err error) {
	defer s.observe("var", time.Now(), &err)

	in.ReturnMethod = defaultReturnMethod(in.ReturnMethod)
	if err := validateVaRInput(in); err != nil {
		return domain.RiskReport{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	symbols := in.Portfolio.Symbols()
	universe := symbols
	if in.Benchmark != "" && !contains(symbols, in.Benchmark) {
		universe = append(append([]string(nil), symbols...), in.Benchmark)
	}

	sub, err := s.Substrate(ctx, universe, in.Window, in.ReturnMethod)
	if err != nil {
		return domain.RiskReport{}, err
	}
	holdings, err := sub.Select(symbols)
	if err != nil {
		return domain.RiskReport{}, err
	}

	var benchmark *domain.ReturnSeries
	if in.Benchmark != "" {
		b, err := sub.Select([]string{in.Benchmark})
		if err != nil {
			return domain.RiskReport{}, err
		}
		benchmark = &b.Returns[0]
	}

	correlations := s.deps.Statistics.HighCorrelations(
		statistics.CorrelationFromCovariance(holdings.Covariance),
		statistics.HighCorrelationThreshold,
	)

	report, err = s.deps.Calculator.Calculate(ctx, risk.VaRRequest{
		Portfolio:    in.Portfolio,
		Returns:      holdings.Returns,
		Covariance:   holdings.Covariance,
		Confidences:  in.Confidences,
		Method:       in.Method,
		Seed:         in.Seed,
		Simulations:  in.Simulations,
		Benchmark:    benchmark,
		Breakdown:    in.Breakdown,
		Correlations: correlations,
	})
	if err != nil {
		return domain.RiskReport{}, err
	}

	s.log.Info().
		Str("portfolio_id", in.Portfolio.ID).
		Str("method", string(in.Method)).
		Int("holdings", len(symbols)).
		Int("observations", report.Observations()).
		Bool("degraded", report.Degraded()).
		Msg("Risk report computed")

	return report, nil
}

// PortfolioMetrics loads a stored portfolio and computes its risk report
func (s *Service) PortfolioMetrics(ctx context.Context, portfolioID string, in MetricsInput) (domain.RiskReport, error) {
	if strings.TrimSpace(portfolioID) == "" {
		return domain.RiskReport{}, &domain.InvalidParameterError{Field: "portfolioId", Message: "portfolio id is required"}
	}
	if s.deps.Portfolios == nil {
		return domain.RiskReport{}, fmt.Errorf("portfolio store not configured: %w", domain.ErrNotFound)
	}

	portfolio, err := s.deps.Portfolios.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return domain.RiskReport{}, fmt.Errorf("failed to load portfolio %s: %w", portfolioID, err)
	}
	if portfolio.ID == "" {
		portfolio.ID = portfolioID
	}

	return s.VaR(ctx, VaRInput{
		Portfolio:    portfolio,
		Window:       in.Window,
		Confidences:  in.Confidences,
		Method:       in.Method,
		ReturnMethod: in.ReturnMethod,
	})
}

// StressTest applies one preset or ad hoc scenario
func (s *Service) StressTest(ctx context.Context, in StressInput) (result domain.StressResult, err error) {
	defer s.observe("stress", time.Now(), &err)

	if err := in.Portfolio.Validate(); err != nil {
		return domain.StressResult{}, err
	}
	scenario, err := stress.Resolve(in.Scenario, in.Shocks)
	if err != nil {
		return domain.StressResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.StressResult{}, err
	}
	return s.deps.Stress.Run(in.Portfolio, scenario)
}

// StressTestAll applies several preset scenarios (every preset when names is empty)
func (s *Service) StressTestAll(ctx context.Context, portfolio domain.Portfolio, names []string) (results []domain.StressResult, err error) {
	defer s.observe("stress_all", time.Now(), &err)

	if err := portfolio.Validate(); err != nil {
		return nil, err
	}

	scenarios := stress.Presets()
	if len(names) > 0 {
		scenarios = make([]domain.StressScenario, 0, len(names))
		for _, name := range names {
			sc, err := stress.Preset(name)
			if err != nil {
				return nil, err
			}
			scenarios = append(scenarios, sc)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()
	return s.deps.Stress.RunAll(ctx, portfolio, scenarios)
}

// Scenarios returns the preset scenario catalogue
func (s *Service) Scenarios() []domain.StressScenario {
	return stress.Presets()
}

// Optimize computes an optimal allocation over the asset universe
func (s *Service) Optimize(ctx context.Context, in OptimizeInput) (result domain.OptimizationResult, err error) {
	defer s.observe("optimize", time.Now(), &err)

	in.ReturnMethod = defaultReturnMethod(in.ReturnMethod)
	if err := validateUniverseInput(in.Symbols, in.Window, in.ReturnMethod); err != nil {
		return domain.OptimizationResult{}, err
	}
	if err := in.Objective.Validate(); err != nil {
		return domain.OptimizationResult{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	sub, err := s.Substrate(ctx, in.Symbols, in.Window, in.ReturnMethod)
	if err != nil {
		return domain.OptimizationResult{}, err
	}
	mu, err := expectedReturns(sub, in.ExpectedReturns)
	if err != nil {
		return domain.OptimizationResult{}, err
	}

	return s.deps.Optimizer.Optimize(ctx, optimization.OptimizeRequest{
		Symbols:         sub.Symbols,
		ExpectedReturns: mu,
		Covariance:      sub.Covariance,
		Objective:       in.Objective,
		Constraints:     in.Constraints,
	})
}

// EfficientFrontier computes the efficient frontier over the asset universe
func (s *Service) EfficientFrontier(ctx context.Context, in FrontierInput) (frontier domain.EfficientFrontier, err error) {
	defer s.observe("efficient_frontier", time.Now(), &err)

	in.ReturnMethod = defaultReturnMethod(in.ReturnMethod)
	if err := validateUniverseInput(in.Symbols, in.Window, in.ReturnMethod); err != nil {
		return domain.EfficientFrontier{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.requestTimeout)
	defer cancel()

	sub, err := s.Substrate(ctx, in.Symbols, in.Window, in.ReturnMethod)
	if err != nil {
		return domain.EfficientFrontier{}, err
	}
	mu, err := expectedReturns(sub, in.ExpectedReturns)
	if err != nil {
		return domain.EfficientFrontier{}, err
	}

	return s.deps.Optimizer.EfficientFrontier(ctx, optimization.FrontierRequest{
		Symbols:         sub.Symbols,
		ExpectedReturns: mu,
		Covariance:      sub.Covariance,
		PointCount:      in.PointCount,
		Constraints:     in.Constraints,
	})
}

// Substrate returns the statistics substrate for symbols, in the given order, from the
// cache or by loading and aligning price history
func (s *Service) Substrate(ctx context.Context, symbols []string, window domain.Window, method domain.ReturnMethod) (statistics.Substrate, error) {
	canonical := append([]string(nil), symbols...)
	sort.Strings(canonical)

	key := cache.SubstrateKey(canonical, window.Start, window.End, string(method))
	sub, err := s.deps.Cache.GetOrCompute(ctx, key, func(ctx context.Context) (statistics.Substrate, error) {
		series, err := s.fetch(ctx, canonical, window)
		if err != nil {
			return statistics.Substrate{}, err
		}
		return s.deps.Statistics.Build(series, method)
	})
	if err != nil {
		return statistics.Substrate{}, err
	}
	return sub.Select(symbols)
}

// fetch loads every price history concurrently; the first failure cancels the rest
func (s *Service) fetch(ctx context.Context, symbols []string, window domain.Window) ([]domain.PriceSeries, error) {
	if s.deps.Prices == nil {
		return nil, fmt.Errorf("price history store not configured: %w", domain.ErrNotFound)
	}

	series := make([]domain.PriceSeries, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fetchConcurrency)

	for i, symbol := range symbols {
		g.Go(func() error {
			ps, err := s.deps.Prices.GetHistoricalPrices(gctx, symbol, window.Start, window.End)
			if err != nil {
				return fmt.Errorf("failed to load price history for %s: %w", symbol, err)
			}
			if ps.Symbol == "" {
				ps.Symbol = symbol
			}
			series[i] = ps
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.log.Debug().Int("symbols", len(symbols)).Msg("Loaded price history")
	return series, nil
}

func (s *Service) observe(operation string, start time.Time, err *error) {
	if s.deps.Observer == nil {
		return
	}
	outcome := "ok"
	if *err != nil {
		outcome = string(domain.KindOf(*err))
	}
	s.deps.Observer.ObserveComputation(operation, outcome, time.Since(start))
}

func validateVaRInput(in VaRInput) error {
	if err := in.Portfolio.Validate(); err != nil {
		return err
	}
	if err := in.Method.Validate(); err != nil {
		return err
	}
	if len(in.Confidences) == 0 {
		return &domain.InvalidParameterError{Field: "confidence", Message: "at least one confidence level is required"}
	}
	for _, c := range in.Confidences {
		if err := domain.ValidateConfidence(c); err != nil {
			return err
		}
	}
	if err := in.ReturnMethod.Validate(); err != nil {
		return err
	}
	return in.Window.Validate()
}

func validateUniverseInput(symbols []string, window domain.Window, method domain.ReturnMethod) error {
	if len(symbols) == 0 {
		return &domain.InvalidParameterError{Field: "assetUniverse", Message: "asset universe is empty"}
	}
	seen := make(map[string]bool, len(symbols))
	for _, sym := range symbols {
		if strings.TrimSpace(sym) == "" {
			return &domain.InvalidParameterError{Field: "assetUniverse", Message: "symbol is required"}
		}
		if seen[sym] {
			return &domain.InvalidParameterError{Field: "assetUniverse", Message: fmt.Sprintf("duplicate symbol %s", sym)}
		}
		seen[sym] = true
	}
	if err := method.Validate(); err != nil {
		return err
	}
	return window.Validate()
}

func expectedReturns(sub statistics.Substrate, overrides map[string]float64) ([]float64, error) {
	mu := append([]float64(nil), sub.Means...)
	for sym, v := range overrides {
		idx := -1
		for i, s := range sub.Symbols {
			if s == sym {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, &domain.InvalidParameterError{
				Field:   "expectedReturns",
				Message: fmt.Sprintf("%s is not in the asset universe", sym),
			}
		}
		mu[idx] = v
	}
	return mu, nil
}

func defaultReturnMethod(m domain.ReturnMethod) domain.ReturnMethod {
	if m == "" {
		return domain.ReturnSimple
	}
	return m
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
