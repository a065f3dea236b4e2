// Package optimization computes minimum-variance, Sharpe-maximizing and target-return
// allocations and the efficient frontier.
package optimization

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/work"
)

const (
	// DefaultMaxIterations bounds the active-set iterations of one QP solve
	DefaultMaxIterations = 500
	// DefaultFrontierPoints is the number of target returns swept by EfficientFrontier
	DefaultFrontierPoints = 50
	// MaxFrontierPoints caps caller-supplied point counts
	MaxFrontierPoints = 500
	// RenormalizationTolerance is the weight change above which a warning is attached
	RenormalizationTolerance = 1e-4
	// feasibilityTolerance absorbs rounding when comparing targets with the return range
	feasibilityTolerance = 1e-12
)

// Config configures an Optimizer
type Config struct {
	MaxIterations  int
	FrontierPoints int
}

// Optimizer solves mean-variance allocation problems. It is safe for concurrent use.
type Optimizer struct {
	maxIterations  int
	frontierPoints int
	coord          *work.Coordinator
	log            zerolog.Logger
}

// NewOptimizer creates an optimizer; coord fans out frontier solves
func NewOptimizer(cfg Config, coord *work.Coordinator, log zerolog.Logger) *Optimizer {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultMaxIterations
	}
	if cfg.FrontierPoints <= 0 {
		cfg.FrontierPoints = DefaultFrontierPoints
	}
	return &Optimizer{
		maxIterations:  cfg.MaxIterations,
		frontierPoints: cfg.FrontierPoints,
		coord:          coord,
		log:            log.With().Str("component", "optimizer").Logger(),
	}
}

// OptimizeRequest is the input of Optimize. ExpectedReturns and Covariance rows follow Symbols.
// Returns are per period, in the same frequency as the history the covariance was estimated on.
type OptimizeRequest struct {
	Symbols         []string
	ExpectedReturns []float64
	Covariance      domain.CovarianceMatrix
	Objective       domain.Objective
	Constraints     domain.Constraints
}

// Validate rejects malformed requests before any numerical work
func (r OptimizeRequest) Validate() error {
	if err := validateUniverse(r.Symbols, r.ExpectedReturns, r.Covariance, r.Constraints); err != nil {
		return err
	}
	return r.Objective.Validate()
}

func validateUniverse(symbols []string, mu []float64, cov domain.CovarianceMatrix, cons domain.Constraints) error {
	if len(symbols) == 0 {
		return &domain.InvalidParameterError{Field: "assetUniverse", Message: "asset universe is empty"}
	}
	seen := make(map[string]bool, len(symbols))
	for _, s := range symbols {
		if strings.TrimSpace(s) == "" {
			return &domain.InvalidParameterError{Field: "assetUniverse", Message: "symbol is required"}
		}
		if seen[s] {
			return &domain.InvalidParameterError{Field: "assetUniverse", Message: fmt.Sprintf("duplicate symbol %s", s)}
		}
		seen[s] = true
	}
	if len(mu) != len(symbols) {
		return &domain.InvalidParameterError{
			Field:   "expectedReturns",
			Message: fmt.Sprintf("got %d expected returns for %d symbols", len(mu), len(symbols)),
		}
	}
	for i, v := range mu {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &domain.InvalidParameterError{Field: "expectedReturns", Message: fmt.Sprintf("expected return of %s is not finite", symbols[i])}
		}
	}
	if cov.Size() != len(symbols) || len(cov.Values) != len(symbols) {
		return &domain.InvalidParameterError{
			Field:   "covariance",
			Message: fmt.Sprintf("covariance is %dx%d for %d symbols", cov.Size(), cov.Size(), len(symbols)),
		}
	}
	for i, s := range symbols {
		if cov.Symbols[i] != s {
			return &domain.InvalidParameterError{Field: "covariance", Message: fmt.Sprintf("covariance row %d is %s, expected %s", i, cov.Symbols[i], s)}
		}
		if len(cov.Values[i]) != len(symbols) {
			return &domain.InvalidParameterError{Field: "covariance", Message: fmt.Sprintf("covariance row %s has %d columns", s, len(cov.Values[i]))}
		}
		for _, v := range cov.Values[i] {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return &domain.InvalidParameterError{Field: "covariance", Message: fmt.Sprintf("covariance row %s is not finite", s)}
			}
		}
	}
	if math.IsNaN(cons.RiskFreeRate) || math.IsInf(cons.RiskFreeRate, 0) {
		return &domain.InvalidParameterError{Field: "riskFreeRate", Message: "risk-free rate must be finite"}
	}
	return nil
}

// solution is a post-processed optimum in fractions of 1
type solution struct {
	weights    []float64
	ret        float64
	risk       float64
	sharpe     float64
	iterations int
	warnings   []domain.Warning
}

// Optimize solves one allocation problem.
//
// Mathematical formulation:
//
//	min_variance:  minimize wᵗΣw  s.t. 1ᵗw = 1, w ≥ 0
//	target_return: minimize wᵗΣw  s.t. 1ᵗw = 1, μᵗw = r, w ≥ 0
//	max_sharpe:    minimize yᵗΣy  s.t. (μ - rf)ᵗy = 1, y ≥ 0;  w = y / 1ᵗy
//
// The w ≥ 0 bounds are dropped when Constraints.AllowShort is set.
func (o *Optimizer) Optimize(ctx context.Context, req OptimizeRequest) (domain.OptimizationResult, error) {
	if err := req.Validate(); err != nil {
		return domain.OptimizationResult{}, err
	}

	start := time.Now()

	var (
		sol solution
		err error
	)
	switch req.Objective.Kind {
	case domain.ObjectiveMinVariance:
		sol, err = o.minVariance(ctx, req.ExpectedReturns, req.Covariance, req.Constraints)
	case domain.ObjectiveTargetReturn:
		sol, err = o.targetReturn(ctx, req.ExpectedReturns, req.Covariance, req.Objective.TargetReturn, req.Constraints)
	case domain.ObjectiveMaxSharpe:
		sol, err = o.maxSharpe(ctx, req.ExpectedReturns, req.Covariance, req.Constraints)
	}
	if err != nil {
		return domain.OptimizationResult{}, err
	}

	holdings := make([]domain.Holding, len(req.Symbols))
	for i, s := range req.Symbols {
		holdings[i] = domain.Holding{Symbol: s, Weight: sol.weights[i] * 100}
	}

	o.log.Debug().
		Str("objective", string(req.Objective.Kind)).
		Int("assets", len(req.Symbols)).
		Int("iterations", sol.iterations).
		Float64("expected_return", sol.ret).
		Float64("expected_risk", sol.risk).
		Dur("elapsed", time.Since(start)).
		Msg("Optimization complete")

	return domain.OptimizationResult{
		ID:             uuid.New().String(),
		Portfolio:      domain.Portfolio{Holdings: holdings},
		Objective:      req.Objective,
		ExpectedReturn: sol.ret,
		ExpectedRisk:   sol.risk,
		SharpeRatio:    sol.sharpe,
		Iterations:     sol.iterations,
		Warnings:       nonNil(sol.warnings),
	}, nil
}

func (o *Optimizer) minVariance(ctx context.Context, mu []float64, cov domain.CovarianceMatrix, cons domain.Constraints) (solution, error) {
	n := len(mu)
	w0 := make([]float64, n)
	for i := range w0 {
		w0[i] = 1 / float64(n)
	}

	prob := newQPProblem(cov, [][]float64{ones(n)}, []float64{1}, !cons.AllowShort, o.maxIterations)
	w, iters, err := prob.solve(ctx, w0)
	if err != nil {
		return solution{}, err
	}
	return finish(w, iters, mu, cov, cons)
}

func (o *Optimizer) targetReturn(ctx context.Context, mu []float64, cov domain.CovarianceMatrix, target float64, cons domain.Constraints) (solution, error) {
	n := len(mu)
	hi, lo := argmax(mu), argmin(mu)

	if !cons.AllowShort && (target > mu[hi]+feasibilityTolerance || target < mu[lo]-feasibilityTolerance) {
		return solution{}, &domain.InfeasibleOptimizationError{
			Constraint: "target_return",
			Detail:     fmt.Sprintf("target %.6g is outside the achievable range [%.6g, %.6g]", target, mu[lo], mu[hi]),
		}
	}

	w0 := make([]float64, n)
	spread := mu[hi] - mu[lo]
	if spread <= feasibilityTolerance {
		if math.Abs(target-mu[hi]) > feasibilityTolerance {
			return solution{}, &domain.InfeasibleOptimizationError{
				Constraint: "target_return",
				Detail:     fmt.Sprintf("every asset returns %.6g, target %.6g cannot be reached", mu[hi], target),
			}
		}
		for i := range w0 {
			w0[i] = 1 / float64(n)
		}
	} else {
		// Two-asset mix of the extremes hits the target exactly; with shorts it may extrapolate
		theta := (target - mu[lo]) / spread
		if !cons.AllowShort {
			theta = math.Min(math.Max(theta, 0), 1)
		}
		w0[hi] = theta
		w0[lo] = 1 - theta
	}

	prob := newQPProblem(cov, [][]float64{ones(n), mu}, []float64{1, target}, !cons.AllowShort, o.maxIterations)
	w, iters, err := prob.solve(ctx, w0)
	if err != nil {
		return solution{}, err
	}
	return finish(w, iters, mu, cov, cons)
}

func (o *Optimizer) maxSharpe(ctx context.Context, mu []float64, cov domain.CovarianceMatrix, cons domain.Constraints) (solution, error) {
	n := len(mu)
	excess := make([]float64, n)
	for i, m := range mu {
		excess[i] = m - cons.RiskFreeRate
	}

	j := argmax(excess)
	if cons.AllowShort {
		j = argmaxAbs(excess)
	}
	if excess[j] <= 0 && !(cons.AllowShort && excess[j] != 0) {
		return solution{}, &domain.InfeasibleOptimizationError{
			Constraint: "risk_free_rate",
			Detail:     fmt.Sprintf("no asset has an expected return above the risk-free rate %.6g", cons.RiskFreeRate),
		}
	}

	y0 := make([]float64, n)
	y0[j] = 1 / excess[j]

	prob := newQPProblem(cov, [][]float64{excess}, []float64{1}, !cons.AllowShort, o.maxIterations)
	y, iters, err := prob.solve(ctx, y0)
	if err != nil {
		return solution{}, err
	}

	total := 0.0
	for _, v := range y {
		total += v
	}
	if total <= feasibilityTolerance {
		return solution{}, &domain.InfeasibleOptimizationError{
			Constraint: "risk_free_rate",
			Detail:     "the tangency portfolio has non-positive net exposure",
		}
	}
	w := make([]float64, n)
	for i, v := range y {
		w[i] = v / total
	}
	return finish(w, iters, mu, cov, cons)
}

// finish clamps (long-only) and renormalizes the raw optimum, then computes its statistics
func finish(raw []float64, iterations int, mu []float64, cov domain.CovarianceMatrix, cons domain.Constraints) (solution, error) {
	w := append([]float64(nil), raw...)
	if !cons.AllowShort {
		for i, v := range w {
			w[i] = math.Min(math.Max(v, 0), 1)
		}
	}

	total := 0.0
	for _, v := range w {
		total += v
	}
	if total <= 0 || math.IsNaN(total) {
		return solution{}, fmt.Errorf("optimizer produced weights summing to %v", total)
	}

	moved := 0.0
	for i := range w {
		w[i] /= total
		moved = math.Max(moved, math.Abs(w[i]-raw[i]))
	}

	var warnings []domain.Warning
	if moved > RenormalizationTolerance {
		warnings = append(warnings, domain.Warning{
			Kind:   domain.WarningWeightsRenormalized,
			Detail: fmt.Sprintf("renormalization moved a weight by %.6f", moved),
		})
	}

	ret := dot(w, mu)
	risk := math.Sqrt(math.Max(cov.PortfolioVariance(w), 0))
	return solution{
		weights:    w,
		ret:        ret,
		risk:       risk,
		sharpe:     sharpe(ret, risk, cons.RiskFreeRate),
		iterations: iterations,
		warnings:   warnings,
	}, nil
}

func sharpe(ret, risk, rf float64) float64 {
	if risk == 0 {
		return 0
	}
	return (ret - rf) / risk
}

func ones(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 1
	}
	return out
}

func dot(a, b []float64) float64 {
	s := 0.0
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

func argmax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

func argmin(v []float64) int {
	best := 0
	for i := range v {
		if v[i] < v[best] {
			best = i
		}
	}
	return best
}

func argmaxAbs(v []float64) int {
	best := 0
	for i := range v {
		if math.Abs(v[i]) > math.Abs(v[best]) {
			best = i
		}
	}
	return best
}

func nonNil(w []domain.Warning) []domain.Warning {
	if w == nil {
		return []domain.Warning{}
	}
	return w
}
