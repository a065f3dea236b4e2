package optimization

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/work"
)

// duplicateTolerance is the max per-weight distance at which two frontier points are the same allocation
const duplicateTolerance = 1e-6

// FrontierRequest is the input of EfficientFrontier
type FrontierRequest struct {
	Symbols         []string
	ExpectedReturns []float64
	Covariance      domain.CovarianceMatrix
	// PointCount is the number of target returns swept; 0 uses the configured default
	PointCount  int
	Constraints domain.Constraints
}

// Validate rejects malformed requests before any numerical work
func (r FrontierRequest) Validate() error {
	if err := validateUniverse(r.Symbols, r.ExpectedReturns, r.Covariance, r.Constraints); err != nil {
		return err
	}
	if r.PointCount < 0 || r.PointCount == 1 || r.PointCount > MaxFrontierPoints {
		return &domain.InvalidParameterError{
			Field:   "pointCount",
			Message: fmt.Sprintf("point count must be between 2 and %d", MaxFrontierPoints),
		}
	}
	return nil
}

// EfficientFrontier sweeps target returns from the minimum-variance portfolio's return up to
// the highest expected return, solving one target_return problem per point through the
// coordinator. Points are sorted by ascending risk with duplicates and dominated points removed.
func (o *Optimizer) EfficientFrontier(ctx context.Context, req FrontierRequest) (domain.EfficientFrontier, error) {
	if err := req.Validate(); err != nil {
		return domain.EfficientFrontier{}, err
	}

	start := time.Now()
	count := req.PointCount
	if count == 0 {
		count = o.frontierPoints
	}

	anchor, err := o.minVariance(ctx, req.ExpectedReturns, req.Covariance, req.Constraints)
	if err != nil {
		return domain.EfficientFrontier{}, fmt.Errorf("failed to solve minimum-variance anchor: %w", err)
	}

	low := anchor.ret
	high := req.ExpectedReturns[argmax(req.ExpectedReturns)]
	if high < low {
		high = low
	}

	targets := []float64{low}
	if high-low > feasibilityTolerance {
		targets = make([]float64, count)
		step := (high - low) / float64(count-1)
		for k := range targets {
			targets[k] = low + float64(k)*step
		}
		targets[count-1] = high
	}

	tasks := make([]work.Task[solution], len(targets))
	for k, target := range targets {
		tasks[k] = work.Task[solution]{
			ID: fmt.Sprintf("frontier:%d", k),
			Fn: func(ctx context.Context) (solution, error) {
				if k == 0 {
					return anchor, nil
				}
				return o.targetReturn(ctx, req.ExpectedReturns, req.Covariance, target, req.Constraints)
			},
		}
	}

	solutions, err := work.Dispatch(ctx, o.coord, tasks)
	if err != nil {
		return domain.EfficientFrontier{}, err
	}

	points, warnings := buildFrontier(req.Symbols, solutions, req.Constraints.RiskFreeRate)

	o.log.Info().
		Int("assets", len(req.Symbols)).
		Int("targets", len(targets)).
		Int("points", len(points)).
		Dur("elapsed", time.Since(start)).
		Msg("Efficient frontier computed")

	return domain.EfficientFrontier{
		ID:       uuid.New().String(),
		Points:   points,
		Warnings: warnings,
	}, nil
}

// buildFrontier sorts solutions by risk and keeps only distinct Pareto-optimal allocations
func buildFrontier(symbols []string, solutions []solution, rf float64) ([]domain.FrontierPoint, []domain.Warning) {
	sorted := append([]solution(nil), solutions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].risk != sorted[j].risk {
			return sorted[i].risk < sorted[j].risk
		}
		return sorted[i].ret > sorted[j].ret
	})

	warnings := []domain.Warning{}
	seenWarning := make(map[domain.WarningKind]bool)

	var kept []solution
	for _, s := range sorted {
		for _, w := range s.warnings {
			if !seenWarning[w.Kind] {
				seenWarning[w.Kind] = true
				warnings = append(warnings, w)
			}
		}
		if len(kept) > 0 {
			last := kept[len(kept)-1]
			if sameWeights(last.weights, s.weights) {
				continue
			}
			// Higher (or equal) risk without strictly higher return is dominated
			if s.ret <= last.ret+feasibilityTolerance {
				continue
			}
		}
		kept = append(kept, s)
	}

	points := make([]domain.FrontierPoint, len(kept))
	for i, s := range kept {
		weights := make(map[string]float64, len(symbols))
		for j, sym := range symbols {
			weights[sym] = s.weights[j] * 100
		}
		points[i] = domain.FrontierPoint{
			ExpectedReturn: s.ret,
			ExpectedRisk:   s.risk,
			SharpeRatio:    sharpe(s.ret, s.risk, rf),
			Weights:        weights,
		}
	}
	return points, warnings
}

func sameWeights(a, b []float64) bool {
	for i := range a {
		if math.Abs(a[i]-b[i]) > duplicateTolerance {
			return false
		}
	}
	return true
}
