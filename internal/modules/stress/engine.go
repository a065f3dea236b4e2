// Package stress applies asset-class shock scenarios to portfolios.
package stress

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/work"
)

// Engine runs stress scenarios. Asset classes absent from a scenario get a 0% shock
// and are reported as unaffected rather than failing the request.
type Engine struct {
	classifier domain.AssetClassifier
	coord      *work.Coordinator
	log        zerolog.Logger
}

// NewEngine creates a stress engine. classifier may be nil.
func NewEngine(classifier domain.AssetClassifier, coord *work.Coordinator, log zerolog.Logger) *Engine {
	return &Engine{
		classifier: classifier,
		coord:      coord,
		log:        log.With().Str("component", "stress").Logger(),
	}
}

// AssetClass resolves the class of a holding: its own class, then the classifier, then "unclassified"
func (e *Engine) AssetClass(h domain.Holding) string {
	if class := normalizeClass(h.AssetClass); class != "" {
		return class
	}
	if e.classifier != nil {
		if class, ok := e.classifier.AssetClass(h.Symbol); ok && normalizeClass(class) != "" {
			return normalizeClass(class)
		}
	}
	return ClassUnclassified
}

// Run applies one scenario in a single deterministic pass. Losses are positive; the total
// equals the sum of the per-class breakdown exactly.
func (e *Engine) Run(portfolio domain.Portfolio, scenario domain.StressScenario) (domain.StressResult, error) {
	if err := portfolio.Validate(); err != nil {
		return domain.StressResult{}, err
	}
	if len(scenario.Shocks) == 0 {
		return domain.StressResult{}, &domain.InvalidParameterError{Field: "scenario", Message: "scenario has no shocks"}
	}

	value := portfolio.NotionalValue()
	byClass := make(map[string]*domain.AssetClassLoss)
	order := make([]string, 0)
	unaffected := make([]string, 0)

	for _, h := range portfolio.Holdings {
		class := e.AssetClass(h)
		shock, ok := scenario.Shocks[class]
		if !ok {
			e.log.Warn().
				Str("symbol", h.Symbol).
				Str("asset_class", class).
				Str("scenario", scenario.Name).
				Msg("No shock for asset class, treating as unaffected")
			unaffected = append(unaffected, h.Symbol)
		}

		exposure := value.Mul(decimal.NewFromFloat(h.Weight)).Shift(-2)
		loss := exposure.Mul(decimal.NewFromFloat(shock)).Shift(-2).Neg()

		entry, seen := byClass[class]
		if !seen {
			entry = &domain.AssetClassLoss{
				AssetClass: class,
				Shock:      shock,
				Exposure:   decimal.Zero,
				Loss:       decimal.Zero,
				Symbols:    []string{},
			}
			byClass[class] = entry
			order = append(order, class)
		}
		entry.Exposure = entry.Exposure.Add(exposure)
		entry.Loss = entry.Loss.Add(loss)
		entry.Symbols = append(entry.Symbols, h.Symbol)
	}

	total := decimal.Zero
	breakdown := make([]domain.AssetClassLoss, 0, len(order))
	for _, class := range order {
		entry := byClass[class]
		total = total.Add(entry.Loss)
		breakdown = append(breakdown, *entry)
	}

	lossPct := decimal.Zero
	if !value.IsZero() {
		lossPct = total.Shift(2).DivRound(value, 8)
	}

	return domain.StressResult{
		ID:             uuid.New().String(),
		Scenario:       scenario.Name,
		PortfolioID:    portfolio.ID,
		PortfolioValue: value,
		TotalLoss:      total,
		LossPct:        lossPct,
		ByAssetClass:   breakdown,
		Unaffected:     unaffected,
	}, nil
}

// RunAll runs several scenarios against one portfolio through the coordinator.
// Results are in scenario order.
func (e *Engine) RunAll(ctx context.Context, portfolio domain.Portfolio, scenarios []domain.StressScenario) ([]domain.StressResult, error) {
	if err := portfolio.Validate(); err != nil {
		return nil, err
	}

	tasks := make([]work.Task[domain.StressResult], len(scenarios))
	for i, s := range scenarios {
		s := s
		tasks[i] = work.Task[domain.StressResult]{
			ID: "stress:" + s.Name,
			Fn: func(ctx context.Context) (domain.StressResult, error) {
				return e.Run(portfolio, s)
			},
		}
	}

	results, err := work.Dispatch(ctx, e.coord, tasks)
	if err != nil {
		return nil, fmt.Errorf("failed to run stress scenarios: %w", err)
	}
	return results, nil
}
