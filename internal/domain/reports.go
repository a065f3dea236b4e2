package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// VaRMethod selects the Value-at-Risk estimator
type VaRMethod string

const (
	VaRHistorical VaRMethod = "historical"
	VaRParametric VaRMethod = "parametric"
	VaRMonteCarlo VaRMethod = "monte_carlo"
)

// Validate checks the method is supported
func (m VaRMethod) Validate() error {
	switch m {
	case VaRHistorical, VaRParametric, VaRMonteCarlo:
		return nil
	default:
		return &InvalidParameterError{Field: "method", Message: fmt.Sprintf("unsupported VaR method %q", string(m))}
	}
}

// SupportedConfidences are the only confidence levels the engine reports
var SupportedConfidences = []float64{0.90, 0.95, 0.99}

// ValidateConfidence rejects confidence levels outside SupportedConfidences
func ValidateConfidence(c float64) error {
	for _, s := range SupportedConfidences {
		if math.Abs(c-s) < 1e-9 {
			return nil
		}
	}
	return &InvalidParameterError{
		Field:   "confidence",
		Message: fmt.Sprintf("confidence %v not supported (use 0.90, 0.95 or 0.99)", c),
	}
}

// VaRLevel holds the loss figures at one confidence level. Positive values are losses.
type VaRLevel struct {
	Confidence float64 `json:"confidence"`
	VaR        float64 `json:"var"`
	CVaR       float64 `json:"cvar"`
}

// AssetRisk is the standalone VaR of a single holding, scaled by its weight
type AssetRisk struct {
	Symbol     string  `json:"symbol"`
	Weight     float64 `json:"weight"`
	Confidence float64 `json:"confidence"`
	VaR        float64 `json:"var"`
	CVaR       float64 `json:"cvar"`
}

// RiskReportParams carries the values a RiskReport is built from
type RiskReportParams struct {
	ID                   string
	PortfolioID          string
	Method               VaRMethod
	Levels               []VaRLevel
	ExpectedReturn       float64
	AnnualizedVolatility float64
	Beta                 *float64
	Observations         int
	Seed                 *uint64
	Contributions        []AssetRisk
	Correlations         []CorrelationPair
	Warnings             []Warning
	GeneratedAt          time.Time
}

// RiskReport is an immutable risk summary. All accessors return copies.
type RiskReport struct {
	p RiskReportParams
}

// NewRiskReport copies params into a new immutable report
func NewRiskReport(p RiskReportParams) RiskReport {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	if p.GeneratedAt.IsZero() {
		p.GeneratedAt = time.Now().UTC()
	}
	p.Levels = append([]VaRLevel(nil), p.Levels...)
	p.Contributions = append([]AssetRisk(nil), p.Contributions...)
	p.Correlations = append([]CorrelationPair(nil), p.Correlations...)
	p.Warnings = append([]Warning(nil), p.Warnings...)
	if p.Beta != nil {
		b := *p.Beta
		p.Beta = &b
	}
	if p.Seed != nil {
		s := *p.Seed
		p.Seed = &s
	}
	return RiskReport{p: p}
}

func (r RiskReport) ID() string                    { return r.p.ID }
func (r RiskReport) PortfolioID() string           { return r.p.PortfolioID }
func (r RiskReport) Method() VaRMethod             { return r.p.Method }
func (r RiskReport) ExpectedReturn() float64       { return r.p.ExpectedReturn }
func (r RiskReport) AnnualizedVolatility() float64 { return r.p.AnnualizedVolatility }
func (r RiskReport) Observations() int             { return r.p.Observations }
func (r RiskReport) GeneratedAt() time.Time        { return r.p.GeneratedAt }

// Levels returns VaR/CVaR per requested confidence, in request order
func (r RiskReport) Levels() []VaRLevel { return append([]VaRLevel(nil), r.p.Levels...) }

// Contributions returns the per-asset breakdown (empty unless requested)
func (r RiskReport) Contributions() []AssetRisk {
	return append([]AssetRisk(nil), r.p.Contributions...)
}

// Correlations returns highly correlated asset pairs found in the substrate
func (r RiskReport) Correlations() []CorrelationPair {
	return append([]CorrelationPair(nil), r.p.Correlations...)
}

// Warnings returns numerical quality flags
func (r RiskReport) Warnings() []Warning { return append([]Warning(nil), r.p.Warnings...) }

// Beta returns the beta against the benchmark, if one was supplied
func (r RiskReport) Beta() (float64, bool) {
	if r.p.Beta == nil {
		return 0, false
	}
	return *r.p.Beta, true
}

// Seed returns the Monte Carlo seed used, if any
func (r RiskReport) Seed() (uint64, bool) {
	if r.p.Seed == nil {
		return 0, false
	}
	return *r.p.Seed, true
}

// Level returns the figures for one confidence level
func (r RiskReport) Level(confidence float64) (VaRLevel, bool) {
	for _, l := range r.p.Levels {
		if math.Abs(l.Confidence-confidence) < 1e-9 {
			return l, true
		}
	}
	return VaRLevel{}, false
}

// Degraded reports whether any numerical warning was attached
func (r RiskReport) Degraded() bool { return len(r.p.Warnings) > 0 }

// MarshalJSON renders the report for the API layer
func (r RiskReport) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID                   string            `json:"id"`
		PortfolioID          string            `json:"portfolioId,omitempty"`
		Method               VaRMethod         `json:"method"`
		Levels               []VaRLevel        `json:"levels"`
		ExpectedReturn       float64           `json:"expectedReturn"`
		AnnualizedVolatility float64           `json:"annualizedVolatility"`
		Beta                 *float64          `json:"beta,omitempty"`
		Observations         int               `json:"observations"`
		Seed                 *uint64           `json:"seed,omitempty"`
		Contributions        []AssetRisk       `json:"contributions,omitempty"`
		Correlations         []CorrelationPair `json:"highCorrelations,omitempty"`
		Warnings             []Warning         `json:"warnings"`
		Degraded             bool              `json:"degraded"`
		GeneratedAt          time.Time         `json:"generatedAt"`
	}{
		ID:                   r.p.ID,
		PortfolioID:          r.p.PortfolioID,
		Method:               r.p.Method,
		Levels:               r.Levels(),
		ExpectedReturn:       r.p.ExpectedReturn,
		AnnualizedVolatility: r.p.AnnualizedVolatility,
		Beta:                 r.p.Beta,
		Observations:         r.p.Observations,
		Seed:                 r.p.Seed,
		Contributions:        r.Contributions(),
		Correlations:         r.Correlations(),
		Warnings:             nonNilWarnings(r.p.Warnings),
		Degraded:             r.Degraded(),
		GeneratedAt:          r.p.GeneratedAt,
	})
}

func nonNilWarnings(w []Warning) []Warning {
	if w == nil {
		return []Warning{}
	}
	return append([]Warning(nil), w...)
}

// StressScenario maps asset classes to shock percentages (-40 = a 40% fall)
type StressScenario struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Shocks      map[string]float64 `json:"shocks"`
}

// AssetClassLoss is the loss attributed to one asset class
type AssetClassLoss struct {
	AssetClass string          `json:"assetClass"`
	Shock      float64         `json:"shock"`
	Exposure   decimal.Decimal `json:"exposure"`
	Loss       decimal.Decimal `json:"loss"`
	Symbols    []string        `json:"symbols"`
}

// StressResult is the outcome of one scenario. Positive losses are losses.
type StressResult struct {
	ID             string           `json:"id"`
	Scenario       string           `json:"scenario"`
	PortfolioID    string           `json:"portfolioId,omitempty"`
	PortfolioValue decimal.Decimal  `json:"portfolioValue"`
	TotalLoss      decimal.Decimal  `json:"totalLoss"`
	LossPct        decimal.Decimal  `json:"lossPct"`
	ByAssetClass   []AssetClassLoss `json:"byAssetClass"`
	Unaffected     []string         `json:"unaffected"`
}

// ObjectiveKind selects the optimization objective
type ObjectiveKind string

const (
	ObjectiveMinVariance  ObjectiveKind = "min_variance"
	ObjectiveMaxSharpe    ObjectiveKind = "max_sharpe"
	ObjectiveTargetReturn ObjectiveKind = "target_return"
)

// Objective is the optimization goal; TargetReturn is only read for target_return
type Objective struct {
	Kind         ObjectiveKind `json:"kind"`
	TargetReturn float64       `json:"targetReturn,omitempty"`
}

// Validate checks the objective kind
func (o Objective) Validate() error {
	switch o.Kind {
	case ObjectiveMinVariance, ObjectiveMaxSharpe:
		return nil
	case ObjectiveTargetReturn:
		if math.IsNaN(o.TargetReturn) || math.IsInf(o.TargetReturn, 0) {
			return &InvalidParameterError{Field: "targetReturn", Message: "target return must be finite"}
		}
		return nil
	default:
		return &InvalidParameterError{Field: "objective", Message: fmt.Sprintf("unsupported objective %q", string(o.Kind))}
	}
}

// Constraints are the optimizer's feasibility rules
type Constraints struct {
	AllowShort   bool    `json:"allowShort"`
	RiskFreeRate float64 `json:"riskFreeRate"`
}

// OptimizationResult is an optimized allocation plus its statistics
type OptimizationResult struct {
	ID             string    `json:"id"`
	Portfolio      Portfolio `json:"portfolio"`
	Objective      Objective `json:"objective"`
	ExpectedReturn float64   `json:"expectedReturn"`
	ExpectedRisk   float64   `json:"expectedRisk"`
	SharpeRatio    float64   `json:"sharpeRatio"`
	Iterations     int       `json:"iterations"`
	Warnings       []Warning `json:"warnings"`
}

// FrontierPoint is one Pareto-optimal (return, risk, weights) triple. Weights are percentages.
type FrontierPoint struct {
	ExpectedReturn float64            `json:"expectedReturn"`
	ExpectedRisk   float64            `json:"expectedRisk"`
	SharpeRatio    float64            `json:"sharpeRatio"`
	Weights        map[string]float64 `json:"weights"`
}

// EfficientFrontier is ordered by increasing risk
type EfficientFrontier struct {
	ID       string          `json:"id"`
	Points   []FrontierPoint `json:"points"`
	Warnings []Warning       `json:"warnings"`
}
