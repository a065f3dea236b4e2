package domain

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// WeightTolerance is the allowed deviation (percentage points) of the weight sum from 100
const WeightTolerance = 0.01

// Holding is one position of a portfolio. Weight is a percentage (0..100).
type Holding struct {
	Symbol     string  `json:"symbol" validate:"required"`
	Weight     float64 `json:"weight" validate:"gte=0"`
	AssetClass string  `json:"assetClass,omitempty"`
}

// Portfolio is a set of holdings whose weights sum to 100%.
// Value is the notional used to express stress losses in money; zero means "use 100".
type Portfolio struct {
	ID       string          `json:"id,omitempty"`
	Holdings []Holding       `json:"holdings" validate:"required,min=1,dive"`
	Value    decimal.Decimal `json:"value"`
}

// Validate rejects malformed portfolios. It never normalizes.
func (p Portfolio) Validate() error {
	if len(p.Holdings) == 0 {
		return &InvalidParameterError{Field: "portfolio", Message: "portfolio has no holdings"}
	}

	seen := make(map[string]bool, len(p.Holdings))
	sum := 0.0
	for _, h := range p.Holdings {
		symbol := strings.TrimSpace(h.Symbol)
		if symbol == "" {
			return &InvalidParameterError{Field: "symbol", Message: "holding symbol is required"}
		}
		if seen[symbol] {
			return &InvalidParameterError{Field: "symbol", Message: fmt.Sprintf("duplicate holding %s", symbol)}
		}
		seen[symbol] = true

		if math.IsNaN(h.Weight) || math.IsInf(h.Weight, 0) {
			return &InvalidParameterError{Field: "weights", Message: fmt.Sprintf("weight of %s is not a finite number", symbol)}
		}
		if h.Weight < 0 {
			return &InvalidParameterError{Field: "weights", Message: fmt.Sprintf("weight of %s is negative (%.4f%%)", symbol, h.Weight)}
		}
		sum += h.Weight
	}

	if math.Abs(sum-100) > WeightTolerance {
		return &InvalidParameterError{
			Field:   "weights",
			Message: fmt.Sprintf("weights sum to %.4f%%, expected 100%% (tolerance %.2f)", sum, WeightTolerance),
		}
	}

	if p.Value.IsNegative() {
		return &InvalidParameterError{Field: "value", Message: "portfolio value must not be negative"}
	}
	return nil
}

// Symbols returns holding symbols in holding order
func (p Portfolio) Symbols() []string {
	out := make([]string, len(p.Holdings))
	for i, h := range p.Holdings {
		out[i] = h.Symbol
	}
	return out
}

// Fractions returns weights as fractions of 1 in holding order
func (p Portfolio) Fractions() []float64 {
	out := make([]float64, len(p.Holdings))
	for i, h := range p.Holdings {
		out[i] = h.Weight / 100
	}
	return out
}

// WeightOf returns the percentage weight of a symbol (0 when not held)
func (p Portfolio) WeightOf(symbol string) float64 {
	for _, h := range p.Holdings {
		if h.Symbol == symbol {
			return h.Weight
		}
	}
	return 0
}

// NotionalValue returns Value, or 100 when no value was supplied
func (p Portfolio) NotionalValue() decimal.Decimal {
	if p.Value.IsZero() {
		return decimal.NewFromInt(100)
	}
	return p.Value
}

// TotalWeight returns the sum of percentage weights
func (p Portfolio) TotalWeight() float64 {
	sum := 0.0
	for _, h := range p.Holdings {
		sum += h.Weight
	}
	return sum
}
