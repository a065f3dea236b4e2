package domain

import (
	"context"
	"time"
)

// PriceHistoryReader reads historical prices from the collaborator data store.
// Implementations return ErrNotFound (wrapped) for unknown symbols.
type PriceHistoryReader interface {
	GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time) (PriceSeries, error)
}

// PortfolioReader reads stored portfolios. Implementations return ErrNotFound (wrapped) for unknown IDs.
type PortfolioReader interface {
	GetPortfolio(ctx context.Context, id string) (Portfolio, error)
}

// AssetClassifier resolves the asset class of a symbol for stress testing
type AssetClassifier interface {
	AssetClass(symbol string) (string, bool)
}

// StaticClassifier is an AssetClassifier backed by a fixed map
type StaticClassifier map[string]string

// AssetClass implements AssetClassifier
func (c StaticClassifier) AssetClass(symbol string) (string, bool) {
	class, ok := c[symbol]
	return class, ok
}
