// Package store provides read-only SQLite implementations of the engine's collaborators.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskengine/internal/database"
	"github.com/aristath/riskengine/internal/domain"
)

// PriceRepository reads daily closes from the history database
type PriceRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewPriceRepository creates a price history reader
func NewPriceRepository(db *database.DB, log zerolog.Logger) *PriceRepository {
	return &PriceRepository{
		db:  db,
		log: log.With().Str("component", "price_repository").Logger(),
	}
}

// GetHistoricalPrices implements domain.PriceHistoryReader. Both bounds are inclusive.
// A symbol with no rows in the window returns a wrapped domain.ErrNotFound.
func (r *PriceRepository) GetHistoricalPrices(ctx context.Context, symbol string, start, end time.Time) (domain.PriceSeries, error) {
	query := `
		SELECT date, close
		FROM daily_prices
		WHERE symbol = ? AND date >= ? AND date <= ?
		ORDER BY date ASC
	`

	rows, err := r.db.QueryContext(ctx, query, symbol, start.UTC().Unix(), end.UTC().Unix())
	if err != nil {
		return domain.PriceSeries{}, fmt.Errorf("failed to query daily prices: %w", err)
	}
	defer rows.Close()

	series := domain.PriceSeries{Symbol: symbol}
	for rows.Next() {
		var (
			dateUnix int64
			price    float64
		)
		if err := rows.Scan(&dateUnix, &price); err != nil {
			return domain.PriceSeries{}, fmt.Errorf("failed to scan daily price: %w", err)
		}
		series.Points = append(series.Points, domain.PricePoint{
			Time:  time.Unix(dateUnix, 0).UTC(),
			Price: price,
		})
	}
	if err := rows.Err(); err != nil {
		return domain.PriceSeries{}, fmt.Errorf("error iterating daily prices: %w", err)
	}

	if len(series.Points) == 0 {
		return domain.PriceSeries{}, fmt.Errorf("no price history for %s between %s and %s: %w",
			symbol, start.Format("2006-01-02"), end.Format("2006-01-02"), domain.ErrNotFound)
	}

	r.log.Debug().Str("symbol", symbol).Int("points", len(series.Points)).Msg("Loaded price history")
	return series, nil
}
