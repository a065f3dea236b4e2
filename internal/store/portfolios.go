package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/riskengine/internal/database"
	"github.com/aristath/riskengine/internal/domain"
)

// PortfolioRepository reads stored portfolios and the asset class table
type PortfolioRepository struct {
	db  *database.DB
	log zerolog.Logger
}

// NewPortfolioRepository creates a portfolio reader
func NewPortfolioRepository(db *database.DB, log zerolog.Logger) *PortfolioRepository {
	return &PortfolioRepository{
		db:  db,
		log: log.With().Str("component", "portfolio_repository").Logger(),
	}
}

// GetPortfolio implements domain.PortfolioReader. Holdings keep their stored order.
func (r *PortfolioRepository) GetPortfolio(ctx context.Context, id string) (domain.Portfolio, error) {
	var value string
	err := r.db.QueryRowContext(ctx, "SELECT value FROM portfolios WHERE id = ?", id).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Portfolio{}, fmt.Errorf("portfolio %s: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("failed to query portfolio %s: %w", id, err)
	}

	p := domain.Portfolio{ID: id}
	if value != "" {
		p.Value, err = decimal.NewFromString(value)
		if err != nil {
			return domain.Portfolio{}, fmt.Errorf("portfolio %s has malformed value %q: %w", id, value, err)
		}
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT symbol, weight, asset_class
		FROM portfolio_holdings
		WHERE portfolio_id = ?
		ORDER BY position ASC, symbol ASC
	`, id)
	if err != nil {
		return domain.Portfolio{}, fmt.Errorf("failed to query holdings of %s: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var h domain.Holding
		if err := rows.Scan(&h.Symbol, &h.Weight, &h.AssetClass); err != nil {
			return domain.Portfolio{}, fmt.Errorf("failed to scan holding: %w", err)
		}
		p.Holdings = append(p.Holdings, h)
	}
	if err := rows.Err(); err != nil {
		return domain.Portfolio{}, fmt.Errorf("error iterating holdings: %w", err)
	}

	r.log.Debug().Str("portfolio_id", id).Int("holdings", len(p.Holdings)).Msg("Loaded portfolio")
	return p, nil
}

// LoadClassifier reads the asset class table into a static classifier
func (r *PortfolioRepository) LoadClassifier(ctx context.Context) (domain.StaticClassifier, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT symbol, asset_class FROM asset_classes")
	if err != nil {
		return nil, fmt.Errorf("failed to query asset classes: %w", err)
	}
	defer rows.Close()

	classes := make(domain.StaticClassifier)
	for rows.Next() {
		var symbol, class string
		if err := rows.Scan(&symbol, &class); err != nil {
			return nil, fmt.Errorf("failed to scan asset class: %w", err)
		}
		classes[symbol] = class
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating asset classes: %w", err)
	}

	r.log.Info().Int("symbols", len(classes)).Msg("Loaded asset classes")
	return classes, nil
}
