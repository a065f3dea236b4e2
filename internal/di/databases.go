package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/riskengine/internal/config"
	"github.com/aristath/riskengine/internal/database"
)

// InitializeDatabases opens the history and portfolio stores. Both are migrated once
// and then reopened with query_only so the engine can never write to them.
func InitializeDatabases(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	container := &Container{}

	// 1. history.db - Daily closing prices
	historyDB, err := database.OpenReadOnly(cfg.HistoryDBPath(), "history")
	if err != nil {
		return nil, fmt.Errorf("failed to initialize history database: %w", err)
	}
	container.HistoryDB = historyDB

	// 2. portfolio.db - Stored portfolios and asset classes
	portfolioDB, err := database.OpenReadOnly(cfg.PortfolioDBPath(), "portfolio")
	if err != nil {
		historyDB.Close()
		return nil, fmt.Errorf("failed to initialize portfolio database: %w", err)
	}
	container.PortfolioDB = portfolioDB

	log.Info().
		Str("history", historyDB.Path()).
		Str("portfolio", portfolioDB.Path()).
		Msg("Databases initialized")

	return container, nil
}
