package testing

import (
	"database/sql"
	"math"
	"testing"
	"time"

	"github.com/aristath/riskengine/internal/database"
	"github.com/aristath/riskengine/internal/domain"
)

// FixtureStart is the first trading day of generated price fixtures
var FixtureStart = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// NewPriceFixture generates n daily closes starting at 100 with a sinusoidal return pattern
func NewPriceFixture(symbol string, n int, amplitude, drift, phase float64) domain.PriceSeries {
	points := make([]domain.PricePoint, n)
	price := 100.0
	for i := range points {
		if i > 0 {
			price *= 1 + drift + amplitude*math.Sin(float64(i)*0.9+phase)
		}
		points[i] = domain.PricePoint{Time: FixtureStart.AddDate(0, 0, i), Price: price}
	}
	return domain.PriceSeries{Symbol: symbol, Points: points}
}

// NewPortfolioFixture returns the 60/40 equity/bond portfolio used across tests
func NewPortfolioFixture(id string) domain.Portfolio {
	return domain.Portfolio{
		ID: id,
		Holdings: []domain.Holding{
			{Symbol: "AAPL", Weight: 60, AssetClass: "equity"},
			{Symbol: "BONDS", Weight: 40, AssetClass: "bond"},
		},
	}
}

// SeedPrices writes price series into a "history" test database
func SeedPrices(t *testing.T, db *database.DB, series ...domain.PriceSeries) {
	t.Helper()
	err := database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		for _, s := range series {
			for _, p := range s.Points {
				if _, err := tx.Exec(
					"INSERT INTO daily_prices (symbol, date, close) VALUES (?, ?, ?)",
					s.Symbol, p.Time.UTC().Unix(), p.Price,
				); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to seed prices: %v", err)
	}
}

// SeedPortfolio writes a portfolio into a "portfolio" test database
func SeedPortfolio(t *testing.T, db *database.DB, p domain.Portfolio) {
	t.Helper()
	err := database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		if _, err := tx.Exec(
			"INSERT INTO portfolios (id, value, created_at) VALUES (?, ?, ?)",
			p.ID, p.Value.String(), FixtureStart.Unix(),
		); err != nil {
			return err
		}
		for i, h := range p.Holdings {
			if _, err := tx.Exec(
				"INSERT INTO portfolio_holdings (portfolio_id, symbol, weight, asset_class, position) VALUES (?, ?, ?, ?, ?)",
				p.ID, h.Symbol, h.Weight, h.AssetClass, i,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to seed portfolio %s: %v", p.ID, err)
	}
}

// SeedAssetClasses writes symbol → asset class rows into a "portfolio" test database
func SeedAssetClasses(t *testing.T, db *database.DB, classes map[string]string) {
	t.Helper()
	err := database.WithTransaction(db.Conn(), func(tx *sql.Tx) error {
		for symbol, class := range classes {
			if _, err := tx.Exec("INSERT INTO asset_classes (symbol, asset_class) VALUES (?, ?)", symbol, class); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Failed to seed asset classes: %v", err)
	}
}
