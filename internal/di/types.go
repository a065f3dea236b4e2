// Package di provides dependency injection wiring and initialization.
package di

import (
	"github.com/redis/go-redis/v9"

	"github.com/aristath/riskengine/internal/cache"
	"github.com/aristath/riskengine/internal/database"
	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/engine"
	"github.com/aristath/riskengine/internal/metrics"
	"github.com/aristath/riskengine/internal/modules/optimization"
	"github.com/aristath/riskengine/internal/modules/risk"
	"github.com/aristath/riskengine/internal/modules/statistics"
	"github.com/aristath/riskengine/internal/modules/stress"
	"github.com/aristath/riskengine/internal/scheduler"
	"github.com/aristath/riskengine/internal/store"
	"github.com/aristath/riskengine/internal/work"
)

// Container holds every long-lived dependency of the engine process
type Container struct {
	// Collaborator stores (read-only connections)
	HistoryDB   *database.DB
	PortfolioDB *database.DB

	// Readers
	PriceRepo     *store.PriceRepository
	PortfolioRepo *store.PortfolioRepository
	Classifier    domain.StaticClassifier

	// Infrastructure
	Metrics     *metrics.Metrics
	Coordinator *work.Coordinator
	Cache       cache.Cache[statistics.Substrate]
	CacheSweep  scheduler.Sweeper
	Redis       *redis.Client // nil unless REDIS_URL is set

	// Components
	Statistics *statistics.Engine
	Calculator *risk.Calculator
	Stress     *stress.Engine
	Optimizer  *optimization.Optimizer
	Engine     *engine.Service
}

// Databases returns the stores reported by health checks
func (c *Container) Databases() map[string]*database.DB {
	return map[string]*database.DB{
		"history":   c.HistoryDB,
		"portfolio": c.PortfolioDB,
	}
}

// JobInstances holds the scheduled maintenance jobs
type JobInstances struct {
	CacheSweep     *scheduler.CacheSweepJob
	CheckDatabases *scheduler.CheckDatabasesJob
}
