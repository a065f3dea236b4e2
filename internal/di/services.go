package di

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskengine/internal/cache"
	"github.com/aristath/riskengine/internal/config"
	"github.com/aristath/riskengine/internal/domain"
	"github.com/aristath/riskengine/internal/engine"
	"github.com/aristath/riskengine/internal/metrics"
	"github.com/aristath/riskengine/internal/modules/optimization"
	"github.com/aristath/riskengine/internal/modules/risk"
	"github.com/aristath/riskengine/internal/modules/statistics"
	"github.com/aristath/riskengine/internal/modules/stress"
	"github.com/aristath/riskengine/internal/store"
	"github.com/aristath/riskengine/internal/work"
)

// classifierLoadTimeout bounds the one-off read of the asset_classes table
const classifierLoadTimeout = 10 * time.Second

// redisConnectTimeout bounds the startup ping of the shared cache tier
const redisConnectTimeout = 5 * time.Second

// redisKeyPrefix namespaces substrate entries in a shared Redis
const redisKeyPrefix = "riskengine:substrate:"

// InitializeServices builds the readers, cache, coordinator and engine components
func InitializeServices(container *Container, cfg *config.Config, log zerolog.Logger) error {
	// Readers
	container.PriceRepo = store.NewPriceRepository(container.HistoryDB, log)
	container.PortfolioRepo = store.NewPortfolioRepository(container.PortfolioDB, log)

	// Asset classes are read once; edits to asset_classes need a restart
	classifier, err := loadClassifier(container.PortfolioRepo)
	if err != nil {
		return fmt.Errorf("failed to load asset classes: %w", err)
	}
	container.Classifier = classifier

	// Metrics
	container.Metrics = metrics.New()

	// Coordinator (shared by every request)
	container.Coordinator = work.NewCoordinator(work.Config{
		MaxInFlight:       cfg.Workers.MaxInFlight,
		ParallelThreshold: cfg.Workers.ParallelThreshold,
		Observer:          container.Metrics,
	}, log)

	// Substrate cache: memory, optionally layered over Redis
	memory := cache.NewMemoryCache[statistics.Substrate](
		cfg.Cache.TTL,
		cfg.Cache.MaxEntries,
		log,
		cache.WithRecorder(container.Metrics),
	)
	container.Cache = memory
	container.CacheSweep = memory

	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), redisConnectTimeout)
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			return fmt.Errorf("failed to connect shared cache: %w", err)
		}
		container.Redis = client

		shared := cache.NewRedisCache[statistics.Substrate](client, redisKeyPrefix, cfg.Cache.TTL, container.Metrics, log)
		tiered := cache.NewTiered[statistics.Substrate](memory, shared)
		container.Cache = tiered
		container.CacheSweep = tiered
		log.Info().Msg("Shared Redis cache tier enabled")
	}

	// Components
	container.Statistics = statistics.NewEngine(cfg.Statistics.MinObservations, log)
	container.Calculator = risk.NewCalculator(risk.Config{
		Simulations: cfg.Risk.Simulations,
		Budget:      cfg.Risk.Budget,
	}, container.Coordinator, log)
	container.Stress = stress.NewEngine(container.Classifier, container.Coordinator, log)
	container.Optimizer = optimization.NewOptimizer(optimization.Config{
		MaxIterations:  cfg.Optimization.MaxIterations,
		FrontierPoints: cfg.Optimization.FrontierPoints,
	}, container.Coordinator, log)

	container.Engine = engine.NewService(engine.Deps{
		Prices:     container.PriceRepo,
		Portfolios: container.PortfolioRepo,
		Statistics: container.Statistics,
		Calculator: container.Calculator,
		Stress:     container.Stress,
		Optimizer:  container.Optimizer,
		Cache:      container.Cache,
		Observer:   container.Metrics,
	}, engine.Config{
		RequestTimeout: cfg.RequestTimeout,
	}, log)

	log.Info().
		Int("max_in_flight", container.Coordinator.MaxInFlight()).
		Int("asset_classes", len(classifier)).
		Msg("Services initialized")

	return nil
}

func loadClassifier(repo *store.PortfolioRepository) (domain.StaticClassifier, error) {
	ctx, cancel := context.WithTimeout(context.Background(), classifierLoadTimeout)
	defer cancel()
	return repo.LoadClassifier(ctx)
}
