package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/riskengine/internal/config"
	"github.com/aristath/riskengine/internal/scheduler"
)

// Wire initializes all dependencies and returns a fully configured container
// Order of operations:
// 1. Initialize databases
// 2. Initialize readers, cache and engine components
// 3. Register maintenance jobs on sched
func Wire(cfg *config.Config, sched *scheduler.Scheduler, log zerolog.Logger) (*Container, *JobInstances, error) {
	// Step 1: Initialize databases
	container, err := InitializeDatabases(cfg, log)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize databases: %w", err)
	}

	// Step 2: Initialize services
	if err := InitializeServices(container, cfg, log); err != nil {
		container.Close()
		return nil, nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	// Step 3: Register jobs
	jobs, err := RegisterJobs(container, cfg, sched, log)
	if err != nil {
		container.Close()
		return nil, nil, fmt.Errorf("failed to register jobs: %w", err)
	}

	log.Info().Msg("Dependency injection wiring completed successfully")

	return container, jobs, nil
}

// Close releases every connection held by the container
func (c *Container) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if c.Redis != nil {
		keep(c.Redis.Close())
	}
	if c.HistoryDB != nil {
		keep(c.HistoryDB.Close())
	}
	if c.PortfolioDB != nil {
		keep(c.PortfolioDB.Close())
	}
	return firstErr
}
