package di

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/riskengine/internal/config"
	"github.com/aristath/riskengine/internal/scheduler"
)

// checkDatabasesSchedule runs the store integrity check hourly
const checkDatabasesSchedule = "@hourly"

// RegisterJobs creates the maintenance jobs and schedules them on sched
func RegisterJobs(container *Container, cfg *config.Config, sched *scheduler.Scheduler, log zerolog.Logger) (*JobInstances, error) {
	jobs := &JobInstances{
		CacheSweep:     scheduler.NewCacheSweepJob(container.CacheSweep, log),
		CheckDatabases: scheduler.NewCheckDatabasesJob(container.Databases(), log),
	}

	if cfg.Cache.SweepSchedule != "" {
		if err := sched.AddJob(cfg.Cache.SweepSchedule, jobs.CacheSweep); err != nil {
			return nil, fmt.Errorf("failed to register cache sweep: %w", err)
		}
	}
	if err := sched.AddJob(checkDatabasesSchedule, jobs.CheckDatabases); err != nil {
		return nil, fmt.Errorf("failed to register database check: %w", err)
	}

	return jobs, nil
}
