package scheduler

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/riskengine/internal/database"
)

// DefaultCheckTimeout bounds one integrity check
const DefaultCheckTimeout = 30 * time.Second

// CheckDatabasesJob verifies the integrity of the collaborator SQLite stores
type CheckDatabasesJob struct {
	databases map[string]*database.DB
	timeout   time.Duration
	log       zerolog.Logger
}

// NewCheckDatabasesJob creates a new CheckDatabasesJob; nil databases are skipped
func NewCheckDatabasesJob(databases map[string]*database.DB, log zerolog.Logger) *CheckDatabasesJob {
	return &CheckDatabasesJob{
		databases: databases,
		timeout:   DefaultCheckTimeout,
		log:       log.With().Str("job", "check_databases").Logger(),
	}
}

// Name returns the job name
func (j *CheckDatabasesJob) Name() string {
	return "check_databases"
}

// Run checks every database in name order and stops at the first failure
func (j *CheckDatabasesJob) Run() error {
	names := make([]string, 0, len(j.databases))
	for name := range j.databases {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		db := j.databases[name]
		if db == nil {
			j.log.Warn().Str("database", name).Msg("Database not initialized, skipping")
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
		err := db.HealthCheck(ctx)
		cancel()
		if err != nil {
			j.log.Error().
				Err(err).
				Str("database", name).
				Msg("Database integrity check failed")
			return fmt.Errorf("database %s failed its integrity check: %w", name, err)
		}

		j.log.Debug().Str("database", name).Msg("Database integrity OK")
	}

	return nil
}
