package scheduler

import (
	"github.com/rs/zerolog"
)

// Sweeper removes expired cache entries and reports how many were dropped
type Sweeper interface {
	Sweep() int
}

// CacheSweepJob evicts expired substrates from the in-process cache
type CacheSweepJob struct {
	cache Sweeper
	log   zerolog.Logger
}

// NewCacheSweepJob creates a new CacheSweepJob
func NewCacheSweepJob(cache Sweeper, log zerolog.Logger) *CacheSweepJob {
	return &CacheSweepJob{
		cache: cache,
		log:   log.With().Str("job", "cache_sweep").Logger(),
	}
}

// Name returns the job name
func (j *CacheSweepJob) Name() string {
	return "cache_sweep"
}

// Run executes the sweep
func (j *CacheSweepJob) Run() error {
	if j.cache == nil {
		return nil
	}
	if removed := j.cache.Sweep(); removed > 0 {
		j.log.Debug().Int("removed", removed).Msg("Expired cache entries removed")
	}
	return nil
}
