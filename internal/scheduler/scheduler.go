// Package scheduler runs the engine's periodic maintenance jobs: the
// substrate cache sweep and the database integrity check.
package scheduler

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job is a unit of maintenance work. A failing Run is logged and retried on
// the next tick.
type Job interface {
	Run() error
	Name() string
}

// Scheduler fires registered jobs on cron schedules
type Scheduler struct {
	cron *cron.Cron
	log  zerolog.Logger
}

// New returns an idle Scheduler. Schedules accept an optional leading seconds field.
func New(log zerolog.Logger) *Scheduler {
	parser := cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)
	return &Scheduler{
		cron: cron.New(cron.WithParser(parser)),
		log:  log.With().Str("component", "scheduler").Logger(),
	}
}

// Len reports how many jobs are registered
func (s *Scheduler) Len() int {
	return len(s.cron.Entries())
}

// Start begins firing jobs in the background
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Int("jobs", s.Len()).Msg("Maintenance scheduler started")
}

// Stop halts the schedule and blocks until in-flight jobs return
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("Maintenance scheduler stopped")
}

// AddJob registers job under a cron expression or descriptor such as
// "@every 1m" or "0 */5 * * * *". Jobs are not run at registration.
func (s *Scheduler) AddJob(schedule string, job Job) error {
	name := job.Name()
	if _, err := s.cron.AddFunc(schedule, func() { s.fire(job) }); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", name, err)
	}

	s.log.Info().
		Str("schedule", schedule).
		Str("job", name).
		Msg("Maintenance job registered")
	return nil
}

func (s *Scheduler) fire(job Job) {
	log := s.log.With().Str("job", job.Name()).Logger()
	if err := job.Run(); err != nil {
		log.Error().Err(err).Msg("Maintenance job failed")
		return
	}
	log.Debug().Msg("Maintenance job done")
}

// RunNow runs job synchronously, bypassing its schedule
func (s *Scheduler) RunNow(job Job) error {
	s.log.Info().Str("job", job.Name()).Msg("Running maintenance job on demand")
	return job.Run()
}
