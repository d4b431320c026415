package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled task
type Job func(ctx context.Context) error

// Scheduler manages periodic tasks
type Scheduler struct {
	cron     *cron.Cron
	timezone *time.Location
	timeout  time.Duration
	log      zerolog.Logger

	mu   sync.Mutex
	jobs map[string]cron.EntryID
}

// New creates a new scheduler with the given timezone. Each job run is
// bounded by timeout.
func New(timezone string, timeout time.Duration, log zerolog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}

	// A run still in progress when the next tick fires is skipped.
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)

	return &Scheduler{
		cron:     c,
		timezone: loc,
		timeout:  timeout,
		log:      log,
		jobs:     make(map[string]cron.EntryID),
	}, nil
}

// AddJob adds a job with a cron schedule
// schedule format: "0 */6 * * *" (every six hours)
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	entryID, err := s.cron.AddFunc(schedule, func() {
		if err := s.RunNow(name, job); err != nil {
			s.log.Error().Err(err).Str("job", name).Msg("job failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.mu.Lock()
	if old, ok := s.jobs[name]; ok {
		s.cron.Remove(old)
	}
	s.jobs[name] = entryID
	s.mu.Unlock()

	s.log.Info().Str("job", name).Str("schedule", schedule).Msg("added job")
	return nil
}

// RemoveJob removes a scheduled job
func (s *Scheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		s.log.Info().Str("job", name).Msg("removed job")
	}
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	s.log.Info().Str("timezone", s.timezone.String()).Msg("starting scheduler")
	s.cron.Start()
}

// Stop halts the scheduler. The returned context is done once running jobs
// have finished.
func (s *Scheduler) Stop() context.Context {
	s.log.Info().Msg("stopping scheduler")
	return s.cron.Stop()
}

// RunNow immediately executes a job under the run timeout
func (s *Scheduler) RunNow(name string, job Job) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	s.log.Info().Str("job", name).Msg("starting job")
	start := time.Now()

	if err := job(ctx); err != nil {
		return err
	}

	s.log.Info().Str("job", name).Dur("took", time.Since(start)).Msg("job completed")
	return nil
}

// ListJobs returns info about scheduled jobs
func (s *Scheduler) ListJobs() []JobInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	infos := make([]JobInfo, 0, len(entries))

	for name, entryID := range s.jobs {
		for _, entry := range entries {
			if entry.ID == entryID {
				infos = append(infos, JobInfo{
					Name:    name,
					NextRun: entry.Next,
					LastRun: entry.Prev,
				})
				break
			}
		}
	}

	return infos
}

// JobInfo contains information about a scheduled job
type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}
