package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const jobTimeout = 30 * time.Second

// Job is one periodic task.
type Job struct {
	Name  string
	Every time.Duration
	Run   func(ctx context.Context) error
}

// Scheduler runs jobs on fixed intervals.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	jobs    []Job
	logger  *slog.Logger
	running bool
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(logger *slog.Logger, jobs ...Job) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		jobs:   jobs,
		logger: logger.With("component", "scheduler"),
	}
}

// Start registers the jobs and starts the cron loop. It is a no-op if the
// scheduler is already running.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if len(s.cron.Entries()) == 0 {
		for _, job := range s.jobs {
			if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", job.Every), s.wrap(job)); err != nil {
				return fmt.Errorf("schedule %s: %w", job.Name, err)
			}
		}
	}
	s.cron.Start()
	s.running = true
	return nil
}

// Stop stops the loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	ctx := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-ctx.Done():
	case <-time.After(jobTimeout):
		s.logger.Warn("scheduler stop timed out")
	}
}

func (s *Scheduler) wrap(job Job) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()

		start := time.Now()
		if err := job.Run(ctx); err != nil {
			s.logger.Warn("job failed", "job", job.Name, "error", err)
			return
		}
		s.logger.Debug("job done", "job", job.Name, "duration", time.Since(start))
	}
}
