// Package scheduler runs the periodic maintenance jobs of the API
// (rate limiter sweeps, pool statistics) on a gocron scheduler.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/giygas/todo-api/logging"
)

// Job is one named periodic task
type Job struct {
	Name     string
	Interval time.Duration
	Run      func()
}

// Scheduler owns a gocron scheduler and the jobs registered on it
type Scheduler struct {
	cron *gocron.Scheduler

	mu      sync.Mutex
	started bool
	stopped bool
}

// New creates a scheduler. Jobs do not run until Start.
func New() *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	s.WaitForScheduleAll()
	return &Scheduler{cron: s}
}

// Add registers job; a panicking job is logged and does not stop the others
func (s *Scheduler) Add(job Job) error {
	if job.Interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive, got %s", job.Name, job.Interval)
	}
	if job.Run == nil {
		return fmt.Errorf("job %s: nil run function", job.Name)
	}

	run := func() {
		defer func() {
			if rec := recover(); rec != nil {
				logging.Error("Scheduled job panicked", "job", job.Name, "panic", rec)
			}
		}()
		job.Run()
	}

	if _, err := s.cron.Every(job.Interval).Tag(job.Name).Do(run); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", job.Name, err)
	}
	logging.Debug("Scheduled job", "job", job.Name, "interval", job.Interval.String())
	return nil
}

// Start runs the jobs in the background
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.cron.StartAsync()
}

// Jobs returns the number of registered jobs
func (s *Scheduler) Jobs() int {
	return s.cron.Len()
}

// Close stops the scheduler; running jobs finish first. Safe to call twice.
func (s *Scheduler) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.started {
		s.cron.Stop()
	}
	return nil
}
