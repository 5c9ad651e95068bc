// Package schedule triggers phase runs from cron expressions.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one cron-triggered run
type Job struct {
	Name   string
	Cron   string
	Phase  string
	Module string // empty runs the root project
}

// Validate checks if the job is valid
func (j *Job) Validate() error {
	if j.Name == "" {
		return fmt.Errorf("schedule name is required")
	}
	if j.Cron == "" {
		return fmt.Errorf("cron expression is required")
	}
	if j.Phase == "" {
		return fmt.Errorf("schedule %s: phase is required", j.Name)
	}
	if _, err := ParseCron(j.Cron); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// RunFunc executes a due job
type RunFunc func(ctx context.Context, job Job) error

// Scheduler manages scheduled runs
type Scheduler struct {
	jobs     map[string]Job
	parser   cron.Parser
	lastRun  map[string]time.Time
	running  map[string]bool
	interval time.Duration
	logger   *slog.Logger
	wg       sync.WaitGroup
	mu       sync.RWMutex
}

// NewScheduler creates a scheduler. Job names must be unique.
func NewScheduler(jobs []Job, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		jobs:     make(map[string]Job),
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		lastRun:  make(map[string]time.Time),
		running:  make(map[string]bool),
		interval: time.Minute,
		logger:   logger.With("component", "scheduler"),
	}

	for _, job := range jobs {
		if err := job.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.jobs[job.Name]; dup {
			return nil, fmt.Errorf("schedule %s declared twice", job.Name)
		}
		s.jobs[job.Name] = job
	}

	return s, nil
}

// ParseCron parses a five-field cron expression
func ParseCron(expr string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(expr)
}

// NextRun returns the next scheduled run time after now
func (s *Scheduler) NextRun(name string, now time.Time) time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[name]
	if !ok {
		return time.Time{}
	}

	sched, err := s.parser.Parse(job.Cron)
	if err != nil {
		return time.Time{}
	}

	return sched.Next(now)
}

// ShouldRun returns true if a job is due at now and not already running. A job
// that never ran is due once its first slot after the scheduler's start has passed.
func (s *Scheduler) ShouldRun(name string, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[name]
	if !ok {
		return false
	}

	if s.running[name] {
		return false
	}

	sched, err := s.parser.Parse(job.Cron)
	if err != nil {
		return false
	}

	lastRun, ok := s.lastRun[name]
	if !ok {
		return false
	}

	nextRun := sched.Next(lastRun)
	return !now.Before(nextRun)
}

// MarkRunning marks a job as currently running
func (s *Scheduler) MarkRunning(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = true
}

// MarkComplete marks a job as complete
func (s *Scheduler) MarkComplete(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running[name] = false
	s.lastRun[name] = at
}

// Job returns the job with the given name
func (s *Scheduler) Job(name string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[name]
	return job, ok
}

// Names returns all job names, sorted
func (s *Scheduler) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// arm records now as the reference point for jobs that never ran
func (s *Scheduler) arm(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name := range s.jobs {
		if _, ok := s.lastRun[name]; !ok {
			s.lastRun[name] = now
		}
	}
}

// Tick starts every job due at now and returns their names
func (s *Scheduler) Tick(ctx context.Context, now time.Time, run RunFunc) []string {
	var started []string
	for _, name := range s.Names() {
		if !s.ShouldRun(name, now) {
			continue
		}
		job, _ := s.Job(name)
		s.MarkRunning(name)
		started = append(started, name)

		s.wg.Add(1)
		go func(j Job) {
			defer s.wg.Done()
			s.logger.Info("scheduled run starting", "schedule", j.Name, "phase", j.Phase, "module", j.Module)
			if err := run(ctx, j); err != nil {
				s.logger.Error("scheduled run failed", "schedule", j.Name, "error", err)
			}
			s.MarkComplete(j.Name, time.Now())
		}(job)
	}
	return started
}

// Start runs the scheduler loop until ctx is cancelled, then waits for running jobs
func (s *Scheduler) Start(ctx context.Context, run RunFunc) {
	s.arm(time.Now())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return
		case now := <-ticker.C:
			s.Tick(ctx, now, run)
		}
	}
}

// Wait blocks until all started jobs have completed
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
