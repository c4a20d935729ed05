// Package scheduler runs registered maintenance jobs on cron expressions.
// Jobs can also be triggered by name, so tests and operators never wait on
// a real timer.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const stopTimeout = 30 * time.Second

// Job is a named unit of maintenance work. The context passed to Run is
// cancelled when the scheduler stops.
type Job struct {
	Name string
	Spec string
	Run  func(ctx context.Context) error
}

// Scheduler wraps robfig/cron with named jobs and a Trigger escape hatch.
type Scheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	cron    *rcron.Cron
	jobs    map[string]Job
	entries map[string]rcron.EntryID
	runCtx  context.Context
	cancel  context.CancelFunc
	started bool
}

// New creates a stopped scheduler. Register jobs with Add, then Start.
func New(logger *zap.Logger) *Scheduler {
	return &Scheduler{
		logger:  logger,
		cron:    rcron.New(rcron.WithSeconds()),
		jobs:    make(map[string]Job),
		entries: make(map[string]rcron.EntryID),
	}
}

// Add registers a job under a unique name. Jobs added after Start are
// scheduled immediately.
func (s *Scheduler) Add(name, spec string, run func(ctx context.Context) error) error {
	if name == "" || run == nil {
		return fmt.Errorf("job name and function are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %q already registered", name)
	}
	job := Job{Name: name, Spec: spec, Run: run}
	entryID, err := s.cron.AddFunc(spec, func() { s.execute(job) })
	if err != nil {
		return fmt.Errorf("failed to register job %q (%q): %w", name, spec, err)
	}
	s.jobs[name] = job
	s.entries[name] = entryID
	return nil
}

// Start begins firing jobs on their schedules. The scheduler stops when the
// context is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.runCtx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.started = true
	count := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("Scheduler started", zap.Int("jobs", count))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
}

// Stop cancels running jobs and waits for them, bounded by stopTimeout.
// Safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	done := s.cron.Stop()
	cancel()
	select {
	case <-done.Done():
	case <-time.After(stopTimeout):
		s.logger.Warn("Scheduler stop timed out waiting for running jobs")
	}
	s.logger.Info("Scheduler stopped")
}

// Trigger runs a registered job immediately, outside its schedule, and
// returns the job's error. It does not consult the cron clock.
func (s *Scheduler) Trigger(ctx context.Context, name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not registered", name)
	}
	return job.Run(ctx)
}

// Names lists registered job names.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	return names
}

func (s *Scheduler) execute(job Job) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil || ctx.Err() != nil {
		return
	}

	start := time.Now()
	s.logger.Info("Running scheduled job", zap.String("job", job.Name))
	if err := job.Run(ctx); err != nil {
		s.logger.Error("Scheduled job failed",
			zap.String("job", job.Name),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return
	}
	s.logger.Info("Scheduled job finished",
		zap.String("job", job.Name),
		zap.Duration("elapsed", time.Since(start)))
}
