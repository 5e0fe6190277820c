package cron

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs registered jobs when they fall due. Jobs run one at a time
// on the scheduler goroutine, so a slow job delays but never overlaps the
// next one.
type Scheduler struct {
	jobs         []*Job
	logger       *slog.Logger
	now          func() time.Time
	tickInterval time.Duration

	mu      sync.Mutex
	started bool
	wg      sync.WaitGroup
}

// Option configures the scheduler.
type Option func(*Scheduler)

// WithLogger configures the scheduler logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		if logger != nil {
			s.logger = logger.With("component", "cron")
		}
	}
}

// NewScheduler returns a scheduler without jobs.
func NewScheduler(opts ...Option) *Scheduler {
	scheduler := &Scheduler{
		logger:       slog.Default().With("component", "cron"),
		now:          time.Now,
		tickInterval: time.Second,
	}
	for _, opt := range opts {
		opt(scheduler)
	}
	return scheduler
}

// Add registers handler under id to run on spec.
func (s *Scheduler) Add(id, spec string, handler Handler) error {
	if id == "" || handler == nil {
		return fmt.Errorf("job id and handler are required")
	}
	sched, err := ParseSchedule(spec)
	if err != nil {
		return fmt.Errorf("job %s: %w", id, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range s.jobs {
		if job.ID == id {
			return fmt.Errorf("job %s already registered", id)
		}
	}
	s.jobs = append(s.jobs, &Job{
		ID:       id,
		Schedule: sched,
		Handler:  handler,
		NextRun:  sched.Next(s.now()),
	})
	return nil
}

// Start begins running jobs until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runDue(ctx)
			}
		}
	}()
}

// Stop waits for the scheduler loop to exit after its context ends.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunAll executes every job now regardless of its schedule and returns the
// first error of each failing job.
func (s *Scheduler) RunAll(ctx context.Context) map[string]error {
	errs := map[string]error{}
	for _, job := range s.snapshot() {
		if err := s.run(ctx, job, s.now()); err != nil {
			errs[job.ID] = err
		}
	}
	return errs
}

// Jobs returns a snapshot of registered jobs.
func (s *Scheduler) Jobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *job)
	}
	return out
}

func (s *Scheduler) snapshot() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	jobs := make([]*Job, len(s.jobs))
	copy(jobs, s.jobs)
	return jobs
}

func (s *Scheduler) runDue(ctx context.Context) int {
	now := s.now()
	count := 0
	for _, job := range s.snapshot() {
		s.mu.Lock()
		due := !job.NextRun.IsZero() && !now.Before(job.NextRun)
		s.mu.Unlock()
		if !due {
			continue
		}
		_ = s.run(ctx, job, now)
		count++
	}
	return count
}

func (s *Scheduler) run(ctx context.Context, job *Job, now time.Time) error {
	start := time.Now()
	err := job.Handler.Run(ctx)
	if err != nil {
		s.logger.Warn("cron job failed", "id", job.ID, "error", err)
	} else {
		s.logger.Debug("cron job completed", "id", job.ID, "duration", time.Since(start))
	}

	s.mu.Lock()
	job.LastRun = now
	job.Runs++
	job.LastError = ""
	if err != nil {
		job.LastError = err.Error()
	}
	job.NextRun = job.Schedule.Next(now)
	s.mu.Unlock()
	return err
}
