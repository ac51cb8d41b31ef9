// Package worker drives the timer-triggered jobs.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/arcade-backend/internal/config"
	"github.com/arcade-backend/internal/domain"
)

// Trigger emits a timer event for a job
type Trigger interface {
	Trigger(ctx context.Context, job domain.Job) error
}

// Scheduler fires timer events on the configured cron expressions
type Scheduler struct {
	trigger Trigger
	config  *config.ScheduleConfig
	logger  *slog.Logger
	parser  cron.Parser
	cron    *cron.Cron
	entries map[domain.Job]cron.EntryID
	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler in UTC
func NewScheduler(trigger Trigger, cfg *config.ScheduleConfig, logger *slog.Logger) *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Scheduler{
		trigger: trigger,
		config:  cfg,
		logger:  logger,
		parser:  parser,
		cron:    cron.New(cron.WithParser(parser), cron.WithLocation(time.UTC)),
		entries: make(map[domain.Job]cron.EntryID),
	}
}

// Start registers every job with a non-empty expression and begins firing.
// Timer events are published with ctx. With RunOnStart every scheduled job
// also fires once right away.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	for job, spec := range s.config.Specs() {
		if spec == "" {
			s.logger.Info("job not scheduled", "job", job)
			continue
		}
		schedule, err := s.parser.Parse(spec)
		if err != nil {
			return fmt.Errorf("parsing schedule of %s: %w", job, err)
		}
		job := job
		s.entries[job] = s.cron.Schedule(schedule, cron.FuncJob(func() {
			s.fire(ctx, job)
		}))
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("scheduler started", "jobs", len(s.entries))

	if s.config.RunOnStart {
		go s.RunOnce(ctx)
	}
	return nil
}

// Stop stops firing and waits for in-flight triggers
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info("scheduler stopped")
	return nil
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRuns returns the next fire time of every scheduled job
func (s *Scheduler) NextRuns() map[domain.Job]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[domain.Job]time.Time, len(s.entries))
	for job, id := range s.entries {
		next[job] = s.cron.Entry(id).Next
	}
	return next
}

// RunOnce fires every configured job immediately, in name order
func (s *Scheduler) RunOnce(ctx context.Context) {
	specs := s.config.Specs()
	jobs := make([]domain.Job, 0, len(specs))
	for job, spec := range specs {
		if spec != "" {
			jobs = append(jobs, job)
		}
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i] < jobs[j] })

	for _, job := range jobs {
		s.fire(ctx, job)
	}
}

func (s *Scheduler) fire(ctx context.Context, job domain.Job) {
	if err := s.trigger.Trigger(ctx, job); err != nil {
		s.logger.Error("failed to trigger job", "job", job, "error", err)
		return
	}
	s.logger.Debug("job triggered", "job", job)
}
