package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/arcade-backend/internal/domain"
	"github.com/arcade-backend/internal/events"
	"github.com/arcade-backend/internal/quota"
)

// JobRunner executes scheduled jobs and records every run
type JobRunner struct {
	exec      *quota.Executor
	jobs      map[domain.Job]func(context.Context) (quota.Result, error)
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewJobRunner binds every job to the component that performs it
func NewJobRunner(
	exec *quota.Executor,
	ranking *RankingEngine,
	scores *ScoreValidator,
	purchases *PurchaseValidator,
	tournaments *TournamentService,
	detector *Detector,
	reporter *Reporter,
	publisher events.Publisher,
	logger *slog.Logger,
) *JobRunner {
	return &JobRunner{
		exec: exec,
		jobs: map[domain.Job]func(context.Context) (quota.Result, error){
			domain.JobRecomputeRanks:    ranking.RecomputeRanks,
			domain.JobCleanup:           ranking.Cleanup,
			domain.JobDetectSuspicious:  detector.Run,
			domain.JobDailyReport:       reporter.Run,
			domain.JobReprocessErrored:  scores.ReprocessErrored,
			domain.JobReprocessReceipts: purchases.ReprocessErrored,
			domain.JobSettleTournaments: tournaments.SettleEnded,
		},
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock replaces the runner's clock
func (r *JobRunner) SetClock(now func() time.Time) {
	r.now = now
}

// Run executes job once and records its outcome
func (r *JobRunner) Run(ctx context.Context, job domain.Job) (quota.Result, error) {
	fn, ok := r.jobs[job]
	if !ok {
		return quota.Result{}, fmt.Errorf("%w: %s", domain.ErrUnknownJob, job)
	}

	startedAt := r.now()
	r.logger.Info("job started", "job", job)
	res, err := fn(ctx)
	r.exec.Record(ctx, job, startedAt, res, err)
	return res, err
}

// Trigger publishes a timer event for job
func (r *JobRunner) Trigger(ctx context.Context, job domain.Job) error {
	if _, ok := r.jobs[job]; !ok {
		return fmt.Errorf("%w: %s", domain.ErrUnknownJob, job)
	}
	env, err := events.New(events.TypeTimerFired, string(job), events.TimerFired{Job: job}, r.now())
	if err != nil {
		return err
	}
	return r.publisher.Publish(ctx, env)
}

// HandleTimer is the timer.fired event handler
func (r *JobRunner) HandleTimer(ctx context.Context, env events.Envelope) error {
	var fired events.TimerFired
	if err := env.Decode(&fired); err != nil {
		return err
	}
	_, err := r.Run(ctx, fired.Job)
	return err
}

// Register binds every event type to its handler
func Register(
	d *events.Dispatcher,
	scores *ScoreValidator,
	purchases *PurchaseValidator,
	tournaments *TournamentService,
	jobs *JobRunner,
) {
	d.Register(events.TypeScoreSubmitted, scores.HandleSubmitted)
	d.Register(events.TypeReceiptSubmitted, purchases.HandleSubmitted)
	d.Register(events.TypeTournamentStateChanged, tournaments.HandleStateChanged)
	d.Register(events.TypeTimerFired, jobs.HandleTimer)
}
