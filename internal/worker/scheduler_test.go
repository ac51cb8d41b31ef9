package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcade-backend/internal/config"
	"github.com/arcade-backend/internal/domain"
)

type recordingTrigger struct {
	mu   sync.Mutex
	jobs []domain.Job
	err  error
}

func (r *recordingTrigger) Trigger(ctx context.Context, job domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs = append(r.jobs, job)
	return r.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnceFiresConfiguredJobs(t *testing.T) {
	trigger := &recordingTrigger{}
	cfg := &config.ScheduleConfig{
		RecomputeRanks: "*/30 * * * *",
		DailyReport:    "5 0 * * *",
	}
	s := NewScheduler(trigger, cfg, testLogger())

	s.RunOnce(context.Background())

	assert.Equal(t, []domain.Job{domain.JobDailyReport, domain.JobRecomputeRanks}, trigger.jobs)
}

func TestRunOnceContinuesAfterTriggerFailure(t *testing.T) {
	trigger := &recordingTrigger{err: errors.New("broker down")}
	cfg := &config.ScheduleConfig{Cleanup: "0 3 * * *", ReprocessErrored: "0 * * * *"}
	s := NewScheduler(trigger, cfg, testLogger())

	s.RunOnce(context.Background())

	assert.Len(t, trigger.jobs, 2)
}

func TestStartRegistersSchedules(t *testing.T) {
	cfg := &config.ScheduleConfig{
		RecomputeRanks:   "*/30 * * * *",
		Cleanup:          "0 3 * * *",
		DetectSuspicious: "",
	}
	s := NewScheduler(&recordingTrigger{}, cfg, testLogger())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.True(t, s.IsRunning())
	next := s.NextRuns()
	assert.Len(t, next, 2)
	assert.Contains(t, next, domain.JobCleanup)
	assert.NotContains(t, next, domain.JobDetectSuspicious)
	assert.Equal(t, 3, next[domain.JobCleanup].Hour())
}

func TestStartRunsJobsOnStart(t *testing.T) {
	trigger := &recordingTrigger{}
	cfg := &config.ScheduleConfig{
		RunOnStart:     true,
		RecomputeRanks: "*/30 * * * *",
		Cleanup:        "0 3 * * *",
	}
	s := NewScheduler(trigger, cfg, testLogger())

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	assert.Eventually(t, func() bool {
		trigger.mu.Lock()
		defer trigger.mu.Unlock()
		return len(trigger.jobs) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestStartRejectsInvalidExpression(t *testing.T) {
	cfg := &config.ScheduleConfig{DailyReport: "every day"}
	s := NewScheduler(&recordingTrigger{}, cfg, testLogger())

	err := s.Start(context.Background())
	require.Error(t, err)
	assert.False(t, s.IsRunning())
}

func TestStopIsIdempotent(t *testing.T) {
	s := NewScheduler(&recordingTrigger{}, &config.ScheduleConfig{}, testLogger())
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	assert.False(t, s.IsRunning())
}
