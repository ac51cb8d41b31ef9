package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcade-backend/internal/domain"
)

func TestJobRunner_TriggerDispatchesTimer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	seedEntry(t, f, domain.GlobalScope(), "p1", 10, testStart, testStart)
	require.NoError(t, f.jobs.Trigger(ctx, domain.JobRecomputeRanks))

	entry, err := f.store.GetEntry(ctx, domain.GlobalScope(), "p1")
	require.NoError(t, err)
	require.NotNil(t, entry.Rank)
	assert.Equal(t, int64(1), *entry.Rank)
	assert.Len(t, f.store.JobRunsFor(domain.JobRecomputeRanks), 1)
}

func TestJobRunner_UnknownJob(t *testing.T) {
	f := newFixture(t)

	_, err := f.jobs.Run(context.Background(), "defragment")
	assert.ErrorIs(t, err, domain.ErrUnknownJob)
	assert.ErrorIs(t, f.jobs.Trigger(context.Background(), "defragment"), domain.ErrUnknownJob)
}

func TestJobRunner_EveryJobIsRunnable(t *testing.T) {
	f := newFixture(t)
	for _, job := range domain.Jobs {
		_, err := f.jobs.Run(context.Background(), job)
		assert.NoError(t, err, job)
		assert.Len(t, f.store.JobRunsFor(job), 1, job)
	}
}
