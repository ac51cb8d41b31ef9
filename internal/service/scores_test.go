package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcade-backend/internal/config"
	"github.com/arcade-backend/internal/domain"
	"github.com/arcade-backend/internal/events"
)

func TestScoreValidator_KeepsBestScorePerScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, score := range []int64{100, 300, 200} {
		sub := f.submit(t, SubmitScoreRequest{PlayerID: "p1", Score: score})
		require.Equal(t, domain.SubmissionValid, sub.Status, sub.Reason)
		f.clock.Advance(time.Second)
	}

	for _, scope := range []domain.Scope{domain.GlobalScope(), domain.DailyScope(testStart), domain.WeeklyScope(testStart)} {
		entries, err := f.store.TopEntries(ctx, scope, 0, 10)
		require.NoError(t, err)
		require.Len(t, entries, 1, scope)
		assert.Equal(t, int64(300), entries[0].Score, scope)
	}
}

func TestScoreValidator_RateLimit(t *testing.T) {
	f := newFixture(t)
	limit := f.cfg.Game.MaxSubmissionsPerMinute

	for i := 1; i <= limit; i++ {
		sub := f.submit(t, SubmitScoreRequest{PlayerID: "p1", Score: 100})
		assert.Equal(t, domain.SubmissionValid, sub.Status, "submission %d", i)
		f.clock.Advance(time.Second)
	}

	sub := f.submit(t, SubmitScoreRequest{PlayerID: "p1", Score: 100})
	assert.Equal(t, domain.SubmissionInvalid, sub.Status)
	assert.Equal(t, domain.ReasonRateLimited, sub.Reason)
	assert.True(t, sub.Processed())

	// A different player has an independent window.
	other := f.submit(t, SubmitScoreRequest{PlayerID: "p2", Score: 100})
	assert.Equal(t, domain.SubmissionValid, other.Status)

	f.clock.Advance(time.Minute)
	later := f.submit(t, SubmitScoreRequest{PlayerID: "p1", Score: 100})
	assert.Equal(t, domain.SubmissionValid, later.Status)
}

func TestScoreValidator_UnrealisticImprovement(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.submit(t, SubmitScoreRequest{PlayerID: "p1", Score: 40})
	require.Equal(t, domain.SubmissionValid, first.Status)

	jump := f.submit(t, SubmitScoreRequest{PlayerID: "p1", Score: 5000})
	assert.Equal(t, domain.SubmissionInvalid, jump.Status)
	assert.Equal(t, "Unrealistic score improvement", jump.Reason)

	entry, err := f.store.GetEntry(ctx, domain.GlobalScope(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), entry.Score)

	next := f.submit(t, SubmitScoreRequest{PlayerID: "p1", Score: 80})
	assert.Equal(t, domain.SubmissionValid, next.Status)

	entry, err = f.store.GetEntry(ctx, domain.GlobalScope(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(80), entry.Score)
}

func TestScoreValidator_RejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		req    SubmitScoreRequest
		reason string
	}{
		{
			name:   "missing player",
			req:    SubmitScoreRequest{DisplayName: "x", Score: 10, AchievedAt: testStart},
			reason: domain.ReasonMissingFields,
		},
		{
			name:   "negative score",
			req:    SubmitScoreRequest{PlayerID: "p1", Score: -1},
			reason: domain.ReasonScoreOutOfRange,
		},
		{
			name:   "above maximum",
			req:    SubmitScoreRequest{PlayerID: "p1", Score: 1_000_001},
			reason: domain.ReasonScoreOutOfRange,
		},
		{
			name:   "game too short",
			req:    SubmitScoreRequest{PlayerID: "p1", Score: 10, GameDurationMs: ms(2 * time.Second)},
			reason: domain.ReasonGameTooShort,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			sub := f.submit(t, tt.req)
			assert.Equal(t, domain.SubmissionInvalid, sub.Status)
			assert.Equal(t, tt.reason, sub.Reason)

			entries, err := f.store.TopEntries(context.Background(), domain.GlobalScope(), 0, 10)
			require.NoError(t, err)
			assert.Empty(t, entries)
		})
	}
}

func TestScoreValidator_AcceptsLongEnoughGame(t *testing.T) {
	f := newFixture(t)
	sub := f.submit(t, SubmitScoreRequest{PlayerID: "p1", Score: 10, GameDurationMs: ms(f.cfg.Game.MinGameDuration)})
	assert.Equal(t, domain.SubmissionValid, sub.Status)
}

func TestScoreValidator_RedeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sub := f.submit(t, SubmitScoreRequest{PlayerID: "p1", Score: 500})
	require.Equal(t, domain.SubmissionValid, sub.Status)

	env, err := events.New(events.TypeScoreSubmitted, sub.PlayerID, events.ScoreSubmitted{Submission: *sub}, testStart)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, f.scores.HandleSubmitted(ctx, env))
	}

	scores, err := f.store.RecentScores(ctx, "p1", testStart.Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, []int64{500}, scores)

	got, err := f.store.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionValid, got.Status)
}

func TestScoreValidator_FanOut(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tournament, err := f.tournaments.Create(ctx, CreateTournamentRequest{Name: "Spring Cup", Active: true})
	require.NoError(t, err)

	sub := f.submit(t, SubmitScoreRequest{
		PlayerID:     "p1",
		Score:        250,
		FriendIDs:    []string{"p2", "p3", "p2", "p1"},
		TournamentID: tournament.ID,
	})
	require.Equal(t, domain.SubmissionValid, sub.Status)

	for _, scope := range []domain.Scope{
		domain.FriendsScope("p1"),
		domain.FriendsScope("p2"),
		domain.FriendsScope("p3"),
		tournament.Scope(),
	} {
		entry, err := f.store.GetEntry(ctx, scope, "p1")
		require.NoError(t, err, scope)
		assert.Equal(t, int64(250), entry.Score)
	}
}

func TestScoreValidator_SkipsInactiveTournament(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tournament, err := f.tournaments.Create(ctx, CreateTournamentRequest{Name: "Closed", Active: false})
	require.NoError(t, err)

	sub := f.submit(t, SubmitScoreRequest{PlayerID: "p1", Score: 250, TournamentID: tournament.ID})
	require.Equal(t, domain.SubmissionValid, sub.Status)

	_, err = f.store.GetEntry(ctx, tournament.Scope(), "p1")
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)
}

func TestScoreValidator_StoreFailureMarksError(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.limiter.setFail(true)
	sub := f.submit(t, SubmitScoreRequest{PlayerID: "p1", Score: 100})
	assert.Equal(t, domain.SubmissionError, sub.Status)
	assert.False(t, sub.Processed())

	err := f.scores.Process(ctx, sub.ID)
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))

	f.limiter.setFail(false)
	res, err := f.jobs.Run(ctx, domain.JobReprocessErrored)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	got, err := f.store.GetSubmission(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubmissionValid, got.Status)

	runs := f.store.JobRunsFor(domain.JobReprocessErrored)
	require.Len(t, runs, 1)
	assert.Empty(t, runs[0].Error)
}

func TestScoreValidator_UnpublishedSubmissionIsPickedUpAfterGracePeriod(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.publisher.setFail(true)
	_, err := f.scores.Enqueue(ctx, SubmitScoreRequest{
		PlayerID:       "p1",
		DisplayName:    "Player p1",
		Score:          300,
		AchievedAt:     f.clock.Now(),
		GameDurationMs: ms(time.Minute),
	})
	require.Error(t, err)
	f.publisher.setFail(false)

	res, err := f.jobs.Run(ctx, domain.JobReprocessErrored)
	require.NoError(t, err)
	assert.Zero(t, res.Processed, "inside the grace period")

	f.clock.Advance(f.cfg.Game.PendingGracePeriod + time.Second)
	res, err = f.jobs.Run(ctx, domain.JobReprocessErrored)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)

	entry, err := f.store.GetEntry(ctx, domain.GlobalScope(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(300), entry.Score)

	left, err := f.store.ListRetryableSubmissions(ctx, f.clock.Now(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestScoreValidator_ConcurrentSubmissionsKeepMaximum(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Game.MaxSubmissionsPerMinute = 100 })
	ctx := context.Background()

	done := make(chan struct{})
	for i := 1; i <= 20; i++ {
		i := i
		go func() {
			defer func() { done <- struct{}{} }()
			_, err := f.scores.Enqueue(ctx, SubmitScoreRequest{
				PlayerID:    fmt.Sprintf("p%d", i%2),
				DisplayName: "racer",
				Score:       int64(i * 10),
				AchievedAt:  testStart,
			})
			assert.NoError(t, err)
		}()
	}
	for i := 0; i < 20; i++ {
		<-done
	}

	p0, err := f.store.GetEntry(ctx, domain.GlobalScope(), "p0")
	require.NoError(t, err)
	assert.Equal(t, int64(200), p0.Score)

	p1, err := f.store.GetEntry(ctx, domain.GlobalScope(), "p1")
	require.NoError(t, err)
	assert.Equal(t, int64(190), p1.Score)
}

func TestScoreValidator_RecordTelemetry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	n, err := f.scores.RecordTelemetry(ctx, []domain.GameplayEvent{
		{PlayerID: "p1", Type: domain.GameplayEventGameEnd, Score: 10},
		{PlayerID: "", Type: domain.GameplayEventGameEnd, Score: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = f.scores.RecordTelemetry(ctx, nil)
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}
