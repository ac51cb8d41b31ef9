package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcade-backend/internal/domain"
)

func recordScores(t *testing.T, f *fixture, playerID string, scores ...int64) {
	t.Helper()
	events := make([]domain.GameplayEvent, len(scores))
	for i, s := range scores {
		events[i] = domain.GameplayEvent{
			ID:         fmt.Sprintf("%s-%d", playerID, i),
			PlayerID:   playerID,
			Type:       domain.GameplayEventGameEnd,
			Score:      s,
			OccurredAt: f.clock.Now().Add(-time.Duration(len(scores)-i) * time.Minute),
		}
	}
	require.NoError(t, f.store.RecordGameplay(context.Background(), events))
}

func TestDetector_Analyze(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name    string
		scores  []int64
		reasons int
	}{
		{"six identical scores", []int64{420, 420, 420, 420, 420, 420}, 1},
		{"five identical scores", []int64{420, 420, 420, 420, 420}, 0},
		{"identical run after warmup", []int64{100, 250, 420, 420, 420, 420, 420, 420}, 1},
		{"identical run broken by latest", []int64{420, 420, 420, 420, 420, 420, 430}, 0},
		{"varying plausible scores", []int64{100, 150, 210, 260, 330, 400}, 0},
		{"huge jump", []int64{10, 20, 5000}, 1},
		{"near maximum", []int64{700_000, 850_000}, 1},
		{"single score", []int64{999_999}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, f.detector.Analyze(tt.scores), tt.reasons)
		})
	}
}

func TestDetector_FlagsBotLikeRepetition(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	recordScores(t, f, "bot", 420, 420, 420, 420, 420, 420)
	recordScores(t, f, "human", 100, 150, 210, 260, 330, 400)

	res, err := f.jobs.Run(ctx, domain.JobDetectSuspicious)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Processed)

	flagged, err := f.store.ListFlagged(ctx, domain.FlagPendingReview, 10)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, "bot", flagged[0].PlayerID)
	assert.Equal(t, domain.FlagPendingReview, flagged[0].Status)
	require.Len(t, flagged[0].Reasons, 1)
	assert.Contains(t, flagged[0].Reasons[0], "Identical score 420")
}

func TestDetector_RepeatedFlagsMergeReasons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	recordScores(t, f, "bot", 420, 420, 420, 420, 420, 420)
	_, err := f.detector.Run(ctx)
	require.NoError(t, err)

	f.clock.Advance(30 * time.Minute)
	recordScores(t, f, "bot", 10, 900_000)
	_, err = f.detector.Run(ctx)
	require.NoError(t, err)

	flagged, err := f.store.ListFlagged(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Greater(t, len(flagged[0].Reasons), 1)
}

func TestDetector_RescanDoesNotDuplicateReasons(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	recordScores(t, f, "bot", 420, 420, 420, 420, 420, 420)
	_, err := f.detector.Run(ctx)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	require.NoError(t, f.store.RecordGameplay(ctx, []domain.GameplayEvent{{
		ID:         "bot-extra",
		PlayerID:   "bot",
		Type:       domain.GameplayEventGameEnd,
		Score:      420,
		OccurredAt: f.clock.Now().Add(-time.Second),
	}}))
	_, err = f.detector.Run(ctx)
	require.NoError(t, err)

	flagged, err := f.store.ListFlagged(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Equal(t, []string{"Identical score 420 repeated more than 5 times"}, flagged[0].Reasons)
}

func TestDetector_IgnoresEventsOutsideWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	recordScores(t, f, "bot", 420, 420, 420, 420, 420, 420)
	f.clock.Advance(2 * f.cfg.Detector.Window)

	res, err := f.detector.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Processed)

	flagged, err := f.store.ListFlagged(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, flagged)
}
