package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arcade-backend/internal/config"
	"github.com/arcade-backend/internal/domain"
	"github.com/arcade-backend/internal/store"
)

func TestScopeKey(t *testing.T) {
	assert.Equal(t, "leaderboard:global:realtime", scopeKey(domain.GlobalScope()))
	assert.Equal(t, "leaderboard:daily:2024-03-06:realtime", scopeKey(domain.Scope("daily:2024-03-06")))
}

func TestScopeMirrorTTL(t *testing.T) {
	cfg := config.DefaultConfig().Game
	m := NewScopeMirror(nil, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	day := time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		scope domain.Scope
		want  time.Duration
	}{
		{domain.GlobalScope(), 0},
		{domain.DailyScope(day), cfg.DailyRetention},
		{domain.WeeklyScope(day), cfg.WeeklyRetention},
		{domain.FriendsScope("p1"), 0},
		{domain.TournamentScope("t1"), 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, m.ttl(tt.scope), tt.scope)
	}
}

func TestRateKeySeparatesBuckets(t *testing.T) {
	a := rateKey(store.RateKey{Subject: "p1", Action: "score_submission", Window: time.Minute})
	b := rateKey(store.RateKey{Subject: "p1", Action: "purchase_validation", Window: time.Hour})
	c := rateKey(store.RateKey{Subject: "p2", Action: "score_submission", Window: time.Minute})

	assert.Equal(t, "ratelimit:score_submission:p1:60000", a)
	assert.NotEqual(t, a, b)
	assert.NotEqual(t, a, c)
}

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { client.Close() })
	return srv, client
}

func TestRateLimiterSlidingWindow(t *testing.T) {
	_, client := newTestClient(t)
	l := NewRateLimiter(client)
	ctx := context.Background()
	key := store.RateKey{Subject: "p1", Action: "score_submission", Window: time.Minute}
	now := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)

	for i, member := range []string{"s1", "s2", "s3"} {
		ok, err := l.Allow(ctx, key, member, 3, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		assert.True(t, ok, member)
	}

	ok, err := l.Allow(ctx, key, "s4", 3, now.Add(5*time.Second))
	require.NoError(t, err)
	assert.False(t, ok, "fourth member inside the window")

	ok, err = l.Allow(ctx, key, "s2", 3, now.Add(6*time.Second))
	require.NoError(t, err)
	assert.True(t, ok, "known member is admitted again")

	ok, err = l.Allow(ctx, key, "s4", 3, now.Add(time.Minute))
	require.NoError(t, err)
	assert.True(t, ok, "oldest member left the window")

	ok, err = l.Allow(ctx, key, "s5", 3, now.Add(time.Minute+500*time.Millisecond))
	require.NoError(t, err)
	assert.False(t, ok, "window full again")
}

func TestRateLimiterBucketsAreIndependent(t *testing.T) {
	_, client := newTestClient(t)
	l := NewRateLimiter(client)
	ctx := context.Background()
	now := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	p1 := store.RateKey{Subject: "p1", Action: "score_submission", Window: time.Minute}
	p2 := store.RateKey{Subject: "p2", Action: "score_submission", Window: time.Minute}

	ok, err := l.Allow(ctx, p1, "a", 1, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(ctx, p1, "b", 1, now)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, p2, "b", 1, now)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestScopeMirrorRecordBestOnlyRaises(t *testing.T) {
	srv, client := newTestClient(t)
	m := NewScopeMirror(client, config.DefaultConfig().Game, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	scope := domain.GlobalScope()

	require.NoError(t, m.RecordBest(ctx, scope, "p1", 500))
	require.NoError(t, m.RecordBest(ctx, scope, "p1", 300))

	score, err := srv.ZScore(scopeKey(scope), "p1")
	require.NoError(t, err)
	assert.Equal(t, float64(500), score)

	require.NoError(t, m.RecordBest(ctx, scope, "p1", 700))
	score, err = srv.ZScore(scopeKey(scope), "p1")
	require.NoError(t, err)
	assert.Equal(t, float64(700), score)
}

func TestScopeMirrorExpiresDailyScopes(t *testing.T) {
	srv, client := newTestClient(t)
	cfg := config.DefaultConfig().Game
	m := NewScopeMirror(client, cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	daily := domain.DailyScope(time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC))

	require.NoError(t, m.RecordBest(ctx, daily, "p1", 10))
	require.NoError(t, m.RecordBest(ctx, domain.GlobalScope(), "p1", 10))

	assert.Equal(t, cfg.DailyRetention, srv.TTL(scopeKey(daily)))
	assert.Equal(t, time.Duration(0), srv.TTL(scopeKey(domain.GlobalScope())))
}

func TestScopeMirrorLiveRankSharesTies(t *testing.T) {
	_, client := newTestClient(t)
	m := NewScopeMirror(client, config.DefaultConfig().Game, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	scope := domain.GlobalScope()

	require.NoError(t, m.Sync(ctx, scope, []domain.LeaderboardEntry{
		{PlayerID: "a", Score: 900},
		{PlayerID: "b", Score: 700},
		{PlayerID: "c", Score: 700},
		{PlayerID: "d", Score: 100},
	}))

	tests := []struct {
		player string
		want   int64
	}{
		{"a", 1},
		{"b", 2},
		{"c", 2},
		{"d", 4},
	}
	for _, tt := range tests {
		rank, err := m.LiveRank(ctx, scope, tt.player)
		require.NoError(t, err)
		assert.Equal(t, tt.want, rank, tt.player)
	}

	_, err := m.LiveRank(ctx, scope, "missing")
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)
}

func TestScopeMirrorSyncRepairsLowerScores(t *testing.T) {
	srv, client := newTestClient(t)
	m := NewScopeMirror(client, config.DefaultConfig().Game, slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctx := context.Background()
	scope := domain.TournamentScope("t1")

	require.NoError(t, m.RecordBest(ctx, scope, "p1", 50))
	require.NoError(t, m.Sync(ctx, scope, []domain.LeaderboardEntry{
		{PlayerID: "p1", Score: 80},
		{PlayerID: "p2", Score: 60},
	}))
	require.NoError(t, m.Sync(ctx, scope, []domain.LeaderboardEntry{{PlayerID: "p1", Score: 10}}))

	score, err := srv.ZScore(scopeKey(scope), "p1")
	require.NoError(t, err)
	assert.Equal(t, float64(80), score)
	assert.True(t, srv.Exists(scopeKey(scope)))

	members, err := srv.ZMembers(scopeKey(scope))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p1", "p2"}, members)
}
