package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arcade-backend/internal/config"
	"github.com/arcade-backend/internal/domain"
)

// ScopeMirror keeps one sorted set per leaderboard scope for realtime reads.
// The durable store stays authoritative; the mirror only ever raises scores.
type ScopeMirror struct {
	client *redis.Client
	cfg    config.GameConfig
	logger *slog.Logger
}

// NewScopeMirror creates a mirror on client
func NewScopeMirror(client *redis.Client, cfg config.GameConfig, logger *slog.Logger) *ScopeMirror {
	return &ScopeMirror{
		client: client,
		cfg:    cfg,
		logger: logger,
	}
}

// scopeKey returns the Redis key for a scope's sorted set
func scopeKey(scope domain.Scope) string {
	return fmt.Sprintf("leaderboard:%s:realtime", scope)
}

// ttl returns how long a scope's set lives after its last write. Zero means
// the set never expires.
func (m *ScopeMirror) ttl(scope domain.Scope) time.Duration {
	switch scope.Kind() {
	case domain.ScopeDaily:
		return m.cfg.DailyRetention
	case domain.ScopeWeekly:
		return m.cfg.WeeklyRetention
	default:
		return 0
	}
}

// RecordBest raises playerID's score in scope when score is greater
func (m *ScopeMirror) RecordBest(ctx context.Context, scope domain.Scope, playerID string, score int64) error {
	return m.Sync(ctx, scope, []domain.LeaderboardEntry{{Scope: scope, PlayerID: playerID, Score: score}})
}

// Sync raises the mirrored scores of entries in one pipeline. Recomputes call
// it with durable entries so writes the mirror missed are repaired.
func (m *ScopeMirror) Sync(ctx context.Context, scope domain.Scope, entries []domain.LeaderboardEntry) error {
	if len(entries) == 0 {
		return nil
	}
	key := scopeKey(scope)

	members := make([]redis.Z, len(entries))
	for i, e := range entries {
		members[i] = redis.Z{
			Score:  float64(e.Score),
			Member: e.PlayerID,
		}
	}

	pipe := m.client.Pipeline()
	pipe.ZAddGT(ctx, key, members...)
	if ttl := m.ttl(scope); ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mirroring scores: %w", err)
	}
	return nil
}

// LiveRank returns one plus the number of mirrored players in scope with a
// strictly higher score, so tied players share a rank.
func (m *ScopeMirror) LiveRank(ctx context.Context, scope domain.Scope, playerID string) (int64, error) {
	key := scopeKey(scope)

	score, err := m.client.ZScore(ctx, key, playerID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, domain.ErrEntryNotFound
		}
		return 0, fmt.Errorf("getting mirrored score: %w", err)
	}

	above, err := m.client.ZCount(ctx, key, "("+strconv.FormatFloat(score, 'f', -1, 64), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("counting higher scores: %w", err)
	}
	return above + 1, nil
}

// Ping reports whether Redis is reachable
func (m *ScopeMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}
