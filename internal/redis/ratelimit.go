package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/arcade-backend/internal/store"
)

// slidingWindow prunes members at or before now-window, admits a known member
// again, and otherwise adds it while the set holds fewer than limit members.
var slidingWindow = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local member = ARGV[4]

redis.call('ZREMRANGEBYSCORE', key, '-inf', now - window)
if redis.call('ZSCORE', key, member) then
  return 1
end
if redis.call('ZCARD', key) >= limit then
  return 0
end
redis.call('ZADD', key, now, member)
redis.call('PEXPIRE', key, window)
return 1
`)

// RateLimiter implements store.RateLimiter with one sorted set per bucket
type RateLimiter struct {
	client *redis.Client
}

var _ store.RateLimiter = (*RateLimiter)(nil)

// NewRateLimiter creates a limiter on client
func NewRateLimiter(client *redis.Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// rateKey returns the Redis key of a bucket
func rateKey(key store.RateKey) string {
	return fmt.Sprintf("ratelimit:%s:%s:%d", key.Action, key.Subject, key.Window.Milliseconds())
}

// Allow runs the sliding window check atomically on the server
func (l *RateLimiter) Allow(ctx context.Context, key store.RateKey, member string, limit int, now time.Time) (bool, error) {
	res, err := slidingWindow.Run(ctx, l.client,
		[]string{rateKey(key)},
		now.UnixMilli(), key.Window.Milliseconds(), limit, member,
	).Int()
	if err != nil {
		return false, fmt.Errorf("checking rate limit: %w", err)
	}
	return res == 1, nil
}
