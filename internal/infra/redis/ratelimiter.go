package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/kursadbilgin/satellite-dispatch/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	defaultLimitPerSec int64 = 10
	windowSeconds            = 1
)

var allowScript = goredis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

var _ ratelimit.RateLimiter = (*RedisRateLimiter)(nil)

// RedisRateLimiter is a fixed-window per-subscription limiter backed by Redis,
// shared by every API replica.
type RedisRateLimiter struct {
	client      *goredis.Client
	limitPerSec int64
	now         func() time.Time
	script      *goredis.Script
}

// NewRedisRateLimiter admits at most limitPerSec sends per subscription per
// wall-clock second. A non-positive limit falls back to 10.
func NewRedisRateLimiter(client *goredis.Client, limitPerSec int) (*RedisRateLimiter, error) {
	return newRedisRateLimiter(client, int64(limitPerSec), time.Now)
}

func newRedisRateLimiter(client *goredis.Client, limitPerSec int64, nowFn func() time.Time) (*RedisRateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	r := &RedisRateLimiter{
		client:      client,
		limitPerSec: defaultLimitPerSec,
		now:         time.Now,
		script:      allowScript,
	}
	if limitPerSec > 0 {
		r.limitPerSec = limitPerSec
	}
	if nowFn != nil {
		r.now = nowFn
	}
	return r, nil
}

func windowKey(subscriptionID int, at time.Time) string {
	return fmt.Sprintf("satellite:ratelimit:%d:%d", subscriptionID, at.UTC().Unix())
}

func (r *RedisRateLimiter) Allow(ctx context.Context, subscriptionID int) (bool, error) {
	switch {
	case r == nil || r.client == nil:
		return false, fmt.Errorf("rate limiter is not initialized")
	case subscriptionID < 0:
		return false, fmt.Errorf("invalid subscription id %d", subscriptionID)
	}

	keys := []string{windowKey(subscriptionID, r.now())}
	admitted, err := r.script.Run(ctx, r.client, keys, r.limitPerSec, windowSeconds).Int()
	if err != nil {
		return false, fmt.Errorf("rate limit check for subscription %d: %w", subscriptionID, err)
	}
	return admitted == 1, nil
}
