package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// RedisWindow is a Redis-backed sliding window, for deployments with
// more than one API replica behind one limit. Each key holds a sorted
// set of request timestamps scored by unix nanos.
type RedisWindow struct {
	client      *redis.Client
	maxRequests int
	window      time.Duration
	prefix      string
}

// NewRedisWindow builds a Redis-backed limiter.
func NewRedisWindow(client *redis.Client, maxRequests int, window time.Duration, prefix string) *RedisWindow {
	return &RedisWindow{client: client, maxRequests: maxRequests, window: window, prefix: prefix}
}

// Allow trims timestamps outside the window, counts what remains, and
// records the request when under the limit. Redis errors fail open: a
// broken limiter must not take the API down with it.
func (l *RedisWindow) Allow(ctx context.Context, key string) (bool, int) {
	now := time.Now()
	windowStart := now.Add(-l.window)
	redisKey := l.prefix + key

	pipe := l.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, redisKey)
	if _, errExec := pipe.Exec(ctx); errExec != nil {
		log.WithError(errExec).Warn("rate limiter redis unavailable, failing open")
		return true, 0
	}

	if countCmd.Val() >= int64(l.maxRequests) {
		oldest, errOldest := l.client.ZRangeWithScores(ctx, redisKey, 0, 0).Result()
		retryAfter := 1
		if errOldest == nil && len(oldest) == 1 {
			oldestAt := time.Unix(0, int64(oldest[0].Score))
			retryAfter = int(oldestAt.Sub(windowStart).Seconds()) + 1
			if retryAfter < 1 {
				retryAfter = 1
			}
		}
		return false, retryAfter
	}

	add := l.client.TxPipeline()
	add.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: now.UnixNano()})
	add.Expire(ctx, redisKey, l.window)
	if _, errExec := add.Exec(ctx); errExec != nil {
		log.WithError(errExec).Warn("rate limiter redis record failed")
	}
	return true, 0
}
