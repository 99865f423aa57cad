package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter is a sliding-window counter over a Redis sorted set, one set per
// caller key. Every attempt is scored with its nanosecond timestamp;
// entries older than the window are trimmed on each call, so the count is
// exact rather than bucketed.
type Limiter struct {
	Client *redis.Client
	Prefix string
}

// Allow records an attempt for key and reports whether it stayed within
// max for the window. Without a client, or with a non-positive window or
// max, limiting is disabled and everything passes.
func (l Limiter) Allow(ctx context.Context, key string, window time.Duration, max int) (allowed bool, remaining int, reset time.Time, err error) {
	if l.Client == nil || max <= 0 || window <= 0 {
		return true, max, time.Now().Add(window), nil
	}

	now := time.Now()
	resetAt := now.Add(window)
	cutoff := float64(now.Add(-window).UnixNano())

	bucket := l.Prefix + key
	// Entry members carry a UUID so two attempts in the same nanosecond
	// still count separately.
	entry := fmt.Sprintf("%s:%s", key, uuid.NewString())

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, bucket, "-inf", fmt.Sprintf("%f", cutoff))
	pipe.ZAdd(ctx, bucket, redis.Z{Score: float64(now.UnixNano()), Member: entry})
	countCmd := pipe.ZCard(ctx, bucket)
	pipe.Expire(ctx, bucket, window)
	if _, err = pipe.Exec(ctx); err != nil {
		return false, 0, resetAt, err
	}

	attempts := int(countCmd.Val())
	remaining = max - attempts
	if remaining < 0 {
		remaining = 0
	}
	return attempts <= max, remaining, resetAt, nil
}
