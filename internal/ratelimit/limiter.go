// Package ratelimit throttles unauthenticated endpoints per client key.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	rdb "github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// Result describes one Allow decision.
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter decides whether the caller identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (Result, error)
}

// MemoryLimiter keeps one token bucket per key. Idle buckets expire.
type MemoryLimiter struct {
	perSecond rate.Limit
	burst     int
	buckets   *gocache.Cache
}

func NewMemoryLimiter(perSecond float64, burst int, idleTTL time.Duration) *MemoryLimiter {
	if idleTTL <= 0 {
		idleTTL = 5 * time.Minute
	}
	return &MemoryLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		buckets:   gocache.New(idleTTL, time.Minute),
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Result, error) {
	lim := l.bucket(key)
	now := time.Now()
	res := lim.ReserveN(now, 1)
	if !res.OK() {
		return Result{Allowed: false, RetryAfter: time.Second}, nil
	}
	if delay := res.DelayFrom(now); delay > 0 {
		res.CancelAt(now)
		return Result{Allowed: false, RetryAfter: delay}, nil
	}
	return Result{Allowed: true, Remaining: int64(math.Floor(lim.TokensAt(now)))}, nil
}

func (l *MemoryLimiter) bucket(key string) *rate.Limiter {
	if v, ok := l.buckets.Get(key); ok {
		lim := v.(*rate.Limiter)
		// touch to extend idle expiry
		l.buckets.SetDefault(key, lim)
		return lim
	}
	lim := rate.NewLimiter(l.perSecond, l.burst)
	if err := l.buckets.Add(key, lim, gocache.DefaultExpiration); err != nil {
		// lost the race; use the bucket that won
		if v, ok := l.buckets.Get(key); ok {
			return v.(*rate.Limiter)
		}
	}
	return lim
}

// RedisLimiter is a fixed window counter shared across replicas (INCR + EXPIRE).
type RedisLimiter struct {
	client *rdb.Client
	prefix string
	max    int64
	window time.Duration
}

func NewRedisLimiter(client *rdb.Client, prefix string, max int, window time.Duration) *RedisLimiter {
	if prefix == "" {
		prefix = "warden:rl:"
	}
	return &RedisLimiter{client: client, prefix: prefix, max: int64(max), window: window}
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (Result, error) {
	now := time.Now().UTC()
	winStart := now.Truncate(l.window)
	redisKey := fmt.Sprintf("%s%s:%d", l.prefix, strings.ReplaceAll(key, " ", "_"), winStart.Unix())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.ExpireNX(ctx, redisKey, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limit: %w", err)
	}

	hits := incr.Val()
	remaining := l.max - hits
	if remaining < 0 {
		remaining = 0
	}
	res := Result{Allowed: hits <= l.max, Remaining: remaining}
	if !res.Allowed {
		res.RetryAfter = winStart.Add(l.window).Sub(now)
	}
	return res, nil
}
