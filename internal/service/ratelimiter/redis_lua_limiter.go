// Package ratelimiter implements per-user token buckets shared across
// replicas through a Redis Lua script.
package ratelimiter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter admits or refuses cost units for a subject within a bucket class.
type Limiter interface {
	Allow(ctx context.Context, class, subject string, cost int64) (allowed bool, retryAfter time.Duration, err error)
}

// BucketConfig is a token bucket: Capacity is the burst, RefillRate tokens per second.
type BucketConfig struct {
	Capacity   int64
	RefillRate float64
}

// NewBucketConfig derives a bucket from a sustained per-minute rate and a burst.
// A non-positive burst falls back to the per-minute rate.
func NewBucketConfig(perMinute, burst int) BucketConfig {
	if perMinute <= 0 {
		return BucketConfig{}
	}
	if burst <= 0 {
		burst = perMinute
	}
	return BucketConfig{
		Capacity:   int64(burst),
		RefillRate: float64(perMinute) / 60.0,
	}
}

func (c BucketConfig) enabled() bool { return c.Capacity > 0 && c.RefillRate > 0 }

// RedisLuaLimiter keeps one bucket per (class, subject) in a Redis hash.
type RedisLuaLimiter struct {
	redis   redis.Scripter
	buckets map[string]BucketConfig
	script  *redis.Script
	now     func() time.Time
	mu      sync.RWMutex
}

// NewRedisLuaLimiter returns nil when rdb is nil; a nil limiter admits everything.
func NewRedisLuaLimiter(rdb redis.Scripter, buckets map[string]BucketConfig) *RedisLuaLimiter {
	if rdb == nil {
		return nil
	}
	if buckets == nil {
		buckets = map[string]BucketConfig{}
	}
	return &RedisLuaLimiter{
		redis:   rdb,
		buckets: buckets,
		script:  redis.NewScript(luaTokenBucketScript),
		now:     time.Now,
	}
}

// Replies are integers: Redis truncates Lua numbers, so the remaining tokens
// are floored and the wait is rounded up to whole milliseconds.
const luaTokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] then
  tokens = tonumber(data[1])
end
if data[2] then
  last_refill = tonumber(data[2])
end

local delta = now - last_refill
if delta < 0 then
  delta = 0
end
tokens = math.min(capacity, tokens + delta * refill_rate)

local allowed = 0
local retry_ms = 0
if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  retry_ms = math.ceil((cost - tokens) / refill_rate * 1000)
end

redis.call("HSET", key, "tokens", tokens, "last_refill", now)
redis.call("EXPIRE", key, ttl)

return { allowed, math.floor(tokens), retry_ms }
`

// Allow takes cost tokens from the subject's bucket of the given class.
// Unknown classes and Redis failures admit the request; the error is still
// returned so callers can log it.
func (l *RedisLuaLimiter) Allow(ctx context.Context, class, subject string, cost int64) (bool, time.Duration, error) {
	if l == nil || l.redis == nil {
		return true, 0, nil
	}
	l.mu.RLock()
	cfg, ok := l.buckets[class]
	l.mu.RUnlock()
	if !ok || !cfg.enabled() {
		return true, 0, nil
	}
	if cost <= 0 {
		cost = 1
	}

	nowSec := float64(l.now().UnixNano()) / 1e9
	// idle buckets refill completely after capacity/rate seconds
	ttl := int64(float64(cfg.Capacity)/cfg.RefillRate) + 1
	res, err := l.script.Run(ctx, l.redis, []string{bucketKey(class, subject)},
		cfg.Capacity, cfg.RefillRate, nowSec, cost, ttl).Int64Slice()
	if err != nil {
		slog.Error("redis rate limiter script error", slog.String("class", class), slog.Any("error", err))
		return true, 0, fmt.Errorf("op=ratelimiter.allow: %w", err)
	}
	if len(res) < 3 {
		return true, 0, fmt.Errorf("op=ratelimiter.allow: unexpected script result %v", res)
	}
	return res[0] == 1, time.Duration(res[2]) * time.Millisecond, nil
}

// SetBucketConfig installs or replaces the bucket of a class. Safe for concurrent use.
func (l *RedisLuaLimiter) SetBucketConfig(class string, cfg BucketConfig) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[class] = cfg
}

func bucketKey(class, subject string) string {
	return "rate:" + class + ":" + subject
}
