package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisTokenBucketScript handles the token bucket algorithm atomically in Redis.
// KEYS[1] = bucket key (e.g. "veridecide:ratelimit:tenant:ministry-a")
// ARGV[1] = refill rate (tokens per second)
// ARGV[2] = capacity (max tokens)
// ARGV[3] = cost (tokens to consume)
// ARGV[4] = current unix timestamp (seconds, microsecond precision)
// ARGV[5] = key ttl in seconds
var redisTokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local rate = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local state = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])

if not tokens or not last_refill then
    tokens = capacity
    last_refill = now
end

local elapsed = now - last_refill
if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * rate)
    last_refill = now
end

local allowed = 0
if tokens >= cost then
    tokens = tokens - cost
    allowed = 1
end

redis.call("HSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, ttl)

return allowed
`)

// RedisRateLimiter shares token buckets across API replicas.
type RedisRateLimiter struct {
	client redis.UniversalClient
	prefix string
	rps    float64
	burst  int
	now    func() time.Time
}

var _ Limiter = (*RedisRateLimiter)(nil)

// NewRedisRateLimiter creates a limiter refilling rps tokens per second up to burst.
func NewRedisRateLimiter(client redis.UniversalClient, rps float64, burst int) *RedisRateLimiter {
	if rps <= 0 {
		rps = 1
	}
	if burst < 1 {
		burst = 1
	}
	return &RedisRateLimiter{
		client: client,
		prefix: "veridecide:ratelimit:",
		rps:    rps,
		burst:  burst,
		now:    time.Now,
	}
}

// Allow executes the Lua script to check and update the token bucket.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	now := float64(l.now().UnixMicro()) / 1e6
	// A bucket untouched for a full refill is indistinguishable from a new one.
	ttl := int(float64(l.burst)/l.rps) + 1

	res, err := redisTokenBucketScript.Run(ctx, l.client, []string{l.prefix + key}, l.rps, l.burst, 1, now, ttl).Int64()
	if err != nil {
		return false, fmt.Errorf("redis limiter: %w", err)
	}
	return res == 1, nil
}
