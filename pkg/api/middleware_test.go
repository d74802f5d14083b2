package api

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantRateLimiter(t *testing.T) {
	// 1 req/sec, burst 2
	limiter := NewTenantRateLimiter(1, 2)
	defer limiter.Close()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := limiter.Allow(ctx, "tenant:a")
		require.NoError(t, err)
		assert.True(t, ok, "within burst limit")
	}
	ok, _ := limiter.Allow(ctx, "tenant:a")
	assert.False(t, ok, "exceeded burst")

	ok, _ = limiter.Allow(ctx, "tenant:b")
	assert.True(t, ok, "buckets are per key")

	time.Sleep(1100 * time.Millisecond)
	ok, _ = limiter.Allow(ctx, "tenant:a")
	assert.True(t, ok, "refilled token")
}

func TestTenantRateLimiterSweep(t *testing.T) {
	limiter := NewTenantRateLimiter(10, 10)
	defer limiter.Close()
	_, _ = limiter.Allow(context.Background(), "tenant:a")
	_, _ = limiter.Allow(context.Background(), "tenant:b")
	require.Equal(t, 2, limiter.size())

	limiter.sweep(time.Now())
	assert.Equal(t, 2, limiter.size(), "fresh buckets survive")
	limiter.sweep(time.Now().Add(4 * time.Minute))
	assert.Equal(t, 0, limiter.size())

	limiter.Close()
	limiter.Close()
}

func TestRedisRateLimiterUnreachable(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond, MaxRetries: -1})
	defer func() { _ = client.Close() }()

	_, err := NewRedisRateLimiter(client, 1, 1).Allow(context.Background(), "tenant:a")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis limiter")
}

func TestNewRedisRateLimiterDefaults(t *testing.T) {
	l := NewRedisRateLimiter(nil, 0, 0)
	assert.Equal(t, 1.0, l.rps)
	assert.Equal(t, 1, l.burst)
	assert.Equal(t, "veridecide:ratelimit:", l.prefix)
}
