package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, client
}

func TestNoOpRateLimiter(t *testing.T) {
	limiter := &NoOpRateLimiter{}
	ctx := context.Background()

	for _, key := range []string{"10.0.0.1", "10.0.0.1", ""} {
		allowed, err := limiter.Allow(ctx, key)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	assert.NoError(t, limiter.Close())
}

func TestNewRedisRateLimiter_Disabled(t *testing.T) {
	limiter, err := NewRedisRateLimiter("", 1, time.Minute, true)
	require.NoError(t, err)

	for range 5 {
		allowed, err := limiter.Allow(context.Background(), "caller")
		require.NoError(t, err)
		assert.True(t, allowed, "disabled limiter should allow all")
	}
	assert.NoError(t, limiter.Close())
}

func TestNewRedisRateLimiter_InvalidURL(t *testing.T) {
	_, err := NewRedisRateLimiter("not-a-valid-url", 100, time.Minute, false)
	assert.Error(t, err)
}

func TestNewRedisRateLimiter_Connects(t *testing.T) {
	mr := miniredis.RunT(t)

	limiter, err := NewRedisRateLimiter("redis://"+mr.Addr(), 2, time.Minute, false)
	require.NoError(t, err)
	defer limiter.Close()

	allowed, err := limiter.Allow(context.Background(), "caller")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRedisRateLimiter_EnforcesLimitPerKey(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()

	limiter := NewWithClient(client, 3, time.Minute)
	defer limiter.Close()
	ctx := context.Background()

	for i := range 3 {
		allowed, err := limiter.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, allowed, "call %d should be allowed", i+1)
	}

	allowed, err := limiter.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, allowed, "fourth call should be limited")

	allowed, err = limiter.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, allowed, "other callers have their own window")

	assert.True(t, mr.Exists("ratelimit:10.0.0.1"))
}

func TestRedisRateLimiter_WindowSlides(t *testing.T) {
	mr, client := setupTestRedis(t)
	defer mr.Close()

	limiter := NewWithClient(client, 1, time.Minute).(*redisRateLimiter)
	defer limiter.Close()

	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	limiter.now = func() time.Time { return now }
	ctx := context.Background()

	allowed, err := limiter.Allow(ctx, "caller")
	require.NoError(t, err)
	assert.True(t, allowed)

	allowed, err = limiter.Allow(ctx, "caller")
	require.NoError(t, err)
	assert.False(t, allowed)

	now = now.Add(61 * time.Second)
	allowed, err = limiter.Allow(ctx, "caller")
	require.NoError(t, err)
	assert.True(t, allowed, "entries older than the window are discarded")
}

func TestRedisRateLimiter_RedisDown(t *testing.T) {
	mr, client := setupTestRedis(t)
	limiter := NewWithClient(client, 1, time.Minute)
	defer limiter.Close()

	mr.Close()

	_, err := limiter.Allow(context.Background(), "caller")
	assert.Error(t, err)
}
