package redisstate_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisstate "github.com/mixxson/kidcode2/internal/infra/state/redis"
)

func newLimiter(t *testing.T) (*redisstate.RedisRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redisstate.NewRedisRateLimiter(client, "test:"), mr
}

func TestRedisRateLimiter_AllowsUpToLimit(t *testing.T) {
	limiter, _ := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		exceeded, err := limiter.CheckRateLimit(ctx, "1.2.3.4", 3, time.Minute)
		require.NoError(t, err)
		assert.False(t, exceeded, "第 %d 次请求不应超限", i+1)
	}

	exceeded, err := limiter.CheckRateLimit(ctx, "1.2.3.4", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, exceeded, "超过限制后应返回 true")
}

func TestRedisRateLimiter_KeysAreIndependent(t *testing.T) {
	limiter, _ := newLimiter(t)
	ctx := context.Background()

	_, err := limiter.CheckRateLimit(ctx, "a", 1, time.Minute)
	require.NoError(t, err)
	exceeded, err := limiter.CheckRateLimit(ctx, "b", 1, time.Minute)
	require.NoError(t, err)
	assert.False(t, exceeded)
}

func TestRedisRateLimiter_WindowExpires(t *testing.T) {
	limiter, mr := newLimiter(t)
	ctx := context.Background()

	_, err := limiter.CheckRateLimit(ctx, "ip", 1, time.Second)
	require.NoError(t, err)
	exceeded, err := limiter.CheckRateLimit(ctx, "ip", 1, time.Second)
	require.NoError(t, err)
	require.True(t, exceeded)

	assert.True(t, mr.Exists("test:ratelimit:ip"))
	mr.FastForward(2 * time.Second)
	assert.False(t, mr.Exists("test:ratelimit:ip"), "窗口结束后计数应被清除")

	exceeded, err = limiter.CheckRateLimit(ctx, "ip", 1, time.Second)
	require.NoError(t, err)
	assert.False(t, exceeded)
}

func TestRedisRateLimiter_PropagatesConnectionErrors(t *testing.T) {
	limiter, mr := newLimiter(t)
	mr.Close()

	_, err := limiter.CheckRateLimit(context.Background(), "ip", 1, time.Second)
	assert.Error(t, err)
}
