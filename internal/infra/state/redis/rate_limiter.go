package redisstate

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// RedisRateLimiter 是 RateLimiter 接口的 Redis 实现（固定窗口计数）。
type RedisRateLimiter struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisRateLimiter 创建 RedisRateLimiter 实例
func NewRedisRateLimiter(client *redis.Client, keyPrefix string) *RedisRateLimiter {
	if client == nil {
		panic("redis client cannot be nil for RedisRateLimiter")
	}
	if keyPrefix == "" {
		keyPrefix = "kc:" // 默认前缀 "kc:" (kidcode)
	}
	return &RedisRateLimiter{client: client, keyPrefix: keyPrefix}
}

func (r *RedisRateLimiter) rateKey(key string) string {
	return fmt.Sprintf("%sratelimit:%s", r.keyPrefix, key)
}

// CheckRateLimit 递增 key 的计数，返回 true 表示已超限。
// 过期时间只在窗口内第一次计数时设置，窗口不会被持续请求无限延长。
func (r *RedisRateLimiter) CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	fullKey := r.rateKey(key)

	pipe := r.client.TxPipeline()
	incrCmd := pipe.Incr(ctx, fullKey)
	ttlCmd := pipe.PTTL(ctx, fullKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("redis: pipeline failed for rate limit check on key %s: %w", fullKey, err)
	}

	count := incrCmd.Val()
	// PTTL 为负表示 key 没有过期时间（刚被 INCR 创建）
	if count == 1 || ttlCmd.Val() < 0 {
		if err := r.client.PExpire(ctx, fullKey, window).Err(); err != nil {
			return false, fmt.Errorf("redis: failed to set window on key %s: %w", fullKey, err)
		}
	}
	return count > int64(limit), nil
}
