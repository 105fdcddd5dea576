package repository

import (
	"context"
	"time"
)

// RateLimiter 定义了基于固定窗口计数的限流操作，通常由 Redis 实现。
type RateLimiter interface {
	// CheckRateLimit 递增 key 的计数并检查是否超限。
	// 返回 true 表示已超限。
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
