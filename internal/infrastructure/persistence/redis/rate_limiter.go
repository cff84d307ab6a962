package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
)

// RateLimiter 滑动窗口限流器
type RateLimiter struct {
	client *Client
}

// NewRateLimiter 创建限流器
func NewRateLimiter(client *Client) *RateLimiter {
	return &RateLimiter{client: client}
}

// Allow 检查是否允许请求（滑动窗口算法）
//
// 被拒绝的请求不计入窗口。
func (l *RateLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	ctx, span := tracer.Start(ctx, "ratelimit.Allow")
	span.SetAttributes(
		attribute.String("ratelimit.key", key),
		attribute.Int("ratelimit.limit", limit),
		attribute.Int64("ratelimit.window_ms", window.Milliseconds()),
	)
	defer span.End()

	now := time.Now().UnixMicro()
	windowStart := now - window.Microseconds()
	member := fmt.Sprintf("%d-%s", now, uuid.NewString())

	pipe := l.client.rdb.TxPipeline()

	// 移除窗口外的请求
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))

	// 添加当前请求并获取窗口内请求数
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now), Member: member})
	countCmd := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return false, err
	}

	count := countCmd.Val()
	span.SetAttributes(attribute.Int64("ratelimit.current_count", count))

	if count > int64(limit) {
		l.client.rdb.ZRem(ctx, key, member)
		span.SetAttributes(attribute.Bool("ratelimit.allowed", false))
		return false, nil
	}

	span.SetAttributes(attribute.Bool("ratelimit.allowed", true))
	return true, nil
}

// Remaining 获取剩余配额
func (l *RateLimiter) Remaining(ctx context.Context, key string, limit int, window time.Duration) (int, error) {
	ctx, span := tracer.Start(ctx, "ratelimit.Remaining")
	span.SetAttributes(attribute.String("ratelimit.key", key))
	defer span.End()

	windowStart := time.Now().UnixMicro() - window.Microseconds()

	pipe := l.client.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(windowStart, 10))
	countCmd := pipe.ZCard(ctx, key)

	if _, err := pipe.Exec(ctx); err != nil {
		span.RecordError(err)
		return 0, err
	}

	remaining := limit - int(countCmd.Val())
	if remaining < 0 {
		remaining = 0
	}

	span.SetAttributes(attribute.Int("ratelimit.remaining", remaining))
	return remaining, nil
}

// Reset 重置限流计数
func (l *RateLimiter) Reset(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "ratelimit.Reset")
	span.SetAttributes(attribute.String("ratelimit.key", key))
	defer span.End()

	return l.client.rdb.Del(ctx, key).Err()
}

// BuildRateLimitKey 构建限流键
func BuildRateLimitKey(clientKey, endpoint string) string {
	return fmt.Sprintf("ratelimit:%s:%s", clientKey, endpoint)
}
