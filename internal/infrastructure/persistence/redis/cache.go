package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

var cacheTracer = otel.Tracer("redis.cache")

// Cache 缓存服务
type Cache struct {
	client *Client
	prefix string
	group  singleflight.Group
}

// NewCache 创建缓存服务
func NewCache(client *Client) *Cache {
	return &Cache{
		client: client,
		prefix: "kalligram:",
	}
}

func (c *Cache) key(key string) string {
	return c.prefix + key
}

// Get 获取缓存值，未命中时返回 redis.Nil
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	ctx, span := cacheTracer.Start(ctx, "cache.Get",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	val, err := c.client.rdb.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if err == redis.Nil {
			span.SetAttributes(attribute.Bool("cache.hit", false))
			return nil, err
		}
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Bool("cache.hit", true))
	return val, nil
}

// Set 设置缓存值
func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	ctx, span := cacheTracer.Start(ctx, "cache.Set",
		trace.WithAttributes(
			attribute.String("cache.key", key),
			attribute.Int64("cache.ttl_ms", ttl.Milliseconds()),
		))
	defer span.End()

	bytes, err := json.Marshal(value)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	return c.client.rdb.Set(ctx, c.key(key), bytes, ttl).Err()
}

// GetOrLoadSafe Read-Through 缓存，使用 singleflight 防止缓存击穿
func (c *Cache) GetOrLoadSafe(ctx context.Context, key string, ttl time.Duration, loader func() (interface{}, error)) ([]byte, error) {
	ctx, span := cacheTracer.Start(ctx, "cache.GetOrLoadSafe",
		trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	fullKey := c.key(key)

	// 尝试从缓存获取
	val, err := c.client.rdb.Get(ctx, fullKey).Bytes()
	if err == nil {
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return val, nil
	}

	if err != redis.Nil {
		span.RecordError(err)
		return nil, err
	}

	span.SetAttributes(attribute.Bool("cache.hit", false))

	// 使用 singleflight 合并并发请求
	result, err, shared := c.group.Do(fullKey, func() (interface{}, error) {
		// 再次检查缓存（可能已被其他请求填充）
		if val, err := c.client.rdb.Get(ctx, fullKey).Bytes(); err == nil {
			return val, nil
		}

		data, err := loader()
		if err != nil {
			return nil, err
		}

		bytes, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal data: %w", err)
		}

		// 缓存写入失败不影响返回结果
		if err := c.client.rdb.Set(ctx, fullKey, bytes, ttl).Err(); err != nil {
			span.RecordError(err)
		}

		return bytes, nil
	})

	span.SetAttributes(attribute.Bool("cache.shared", shared))

	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return result.([]byte), nil
}

// Delete 删除缓存
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	ctx, span := cacheTracer.Start(ctx, "cache.Delete",
		trace.WithAttributes(attribute.Int("cache.key_count", len(keys))))
	defer span.End()

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	return c.client.rdb.Del(ctx, full...).Err()
}

// ProfileKey 用户显示名缓存键
func ProfileKey(userID string) string {
	return fmt.Sprintf("profile:name:%s", userID)
}
