package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"kalligram-api/internal/infrastructure/persistence/redis"
	"kalligram-api/internal/interfaces/http/dto"
	"kalligram-api/pkg/errors"
	"kalligram-api/pkg/logger"
	"kalligram-api/pkg/metrics"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled  bool
	Requests int
	Window   time.Duration
}

// RateLimiter 限流器接口
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimit 按客户端 IP 与路径的滑动窗口限流
func RateLimit(cfg RateLimitConfig, limiter RateLimiter) gin.HandlerFunc {
	if !cfg.Enabled || limiter == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	if cfg.Requests <= 0 {
		cfg.Requests = 30
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		key := redis.BuildRateLimitKey(c.ClientIP(), path)

		allowed, err := limiter.Allow(c.Request.Context(), key, cfg.Requests, cfg.Window)
		if err != nil {
			// 限流器故障时放行
			logger.Warn(c.Request.Context(), "rate limiter unavailable", "error", err)
			c.Next()
			return
		}

		if !allowed {
			metrics.RateLimitRejected.WithLabelValues(path).Inc()
			dto.Abort(c, http.StatusTooManyRequests, errors.ErrTooManyRequests.Message)
			return
		}

		c.Next()
	}
}
