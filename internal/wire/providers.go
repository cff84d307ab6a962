package wire

import (
	"context"

	"github.com/go-resty/resty/v2"

	"kalligram-api/internal/application/generation"
	"kalligram-api/internal/application/identity"
	"kalligram-api/internal/config"
	"kalligram-api/internal/infrastructure/llm"
	"kalligram-api/internal/infrastructure/messaging"
	"kalligram-api/internal/infrastructure/persistence/redis"
	"kalligram-api/internal/infrastructure/persistence/store"
	"kalligram-api/internal/interfaces/http/handler"
	"kalligram-api/internal/interfaces/http/middleware"
	"kalligram-api/pkg/logger"
	"kalligram-api/pkg/utils"
)

// ProvideStoreProvider 提供懒加载的故事数据源
func ProvideStoreProvider(cfg *config.Config) (*store.Provider, func()) {
	p := store.NewProvider(cfg)
	return p, p.Close
}

// ProvideRedisClient 提供可选的 Redis 客户端（不可达时不阻塞启动）
func ProvideRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.Cache.Redis.Enabled {
		return nil, func() {}, nil
	}
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		logger.Warn(ctx, "redis not available, rate limiting and profile cache disabled", "error", err.Error())
		return nil, func() {}, nil
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideCache 提供显示名缓存
func ProvideCache(client *redis.Client) *redis.Cache {
	if client == nil {
		return nil
	}
	return redis.NewCache(client)
}

// ProvideRateLimiter 提供限流器，Redis 不可用时返回 nil 接口
func ProvideRateLimiter(client *redis.Client) middleware.RateLimiter {
	if client == nil {
		return nil
	}
	return redis.NewRateLimiter(client)
}

// ProvideEventPublisher 提供生成完成事件发布器
func ProvideEventPublisher(client *redis.Client, cfg *config.Config) generation.EventPublisher {
	if client == nil || !cfg.Features.PublishEvents {
		return nil
	}
	return messaging.NewProducer(client.Redis(), messaging.Stream(cfg.Messaging.RedisStream.Stream), int64(cfg.Messaging.RedisStream.MaxLen))
}

// ProvideLLMRegistry 提供 LLM 提供商注册表
func ProvideLLMRegistry(cfg *config.Config, httpClient *resty.Client) *llm.Registry {
	return llm.NewRegistry(&cfg.LLM, httpClient)
}

// ProvideNameResolver 提供显示名解析器
func ProvideNameResolver(source identity.ProfileSource, cache *redis.Cache, cfg *config.Config) *identity.Resolver {
	return identity.NewResolver(source, cache, cfg.Store.ProfileCacheTTL)
}

// ProvideJWTManager 提供 Supabase access token 解析器
func ProvideJWTManager(cfg *config.Config) *utils.JWTManager {
	return utils.NewJWTManager(cfg.Security.JWT.Secret, cfg.Security.JWT.Issuer)
}

// ProvideGenerateHandler 提供文本生成处理器
func ProvideGenerateHandler(svc *generation.Service, cfg *config.Config) *handler.GenerateHandler {
	return handler.NewGenerateHandler(svc, cfg.Features.DebugPayload)
}

// ProvideHealthHandler 提供健康检查处理器
func ProvideHealthHandler(cfg *config.Config, storeProvider *store.Provider, client *redis.Client) *handler.HealthHandler {
	if client == nil {
		return handler.NewHealthHandler(cfg.App.Version, storeProvider, nil)
	}
	return handler.NewHealthHandler(cfg.App.Version, storeProvider, client)
}
