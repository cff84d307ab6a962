//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"github.com/google/wire"

	"kalligram-api/internal/application/generation"
	"kalligram-api/internal/application/identity"
	"kalligram-api/internal/config"
	"kalligram-api/internal/infrastructure/llm"
	"kalligram-api/internal/infrastructure/persistence/store"
	"kalligram-api/internal/interfaces/http/router"
	"kalligram-api/internal/workflow/prompt"
)

// InitializeApp 初始化整个应用（带路由器）
func InitializeApp(ctx context.Context, cfg *config.Config) (*router.Router, func(), error) {
	wire.Build(
		StoreSet,
		RedisSet,
		LLMSet,
		GenerationSet,
		RouterSet,
	)
	return nil, nil, nil
}

// StoreSet 故事数据源提供者集合
var StoreSet = wire.NewSet(
	ProvideStoreProvider,
	wire.Bind(new(generation.StoryStore), new(*store.Provider)),
	wire.Bind(new(identity.ProfileSource), new(*store.Provider)),
)

// RedisSet Redis 提供者集合，未启用时各项均为 nil
var RedisSet = wire.NewSet(
	ProvideRedisClient,
	ProvideCache,
	ProvideRateLimiter,
	ProvideEventPublisher,
)

// LLMSet 提供商注册表集合
var LLMSet = wire.NewSet(
	llm.NewHTTPClient,
	ProvideLLMRegistry,
	wire.Bind(new(generation.ProviderResolver), new(*llm.Registry)),
)

// GenerationSet 生成编排集合
var GenerationSet = wire.NewSet(
	prompt.NewRegistry,
	ProvideNameResolver,
	wire.Bind(new(generation.NameResolver), new(*identity.Resolver)),
	generation.NewService,
)

// RouterSet 路由器提供者集合
var RouterSet = wire.NewSet(
	ProvideJWTManager,
	ProvideGenerateHandler,
	ProvideHealthHandler,
	wire.Struct(new(router.Handlers), "*"),
	router.New,
)
