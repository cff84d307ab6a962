// Package store 按配置懒加载故事数据源
package store

import (
	"context"
	"fmt"
	"sync"

	"kalligram-api/internal/config"
	"kalligram-api/internal/domain/repository"
	"kalligram-api/internal/infrastructure/persistence/postgres"
	"kalligram-api/internal/infrastructure/persistence/supabase"
	"kalligram-api/pkg/errors"
	"kalligram-api/pkg/logger"
)

// Factory 构建 StoryReader，返回的 cleanup 在关闭时调用
type Factory func() (repository.StoryReader, func(), error)

// Provider 进程级共享的 StoryReader 句柄
//
// 首次调用 Reader 时初始化，之后复用结果（包括失败结果）。
type Provider struct {
	factory Factory

	once    sync.Once
	reader  repository.StoryReader
	cleanup func()
	err     error
}

// NewProvider 根据配置创建 Provider
func NewProvider(cfg *config.Config) *Provider {
	return NewProviderWithFactory(configFactory(cfg))
}

// NewProviderWithFactory 使用自定义工厂创建 Provider
func NewProviderWithFactory(factory Factory) *Provider {
	return &Provider{factory: factory}
}

// Reader 返回 StoryReader；凭据缺失时返回 CodeAuthConfig 错误
func (p *Provider) Reader(ctx context.Context) (repository.StoryReader, error) {
	p.once.Do(func() {
		p.reader, p.cleanup, p.err = p.factory()
		if p.err != nil {
			logger.Error(ctx, "story store initialization failed", p.err)
		}
	})
	return p.reader, p.err
}

// Close 释放底层连接
func (p *Provider) Close() {
	if p.cleanup != nil {
		p.cleanup()
	}
}

// HealthCheck 供 /ready 使用
func (p *Provider) HealthCheck(ctx context.Context) error {
	reader, err := p.Reader(ctx)
	if err != nil {
		return err
	}
	return reader.Ping(ctx)
}

func configFactory(cfg *config.Config) Factory {
	return func() (repository.StoryReader, func(), error) {
		switch cfg.Store.Driver {
		case "postgres":
			if cfg.Database.Postgres.Host == "" {
				return nil, nil, errors.New(errors.CodeAuthConfig, "Database connection is not configured. Please set POSTGRES_HOST.")
			}
			client, err := postgres.NewClient(&cfg.Database.Postgres)
			if err != nil {
				return nil, nil, errors.Wrap(err, errors.CodeDatabaseError, "failed to connect to postgres")
			}
			return postgres.NewStoryRepository(client), func() { _ = client.Close() }, nil
		case "supabase", "":
			if cfg.Supabase.URL == "" || cfg.Supabase.ServiceKey == "" {
				return nil, nil, errors.New(errors.CodeAuthConfig, "Supabase credentials are not configured. Please set SUPABASE_URL and SUPABASE_SERVICE_ROLE_KEY.")
			}
			client, err := supabase.NewClient(&cfg.Supabase)
			if err != nil {
				return nil, nil, errors.Wrap(err, errors.CodeAuthConfig, "failed to create supabase client")
			}
			return supabase.NewStoryRepository(client), func() {}, nil
		default:
			return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
		}
	}
}
