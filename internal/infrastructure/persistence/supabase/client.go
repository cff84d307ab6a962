// Package supabase 通过 Supabase REST (PostgREST) 读取故事数据
package supabase

import (
	"context"
	"fmt"

	"github.com/supabase-community/postgrest-go"
	supa "github.com/supabase-community/supabase-go"
	"go.opentelemetry.io/otel"

	"kalligram-api/internal/config"
)

var tracer = otel.Tracer("supabase")

// Client Supabase 客户端
type Client struct {
	api    *supa.Client
	config *config.SupabaseConfig
}

// NewClient 创建 Supabase 客户端
func NewClient(cfg *config.SupabaseConfig) (*Client, error) {
	if cfg.URL == "" || cfg.ServiceKey == "" {
		return nil, fmt.Errorf("supabase url and service key are required")
	}

	schema := cfg.Schema
	if schema == "" {
		schema = "public"
	}

	api, err := supa.NewClient(cfg.URL, cfg.ServiceKey, &supa.ClientOptions{Schema: schema})
	if err != nil {
		return nil, fmt.Errorf("failed to create supabase client: %w", err)
	}

	return &Client{api: api, config: cfg}, nil
}

// from 构建表查询
func (c *Client) from(ctx context.Context, table string) (*postgrest.QueryBuilder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.api.From(table), nil
}

// execute 执行 PostgREST 查询，ctx 结束时立即返回
//
// postgrest-go 的请求不接收 ctx，被放弃的请求在后台继续直到服务端响应，
// 其结果写入 fn 自己的局部变量，调用方在出错时不得读取。
func execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
