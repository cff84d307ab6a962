package llm

import (
	"github.com/go-resty/resty/v2"

	"kalligram-api/internal/config"
)

// routerRequest 路由型提供商请求体
type routerRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	TopP        float64       `json:"top_p"`
	MaxTokens   int           `json:"max_tokens"`
	Stop        []string      `json:"stop,omitempty"`
}

// NewRouterProvider 创建路由型提供商（OpenRouter）
func NewRouterProvider(name string, cfg config.ProviderConfig, httpClient *resty.Client) Provider {
	return newHTTPProvider(name, FamilyRouter, cfg, httpClient, func(p *httpProvider, req *CompletionRequest) (any, map[string]string) {
		headers := map[string]string{}
		if p.cfg.SiteURL != "" {
			headers["HTTP-Referer"] = p.cfg.SiteURL
		}
		if p.cfg.AppTitle != "" {
			headers["X-Title"] = p.cfg.AppTitle
		}
		return &routerRequest{
			Model:       p.ResolveModel(req.Model),
			Messages:    toWireMessages(req.Messages),
			Temperature: req.Temperature,
			TopP:        req.TopP,
			MaxTokens:   req.MaxTokens,
			Stop:        req.Stop,
		}, headers
	})
}
