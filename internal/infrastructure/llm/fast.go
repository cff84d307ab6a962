package llm

import (
	"github.com/go-resty/resty/v2"

	"kalligram-api/internal/config"
)

// fastRequest 直连提供商请求体
type fastRequest struct {
	Model            string        `json:"model"`
	Messages         []wireMessage `json:"messages"`
	Temperature      float64       `json:"temperature"`
	TopP             float64       `json:"top_p"`
	MaxTokens        int           `json:"max_tokens"`
	Stream           bool          `json:"stream"`
	PresencePenalty  float64       `json:"presence_penalty"`
	FrequencyPenalty float64       `json:"frequency_penalty"`
	Stop             []string      `json:"stop,omitempty"`
}

// NewFastProvider 创建直连提供商（DeepSeek）
func NewFastProvider(name string, cfg config.ProviderConfig, httpClient *resty.Client) Provider {
	return newHTTPProvider(name, FamilyFast, cfg, httpClient, func(p *httpProvider, req *CompletionRequest) (any, map[string]string) {
		return &fastRequest{
			Model:            p.ResolveModel(req.Model),
			Messages:         toWireMessages(req.Messages),
			Temperature:      req.Temperature,
			TopP:             req.TopP,
			MaxTokens:        req.MaxTokens,
			Stream:           false,
			PresencePenalty:  req.PresencePenalty,
			FrequencyPenalty: req.FrequencyPenalty,
			Stop:             req.Stop,
		}, nil
	})
}
