// Package llm 封装外部文本补全提供商
package llm

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cloudwego/eino/schema"
)

// Family 提供商类别，决定请求形状与超时参数
type Family string

const (
	// FamilyFast 直连提供商（DeepSeek）
	FamilyFast Family = "fast"
	// FamilyRouter 路由型提供商（OpenRouter）
	FamilyRouter Family = "router"
)

// Mode 生成模式
type Mode string

const (
	ModeGenerate Mode = "generate"
	ModeChat     Mode = "chat"
)

// CompletionRequest 单次补全请求
type CompletionRequest struct {
	Model            string
	Messages         []*schema.Message
	MaxTokens        int
	Temperature      float64
	TopP             float64
	PresencePenalty  float64
	FrequencyPenalty float64
	Stop             []string
}

// Usage token 用量
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion 补全结果
type Completion struct {
	Text     string
	Usage    Usage
	Model    string
	Provider string
	Raw      json.RawMessage
}

// ModeTimeout 单一模式的超时参数
type ModeTimeout struct {
	Base     time.Duration
	PerToken time.Duration
	Min      time.Duration
}

// TimeoutProfile 提供商的超时参数
type TimeoutProfile struct {
	Chat     ModeTimeout
	Generate ModeTimeout
	Overhead time.Duration
	Max      time.Duration
}

// ForMode 返回指定模式的参数
func (p TimeoutProfile) ForMode(mode Mode) ModeTimeout {
	if mode == ModeChat {
		return p.Chat
	}
	return p.Generate
}

// Provider 文本补全提供商
type Provider interface {
	// Name 配置中的提供商名称
	Name() string

	// Family 提供商类别
	Family() Family

	// ResolveModel 将对外模型名映射为提供商模型 ID
	ResolveModel(model string) string

	// Timeouts 超时参数
	Timeouts() TimeoutProfile

	// CheckCredentials 凭据缺失时返回 CodeAuthConfig 错误
	CheckCredentials() error

	// Complete 发起一次补全调用，不做重试
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)
}
