package generation

import (
	"context"
	"sync"
	"time"

	"kalligram-api/internal/config"
	"kalligram-api/internal/infrastructure/llm"
)

func testGenerationConfig() config.GenerationConfig {
	return config.GenerationConfig{
		TokensPerWord:      1.3,
		TokenBuffer:        0.2,
		LargeRequestWords:  1000,
		TopP:               0.95,
		Stop:               []string{"###"},
		ContextBudget:      2500,
		HistoryBudget:      3500,
		LargeContextBudget: 4000,
		LargeHistoryBudget: 6000,
		Chat: config.ModeConfig{
			MinWords: 50, MaxWords: 800, DefaultWords: 200, MaxTokens: 1500, ResponseCapWords: 300,
			Temperature: 0.9, PresencePenalty: 0.8, FrequencyPenalty: 0.7,
		},
		Generate: config.ModeConfig{
			MinWords: 100, MaxWords: 2000, DefaultWords: 500, MaxTokens: 4000,
			Temperature: 0.8, PresencePenalty: 0.5, FrequencyPenalty: 0.5,
		},
		Retry: config.RetryConfig{
			MaxRetries:           2,
			Delay:                time.Millisecond,
			DegradeTokenFactor:   0.7,
			DegradeTimeoutFactor: 1.5,
		},
	}
}

func testConfig() *config.Config {
	return &config.Config{
		LLM:        config.LLMConfig{DefaultModel: "deepseek-chat"},
		Generation: testGenerationConfig(),
	}
}

// scriptedProvider 按顺序返回预设结果的 llm.Provider
type scriptedProvider struct {
	name     string
	family   llm.Family
	timeouts llm.TimeoutProfile
	credErr  error

	mu       sync.Mutex
	steps    []func(ctx context.Context, req *llm.CompletionRequest) (*llm.Completion, error)
	requests []llm.CompletionRequest
	deadline []time.Duration
}

func newScriptedProvider(steps ...func(ctx context.Context, req *llm.CompletionRequest) (*llm.Completion, error)) *scriptedProvider {
	return &scriptedProvider{
		name:     "deepseek",
		family:   llm.FamilyFast,
		timeouts: fastProfile,
		steps:    steps,
	}
}

func (p *scriptedProvider) Name() string                         { return p.name }
func (p *scriptedProvider) Family() llm.Family                   { return p.family }
func (p *scriptedProvider) ResolveModel(m string) string         { return m }
func (p *scriptedProvider) Timeouts() llm.TimeoutProfile         { return p.timeouts }
func (p *scriptedProvider) CheckCredentials() error              { return p.credErr }
func (p *scriptedProvider) Resolve(string) (llm.Provider, error) { return p, nil }

func (p *scriptedProvider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.Completion, error) {
	p.mu.Lock()
	i := len(p.requests)
	p.requests = append(p.requests, *req)
	if dl, ok := ctx.Deadline(); ok {
		p.deadline = append(p.deadline, time.Until(dl))
	}
	p.mu.Unlock()

	if i >= len(p.steps) {
		i = len(p.steps) - 1
	}
	return p.steps[i](ctx, req)
}

func (p *scriptedProvider) calls() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.requests...)
}

func succeed(text string) func(context.Context, *llm.CompletionRequest) (*llm.Completion, error) {
	return func(context.Context, *llm.CompletionRequest) (*llm.Completion, error) {
		return &llm.Completion{
			Text:     text,
			Usage:    llm.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
			Provider: "deepseek",
			Raw:      []byte(`{"id":"raw"}`),
		}, nil
	}
}

func fail(err error) func(context.Context, *llm.CompletionRequest) (*llm.Completion, error) {
	return func(context.Context, *llm.CompletionRequest) (*llm.Completion, error) {
		return nil, err
	}
}

// staticName 固定显示名
type staticName string

func (n staticName) DisplayName(context.Context, string, string) string { return string(n) }
