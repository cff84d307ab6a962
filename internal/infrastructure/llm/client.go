package llm

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"kalligram-api/internal/config"
	"kalligram-api/pkg/errors"
	"kalligram-api/pkg/logger"
	"kalligram-api/pkg/metrics"
)

var tracer = otel.Tracer("llm")

// wireMessage 请求体中的消息
type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func toWireMessages(msgs []*schema.Message) []wireMessage {
	out := make([]wireMessage, 0, len(msgs))
	for _, m := range msgs {
		if m == nil {
			continue
		}
		out = append(out, wireMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

// chatCompletionResponse OpenAI 兼容的响应结构
type chatCompletionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message *struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage *Usage `json:"usage"`
}

// providerErrorBody 提供商错误响应
type providerErrorBody struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// bodyBuilder 按提供商类别构建请求体与请求头
type bodyBuilder func(p *httpProvider, req *CompletionRequest) (any, map[string]string)

// httpProvider 基于 resty 的 OpenAI 兼容提供商
type httpProvider struct {
	name     string
	family   Family
	cfg      config.ProviderConfig
	timeouts TimeoutProfile
	http     *resty.Client
	build    bodyBuilder
}

func newHTTPProvider(name string, family Family, cfg config.ProviderConfig, httpClient *resty.Client, build bodyBuilder) *httpProvider {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	return &httpProvider{
		name:     name,
		family:   family,
		cfg:      cfg,
		timeouts: timeoutProfileFromConfig(cfg.Timeouts),
		http:     httpClient,
		build:    build,
	}
}

// NewHTTPClient 创建共享的 resty 客户端，超时由每次调用的 context 控制
func NewHTTPClient() *resty.Client {
	return resty.New().
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
}

func timeoutProfileFromConfig(cfg config.TimeoutProfileConfig) TimeoutProfile {
	return TimeoutProfile{
		Chat:     ModeTimeout{Base: cfg.Chat.Base, PerToken: cfg.Chat.PerToken, Min: cfg.Chat.Min},
		Generate: ModeTimeout{Base: cfg.Generate.Base, PerToken: cfg.Generate.PerToken, Min: cfg.Generate.Min},
		Overhead: cfg.Overhead,
		Max:      cfg.Max,
	}
}

func (p *httpProvider) Name() string             { return p.name }
func (p *httpProvider) Family() Family           { return p.family }
func (p *httpProvider) Timeouts() TimeoutProfile { return p.timeouts }

func (p *httpProvider) ResolveModel(model string) string {
	if mapped, ok := p.cfg.Aliases[strings.ToLower(model)]; ok {
		return mapped
	}
	return model
}

func (p *httpProvider) CheckCredentials() error {
	if strings.TrimSpace(p.cfg.APIKey) != "" {
		return nil
	}
	env := p.cfg.APIKeyEnv
	if env == "" {
		env = strings.ToUpper(p.name) + "_API_KEY"
	}
	return errors.New(errors.CodeAuthConfig, fmt.Sprintf("%s is not configured. Please set this environment variable.", env))
}

// Complete 发起一次补全调用
func (p *httpProvider) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	model := p.ResolveModel(req.Model)
	ctx, span := tracer.Start(ctx, "llm.Complete",
		trace.WithAttributes(
			attribute.String("llm.provider", p.name),
			attribute.String("llm.model", model),
			attribute.Int("llm.max_tokens", req.MaxTokens),
		))
	defer span.End()

	if err := p.CheckCredentials(); err != nil {
		return nil, err
	}

	body, headers := p.build(p, req)
	start := time.Now()

	resp, err := p.http.R().
		SetContext(ctx).
		SetAuthToken(p.cfg.APIKey).
		SetHeaders(headers).
		SetBody(body).
		Post(p.cfg.BaseURL)

	metrics.LLMCallDuration.WithLabelValues(p.name, model).Observe(time.Since(start).Seconds())

	if err != nil {
		appErr := classifyTransportError(ctx, err)
		metrics.LLMCallTotal.WithLabelValues(p.name, model, string(appErr.Code)).Inc()
		span.RecordError(appErr)
		return nil, appErr
	}

	if appErr := classifyStatus(resp.StatusCode(), resp.Body()); appErr != nil {
		metrics.LLMCallTotal.WithLabelValues(p.name, model, string(appErr.Code)).Inc()
		span.RecordError(appErr)
		logger.Warn(ctx, "provider returned error status",
			"provider", p.name, "status", resp.StatusCode(), "detail", appErr.Detail)
		return nil, appErr
	}

	completion, err := extractCompletion(resp.Body())
	if err != nil {
		metrics.LLMCallTotal.WithLabelValues(p.name, model, string(errors.CodeInvalidResponseFormat)).Inc()
		span.RecordError(err)
		return nil, err
	}
	completion.Provider = p.name
	if completion.Model == "" {
		completion.Model = model
	}

	metrics.LLMCallTotal.WithLabelValues(p.name, model, "success").Inc()
	metrics.LLMTokensUsed.WithLabelValues(p.name, model, "prompt").Add(float64(completion.Usage.PromptTokens))
	metrics.LLMTokensUsed.WithLabelValues(p.name, model, "completion").Add(float64(completion.Usage.CompletionTokens))
	span.SetAttributes(attribute.Int("llm.total_tokens", completion.Usage.TotalTokens))
	return completion, nil
}

// classifyTransportError 将传输层错误映射为 AppError
func classifyTransportError(ctx context.Context, err error) *errors.AppError {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return errors.Wrap(err, errors.CodeTimeout, "AI provider request timed out")
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(err, errors.CodeTimeout, "AI provider request timed out")
	}
	if stderrors.Is(err, context.Canceled) {
		return errors.Wrap(err, errors.CodeUnknown, "request cancelled")
	}
	return errors.Wrap(err, errors.CodeProviderUnavailable, "AI provider is unreachable")
}

// classifyStatus 将非 2xx 状态码映射为 AppError
func classifyStatus(status int, body []byte) *errors.AppError {
	if status >= 200 && status < 300 {
		return nil
	}

	detail := strings.TrimSpace(string(body))
	var parsed providerErrorBody
	if json.Unmarshal(body, &parsed) == nil && parsed.Error.Message != "" {
		detail = parsed.Error.Message
	}
	if len(detail) > 500 {
		detail = detail[:500]
	}

	var appErr *errors.AppError
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		msg := detail
		if msg == "" {
			msg = fmt.Sprintf("AI provider rejected the API key with status %d", status)
		}
		appErr = errors.New(errors.CodeAuthConfig, msg)
	case status == http.StatusTooManyRequests:
		appErr = errors.New(errors.CodeTooManyRequests, "AI provider rate limit exceeded")
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		appErr = errors.New(errors.CodeTimeout, "AI provider request timed out")
	case status >= 500:
		appErr = errors.New(errors.CodeProviderUnavailable, fmt.Sprintf("AI provider returned status %d", status))
	default:
		appErr = errors.New(errors.CodeUnknown, fmt.Sprintf("AI provider rejected the request with status %d", status))
	}
	return appErr.WithDetail(detail)
}

// extractCompletion 读取 choices[0].message.content
func extractCompletion(raw []byte) (*Completion, error) {
	var resp chatCompletionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, errors.Wrap(err, errors.CodeInvalidResponseFormat, "Invalid response format from AI service")
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message == nil || resp.Choices[0].Message.Content == nil {
		return nil, errors.New(errors.CodeInvalidResponseFormat, "Invalid response format from AI service")
	}

	completion := &Completion{
		Text:  *resp.Choices[0].Message.Content,
		Model: resp.Model,
		Raw:   append(json.RawMessage(nil), raw...),
	}
	if resp.Usage != nil {
		completion.Usage = *resp.Usage
	}
	return completion, nil
}
