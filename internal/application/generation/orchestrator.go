package generation

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"kalligram-api/internal/config"
	"kalligram-api/internal/domain/entity"
	"kalligram-api/internal/infrastructure/llm"
	"kalligram-api/internal/infrastructure/messaging"
	"kalligram-api/internal/workflow/prompt"
	"kalligram-api/pkg/errors"
	"kalligram-api/pkg/logger"
	"kalligram-api/pkg/metrics"
	"kalligram-api/pkg/tracer"
)

const defaultUserName = "User"

// 面向客户端的错误提示
const (
	timeoutMessage = "Your request timed out. This might be due to high server load or a complex prompt. Try the following:\n" +
		"1. Reduce the word count (length) parameter\n" +
		"2. Use a simpler prompt or a different model\n" +
		"3. Try again in a few minutes"
	unavailableMessage = "The AI service is currently unavailable. Please try again later."
	noTextMessage      = "No text was generated from the API response"
)

// ProviderResolver 按模型名解析提供商
type ProviderResolver interface {
	Resolve(model string) (llm.Provider, error)
}

// NameResolver 解析用户显示名
type NameResolver interface {
	DisplayName(ctx context.Context, userID, email string) string
}

// EventPublisher 发布生成完成事件
type EventPublisher interface {
	PublishGenerationCompleted(ctx context.Context, evt *messaging.GenerationCompletedMessage) (string, error)
}

// Result 生成结果
type Result struct {
	Text            string
	ActualWords     int
	Usage           llm.Usage
	Model           string
	ProviderModel   string
	UserName        string
	Mode            llm.Mode
	RequestedWords  int
	ContextProvided bool
	HistoryProvided bool

	Attempts  int
	Degraded  bool
	MaxTokens int
	Timeout   time.Duration

	ContextString    string
	PreviousChapters string
	RawResponse      json.RawMessage
}

// Service 生成编排服务
type Service struct {
	cfg          *config.GenerationConfig
	defaultModel string
	debugPayload bool
	queryTimeout time.Duration

	providers ProviderResolver
	names     NameResolver
	assembler *ContextAssembler
	history   *ChapterHistory
	prompts   *PromptBuilder
	retrier   *Retrier
	budget    Budget
	publisher EventPublisher
}

// NewService 创建生成服务，publisher 为 nil 时不发布事件
func NewService(
	cfg *config.Config,
	providers ProviderResolver,
	names NameResolver,
	store StoryStore,
	prompts *prompt.Registry,
	publisher EventPublisher,
) *Service {
	return &Service{
		cfg:          &cfg.Generation,
		defaultModel: cfg.LLM.DefaultModel,
		debugPayload: cfg.Features.DebugPayload,
		queryTimeout: cfg.Store.QueryTimeout,
		providers:    providers,
		names:        names,
		assembler:    NewContextAssembler(store, cfg.Store.QueryTimeout),
		history:      NewChapterHistory(store, cfg.Store.QueryTimeout),
		prompts:      NewPromptBuilder(prompts, &cfg.Generation),
		retrier:      NewRetrier(&cfg.Generation),
		budget:       NewBudget(&cfg.Generation),
		publisher:    publisher,
	}
}

// Generate 执行一次完整的生成流程
func (s *Service) Generate(ctx context.Context, req *Request) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Model == "" {
		req.Model = s.defaultModel
	}

	ctx = logger.WithContext(ctx, logger.ProjectIDKey, req.ProjectID)
	ctx = logger.WithContext(ctx, logger.UserIDKey, req.UserID)
	ctx = logger.WithContext(ctx, logger.ModelKey, req.Model)

	ctx, span := tracer.Start(ctx, "generation.Generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("generation.mode", string(req.Mode)),
		attribute.String("generation.model", req.Model),
	)

	start := time.Now()
	result, err := s.generate(ctx, req)
	metrics.GenerationDuration.WithLabelValues(string(req.Mode)).Observe(time.Since(start).Seconds())
	if err != nil {
		tracer.RecordError(span, err)
		metrics.GenerationTotal.WithLabelValues(string(req.Mode), "error").Inc()
		logger.Error(ctx, "generation failed", err, "mode", req.Mode)
		return nil, err
	}

	metrics.GenerationTotal.WithLabelValues(string(req.Mode), "success").Inc()
	metrics.GenerationWordCount.WithLabelValues(string(req.Mode)).Observe(float64(result.ActualWords))
	logger.Info(ctx, "generation completed",
		"mode", req.Mode,
		"requested_words", result.RequestedWords,
		"actual_words", result.ActualWords,
		"attempts", result.Attempts,
		"degraded", result.Degraded,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	s.publish(ctx, req, result)
	return result, nil
}

func (s *Service) generate(ctx context.Context, req *Request) (*Result, error) {
	provider, err := s.providers.Resolve(req.Model)
	if err != nil {
		return nil, err
	}
	if err := provider.CheckCredentials(); err != nil {
		return nil, err
	}

	words := limitsFor(s.cfg, req.Mode).Clamp(req.Length)
	userName := s.displayName(ctx, req)

	contextString := s.assembler.Assemble(ctx, req.ProjectID, req.Selection)
	previousChapters := s.history.Retrieve(ctx, req.ProjectID, req.Prompt)
	logger.Debug(ctx, "context assembled for generation",
		"mode", req.Mode,
		"context", contextString,
		"previous_chapters", previousChapters,
	)

	messages, err := s.prompts.BuildMessages(ctx, SystemMessageInput{
		Mode:         req.Mode,
		UserName:     userName,
		DesiredWords: words,
		Tone:         strings.TrimSpace(req.Tone),
		Context:      contextString,
		History:      previousChapters,
	}, req.Prompt)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternalError, "failed to build prompt")
	}

	mode := modeConfig(s.cfg, req.Mode)
	maxTokens := s.budget.WordsToTokens(words, mode.MaxTokens)
	timeout := s.budget.CalculateTimeout(maxTokens, req.Mode, provider.Timeouts())

	callCtx, cancel := s.withDeadline(ctx)
	defer cancel()

	completion, state, err := s.retrier.Do(callCtx, provider, &llm.CompletionRequest{
		Model:            req.Model,
		Messages:         messages,
		MaxTokens:        maxTokens,
		Temperature:      mode.Temperature,
		TopP:             s.cfg.TopP,
		PresencePenalty:  mode.PresencePenalty,
		FrequencyPenalty: mode.FrequencyPenalty,
		Stop:             s.cfg.Stop,
	}, timeout, words)
	if err != nil {
		if ctx.Err() == nil && callCtx.Err() != nil {
			logger.Warn(ctx, "generation deadline reached",
				"deadline_ms", s.cfg.Deadline.Milliseconds(), "attempts", state.Attempts)
			err = deadlineError(err)
		}
		return nil, clientError(err)
	}

	if strings.TrimSpace(completion.Text) == "" {
		return nil, errors.New(errors.CodeInvalidResponseFormat, noTextMessage)
	}
	text := EnsureCompleteSentence(completion.Text)

	result := &Result{
		Text:             text,
		ActualWords:      CountWords(text),
		Usage:            completion.Usage,
		Model:            req.Model,
		ProviderModel:    completion.Model,
		UserName:         userName,
		Mode:             req.Mode,
		RequestedWords:   words,
		ContextProvided:  provided(contextString, "Error fetching project context"),
		HistoryProvided:  provided(previousChapters, "Error fetching previous chapters"),
		Attempts:         state.Attempts,
		Degraded:         state.Degraded,
		MaxTokens:        state.MaxTokens,
		Timeout:          state.Timeout,
		ContextString:    contextString,
		PreviousChapters: previousChapters,
	}
	if s.debugPayload {
		result.RawResponse = completion.Raw
	}
	return result, nil
}

func (s *Service) publish(ctx context.Context, req *Request, result *Result) {
	if s.publisher == nil {
		return
	}
	requestID, _ := ctx.Value(logger.RequestIDKey).(string)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	_, err := s.publisher.PublishGenerationCompleted(ctx, &messaging.GenerationCompletedMessage{
		RequestID:      requestID,
		UserID:         req.UserID,
		ProjectID:      req.ProjectID,
		Mode:           string(result.Mode),
		Model:          result.Model,
		Prompt:         req.Prompt,
		Text:           result.Text,
		RequestedWords: result.RequestedWords,
		ActualWords:    result.ActualWords,
		TotalTokens:    result.Usage.TotalTokens,
		Attempts:       result.Attempts,
		Degraded:       result.Degraded,
	})
	if err != nil {
		logger.Warn(ctx, "failed to publish generation event", "error", err)
	}
}

func (s *Service) displayName(ctx context.Context, req *Request) string {
	ctx, cancel := withQueryTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.names.DisplayName(ctx, req.AuthUserID, req.AuthEmail)
}

// withDeadline 限制整个 provider 调用（含重试等待）的总时长
func (s *Service) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.Deadline <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.Deadline)
}

// deadlineError 总时限耗尽时按超时返回，保留最后一次失败原因
func deadlineError(err error) error {
	if errors.HasCode(err, errors.CodeTimeout) {
		return err
	}
	return errors.Wrap(err, errors.CodeTimeout, "generation deadline exceeded")
}

// provided 上下文文本非空且不是错误占位时视为可用
func provided(text, errorPrefix string) bool {
	return text != "" && !strings.HasPrefix(text, errorPrefix)
}

// clientError 将重试后的最终错误替换为面向客户端的提示，保留原始错误链
func clientError(err error) error {
	appErr := errors.AsAppError(err)
	switch appErr.Code {
	case errors.CodeTimeout:
		return errors.Wrap(err, errors.CodeTimeout, timeoutMessage)
	case errors.CodeTooManyRequests:
		return errors.Wrap(err, errors.CodeTooManyRequests, errors.ErrTooManyRequests.Message)
	case errors.CodeProviderUnavailable:
		return errors.Wrap(err, errors.CodeProviderUnavailable, unavailableMessage)
	default:
		return appErr
	}
}

// SelectionFromIDs 构造上下文选择，三类全为空时返回 nil
func SelectionFromIDs(characters, locations, events []string) *entity.ContextSelection {
	sel := &entity.ContextSelection{Characters: characters, Locations: locations, Events: events}
	if sel.IsEmpty() {
		return nil
	}
	return sel
}
