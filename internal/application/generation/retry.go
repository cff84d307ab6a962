package generation

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"kalligram-api/internal/config"
	"kalligram-api/internal/infrastructure/llm"
	"kalligram-api/pkg/errors"
	"kalligram-api/pkg/logger"
	"kalligram-api/pkg/metrics"
)

// RetryState 单次调用的重试状态
type RetryState struct {
	Attempts  int
	Degraded  bool
	Delays    []time.Duration
	MaxTokens int
	Timeout   time.Duration
	LastErr   error
}

// linearBackOff 第 n 次重试前等待 n × delay
type linearBackOff struct {
	delay   time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return time.Duration(b.attempt) * b.delay
}

func (b *linearBackOff) Reset() { b.attempt = 0 }

// Retrier 带重试与降级的补全调用器
type Retrier struct {
	maxRetries           int
	delay                time.Duration
	degradeTokenFactor   float64
	degradeTimeoutFactor float64
	largeRequestWords    int

	// 测试中替换等待计时器
	timer backoff.Timer
}

// NewRetrier 从配置创建 Retrier
func NewRetrier(cfg *config.GenerationConfig) *Retrier {
	return &Retrier{
		maxRetries:           cfg.Retry.MaxRetries,
		delay:                cfg.Retry.Delay,
		degradeTokenFactor:   cfg.Retry.DegradeTokenFactor,
		degradeTimeoutFactor: cfg.Retry.DegradeTimeoutFactor,
		largeRequestWords:    cfg.LargeRequestWords,
	}
}

// IsRetryable 超时、限流与服务端错误可重试
func IsRetryable(err error) bool {
	return errors.HasCode(err, errors.CodeTimeout) ||
		errors.HasCode(err, errors.CodeTooManyRequests) ||
		errors.HasCode(err, errors.CodeProviderUnavailable)
}

// Do 调用 provider，每次尝试使用独立的超时
//
// 首次尝试超时且 desiredWords 超过大请求阈值时进入降级：
// 后续尝试的 max_tokens 乘以 degradeTokenFactor，超时乘以 degradeTimeoutFactor。
func (r *Retrier) Do(ctx context.Context, provider llm.Provider, req *llm.CompletionRequest, timeout time.Duration, desiredWords int) (*llm.Completion, *RetryState, error) {
	state := &RetryState{MaxTokens: req.MaxTokens, Timeout: timeout}
	var result *llm.Completion

	operation := func() error {
		state.Attempts++
		attempt := state.Attempts
		attemptReq := *req
		attemptReq.MaxTokens = state.MaxTokens
		attemptTimeout := state.Timeout

		logger.Debug(ctx, "calling provider",
			"provider", provider.Name(),
			"attempt", attempt,
			"max_tokens", attemptReq.MaxTokens,
			"timeout_ms", attemptTimeout.Milliseconds(),
			"degraded", state.Degraded,
		)

		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		defer cancel()

		completion, err := provider.Complete(attemptCtx, &attemptReq)
		if err == nil {
			result = completion
			return nil
		}

		state.LastErr = err

		if ctx.Err() != nil || !IsRetryable(err) {
			logger.Warn(ctx, "provider call failed permanently",
				"provider", provider.Name(), "attempt", attempt, "error", err)
			return backoff.Permanent(err)
		}

		if attempt == 1 && !state.Degraded && errors.HasCode(err, errors.CodeTimeout) &&
			r.largeRequestWords > 0 && desiredWords > r.largeRequestWords {
			state.Degraded = true
			state.MaxTokens = ScaleTokens(state.MaxTokens, r.degradeTokenFactor)
			state.Timeout = ScaleDuration(state.Timeout, r.degradeTimeoutFactor)
			metrics.LLMDegradedTotal.WithLabelValues(provider.Name()).Inc()
			logger.Warn(ctx, "first attempt timed out on a large request, degrading",
				"provider", provider.Name(),
				"desired_words", desiredWords,
				"max_tokens", state.MaxTokens,
				"timeout_ms", state.Timeout.Milliseconds(),
			)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		state.Delays = append(state.Delays, wait)
		reason := string(errors.AsAppError(err).Code)
		metrics.LLMRetryTotal.WithLabelValues(provider.Name(), reason).Inc()
		logger.Warn(ctx, "provider call failed, retrying",
			"provider", provider.Name(),
			"retry", len(state.Delays),
			"max_retries", r.maxRetries,
			"wait_ms", wait.Milliseconds(),
			"error", err,
		)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{delay: r.delay}, uint64(max(r.maxRetries, 0))),
		ctx,
	)

	if err := backoff.RetryNotifyWithTimer(operation, policy, notify, r.timer); err != nil {
		if state.LastErr == nil {
			state.LastErr = err
		}
		return nil, state, state.LastErr
	}
	return result, state, nil
}
