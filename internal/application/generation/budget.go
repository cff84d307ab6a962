package generation

import (
	"math"
	"time"

	"kalligram-api/internal/config"
	"kalligram-api/internal/infrastructure/llm"
)

// Budget token 预算与超时计算
type Budget struct {
	TokensPerWord     float64
	TokenBuffer       float64
	LargeRequestWords int
}

// NewBudget 从配置创建
func NewBudget(cfg *config.GenerationConfig) Budget {
	b := Budget{
		TokensPerWord:     cfg.TokensPerWord,
		TokenBuffer:       cfg.TokenBuffer,
		LargeRequestWords: cfg.LargeRequestWords,
	}
	if b.TokensPerWord <= 0 {
		b.TokensPerWord = 1.3
	}
	return b
}

// WordsToTokens 词数换算为 max_tokens，结果不超过 maxTokens（<=0 表示不限制）
func (b Budget) WordsToTokens(words, maxTokens int) int {
	if words <= 0 {
		return 0
	}
	raw := float64(words) * b.TokensPerWord * (1 + b.TokenBuffer)
	tokens := int(math.Ceil(raw - 1e-9))
	if maxTokens > 0 && tokens > maxTokens {
		return maxTokens
	}
	return tokens
}

// IsLarge 是否为大请求
func (b Budget) IsLarge(words int) bool {
	return b.LargeRequestWords > 0 && words > b.LargeRequestWords
}

// CalculateTimeout 计算单次调用超时，结果落在 [mode.Min, profile.Max]
func (b Budget) CalculateTimeout(tokens int, mode llm.Mode, profile llm.TimeoutProfile) time.Duration {
	if profile.Max > 0 && b.LargeRequestWords > 0 {
		estimatedWords := float64(tokens) / b.TokensPerWord
		if estimatedWords > float64(b.LargeRequestWords) {
			return profile.Max
		}
	}

	m := profile.ForMode(mode)
	timeout := m.Base + time.Duration(tokens)*m.PerToken + profile.Overhead
	if timeout < m.Min {
		timeout = m.Min
	}
	if profile.Max > 0 && timeout > profile.Max {
		timeout = profile.Max
	}
	return timeout
}

// ScaleTokens 按比例缩放 token 数，向上取整
func ScaleTokens(tokens int, factor float64) int {
	return int(math.Ceil(float64(tokens)*factor - 1e-9))
}

// ScaleDuration 按比例缩放时长
func ScaleDuration(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}
