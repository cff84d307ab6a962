// Package generation 编排一次 AI 文本生成请求
package generation

import (
	stderrors "errors"
	"math"
	"strconv"
	"strings"

	"kalligram-api/internal/config"
	"kalligram-api/internal/domain/entity"
	"kalligram-api/internal/infrastructure/llm"
	"kalligram-api/pkg/errors"
)

// Request 生成请求
type Request struct {
	Prompt    string
	Mode      llm.Mode
	Tone      string
	Length    string
	UserID    string
	ProjectID string
	Model     string
	Selection *entity.ContextSelection
	Stream    bool

	// 请求携带有效 access token 时填充
	AuthUserID string
	AuthEmail  string
}

// WordLimits 单一模式的字数窗口
type WordLimits struct {
	Min     int
	Max     int
	Default int
}

// Clamp 解析并夹取期望字数；无法解析或非正数时使用默认值
func (l WordLimits) Clamp(raw string) int {
	words := l.Default
	raw = strings.TrimSpace(raw)
	if raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			words = n
		} else if f, err := strconv.ParseFloat(raw, 64); f >= 1 && (err == nil || stderrors.Is(err, strconv.ErrRange)) {
			// 超大数值饱和到 MaxInt32，随后由 Max 夹取
			words = int(min(f, math.MaxInt32))
		}
	}
	if words < l.Min {
		words = l.Min
	}
	if l.Max > 0 && words > l.Max {
		words = l.Max
	}
	return words
}

func limitsFor(cfg *config.GenerationConfig, mode llm.Mode) WordLimits {
	m := modeConfig(cfg, mode)
	return WordLimits{Min: m.MinWords, Max: m.MaxWords, Default: m.DefaultWords}
}

func modeConfig(cfg *config.GenerationConfig, mode llm.Mode) config.ModeConfig {
	if mode == llm.ModeChat {
		return cfg.Chat
	}
	return cfg.Generate
}

// Validate 校验必填字段并规范化模式
func (r *Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.ErrPromptRequired
	}
	if strings.TrimSpace(r.UserID) == "" || strings.TrimSpace(r.ProjectID) == "" {
		return errors.ErrIDsRequired
	}
	switch strings.ToLower(strings.TrimSpace(string(r.Mode))) {
	case "", string(llm.ModeGenerate):
		r.Mode = llm.ModeGenerate
	case string(llm.ModeChat):
		r.Mode = llm.ModeChat
	default:
		return errors.New(errors.CodeInvalidParam, "Invalid mode. Use 'generate' or 'chat'.")
	}
	return nil
}
