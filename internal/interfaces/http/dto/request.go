// Package dto 提供 HTTP 层数据传输对象
package dto

import (
	"bytes"
	"encoding/json"
	"strings"

	"kalligram-api/internal/application/generation"
	"kalligram-api/internal/infrastructure/llm"
)

// ContextRef 上下文元素引用
type ContextRef struct {
	ID string `json:"id"`
}

// ContextSelection 请求中选定的上下文
type ContextSelection struct {
	Characters []ContextRef `json:"characters"`
	Locations  []ContextRef `json:"locations"`
	Events     []ContextRef `json:"events"`
}

// WordCount 接受字符串或数字形式的字数
type WordCount string

// UnmarshalJSON 兼容 "500" 与 500 两种写法
func (w *WordCount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*w = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*w = WordCount(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*w = WordCount(n.String())
	return nil
}

// GenerateTextRequest 文本生成请求体
type GenerateTextRequest struct {
	Prompt    string            `json:"prompt"`
	Context   *ContextSelection `json:"context,omitempty"`
	Mode      string            `json:"mode,omitempty"`
	Tone      string            `json:"tone,omitempty"`
	Length    WordCount         `json:"length,omitempty"`
	UserID    string            `json:"user_id"`
	ProjectID string            `json:"project_id"`
	Stream    bool              `json:"stream,omitempty"`
}

// ToGenerationRequest 转换为应用层请求
func (r *GenerateTextRequest) ToGenerationRequest(model string) *generation.Request {
	req := &generation.Request{
		Prompt:    r.Prompt,
		Mode:      llm.Mode(strings.TrimSpace(r.Mode)),
		Tone:      r.Tone,
		Length:    string(r.Length),
		UserID:    r.UserID,
		ProjectID: r.ProjectID,
		Model:     strings.TrimSpace(model),
		Stream:    r.Stream,
	}
	if r.Context != nil {
		req.Selection = generation.SelectionFromIDs(
			refIDs(r.Context.Characters),
			refIDs(r.Context.Locations),
			refIDs(r.Context.Events),
		)
	}
	return req
}

func refIDs(refs []ContextRef) []string {
	if len(refs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.ID != "" {
			ids = append(ids, ref.ID)
		}
	}
	return ids
}
