// Package messaging 提供生成事件的消息发布
package messaging

import (
	"encoding/json"
	"time"
)

// Message 消息结构
type Message struct {
	ID        string            `json:"id"`
	Type      string            `json:"type"`
	UserID    string            `json:"user_id"`
	ProjectID string            `json:"project_id"`
	Payload   json.RawMessage   `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewMessage 创建新消息
func NewMessage(id, msgType, userID, projectID string, payload interface{}) (*Message, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &Message{
		ID:        id,
		Type:      msgType,
		UserID:    userID,
		ProjectID: projectID,
		Payload:   payloadBytes,
		Metadata:  make(map[string]string),
		CreatedAt: time.Now(),
	}, nil
}

// SetMetadata 设置元数据
func (m *Message) SetMetadata(key, value string) {
	if m.Metadata == nil {
		m.Metadata = make(map[string]string)
	}
	m.Metadata[key] = value
}

// UnmarshalPayload 解析消息载荷
func (m *Message) UnmarshalPayload(v interface{}) error {
	return json.Unmarshal(m.Payload, v)
}

// Stream 流定义
type Stream string

// StreamGenerationCompleted 生成完成事件流默认名称
const StreamGenerationCompleted Stream = "stream:generation:completed"

// MessageTypeGenerationCompleted 生成完成事件类型
const MessageTypeGenerationCompleted = "generation_completed"

// GenerationCompletedMessage 生成完成事件，供外部持久化服务消费
type GenerationCompletedMessage struct {
	RequestID      string `json:"request_id"`
	UserID         string `json:"user_id"`
	ProjectID      string `json:"project_id"`
	Mode           string `json:"mode"`
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	Text           string `json:"text"`
	RequestedWords int    `json:"requested_words"`
	ActualWords    int    `json:"actual_words"`
	TotalTokens    int    `json:"total_tokens"`
	Attempts       int    `json:"attempts"`
	Degraded       bool   `json:"degraded"`
}
