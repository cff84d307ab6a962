package dto

import (
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"

	"kalligram-api/internal/application/generation"
	"kalligram-api/internal/infrastructure/llm"
	"kalligram-api/pkg/errors"
)

// GenerateTextResponse 文本生成成功响应
type GenerateTextResponse struct {
	Success                  bool           `json:"success"`
	Text                     string         `json:"text"`
	Model                    string         `json:"model"`
	UserName                 string         `json:"userName"`
	Mode                     string         `json:"mode"`
	ContextProvided          bool           `json:"contextProvided"`
	PreviousChaptersProvided bool           `json:"previousChaptersProvided"`
	Usage                    *llm.Usage     `json:"usage"`
	RequestedWords           int            `json:"requestedWords"`
	ActualWords              int            `json:"actualWords"`
	ActualTokens             *int           `json:"actualTokens"`
	Debug                    *GenerateDebug `json:"debug"`
}

// GenerateDebug 生成诊断信息
type GenerateDebug struct {
	ContextString    string          `json:"contextString"`
	PreviousChapters string          `json:"previousChapters"`
	ModelName        string          `json:"modelName"`
	Mode             string          `json:"mode"`
	RequestedWords   int             `json:"requestedWords"`
	ActualWords      int             `json:"actualWords"`
	TokensUsed       *int            `json:"tokensUsed"`
	Attempts         int             `json:"attempts"`
	Degraded         bool            `json:"degraded"`
	MaxTokens        int             `json:"maxTokens"`
	TimeoutMs        int64           `json:"timeoutMs"`
	RawResponse      json.RawMessage `json:"rawResponse,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool        `json:"success"`
	Error   string      `json:"error"`
	Debug   *ErrorDebug `json:"debug,omitempty"`
}

// ErrorDebug 错误诊断信息
type ErrorDebug struct {
	Error string `json:"error"`
	Stack string `json:"stack,omitempty"`
}

// NewGenerateTextResponse 由生成结果构造响应
func NewGenerateTextResponse(r *generation.Result) *GenerateTextResponse {
	var tokens *int
	var usage *llm.Usage
	if r.Usage.TotalTokens > 0 {
		total := r.Usage.TotalTokens
		tokens = &total
	}
	if r.Usage != (llm.Usage{}) {
		u := r.Usage
		usage = &u
	}

	return &GenerateTextResponse{
		Success:                  true,
		Text:                     r.Text,
		Model:                    r.Model,
		UserName:                 r.UserName,
		Mode:                     string(r.Mode),
		ContextProvided:          r.ContextProvided,
		PreviousChaptersProvided: r.HistoryProvided,
		Usage:                    usage,
		RequestedWords:           r.RequestedWords,
		ActualWords:              r.ActualWords,
		ActualTokens:             tokens,
		Debug: &GenerateDebug{
			ContextString:    r.ContextString,
			PreviousChapters: r.PreviousChapters,
			ModelName:        r.Model,
			Mode:             string(r.Mode),
			RequestedWords:   r.RequestedWords,
			ActualWords:      r.ActualWords,
			TokensUsed:       tokens,
			Attempts:         r.Attempts,
			Degraded:         r.Degraded,
			MaxTokens:        r.MaxTokens,
			TimeoutMs:        r.Timeout.Milliseconds(),
			RawResponse:      r.RawResponse,
		},
	}
}

const apiKeyErrorPrefix = "API key error: "

// ClientMessage 面向客户端的错误文案，原始错误只出现在 debug.error 中
func ClientMessage(appErr *errors.AppError) string {
	if appErr.Code == errors.CodeAuthConfig {
		return apiKeyErrorPrefix + appErr.Message
	}
	return appErr.Message
}

// NewErrorResponse 由错误构造响应，withStack 为 true 时附带错误链
func NewErrorResponse(err error, withStack bool) *ErrorResponse {
	appErr := errors.AsAppError(err)
	resp := &ErrorResponse{
		Success: false,
		Error:   ClientMessage(appErr),
		Debug:   &ErrorDebug{Error: rootMessage(appErr)},
	}
	if withStack {
		resp.Debug.Stack = fmt.Sprintf("%+v", err)
	}
	return resp
}

// rootMessage 取错误链最内层的原始信息
func rootMessage(appErr *errors.AppError) string {
	if appErr.Err == nil {
		return appErr.Message
	}
	return appErr.Err.Error()
}

// Error 写入错误响应
func Error(c *gin.Context, err error, withStack bool) {
	appErr := errors.AsAppError(err)
	c.JSON(appErr.HTTPStatus, NewErrorResponse(err, withStack))
}

// Abort 写入错误响应并终止后续处理
func Abort(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, &ErrorResponse{Success: false, Error: message})
}
