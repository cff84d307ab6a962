// Package errors 提供统一的错误定义
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// ErrorCode 错误码类型
type ErrorCode string

// 预定义错误码
const (
	// 通用错误 (1xxx)
	CodeSuccess          ErrorCode = "0"
	CodeUnknown          ErrorCode = "1000"
	CodeInvalidParam     ErrorCode = "1001"
	CodeMethodNotAllowed ErrorCode = "1002"
	CodeTooManyRequests  ErrorCode = "1006"
	CodeInternalError    ErrorCode = "1007"

	// 认证与凭据配置错误 (2xxx)
	CodeAuthConfig   ErrorCode = "2001"
	CodeTokenInvalid ErrorCode = "2002"

	// 生成错误 (4xxx)
	CodeTimeout               ErrorCode = "4001"
	CodeInvalidResponseFormat ErrorCode = "4002"

	// 外部服务错误 (5xxx)
	CodeDatabaseError       ErrorCode = "5001"
	CodeCacheError          ErrorCode = "5002"
	CodeProviderUnavailable ErrorCode = "5005"
)

// AppError 应用错误
type AppError struct {
	Code       ErrorCode `json:"code"`
	Message    string    `json:"message"`
	Detail     string    `json:"detail,omitempty"`
	HTTPStatus int       `json:"-"`
	Err        error     `json:"-"`
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 返回底层错误
func (e *AppError) Unwrap() error {
	return e.Err
}

// WithDetail 添加详细信息
func (e *AppError) WithDetail(detail string) *AppError {
	e.Detail = detail
	return e
}

// New 创建新的应用错误
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
	}
}

// Wrap 包装错误
func Wrap(err error, code ErrorCode, message string) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: codeToHTTPStatus(code),
		Err:        err,
	}
}

// codeToHTTPStatus 错误码转 HTTP 状态码
func codeToHTTPStatus(code ErrorCode) int {
	switch code {
	case CodeSuccess:
		return http.StatusOK
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeAuthConfig, CodeTokenInvalid:
		return http.StatusUnauthorized
	case CodeMethodNotAllowed:
		return http.StatusMethodNotAllowed
	case CodeTimeout:
		return http.StatusRequestTimeout
	case CodeTooManyRequests:
		return http.StatusTooManyRequests
	case CodeProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrMissingBody      = New(CodeInvalidParam, "Missing request body")
	ErrInvalidJSON      = New(CodeInvalidParam, "Invalid JSON in request body")
	ErrPromptRequired   = New(CodeInvalidParam, "Prompt is required")
	ErrIDsRequired      = New(CodeInvalidParam, "user_id and project_id are required")
	ErrMethodNotAllowed = New(CodeMethodNotAllowed, "Method not allowed. Please use POST.")
	ErrTooManyRequests  = New(CodeTooManyRequests, "Rate limit exceeded. Please try again in a few minutes.")
	ErrTokenInvalid     = New(CodeTokenInvalid, "token invalid")
)

// IsAppError 检查是否为 AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError 将错误转换为 AppError
func AsAppError(err error) *AppError {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}
	return Wrap(err, CodeUnknown, "unknown error")
}

// HasCode 判断错误链中是否包含指定错误码
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}
