package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"kalligram-api/pkg/logger"
)

const (
	// RequestIDHeader 请求 ID 头
	RequestIDHeader = "X-Request-ID"
	// RequestIDKey gin.Context 中的请求 ID
	RequestIDKey = "request_id"

	maxRequestIDLength = 128
)

// RequestID 请求 ID 注入中间件
//
// 客户端传入的 ID 为空或含非法字符时重新生成；该 ID 同时作为生成完成事件的 request_id。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if !validRequestID(requestID) {
			requestID = uuid.NewString()
		}

		c.Set(RequestIDKey, requestID)
		ctx := logger.WithContext(c.Request.Context(), logger.RequestIDKey, requestID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(RequestIDHeader, requestID)

		c.Next()
	}
}

// validRequestID 只接受字母数字与 - _ . : 组成的短 ID
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_' || r == '.' || r == ':':
		default:
			return false
		}
	}
	return true
}
