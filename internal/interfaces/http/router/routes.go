package router

import (
	"github.com/gin-gonic/gin"

	"kalligram-api/internal/interfaces/http/handler"
)

// RegisterV1Routes 注册 v1 版本路由
func RegisterV1Routes(v1 *gin.RouterGroup, generateHandler *handler.GenerateHandler, generateMiddleware ...gin.HandlerFunc) {
	// 文本生成
	generate := append(generateMiddleware, generateHandler.GenerateText)
	v1.POST("/generate-text", generate...)
	v1.OPTIONS("/generate-text", generateHandler.Options)
}
