// Package middleware 提供 HTTP 中间件
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"kalligram-api/pkg/logger"
	"kalligram-api/pkg/utils"
)

// gin.Context 中的身份键
const (
	AuthUserIDKey = "auth_user_id"
	AuthEmailKey  = "auth_email"
)

// Identity 解析可选的 Bearer Token
//
// Token 仅用于解析显示名，缺失或无效都不会拦截请求。
func Identity(jwtManager *utils.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !jwtManager.Enabled() {
			c.Next()
			return
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Next()
			return
		}

		claims, err := jwtManager.ParseToken(token)
		if err != nil {
			logger.Debug(c.Request.Context(), "ignoring unusable bearer token", "error", err)
			c.Next()
			return
		}

		c.Set(AuthUserIDKey, claims.UserID())
		c.Set(AuthEmailKey, claims.Email)

		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
