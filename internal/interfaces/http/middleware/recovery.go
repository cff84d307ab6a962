package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"kalligram-api/internal/interfaces/http/dto"
	"kalligram-api/pkg/logger"
)

// Recovery Panic 恢复中间件
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				stack := string(debug.Stack())

				logger.Error(c.Request.Context(), "panic recovered",
					fmt.Errorf("%v", err),
					"stack", stack,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				dto.Abort(c, http.StatusInternalServerError, "internal server error")
			}
		}()

		c.Next()
	}
}
