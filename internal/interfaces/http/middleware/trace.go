package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"kalligram-api/pkg/logger"
)

// TraceIDHeader 响应中回传的 trace ID
const TraceIDHeader = "X-Trace-ID"

// Trace OpenTelemetry 追踪中间件，skip 中的路径不产生 span
func Trace(serviceName string, skip ...string) gin.HandlerFunc {
	skipped := pathSet(skip)
	return otelgin.Middleware(serviceName,
		otelgin.WithFilter(func(r *http.Request) bool {
			return !skipped[r.URL.Path]
		}),
		otelgin.WithSpanNameFormatter(func(c *gin.Context) string {
			return c.Request.Method + " " + routeLabel(c)
		}),
	)
}

// TraceContext 将 trace/span ID 写入日志上下文，并把请求 ID 标注到 span
func TraceContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if sc := span.SpanContext(); sc.IsValid() {
			traceID := sc.TraceID().String()
			spanID := sc.SpanID().String()

			if requestID := c.GetString(RequestIDKey); requestID != "" {
				span.SetAttributes(attribute.String("request.id", requestID))
			}

			ctx := logger.WithContext(c.Request.Context(), logger.TraceIDKey, traceID)
			ctx = logger.WithContext(ctx, logger.SpanIDKey, spanID)
			c.Request = c.Request.WithContext(ctx)
			c.Header(TraceIDHeader, traceID)
		}

		c.Next()
	}
}
