package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"kalligram-api/pkg/metrics"
)

// 生成接口在 gin.Context 中写入的指标标签
const (
	GenerationModeKey     = "generation_mode"
	GenerationDeliveryKey = "generation_delivery"
)

// Metrics Prometheus 指标采集中间件，skip 中的路径（探针、指标端点）不计入
func Metrics(skip ...string) gin.HandlerFunc {
	skipped := pathSet(skip)
	return func(c *gin.Context) {
		if skipped[c.Request.URL.Path] {
			c.Next()
			return
		}

		start := time.Now()
		method := c.Request.Method
		route := routeLabel(c)

		c.Next()

		if c.Writer.Status() == http.StatusMethodNotAllowed && c.FullPath() == "" {
			route = "method_not_allowed"
		}
		status := strconv.Itoa(c.Writer.Status())

		if reqSize := float64(c.Request.ContentLength); reqSize > 0 {
			metrics.HTTPRequestSize.WithLabelValues(method, route).Observe(reqSize)
		}

		metrics.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
		if respSize := float64(c.Writer.Size()); respSize > 0 {
			metrics.HTTPResponseSize.WithLabelValues(method, route).Observe(respSize)
		}

		if mode := c.GetString(GenerationModeKey); mode != "" {
			delivery := c.GetString(GenerationDeliveryKey)
			if delivery == "" {
				delivery = "json"
			}
			metrics.GenerateRequestsTotal.WithLabelValues(mode, delivery, status).Inc()
		}
	}
}

// routeLabel 使用路由模板作为标签，未匹配的路径归为一类
func routeLabel(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unmatched"
}

func pathSet(paths []string) map[string]bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		if p != "" {
			set[p] = true
		}
	}
	return set
}
