package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthChecker 依赖健康检查
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler 健康检查处理器
type HealthHandler struct {
	version string
	store   HealthChecker
	redis   HealthChecker
}

// NewHealthHandler 创建健康检查处理器，redis 为 nil 表示未启用
func NewHealthHandler(version string, store HealthChecker, redisClient HealthChecker) *HealthHandler {
	return &HealthHandler{
		version: version,
		store:   store,
		redis:   redisClient,
	}
}

// HealthResponse 健康检查响应
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version,omitempty"`
}

type readinessCheck struct {
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	LatencyMs int64  `json:"latency_ms,omitempty"`
}

type readinessResponse struct {
	Status string                     `json:"status"`
	Checks map[string]*readinessCheck `json:"checks,omitempty"`
}

// Health 健康检查接口
// @Summary 健康检查
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:  "ok",
		Version: h.version,
	})
}

// Ready 就绪检查接口
// 故事数据源不可用时生成仍会降级执行，因此只有 redis 故障影响就绪态
// @Summary 就绪检查
// @Tags System
// @Produce json
// @Success 200 {object} readinessResponse
// @Router /ready [get]
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]*readinessCheck{
		"store": probe(ctx, h.store, "degraded"),
		"redis": {Status: "disabled"},
	}
	ready := true

	if h.redis != nil {
		checks["redis"] = probe(ctx, h.redis, "error")
		ready = checks["redis"].Status == "ok"
	}

	resp := readinessResponse{
		Status: "ok",
		Checks: checks,
	}
	if !ready {
		resp.Status = "not_ready"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Live 存活检查接口
// @Summary 存活检查
// @Tags System
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /live [get]
func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status: "ok",
	})
}

func probe(ctx context.Context, checker HealthChecker, failed string) *readinessCheck {
	if checker == nil {
		return &readinessCheck{Status: "missing"}
	}
	start := time.Now()
	err := checker.HealthCheck(ctx)
	check := &readinessCheck{Status: "ok", LatencyMs: time.Since(start).Milliseconds()}
	if err != nil {
		check.Status = failed
		check.Error = err.Error()
	}
	return check
}
