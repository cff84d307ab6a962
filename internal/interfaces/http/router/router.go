// Package router 提供 HTTP 路由配置
package router

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"kalligram-api/internal/config"
	"kalligram-api/internal/interfaces/http/handler"
	"kalligram-api/internal/interfaces/http/middleware"
	"kalligram-api/pkg/utils"
)

// Handlers 路由依赖的处理器
type Handlers struct {
	Generate *handler.GenerateHandler
	Health   *handler.HealthHandler
}

// Router HTTP 路由器
type Router struct {
	engine   *gin.Engine
	cfg      *config.Config
	handlers *Handlers
	limiter  middleware.RateLimiter
	jwt      *utils.JWTManager
}

// New 创建新的路由器，limiter 为 nil 时不限流
func New(cfg *config.Config, handlers *Handlers, limiter middleware.RateLimiter, jwtManager *utils.JWTManager) *Router {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.HandleMethodNotAllowed = true

	r := &Router{
		engine:   engine,
		cfg:      cfg,
		handlers: handlers,
		limiter:  limiter,
		jwt:      jwtManager,
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// ServeHTTP 实现 http.Handler
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.ServeHTTP(w, req)
}

// setupMiddleware 配置中间件
func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())

	r.engine.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: r.cfg.Security.CORS.AllowedOrigins,
		AllowedMethods: r.cfg.Security.CORS.AllowedMethods,
		AllowedHeaders: r.cfg.Security.CORS.AllowedHeaders,
	}))

	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name, r.systemPaths()...))
		r.engine.Use(middleware.TraceContext())
	}

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics(r.systemPaths()...))
	}
}

// systemPaths 探针与指标端点，不计入请求指标与追踪
func (r *Router) systemPaths() []string {
	return []string{"/health", "/ready", "/live", r.cfg.Observability.Metrics.Path}
}

// setupRoutes 配置路由
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.handlers.Health.Health)
	r.engine.GET("/ready", r.handlers.Health.Ready)
	r.engine.GET("/live", r.handlers.Health.Live)

	if r.cfg.Observability.Metrics.Enabled && r.cfg.Observability.Metrics.Path != "" {
		r.engine.GET(r.cfg.Observability.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	r.engine.NoMethod(r.handlers.Generate.MethodNotAllowed)

	v1 := r.engine.Group("/v1")
	RegisterV1Routes(v1, r.handlers.Generate,
		middleware.RateLimit(middleware.RateLimitConfig{
			Enabled:  r.cfg.Security.RateLimit.Enabled,
			Requests: r.cfg.Security.RateLimit.Requests,
			Window:   r.cfg.Security.RateLimit.Window,
		}, r.limiter),
		middleware.Identity(r.jwt),
	)
}
