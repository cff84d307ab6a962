package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalligram-api/internal/application/generation"
	"kalligram-api/internal/config"
	"kalligram-api/internal/infrastructure/persistence/redis"
	"kalligram-api/internal/interfaces/http/handler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubGenerator struct{}

func (stubGenerator) Generate(context.Context, *generation.Request) (*generation.Result, error) {
	return &generation.Result{Text: "Done.", Mode: "generate"}, nil
}

type stubChecker struct{ err error }

func (s stubChecker) HealthCheck(context.Context) error { return s.err }

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "kalligram-api", Env: "test"},
		Security: config.SecurityConfig{
			CORS: config.CORSConfig{AllowedOrigins: []string{"*"}},
			RateLimit: config.RateLimitConfig{
				Enabled:  true,
				Requests: 2,
				Window:   time.Minute,
			},
		},
		Observability: config.ObservabilityConfig{
			Metrics: config.MetricsConfig{Enabled: true, Path: "/metrics"},
		},
	}
}

func newTestRouter(t *testing.T, cfg *config.Config, store handler.HealthChecker, limiter *redis.RateLimiter) *Router {
	t.Helper()
	handlers := &Handlers{
		Generate: handler.NewGenerateHandler(stubGenerator{}, false),
		Health:   handler.NewHealthHandler("test", store, nil),
	}
	if limiter == nil {
		return New(cfg, handlers, nil, nil)
	}
	return New(cfg, handlers, limiter, nil)
}

func newLimiter(t *testing.T) *redis.RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return redis.NewRateLimiter(redis.NewClientFromRedis(rdb))
}

func do(r http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

const body = `{"prompt":"hi","user_id":"u1","project_id":"p1"}`

func TestRouter_SystemEndpoints(t *testing.T) {
	r := newTestRouter(t, testConfig(), stubChecker{}, nil)

	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/live", "").Code)
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/metrics", "").Code)

	w := do(r, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":{"status":"disabled"}`)
}

func TestRouter_ReadyReportsDegradedStore(t *testing.T) {
	r := newTestRouter(t, testConfig(), stubChecker{err: errors.New("Supabase credentials are not configured.")}, nil)

	w := do(r, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Checks map[string]struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp.Checks["store"].Status)
	assert.Equal(t, "Supabase credentials are not configured.", resp.Checks["store"].Error)
}

func TestRouter_GenerateTextMethods(t *testing.T) {
	r := newTestRouter(t, testConfig(), stubChecker{}, nil)

	w := do(r, http.MethodPost, "/v1/generate-text", body)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = do(r, http.MethodOptions, "/v1/generate-text", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(r, http.MethodPut, "/v1/generate-text", body)
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Method not allowed. Please use POST."}`, w.Body.String())
}

func TestRouter_CORSPreflight(t *testing.T) {
	r := newTestRouter(t, testConfig(), stubChecker{}, nil)

	w := do(r, http.MethodOptions, "/v1/generate-text", "",
		"Origin", "https://app.example.com",
		"Access-Control-Request-Method", "POST",
		"Access-Control-Request-Headers", "Content-Type, Authorization",
	)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")
}

func TestRouter_RateLimit(t *testing.T) {
	r := newTestRouter(t, testConfig(), stubChecker{}, newLimiter(t))

	for i := 0; i < 2; i++ {
		assert.Equal(t, http.StatusOK, do(r, http.MethodPost, "/v1/generate-text", body).Code, "request %d", i)
	}

	w := do(r, http.MethodPost, "/v1/generate-text", body)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Rate limit exceeded. Please try again in a few minutes."}`, w.Body.String())

	// 健康检查不受限流影响
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/health", "").Code)
}

func TestRouter_MetricsUseRouteLabels(t *testing.T) {
	r := newTestRouter(t, testConfig(), stubChecker{}, nil)

	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/v1/generate-text", body).Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodPost, "/v1/generate-text",
		`{"prompt":"hi","user_id":"u1","project_id":"p1","mode":"CHAT","stream":true}`).Code)
	require.Equal(t, http.StatusMethodNotAllowed, do(r, http.MethodPut, "/v1/generate-text", body).Code)
	require.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/v1/unknown/abc123", "").Code)
	require.Equal(t, http.StatusOK, do(r, http.MethodGet, "/health", "").Code)

	exposition := do(r, http.MethodGet, "/metrics", "").Body.String()
	assert.Contains(t, exposition, `kalligram_http_generate_requests_total{delivery="json",mode="generate",status="200"}`)
	assert.Contains(t, exposition, `kalligram_http_generate_requests_total{delivery="sse",mode="chat",status="200"}`)
	assert.Contains(t, exposition, `kalligram_http_requests_total{method="POST",path="/v1/generate-text",status="200"}`)
	assert.Contains(t, exposition, `path="method_not_allowed"`)
	assert.Contains(t, exposition, `path="unmatched"`)
	assert.NotContains(t, exposition, `/v1/unknown/abc123`)
	assert.NotContains(t, exposition, `path="/health"`)
	assert.NotContains(t, exposition, `path="/metrics"`)
}

func TestRouter_RequestIDHeader(t *testing.T) {
	r := newTestRouter(t, testConfig(), stubChecker{}, nil)

	w := do(r, http.MethodPost, "/v1/generate-text", body, "X-Request-ID", "req-42.a:b_c")
	assert.Equal(t, "req-42.a:b_c", w.Header().Get("X-Request-ID"))

	w = do(r, http.MethodPost, "/v1/generate-text", body, "X-Request-ID", "bad id\nInjected: 1")
	got := w.Header().Get("X-Request-ID")
	assert.NotEqual(t, "bad id\nInjected: 1", got)
	assert.Len(t, got, 36)

	w = do(r, http.MethodPost, "/v1/generate-text", body, "X-Request-ID", strings.Repeat("a", 200))
	assert.Len(t, w.Header().Get("X-Request-ID"), 36)
}
