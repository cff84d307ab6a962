// Package metrics 提供 Prometheus 指标采集功能
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "kalligram"
)

var (
	// HTTP 请求指标
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 240},
		},
		[]string{"method", "path"},
	)

	HTTPRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_size_bytes",
			Help:      "HTTP request size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	HTTPResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "response_size_bytes",
			Help:      "HTTP response size in bytes",
			Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
		},
		[]string{"method", "path"},
	)

	// 业务指标 - 文本生成
	GenerationTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "total",
			Help:      "Total number of text generations",
		},
		[]string{"mode", "status"},
	)

	GenerationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "duration_seconds",
			Help:      "Text generation duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 240, 480},
		},
		[]string{"mode"},
	)

	GenerationWordCount = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "word_count",
			Help:      "Generated text word count",
			Buckets:   []float64{50, 100, 200, 500, 1000, 1500, 2000, 3000},
		},
		[]string{"mode"},
	)

	ContextFetchFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "generation",
			Name:      "context_fetch_failures_total",
			Help:      "Total number of context or chapter history fetch failures",
		},
		[]string{"source"},
	)

	// LLM 指标
	LLMTokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total tokens used for LLM calls",
		},
		[]string{"provider", "model", "type"}, // type: prompt/completion
	)

	LLMCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_duration_seconds",
			Help:      "LLM call duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 240},
		},
		[]string{"provider", "model"},
	)

	LLMCallTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "call_total",
			Help:      "Total number of LLM calls",
		},
		[]string{"provider", "model", "status"},
	)

	LLMRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "retry_total",
			Help:      "Total number of LLM call retries",
		},
		[]string{"provider", "reason"},
	)

	LLMDegradedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "degraded_total",
			Help:      "Total number of degraded retries after a timeout on a large request",
		},
		[]string{"provider"},
	)

	// GenerateRequestsTotal 生成接口请求数，按模式与返回方式区分
	GenerateRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "generate_requests_total",
			Help:      "Total number of generate-text requests by mode and delivery",
		},
		[]string{"mode", "delivery", "status"},
	)

	// 限流指标
	RateLimitRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rejected_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
		[]string{"path"},
	)

	// 队列指标
	RedisStreamPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "redis",
			Name:      "stream_published_total",
			Help:      "Total number of Redis stream messages published",
		},
		[]string{"stream", "status"},
	)
)
