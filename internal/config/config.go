// Package config 提供配置加载和管理功能
package config

import (
	"fmt"
	"time"
)

// Config 应用配置根结构
type Config struct {
	App           AppConfig           `yaml:"app" mapstructure:"app"`
	Server        ServerConfig        `yaml:"server" mapstructure:"server"`
	Store         StoreConfig         `yaml:"store" mapstructure:"store"`
	Database      DatabaseConfig      `yaml:"database" mapstructure:"database"`
	Supabase      SupabaseConfig      `yaml:"supabase" mapstructure:"supabase"`
	Cache         CacheConfig         `yaml:"cache" mapstructure:"cache"`
	Messaging     MessagingConfig     `yaml:"messaging" mapstructure:"messaging"`
	LLM           LLMConfig           `yaml:"llm" mapstructure:"llm"`
	Generation    GenerationConfig    `yaml:"generation" mapstructure:"generation"`
	Observability ObservabilityConfig `yaml:"observability" mapstructure:"observability"`
	Security      SecurityConfig      `yaml:"security" mapstructure:"security"`
	Features      FeaturesConfig      `yaml:"features" mapstructure:"features"`
}

// AppConfig 应用基础配置
type AppConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	Version string `yaml:"version" mapstructure:"version"`
	Env     string `yaml:"env" mapstructure:"env"`
}

// IsDevelopment 开发环境下返回 true
func (c AppConfig) IsDevelopment() bool {
	return c.Env == "" || c.Env == "development"
}

// ServerConfig 服务器配置
type ServerConfig struct {
	HTTP HTTPServerConfig `yaml:"http" mapstructure:"http"`
}

// HTTPServerConfig HTTP 服务器配置
type HTTPServerConfig struct {
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout"`
}

// StoreConfig 故事数据源配置
type StoreConfig struct {
	// Driver 可选 supabase / postgres
	Driver string `yaml:"driver" mapstructure:"driver"`
	// ProfileCacheTTL 用户显示名缓存时长，0 表示不缓存
	ProfileCacheTTL time.Duration `yaml:"profile_cache_ttl" mapstructure:"profile_cache_ttl"`
	// QueryTimeout 上下文与章节读取各自的超时，0 表示不限
	QueryTimeout time.Duration `yaml:"query_timeout" mapstructure:"query_timeout"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string        `yaml:"host" mapstructure:"host"`
	Port            int           `yaml:"port" mapstructure:"port"`
	User            string        `yaml:"user" mapstructure:"user"`
	Password        string        `yaml:"password" mapstructure:"password"`
	Database        string        `yaml:"database" mapstructure:"database"`
	SSLMode         string        `yaml:"ssl_mode" mapstructure:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" mapstructure:"conn_max_idle_time"`
}

// SupabaseConfig Supabase REST 配置
type SupabaseConfig struct {
	URL        string `yaml:"url" mapstructure:"url"`
	ServiceKey string `yaml:"service_key" mapstructure:"service_key"`
	Schema     string `yaml:"schema" mapstructure:"schema"`
}

// CacheConfig 缓存配置
type CacheConfig struct {
	Redis RedisConfig `yaml:"redis" mapstructure:"redis"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	Host         string        `yaml:"host" mapstructure:"host"`
	Port         int           `yaml:"port" mapstructure:"port"`
	Password     string        `yaml:"password" mapstructure:"password"`
	DB           int           `yaml:"db" mapstructure:"db"`
	PoolSize     int           `yaml:"pool_size" mapstructure:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns" mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
}

// MessagingConfig 消息队列配置
type MessagingConfig struct {
	RedisStream RedisStreamConfig `yaml:"redis_stream" mapstructure:"redis_stream"`
}

// RedisStreamConfig Redis Stream 配置
type RedisStreamConfig struct {
	Stream string `yaml:"stream" mapstructure:"stream"`
	MaxLen int    `yaml:"max_len" mapstructure:"max_len"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	// DefaultModel 请求未指定 model 参数时使用
	DefaultModel string `yaml:"default_model" mapstructure:"default_model"`
	// DefaultProvider 模型名未命中任何 match 规则时使用
	DefaultProvider string                    `yaml:"default_provider" mapstructure:"default_provider"`
	Providers       map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
}

// ProviderConfig LLM 提供商配置
type ProviderConfig struct {
	// Family 可选 fast / router
	Family    string `yaml:"family" mapstructure:"family"`
	APIKey    string `yaml:"api_key" mapstructure:"api_key"`
	APIKeyEnv string `yaml:"api_key_env" mapstructure:"api_key_env"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	// Match 模型名包含任一子串即路由到该提供商
	Match []string `yaml:"match" mapstructure:"match"`
	// Aliases 对外模型名到提供商模型 ID 的映射
	Aliases  map[string]string    `yaml:"aliases" mapstructure:"aliases"`
	SiteURL  string               `yaml:"site_url" mapstructure:"site_url"`
	AppTitle string               `yaml:"app_title" mapstructure:"app_title"`
	Timeouts TimeoutProfileConfig `yaml:"timeouts" mapstructure:"timeouts"`
}

// TimeoutProfileConfig 超时计算参数
type TimeoutProfileConfig struct {
	Chat     ModeTimeoutConfig `yaml:"chat" mapstructure:"chat"`
	Generate ModeTimeoutConfig `yaml:"generate" mapstructure:"generate"`
	Overhead time.Duration     `yaml:"overhead" mapstructure:"overhead"`
	Max      time.Duration     `yaml:"max" mapstructure:"max"`
}

// ModeTimeoutConfig 单一模式的超时参数
type ModeTimeoutConfig struct {
	Base     time.Duration `yaml:"base" mapstructure:"base"`
	PerToken time.Duration `yaml:"per_token" mapstructure:"per_token"`
	Min      time.Duration `yaml:"min" mapstructure:"min"`
}

// GenerationConfig 生成编排参数
type GenerationConfig struct {
	TokensPerWord      float64     `yaml:"tokens_per_word" mapstructure:"tokens_per_word"`
	TokenBuffer        float64     `yaml:"token_buffer" mapstructure:"token_buffer"`
	LargeRequestWords  int         `yaml:"large_request_words" mapstructure:"large_request_words"`
	TopP               float64     `yaml:"top_p" mapstructure:"top_p"`
	Stop               []string    `yaml:"stop" mapstructure:"stop"`
	ContextBudget      int         `yaml:"context_budget" mapstructure:"context_budget"`
	HistoryBudget      int         `yaml:"history_budget" mapstructure:"history_budget"`
	LargeContextBudget int         `yaml:"large_context_budget" mapstructure:"large_context_budget"`
	LargeHistoryBudget int         `yaml:"large_history_budget" mapstructure:"large_history_budget"`
	Chat               ModeConfig  `yaml:"chat" mapstructure:"chat"`
	Generate           ModeConfig  `yaml:"generate" mapstructure:"generate"`
	Retry              RetryConfig `yaml:"retry" mapstructure:"retry"`
	// Deadline 单次生成调用（含全部重试）的总时限，需小于 HTTP 写超时
	Deadline time.Duration `yaml:"deadline" mapstructure:"deadline"`
}

// ModeConfig 单一模式的字数窗口与采样参数
type ModeConfig struct {
	MinWords         int     `yaml:"min_words" mapstructure:"min_words"`
	MaxWords         int     `yaml:"max_words" mapstructure:"max_words"`
	DefaultWords     int     `yaml:"default_words" mapstructure:"default_words"`
	MaxTokens        int     `yaml:"max_tokens" mapstructure:"max_tokens"`
	ResponseCapWords int     `yaml:"response_cap_words" mapstructure:"response_cap_words"`
	Temperature      float64 `yaml:"temperature" mapstructure:"temperature"`
	PresencePenalty  float64 `yaml:"presence_penalty" mapstructure:"presence_penalty"`
	FrequencyPenalty float64 `yaml:"frequency_penalty" mapstructure:"frequency_penalty"`
}

// RetryConfig 重试与降级参数
type RetryConfig struct {
	MaxRetries           int           `yaml:"max_retries" mapstructure:"max_retries"`
	Delay                time.Duration `yaml:"delay" mapstructure:"delay"`
	DegradeTokenFactor   float64       `yaml:"degrade_token_factor" mapstructure:"degrade_token_factor"`
	DegradeTimeoutFactor float64       `yaml:"degrade_timeout_factor" mapstructure:"degrade_timeout_factor"`
}

// ObservabilityConfig 可观测性配置
type ObservabilityConfig struct {
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
	Tracing TracingConfig `yaml:"tracing" mapstructure:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" mapstructure:"metrics"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TracingConfig 追踪配置
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint   string  `yaml:"endpoint" mapstructure:"endpoint"`
	SampleRate float64 `yaml:"sample_rate" mapstructure:"sample_rate"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Path    string `yaml:"path" mapstructure:"path"`
}

// SecurityConfig 安全配置
type SecurityConfig struct {
	JWT       JWTConfig       `yaml:"jwt" mapstructure:"jwt"`
	RateLimit RateLimitConfig `yaml:"rate_limit" mapstructure:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors" mapstructure:"cors"`
}

// JWTConfig Supabase access token 校验配置
type JWTConfig struct {
	Secret string `yaml:"secret" mapstructure:"secret"`
	Issuer string `yaml:"issuer" mapstructure:"issuer"`
}

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled" mapstructure:"enabled"`
	Requests int           `yaml:"requests" mapstructure:"requests"`
	Window   time.Duration `yaml:"window" mapstructure:"window"`
}

// CORSConfig CORS 配置
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods" mapstructure:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers" mapstructure:"allowed_headers"`
}

// FeaturesConfig 功能开关配置
type FeaturesConfig struct {
	// DebugPayload 响应中附带原始模型输出与错误堆栈
	DebugPayload bool `yaml:"debug_payload" mapstructure:"debug_payload"`
	// PublishEvents 生成完成后写入 Redis Stream
	PublishEvents bool `yaml:"publish_events" mapstructure:"publish_events"`
}

// storeReadsPerRequest 一次生成中串行的数据源读取：显示名、项目上下文、章节历史
const storeReadsPerRequest = 3

// RequestBudget 一次生成请求在服务端的最长耗时
func (c *Config) RequestBudget() time.Duration {
	return c.Generation.Deadline + storeReadsPerRequest*c.Store.QueryTimeout
}

// Validate 校验跨配置段的约束
func (c *Config) Validate() error {
	write := c.Server.HTTP.WriteTimeout
	if write <= 0 {
		return nil
	}
	if c.Generation.Deadline <= 0 {
		return fmt.Errorf("generation.deadline must be set when server.http.write_timeout is %s", write)
	}
	if budget := c.RequestBudget(); budget >= write {
		return fmt.Errorf("generation.deadline (%s) plus store reads (3 x %s) must stay below server.http.write_timeout (%s)",
			c.Generation.Deadline, c.Store.QueryTimeout, write)
	}
	return nil
}
