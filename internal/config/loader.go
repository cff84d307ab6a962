// Package config 提供配置加载功能
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/spf13/viper"
)

// Load 加载配置文件
// 按优先级加载：默认配置 -> 环境配置 -> 环境变量
func Load() (*Config, error) {
	return LoadFrom("configs")
}

// LoadFrom 从指定目录加载配置
func LoadFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	// 1. 加载默认配置
	if err := loadConfigFile(v, filepath.Join(dir, "config.yaml"), false); err != nil {
		return nil, err
	}

	// 2. 加载环境特定配置
	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "development"
	}
	envFile := filepath.Join(dir, fmt.Sprintf("config.%s.yaml", env))
	if err := loadConfigFile(v, envFile, true); err != nil {
		return nil, err
	}

	// 3. 绑定环境变量 (直接覆盖)
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// 设置默认值 (兜底)
	setDefaults(v)

	// 解析配置
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if cfg.App.Env == "" {
		cfg.App.Env = env
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// loadConfigFile 读取文件，执行环境变量替换，并加载到 viper
func loadConfigFile(v *viper.Viper, path string, optional bool) error {
	content, err := os.ReadFile(path)
	if err != nil {
		if optional && os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// 执行环境变量替换
	expanded := expandEnv(string(content))

	// 加载到 viper
	reader := strings.NewReader(expanded)
	if v.ConfigFileUsed() == "" {
		if err := v.ReadConfig(reader); err != nil {
			return fmt.Errorf("failed to read processed config %s: %w", path, err)
		}
		// 手动标记已加载文件，防止后续 ReadInConfig 报错
		v.SetConfigFile(path)
	} else {
		if err := v.MergeConfig(reader); err != nil {
			return fmt.Errorf("failed to merge processed config %s: %w", path, err)
		}
	}

	return nil
}

// expandEnv 替换字符串中的 ${VAR:default} 占位符
func expandEnv(s string) string {
	// 匹配 ${VAR} 或 ${VAR:default}
	// g1: 变量名, g2: 默认值部分（含冒号）, g3: 默认值内容
	re := regexp.MustCompile(`\${(\w+)(:([^}]*))?}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		submatch := re.FindStringSubmatch(match)
		key := submatch[1]
		hasDefault := submatch[2] != ""
		defVal := submatch[3]

		val, ok := os.LookupEnv(key)
		if ok {
			return val
		}
		if hasDefault {
			return defVal
		}
		return match
	})
}

// MustLoad 加载配置，失败时 panic
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	// 应用默认值
	v.SetDefault("app.name", "kalligram-api")
	v.SetDefault("app.version", "v0.0.0")

	// HTTP 服务器默认值
	v.SetDefault("server.http.host", "0.0.0.0")
	v.SetDefault("server.http.port", 8080)
	v.SetDefault("server.http.read_timeout", "30s")
	v.SetDefault("server.http.write_timeout", "600s")
	v.SetDefault("server.http.idle_timeout", "120s")

	// 数据源默认值
	v.SetDefault("store.driver", "supabase")
	v.SetDefault("store.profile_cache_ttl", "10m")
	v.SetDefault("store.query_timeout", "10s")
	v.SetDefault("supabase.schema", "public")

	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "postgres")
	v.SetDefault("database.postgres.database", "postgres")
	v.SetDefault("database.postgres.ssl_mode", "require")
	v.SetDefault("database.postgres.max_open_conns", 20)
	v.SetDefault("database.postgres.max_idle_conns", 5)
	v.SetDefault("database.postgres.conn_max_lifetime", "30m")
	v.SetDefault("database.postgres.conn_max_idle_time", "5m")

	// Redis 默认值
	v.SetDefault("cache.redis.host", "localhost")
	v.SetDefault("cache.redis.port", 6379)
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.pool_size", 20)
	v.SetDefault("cache.redis.min_idle_conns", 2)
	v.SetDefault("cache.redis.dial_timeout", "5s")
	v.SetDefault("cache.redis.read_timeout", "3s")
	v.SetDefault("cache.redis.write_timeout", "3s")
	v.SetDefault("messaging.redis_stream.stream", "stream:generation:completed")
	v.SetDefault("messaging.redis_stream.max_len", 10000)

	// LLM 默认值
	v.SetDefault("llm.default_model", "deepseek-chat")
	v.SetDefault("llm.default_provider", "openrouter")

	// 生成参数默认值
	v.SetDefault("generation.tokens_per_word", 1.3)
	v.SetDefault("generation.token_buffer", 0.2)
	v.SetDefault("generation.large_request_words", 1000)
	v.SetDefault("generation.top_p", 0.95)
	v.SetDefault("generation.stop", []string{"###"})
	v.SetDefault("generation.context_budget", 2500)
	v.SetDefault("generation.history_budget", 3500)
	v.SetDefault("generation.large_context_budget", 4000)
	v.SetDefault("generation.large_history_budget", 6000)

	v.SetDefault("generation.chat.min_words", 50)
	v.SetDefault("generation.chat.max_words", 800)
	v.SetDefault("generation.chat.default_words", 200)
	v.SetDefault("generation.chat.max_tokens", 1500)
	v.SetDefault("generation.chat.response_cap_words", 300)
	v.SetDefault("generation.chat.temperature", 0.9)
	v.SetDefault("generation.chat.presence_penalty", 0.8)
	v.SetDefault("generation.chat.frequency_penalty", 0.7)

	v.SetDefault("generation.generate.min_words", 100)
	v.SetDefault("generation.generate.max_words", 2000)
	v.SetDefault("generation.generate.default_words", 500)
	v.SetDefault("generation.generate.max_tokens", 4000)
	v.SetDefault("generation.generate.temperature", 0.8)
	v.SetDefault("generation.generate.presence_penalty", 0.5)
	v.SetDefault("generation.generate.frequency_penalty", 0.5)

	v.SetDefault("generation.retry.max_retries", 2)
	v.SetDefault("generation.retry.delay", "1s")
	v.SetDefault("generation.retry.degrade_token_factor", 0.7)
	v.SetDefault("generation.retry.degrade_timeout_factor", 1.5)
	v.SetDefault("generation.deadline", "540s")

	// 可观测性默认值
	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.tracing.enabled", false)
	v.SetDefault("observability.tracing.endpoint", "localhost:4317")
	v.SetDefault("observability.tracing.sample_rate", 1.0)
	v.SetDefault("observability.metrics.enabled", true)
	v.SetDefault("observability.metrics.path", "/metrics")

	// 安全默认值
	v.SetDefault("security.rate_limit.enabled", true)
	v.SetDefault("security.rate_limit.requests", 30)
	v.SetDefault("security.rate_limit.window", "1m")
	v.SetDefault("security.cors.allowed_origins", []string{"*"})
	v.SetDefault("security.cors.allowed_methods", []string{"POST", "OPTIONS"})
	v.SetDefault("security.cors.allowed_headers", []string{"authorization", "x-client-info", "apikey", "content-type"})

	// 功能开关默认值
	v.SetDefault("features.debug_payload", false)
	v.SetDefault("features.publish_events", false)
}
