// Package identity 解析请求用户的显示名
package identity

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"kalligram-api/internal/domain/repository"
	"kalligram-api/internal/infrastructure/persistence/redis"
	"kalligram-api/pkg/logger"
)

// DefaultName 无法解析时使用的显示名
const DefaultName = "User"

// ProfileSource 提供用户资料读取
type ProfileSource interface {
	Reader(ctx context.Context) (repository.StoryReader, error)
}

// Resolver 显示名解析器
type Resolver struct {
	source ProfileSource
	cache  *redis.Cache
	ttl    time.Duration
}

// NewResolver 创建解析器，cache 为 nil 时不缓存
func NewResolver(source ProfileSource, cache *redis.Cache, ttl time.Duration) *Resolver {
	return &Resolver{source: source, cache: cache, ttl: ttl}
}

// DisplayName 依次尝试 profiles.name、邮箱前缀，最后回退为 "User"
//
// userID 为空（请求未携带有效 token）时直接返回默认值。
func (r *Resolver) DisplayName(ctx context.Context, userID, email string) string {
	if userID == "" {
		return DefaultName
	}

	if name := r.profileName(ctx, userID); name != "" {
		return name
	}
	if prefix := EmailPrefix(email); prefix != "" {
		return prefix
	}
	return DefaultName
}

func (r *Resolver) profileName(ctx context.Context, userID string) string {
	if r.cache == nil || r.ttl <= 0 {
		name, err := r.loadName(ctx, userID)
		if err != nil {
			logger.Warn(ctx, "profile lookup failed", "user_id", userID, "error", err)
		}
		return name
	}

	raw, err := r.cache.GetOrLoadSafe(ctx, redis.ProfileKey(userID), r.ttl, func() (interface{}, error) {
		return r.loadName(ctx, userID)
	})
	if err != nil {
		logger.Warn(ctx, "profile lookup failed", "user_id", userID, "error", err)
		return ""
	}
	var name string
	if err := json.Unmarshal(raw, &name); err != nil {
		return ""
	}
	return name
}

func (r *Resolver) loadName(ctx context.Context, userID string) (string, error) {
	reader, err := r.source.Reader(ctx)
	if err != nil {
		return "", err
	}
	profile, err := reader.GetProfile(ctx, userID)
	if err != nil || profile == nil {
		return "", err
	}
	return strings.TrimSpace(profile.Name), nil
}

// EmailPrefix 返回邮箱 @ 之前的部分
func EmailPrefix(email string) string {
	email = strings.TrimSpace(email)
	if i := strings.Index(email, "@"); i >= 0 {
		return email[:i]
	}
	return email
}
