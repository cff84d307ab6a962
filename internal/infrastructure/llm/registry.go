package llm

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/go-resty/resty/v2"

	"kalligram-api/internal/config"
)

// Registry 按模型名解析提供商，提供商实例惰性创建
type Registry struct {
	config *config.LLMConfig
	http   *resty.Client
	order  []string

	providers map[string]Provider
	mu        sync.RWMutex
}

// NewRegistry 创建提供商注册表
func NewRegistry(cfg *config.LLMConfig, httpClient *resty.Client) *Registry {
	if httpClient == nil {
		httpClient = NewHTTPClient()
	}
	order := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		order = append(order, name)
	}
	sort.Strings(order)

	return &Registry{
		config:    cfg,
		http:      httpClient,
		order:     order,
		providers: make(map[string]Provider),
	}
}

// Resolve 根据模型名选择提供商；未命中 match 规则时使用默认提供商
func (r *Registry) Resolve(model string) (Provider, error) {
	lower := strings.ToLower(model)
	name := r.config.DefaultProvider
	for _, candidate := range r.order {
		if matchesAny(lower, r.config.Providers[candidate].Match) {
			name = candidate
			break
		}
	}
	return r.Get(name)
}

// Get 获取指定名称的提供商
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if ok {
		return p, nil
	}

	// 惰性加载
	r.mu.Lock()
	defer r.mu.Unlock()

	// 再次检查防止竞态
	if p, ok = r.providers[name]; ok {
		return p, nil
	}

	providerCfg, ok := r.config.Providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %s not found in LLM config", name)
	}

	switch Family(providerCfg.Family) {
	case FamilyFast:
		p = NewFastProvider(name, providerCfg, r.http)
	case FamilyRouter, "":
		p = NewRouterProvider(name, providerCfg, r.http)
	default:
		return nil, fmt.Errorf("provider %s has unknown family %q", name, providerCfg.Family)
	}

	r.providers[name] = p
	return p, nil
}

func matchesAny(model string, patterns []string) bool {
	for _, pattern := range patterns {
		if pattern != "" && strings.Contains(model, strings.ToLower(pattern)) {
			return true
		}
	}
	return false
}
