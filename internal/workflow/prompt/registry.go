// Package prompt 管理内嵌的提示词模板
package prompt

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed templates/*.txt
var templatesFS embed.FS

// PromptID 模板标识
type PromptID string

const (
	PromptChatV1     PromptID = "chat_v1"
	PromptGenerateV1 PromptID = "generate_v1"
)

// Registry 缓存已解析的 ChatTemplate
type Registry struct {
	mu    sync.RWMutex
	cache map[PromptID]einoprompt.ChatTemplate
}

// NewRegistry 创建模板注册表
func NewRegistry() *Registry {
	return &Registry{
		cache: make(map[PromptID]einoprompt.ChatTemplate),
	}
}

// ChatTemplate 返回 system + user 两段式模板
func (r *Registry) ChatTemplate(id PromptID) (einoprompt.ChatTemplate, error) {
	if r == nil {
		return nil, fmt.Errorf("prompt registry is nil")
	}

	r.mu.RLock()
	if tpl, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return tpl, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if tpl, ok := r.cache[id]; ok {
		return tpl, nil
	}

	system, err := readEmbeddedText(fmt.Sprintf("templates/%s.system.txt", id))
	if err != nil {
		return nil, fmt.Errorf("unknown prompt id %s: %w", id, err)
	}
	user, err := readEmbeddedText(fmt.Sprintf("templates/%s.user.txt", id))
	if err != nil {
		return nil, fmt.Errorf("unknown prompt id %s: %w", id, err)
	}

	tpl := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	)
	r.cache[id] = tpl
	return tpl, nil
}

func readEmbeddedText(path string) (string, error) {
	b, err := templatesFS.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}
