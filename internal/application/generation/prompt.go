package generation

import (
	"context"
	"fmt"
	"math"

	"github.com/cloudwego/eino/schema"

	"kalligram-api/internal/config"
	"kalligram-api/internal/infrastructure/llm"
	"kalligram-api/internal/workflow/prompt"
)

// SystemMessageInput 构造系统消息所需的数据
type SystemMessageInput struct {
	Mode         llm.Mode
	UserName     string
	DesiredWords int
	Tone         string
	Context      string
	History      string
}

// PromptBuilder 基于模板渲染系统消息与用户消息
type PromptBuilder struct {
	registry *prompt.Registry
	cfg      *config.GenerationConfig
	budget   Budget
}

// NewPromptBuilder 创建 PromptBuilder
func NewPromptBuilder(registry *prompt.Registry, cfg *config.GenerationConfig) *PromptBuilder {
	return &PromptBuilder{
		registry: registry,
		cfg:      cfg,
		budget:   NewBudget(cfg),
	}
}

// WordBand 可接受字数区间 [floor(0.9w), ceil(1.1w)]
func WordBand(words int) (int, int) {
	lo := int(math.Floor(float64(words) * 0.9))
	hi := int(math.Ceil(float64(words)*1.1 - 1e-9))
	return lo, hi
}

// ChatResponseWords chat 模式下提示的回复字数上限
func ChatResponseWords(words, capWords int) int {
	if capWords > 0 && words > capWords {
		return capWords
	}
	return words
}

// BlockBudgets 返回上下文与章节历史的字符预算
func (b *PromptBuilder) BlockBudgets(words int) (int, int) {
	if b.budget.IsLarge(words) {
		return b.cfg.LargeContextBudget, b.cfg.LargeHistoryBudget
	}
	return b.cfg.ContextBudget, b.cfg.HistoryBudget
}

// BuildMessages 渲染 system + user 消息
func (b *PromptBuilder) BuildMessages(ctx context.Context, in SystemMessageInput, userPrompt string) ([]*schema.Message, error) {
	id := prompt.PromptGenerateV1
	if in.Mode == llm.ModeChat {
		id = prompt.PromptChatV1
	}
	tpl, err := b.registry.ChatTemplate(id)
	if err != nil {
		return nil, err
	}

	msgs, err := tpl.Format(ctx, b.variables(in, userPrompt))
	if err != nil {
		return nil, fmt.Errorf("render prompt %s: %w", id, err)
	}
	return msgs, nil
}

// BuildSystemMessage 只返回系统消息文本
func (b *PromptBuilder) BuildSystemMessage(ctx context.Context, in SystemMessageInput) (string, error) {
	msgs, err := b.BuildMessages(ctx, in, "")
	if err != nil {
		return "", err
	}
	for _, m := range msgs {
		if m.Role == schema.System {
			return m.Content, nil
		}
	}
	return "", fmt.Errorf("prompt has no system message")
}

func (b *PromptBuilder) variables(in SystemMessageInput, userPrompt string) map[string]any {
	userName := in.UserName
	if userName == "" {
		userName = defaultUserName
	}
	toneClause := ""
	if in.Tone != "" {
		toneClause = " in a " + in.Tone + " tone"
	}

	vars := map[string]any{
		"user_name":   userName,
		"tone_clause": toneClause,
		"prompt":      userPrompt,
	}

	contextBudget, historyBudget := b.BlockBudgets(in.DesiredWords)
	if in.Mode == llm.ModeChat {
		vars["response_words"] = ChatResponseWords(in.DesiredWords, b.cfg.Chat.ResponseCapWords)
		vars["context_block"] = block("PROJECT CONTEXT (Reference these elements in your responses):", in.Context, contextBudget)
		vars["history_block"] = block("", in.History, historyBudget)
		return vars
	}

	lo, hi := WordBand(in.DesiredWords)
	vars["target_words"] = in.DesiredWords
	vars["min_words"] = lo
	vars["max_words"] = hi
	vars["context_block"] = block("BACKGROUND CONTEXT:", in.Context, contextBudget)
	vars["history_block"] = block("PREVIOUS CHAPTERS (Continue from here):", in.History, historyBudget)
	return vars
}

// block 生成带标题的文本块，内容按字符预算截断
func block(title, text string, budget int) string {
	if text == "" {
		return ""
	}
	if budget > 0 {
		text = CutRunes(text, budget)
	}
	if title == "" {
		return "\n" + text + "\n"
	}
	return "\n" + title + "\n" + text + "\n"
}
