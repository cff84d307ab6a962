package prompt

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RendersChatTemplate(t *testing.T) {
	r := NewRegistry()
	tpl, err := r.ChatTemplate(PromptChatV1)
	require.NoError(t, err)

	msgs, err := tpl.Format(context.Background(), map[string]any{
		"user_name":      "Jules",
		"response_words": 300,
		"tone_clause":    " in a whimsical tone",
		"context_block":  "",
		"history_block":  "",
		"prompt":         "What if {the moon} cracked?",
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "helping Jules")
	assert.Contains(t, msgs[0].Content, "under 300 words in a whimsical tone.")
	assert.Equal(t, schema.User, msgs[1].Role)
	assert.Equal(t, "What if {the moon} cracked?", msgs[1].Content)
}

func TestRegistry_CachesTemplates(t *testing.T) {
	r := NewRegistry()
	a, err := r.ChatTemplate(PromptGenerateV1)
	require.NoError(t, err)
	b, err := r.ChatTemplate(PromptGenerateV1)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = r.ChatTemplate("missing")
	assert.Error(t, err)

	var nilRegistry *Registry
	_, err = nilRegistry.ChatTemplate(PromptChatV1)
	assert.Error(t, err)
}
