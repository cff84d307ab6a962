package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kalligram-api/internal/config"
	"kalligram-api/pkg/errors"
)

type captured struct {
	headers http.Header
	body    map[string]any
}

func newCompletionServer(t *testing.T, status int, response string, got *captured) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got != nil {
			got.headers = r.Header.Clone()
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &got.body)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(response))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testRequest() *CompletionRequest {
	return &CompletionRequest{
		Model:            "deepseek-chat",
		Messages:         []*schema.Message{schema.SystemMessage("sys"), schema.UserMessage("hello")},
		MaxTokens:        780,
		Temperature:      0.8,
		TopP:             0.95,
		PresencePenalty:  0.5,
		FrequencyPenalty: 0.5,
		Stop:             []string{"###"},
	}
}

const okResponse = `{"model":"deepseek-chat","choices":[{"message":{"role":"assistant","content":"The ship landed."}}],"usage":{"prompt_tokens":10,"completion_tokens":4,"total_tokens":14}}`

func TestFastProvider_Complete(t *testing.T) {
	var got captured
	srv := newCompletionServer(t, http.StatusOK, okResponse, &got)

	p := NewFastProvider("deepseek", config.ProviderConfig{APIKey: "sk-test", BaseURL: srv.URL}, nil)
	completion, err := p.Complete(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "The ship landed.", completion.Text)
	assert.Equal(t, 14, completion.Usage.TotalTokens)
	assert.Equal(t, "deepseek", completion.Provider)
	assert.NotEmpty(t, completion.Raw)

	assert.Equal(t, "Bearer sk-test", got.headers.Get("Authorization"))
	assert.Equal(t, "deepseek-chat", got.body["model"])
	assert.Equal(t, false, got.body["stream"])
	assert.Equal(t, 0.5, got.body["presence_penalty"])
	assert.Equal(t, float64(780), got.body["max_tokens"])
	assert.Equal(t, []any{"###"}, got.body["stop"])
	msgs := got.body["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
}

func TestRouterProvider_CompleteMapsAliasAndHeaders(t *testing.T) {
	var got captured
	srv := newCompletionServer(t, http.StatusOK,
		`{"choices":[{"message":{"content":"Idea one."}}]}`, &got)

	p := NewRouterProvider("openrouter", config.ProviderConfig{
		APIKey:   "or-key",
		BaseURL:  srv.URL,
		SiteURL:  "https://example.com",
		AppTitle: "AIStoryCraft",
		Aliases:  map[string]string{"claude-opus": "anthropic/claude-3-opus"},
	}, nil)

	req := testRequest()
	req.Model = "claude-opus"
	completion, err := p.Complete(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "Idea one.", completion.Text)
	assert.Equal(t, Usage{}, completion.Usage)
	assert.Equal(t, "anthropic/claude-3-opus", completion.Model)
	assert.Equal(t, "anthropic/claude-3-opus", got.body["model"])
	assert.NotContains(t, got.body, "presence_penalty")
	assert.NotContains(t, got.body, "stream")
	assert.Equal(t, "https://example.com", got.headers.Get("HTTP-Referer"))
	assert.Equal(t, "AIStoryCraft", got.headers.Get("X-Title"))
}

func TestProvider_StatusClassification(t *testing.T) {
	cases := []struct {
		status int
		code   errors.ErrorCode
	}{
		{http.StatusUnauthorized, errors.CodeAuthConfig},
		{http.StatusTooManyRequests, errors.CodeTooManyRequests},
		{http.StatusInternalServerError, errors.CodeProviderUnavailable},
		{http.StatusBadGateway, errors.CodeProviderUnavailable},
		{http.StatusGatewayTimeout, errors.CodeTimeout},
		{http.StatusBadRequest, errors.CodeUnknown},
	}
	for _, tc := range cases {
		srv := newCompletionServer(t, tc.status, `{"error":{"message":"nope"}}`, nil)
		p := NewFastProvider("deepseek", config.ProviderConfig{APIKey: "k", BaseURL: srv.URL}, nil)

		_, err := p.Complete(context.Background(), testRequest())
		require.Error(t, err)
		appErr := errors.AsAppError(err)
		assert.Equal(t, tc.code, appErr.Code, "status %d", tc.status)
		assert.Equal(t, "nope", appErr.Detail)
		if tc.code == errors.CodeAuthConfig {
			assert.Equal(t, "nope", appErr.Message)
		}
	}
}

func TestProvider_InvalidResponseFormat(t *testing.T) {
	for _, body := range []string{`not json`, `{"choices":[]}`, `{"choices":[{"message":{}}]}`} {
		srv := newCompletionServer(t, http.StatusOK, body, nil)
		p := NewFastProvider("deepseek", config.ProviderConfig{APIKey: "k", BaseURL: srv.URL}, nil)

		_, err := p.Complete(context.Background(), testRequest())
		assert.True(t, errors.HasCode(err, errors.CodeInvalidResponseFormat), "body %q", body)
	}
}

func TestProvider_AttemptTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(srv.Close)

	p := NewFastProvider("deepseek", config.ProviderConfig{APIKey: "k", BaseURL: srv.URL}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := p.Complete(ctx, testRequest())
	assert.True(t, errors.HasCode(err, errors.CodeTimeout))
}

func TestProvider_MissingKey(t *testing.T) {
	p := NewFastProvider("deepseek", config.ProviderConfig{APIKeyEnv: "DEEPSEEK_API_KEY"}, nil)

	err := p.CheckCredentials()
	require.Error(t, err)
	appErr := errors.AsAppError(err)
	assert.Equal(t, errors.CodeAuthConfig, appErr.Code)
	assert.Equal(t, "DEEPSEEK_API_KEY is not configured. Please set this environment variable.", appErr.Message)

	_, err = p.Complete(context.Background(), testRequest())
	assert.True(t, errors.HasCode(err, errors.CodeAuthConfig))
}

func TestRegistry_Resolve(t *testing.T) {
	r := NewRegistry(&config.LLMConfig{
		DefaultProvider: "openrouter",
		Providers: map[string]config.ProviderConfig{
			"deepseek":   {Family: "fast", Match: []string{"deepseek"}},
			"openrouter": {Family: "router"},
		},
	}, nil)

	p, err := r.Resolve("DeepSeek-Chat")
	require.NoError(t, err)
	assert.Equal(t, FamilyFast, p.Family())

	p, err = r.Resolve("qwen3-235b")
	require.NoError(t, err)
	assert.Equal(t, FamilyRouter, p.Family())
	assert.Equal(t, "openrouter", p.Name())

	again, err := r.Get("openrouter")
	require.NoError(t, err)
	assert.Same(t, p, again)

	_, err = r.Get("missing")
	assert.Error(t, err)
}

func TestTimeoutProfile_ForMode(t *testing.T) {
	profile := TimeoutProfile{
		Chat:     ModeTimeout{Base: time.Second},
		Generate: ModeTimeout{Base: 2 * time.Second},
	}
	assert.Equal(t, time.Second, profile.ForMode(ModeChat).Base)
	assert.Equal(t, 2*time.Second, profile.ForMode(ModeGenerate).Base)
}
