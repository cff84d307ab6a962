package handler

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"kalligram-api/internal/application/generation"
	"kalligram-api/internal/application/identity"
	"kalligram-api/internal/config"
	"kalligram-api/internal/domain/entity"
	"kalligram-api/internal/domain/repository/repotest"
	"kalligram-api/internal/infrastructure/llm"
	"kalligram-api/internal/interfaces/http/dto"
	"kalligram-api/internal/interfaces/http/middleware"
	"kalligram-api/internal/workflow/prompt"
	"kalligram-api/pkg/errors"
	"kalligram-api/pkg/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, req *generation.Request) (*generation.Result, error) {
	args := m.Called(ctx, req)
	result, _ := args.Get(0).(*generation.Result)
	return result, args.Error(1)
}

func newTestEngine(svc TextGenerator, withStack bool, jwtManager *utils.JWTManager) *gin.Engine {
	h := NewGenerateHandler(svc, withStack)
	engine := gin.New()
	engine.HandleMethodNotAllowed = true
	engine.NoMethod(h.MethodNotAllowed)
	engine.POST("/v1/generate-text", middleware.Identity(jwtManager), h.GenerateText)
	engine.OPTIONS("/v1/generate-text", h.Options)
	return engine
}

// closeNotifyingRecorder 为 SSE 输出补充 http.CloseNotifier
type closeNotifyingRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *closeNotifyingRecorder) CloseNotify() <-chan bool {
	return r.closed
}

func serve(engine http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := &closeNotifyingRecorder{ResponseRecorder: httptest.NewRecorder(), closed: make(chan bool, 1)}
	engine.ServeHTTP(w, req)
	return w.ResponseRecorder
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) dto.ErrorResponse {
	t.Helper()
	var resp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// testServiceConfig 只配置 deepseek 提供商，指向本地测试服务器
func testServiceConfig(baseURL, apiKey string) *config.Config {
	timeouts := config.TimeoutProfileConfig{
		Chat:     config.ModeTimeoutConfig{Base: 5 * time.Second, Min: time.Second},
		Generate: config.ModeTimeoutConfig{Base: 5 * time.Second, Min: time.Second},
		Max:      10 * time.Second,
	}
	return &config.Config{
		LLM: config.LLMConfig{
			DefaultModel:    "deepseek-chat",
			DefaultProvider: "deepseek",
			Providers: map[string]config.ProviderConfig{
				"deepseek": {
					Family:    "fast",
					APIKey:    apiKey,
					APIKeyEnv: "DEEPSEEK_API_KEY",
					BaseURL:   baseURL,
					Match:     []string{"deepseek"},
					Timeouts:  timeouts,
				},
			},
		},
		Generation: config.GenerationConfig{
			TokensPerWord:      1.3,
			TokenBuffer:        0.2,
			LargeRequestWords:  1000,
			TopP:               0.95,
			Stop:               []string{"###"},
			ContextBudget:      2500,
			HistoryBudget:      3500,
			LargeContextBudget: 4000,
			LargeHistoryBudget: 6000,
			Chat: config.ModeConfig{
				MinWords: 50, MaxWords: 800, DefaultWords: 200, MaxTokens: 1500, ResponseCapWords: 300,
				Temperature: 0.9, PresencePenalty: 0.8, FrequencyPenalty: 0.7,
			},
			Generate: config.ModeConfig{
				MinWords: 100, MaxWords: 2000, DefaultWords: 500, MaxTokens: 4000,
				Temperature: 0.8, PresencePenalty: 0.5, FrequencyPenalty: 0.5,
			},
			Retry: config.RetryConfig{MaxRetries: 2, Delay: time.Millisecond, DegradeTokenFactor: 0.7, DegradeTimeoutFactor: 1.5},
		},
	}
}

func newRealService(cfg *config.Config, reader *repotest.FakeReader) *generation.Service {
	store := &repotest.Store{Backend: reader}
	return generation.NewService(
		cfg,
		llm.NewRegistry(&cfg.LLM, nil),
		identity.NewResolver(store, nil, 0),
		store,
		prompt.NewRegistry(),
		nil,
	)
}

func newProviderServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"deepseek-chat","choices":[{"message":{"role":"assistant","content":"Ada climbed the mast. The wind"}},{"message":{"content":"ignored"}}],"usage":{"prompt_tokens":90,"completion_tokens":6,"total_tokens":96}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

const validBody = `{"prompt":"Continue chapter 1","user_id":"u1","project_id":"p1","length":"300"}`

func TestGenerateText_MalformedJSON(t *testing.T) {
	svc := &mockGenerator{}
	w := serve(newTestEngine(svc, false, nil), http.MethodPost, "/v1/generate-text", `{"prompt": "x",`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	resp := decodeError(t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, "Invalid JSON in request body", resp.Error)
	svc.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestGenerateText_MissingBody(t *testing.T) {
	w := serve(newTestEngine(&mockGenerator{}, false, nil), http.MethodPost, "/v1/generate-text", "  ")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Missing request body", decodeError(t, w).Error)
}

func TestGenerateText_ValidationErrors(t *testing.T) {
	engine := newTestEngine(newRealService(testServiceConfig("http://127.0.0.1:0", "sk"), &repotest.FakeReader{}), false, nil)

	w := serve(engine, http.MethodPost, "/v1/generate-text", `{"user_id":"u1","project_id":"p1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Prompt is required", decodeError(t, w).Error)

	w = serve(engine, http.MethodPost, "/v1/generate-text", `{"prompt":"hi","user_id":"u1"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "user_id and project_id are required", decodeError(t, w).Error)
}

func TestGenerateText_MissingProviderKey(t *testing.T) {
	var hits int32
	srv := newProviderServer(t, &hits)
	engine := newTestEngine(newRealService(testServiceConfig(srv.URL, ""), &repotest.FakeReader{}), false, nil)

	w := serve(engine, http.MethodPost, "/v1/generate-text?model=deepseek-chat", validBody)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	resp := decodeError(t, w)
	assert.Contains(t, resp.Error, "DEEPSEEK_API_KEY")
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestGenerateText_ProviderRejectsKeyPrefixedOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid key"}}`))
	}))
	t.Cleanup(srv.Close)
	engine := newTestEngine(newRealService(testServiceConfig(srv.URL, "sk-bad"), &repotest.FakeReader{}), false, nil)

	w := serve(engine, http.MethodPost, "/v1/generate-text", validBody)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "API key error: invalid key", decodeError(t, w).Error)
}

func TestGenerateText_UnknownErrorIsSanitized(t *testing.T) {
	raw := `Post "https://api.deepseek.com/v1/chat/completions": context canceled`
	svc := &mockGenerator{}
	svc.On("Generate", mock.Anything, mock.Anything).
		Return(nil, errors.Wrap(stderrors.New(raw), errors.CodeUnknown, "request cancelled")).Once()

	w := serve(newTestEngine(svc, false, nil), http.MethodPost, "/v1/generate-text", validBody)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	resp := decodeError(t, w)
	assert.Equal(t, "request cancelled", resp.Error)
	assert.NotContains(t, resp.Error, "api.deepseek.com")
	require.NotNil(t, resp.Debug)
	assert.Equal(t, raw, resp.Debug.Error)
}

func TestGenerateText_Success(t *testing.T) {
	var hits int32
	srv := newProviderServer(t, &hits)
	reader := &repotest.FakeReader{
		Characters: []*entity.Character{{ID: "c1", ProjectID: "p1", Name: "Ada"}},
		Chapters:   []*entity.Chapter{{ID: "ch1", ProjectID: "p1", Title: "Arrival", Content: "The ship landed."}},
	}
	engine := newTestEngine(newRealService(testServiceConfig(srv.URL, "sk-test"), reader), false, nil)

	w := serve(engine, http.MethodPost, "/v1/generate-text", `{"prompt":"Continue chapter 1","user_id":"u1","project_id":"p1","length":300,"context":{"characters":[{"id":"c1"}]}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp dto.GenerateTextResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, "Ada climbed the mast.", resp.Text)
	assert.Equal(t, "deepseek-chat", resp.Model)
	assert.Equal(t, "User", resp.UserName)
	assert.Equal(t, "generate", resp.Mode)
	assert.Equal(t, 300, resp.RequestedWords)
	assert.Equal(t, 4, resp.ActualWords)
	require.NotNil(t, resp.ActualTokens)
	assert.Equal(t, 96, *resp.ActualTokens)
	assert.True(t, resp.ContextProvided)
	assert.True(t, resp.PreviousChaptersProvided)
	require.NotNil(t, resp.Debug)
	assert.Contains(t, resp.Debug.ContextString, "Character: Ada")
	assert.Contains(t, resp.Debug.PreviousChapters, "CURRENT CHAPTER TO CONTINUE FROM (Chapter 1)")
	assert.Equal(t, 1, resp.Debug.Attempts)
	assert.Empty(t, resp.Debug.RawResponse)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestGenerateText_PassesQueryModelAndIdentity(t *testing.T) {
	jwtManager := utils.NewJWTManager("secret", "")
	token, err := jwtManager.GenerateToken("auth-1", "jules@example.com", "authenticated", time.Hour)
	require.NoError(t, err)

	svc := &mockGenerator{}
	svc.On("Generate", mock.Anything, mock.MatchedBy(func(req *generation.Request) bool {
		return req.Model == "claude-opus" &&
			req.AuthUserID == "auth-1" &&
			req.AuthEmail == "jules@example.com" &&
			req.Length == "300" &&
			req.Selection == nil
	})).Return(&generation.Result{Text: "Done.", Mode: llm.ModeGenerate}, nil).Once()

	w := serve(newTestEngine(svc, false, jwtManager), http.MethodPost, "/v1/generate-text?model=claude-opus", validBody,
		"Authorization", "Bearer "+token)

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestGenerateText_InvalidTokenDoesNotBlock(t *testing.T) {
	svc := &mockGenerator{}
	svc.On("Generate", mock.Anything, mock.MatchedBy(func(req *generation.Request) bool {
		return req.AuthUserID == ""
	})).Return(&generation.Result{Text: "Done."}, nil).Once()

	w := serve(newTestEngine(svc, false, utils.NewJWTManager("secret", "")), http.MethodPost, "/v1/generate-text", validBody,
		"Authorization", "Bearer not-a-jwt")

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestGenerateText_ErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{errors.Wrap(errors.New(errors.CodeTimeout, "AI provider request timed out"), errors.CodeTimeout, "Your request timed out."), http.StatusRequestTimeout, "Your request timed out."},
		{errors.Wrap(errors.New(errors.CodeTooManyRequests, "status 429"), errors.CodeTooManyRequests, "Rate limit exceeded. Please try again in a few minutes."), http.StatusTooManyRequests, "Rate limit exceeded. Please try again in a few minutes."},
		{errors.Wrap(errors.New(errors.CodeProviderUnavailable, "status 502"), errors.CodeProviderUnavailable, "The AI service is currently unavailable. Please try again later."), http.StatusServiceUnavailable, "The AI service is currently unavailable. Please try again later."},
		{errors.New(errors.CodeInvalidResponseFormat, "No text was generated from the API response"), http.StatusInternalServerError, "No text was generated from the API response"},
	}
	for _, tc := range cases {
		svc := &mockGenerator{}
		svc.On("Generate", mock.Anything, mock.Anything).Return(nil, tc.err).Once()

		w := serve(newTestEngine(svc, false, nil), http.MethodPost, "/v1/generate-text", validBody)
		assert.Equal(t, tc.status, w.Code)
		resp := decodeError(t, w)
		assert.Equal(t, tc.msg, resp.Error)
		require.NotNil(t, resp.Debug)
		assert.NotEmpty(t, resp.Debug.Error)
		assert.Empty(t, resp.Debug.Stack)
	}
}

func TestGenerateText_StackOnlyWithDebugPayload(t *testing.T) {
	svc := &mockGenerator{}
	svc.On("Generate", mock.Anything, mock.Anything).Return(nil, errors.New(errors.CodeProviderUnavailable, "down")).Once()

	w := serve(newTestEngine(svc, true, nil), http.MethodPost, "/v1/generate-text", validBody)
	resp := decodeError(t, w)
	require.NotNil(t, resp.Debug)
	assert.NotEmpty(t, resp.Debug.Stack)
}

func TestGenerateText_StreamDeliversEvents(t *testing.T) {
	svc := &mockGenerator{}
	svc.On("Generate", mock.Anything, mock.MatchedBy(func(req *generation.Request) bool {
		return req.Stream
	})).Return(&generation.Result{Text: "The end.", Model: "deepseek-chat", Mode: llm.ModeChat, ActualWords: 2}, nil).Once()

	w := serve(newTestEngine(svc, false, nil), http.MethodPost, "/v1/generate-text",
		`{"prompt":"hi","user_id":"u1","project_id":"p1","mode":"chat","stream":true}`)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/event-stream"), w.Header().Get("Content-Type"))
	body := w.Body.String()
	meta := strings.Index(body, "event:metadata")
	content := strings.Index(body, "event:content")
	done := strings.Index(body, "event:done")
	require.True(t, meta >= 0 && content > meta && done > content, body)
	assert.Contains(t, body, `"text":"The end."`)
}

func TestGenerateText_OptionsAndMethodNotAllowed(t *testing.T) {
	engine := newTestEngine(&mockGenerator{}, false, nil)

	w := serve(engine, http.MethodOptions, "/v1/generate-text", "")
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = serve(engine, http.MethodGet, "/v1/generate-text", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.JSONEq(t, `{"success":false,"error":"Method not allowed. Please use POST."}`, w.Body.String())
}
