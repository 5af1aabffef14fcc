package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Iron-Ham/concord/internal/auth"
	"github.com/Iron-Ham/concord/internal/config"
	"github.com/Iron-Ham/concord/internal/errors"
	"github.com/Iron-Ham/concord/internal/retry"
)

func analysisJSON(conclusion string) string {
	data, _ := json.Marshal(map[string]any{
		"analysis":        longAnalysis,
		"conclusion":      conclusion,
		"confidence":      0.85,
		"suggested_steps": []string{"hold lock", "flush"},
	})
	return string(data)
}

// chatStream writes content as OpenAI chat completion chunks split in two.
func chatStream(w http.ResponseWriter, model, content string) {
	w.Header().Set("Content-Type", "text/event-stream")
	half := len(content) / 2
	for _, part := range []string{content[:half], content[half:]} {
		chunk, _ := json.Marshal(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion.chunk",
			"model":   model,
			"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": part}}},
		})
		_, _ = fmt.Fprintf(w, "data: %s\n\n", chunk)
	}
	_, _ = io.WriteString(w, "data: [DONE]\n\n")
}

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(config.BackendConfig{Name: "x", Kind: "llama"}, Deps{})
	if !errors.Is(err, ErrUnknownBackend) {
		t.Errorf("New() error = %v, want ErrUnknownBackend", err)
	}
}

func TestNew_MissingCredentials(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.BackendConfig
	}{
		{"openai without key or flow", config.BackendConfig{Name: "gpt", Kind: "openai"}},
		{"codex ignores api key", config.BackendConfig{Name: "gpt", Kind: "codex", APIKey: "sk-x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg, Deps{}); !errors.IsAuthError(err) {
				t.Errorf("New() error = %v, want auth error", err)
			}
		})
	}
}

func TestOpenAIClient_Analyze(t *testing.T) {
	var gotReq map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("Authorization = %q", got)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		chatStream(w, "gpt-4o-2024-08-06", analysisJSON("Hold the lock across flush"))
	}))
	defer srv.Close()

	c, err := New(config.BackendConfig{
		Name:    "gpt",
		Kind:    "openai",
		Model:   "gpt-4o",
		APIKey:  "sk-test",
		BaseURL: srv.URL,
	}, Deps{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = c.Close() }()

	got, err := c.Analyze(context.Background(), "Review the cache", AnalysisContext{})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if got.Conclusion != "Hold the lock across flush" {
		t.Errorf("Conclusion = %q", got.Conclusion)
	}
	if got.ModelVersion != "gpt-4o-2024-08-06" || got.Backend != "gpt" {
		t.Errorf("ModelVersion/Backend = %q/%q", got.ModelVersion, got.Backend)
	}
	if gotReq["stream"] != true {
		t.Errorf("request stream = %v, want true", gotReq["stream"])
	}
	if rf, _ := gotReq["response_format"].(map[string]any); rf["type"] != "json_object" {
		t.Errorf("response_format = %v", gotReq["response_format"])
	}
}

func TestChatCompleter_ReasoningModel(t *testing.T) {
	c := newChatCompleter("gpt", "gpt-5-mini", DefaultOpenAIBaseURL, 2048, &http.Client{})
	req := c.request(Prompt{System: "s", User: "u"})
	if req.MaxCompletionTokens != 2048 || req.MaxTokens != 0 {
		t.Errorf("MaxCompletionTokens/MaxTokens = %d/%d", req.MaxCompletionTokens, req.MaxTokens)
	}
	if req.Messages[0].Role != "developer" {
		t.Errorf("system role = %q, want developer", req.Messages[0].Role)
	}

	c = newChatCompleter("gemini", "gemini-2.5-flash", DefaultGeminiBaseURL, 1024, &http.Client{})
	req = c.request(Prompt{System: "s", User: "u"})
	if req.MaxTokens != 1024 || req.Messages[0].Role != "system" {
		t.Errorf("MaxTokens/role = %d/%q", req.MaxTokens, req.Messages[0].Role)
	}
}

func TestOpenAIClient_InvalidResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		chatStream(w, "gemini-2.5-flash", `{"analysis":"short","conclusion":"x","confidence":0.5}`)
	}))
	defer srv.Close()

	c, err := New(config.BackendConfig{Name: "gemini", Kind: "gemini", Model: "gemini-2.5-flash", APIKey: "k", BaseURL: srv.URL}, Deps{})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Analyze(context.Background(), "task", AnalysisContext{}); !errors.Is(err, errors.ErrInvalidResponse) {
		t.Errorf("Analyze() error = %v, want validation error", err)
	}
}

func TestOpenAIClient_StaticKeyUnauthorized(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error"}}`)
	}))
	defer srv.Close()

	c, err := New(config.BackendConfig{Name: "gpt", Kind: "openai", Model: "gpt-4o", APIKey: "bad", BaseURL: srv.URL}, Deps{})
	if err != nil {
		t.Fatal(err)
	}
	_, err = c.Analyze(context.Background(), "task", AnalysisContext{})
	if !errors.Is(err, errors.ErrUnauthorized) {
		t.Errorf("Analyze() error = %v, want unauthorized", err)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, static keys are not retried", calls.Load())
	}
}

// fakeProvider hands out numbered access tokens.
type fakeProvider struct {
	name      string
	refreshes atomic.Int32
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Login(context.Context) (*auth.Token, error) {
	return nil, errors.NewOAuthError(p.name, "timeout", "no browser in tests")
}

func (p *fakeProvider) Refresh(_ context.Context, tok *auth.Token) (*auth.Token, error) {
	n := p.refreshes.Add(1)
	return &auth.Token{
		Provider:     p.name,
		AccessToken:  fmt.Sprintf("access-%d", n),
		RefreshToken: tok.RefreshToken,
		AccountID:    tok.AccountID,
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

func (p *fakeProvider) Revoke(context.Context, *auth.Token) error { return nil }

func newCodexClient(t *testing.T, url string, retries *retry.Manager) (Client, *fakeProvider) {
	t.Helper()
	store := auth.NewFileStore(t.TempDir())
	if err := store.Save(&auth.Token{
		Provider:     "gpt",
		AccessToken:  "access-0",
		RefreshToken: "refresh",
		AccountID:    "acct-1",
		ExpiresAt:    time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatal(err)
	}
	p := &fakeProvider{name: "gpt"}
	mgr := auth.NewManager(store)
	mgr.Register(p)

	c, err := New(config.BackendConfig{
		Name:    "gpt",
		Kind:    "codex",
		Model:   "gpt-5-codex",
		BaseURL: url,
		OAuth:   config.OAuthConfig{Flow: "browser"},
	}, Deps{Auth: mgr, Retries: retries})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c, p
}

func codexStream(w http.ResponseWriter, model, content string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, part := range []string{content[:10], content[10:]} {
		ev, _ := json.Marshal(map[string]any{"type": "response.output_text.delta", "delta": part})
		_, _ = fmt.Fprintf(w, "event: response.output_text.delta\ndata: %s\n\n", ev)
	}
	done, _ := json.Marshal(map[string]any{
		"type":     "response.completed",
		"response": map[string]any{"model": model, "usage": map[string]any{"input_tokens": 10}},
	})
	_, _ = fmt.Fprintf(w, "event: response.completed\ndata: %s\n\n", done)
}

func TestCodexClient_ReauthenticatesOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if r.URL.Path != "/responses" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("chatgpt-account-id"); got != "acct-1" {
			t.Errorf("chatgpt-account-id = %q", got)
		}
		var body codexRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if !body.Stream || body.Store || body.PromptCacheKey == "" || body.Input[0].Role != "developer" {
			t.Errorf("unexpected payload: %+v", body)
		}

		if n == 1 {
			if got := r.Header.Get("Authorization"); got != "Bearer access-0" {
				t.Errorf("first Authorization = %q", got)
			}
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer access-1" {
			t.Errorf("retry Authorization = %q, want refreshed token", got)
		}
		codexStream(w, "gpt-5-codex-2025-09", analysisJSON("Use a write-through cache"))
	}))
	defer srv.Close()

	retries := retry.NewManager(retry.DefaultMaxRetries)
	c, p := newCodexClient(t, srv.URL, retries)

	got, err := c.Analyze(context.Background(), "task", AnalysisContext{})
	if err != nil {
		t.Fatalf("Analyze() error = %v", err)
	}
	if got.Conclusion != "Use a write-through cache" || got.ModelVersion != "gpt-5-codex-2025-09" {
		t.Errorf("result = %+v", got)
	}
	if calls.Load() != 2 || p.refreshes.Load() != 1 {
		t.Errorf("calls/refreshes = %d/%d, want 2/1", calls.Load(), p.refreshes.Load())
	}
	if totals := retries.Totals("gpt"); totals.Calls != 1 || totals.Retries != 1 || totals.Exhausted != 0 {
		t.Errorf("Totals() = %+v", totals)
	}
}

func TestCodexClient_RetryLimitExceeded(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c, _ := newCodexClient(t, srv.URL, nil)
	_, err := c.Analyze(context.Background(), "task", AnalysisContext{})

	var limit *errors.RetryLimitExceededError
	if !errors.As(err, &limit) {
		t.Fatalf("Analyze() error = %v, want RetryLimitExceededError", err)
	}
	if limit.Attempts != 1 || limit.Provider != "gpt" {
		t.Errorf("Attempts/Provider = %d/%q, want 1/gpt", limit.Attempts, limit.Provider)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestCodexCompleter_ReadStream(t *testing.T) {
	tests := []struct {
		name      string
		stream    string
		wantText  string
		wantModel string
		wantErr   bool
	}{
		{
			name: "deltas and completion",
			stream: "data: {\"type\":\"response.output_text.delta\",\"delta\":\"he\"}\n\n" +
				"data: not json\n\n" +
				"data: {\"type\":\"response.reasoning_summary_text.delta\",\"delta\":\"ignored\"}\n\n" +
				"data:{\"type\":\"response.output_text.delta\",\"delta\":\"llo\"}\n\n" +
				"data: {\"type\":\"response.completed\",\"response\":{\"model\":\"gpt-5\"}}\n\n",
			wantText:  "hello",
			wantModel: "gpt-5",
		},
		{
			name:    "failed response",
			stream:  "data: {\"type\":\"response.failed\",\"response\":{\"error\":{\"code\":\"server_error\",\"message\":\"boom\"}}}\n\n",
			wantErr: true,
		},
		{
			name:    "error event",
			stream:  "data: {\"type\":\"error\",\"message\":\"overloaded\"}\n\n",
			wantErr: true,
		},
	}

	c := newCodexCompleter("gpt", "gpt-5-codex", DefaultCodexBaseURL, &http.Client{})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.readStream(strings.NewReader(tt.stream))
			if tt.wantErr {
				if err == nil {
					t.Error("readStream() should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("readStream() error = %v", err)
			}
			if got.Text != tt.wantText || got.Model != tt.wantModel {
				t.Errorf("readStream() = %+v", got)
			}
		})
	}
}

func TestRetryAfter(t *testing.T) {
	if got := retryAfter("30"); got != 30*time.Second {
		t.Errorf("retryAfter(30) = %v", got)
	}
	if got := retryAfter(""); got != 0 {
		t.Errorf("retryAfter(empty) = %v", got)
	}
	if got := retryAfter("soon"); got != 0 {
		t.Errorf("retryAfter(soon) = %v", got)
	}
}

func TestCodexClient_RateLimitRecorded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "120")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := newCodexClient(t, srv.URL, nil)
	if _, err := c.Analyze(context.Background(), "task", AnalysisContext{}); err == nil {
		t.Fatal("Analyze() should fail on 429")
	}
	// The token is now marked, so the next call fails before any request.
	if err := c.Authenticate(context.Background()); !errors.IsAuthError(err) {
		t.Errorf("Authenticate() error = %v, want rate limit auth error", err)
	}
}

func TestCLIClient(t *testing.T) {
	tests := []struct {
		name      string
		model     string
		output    string
		runErr    error
		wantModel string
		wantErr   bool
	}{
		{
			name:      "json output with model usage",
			model:     SelfModel,
			output:    `{"type":"result","subtype":"success","is_error":false,"result":` + quote(analysisJSON("Lock it")) + `,"modelUsage":{"claude-sonnet-4-5":{}}}`,
			wantModel: "claude-sonnet-4-5",
		},
		{
			name:      "plain text output",
			model:     SelfModel,
			output:    analysisJSON("Lock it"),
			wantModel: SelfModel,
		},
		{
			name:    "cli reports error",
			model:   SelfModel,
			output:  `{"type":"result","subtype":"error_max_turns","is_error":true,"result":"limit"}`,
			wantErr: true,
		},
		{
			name:    "command fails",
			model:   SelfModel,
			runErr:  errors.New("exit status 1"),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(config.BackendConfig{Name: "claude", Kind: "claude", Model: tt.model}, Deps{})
			if err != nil {
				t.Fatal(err)
			}
			var gotArgs []string
			var gotStdin string
			c.(*client).backend.(*cliCompleter).run = func(_ context.Context, name string, args []string, stdin string) ([]byte, error) {
				if name != "claude" {
					t.Errorf("command = %q", name)
				}
				gotArgs, gotStdin = args, stdin
				return []byte(tt.output), tt.runErr
			}

			got, err := c.Analyze(context.Background(), "Review the cache", AnalysisContext{})
			if tt.wantErr {
				if err == nil {
					t.Error("Analyze() should fail")
				}
				return
			}
			if err != nil {
				t.Fatalf("Analyze() error = %v", err)
			}
			if got.ModelVersion != tt.wantModel || got.Conclusion != "Lock it" {
				t.Errorf("result = %+v", got)
			}
			if strings.Join(gotArgs[:3], " ") != "--print --output-format json" {
				t.Errorf("args = %v", gotArgs)
			}
			if !strings.Contains(gotStdin, "Review the cache") {
				t.Errorf("stdin = %q", gotStdin)
			}
		})
	}
}

func TestCLICompleter_ModelFlag(t *testing.T) {
	c := newCLICompleter("claude", "", "opus")
	args := c.args(Prompt{System: "sys"})
	want := "--print --output-format json --model opus --append-system-prompt sys"
	if got := strings.Join(args, " "); got != want {
		t.Errorf("args = %q, want %q", got, want)
	}
}

func TestClient_HealthCheck(t *testing.T) {
	c, err := New(config.BackendConfig{Name: "claude", Kind: "claude"}, Deps{})
	if err != nil {
		t.Fatal(err)
	}
	c.(*client).backend.(*cliCompleter).run = func(_ context.Context, _ string, _ []string, stdin string) ([]byte, error) {
		if stdin != HealthCheckPrompt {
			t.Errorf("stdin = %q", stdin)
		}
		return []byte(`{"status":"ok"}`), nil
	}
	got, err := c.Analyze(context.Background(), "", AnalysisContext{HealthCheck: true})
	if err != nil {
		t.Fatalf("Analyze(health) error = %v", err)
	}
	if got.Backend != "claude" {
		t.Errorf("Backend = %q", got.Backend)
	}
}

func quote(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}
