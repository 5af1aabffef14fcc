package ai

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/Iron-Ham/concord/internal/errors"
	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"
)

type credentialKey struct{}

func withCredential(ctx context.Context, cred Credential) context.Context {
	return context.WithValue(ctx, credentialKey{}, cred)
}

// bearerTransport sets the Authorization header from the request context so
// one go-openai client can serve refreshed tokens.
type bearerTransport struct {
	base http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	cred, _ := req.Context().Value(credentialKey{}).(Credential)
	if cred.Bearer != "" {
		req = req.Clone(req.Context())
		req.Header.Set("Authorization", "Bearer "+cred.Bearer)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}

// chatCompleter streams chat completions from an OpenAI-compatible API.
type chatCompleter struct {
	backend   string
	model     string
	maxTokens int
	api       *openai.Client
}

func newChatCompleter(backend, model, baseURL string, maxTokens int, httpClient *http.Client) *chatCompleter {
	cfg := openai.DefaultConfig("")
	cfg.BaseURL = strings.TrimRight(baseURL, "/")
	cfg.HTTPClient = &http.Client{
		Transport: &bearerTransport{base: httpClient.Transport},
		Timeout:   httpClient.Timeout,
	}
	return &chatCompleter{
		backend:   backend,
		model:     model,
		maxTokens: maxTokens,
		api:       openai.NewClientWithConfig(cfg),
	}
}

// reasoningModel reports models that take max_completion_tokens and a
// developer message instead of max_tokens and a system message.
func reasoningModel(model string) bool {
	m := strings.ToLower(model)
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(m, prefix) {
			return true
		}
	}
	return false
}

func (c *chatCompleter) request(p Prompt) openai.ChatCompletionRequest {
	systemRole := openai.ChatMessageRoleSystem
	if reasoningModel(c.model) {
		systemRole = openai.ChatMessageRoleDeveloper
	}

	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: systemRole, Content: p.System},
			{Role: openai.ChatMessageRoleUser, Content: p.User},
		},
		Stream: true,
	}
	if p.JSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	if c.maxTokens > 0 {
		if reasoningModel(c.model) {
			req.MaxCompletionTokens = c.maxTokens
		} else {
			req.MaxTokens = c.maxTokens
		}
	}
	return req
}

func (c *chatCompleter) complete(ctx context.Context, cred Credential, p Prompt) (completion, error) {
	stream, err := c.api.CreateChatCompletionStream(withCredential(ctx, cred), c.request(p))
	if err != nil {
		return completion{}, c.wrap(err)
	}
	defer func() { _ = stream.Close() }()

	var (
		text  strings.Builder
		model string
	)
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return completion{}, c.wrap(err)
		}
		if resp.Model != "" {
			model = resp.Model
		}
		for _, choice := range resp.Choices {
			text.WriteString(choice.Delta.Content)
		}
	}
	return completion{Text: text.String(), Model: model}, nil
}

func (c *chatCompleter) wrap(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode != 0 {
		return &StatusError{Backend: c.backend, StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		return &StatusError{Backend: c.backend, StatusCode: reqErr.HTTPStatusCode, Body: reqErr.Error()}
	}
	return errors.Wrapf(err, "%s: chat completion", c.backend)
}

func (c *chatCompleter) close() error { return nil }
