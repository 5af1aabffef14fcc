package ai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultCodexBaseURL is the ChatGPT subscription Responses endpoint root.
const DefaultCodexBaseURL = "https://chatgpt.com/backend-api/codex"

const codexInstructions = "You are a careful technical analyst. Follow the developer message exactly and answer with JSON only."

type codexMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type codexRequest struct {
	Model             string         `json:"model"`
	Instructions      string         `json:"instructions"`
	Input             []codexMessage `json:"input"`
	Tools             []any          `json:"tools"`
	ToolChoice        string         `json:"tool_choice"`
	ParallelToolCalls bool           `json:"parallel_tool_calls"`
	Store             bool           `json:"store"`
	Stream            bool           `json:"stream"`
	PromptCacheKey    string         `json:"prompt_cache_key"`
}

type codexEvent struct {
	Type     string `json:"type"`
	Delta    string `json:"delta"`
	Response *struct {
		Model string          `json:"model"`
		Usage json.RawMessage `json:"usage"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"response"`
	Message string `json:"message"`
}

// codexCompleter talks to the streaming Codex Responses API with a ChatGPT
// OAuth token.
type codexCompleter struct {
	backend string
	model   string
	url     string
	http    *http.Client
}

func newCodexCompleter(backend, model, baseURL string, httpClient *http.Client) *codexCompleter {
	return &codexCompleter{
		backend: backend,
		model:   model,
		url:     strings.TrimRight(baseURL, "/") + "/responses",
		http:    httpClient,
	}
}

func (c *codexCompleter) complete(ctx context.Context, cred Credential, p Prompt) (completion, error) {
	body, err := json.Marshal(codexRequest{
		Model:        c.model,
		Instructions: codexInstructions,
		Input: []codexMessage{
			{Role: "developer", Content: p.System},
			{Role: "user", Content: p.User},
		},
		Tools:          []any{},
		ToolChoice:     "auto",
		Store:          false,
		Stream:         true,
		PromptCacheKey: uuid.NewString(),
	})
	if err != nil {
		return completion{}, fmt.Errorf("%s: encode request: %w", c.backend, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return completion{}, fmt.Errorf("%s: build request: %w", c.backend, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+cred.Bearer)
	if cred.AccountID != "" {
		req.Header.Set("chatgpt-account-id", cred.AccountID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return completion{}, fmt.Errorf("%s: request failed: %w", c.backend, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 500))
		return completion{}, &StatusError{
			Backend:    c.backend,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(detail)),
			RetryAfter: retryAfter(resp.Header.Get("Retry-After")),
		}
	}

	return c.readStream(resp.Body)
}

// readStream assembles output text deltas until the stream ends.
func (c *codexCompleter) readStream(r io.Reader) (completion, error) {
	var (
		text strings.Builder
		out  completion
	)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" || data == "[DONE]" {
			continue
		}

		var ev codexEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		switch ev.Type {
		case "response.output_text.delta":
			text.WriteString(ev.Delta)
		case "response.completed":
			if ev.Response != nil {
				out.Model = ev.Response.Model
			}
		case "response.failed":
			msg := "response failed"
			if ev.Response != nil && ev.Response.Error != nil {
				msg = ev.Response.Error.Code + ": " + ev.Response.Error.Message
			}
			return completion{}, fmt.Errorf("%s: %s", c.backend, msg)
		case "error":
			return completion{}, fmt.Errorf("%s: stream error: %s", c.backend, ev.Message)
		}
	}
	if err := scanner.Err(); err != nil {
		return completion{}, fmt.Errorf("%s: read stream: %w", c.backend, err)
	}

	out.Text = text.String()
	return out, nil
}

func (c *codexCompleter) close() error {
	c.http.CloseIdleConnections()
	return nil
}

func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		return time.Until(at)
	}
	return 0
}
