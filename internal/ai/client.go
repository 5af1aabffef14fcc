package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Iron-Ham/concord/internal/auth"
	"github.com/Iron-Ham/concord/internal/config"
	"github.com/Iron-Ham/concord/internal/errors"
	"github.com/Iron-Ham/concord/internal/logging"
	"github.com/Iron-Ham/concord/internal/retry"
)

// BackendName identifies a supported backend kind.
type BackendName string

const (
	BackendOpenAI BackendName = "openai"
	BackendCodex  BackendName = "codex"
	BackendGemini BackendName = "gemini"
	BackendClaude BackendName = "claude"
)

// ErrUnknownBackend is returned when the configured backend kind is unsupported.
var ErrUnknownBackend = fmt.Errorf("unknown AI backend")

// Client is one authenticated LLM participant.
type Client interface {
	// Name is the registration key from configuration.
	Name() string
	Kind() BackendName
	// Model is the configured model; results carry the model the API reported.
	Model() string
	// Authenticate obtains credentials without calling the model.
	Authenticate(ctx context.Context) error
	Analyze(ctx context.Context, task string, actx AnalysisContext) (*AnalysisResult, error)
	Review(ctx context.Context, task string, peer, own *AnalysisResult) (*ReviewResult, error)
	Debate(ctx context.Context, task string, own *AnalysisResult, opposing []*AnalysisResult, opts DebateOptions) (*DebateResult, error)
	Close() error
}

// Deps are the shared services a client is built with.
type Deps struct {
	Auth              *auth.Manager
	Retries           *retry.Manager
	HTTPClient        *http.Client
	Logger            *logging.Logger
	MinAnalysisLength int
}

// New builds a Client for one backend configuration.
func New(cfg config.BackendConfig, deps Deps) (Client, error) {
	if deps.Retries == nil {
		deps.Retries = retry.NewManager(retry.DefaultMaxRetries)
	}
	if deps.Logger == nil {
		deps.Logger = logging.NopLogger()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = &http.Client{}
	}

	c := &client{
		name:      cfg.Name,
		kind:      BackendName(strings.ToLower(cfg.Kind)),
		model:     cfg.Model,
		retries:   deps.Retries,
		logger:    deps.Logger.WithBackend(cfg.Name),
		minLength: deps.MinAnalysisLength,
		now:       time.Now,
	}

	switch c.kind {
	case BackendOpenAI, BackendGemini:
		if err := c.useCredentials(cfg, deps.Auth, false); err != nil {
			return nil, err
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = DefaultOpenAIBaseURL
			if c.kind == BackendGemini {
				baseURL = DefaultGeminiBaseURL
			}
		}
		c.backend = newChatCompleter(cfg.Name, cfg.Model, baseURL, cfg.MaxTokens, deps.HTTPClient)
	case BackendCodex:
		if err := c.useCredentials(cfg, deps.Auth, true); err != nil {
			return nil, err
		}
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = DefaultCodexBaseURL
		}
		c.backend = newCodexCompleter(cfg.Name, cfg.Model, baseURL, deps.HTTPClient)
	case BackendClaude:
		c.backend = newCLICompleter(cfg.Name, cfg.Command, cfg.Model)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, cfg.Kind)
	}
	return c, nil
}

// Credential is what a backend needs to authorize one request.
type Credential struct {
	Bearer    string
	AccountID string
}

type credentialSource func(ctx context.Context) (Credential, error)

// completion is the assembled text of one backend call.
type completion struct {
	Text  string
	Model string
}

// completer performs one prompt round trip for a backend kind.
type completer interface {
	complete(ctx context.Context, cred Credential, p Prompt) (completion, error)
	close() error
}

type client struct {
	name      string
	kind      BackendName
	model     string
	backend   completer
	retries   *retry.Manager
	logger    *logging.Logger
	minLength int
	now       func() time.Time

	creds       credentialSource
	invalidate  func()
	rateLimited func(until time.Time)
}

// useCredentials wires a static API key or the auth manager for cfg.
func (c *client) useCredentials(cfg config.BackendConfig, mgr *auth.Manager, oauthOnly bool) error {
	if !oauthOnly {
		if key := cfg.ResolveAPIKey(); key != "" {
			c.creds = func(context.Context) (Credential, error) {
				return Credential{Bearer: key}, nil
			}
			return nil
		}
	}
	if cfg.OAuth.Flow == "" || mgr == nil {
		return errors.NewAuthenticationError(cfg.Name, "no API key or OAuth flow configured", nil)
	}

	name := cfg.Name
	c.creds = func(ctx context.Context) (Credential, error) {
		tok, err := mgr.EnsureValid(ctx, name)
		if err != nil {
			return Credential{}, err
		}
		if tok.RateLimited(c.now()) {
			return Credential{}, errors.NewAuthenticationError(name,
				fmt.Sprintf("rate limited until %s", tok.RateLimitedUntil.Format(time.RFC3339)), nil)
		}
		return Credential{Bearer: tok.AccessToken, AccountID: tok.AccountID}, nil
	}
	c.invalidate = func() { mgr.Invalidate(name) }
	c.rateLimited = func(until time.Time) {
		if err := mgr.MarkRateLimited(name, until); err != nil {
			c.logger.Warn("failed to record rate limit", "error", err.Error())
		}
	}
	return nil
}

func (c *client) Name() string      { return c.name }
func (c *client) Kind() BackendName { return c.kind }
func (c *client) Model() string     { return c.model }

func (c *client) credential(ctx context.Context) (Credential, error) {
	if c.creds == nil {
		return Credential{}, nil
	}
	return c.creds(ctx)
}

func (c *client) Authenticate(ctx context.Context) error {
	_, err := c.credential(ctx)
	return err
}

// call sends p, re-authenticating once when the backend rejects the
// credentials. A second rejection is a RetryLimitExceededError.
func (c *client) call(ctx context.Context, p Prompt) (completion, error) {
	id := c.retries.Begin(c.name)
	defer c.retries.Finish(id)

	for {
		cred, err := c.credential(ctx)
		if err != nil {
			c.retries.SetLastError(id, err.Error())
			return completion{}, err
		}

		out, err := c.backend.complete(ctx, cred, p)
		if err == nil {
			c.retries.RecordAttempt(id, true)
			if out.Model == "" {
				out.Model = c.model
			}
			return out, nil
		}
		c.retries.SetLastError(id, err.Error())

		var status *StatusError
		if errors.As(err, &status) && status.StatusCode == http.StatusTooManyRequests && c.rateLimited != nil && status.RetryAfter > 0 {
			c.rateLimited(c.now().Add(status.RetryAfter))
		}

		if !errors.Is(err, errors.ErrUnauthorized) || c.invalidate == nil {
			return completion{}, err
		}
		if !c.retries.ShouldRetry(id) {
			return completion{}, errors.NewRetryLimitExceededError(c.name, c.retries.Attempts(id), err)
		}
		c.retries.RecordAttempt(id, false)
		c.logger.Warn("credentials rejected, re-authenticating", "attempt", c.retries.Attempts(id))
		c.invalidate()
	}
}

func (c *client) Analyze(ctx context.Context, task string, actx AnalysisContext) (*AnalysisResult, error) {
	if actx.HealthCheck {
		out, err := c.call(ctx, healthPrompt())
		if err != nil {
			return nil, err
		}
		return &AnalysisResult{
			Backend:      c.name,
			ModelVersion: out.Model,
			Conclusion:   strings.TrimSpace(out.Text),
			Confidence:   1,
		}, nil
	}

	out, err := c.call(ctx, analyzePrompt(task, actx))
	if err != nil {
		return nil, err
	}
	result, err := ParseAnalysis(c.name, out.Model, out.Text, c.minLength)
	if err != nil {
		c.logger.Debug("analysis rejected", "error", err.Error())
		return nil, err
	}
	return result, nil
}

func (c *client) Review(ctx context.Context, task string, peer, own *AnalysisResult) (*ReviewResult, error) {
	out, err := c.call(ctx, reviewPrompt(task, peer, own))
	if err != nil {
		return nil, err
	}
	return ParseReview(c.name, peer.Backend, out.Text)
}

func (c *client) Debate(ctx context.Context, task string, own *AnalysisResult, opposing []*AnalysisResult, opts DebateOptions) (*DebateResult, error) {
	out, err := c.call(ctx, debatePrompt(task, own, opposing, opts))
	if err != nil {
		return nil, err
	}
	return ParseDebate(c.name, out.Text)
}

func (c *client) Close() error {
	return c.backend.close()
}

// StatusError is a non-success HTTP response from a backend.
type StatusError struct {
	Backend    string
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s: HTTP %d", e.Backend, e.StatusCode)
	if e.Body != "" {
		msg += ": " + e.Body
	}
	return msg
}

// Is matches ErrUnauthorized for 401 responses.
func (e *StatusError) Is(target error) bool {
	return target == errors.ErrUnauthorized && e.StatusCode == http.StatusUnauthorized
}
