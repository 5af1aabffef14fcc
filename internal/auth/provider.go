package auth

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Iron-Ham/concord/internal/config"
	"github.com/Iron-Ham/concord/internal/errors"
	"github.com/Iron-Ham/concord/internal/logging"
	"golang.org/x/oauth2"
)

// Device flow defaults applied when the provider omits them.
const (
	DefaultDeviceExpiry   = 900 * time.Second
	DefaultDeviceInterval = 5
)

// Provider acquires and renews tokens for one backend account.
type Provider interface {
	Name() string
	Login(ctx context.Context) (*Token, error)
	Refresh(ctx context.Context, tok *Token) (*Token, error)
	Revoke(ctx context.Context, tok *Token) error
}

// PromptFunc shows the user where to authorize a login. For the browser
// flow userCode is empty.
type PromptFunc func(verificationURL, userCode string)

// BrowserOpener opens a URL in the user's browser.
type BrowserOpener func(url string) error

// OAuthProvider implements Provider with golang.org/x/oauth2, using either
// the PKCE browser flow or the device authorization grant.
type OAuthProvider struct {
	name            string
	cfg             config.OAuthConfig
	oauth           *oauth2.Config
	callbackTimeout time.Duration
	httpClient      *http.Client
	prompt          PromptFunc
	openBrowser     BrowserOpener
	logger          *logging.Logger
}

// ProviderOption configures an OAuthProvider.
type ProviderOption func(*OAuthProvider)

// WithHTTPClient sets the client used for token and device endpoints.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *OAuthProvider) { p.httpClient = c }
}

// WithPrompt sets how verification URLs and user codes are shown.
func WithPrompt(fn PromptFunc) ProviderOption {
	return func(p *OAuthProvider) { p.prompt = fn }
}

// WithBrowserOpener sets how the authorization URL is opened.
func WithBrowserOpener(fn BrowserOpener) ProviderOption {
	return func(p *OAuthProvider) { p.openBrowser = fn }
}

// WithCallbackTimeout bounds the browser redirect wait.
func WithCallbackTimeout(d time.Duration) ProviderOption {
	return func(p *OAuthProvider) { p.callbackTimeout = d }
}

// WithProviderLogger sets the provider logger.
func WithProviderLogger(l *logging.Logger) ProviderOption {
	return func(p *OAuthProvider) { p.logger = l }
}

// NewOAuthProvider creates a provider named after the backend it serves.
func NewOAuthProvider(name string, cfg config.OAuthConfig, opts ...ProviderOption) *OAuthProvider {
	p := &OAuthProvider{
		name: name,
		cfg:  cfg,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:       cfg.AuthURL,
				TokenURL:      cfg.TokenURL,
				DeviceAuthURL: cfg.DeviceAuthURL,
				AuthStyle:     oauth2.AuthStyleInParams,
			},
		},
		callbackTimeout: 300 * time.Second,
		prompt:          func(string, string) {},
		openBrowser:     func(string) error { return nil },
		logger:          logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name implements Provider.
func (p *OAuthProvider) Name() string { return p.name }

// withClient attaches the configured HTTP client for oauth2 calls.
func (p *OAuthProvider) withClient(ctx context.Context) context.Context {
	if p.httpClient == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
}

// Login implements Provider.
func (p *OAuthProvider) Login(ctx context.Context) (*Token, error) {
	switch p.cfg.Flow {
	case "browser":
		return p.loginBrowser(ctx)
	case "device":
		return p.loginDevice(ctx)
	default:
		return nil, errors.NewOAuthError(p.name, "unsupported_flow",
			fmt.Sprintf("no interactive login configured (flow %q)", p.cfg.Flow))
	}
}

func (p *OAuthProvider) loginBrowser(ctx context.Context) (*Token, error) {
	state := oauth2.GenerateVerifier()
	verifier := oauth2.GenerateVerifier()

	cs, err := newCallbackServer(p.name, state, p.cfg.RedirectPort)
	if err != nil {
		return nil, err
	}
	cs.start()
	defer cs.close()

	conf := *p.oauth
	conf.RedirectURL = cs.RedirectURL()

	authOpts := []oauth2.AuthCodeOption{oauth2.S256ChallengeOption(verifier)}
	for k, v := range p.cfg.ExtraParams {
		authOpts = append(authOpts, oauth2.SetAuthURLParam(k, v))
	}
	authURL := conf.AuthCodeURL(state, authOpts...)

	p.logger.Info("starting browser login", "provider", p.name, "redirect", conf.RedirectURL)
	p.prompt(authURL, "")
	if err := p.openBrowser(authURL); err != nil {
		p.logger.Warn("could not open browser", "provider", p.name, "error", err.Error())
	}

	code, err := cs.wait(ctx, p.callbackTimeout)
	if err != nil {
		return nil, err
	}

	tok, err := conf.Exchange(p.withClient(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, p.oauthError("exchange_failed", err)
	}
	return FromOAuth2(p.name, tok), nil
}

func (p *OAuthProvider) loginDevice(ctx context.Context) (*Token, error) {
	ctx = p.withClient(ctx)

	da, err := p.oauth.DeviceAuth(ctx)
	if err != nil {
		return nil, p.oauthError("device_auth_failed", err)
	}
	if da.Expiry.IsZero() {
		da.Expiry = time.Now().Add(DefaultDeviceExpiry)
	}
	if da.Interval == 0 {
		da.Interval = DefaultDeviceInterval
	}

	verification := da.VerificationURIComplete
	if verification == "" {
		verification = da.VerificationURI
	}
	p.logger.Info("starting device login", "provider", p.name, "verification_uri", da.VerificationURI)
	p.prompt(verification, da.UserCode)

	tok, err := p.oauth.DeviceAccessToken(ctx, da)
	if err != nil {
		if ctx.Err() == nil && time.Now().After(da.Expiry) {
			return nil, errors.NewOAuthError(p.name, "expired_token", "device code expired").WithCause(err)
		}
		return nil, p.oauthError("device_token_failed", err)
	}
	return FromOAuth2(p.name, tok), nil
}

// Refresh implements Provider. Any failure is reported as a
// TokenExpiredError so callers can decide whether to log in again.
func (p *OAuthProvider) Refresh(ctx context.Context, tok *Token) (*Token, error) {
	if tok == nil || tok.RefreshToken == "" {
		var expiredAt time.Time
		if tok != nil {
			expiredAt = tok.ExpiresAt
		}
		return nil, errors.NewTokenExpiredError(p.name, expiredAt, errors.New("no refresh token"))
	}

	// An empty access token forces the refresher to hit the token endpoint.
	src := p.oauth.TokenSource(p.withClient(ctx), &oauth2.Token{RefreshToken: tok.RefreshToken})
	fresh, err := src.Token()
	if err != nil {
		return nil, errors.NewTokenExpiredError(p.name, tok.ExpiresAt, err)
	}

	out := FromOAuth2(p.name, fresh)
	if out.RefreshToken == "" {
		out.RefreshToken = tok.RefreshToken
	}
	if out.AccountID == "" {
		out.AccountID = tok.AccountID
	}
	if out.Email == "" {
		out.Email = tok.Email
	}
	if len(out.Scope) == 0 {
		out.Scope = tok.Scope
	}
	return out, nil
}

// Revoke implements Provider (RFC 7009). Providers without a revocation
// endpoint treat it as a no-op.
func (p *OAuthProvider) Revoke(ctx context.Context, tok *Token) error {
	if p.cfg.RevokeURL == "" || tok == nil {
		return nil
	}
	value, hint := tok.RefreshToken, "refresh_token"
	if value == "" {
		value, hint = tok.AccessToken, "access_token"
	}

	form := url.Values{
		"token":           {value},
		"token_type_hint": {hint},
		"client_id":       {p.cfg.ClientID},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.RevokeURL, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := p.httpClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return p.oauthError("revoke_failed", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.NewOAuthError(p.name, "revoke_failed",
			fmt.Sprintf("revocation returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body))))
	}
	return nil
}

// oauthError converts an oauth2 error into an OAuthError, keeping the
// provider's error code when one was returned.
func (p *OAuthProvider) oauthError(fallbackCode string, err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.ErrorCode != "" {
		msg := re.ErrorDescription
		if msg == "" {
			msg = re.ErrorCode
		}
		return errors.NewOAuthError(p.name, re.ErrorCode, msg).WithCause(err)
	}
	return errors.NewOAuthError(p.name, fallbackCode, err.Error()).WithCause(err)
}
