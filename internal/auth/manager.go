package auth

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Iron-Ham/concord/internal/errors"
	"github.com/Iron-Ham/concord/internal/logging"
	"golang.org/x/sync/singleflight"
)

// DefaultRefreshSkew is how long before expiry a token is renewed.
const DefaultRefreshSkew = 5 * time.Minute

// DefaultFlightTimeout bounds one shared refresh-or-login.
const DefaultFlightTimeout = 5 * time.Minute

// Manager hands out valid tokens per provider. Refreshes are single-flighted
// per account so concurrent callers observing an expiring token share one
// refresh or login.
type Manager struct {
	store       Store
	skew        time.Duration
	flight      time.Duration
	interactive bool
	logger      *logging.Logger
	now         func() time.Time

	mu          sync.RWMutex
	providers   map[string]Provider
	invalidated map[string]bool

	group singleflight.Group
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRefreshSkew sets the refresh window before expiry.
func WithRefreshSkew(d time.Duration) ManagerOption {
	return func(m *Manager) { m.skew = d }
}

// WithFlightTimeout bounds a shared refresh, including the fallback
// login. It is independent of any single caller's deadline.
func WithFlightTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		if d > 0 {
			m.flight = d
		}
	}
}

// WithInteractive allows one interactive login when refresh fails.
func WithInteractive(allowed bool) ManagerOption {
	return func(m *Manager) { m.interactive = allowed }
}

// WithManagerLogger sets the manager logger.
func WithManagerLogger(l *logging.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:       store,
		skew:        DefaultRefreshSkew,
		flight:      DefaultFlightTimeout,
		logger:      logging.NopLogger(),
		now:         time.Now,
		providers:   make(map[string]Provider),
		invalidated: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds or replaces a provider.
func (m *Manager) Register(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.Name()] = p
}

// Provider returns the provider registered under name.
func (m *Manager) Provider(name string) (Provider, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[name]
	return p, ok
}

// Providers returns the registered provider names, sorted.
func (m *Manager) Providers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Store returns the underlying token store.
func (m *Manager) Store() Store { return m.store }

func (m *Manager) provider(name string) (Provider, error) {
	p, ok := m.Provider(name)
	if !ok {
		return nil, errors.NewAuthenticationError(name, "no auth provider registered", nil)
	}
	return p, nil
}

// Login runs the provider's interactive flow and stores the result.
func (m *Manager) Login(ctx context.Context, name string) (*Token, error) {
	p, err := m.provider(name)
	if err != nil {
		return nil, err
	}
	v, err, _ := m.group.Do(name, func() (any, error) {
		return m.login(ctx, p)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Token), nil
}

func (m *Manager) login(ctx context.Context, p Provider) (*Token, error) {
	tok, err := p.Login(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.store.Save(tok); err != nil {
		return nil, fmt.Errorf("save token for %s: %w", p.Name(), err)
	}
	m.clearInvalid(p.Name())
	m.logger.Info("login complete", "provider", p.Name(), "expires_at", tok.ExpiresAt)
	return tok, nil
}

// Logout revokes (best effort) and deletes the stored token.
func (m *Manager) Logout(ctx context.Context, name string) error {
	tok, err := m.store.Load(name)
	if err != nil {
		if errors.Is(err, errors.ErrTokenNotFound) {
			return nil
		}
		return err
	}
	if p, ok := m.Provider(name); ok {
		if err := p.Revoke(ctx, tok); err != nil {
			m.logger.Warn("token revocation failed", "provider", name, "error", err.Error())
		}
	}
	return m.store.Delete(name)
}

// Status returns the stored token without refreshing it.
func (m *Manager) Status(name string) (*Token, error) {
	return m.store.Load(name)
}

// Invalidate forces the next EnsureValid for name to refresh. Clients call
// it after a 401.
func (m *Manager) Invalidate(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated[name] = true
}

func (m *Manager) takeInvalid(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	forced := m.invalidated[name]
	delete(m.invalidated, name)
	return forced
}

func (m *Manager) clearInvalid(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.invalidated, name)
}

// MarkRateLimited records that the backend asked for a back-off.
func (m *Manager) MarkRateLimited(name string, until time.Time) error {
	tok, err := m.store.Load(name)
	if err != nil {
		return err
	}
	tok.RateLimitedUntil = until
	return m.store.Save(tok)
}

// EnsureValid returns a usable token for name. It refreshes when the token
// is within the skew window of expiry or was invalidated. When refresh fails
// and interactive login is allowed, exactly one login is attempted; if that
// fails too the result is a RetryLimitExceededError. Without interactive
// login the refresh failure surfaces as a TokenExpiredError.
//
// Concurrent callers share one refresh, which runs detached from any of
// their contexts. A caller whose ctx ends first gets ctx.Err() while the
// refresh carries on for the others.
func (m *Manager) EnsureValid(ctx context.Context, name string) (*Token, error) {
	ch := m.group.DoChan(name, func() (any, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.flight)
		defer cancel()
		return m.ensureValid(flightCtx, name)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			m.logger.Debug("shared token check", "provider", name)
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Token), nil
	}
}

func (m *Manager) ensureValid(ctx context.Context, name string) (*Token, error) {
	p, err := m.provider(name)
	if err != nil {
		return nil, err
	}

	tok, err := m.store.Load(name)
	if err != nil {
		if !errors.Is(err, errors.ErrTokenNotFound) {
			return nil, err
		}
		if !m.interactive {
			return nil, err
		}
		m.logger.Info("no stored token, starting login", "provider", name)
		return m.login(ctx, p)
	}

	forced := m.takeInvalid(name)
	if !forced && !tok.NeedsRefresh(m.now(), m.skew) {
		return tok, nil
	}

	m.logger.Debug("refreshing token", "provider", name, "forced", forced, "expires_at", tok.ExpiresAt)
	fresh, refreshErr := p.Refresh(ctx, tok)
	if refreshErr == nil {
		fresh.RateLimitedUntil = tok.RateLimitedUntil
		if err := m.store.Save(fresh); err != nil {
			return nil, fmt.Errorf("save refreshed token for %s: %w", name, err)
		}
		return fresh, nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if !errors.Is(refreshErr, errors.ErrTokenExpired) {
		refreshErr = errors.NewTokenExpiredError(name, tok.ExpiresAt, refreshErr)
	}
	if !m.interactive {
		return nil, refreshErr
	}

	m.logger.Warn("refresh failed, attempting one login", "provider", name, "error", refreshErr.Error())
	fresh, err = m.login(ctx, p)
	if err != nil {
		return nil, errors.NewRetryLimitExceededError(name, 1, errors.Join(refreshErr, err))
	}
	return fresh, nil
}

// TokenFunc adapts the manager to a bearer source for one provider.
func (m *Manager) TokenFunc(name string) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		tok, err := m.EnsureValid(ctx, name)
		if err != nil {
			return "", err
		}
		return tok.AccessToken, nil
	}
}
