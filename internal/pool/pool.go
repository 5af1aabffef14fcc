// Package pool owns the set of AI clients participating in one debate run.
//
// A Pool is built per run. Backends that fail to construct, authenticate or
// answer a health check are excluded and recorded in the failure ledger
// rather than aborting the run. Only an empty pool, or a strict pool below its
// minimum size, is fatal.
package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/concord/internal/ai"
	"github.com/Iron-Ham/concord/internal/auth"
	"github.com/Iron-Ham/concord/internal/config"
	"github.com/Iron-Ham/concord/internal/errors"
	"github.com/Iron-Ham/concord/internal/event"
	"github.com/Iron-Ham/concord/internal/logging"
	"github.com/Iron-Ham/concord/internal/retry"
	concpool "github.com/sourcegraph/conc/pool"
)

// Defaults for pool construction.
const (
	DefaultMinClients    = 2
	DefaultHealthTimeout = 30 * time.Second
)

// Phase names the step in which a backend failed.
type Phase string

const (
	PhaseInitialize  Phase = "initialize"
	PhaseHealthCheck Phase = "health_check"
	PhaseAnalyze     Phase = "analyze"
	PhaseReview      Phase = "review"
	PhaseDebate      Phase = "debate"
)

// Failure is one entry of the failure ledger. Auth marks failures a fresh
// login would fix.
type Failure struct {
	Backend   string    `json:"backend"`
	Phase     Phase     `json:"phase"`
	Round     int       `json:"round,omitempty"`
	Reason    string    `json:"reason"`
	Auth      bool      `json:"auth,omitempty"`
	Retryable bool      `json:"retryable,omitempty"`
	Err       error     `json:"-"`
	At        time.Time `json:"at"`
}

// Health is the result of one health check.
type Health struct {
	Available    bool          `json:"available"`
	Latency      time.Duration `json:"latency"`
	ModelVersion string        `json:"model_version,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// Factory builds a client from backend configuration.
type Factory func(cfg config.BackendConfig) (ai.Client, error)

// Pool holds the clients available to one run.
type Pool struct {
	strict        bool
	minClients    int
	healthTimeout time.Duration
	factory       Factory
	auth          *auth.Manager
	providerOpts  []auth.ProviderOption
	retries       *retry.Manager
	bus           *event.Bus
	logger        *logging.Logger

	mu       sync.RWMutex
	clients  map[string]ai.Client
	order    []string
	failures []Failure
	health   map[string]Health
}

// Option configures a Pool.
type Option func(*Pool)

// WithStrict requires at least the minimum number of clients.
func WithStrict(strict bool) Option {
	return func(p *Pool) { p.strict = strict }
}

// WithMinClients sets the strict-mode minimum.
func WithMinClients(n int) Option {
	return func(p *Pool) { p.minClients = n }
}

// WithHealthTimeout bounds each health check call.
func WithHealthTimeout(d time.Duration) Option {
	return func(p *Pool) { p.healthTimeout = d }
}

// WithFactory replaces the client constructor.
func WithFactory(f Factory) Option {
	return func(p *Pool) { p.factory = f }
}

// WithAuth registers OAuth providers for backends that configure a flow.
func WithAuth(m *auth.Manager, opts ...auth.ProviderOption) Option {
	return func(p *Pool) {
		p.auth = m
		p.providerOpts = opts
	}
}

// WithRetries shares a retry manager whose totals the pool reports.
func WithRetries(r *retry.Manager) Option {
	return func(p *Pool) { p.retries = r }
}

// WithBus publishes exclusion events.
func WithBus(b *event.Bus) Option {
	return func(p *Pool) { p.bus = b }
}

// WithLogger sets the pool logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// New creates an empty pool. Without WithFactory, clients are built with
// ai.New using deps.
func New(deps ai.Deps, opts ...Option) *Pool {
	p := &Pool{
		minClients:    DefaultMinClients,
		healthTimeout: DefaultHealthTimeout,
		clients:       make(map[string]ai.Client),
		health:        make(map[string]Health),
		logger:        logging.NopLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.NopLogger()
	}
	if p.retries == nil {
		p.retries = deps.Retries
	}
	if p.retries == nil {
		p.retries = retry.NewManager(retry.DefaultMaxRetries)
	}
	if p.factory == nil {
		deps.Auth = p.auth
		deps.Retries = p.retries
		if deps.Logger == nil {
			deps.Logger = p.logger
		}
		p.factory = func(cfg config.BackendConfig) (ai.Client, error) {
			return ai.New(cfg, deps)
		}
	}
	return p
}

// Initialize builds and authenticates each backend. Failures go to the
// ledger; only context cancellation is returned.
func (p *Pool) Initialize(ctx context.Context, backends []config.BackendConfig) error {
	for _, b := range backends {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !b.Enabled {
			continue
		}
		if p.auth != nil && b.OAuth.Flow != "" {
			if _, ok := p.auth.Provider(b.Name); !ok {
				p.auth.Register(auth.NewOAuthProvider(b.Name, b.OAuth, p.providerOpts...))
			}
		}

		client, err := p.factory(b)
		if err != nil {
			p.RecordFailure(Failure{Backend: b.Name, Phase: PhaseInitialize, Reason: err.Error(), Err: err})
			continue
		}
		if err := client.Authenticate(ctx); err != nil {
			_ = client.Close()
			p.RecordFailure(Failure{Backend: b.Name, Phase: PhaseInitialize, Reason: err.Error(), Err: err})
			continue
		}
		p.Add(client)
		p.logger.Info("client ready", "backend", b.Name, "kind", string(client.Kind()), "model", client.Model())
	}
	return nil
}

// Add registers a ready client, replacing any client with the same name.
func (p *Pool) Add(c ai.Client) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.clients[c.Name()]; !exists {
		p.order = append(p.order, c.Name())
	}
	p.clients[c.Name()] = c
}

// HealthCheck pings every client concurrently with a bounded wait each.
func (p *Pool) HealthCheck(ctx context.Context, timeout time.Duration) map[string]Health {
	if timeout <= 0 {
		timeout = p.healthTimeout
	}
	clients := p.Clients()

	type checked struct {
		name   string
		health Health
	}
	workers := concpool.NewWithResults[checked]()
	for _, c := range clients {
		workers.Go(func() checked {
			return checked{name: c.Name(), health: p.check(ctx, c, timeout)}
		})
	}

	results := make(map[string]Health, len(clients))
	for _, r := range workers.Wait() {
		results[r.name] = r.health
	}

	p.mu.Lock()
	p.health = results
	p.mu.Unlock()
	return results
}

func (p *Pool) check(ctx context.Context, c ai.Client, timeout time.Duration) Health {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	res, err := c.Analyze(callCtx, ai.HealthCheckPrompt, ai.AnalysisContext{HealthCheck: true})
	latency := time.Since(start)

	if err != nil {
		msg := err.Error()
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			msg = errors.NewTimeoutError("health check", timeout).WithCause(err).Error()
		}
		p.logger.Warn("health check failed", "backend", c.Name(), "error", msg)
		return Health{Available: false, Error: msg}
	}

	p.logger.Info("health check passed", "backend", c.Name(), "latency_ms", latency.Milliseconds(), "model", res.ModelVersion)
	return Health{Available: true, Latency: latency, ModelVersion: res.ModelVersion}
}

// Preflight health-checks every client, removes the unhealthy ones and
// verifies enough clients remain.
func (p *Pool) Preflight(ctx context.Context) (map[string]Health, error) {
	health := p.HealthCheck(ctx, p.healthTimeout)
	for _, name := range p.Names() {
		if h, ok := health[name]; ok && !h.Available {
			p.Remove(name, Failure{Phase: PhaseHealthCheck, Reason: h.Error})
		}
	}
	return health, p.Require()
}

// Require returns a NoAvailableClientsError when the pool cannot run.
func (p *Pool) Require() error {
	p.mu.RLock()
	n := len(p.clients)
	onlySelf := n == 1
	for _, c := range p.clients {
		onlySelf = onlySelf && c.Kind() == ai.BackendClaude
	}
	p.mu.RUnlock()

	if n == 0 || (p.strict && n < p.minClients) {
		reasons := p.failureReasons()
		if p.strict {
			for _, name := range p.Names() {
				reasons[name] = fmt.Sprintf("available, but strict mode needs %d clients", p.minClients)
			}
		}
		return errors.NewNoAvailableClientsError(p.strict, reasons)
	}
	if onlySelf {
		p.logger.Warn("only the self participant is available; the debate has a single voice")
	}
	return nil
}

// Strict reports whether the pool runs in strict mode.
func (p *Pool) Strict() bool { return p.strict }

// MinClients returns the strict-mode minimum.
func (p *Pool) MinClients() int { return p.minClients }

// Remove closes a client and records why it was excluded.
func (p *Pool) Remove(name string, f Failure) {
	p.mu.Lock()
	c, ok := p.clients[name]
	if ok {
		delete(p.clients, name)
		for i, n := range p.order {
			if n == name {
				p.order = append(p.order[:i], p.order[i+1:]...)
				break
			}
		}
	}
	p.mu.Unlock()

	if ok {
		if err := c.Close(); err != nil {
			p.logger.Debug("client close failed", "backend", name, "error", err.Error())
		}
	}
	f.Backend = name
	p.RecordFailure(f)
	if p.bus != nil {
		p.bus.Publish(event.NewClientExcludedEvent(name, f.Reason))
	}
}

// RecordFailure appends to the ledger without removing the client and
// returns the entry as recorded, with Auth and Retryable classified from Err.
func (p *Pool) RecordFailure(f Failure) Failure {
	if f.At.IsZero() {
		f.At = time.Now()
	}
	if f.Err != nil {
		if f.Reason == "" {
			f.Reason = f.Err.Error()
		}
		f.Auth = errors.IsAuthError(f.Err)
		f.Retryable = errors.IsRetryable(f.Err)
	}
	p.mu.Lock()
	p.failures = append(p.failures, f)
	p.mu.Unlock()

	log := p.logger.Warn
	if f.Err != nil && errors.GetSeverity(f.Err) >= errors.SeverityCritical {
		log = p.logger.Error
	}
	log("backend failure", "backend", f.Backend, "phase", string(f.Phase), "round", f.Round,
		"reason", f.Reason, "auth", f.Auth)
	return f
}

// Failures returns a copy of the ledger in insertion order.
func (p *Pool) Failures() []Failure {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Failure, len(p.failures))
	copy(out, p.failures)
	return out
}

// failureReasons maps each failed backend to its latest reason.
func (p *Pool) failureReasons() map[string]string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	reasons := make(map[string]string, len(p.failures))
	for _, f := range p.failures {
		reasons[f.Backend] = fmt.Sprintf("%s: %s", f.Phase, f.Reason)
	}
	return reasons
}

// Clients returns the clients in registration order.
func (p *Pool) Clients() []ai.Client {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ai.Client, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, p.clients[name])
	}
	return out
}

// Names returns the client names in registration order.
func (p *Pool) Names() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]string, len(p.order))
	copy(out, p.order)
	return out
}

// Get returns the client registered under name.
func (p *Pool) Get(name string) (ai.Client, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	c, ok := p.clients[name]
	return c, ok
}

// Len returns the number of clients.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.clients)
}

// Health returns the results of the most recent health check.
func (p *Pool) Health() map[string]Health {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]Health, len(p.health))
	for k, v := range p.health {
		out[k] = v
	}
	return out
}

// RetryTotals reports re-authentication totals per backend.
func (p *Pool) RetryTotals() map[string]retry.BackendTotals {
	return p.retries.GetAllTotals()
}

// Close closes every client.
func (p *Pool) Close() error {
	p.mu.Lock()
	clients := p.clients
	p.clients = make(map[string]ai.Client)
	p.order = nil
	p.mu.Unlock()

	var errs []error
	for name, c := range clients {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
