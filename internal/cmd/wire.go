package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"

	"github.com/Iron-Ham/concord/internal/ai"
	"github.com/Iron-Ham/concord/internal/auth"
	"github.com/Iron-Ham/concord/internal/comparison"
	"github.com/Iron-Ham/concord/internal/config"
	"github.com/Iron-Ham/concord/internal/consensus"
	"github.com/Iron-Ham/concord/internal/debate"
	"github.com/Iron-Ham/concord/internal/event"
	"github.com/Iron-Ham/concord/internal/logging"
	"github.com/Iron-Ham/concord/internal/pool"
)

// app holds what every command shares: the loaded configuration, the
// logger and the token manager.
type app struct {
	cfg    *config.Config
	logger *logging.Logger
	auth   *auth.Manager
	prompt io.Writer
}

// newApp loads configuration and builds the shared pieces. Login prompts
// go to prompt; interactive allows a browser login when refresh fails.
func newApp(prompt io.Writer, interactive bool) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger, prompt: prompt}
	store := auth.NewStore(cfg.Auth.UseKeyring, cfg.Auth.ResolveTokenDir(), logger)
	a.auth = auth.NewManager(store,
		auth.WithRefreshSkew(cfg.Auth.RefreshSkew()),
		auth.WithFlightTimeout(cfg.Auth.CallbackTimeout()+cfg.Pool.CallTimeout()),
		auth.WithInteractive(interactive || cfg.Auth.Interactive),
		auth.WithManagerLogger(logger),
	)
	a.registerProviders(cfg.Backends)
	return a, nil
}

func (a *app) Close() error {
	return a.logger.Close()
}

func newLogger(cfg config.LoggingConfig) (*logging.Logger, error) {
	if cfg.Dir == "" {
		return logging.NewConsoleLogger(os.Stderr, cfg.Level), nil
	}
	return logging.NewRotatingLogger(cfg.Dir, cfg.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
	})
}

func (a *app) providerOptions() []auth.ProviderOption {
	return []auth.ProviderOption{
		auth.WithCallbackTimeout(a.cfg.Auth.CallbackTimeout()),
		auth.WithProviderLogger(a.logger),
		auth.WithBrowserOpener(openURL),
		auth.WithPrompt(func(verificationURL, userCode string) {
			if userCode == "" {
				fmt.Fprintf(a.prompt, "Open this URL to sign in:\n  %s\n", verificationURL)
				return
			}
			fmt.Fprintf(a.prompt, "Visit %s and enter code %s\n", verificationURL, userCode)
		}),
	}
}

// registerProviders registers an OAuth provider for every backend that
// configures a flow, so auth commands work without building a pool.
func (a *app) registerProviders(backends []config.BackendConfig) {
	opts := a.providerOptions()
	for _, b := range backends {
		if b.OAuth.Flow == "" {
			continue
		}
		if _, ok := a.auth.Provider(b.Name); ok {
			continue
		}
		a.auth.Register(auth.NewOAuthProvider(b.Name, b.OAuth, opts...))
	}
}

// newPool builds and authenticates a pool over the enabled backends of cfg.
// Backends that fail to initialize are in the pool's failure ledger.
func (a *app) newPool(ctx context.Context, cfg *config.Config, bus *event.Bus) (*pool.Pool, error) {
	a.registerProviders(cfg.Backends)
	p := pool.New(
		ai.Deps{Logger: a.logger, MinAnalysisLength: cfg.Debate.MinAnalysisLength},
		pool.WithAuth(a.auth, a.providerOptions()...),
		pool.WithStrict(cfg.Pool.Strict),
		pool.WithMinClients(cfg.Pool.MinClients),
		pool.WithHealthTimeout(cfg.Pool.HealthTimeout()),
		pool.WithBus(bus),
		pool.WithLogger(a.logger),
	)
	if err := p.Initialize(ctx, cfg.EnabledBackends()); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// debateOptions maps configuration onto orchestrator options.
func (a *app) debateOptions(cfg *config.Config, bus *event.Bus) []debate.Option {
	engine := comparison.New(
		comparison.WithSemanticThreshold(cfg.Comparison.SemanticThreshold),
		comparison.WithClusterThreshold(cfg.Comparison.ClusterThreshold),
	)
	protocol := consensus.NewProtocol(consensus.Thresholds{
		FullSemantic: cfg.Consensus.FullSemantic,
		Near:         cfg.Consensus.Near,
		Partial:      cfg.Consensus.Partial,
	})
	return []debate.Option{
		debate.WithMaxRounds(cfg.Debate.MaxRounds),
		debate.WithCallTimeout(cfg.Pool.CallTimeout()),
		debate.WithEngine(engine),
		debate.WithProtocol(protocol),
		debate.WithTracker(
			consensus.WithWindowSize(cfg.Convergence.WindowSize),
			consensus.WithMinSlope(cfg.Convergence.MinSlope),
			consensus.WithStableTolerance(cfg.Convergence.StableTolerance),
			consensus.WithStrategies(consensus.ParseStrategies(cfg.Convergence.Strategies)),
		),
		debate.WithBus(bus),
		debate.WithLogger(a.logger),
	}
}

// checkHealth initializes a throwaway pool and health-checks it. Backends
// that failed to initialize are reported as unavailable.
func (a *app) checkHealth(ctx context.Context, cfg *config.Config) (map[string]pool.Health, error) {
	p, err := a.newPool(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}
	defer p.Close()

	report := p.HealthCheck(ctx, cfg.Pool.HealthTimeout())
	for _, f := range p.Failures() {
		if _, ok := report[f.Backend]; !ok {
			report[f.Backend] = pool.Health{Available: false, Error: f.Reason}
		}
	}
	return report, nil
}

// openURL opens the given URL in the default browser
func openURL(url string) error {
	var cmd *exec.Cmd

	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "linux":
		cmd = exec.Command("xdg-open", url)
	case "windows":
		cmd = exec.Command("cmd", "/c", "start", url)
	default:
		return fmt.Errorf("unsupported platform: %s", runtime.GOOS)
	}

	return cmd.Start()
}
