package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete concord configuration
type Config struct {
	Backends    []BackendConfig   `mapstructure:"backends" yaml:"backends"`
	Auth        AuthConfig        `mapstructure:"auth" yaml:"auth"`
	Pool        PoolConfig        `mapstructure:"pool" yaml:"pool"`
	Comparison  ComparisonConfig  `mapstructure:"comparison" yaml:"comparison"`
	Consensus   ConsensusConfig   `mapstructure:"consensus" yaml:"consensus"`
	Convergence ConvergenceConfig `mapstructure:"convergence" yaml:"convergence"`
	Debate      DebateConfig      `mapstructure:"debate" yaml:"debate"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Server      ServerConfig      `mapstructure:"server" yaml:"server"`
	Logging     LoggingConfig     `mapstructure:"logging" yaml:"logging"`
}

// BackendConfig describes one reasoning backend taking part in debates.
type BackendConfig struct {
	// Name is the registration key used in logs, ledgers and stored artifacts.
	Name string `mapstructure:"name" yaml:"name"`
	// Kind selects the client implementation.
	// Options: "openai", "codex", "gemini", "claude"
	Kind string `mapstructure:"kind" yaml:"kind"`
	// Model is the requested model; the model actually used is reported per response.
	Model string `mapstructure:"model" yaml:"model"`
	// Enabled controls whether the pool initializes this backend (default: true)
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
	// APIKey is a static key for openai/gemini. When empty the OAuth token is used.
	// Supports "env:NAME" to read from the environment.
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	// BaseURL overrides the API endpoint.
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	// Command is the CLI binary for the claude kind (default: "claude")
	Command string `mapstructure:"command" yaml:"command,omitempty"`
	// MaxTokens caps completion length (default: 4096)
	MaxTokens int `mapstructure:"max_tokens" yaml:"max_tokens"`
	// OAuth configures token acquisition for this backend.
	OAuth OAuthConfig `mapstructure:"oauth" yaml:"oauth"`
}

// OAuthConfig holds per-provider OAuth endpoints and parameters.
type OAuthConfig struct {
	// Flow is "browser" (PKCE redirect), "device" (RFC 8628) or "" (no OAuth)
	Flow          string   `mapstructure:"flow" yaml:"flow"`
	ClientID      string   `mapstructure:"client_id" yaml:"client_id"`
	ClientSecret  string   `mapstructure:"client_secret" yaml:"client_secret,omitempty"`
	AuthURL       string   `mapstructure:"auth_url" yaml:"auth_url"`
	TokenURL      string   `mapstructure:"token_url" yaml:"token_url"`
	DeviceAuthURL string   `mapstructure:"device_auth_url" yaml:"device_auth_url,omitempty"`
	RevokeURL     string   `mapstructure:"revoke_url" yaml:"revoke_url,omitempty"`
	RedirectPort  int      `mapstructure:"redirect_port" yaml:"redirect_port"`
	Scopes        []string `mapstructure:"scopes" yaml:"scopes"`
	// ExtraParams are appended to the authorization URL
	ExtraParams map[string]string `mapstructure:"extra_params" yaml:"extra_params,omitempty"`
}

// AuthConfig controls token storage and refresh behavior
type AuthConfig struct {
	// RefreshSkewSeconds refreshes tokens this long before expiry (default: 300)
	RefreshSkewSeconds int `mapstructure:"refresh_skew_seconds" yaml:"refresh_skew_seconds"`
	// CallbackTimeoutSeconds bounds the browser redirect wait (default: 300)
	CallbackTimeoutSeconds int `mapstructure:"callback_timeout_seconds" yaml:"callback_timeout_seconds"`
	// Interactive allows one interactive login when refresh fails (default: false)
	Interactive bool `mapstructure:"interactive" yaml:"interactive"`
	// UseKeyring prefers the OS secret store over the encrypted file (default: true)
	UseKeyring bool `mapstructure:"use_keyring" yaml:"use_keyring"`
	// TokenDir overrides the encrypted token file directory (default: <config dir>/tokens)
	TokenDir string `mapstructure:"token_dir" yaml:"token_dir,omitempty"`
}

// PoolConfig controls client pool preflight behavior
type PoolConfig struct {
	// Strict requires MinClients external backends (default: false)
	Strict bool `mapstructure:"strict" yaml:"strict"`
	// MinClients is the strict-mode minimum number of usable backends (default: 2)
	MinClients int `mapstructure:"min_clients" yaml:"min_clients"`
	// HealthTimeoutSeconds bounds each health probe (default: 30)
	HealthTimeoutSeconds int `mapstructure:"health_timeout_seconds" yaml:"health_timeout_seconds"`
	// CallTimeoutSeconds bounds each analyze/review/debate call (default: 120)
	CallTimeoutSeconds int `mapstructure:"call_timeout_seconds" yaml:"call_timeout_seconds"`
}

// ComparisonConfig controls the comparison layers
type ComparisonConfig struct {
	// SemanticThreshold marks conclusions as aligned (default: 0.9)
	SemanticThreshold float64 `mapstructure:"semantic_threshold" yaml:"semantic_threshold"`
	// ClusterThreshold groups similar conclusions for reporting (default: 0.3)
	ClusterThreshold float64 `mapstructure:"cluster_threshold" yaml:"cluster_threshold"`
}

// ConsensusConfig holds the level thresholds
type ConsensusConfig struct {
	// FullSemantic is the semantic score required for level 3 (default: 0.9)
	FullSemantic float64 `mapstructure:"full_semantic" yaml:"full_semantic"`
	// Near is the score every layer must reach for level 2 (default: 0.9)
	Near float64 `mapstructure:"near" yaml:"near"`
	// Partial is the semantic and structural score for level 1 (default: 0.5)
	Partial float64 `mapstructure:"partial" yaml:"partial"`
}

// ConvergenceConfig controls the convergence tracker
type ConvergenceConfig struct {
	// WindowSize is the number of recent rounds fitted (default: 3)
	WindowSize int `mapstructure:"window_size" yaml:"window_size"`
	// MinSlope is the trend slope above which a strategy keeps running (default: 0)
	MinSlope float64 `mapstructure:"min_slope" yaml:"min_slope"`
	// StableTolerance is the max deviation reported as STABLE (default: 0.05)
	StableTolerance float64 `mapstructure:"stable_tolerance" yaml:"stable_tolerance"`
	// Strategies is the rotation order
	// (default: ["plain", "mediated", "scope_reduced", "perspective_shift"])
	Strategies []string `mapstructure:"strategies" yaml:"strategies"`
}

// DebateConfig controls orchestration
type DebateConfig struct {
	// MaxRounds bounds the run regardless of strategy state (default: 10)
	MaxRounds int `mapstructure:"max_rounds" yaml:"max_rounds"`
	// IncludeSelf adds the local claude CLI as a participant (default: true)
	IncludeSelf bool `mapstructure:"include_self" yaml:"include_self"`
	// MinAnalysisLength rejects shorter analyses as placeholders (default: 50)
	MinAnalysisLength int `mapstructure:"min_analysis_length" yaml:"min_analysis_length"`
}

// StoreConfig selects where round artifacts are persisted
type StoreConfig struct {
	// Driver is one of "file", "minio", "mysql", "postgres", "none" (default: "file")
	Driver string `mapstructure:"driver" yaml:"driver"`
	// DataDir is the file store root (default: <config dir>/debates)
	DataDir string `mapstructure:"data_dir" yaml:"data_dir,omitempty"`
	// DSN is the database connection string for mysql/postgres
	DSN string `mapstructure:"dsn" yaml:"dsn,omitempty"`
	// Minio configures the object store driver
	Minio MinioConfig `mapstructure:"minio" yaml:"minio"`
}

// MinioConfig holds MinIO / S3 connection settings
type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	Region    string `mapstructure:"region" yaml:"region"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key,omitempty"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key,omitempty"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
}

// ServerConfig controls the HTTP run API
type ServerConfig struct {
	// Addr is the listen address (default: "127.0.0.1:8420")
	Addr string `mapstructure:"addr" yaml:"addr"`
	// CORSOrigins lists allowed origins (default: none)
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is the log directory; empty logs to stderr
	Dir string `mapstructure:"dir" yaml:"dir,omitempty"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Backends: DefaultBackends(),
		Auth: AuthConfig{
			RefreshSkewSeconds:     300,
			CallbackTimeoutSeconds: 300,
			Interactive:            false,
			UseKeyring:             true,
		},
		Pool: PoolConfig{
			Strict:               false,
			MinClients:           2,
			HealthTimeoutSeconds: 30,
			CallTimeoutSeconds:   120,
		},
		Comparison: ComparisonConfig{
			SemanticThreshold: 0.9,
			ClusterThreshold:  0.3,
		},
		Consensus: ConsensusConfig{
			FullSemantic: 0.9,
			Near:         0.9,
			Partial:      0.5,
		},
		Convergence: ConvergenceConfig{
			WindowSize:      3,
			MinSlope:        0,
			StableTolerance: 0.05,
			Strategies:      ValidStrategies(),
		},
		Debate: DebateConfig{
			MaxRounds:         10,
			IncludeSelf:       true,
			MinAnalysisLength: 50,
		},
		Store: StoreConfig{
			Driver: "file",
			Minio: MinioConfig{
				Region: "us-east-1",
				Bucket: "concord-debates",
				UseSSL: true,
			},
		},
		Server: ServerConfig{
			Addr:        "127.0.0.1:8420",
			CORSOrigins: []string{},
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// DefaultBackends returns the stock backend set: ChatGPT Codex over OAuth,
// Gemini through its OpenAI-compatible endpoint, and the local claude CLI.
func DefaultBackends() []BackendConfig {
	return []BackendConfig{
		{
			Name:      "gpt",
			Kind:      "codex",
			Model:     "gpt-5-codex",
			Enabled:   true,
			MaxTokens: 4096,
			OAuth: OAuthConfig{
				Flow:         "browser",
				ClientID:     "app_EMoamEEZ73f0CkXaXp7hrann",
				AuthURL:      "https://auth.openai.com/oauth/authorize",
				TokenURL:     "https://auth.openai.com/oauth/token",
				RedirectPort: 1455,
				Scopes:       []string{"openid", "profile", "email", "offline_access"},
				ExtraParams: map[string]string{
					"id_token_add_organizations": "true",
					"codex_cli_simplified_flow":  "true",
					"originator":                 "codex_cli_rs",
				},
			},
		},
		{
			Name:      "gemini",
			Kind:      "gemini",
			Model:     "gemini-2.5-flash",
			Enabled:   true,
			APIKey:    "env:GEMINI_API_KEY",
			MaxTokens: 4096,
		},
		{
			Name:      "claude",
			Kind:      "claude",
			Model:     "claude-code-self",
			Enabled:   true,
			Command:   "claude",
			MaxTokens: 4096,
		},
	}
}

// RefreshSkew returns the refresh skew as a time.Duration
func (c *AuthConfig) RefreshSkew() time.Duration {
	return time.Duration(c.RefreshSkewSeconds) * time.Second
}

// CallbackTimeout returns the browser callback timeout as a time.Duration
func (c *AuthConfig) CallbackTimeout() time.Duration {
	return time.Duration(c.CallbackTimeoutSeconds) * time.Second
}

// HealthTimeout returns the per-probe timeout as a time.Duration
func (c *PoolConfig) HealthTimeout() time.Duration {
	return time.Duration(c.HealthTimeoutSeconds) * time.Second
}

// CallTimeout returns the per-call timeout as a time.Duration
func (c *PoolConfig) CallTimeout() time.Duration {
	return time.Duration(c.CallTimeoutSeconds) * time.Second
}

// ResolveAPIKey expands an "env:NAME" reference.
func (b *BackendConfig) ResolveAPIKey() string {
	if name, ok := strings.CutPrefix(b.APIKey, "env:"); ok {
		return os.Getenv(name)
	}
	return b.APIKey
}

// EnabledBackends returns the backends the pool should initialize. The
// claude kind is included only when IncludeSelf is set.
func (c *Config) EnabledBackends() []BackendConfig {
	var out []BackendConfig
	for _, b := range c.Backends {
		if !b.Enabled {
			continue
		}
		if b.Kind == "claude" && !c.Debate.IncludeSelf {
			continue
		}
		out = append(out, b)
	}
	return out
}

// SetDefaults registers default values with viper
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values with the given viper instance
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("backends", defaults.Backends)

	// Auth defaults
	v.SetDefault("auth.refresh_skew_seconds", defaults.Auth.RefreshSkewSeconds)
	v.SetDefault("auth.callback_timeout_seconds", defaults.Auth.CallbackTimeoutSeconds)
	v.SetDefault("auth.interactive", defaults.Auth.Interactive)
	v.SetDefault("auth.use_keyring", defaults.Auth.UseKeyring)
	v.SetDefault("auth.token_dir", defaults.Auth.TokenDir)

	// Pool defaults
	v.SetDefault("pool.strict", defaults.Pool.Strict)
	v.SetDefault("pool.min_clients", defaults.Pool.MinClients)
	v.SetDefault("pool.health_timeout_seconds", defaults.Pool.HealthTimeoutSeconds)
	v.SetDefault("pool.call_timeout_seconds", defaults.Pool.CallTimeoutSeconds)

	// Comparison and consensus defaults
	v.SetDefault("comparison.semantic_threshold", defaults.Comparison.SemanticThreshold)
	v.SetDefault("comparison.cluster_threshold", defaults.Comparison.ClusterThreshold)
	v.SetDefault("consensus.full_semantic", defaults.Consensus.FullSemantic)
	v.SetDefault("consensus.near", defaults.Consensus.Near)
	v.SetDefault("consensus.partial", defaults.Consensus.Partial)

	// Convergence defaults
	v.SetDefault("convergence.window_size", defaults.Convergence.WindowSize)
	v.SetDefault("convergence.min_slope", defaults.Convergence.MinSlope)
	v.SetDefault("convergence.stable_tolerance", defaults.Convergence.StableTolerance)
	v.SetDefault("convergence.strategies", defaults.Convergence.Strategies)

	// Debate defaults
	v.SetDefault("debate.max_rounds", defaults.Debate.MaxRounds)
	v.SetDefault("debate.include_self", defaults.Debate.IncludeSelf)
	v.SetDefault("debate.min_analysis_length", defaults.Debate.MinAnalysisLength)

	// Store defaults
	v.SetDefault("store.driver", defaults.Store.Driver)
	v.SetDefault("store.data_dir", defaults.Store.DataDir)
	v.SetDefault("store.dsn", defaults.Store.DSN)
	v.SetDefault("store.minio.endpoint", defaults.Store.Minio.Endpoint)
	v.SetDefault("store.minio.region", defaults.Store.Minio.Region)
	v.SetDefault("store.minio.bucket", defaults.Store.Minio.Bucket)
	v.SetDefault("store.minio.access_key", defaults.Store.Minio.AccessKey)
	v.SetDefault("store.minio.secret_key", defaults.Store.Minio.SecretKey)
	v.SetDefault("store.minio.use_ssl", defaults.Store.Minio.UseSSL)

	// Server defaults
	v.SetDefault("server.addr", defaults.Server.Addr)
	v.SetDefault("server.cors_origins", defaults.Server.CORSOrigins)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom is Load against an explicit viper instance.
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "concord")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".concord"
	}
	return filepath.Join(home, ".config", "concord")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ResolveTokenDir returns the encrypted token file directory.
func (c *AuthConfig) ResolveTokenDir() string {
	if c.TokenDir != "" {
		return c.TokenDir
	}
	return filepath.Join(ConfigDir(), "tokens")
}

// ResolveDataDir returns the file store root.
func (c *StoreConfig) ResolveDataDir() string {
	if c.DataDir != "" {
		return c.DataDir
	}
	return filepath.Join(ConfigDir(), "debates")
}
