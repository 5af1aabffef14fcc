package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	// Verify default pool config
	if cfg.Pool.Strict {
		t.Error("Pool.Strict should be false by default")
	}
	if cfg.Pool.MinClients != 2 {
		t.Errorf("Pool.MinClients = %d, want 2", cfg.Pool.MinClients)
	}

	// Verify default thresholds
	if cfg.Comparison.SemanticThreshold != 0.9 {
		t.Errorf("Comparison.SemanticThreshold = %v, want 0.9", cfg.Comparison.SemanticThreshold)
	}
	if cfg.Consensus.Partial != 0.5 {
		t.Errorf("Consensus.Partial = %v, want 0.5", cfg.Consensus.Partial)
	}

	// Verify default convergence config
	if cfg.Convergence.WindowSize != 3 {
		t.Errorf("Convergence.WindowSize = %d, want 3", cfg.Convergence.WindowSize)
	}
	if got := strings.Join(cfg.Convergence.Strategies, ","); got != "plain,mediated,scope_reduced,perspective_shift" {
		t.Errorf("Convergence.Strategies = %s", got)
	}

	// Verify default debate config
	if cfg.Debate.MaxRounds != 10 {
		t.Errorf("Debate.MaxRounds = %d, want 10", cfg.Debate.MaxRounds)
	}
	if !cfg.Debate.IncludeSelf {
		t.Error("Debate.IncludeSelf should be true by default")
	}

	if cfg.Store.Driver != "file" {
		t.Errorf("Store.Driver = %q, want file", cfg.Store.Driver)
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
}

func TestDefaultBackends(t *testing.T) {
	backends := DefaultBackends()

	kinds := make(map[string]string)
	for _, b := range backends {
		kinds[b.Name] = b.Kind
	}
	want := map[string]string{"gpt": "codex", "gemini": "gemini", "claude": "claude"}
	for name, kind := range want {
		if kinds[name] != kind {
			t.Errorf("backend %q kind = %q, want %q", name, kinds[name], kind)
		}
	}

	gpt := backends[0]
	if gpt.OAuth.Flow != "browser" || gpt.OAuth.RedirectPort != 1455 {
		t.Errorf("gpt oauth = %+v, want browser flow on 1455", gpt.OAuth)
	}
}

func TestDurationAccessors(t *testing.T) {
	auth := AuthConfig{RefreshSkewSeconds: 300, CallbackTimeoutSeconds: 60}
	if auth.RefreshSkew() != 5*time.Minute {
		t.Errorf("RefreshSkew() = %v, want 5m", auth.RefreshSkew())
	}
	if auth.CallbackTimeout() != time.Minute {
		t.Errorf("CallbackTimeout() = %v, want 1m", auth.CallbackTimeout())
	}

	pool := PoolConfig{HealthTimeoutSeconds: 30, CallTimeoutSeconds: 0}
	if pool.HealthTimeout() != 30*time.Second {
		t.Errorf("HealthTimeout() = %v, want 30s", pool.HealthTimeout())
	}
	if pool.CallTimeout() != 0 {
		t.Errorf("CallTimeout() = %v, want 0", pool.CallTimeout())
	}
}

func TestBackendConfig_ResolveAPIKey(t *testing.T) {
	t.Setenv("CONCORD_TEST_KEY", "from-env")

	tests := []struct {
		apiKey string
		want   string
	}{
		{"literal-key", "literal-key"},
		{"env:CONCORD_TEST_KEY", "from-env"},
		{"env:CONCORD_TEST_MISSING", ""},
		{"", ""},
	}

	for _, tt := range tests {
		b := BackendConfig{APIKey: tt.apiKey}
		if got := b.ResolveAPIKey(); got != tt.want {
			t.Errorf("ResolveAPIKey(%q) = %q, want %q", tt.apiKey, got, tt.want)
		}
	}
}

func TestConfig_EnabledBackends(t *testing.T) {
	cfg := Default()
	cfg.Backends[1].Enabled = false

	names := func(bs []BackendConfig) string {
		var out []string
		for _, b := range bs {
			out = append(out, b.Name)
		}
		return strings.Join(out, ",")
	}

	if got := names(cfg.EnabledBackends()); got != "gpt,claude" {
		t.Errorf("EnabledBackends() = %s, want gpt,claude", got)
	}

	cfg.Debate.IncludeSelf = false
	if got := names(cfg.EnabledBackends()); got != "gpt" {
		t.Errorf("EnabledBackends() without self = %s, want gpt", got)
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got := ConfigDir(); got != "/custom/config/concord" {
			t.Errorf("ConfigDir() = %q, want %q", got, "/custom/config/concord")
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		expected := filepath.Join(home, ".config", "concord")
		if got := ConfigDir(); got != expected {
			t.Errorf("ConfigDir() = %q, want %q", got, expected)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got := ConfigFile(); got != "/custom/config/concord/config.yaml" {
		t.Errorf("ConfigFile() = %q", got)
	}
}

func TestResolveDirs(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	auth := AuthConfig{}
	if got := auth.ResolveTokenDir(); got != "/custom/config/concord/tokens" {
		t.Errorf("ResolveTokenDir() = %q", got)
	}
	auth.TokenDir = "/tmp/tokens"
	if got := auth.ResolveTokenDir(); got != "/tmp/tokens" {
		t.Errorf("ResolveTokenDir() override = %q", got)
	}

	store := StoreConfig{}
	if got := store.ResolveDataDir(); got != "/custom/config/concord/debates" {
		t.Errorf("ResolveDataDir() = %q", got)
	}
}

func TestLoadFrom(t *testing.T) {
	v := viper.New()
	SetDefaultsOn(v)
	v.SetConfigType("yaml")
	yamlConfig := `
pool:
  strict: true
debate:
  max_rounds: 4
store:
  driver: postgres
  dsn: postgres://localhost/concord?sslmode=disable
`
	if err := v.ReadConfig(strings.NewReader(yamlConfig)); err != nil {
		t.Fatalf("ReadConfig() error = %v", err)
	}

	cfg, err := LoadFrom(v)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if !cfg.Pool.Strict {
		t.Error("Pool.Strict = false, want true from file")
	}
	if cfg.Pool.MinClients != 2 {
		t.Errorf("Pool.MinClients = %d, want default 2", cfg.Pool.MinClients)
	}
	if cfg.Debate.MaxRounds != 4 {
		t.Errorf("Debate.MaxRounds = %d, want 4", cfg.Debate.MaxRounds)
	}
	if cfg.Store.Driver != "postgres" {
		t.Errorf("Store.Driver = %q, want postgres", cfg.Store.Driver)
	}
	if len(cfg.Backends) != 3 {
		t.Errorf("len(Backends) = %d, want 3 defaults", len(cfg.Backends))
	}
}

func TestLoadFrom_Invalid(t *testing.T) {
	v := viper.New()
	SetDefaultsOn(v)
	v.Set("debate.max_rounds", 0)
	v.Set("store.driver", "redis")

	_, err := LoadFrom(v)
	if err == nil {
		t.Fatal("LoadFrom() expected validation error")
	}
	verrs, ok := err.(ValidationErrors)
	if !ok {
		t.Fatalf("LoadFrom() error type = %T, want ValidationErrors", err)
	}
	if len(verrs) != 2 {
		t.Errorf("len(errors) = %d, want 2: %v", len(verrs), verrs)
	}
}

func TestGet(t *testing.T) {
	// Set defaults in viper first (normally done by cmd init)
	SetDefaults()

	cfg := Get()
	if cfg == nil {
		t.Fatal("Get() returned nil")
	}
	if cfg.Debate.MaxRounds != 10 {
		t.Errorf("Get().Debate.MaxRounds = %d, want 10", cfg.Debate.MaxRounds)
	}
}
