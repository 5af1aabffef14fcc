package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("Default config should be valid, got errors: %v", errs)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "bad backend name",
			mutate:    func(c *Config) { c.Backends[0].Name = "GPT 5" },
			wantField: "backends[0].name",
		},
		{
			name:      "duplicate backend name",
			mutate:    func(c *Config) { c.Backends[1].Name = "gpt" },
			wantField: "backends[1].name",
		},
		{
			name:      "unknown kind",
			mutate:    func(c *Config) { c.Backends[2].Kind = "llama" },
			wantField: "backends[2].kind",
		},
		{
			name:      "unknown oauth flow",
			mutate:    func(c *Config) { c.Backends[0].OAuth.Flow = "implicit" },
			wantField: "backends[0].oauth.flow",
		},
		{
			name:      "browser flow without auth url",
			mutate:    func(c *Config) { c.Backends[0].OAuth.AuthURL = "" },
			wantField: "backends[0].oauth.auth_url",
		},
		{
			name: "device flow without device url",
			mutate: func(c *Config) {
				c.Backends[1].OAuth = OAuthConfig{Flow: "device", ClientID: "id", TokenURL: "https://example.com/token"}
			},
			wantField: "backends[1].oauth.device_auth_url",
		},
		{
			name:      "callback timeout zero",
			mutate:    func(c *Config) { c.Auth.CallbackTimeoutSeconds = 0 },
			wantField: "auth.callback_timeout_seconds",
		},
		{
			name:      "min clients zero",
			mutate:    func(c *Config) { c.Pool.MinClients = 0 },
			wantField: "pool.min_clients",
		},
		{
			name:      "threshold above one",
			mutate:    func(c *Config) { c.Comparison.SemanticThreshold = 1.2 },
			wantField: "comparison.semantic_threshold",
		},
		{
			name:      "partial above near",
			mutate:    func(c *Config) { c.Consensus.Partial = 0.95 },
			wantField: "consensus.partial",
		},
		{
			name:      "window too small",
			mutate:    func(c *Config) { c.Convergence.WindowSize = 1 },
			wantField: "convergence.window_size",
		},
		{
			name:      "unknown strategy",
			mutate:    func(c *Config) { c.Convergence.Strategies = []string{"plain", "coinflip"} },
			wantField: "convergence.strategies",
		},
		{
			name:      "duplicate strategy",
			mutate:    func(c *Config) { c.Convergence.Strategies = []string{"plain", "plain"} },
			wantField: "convergence.strategies",
		},
		{
			name:      "max rounds above limit",
			mutate:    func(c *Config) { c.Debate.MaxRounds = 101 },
			wantField: "debate.max_rounds",
		},
		{
			name:      "mysql without dsn",
			mutate:    func(c *Config) { c.Store.Driver = "mysql" },
			wantField: "store.dsn",
		},
		{
			name:      "minio without endpoint",
			mutate:    func(c *Config) { c.Store.Driver = "minio" },
			wantField: "store.minio.endpoint",
		},
		{
			name:      "bad log level",
			mutate:    func(c *Config) { c.Logging.Level = "verbose" },
			wantField: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			if len(errs) != 1 {
				t.Fatalf("Validate() returned %d errors, want 1: %v", len(errs), errs)
			}
			if errs[0].Field != tt.wantField {
				t.Errorf("Field = %q, want %q", errs[0].Field, tt.wantField)
			}
		})
	}
}

func TestValidStoreDrivers(t *testing.T) {
	drivers := ValidStoreDrivers()
	for _, want := range []string{"file", "minio", "mysql", "postgres"} {
		found := false
		for _, d := range drivers {
			if d == want {
				found = true
			}
		}
		if !found {
			t.Errorf("ValidStoreDrivers() missing %q", want)
		}
	}
}
