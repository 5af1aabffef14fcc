package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "pool.min_clients")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// backendNameRegex validates backend registration keys.
// Names are used in file paths and object keys.
var backendNameRegex = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidBackendKinds returns the list of supported client implementations
func ValidBackendKinds() []string {
	return []string{"openai", "codex", "gemini", "claude"}
}

// ValidOAuthFlows returns the list of supported login flows
func ValidOAuthFlows() []string {
	return []string{"", "browser", "device"}
}

// ValidStrategies returns the default strategy rotation order
func ValidStrategies() []string {
	return []string{"plain", "mediated", "scope_reduced", "perspective_shift"}
}

// ValidStoreDrivers returns the list of context store drivers
func ValidStoreDrivers() []string {
	return []string{"none", "file", "minio", "mysql", "postgres"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateBackends()...)
	errors = append(errors, c.validateAuth()...)
	errors = append(errors, c.validatePool()...)
	errors = append(errors, c.validateThresholds()...)
	errors = append(errors, c.validateConvergence()...)
	errors = append(errors, c.validateDebate()...)
	errors = append(errors, c.validateStore()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateBackends validates the backend list
func (c *Config) validateBackends() []ValidationError {
	var errors []ValidationError
	seen := make(map[string]bool)

	for i, b := range c.Backends {
		prefix := fmt.Sprintf("backends[%d]", i)

		if !backendNameRegex.MatchString(b.Name) {
			errors = append(errors, ValidationError{
				Field:   prefix + ".name",
				Value:   b.Name,
				Message: "must start with a lowercase letter and contain only lowercase letters, digits, hyphens, and underscores",
			})
		} else if seen[b.Name] {
			errors = append(errors, ValidationError{
				Field:   prefix + ".name",
				Value:   b.Name,
				Message: "duplicate backend name",
			})
		}
		seen[b.Name] = true

		if !slices.Contains(ValidBackendKinds(), b.Kind) {
			errors = append(errors, ValidationError{
				Field:   prefix + ".kind",
				Value:   b.Kind,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidBackendKinds(), ", ")),
			})
		}

		if b.MaxTokens < 0 {
			errors = append(errors, ValidationError{
				Field:   prefix + ".max_tokens",
				Value:   b.MaxTokens,
				Message: "must be non-negative",
			})
		}

		errors = append(errors, validateOAuth(prefix+".oauth", b.OAuth)...)
	}

	return errors
}

// validateOAuth validates one backend's OAuth block
func validateOAuth(prefix string, o OAuthConfig) []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidOAuthFlows(), o.Flow) {
		errors = append(errors, ValidationError{
			Field:   prefix + ".flow",
			Value:   o.Flow,
			Message: "must be one of: browser, device (or empty)",
		})
		return errors
	}
	if o.Flow == "" {
		return errors
	}

	if o.ClientID == "" {
		errors = append(errors, ValidationError{
			Field:   prefix + ".client_id",
			Value:   o.ClientID,
			Message: "required when an OAuth flow is set",
		})
	}
	if o.TokenURL == "" {
		errors = append(errors, ValidationError{
			Field:   prefix + ".token_url",
			Value:   o.TokenURL,
			Message: "required when an OAuth flow is set",
		})
	}

	switch o.Flow {
	case "browser":
		if o.AuthURL == "" {
			errors = append(errors, ValidationError{
				Field:   prefix + ".auth_url",
				Value:   o.AuthURL,
				Message: "required for the browser flow",
			})
		}
		if o.RedirectPort < 0 || o.RedirectPort > 65535 {
			errors = append(errors, ValidationError{
				Field:   prefix + ".redirect_port",
				Value:   o.RedirectPort,
				Message: "must be between 0 and 65535",
			})
		}
	case "device":
		if o.DeviceAuthURL == "" {
			errors = append(errors, ValidationError{
				Field:   prefix + ".device_auth_url",
				Value:   o.DeviceAuthURL,
				Message: "required for the device flow",
			})
		}
	}

	return errors
}

// validateAuth validates the AuthConfig
func (c *Config) validateAuth() []ValidationError {
	var errors []ValidationError

	if c.Auth.RefreshSkewSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "auth.refresh_skew_seconds",
			Value:   c.Auth.RefreshSkewSeconds,
			Message: "must be non-negative",
		})
	}
	if c.Auth.CallbackTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "auth.callback_timeout_seconds",
			Value:   c.Auth.CallbackTimeoutSeconds,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validatePool validates the PoolConfig
func (c *Config) validatePool() []ValidationError {
	var errors []ValidationError

	if c.Pool.MinClients < 1 {
		errors = append(errors, ValidationError{
			Field:   "pool.min_clients",
			Value:   c.Pool.MinClients,
			Message: "must be at least 1",
		})
	}
	if c.Pool.HealthTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "pool.health_timeout_seconds",
			Value:   c.Pool.HealthTimeoutSeconds,
			Message: "must be at least 1",
		})
	}
	if c.Pool.CallTimeoutSeconds < 1 {
		errors = append(errors, ValidationError{
			Field:   "pool.call_timeout_seconds",
			Value:   c.Pool.CallTimeoutSeconds,
			Message: "must be at least 1",
		})
	}

	return errors
}

// validateThresholds validates the comparison and consensus thresholds
func (c *Config) validateThresholds() []ValidationError {
	var errors []ValidationError

	ratios := []struct {
		field string
		value float64
	}{
		{"comparison.semantic_threshold", c.Comparison.SemanticThreshold},
		{"comparison.cluster_threshold", c.Comparison.ClusterThreshold},
		{"consensus.full_semantic", c.Consensus.FullSemantic},
		{"consensus.near", c.Consensus.Near},
		{"consensus.partial", c.Consensus.Partial},
	}
	for _, r := range ratios {
		if r.value < 0 || r.value > 1 {
			errors = append(errors, ValidationError{
				Field:   r.field,
				Value:   r.value,
				Message: "must be between 0 and 1",
			})
		}
	}

	if c.Consensus.Partial > c.Consensus.Near {
		errors = append(errors, ValidationError{
			Field:   "consensus.partial",
			Value:   c.Consensus.Partial,
			Message: fmt.Sprintf("must not exceed consensus.near (%v)", c.Consensus.Near),
		})
	}

	return errors
}

// validateConvergence validates the ConvergenceConfig
func (c *Config) validateConvergence() []ValidationError {
	var errors []ValidationError

	if c.Convergence.WindowSize < 2 {
		errors = append(errors, ValidationError{
			Field:   "convergence.window_size",
			Value:   c.Convergence.WindowSize,
			Message: "must be at least 2 to fit a trend",
		})
	}
	if c.Convergence.StableTolerance < 0 {
		errors = append(errors, ValidationError{
			Field:   "convergence.stable_tolerance",
			Value:   c.Convergence.StableTolerance,
			Message: "must be non-negative",
		})
	}
	if len(c.Convergence.Strategies) == 0 {
		errors = append(errors, ValidationError{
			Field:   "convergence.strategies",
			Value:   c.Convergence.Strategies,
			Message: "must list at least one strategy",
		})
	}
	seen := make(map[string]bool)
	for _, s := range c.Convergence.Strategies {
		if !slices.Contains(ValidStrategies(), s) {
			errors = append(errors, ValidationError{
				Field:   "convergence.strategies",
				Value:   s,
				Message: fmt.Sprintf("unknown strategy, must be one of: %s", strings.Join(ValidStrategies(), ", ")),
			})
			continue
		}
		if seen[s] {
			errors = append(errors, ValidationError{
				Field:   "convergence.strategies",
				Value:   s,
				Message: "strategy listed more than once",
			})
		}
		seen[s] = true
	}

	return errors
}

// validateDebate validates the DebateConfig
func (c *Config) validateDebate() []ValidationError {
	var errors []ValidationError

	const maxRoundsLimit = 100
	if c.Debate.MaxRounds < 1 {
		errors = append(errors, ValidationError{
			Field:   "debate.max_rounds",
			Value:   c.Debate.MaxRounds,
			Message: "must be at least 1",
		})
	}
	if c.Debate.MaxRounds > maxRoundsLimit {
		errors = append(errors, ValidationError{
			Field:   "debate.max_rounds",
			Value:   c.Debate.MaxRounds,
			Message: fmt.Sprintf("exceeds maximum of %d", maxRoundsLimit),
		})
	}
	if c.Debate.MinAnalysisLength < 0 {
		errors = append(errors, ValidationError{
			Field:   "debate.min_analysis_length",
			Value:   c.Debate.MinAnalysisLength,
			Message: "must be non-negative",
		})
	}

	return errors
}

// validateStore validates the StoreConfig
func (c *Config) validateStore() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidStoreDrivers(), c.Store.Driver) {
		errors = append(errors, ValidationError{
			Field:   "store.driver",
			Value:   c.Store.Driver,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStoreDrivers(), ", ")),
		})
		return errors
	}

	switch c.Store.Driver {
	case "mysql", "postgres":
		if c.Store.DSN == "" {
			errors = append(errors, ValidationError{
				Field:   "store.dsn",
				Value:   c.Store.DSN,
				Message: fmt.Sprintf("required for the %s driver", c.Store.Driver),
			})
		}
	case "minio":
		if c.Store.Minio.Endpoint == "" {
			errors = append(errors, ValidationError{
				Field:   "store.minio.endpoint",
				Value:   c.Store.Minio.Endpoint,
				Message: "required for the minio driver",
			})
		}
		if c.Store.Minio.Bucket == "" {
			errors = append(errors, ValidationError{
				Field:   "store.minio.bucket",
				Value:   c.Store.Minio.Bucket,
				Message: "required for the minio driver",
			})
		}
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}
	if c.Logging.MaxSizeMB < 1 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be at least 1",
		})
	}
	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
