// Package errors provides centralized error definitions and error handling utilities
// for concord. It defines the authentication error hierarchy, the client and
// validation errors raised while running a debate, error constructors with
// context wrapping, and error classification helpers.
//
// # Error Types
//
// Authentication errors form a hierarchy rooted at AuthenticationError:
//   - TokenExpiredError: the stored token expired and could not be refreshed
//   - TokenNotFoundError: no token is stored for the provider
//   - OAuthError: an OAuth flow failed (carries provider and error code)
//   - RetryLimitExceededError: re-authentication was attempted and failed
//
// Every authentication error matches *AuthenticationError with errors.As-style
// checks through errors.Is(err, &AuthenticationError{}).
//
// Run-level errors:
//   - NoAvailableClientsError: no usable backend remains under the current mode
//   - ValidationError: a backend response or configuration value is invalid
//   - TimeoutError: operation timed out
//   - NotFoundError: resource not found
//
// # Usage
//
//	err := errors.NewOAuthError("openai", "access_denied", "user denied consent")
//	if errors.IsAuthError(err) { ... }
//
//	var limit *errors.RetryLimitExceededError
//	if errors.As(err, &limit) { fmt.Println(limit.Attempts) }
//
// # Error Classification
//
// Errors can be classified by severity and behavior:
//   - Retryable: transient errors that may succeed on retry
//   - UserFacing: errors safe to display to users (vs internal errors)
//   - Severity: Debug, Info, Warning, Error, Critical
package errors

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Authentication sentinel errors
var (
	// ErrTokenExpired indicates that an access token expired and refresh failed.
	ErrTokenExpired = New("token expired")
	// ErrTokenNotFound indicates that no token is stored for a provider.
	ErrTokenNotFound = New("token not found")
	// ErrOAuthFlow indicates that an OAuth flow failed.
	ErrOAuthFlow = New("oauth flow failed")
	// ErrRetryLimitExceeded indicates that re-authentication was exhausted.
	ErrRetryLimitExceeded = New("authentication retry limit exceeded")
	// ErrUnauthorized indicates that a backend rejected the credentials.
	ErrUnauthorized = New("unauthorized")
)

// Run sentinel errors
var (
	// ErrNoAvailableClients indicates that no backend can participate.
	ErrNoAvailableClients = New("no available clients")
	// ErrInvalidResponse indicates that a backend response failed validation.
	ErrInvalidResponse = New("invalid backend response")
	// ErrRunInProgress indicates that a run is already active on an orchestrator.
	ErrRunInProgress = New("run already in progress")
	// ErrRunNotFound indicates that a run could not be found.
	ErrRunNotFound = New("run not found")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrCanceled indicates that an operation was canceled.
	ErrCanceled = New("operation canceled")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// ConcordError is the base interface for all concord errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type ConcordError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *baseError) Unwrap() error { return e.cause }

func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

func (e *baseError) Severity() Severity { return e.severity }

func (e *baseError) IsRetryable() bool { return e.retryable }

func (e *baseError) IsUserFacing() bool { return e.userFacing }

// format renders "<kind> [k=v, ...]: message: cause".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Authentication Errors
// -----------------------------------------------------------------------------

// AuthenticationError is the base authentication error. All other
// authentication errors match it through errors.Is.
//
// Example:
//
//	err := errors.NewAuthenticationError("openai", "login required", nil)
//	fmt.Println(err) // "authentication error [provider=openai]: login required"
type AuthenticationError struct {
	baseError
	Provider string
}

// NewAuthenticationError creates a new AuthenticationError.
func NewAuthenticationError(provider, message string, cause error) *AuthenticationError {
	return &AuthenticationError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			userFacing: true,
		},
		Provider: provider,
	}
}

func (e *AuthenticationError) providerParts() []string {
	if e.Provider == "" {
		return nil
	}
	return []string{"provider=" + e.Provider}
}

// Error returns the formatted error message.
func (e *AuthenticationError) Error() string {
	return e.format("authentication error", e.providerParts())
}

// Is checks if this error matches the target.
func (e *AuthenticationError) Is(target error) bool {
	if _, ok := target.(*AuthenticationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TokenExpiredError indicates the stored token is expired and could not be
// refreshed.
type TokenExpiredError struct {
	AuthenticationError
	ExpiredAt time.Time
}

// NewTokenExpiredError creates a new TokenExpiredError.
func NewTokenExpiredError(provider string, expiredAt time.Time, cause error) *TokenExpiredError {
	e := &TokenExpiredError{
		AuthenticationError: *NewAuthenticationError(provider, "token expired and refresh failed", cause),
		ExpiredAt:           expiredAt,
	}
	return e
}

// Error returns the formatted error message.
func (e *TokenExpiredError) Error() string {
	parts := e.providerParts()
	if !e.ExpiredAt.IsZero() {
		parts = append(parts, "expired_at="+e.ExpiredAt.UTC().Format(time.RFC3339))
	}
	return e.format("token expired", parts)
}

// Is checks if this error matches the target.
func (e *TokenExpiredError) Is(target error) bool {
	switch target.(type) {
	case *TokenExpiredError, *AuthenticationError:
		return true
	}
	if target == ErrTokenExpired {
		return true
	}
	return e.baseError.Is(target)
}

// TokenNotFoundError indicates that no token is stored for a provider.
type TokenNotFoundError struct {
	AuthenticationError
}

// NewTokenNotFoundError creates a new TokenNotFoundError.
func NewTokenNotFoundError(provider string) *TokenNotFoundError {
	e := &TokenNotFoundError{
		AuthenticationError: *NewAuthenticationError(provider, "no stored token, login required", nil),
	}
	e.severity = SeverityWarning
	return e
}

// Error returns the formatted error message.
func (e *TokenNotFoundError) Error() string {
	return e.format("token not found", e.providerParts())
}

// Is checks if this error matches the target.
func (e *TokenNotFoundError) Is(target error) bool {
	switch target.(type) {
	case *TokenNotFoundError, *AuthenticationError:
		return true
	}
	if target == ErrTokenNotFound {
		return true
	}
	return e.baseError.Is(target)
}

// OAuthError represents a failed OAuth flow: a denied consent, a bad callback,
// a state mismatch or a timeout waiting for the redirect.
//
// Example:
//
//	err := errors.NewOAuthError("google", "timeout", "no callback received")
//	fmt.Println(err) // "oauth error [provider=google, code=timeout]: no callback received"
type OAuthError struct {
	AuthenticationError
	Code string
}

// NewOAuthError creates a new OAuthError.
func NewOAuthError(provider, code, message string) *OAuthError {
	return &OAuthError{
		AuthenticationError: *NewAuthenticationError(provider, message, nil),
		Code:                code,
	}
}

// WithCause adds a cause to the error.
func (e *OAuthError) WithCause(cause error) *OAuthError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *OAuthError) Error() string {
	parts := e.providerParts()
	if e.Code != "" {
		parts = append(parts, "code="+e.Code)
	}
	return e.format("oauth error", parts)
}

// Is checks if this error matches the target.
func (e *OAuthError) Is(target error) bool {
	switch target.(type) {
	case *OAuthError, *AuthenticationError:
		return true
	}
	if target == ErrOAuthFlow {
		return true
	}
	return e.baseError.Is(target)
}

// RetryLimitExceededError is raised after exactly one failed re-authentication.
type RetryLimitExceededError struct {
	AuthenticationError
	Attempts   int
	MaxRetries int
}

// NewRetryLimitExceededError creates a new RetryLimitExceededError.
func NewRetryLimitExceededError(provider string, attempts int, cause error) *RetryLimitExceededError {
	return &RetryLimitExceededError{
		AuthenticationError: *NewAuthenticationError(provider, "authentication failed after re-login, run 'concord auth login "+provider+"'", cause),
		Attempts:            attempts,
		MaxRetries:          1,
	}
}

// Error returns the formatted error message.
func (e *RetryLimitExceededError) Error() string {
	parts := append(e.providerParts(), fmt.Sprintf("attempts=%d", e.Attempts))
	return e.format("retry limit exceeded", parts)
}

// Is checks if this error matches the target.
func (e *RetryLimitExceededError) Is(target error) bool {
	switch target.(type) {
	case *RetryLimitExceededError, *AuthenticationError:
		return true
	}
	if target == ErrRetryLimitExceeded {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Run Errors
// -----------------------------------------------------------------------------

// NoAvailableClientsError is raised when no backend can take part in a run
// under the current mode. Failures maps every attempted backend to the reason
// it was excluded.
type NoAvailableClientsError struct {
	baseError
	Failures map[string]string
	Strict   bool
}

// NewNoAvailableClientsError creates a new NoAvailableClientsError.
func NewNoAvailableClientsError(strict bool, failures map[string]string) *NoAvailableClientsError {
	copied := make(map[string]string, len(failures))
	for k, v := range failures {
		copied[k] = v
	}
	return &NoAvailableClientsError{
		baseError: baseError{
			message:    "no usable backends remain",
			severity:   SeverityCritical,
			userFacing: true,
		},
		Failures: copied,
		Strict:   strict,
	}
}

// Backends returns the failed backend names in sorted order.
func (e *NoAvailableClientsError) Backends() []string {
	names := make([]string, 0, len(e.Failures))
	for name := range e.Failures {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Error returns the formatted error message.
func (e *NoAvailableClientsError) Error() string {
	var parts []string
	if e.Strict {
		parts = append(parts, "strict=true")
	}
	msg := e.format("no available clients", parts)
	if len(e.Failures) == 0 {
		return msg
	}
	details := make([]string, 0, len(e.Failures))
	for _, name := range e.Backends() {
		details = append(details, fmt.Sprintf("%s: %s", name, e.Failures[name]))
	}
	return fmt.Sprintf("%s (%s)", msg, strings.Join(details, "; "))
}

// Is checks if this error matches the target.
func (e *NoAvailableClientsError) Is(target error) bool {
	if _, ok := target.(*NoAvailableClientsError); ok {
		return true
	}
	if target == ErrNoAvailableClients {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input, configuration or backend output.
//
// Example:
//
//	err := errors.NewValidationError("confidence out of range")
//	err = err.WithField("confidence").WithValue(1.4).WithBackend("gemini")
type ValidationError struct {
	baseError
	Field   string
	Value   any
	Backend string
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// WithBackend adds the backend whose response failed validation.
func (e *ValidationError) WithBackend(backend string) *ValidationError {
	e.Backend = backend
	return e
}

// WithCause adds a cause to the error.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Backend != "" {
		parts = append(parts, "backend="+e.Backend)
	}
	if e.Field != "" {
		parts = append(parts, "field="+e.Field)
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}
	return e.format("validation error", parts)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	if target == ErrInvalidInput || target == ErrInvalidResponse {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("health check gemini", 30*time.Second)
//	fmt.Println(err) // "timeout error: health check gemini (timeout: 30s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// WithCause adds a cause to the error.
func (e *TimeoutError) WithCause(cause error) *TimeoutError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	base := fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", base, e.cause)
	}
	return base
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if target == ErrTimeout {
		return true
	}
	return e.baseError.Is(target)
}

// NotFoundError represents a resource that could not be found.
type NotFoundError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(resourceType, resourceID string) *NotFoundError {
	return &NotFoundError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' not found", resourceType, resourceID),
			severity:   SeverityWarning,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// Error returns the formatted error message.
func (e *NotFoundError) Error() string { return e.baseError.Error() }

// Is checks if this error matches the target.
func (e *NotFoundError) Is(target error) bool {
	if _, ok := target.(*NotFoundError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var concordErr ConcordError
	if As(err, &concordErr) {
		return concordErr.IsRetryable()
	}
	return Is(err, ErrTimeout)
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	var concordErr ConcordError
	if As(err, &concordErr) {
		return concordErr.IsUserFacing()
	}
	return false
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement ConcordError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}
	var concordErr ConcordError
	if As(err, &concordErr) {
		return concordErr.Severity()
	}
	return SeverityError
}

// IsAuthError returns true if err belongs to the authentication hierarchy.
func IsAuthError(err error) bool {
	if err == nil {
		return false
	}
	return Is(err, &AuthenticationError{})
}

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
