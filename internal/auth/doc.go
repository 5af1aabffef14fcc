// Package auth obtains and keeps OAuth tokens for the debate backends.
//
// [OAuthProvider] runs the PKCE browser flow (with a single-use localhost
// callback server) or the device authorization grant, and refreshes tokens.
// [Store] persists them, preferring the OS keyring and falling back to
// AES-256-GCM encrypted files. [Manager] ties the two together: callers ask
// EnsureValid for a token and get one refreshed ahead of expiry, with
// concurrent refreshes for the same account collapsed into one.
//
// Re-authentication is bounded. A failed refresh surfaces as
// TokenExpiredError, or, when interactive login is allowed, triggers exactly
// one login whose failure surfaces as RetryLimitExceededError.
package auth
