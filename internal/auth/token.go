package auth

import (
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// Token is the credential set held for one backend account.
type Token struct {
	Provider         string    `json:"provider"`
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token,omitempty"`
	TokenType        string    `json:"token_type,omitempty"`
	ExpiresAt        time.Time `json:"expires_at"`
	Scope            []string  `json:"scope,omitempty"`
	RateLimitedUntil time.Time `json:"rate_limited_until,omitzero"`
	AccountID        string    `json:"account_id,omitempty"`
	Email            string    `json:"email,omitempty"`
}

// Expired reports whether the access token is past its expiry.
// Tokens without an expiry never expire.
func (t *Token) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt)
}

// NeedsRefresh reports whether the token expires within skew of now.
func (t *Token) NeedsRefresh(now time.Time, skew time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Add(skew).Before(t.ExpiresAt)
}

// RateLimited reports whether the backend asked us to back off until later.
func (t *Token) RateLimited(now time.Time) bool {
	return !t.RateLimitedUntil.IsZero() && now.Before(t.RateLimitedUntil)
}

// OAuth2 converts the token for use with golang.org/x/oauth2.
func (t *Token) OAuth2() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  t.AccessToken,
		TokenType:    t.TokenType,
		RefreshToken: t.RefreshToken,
		Expiry:       t.ExpiresAt,
	}
}

// FromOAuth2 builds a Token from an oauth2 exchange result. Account details
// are read from the id_token or access token claims when they are JWTs.
func FromOAuth2(provider string, tok *oauth2.Token) *Token {
	out := &Token{
		Provider:     provider,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		out.Scope = strings.Fields(scope)
	}

	if idToken, ok := tok.Extra("id_token").(string); ok {
		applyClaims(out, idToken)
	}
	applyClaims(out, tok.AccessToken)
	return out
}

// applyClaims fills account fields from an unverified JWT. Tokens that are
// not JWTs are ignored. Signatures are not checked; the values are only
// used as request headers for the same provider that issued them.
func applyClaims(t *Token, raw string) {
	if strings.Count(raw, ".") != 2 {
		return
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return
	}

	if t.ExpiresAt.IsZero() {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			t.ExpiresAt = exp.Time
		}
	}
	if t.Email == "" {
		if email, ok := claims["email"].(string); ok {
			t.Email = email
		} else if profile, ok := claims["https://api.openai.com/profile"].(map[string]any); ok {
			if email, ok := profile["email"].(string); ok {
				t.Email = email
			}
		}
	}
	if t.AccountID == "" {
		if info, ok := claims["https://api.openai.com/auth"].(map[string]any); ok {
			if id, ok := info["chatgpt_account_id"].(string); ok {
				t.AccountID = id
			}
		}
	}
}
