package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

func signedJWT(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign jwt: %v", err)
	}
	return raw
}

func TestToken_Expiry(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		expiresAt   time.Time
		wantExpired bool
		wantRefresh bool
		refreshSkew time.Duration
	}{
		{"no expiry", time.Time{}, false, false, 5 * time.Minute},
		{"far future", now.Add(time.Hour), false, false, 5 * time.Minute},
		{"inside skew", now.Add(4 * time.Minute), false, true, 5 * time.Minute},
		{"exactly at skew", now.Add(5 * time.Minute), false, true, 5 * time.Minute},
		{"expired", now.Add(-time.Second), true, true, 5 * time.Minute},
		{"zero skew not expired", now.Add(time.Second), false, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tok := &Token{ExpiresAt: tt.expiresAt}
			if got := tok.Expired(now); got != tt.wantExpired {
				t.Errorf("Expired() = %v, want %v", got, tt.wantExpired)
			}
			if got := tok.NeedsRefresh(now, tt.refreshSkew); got != tt.wantRefresh {
				t.Errorf("NeedsRefresh() = %v, want %v", got, tt.wantRefresh)
			}
		})
	}
}

func TestToken_RateLimited(t *testing.T) {
	now := time.Now()
	tok := &Token{}
	if tok.RateLimited(now) {
		t.Error("RateLimited() = true with no marker")
	}
	tok.RateLimitedUntil = now.Add(time.Minute)
	if !tok.RateLimited(now) {
		t.Error("RateLimited() = false before the marker")
	}
	if tok.RateLimited(now.Add(2 * time.Minute)) {
		t.Error("RateLimited() = true after the marker")
	}
}

func TestFromOAuth2(t *testing.T) {
	exp := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	access := signedJWT(t, jwt.MapClaims{
		"exp": exp.Unix(),
		"https://api.openai.com/auth": map[string]any{
			"chatgpt_account_id": "acct-123",
		},
		"https://api.openai.com/profile": map[string]any{
			"email": "dev@example.com",
		},
	})

	raw := (&oauth2.Token{
		AccessToken:  access,
		RefreshToken: "refresh-1",
		TokenType:    "Bearer",
	}).WithExtra(map[string]any{"scope": "openid profile offline_access"})

	tok := FromOAuth2("gpt", raw)

	if tok.Provider != "gpt" || tok.RefreshToken != "refresh-1" {
		t.Errorf("unexpected token: %+v", tok)
	}
	if !tok.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v from exp claim", tok.ExpiresAt, exp)
	}
	if tok.AccountID != "acct-123" {
		t.Errorf("AccountID = %q, want acct-123", tok.AccountID)
	}
	if tok.Email != "dev@example.com" {
		t.Errorf("Email = %q", tok.Email)
	}
	if len(tok.Scope) != 3 || tok.Scope[2] != "offline_access" {
		t.Errorf("Scope = %v", tok.Scope)
	}
}

func TestFromOAuth2_OpaqueToken(t *testing.T) {
	expiry := time.Now().Add(time.Hour).Round(time.Second)
	tok := FromOAuth2("gemini", &oauth2.Token{AccessToken: "ya29.opaque", Expiry: expiry})

	if tok.AccessToken != "ya29.opaque" || !tok.ExpiresAt.Equal(expiry) {
		t.Errorf("unexpected token: %+v", tok)
	}
	if tok.AccountID != "" || tok.Email != "" {
		t.Errorf("opaque token should carry no account details: %+v", tok)
	}

	back := tok.OAuth2()
	if back.AccessToken != "ya29.opaque" || !back.Expiry.Equal(expiry) {
		t.Errorf("OAuth2() = %+v", back)
	}
}
