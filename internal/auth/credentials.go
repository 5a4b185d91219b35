package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// CredentialSource supplies the bearer credential presented to the match API.
type CredentialSource interface {
	Credential(ctx context.Context) (string, error)
}

// StaticCredential is a fixed, pre-issued token.
type StaticCredential string

// Credential implements CredentialSource.
func (s StaticCredential) Credential(context.Context) (string, error) {
	if s == "" {
		return "", ErrMissingToken
	}
	return string(s), nil
}

// TokenMinter mints service tokens with a shared secret and reuses each one
// until it is close to expiry.
type TokenMinter struct {
	mgr     *JWTManager
	subject string
	ttl     time.Duration
	leeway  time.Duration

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTokenMinter creates a minter issuing service-role tokens for subject.
func NewTokenMinter(mgr *JWTManager, subject string) *TokenMinter {
	ttl := mgr.AccessExpiry()
	return &TokenMinter{
		mgr:     mgr,
		subject: subject,
		ttl:     ttl,
		leeway:  ttl / 5,
	}
}

// Credential implements CredentialSource.
func (m *TokenMinter) Credential(context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.mgr.now()
	if m.token != "" && now.Before(m.expires.Add(-m.leeway)) {
		return m.token, nil
	}
	token, err := m.mgr.GenerateToken(m.subject, RoleService, m.ttl)
	if err != nil {
		return "", fmt.Errorf("mint service token: %w", err)
	}
	m.token = token
	m.expires = now.Add(m.ttl)
	return token, nil
}

// OAuth2Credential obtains tokens from an OAuth2 client-credentials endpoint.
// The underlying token source caches tokens until they expire.
type OAuth2Credential struct {
	src oauth2.TokenSource
}

// NewOAuth2Credential creates a client-credentials source. ctx scopes the
// HTTP client used for token requests and should outlive the source.
func NewOAuth2Credential(ctx context.Context, tokenURL, clientID, clientSecret string, scopes ...string) *OAuth2Credential {
	cfg := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     tokenURL,
		Scopes:       scopes,
	}
	return &OAuth2Credential{src: cfg.TokenSource(ctx)}
}

// Credential implements CredentialSource.
func (c *OAuth2Credential) Credential(context.Context) (string, error) {
	tok, err := c.src.Token()
	if err != nil {
		return "", fmt.Errorf("oauth token: %w", err)
	}
	return tok.AccessToken, nil
}
