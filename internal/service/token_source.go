package service

import (
	"context"
	"sync"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
	"github.com/arturoeanton/storefront-dashboard/internal/port"
)

// StaticToken is a TokenSource with a fixed bearer token, used by the CLI.
type StaticToken string

// Token returns the token itself.
func (s StaticToken) Token(context.Context) (string, error) {
	if s == "" {
		return "", port.ErrUnauthorized
	}
	return string(s), nil
}

// SessionTokenSource yields the access token of a session credential, running it
// through the TokenManager on every call so long-lived pollers keep a fresh token.
type SessionTokenSource struct {
	manager *TokenManager

	mu   sync.Mutex
	cred domain.SessionCredential
}

// NewSessionTokenSource creates a token source bound to cred.
func NewSessionTokenSource(manager *TokenManager, cred domain.SessionCredential) *SessionTokenSource {
	return &SessionTokenSource{manager: manager, cred: cred}
}

// Token returns a valid access token or ErrRefreshFailed / ErrSessionExpired.
func (s *SessionTokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	cred := s.cred
	s.mu.Unlock()

	cred = s.manager.GetValidToken(ctx, cred)

	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()

	if cred.Failed() {
		return "", port.ErrRefreshFailed
	}
	if cred.Expired(s.manager.now()) {
		return "", port.ErrSessionExpired
	}
	return cred.AccessToken, nil
}
