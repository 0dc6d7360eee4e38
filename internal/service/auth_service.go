package service

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arturoeanton/storefront-dashboard/internal/adapter/auth"
	"github.com/arturoeanton/storefront-dashboard/internal/domain"
	"github.com/arturoeanton/storefront-dashboard/internal/port"
)

// AuthService handles the login flow and keeps session credentials usable.
type AuthService struct {
	provider port.IdentityProvider
	manager  *TokenManager
	now      func() time.Time
}

// NewAuthService creates a new authentication service.
func NewAuthService(provider port.IdentityProvider, manager *TokenManager) *AuthService {
	return &AuthService{provider: provider, manager: manager, now: time.Now}
}

// GetAuthURL starts a login. The returned state must be stored client side and
// handed back to HandleCallback.
func (s *AuthService) GetAuthURL(returnTo string) (string, domain.LoginState) {
	verifier, challenge := auth.NewPKCE()
	state := domain.LoginState{
		State:    uuid.NewString(),
		Verifier: verifier,
		ReturnTo: returnTo,
	}
	return s.provider.AuthURL(state.State, challenge), state
}

// HandleCallback validates the returned state, exchanges the code and builds
// the session credential.
func (s *AuthService) HandleCallback(ctx context.Context, pending domain.LoginState, state, code string) (domain.SessionCredential, error) {
	if pending.State == "" || subtle.ConstantTimeCompare([]byte(pending.State), []byte(state)) != 1 {
		return domain.SessionCredential{}, port.ErrStateMismatch
	}

	tokens, err := s.provider.ExchangeCode(ctx, code, pending.Verifier)
	if err != nil {
		return domain.SessionCredential{}, fmt.Errorf("exchange code: %w", err)
	}

	profile, err := s.provider.Identify(ctx, tokens)
	if err != nil {
		return domain.SessionCredential{}, fmt.Errorf("identify: %w", err)
	}

	now := s.now()
	cred := domain.SessionCredential{
		AccessToken:  tokens.AccessToken,
		RefreshToken: tokens.RefreshToken,
		SubjectID:    profile.SubjectID,
		Email:        profile.Email,
		Name:         profile.Name,
		Provider:     s.provider.ProviderName(),
		IssuedAt:     now.Unix(),
	}
	if tokens.ExpiresIn > 0 {
		cred.AccessTokenExpiresAt = now.Unix() + int64(tokens.ExpiresIn)
	}

	// A new login supersedes whatever refresh state the subject had.
	s.manager.Forget(cred.SubjectID)

	slog.Info("user authenticated", "user_id", cred.SubjectID, "provider", cred.Provider)
	return cred, nil
}

// Resolve runs cred through the token manager. The returned credential is
// always the one to persist; the error says whether it may be used.
func (s *AuthService) Resolve(ctx context.Context, cred domain.SessionCredential) (domain.SessionCredential, error) {
	cred = s.manager.GetValidToken(ctx, cred)
	if cred.Failed() {
		return cred, port.ErrRefreshFailed
	}
	if cred.Expired(s.manager.now()) {
		return cred, port.ErrSessionExpired
	}
	return cred, nil
}

// TokenSource returns a token source that keeps cred fresh for background work.
func (s *AuthService) TokenSource(cred domain.SessionCredential) port.TokenSource {
	return NewSessionTokenSource(s.manager, cred)
}

// Logout drops the subject's refresh state.
func (s *AuthService) Logout(cred domain.SessionCredential) {
	if cred.SubjectID == "" {
		return
	}
	s.manager.Forget(cred.SubjectID)
	slog.Info("user logged out", "user_id", cred.SubjectID)
}
