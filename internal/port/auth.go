package port

import (
	"context"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
)

// TokenRefresher mints a new access token from a refresh token.
type TokenRefresher interface {
	RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
}

// IdentityProvider abstracts the OAuth2/OIDC identity provider the dashboard signs in against.
type IdentityProvider interface {
	TokenRefresher

	// ProviderName returns the name of this provider (e.g. "hydra").
	ProviderName() string

	// AuthURL returns the authorization URL for redirecting the user.
	// challenge is the S256 PKCE code challenge.
	AuthURL(state, challenge string) string

	// ExchangeCode exchanges an authorization code and its PKCE verifier for tokens.
	ExchangeCode(ctx context.Context, code, verifier string) (*domain.TokenPair, error)

	// Identify resolves the principal behind a token pair, from the id_token when
	// present and the userinfo endpoint otherwise.
	Identify(ctx context.Context, tokens *domain.TokenPair) (*domain.Profile, error)
}

// TokenSource yields a bearer token for upstream calls.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}
