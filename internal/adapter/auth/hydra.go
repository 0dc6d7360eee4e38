package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
	"github.com/arturoeanton/storefront-dashboard/internal/port"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

const (
	hydraAuthPath     = "/oauth2/auth"
	hydraTokenPath    = "/oauth2/token"
	hydraUserinfoPath = "/userinfo"
)

// TokenError is returned when the token endpoint answers with a non-2xx status.
type TokenError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

func (e *TokenError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("token endpoint returned %d", e.StatusCode)
	}
	if e.Description == "" {
		return fmt.Sprintf("token endpoint returned %d: %s", e.StatusCode, e.Code)
	}
	return fmt.Sprintf("token endpoint returned %d: %s (%s)", e.StatusCode, e.Code, e.Description)
}

// HydraConfig holds the OAuth2 client registration at the identity provider.
type HydraConfig struct {
	Issuer       string // e.g. http://127.0.0.1:8080
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	Timeout      time.Duration
}

// HydraProvider implements port.IdentityProvider for Ory Hydra.
type HydraProvider struct {
	cfg        HydraConfig
	httpClient *http.Client
}

// NewHydraProvider creates a new Hydra OAuth2 provider.
func NewHydraProvider(cfg HydraConfig) *HydraProvider {
	cfg.Issuer = strings.TrimRight(cfg.Issuer, "/")
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &HydraProvider{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}
}

// ProviderName returns "hydra".
func (h *HydraProvider) ProviderName() string {
	return "hydra"
}

// AuthURL returns the Hydra consent screen URL.
func (h *HydraProvider) AuthURL(state, challenge string) string {
	params := url.Values{
		"client_id":             {h.cfg.ClientID},
		"redirect_uri":          {h.cfg.RedirectURL},
		"response_type":         {"code"},
		"scope":                 {strings.Join(h.cfg.Scopes, " ")},
		"state":                 {state},
		"code_challenge":        {challenge},
		"code_challenge_method": {"S256"},
		"app_type":              {"dashboard"},
	}
	return fmt.Sprintf("%s%s?%s", h.cfg.Issuer, hydraAuthPath, params.Encode())
}

// ExchangeCode exchanges an authorization code for tokens.
func (h *HydraProvider) ExchangeCode(ctx context.Context, code, verifier string) (*domain.TokenPair, error) {
	data := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {h.cfg.RedirectURL},
		"code_verifier": {verifier},
	}
	tokens, err := h.postToken(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("hydra: token exchange: %w", err)
	}
	return tokens, nil
}

// RefreshToken trades a refresh token for a new access token.
func (h *HydraProvider) RefreshToken(ctx context.Context, refreshToken string) (*domain.TokenPair, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("hydra: token refresh: %w", port.ErrNoRefreshToken)
	}
	data := url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	tokens, err := h.postToken(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("hydra: token refresh: %w", err)
	}
	return tokens, nil
}

func (h *HydraProvider) postToken(ctx context.Context, data url.Values) (*domain.TokenPair, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.Issuer+hydraTokenPath, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(h.cfg.ClientID, h.cfg.ClientSecret)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		tokenErr := &TokenError{StatusCode: resp.StatusCode}
		_ = json.Unmarshal(body, tokenErr)
		return nil, tokenErr
	}

	var tokens domain.TokenPair
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return nil, fmt.Errorf("decode token response: %w", err)
	}
	if tokens.AccessToken == "" {
		return nil, fmt.Errorf("token response has no access_token")
	}
	return &tokens, nil
}

type idTokenClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// Identify resolves the principal from the id_token, falling back to /userinfo.
// The id_token comes straight from the token endpoint over the back channel, so its
// signature is not re-verified here.
func (h *HydraProvider) Identify(ctx context.Context, tokens *domain.TokenPair) (*domain.Profile, error) {
	if tokens.IDToken != "" {
		var claims idTokenClaims
		if _, _, err := jwt.NewParser().ParseUnverified(tokens.IDToken, &claims); err == nil && claims.Subject != "" {
			return &domain.Profile{SubjectID: claims.Subject, Email: claims.Email, Name: claims.Name}, nil
		}
	}
	return h.userinfo(ctx, tokens.AccessToken)
}

func (h *HydraProvider) userinfo(ctx context.Context, accessToken string) (*domain.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.cfg.Issuer+hydraUserinfoPath, nil)
	if err != nil {
		return nil, fmt.Errorf("hydra: create userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("hydra: fetch userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("hydra: userinfo failed (%d): %s", resp.StatusCode, string(body))
	}

	var profile domain.Profile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, fmt.Errorf("hydra: decode userinfo: %w", err)
	}
	if profile.SubjectID == "" {
		return nil, fmt.Errorf("hydra: userinfo has no subject")
	}
	return &profile, nil
}

// NewPKCE returns a fresh PKCE verifier and its S256 challenge.
func NewPKCE() (verifier, challenge string) {
	verifier = oauth2.GenerateVerifier()
	return verifier, oauth2.S256ChallengeFromVerifier(verifier)
}
