package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
	"github.com/arturoeanton/storefront-dashboard/internal/port"
)

func newTestProvider(t *testing.T, h http.HandlerFunc) *HydraProvider {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return NewHydraProvider(HydraConfig{
		Issuer:       srv.URL + "/",
		ClientID:     "dashboard",
		ClientSecret: "s3cret",
		RedirectURL:  "http://localhost:3001/auth/callback",
		Scopes:       []string{"openid", "offline"},
	})
}

func TestRefreshTokenSendsFormAndBasicAuth(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, hydraTokenPath, r.URL.Path)
		require.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))

		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		require.Equal(t, "dashboard", user)
		require.Equal(t, "s3cret", pass)

		require.NoError(t, r.ParseForm())
		require.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		require.Equal(t, "rt-1", r.PostForm.Get("refresh_token"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "new",
			"expires_in":    3600,
			"refresh_token": "rt-2",
			"token_type":    "bearer",
		})
	})

	tokens, err := p.RefreshToken(context.Background(), "rt-1")
	require.NoError(t, err)
	require.Equal(t, "new", tokens.AccessToken)
	require.Equal(t, 3600, tokens.ExpiresIn)
	require.Equal(t, "rt-2", tokens.RefreshToken)
}

func TestRefreshTokenErrorResponse(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant","error_description":"refresh token revoked"}`))
	})

	_, err := p.RefreshToken(context.Background(), "rt-1")
	require.Error(t, err)

	var tokenErr *TokenError
	require.True(t, errors.As(err, &tokenErr))
	require.Equal(t, http.StatusBadRequest, tokenErr.StatusCode)
	require.Equal(t, "invalid_grant", tokenErr.Code)
	require.Contains(t, err.Error(), "refresh token revoked")
}

func TestRefreshTokenWithoutRefreshToken(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := p.RefreshToken(context.Background(), "")
	require.ErrorIs(t, err, port.ErrNoRefreshToken)
	require.Zero(t, calls.Load())
}

func TestExchangeCodeSendsVerifier(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		require.Equal(t, "the-code", r.PostForm.Get("code"))
		require.Equal(t, "the-verifier", r.PostForm.Get("code_verifier"))
		w.Write([]byte(`{"access_token":"at","expires_in":60}`))
	})

	tokens, err := p.ExchangeCode(context.Background(), "the-code", "the-verifier")
	require.NoError(t, err)
	require.Equal(t, "at", tokens.AccessToken)
}

func TestAuthURL(t *testing.T) {
	p := NewHydraProvider(HydraConfig{
		Issuer:      "http://127.0.0.1:8080",
		ClientID:    "dashboard",
		RedirectURL: "http://localhost:3001/auth/callback",
		Scopes:      []string{"openid", "offline"},
	})
	verifier, challenge := NewPKCE()
	require.NotEmpty(t, verifier)

	u, err := url.Parse(p.AuthURL("st", challenge))
	require.NoError(t, err)
	require.Equal(t, hydraAuthPath, u.Path)
	q := u.Query()
	require.Equal(t, "st", q.Get("state"))
	require.Equal(t, challenge, q.Get("code_challenge"))
	require.Equal(t, "S256", q.Get("code_challenge_method"))
	require.Equal(t, "openid offline", q.Get("scope"))
}

func TestIdentifyFromIDToken(t *testing.T) {
	var calls atomic.Int32
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	idToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, idTokenClaims{
		Email:            "owner@acme.test",
		Name:             "Acme Owner",
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-1"},
	}).SignedString([]byte("whatever"))
	require.NoError(t, err)

	profile, err := p.Identify(context.Background(), &domain.TokenPair{AccessToken: "at", IDToken: idToken})
	require.NoError(t, err)
	require.Equal(t, "user-1", profile.SubjectID)
	require.Equal(t, "owner@acme.test", profile.Email)
	require.Zero(t, calls.Load())
}

func TestIdentifyFallsBackToUserinfo(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, hydraUserinfoPath, r.URL.Path)
		require.Equal(t, "Bearer at", r.Header.Get("Authorization"))
		w.Write([]byte(`{"sub":"user-2","email":"two@acme.test","name":"Two"}`))
	})

	profile, err := p.Identify(context.Background(), &domain.TokenPair{AccessToken: "at"})
	require.NoError(t, err)
	require.Equal(t, "user-2", profile.SubjectID)
	require.Equal(t, "Two", profile.Name)
}
