package domain

import "time"

// CredentialError marks a session credential that can no longer be refreshed.
type CredentialError string

const (
	CredentialOK            CredentialError = ""
	CredentialRefreshFailed CredentialError = "RefreshTokenError"
)

// SessionCredential is the OAuth2 token pair carried inside the encrypted session cookie.
type SessionCredential struct {
	AccessToken          string          `json:"access_token"`
	RefreshToken         string          `json:"refresh_token,omitempty"`
	AccessTokenExpiresAt int64           `json:"access_token_expires,omitempty"` // unix seconds, 0 = unknown
	SubjectID            string          `json:"sub"`
	Email                string          `json:"email,omitempty"`
	Name                 string          `json:"name,omitempty"`
	Provider             string          `json:"provider,omitempty"`
	IssuedAt             int64           `json:"iat,omitempty"`
	Error                CredentialError `json:"error,omitempty"`
}

// Failed reports whether a refresh has already failed for this credential.
func (c SessionCredential) Failed() bool {
	return c.Error == CredentialRefreshFailed
}

// Expired reports whether the access token is past its absolute expiry.
func (c SessionCredential) Expired(now time.Time) bool {
	if c.AccessTokenExpiresAt == 0 {
		return false
	}
	return now.Unix() >= c.AccessTokenExpiresAt
}

// NeedsRefresh reports whether now falls inside the refresh margin before expiry.
func (c SessionCredential) NeedsRefresh(now time.Time, margin time.Duration) bool {
	if c.AccessTokenExpiresAt == 0 {
		return false
	}
	return now.Unix() >= c.AccessTokenExpiresAt-int64(margin/time.Second)
}

// ExpiresAt returns the access token expiry as a time.
func (c SessionCredential) ExpiresAt() time.Time {
	if c.AccessTokenExpiresAt == 0 {
		return time.Time{}
	}
	return time.Unix(c.AccessTokenExpiresAt, 0)
}

// TokenPair holds the OAuth2 tokens returned by the token endpoint.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	IDToken      string `json:"id_token,omitempty"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
	Scope        string `json:"scope,omitempty"`
}

// Profile is the identity of the authenticated principal.
type Profile struct {
	SubjectID string `json:"sub"`
	Email     string `json:"email"`
	Name      string `json:"name"`
}

// UserContext is the authenticated user context injected into request handlers.
type UserContext struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	ExpiresAt time.Time `json:"expires_at"`
}

// LoginState ties an OAuth2 callback to the browser that started the login.
type LoginState struct {
	State    string `json:"state"`
	Verifier string `json:"verifier"`
	ReturnTo string `json:"return_to,omitempty"`
}
