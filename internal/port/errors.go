package port

import "errors"

// Sentinel errors used across ports.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrSessionMissing     = errors.New("session missing")
	ErrSessionExpired     = errors.New("session expired")
	ErrSessionInvalid     = errors.New("session invalid")
	ErrRefreshFailed      = errors.New("token refresh failed")
	ErrNoRefreshToken     = errors.New("no refresh token")
	ErrDeploymentNotFound = errors.New("deployment not found")
	ErrStateMismatch      = errors.New("oauth state mismatch")
)
