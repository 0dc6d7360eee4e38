package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"TOKEN_REFRESH_MARGIN_SECONDS", "TOKEN_MIN_REFRESH_INTERVAL_SECONDS", "TOKEN_REFRESH_GRACE_MS",
		"HYDRA_SCOPES", "POLL_MAX_ATTEMPTS", "SESSION_SECURE",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()
	require.Equal(t, 300*time.Second, cfg.RefreshMargin())
	require.Equal(t, 30*time.Second, cfg.MinRefreshInterval())
	require.Equal(t, 100*time.Millisecond, cfg.RefreshGrace())
	require.Equal(t, []string{"openid", "offline", "email", "profile"}, cfg.HydraScopes)
	require.Equal(t, 240, cfg.PollMaxAttempts)
	require.True(t, cfg.SessionSecure)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TOKEN_REFRESH_MARGIN_SECONDS", "60")
	t.Setenv("HYDRA_SCOPES", "openid, offline")
	t.Setenv("SESSION_SECURE", "false")
	t.Setenv("POLL_TIMEOUT_MINUTES", "not-a-number")

	cfg := Load()
	require.Equal(t, time.Minute, cfg.RefreshMargin())
	require.Equal(t, []string{"openid", "offline"}, cfg.HydraScopes)
	require.False(t, cfg.SessionSecure)
	require.Equal(t, 15*time.Minute, cfg.PollTimeout())
}

func TestValidate(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("HYDRA_CLIENT_ID", "")
	t.Setenv("GATEWAY_URL", "gateway")

	err := Load().Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "SESSION_SECRET")
	require.Contains(t, err.Error(), "HYDRA_CLIENT_ID")
	require.Contains(t, err.Error(), "GATEWAY_URL")

	t.Setenv("SESSION_SECRET", "s3cret")
	t.Setenv("HYDRA_CLIENT_ID", "dashboard")
	t.Setenv("GATEWAY_URL", "https://api.example.com")
	require.NoError(t, Load().Validate())
}

func TestDSNMasksPassword(t *testing.T) {
	cfg := &Config{DatabaseURL: "postgres://dash:hunter2@db:5432/dash?sslmode=disable"}
	require.NotContains(t, cfg.DSN(), "hunter2")
	require.Equal(t, "(none)", (&Config{}).DSN())
}
