package config

import (
	"errors"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Server
	Port    string
	AppName string

	// Database (empty disables audit log and deployment history)
	DatabaseURL  string
	AuditEnabled bool

	// OAuth2 (Ory Hydra)
	HydraIssuer       string
	HydraClientID     string
	HydraClientSecret string
	HydraRedirectURL  string
	HydraScopes       []string

	// Session cookie
	SessionSecret      string
	SessionCookie      string
	SessionMaxAgeHours int
	SessionSecure      bool

	// Token refresh
	TokenRefreshMarginSeconds      int
	TokenMinRefreshIntervalSeconds int
	TokenRefreshGraceMS            int

	// API gateway
	GatewayURL            string
	GatewayTimeoutSeconds int
	DeployRetryMax        int

	// Deployment polling
	PollMaxAttempts    int
	PollTimeoutMinutes int

	// Frontend
	FrontendURL string
	LoginPath   string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envOrDefault("PORT", "3001"),
		AppName: envOrDefault("APP_NAME", "Storefront Dashboard"),

		DatabaseURL:  os.Getenv("DATABASE_URL"),
		AuditEnabled: envOrDefaultBool("AUDIT_ENABLED", true),

		HydraIssuer:       envOrDefault("HYDRA_ISSUER", "http://127.0.0.1:4444"),
		HydraClientID:     os.Getenv("HYDRA_CLIENT_ID"),
		HydraClientSecret: os.Getenv("HYDRA_CLIENT_SECRET"),
		HydraRedirectURL:  envOrDefault("HYDRA_REDIRECT_URL", "http://localhost:3001/auth/callback"),
		HydraScopes:       envList("HYDRA_SCOPES", []string{"openid", "offline", "email", "profile"}),

		SessionSecret:      os.Getenv("SESSION_SECRET"),
		SessionCookie:      envOrDefault("SESSION_COOKIE", "dash_session"),
		SessionMaxAgeHours: envOrDefaultInt("SESSION_MAX_AGE_HOURS", 24*30),
		SessionSecure:      envOrDefaultBool("SESSION_SECURE", true),

		TokenRefreshMarginSeconds:      envOrDefaultInt("TOKEN_REFRESH_MARGIN_SECONDS", 300),
		TokenMinRefreshIntervalSeconds: envOrDefaultInt("TOKEN_MIN_REFRESH_INTERVAL_SECONDS", 30),
		TokenRefreshGraceMS:            envOrDefaultInt("TOKEN_REFRESH_GRACE_MS", 100),

		GatewayURL:            envOrDefault("GATEWAY_URL", "http://127.0.0.1:8080"),
		GatewayTimeoutSeconds: envOrDefaultInt("GATEWAY_TIMEOUT_SECONDS", 10),
		DeployRetryMax:        envOrDefaultInt("DEPLOY_RETRY_MAX", 3),

		PollMaxAttempts:    envOrDefaultInt("POLL_MAX_ATTEMPTS", 240),
		PollTimeoutMinutes: envOrDefaultInt("POLL_TIMEOUT_MINUTES", 15),

		FrontendURL: envOrDefault("FRONTEND_URL", "http://localhost:3000"),
		LoginPath:   envOrDefault("LOGIN_PATH", "/auth/login"),
	}
}

// Validate reports settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.SessionSecret == "" {
		errs = append(errs, errors.New("SESSION_SECRET is required"))
	}
	if c.HydraClientID == "" {
		errs = append(errs, errors.New("HYDRA_CLIENT_ID is required"))
	}
	for key, raw := range map[string]string{"HYDRA_ISSUER": c.HydraIssuer, "GATEWAY_URL": c.GatewayURL} {
		if u, err := url.Parse(raw); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, errors.New(key+" must be an absolute URL"))
		}
	}
	return errors.Join(errs...)
}

// RefreshMargin is how long before expiry an access token is refreshed.
func (c *Config) RefreshMargin() time.Duration {
	return time.Duration(c.TokenRefreshMarginSeconds) * time.Second
}

// MinRefreshInterval is the minimum spacing between refresh attempts per subject.
func (c *Config) MinRefreshInterval() time.Duration {
	return time.Duration(c.TokenMinRefreshIntervalSeconds) * time.Second
}

// RefreshGrace is how long a failed refresh is shared with late callers.
func (c *Config) RefreshGrace() time.Duration {
	return time.Duration(c.TokenRefreshGraceMS) * time.Millisecond
}

// SessionMaxAge is the lifetime of the session cookie.
func (c *Config) SessionMaxAge() time.Duration {
	return time.Duration(c.SessionMaxAgeHours) * time.Hour
}

// GatewayTimeout bounds every gateway call.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

// PollTimeout bounds how long one deployment is polled.
func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutMinutes) * time.Minute
}

// DSN returns the database target for logging (credentials masked).
func (c *Config) DSN() string {
	u, err := url.Parse(c.DatabaseURL)
	if err != nil || c.DatabaseURL == "" {
		return "(none)"
	}
	return u.Redacted()
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, f := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' }) {
		out = append(out, f)
	}
	return out
}
