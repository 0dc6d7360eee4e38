package middleware

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
	"github.com/arturoeanton/storefront-dashboard/internal/port"
)

const (
	localSession      = "session"
	localSessionError = "session_error"
	localUser         = "user"
)

// SessionCodec seals and opens the session cookie.
type SessionCodec interface {
	EncodeCredential(cred domain.SessionCredential, ttl time.Duration) (string, error)
	DecodeCredential(token string) (domain.SessionCredential, error)
}

// SessionResolver keeps a credential usable, refreshing it when needed.
type SessionResolver interface {
	Resolve(ctx context.Context, cred domain.SessionCredential) (domain.SessionCredential, error)
}

// SessionConfig holds session cookie settings.
type SessionConfig struct {
	CookieName string
	MaxAge     time.Duration
	Secure     bool
}

// SessionMiddleware decodes the session cookie on every request and runs the
// credential through the resolver before any handler sees it. A credential that
// changed (refreshed, or marked failed) is written back to the cookie.
func SessionMiddleware(codec SessionCodec, resolver SessionResolver, cfg SessionConfig) fiber.Handler {
	return func(c fiber.Ctx) error {
		raw := c.Cookies(cfg.CookieName)
		if raw == "" {
			c.Locals(localSessionError, port.ErrSessionMissing)
			return c.Next()
		}

		cred, err := codec.DecodeCredential(raw)
		if err != nil {
			slog.Debug("discarding session cookie", "error", err)
			ClearSessionCookie(c, cfg)
			c.Locals(localSessionError, err)
			return c.Next()
		}

		resolved, err := resolver.Resolve(c.Context(), cred)
		if resolved != cred {
			if werr := SetSessionCookie(c, codec, cfg, resolved); werr != nil {
				slog.Error("failed to re-issue session cookie", "user_id", resolved.SubjectID, "error", werr)
			}
		}

		c.Locals(localSession, &resolved)
		if err != nil {
			c.Locals(localSessionError, err)
			return c.Next()
		}

		c.Locals(localUser, &domain.UserContext{
			UserID:    resolved.SubjectID,
			Email:     resolved.Email,
			Name:      resolved.Name,
			ExpiresAt: resolved.ExpiresAt(),
		})
		return c.Next()
	}
}

// RequireSession guards routes that need a usable session. API routes answer
// 401 JSON; page routes are redirected to loginPath with 303.
func RequireSession(loginPath string) fiber.Handler {
	return func(c fiber.Ctx) error {
		if GetUserContext(c) != nil {
			return c.Next()
		}

		err := SessionError(c)
		if strings.HasPrefix(c.Path(), "/api/") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Redirect().Status(fiber.StatusSeeOther).To(loginPath)
	}
}

// SetSessionCookie seals cred into the session cookie.
func SetSessionCookie(c fiber.Ctx, codec SessionCodec, cfg SessionConfig, cred domain.SessionCredential) error {
	value, err := codec.EncodeCredential(cred, cfg.MaxAge)
	if err != nil {
		return err
	}
	c.Cookie(&fiber.Cookie{
		Name:     cfg.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   int(cfg.MaxAge / time.Second),
		Secure:   cfg.Secure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
	return nil
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(c fiber.Ctx, cfg SessionConfig) {
	c.Cookie(&fiber.Cookie{
		Name:     cfg.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   cfg.Secure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

// GetSession returns the decoded credential, usable or not.
func GetSession(c fiber.Ctx) *domain.SessionCredential {
	cred, ok := c.Locals(localSession).(*domain.SessionCredential)
	if !ok {
		return nil
	}
	return cred
}

// SessionError returns why the request has no usable session.
func SessionError(c fiber.Ctx) error {
	if err, ok := c.Locals(localSessionError).(error); ok {
		if errors.Is(err, port.ErrSessionMissing) || errors.Is(err, port.ErrSessionInvalid) {
			return port.ErrUnauthorized
		}
		return err
	}
	return port.ErrUnauthorized
}

// GetUserContext extracts the UserContext from Fiber locals.
func GetUserContext(c fiber.Ctx) *domain.UserContext {
	u, ok := c.Locals(localUser).(*domain.UserContext)
	if !ok {
		return nil
	}
	return u
}
