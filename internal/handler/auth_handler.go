package handler

import (
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
	"github.com/arturoeanton/storefront-dashboard/internal/middleware"
	"github.com/arturoeanton/storefront-dashboard/internal/port"
	"github.com/arturoeanton/storefront-dashboard/internal/service"
)

const (
	loginCookieName = "dash_login"
	loginStateTTL   = 10 * time.Minute
)

// SessionCodec seals session and login state cookies.
type SessionCodec interface {
	middleware.SessionCodec
	EncodeLoginState(state domain.LoginState, ttl time.Duration) (string, error)
	DecodeLoginState(token string) (domain.LoginState, error)
}

// AuthHandler handles the login flow and session endpoints.
type AuthHandler struct {
	authService *service.AuthService
	codec       SessionCodec
	sessionCfg  middleware.SessionConfig
	frontendURL string
	audit       middleware.AuditWriter // optional
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(authService *service.AuthService, codec SessionCodec, sessionCfg middleware.SessionConfig, frontendURL string, audit middleware.AuditWriter) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		codec:       codec,
		sessionCfg:  sessionCfg,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		audit:       audit,
	}
}

// Register sets up the public login routes.
func (h *AuthHandler) Register(app *fiber.App) {
	auth := app.Group("/auth")
	auth.Get("/login", h.Login)
	auth.Get("/callback", h.Callback)
	auth.Post("/logout", h.Logout)
}

// RegisterSession sets up the guarded session route.
func (h *AuthHandler) RegisterSession(router fiber.Router) {
	router.Get("/session", h.Session)
}

// Login redirects to the identity provider's consent screen.
func (h *AuthHandler) Login(c fiber.Ctx) error {
	authURL, state := h.authService.GetAuthURL(safeReturnTo(c.Query("return_to")))

	sealed, err := h.codec.EncodeLoginState(state, loginStateTTL)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	c.Cookie(&fiber.Cookie{
		Name:     loginCookieName,
		Value:    sealed,
		Path:     "/auth",
		MaxAge:   int(loginStateTTL / time.Second),
		Secure:   h.sessionCfg.Secure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	return c.Redirect().To(authURL)
}

// Callback completes the login and stores the session cookie.
func (h *AuthHandler) Callback(c fiber.Ctx) error {
	if errCode := c.Query("error"); errCode != "" {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":             errCode,
			"error_description": c.Query("error_description"),
		})
	}

	code := c.Query("code")
	if code == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "missing authorization code",
		})
	}

	pending, err := h.codec.DecodeLoginState(c.Cookies(loginCookieName))
	h.clearLoginCookie(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "login expired, start again"})
	}

	cred, err := h.authService.HandleCallback(c.Context(), pending, c.Query("state"), code)
	if errors.Is(err, port.ErrStateMismatch) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err != nil {
		slog.Error("login failed", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}

	if err := middleware.SetSessionCookie(c, h.codec, h.sessionCfg, cred); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	h.writeAudit(c, cred.SubjectID, domain.AuditActionLogin)

	returnTo := pending.ReturnTo
	if returnTo == "" {
		returnTo = "/"
	}
	return c.Redirect().Status(fiber.StatusSeeOther).To(h.frontendURL + returnTo)
}

// Logout clears the session cookie and the subject's refresh state.
func (h *AuthHandler) Logout(c fiber.Ctx) error {
	if cred := middleware.GetSession(c); cred != nil {
		h.authService.Logout(*cred)
		h.writeAudit(c, cred.SubjectID, domain.AuditActionLogout)
	}
	middleware.ClearSessionCookie(c, h.sessionCfg)
	return c.SendStatus(fiber.StatusNoContent)
}

// Session describes the current session.
func (h *AuthHandler) Session(c fiber.Ctx) error {
	user := middleware.GetUserContext(c)
	cred := middleware.GetSession(c)
	if user == nil || cred == nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": port.ErrUnauthorized.Error()})
	}

	resp := fiber.Map{
		"user":     user,
		"provider": cred.Provider,
	}
	if cred.AccessTokenExpiresAt != 0 {
		resp["expires_at"] = cred.ExpiresAt().UTC()
	}
	return c.JSON(resp)
}

func (h *AuthHandler) clearLoginCookie(c fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     loginCookieName,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		Secure:   h.sessionCfg.Secure,
		HTTPOnly: true,
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (h *AuthHandler) writeAudit(c fiber.Ctx, userID, action string) {
	if h.audit == nil {
		return
	}
	ip := strings.Clone(c.IP())
	userAgent := strings.Clone(c.Get(fiber.HeaderUserAgent))
	go func() {
		if err := h.audit.WriteAudit(userID, action, "session", userID, "{}", ip, userAgent); err != nil {
			slog.Error("failed to write audit log", "error", err)
		}
	}()
}

// safeReturnTo keeps only same-site absolute paths.
func safeReturnTo(p string) string {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.Contains(p, "\\") {
		return ""
	}
	return strings.Clone(p)
}
