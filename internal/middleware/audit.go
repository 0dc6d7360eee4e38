package middleware

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
)

// AuditWriter defines how audit records are persisted.
type AuditWriter interface {
	WriteAudit(userID, action, resource, resourceID, details, ip, userAgent string) error
}

// AuditMiddleware records every API request made with a usable session.
// It must run after SessionMiddleware.
func AuditMiddleware(writer AuditWriter) fiber.Handler {
	return func(c fiber.Ctx) error {
		start := time.Now()

		// Fiber reuses context objects, so copy everything before c.Next.
		method := c.Method()
		path := strings.Clone(c.Path())
		ip := strings.Clone(c.IP())
		userAgent := strings.Clone(c.Get(fiber.HeaderUserAgent))

		err := c.Next()

		userID := "anonymous"
		if uc := GetUserContext(c); uc != nil {
			userID = uc.UserID
		}
		resource, resourceID := auditResource(path)

		details, _ := json.Marshal(map[string]any{
			"method":      method,
			"path":        path,
			"status":      c.Response().StatusCode(),
			"duration_ms": time.Since(start).Milliseconds(),
		})

		go func() {
			if werr := writer.WriteAudit(userID, domain.AuditActionRequest, resource, resourceID, string(details), ip, userAgent); werr != nil {
				slog.Error("failed to write audit log", "error", werr)
			}
		}()

		return err
	}
}

// auditResource maps /api/v1/shops/42/... to ("shop", "42").
func auditResource(path string) (string, string) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, p := range parts {
		if p == "shops" && i+1 < len(parts) {
			return "shop", parts[i+1]
		}
	}
	return "api", path
}
