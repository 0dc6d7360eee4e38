package handler

import (
	"context"
	"strconv"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
)

// AuditReader lists audit log entries.
type AuditReader interface {
	ListAuditLogs(ctx context.Context, userID string, limit int, action string) ([]domain.AuditLog, error)
}

// AuditHandler handles audit log endpoints.
type AuditHandler struct {
	store AuditReader
}

// NewAuditHandler creates a new audit handler.
func NewAuditHandler(store AuditReader) *AuditHandler {
	return &AuditHandler{store: store}
}

// Register sets up audit routes.
func (h *AuditHandler) Register(router fiber.Router) {
	audit := router.Group("/audit")
	audit.Get("/logs", h.ListLogs)
}

// ListLogs returns the caller's audit logs, optionally filtered by action (e.g. deploy_start).
func (h *AuditHandler) ListLogs(c fiber.Ctx) error {
	owner, ok := requestOwner(c)
	if !ok {
		return unauthorized(c)
	}
	limit, _ := strconv.Atoi(c.Query("limit", "100"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	action := c.Query("action", "")

	logs, err := h.store.ListAuditLogs(c.Context(), owner, limit, action)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{
		"logs":  logs,
		"count": len(logs),
	})
}
