package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/storefront-dashboard/internal/domain"
	"github.com/arturoeanton/storefront-dashboard/internal/middleware"
	"github.com/arturoeanton/storefront-dashboard/internal/port"
	"github.com/arturoeanton/storefront-dashboard/internal/service"
)

const (
	defaultTemplate  = "default"
	streamMaxAge     = 30 * time.Minute
	streamKeepAlive  = 15 * time.Second
	historyMaxLimit  = 200
	deployCallBudget = 30 * time.Second
)

// TokenSourceFactory binds a session credential to a refreshing token source.
type TokenSourceFactory interface {
	TokenSource(cred domain.SessionCredential) port.TokenSource
}

// HistoryReader lists persisted deployments.
type HistoryReader interface {
	ListDeployments(ctx context.Context, ownerID, shopID string, limit int) ([]domain.DeploymentEvent, error)
}

// DeployRequest is the body of the deploy trigger.
type DeployRequest struct {
	Subdomain string `json:"subdomain" validate:"required,hostname_rfc1123,max=63"`
	Template  string `json:"template"  validate:"omitempty,max=100"`
}

// DeployHandler exposes storefront deployments and their live status.
type DeployHandler struct {
	poller   *service.DeploymentPoller
	deployer port.Deployer
	tokens   TokenSourceFactory
	history  HistoryReader           // optional
	audit    middleware.AuditWriter // optional
}

// NewDeployHandler creates a new deploy handler. history and audit may be nil.
func NewDeployHandler(poller *service.DeploymentPoller, deployer port.Deployer, tokens TokenSourceFactory, history HistoryReader, audit middleware.AuditWriter) *DeployHandler {
	return &DeployHandler{poller: poller, deployer: deployer, tokens: tokens, history: history, audit: audit}
}

// Register sets up deployment routes.
func (h *DeployHandler) Register(router fiber.Router) {
	shops := router.Group("/shops/:shopId")
	shops.Post("/deploy", h.Deploy)
	shops.Get("/deployment", h.GetDeployment)
	shops.Post("/deployment/check", h.CheckDeployment)
	shops.Delete("/deployment", h.RemoveDeployment)
	shops.Get("/deployments/history", h.History)

	router.Get("/deployments", h.ListDeployments)
	router.Delete("/deployments", h.ClearDeployments)
	router.Get("/deployments/stream", h.StreamSSE)
}

// Deploy asks the gateway to publish the shop and starts tracking the deployment.
func (h *DeployHandler) Deploy(c fiber.Ctx) error {
	shopID := strings.Clone(c.Params("shopId"))

	var req DeployRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if req.Template == "" {
		req.Template = defaultTemplate
	}

	owner, ok := requestOwner(c)
	cred := middleware.GetSession(c)
	if !ok || cred == nil {
		return unauthorized(c)
	}
	tenant := domain.Tenant{ShopID: shopID, Subdomain: req.Subdomain}
	tokens := h.tokens.TokenSource(*cred)

	ctx, cancel := context.WithTimeout(c.Context(), deployCallBudget)
	defer cancel()
	token, err := tokens.Token(ctx)
	if err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": err.Error()})
	}
	if err := h.deployer.Deploy(ctx, token, tenant, req.Template); err != nil {
		slog.Error("deploy trigger failed", "shop_id", shopID, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}

	rec := h.poller.StartDeployment(owner, tenant, tokens)
	h.writeAudit(c, owner, tenant, req.Template)

	return c.Status(fiber.StatusAccepted).JSON(rec)
}

// GetDeployment returns the tracked deployment of a shop.
func (h *DeployHandler) GetDeployment(c fiber.Ctx) error {
	owner, ok := requestOwner(c)
	if !ok {
		return unauthorized(c)
	}
	rec, ok := h.poller.Get(owner, c.Params("shopId"))
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": port.ErrDeploymentNotFound.Error()})
	}
	return c.JSON(rec)
}

// CheckDeployment runs one status check immediately.
func (h *DeployHandler) CheckDeployment(c fiber.Ctx) error {
	owner, ok := requestOwner(c)
	if !ok {
		return unauthorized(c)
	}
	rec, err := h.poller.CheckStatus(c.Context(), owner, c.Params("shopId"))
	switch {
	case errors.Is(err, port.ErrDeploymentNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
	case err != nil:
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
			"error":      err.Error(),
			"deployment": rec,
		})
	}
	return c.JSON(rec)
}

// RemoveDeployment stops tracking a shop's deployment.
func (h *DeployHandler) RemoveDeployment(c fiber.Ctx) error {
	owner, ok := requestOwner(c)
	if !ok {
		return unauthorized(c)
	}
	if !h.poller.Remove(owner, c.Params("shopId")) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": port.ErrDeploymentNotFound.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListDeployments returns the caller's tracked deployments.
func (h *DeployHandler) ListDeployments(c fiber.Ctx) error {
	owner, ok := requestOwner(c)
	if !ok {
		return unauthorized(c)
	}
	return c.JSON(h.poller.Snapshot(owner))
}

// ClearDeployments forgets the caller's tracked deployments.
func (h *DeployHandler) ClearDeployments(c fiber.Ctx) error {
	owner, ok := requestOwner(c)
	if !ok {
		return unauthorized(c)
	}
	h.poller.ClearAll(owner)
	return c.SendStatus(fiber.StatusNoContent)
}

// History returns the persisted deployments of a shop.
func (h *DeployHandler) History(c fiber.Ctx) error {
	owner, ok := requestOwner(c)
	if !ok {
		return unauthorized(c)
	}
	if h.history == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "deployment history is disabled"})
	}
	limit, _ := strconv.Atoi(c.Query("limit", "50"))
	if limit <= 0 || limit > historyMaxLimit {
		limit = historyMaxLimit
	}

	events, err := h.history.ListDeployments(c.Context(), owner, c.Params("shopId"), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{
		"deployments": events,
		"count":       len(events),
	})
}

// StreamSSE streams the caller's deployment snapshots via Server-Sent Events.
// The first event is the current snapshot.
func (h *DeployHandler) StreamSSE(c fiber.Ctx) error {
	owner, ok := requestOwner(c)
	if !ok {
		return unauthorized(c)
	}
	ch, unsubscribe := h.poller.Subscribe(owner)

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	return c.SendStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		keepAlive := time.NewTicker(streamKeepAlive)
		defer keepAlive.Stop()
		timeout := time.After(streamMaxAge)

		for {
			select {
			case snap, ok := <-ch:
				if !ok {
					return
				}
				data, _ := json.Marshal(snap)
				fmt.Fprintf(w, "event: deployments\ndata: %s\n\n", data)
				if err := w.Flush(); err != nil {
					return // client went away
				}
			case <-keepAlive.C:
				fmt.Fprint(w, ": keep-alive\n\n")
				if err := w.Flush(); err != nil {
					return
				}
			case <-timeout:
				return
			}
		}
	})
}

func (h *DeployHandler) writeAudit(c fiber.Ctx, userID string, tenant domain.Tenant, template string) {
	if h.audit == nil {
		return
	}
	details, _ := json.Marshal(map[string]string{"subdomain": tenant.Subdomain, "template": template})
	ip := strings.Clone(c.IP())
	userAgent := strings.Clone(c.Get(fiber.HeaderUserAgent))
	go func() {
		if err := h.audit.WriteAudit(userID, domain.AuditActionDeployStart, "shop", tenant.ShopID, string(details), ip, userAgent); err != nil {
			slog.Error("failed to write audit log", "error", err)
		}
	}()
}

// requestOwner returns the subject the request acts for.
func requestOwner(c fiber.Ctx) (string, bool) {
	u := middleware.GetUserContext(c)
	if u == nil || u.UserID == "" {
		return "", false
	}
	return strings.Clone(u.UserID), true
}

func unauthorized(c fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": port.ErrUnauthorized.Error()})
}
