package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/joho/godotenv"

	"github.com/arturoeanton/storefront-dashboard/internal/adapter/auth"
	"github.com/arturoeanton/storefront-dashboard/internal/adapter/gateway"
	"github.com/arturoeanton/storefront-dashboard/internal/adapter/session"
	"github.com/arturoeanton/storefront-dashboard/internal/adapter/store"
	"github.com/arturoeanton/storefront-dashboard/internal/handler"
	"github.com/arturoeanton/storefront-dashboard/internal/middleware"
	"github.com/arturoeanton/storefront-dashboard/internal/service"
	"github.com/arturoeanton/storefront-dashboard/pkg/config"
)

func main() {
	// ── Load .env file ───────────────────────────────────────────────────
	_ = godotenv.Load() // silently ignore if .env doesn't exist

	// ── Configuration ────────────────────────────────────────────────────
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("starting storefront dashboard",
		"port", cfg.Port,
		"hydra", cfg.HydraIssuer,
		"gateway", cfg.GatewayURL,
		"database", cfg.DSN(),
	)

	// ── Database (optional) ──────────────────────────────────────────────
	var (
		history     handler.HistoryReader
		auditReader handler.AuditReader
		auditWriter middleware.AuditWriter
		pollerCfg   service.PollerConfig
	)
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pgStore.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err = pgStore.Migrate(ctx)
		cancel()
		if err != nil {
			slog.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}

		history = pgStore
		pollerCfg.History = pgStore
		if cfg.AuditEnabled {
			auditReader = pgStore
			auditWriter = pgStore
		}
	} else {
		slog.Warn("DATABASE_URL not set, audit log and deployment history disabled")
	}

	// ── Adapters ─────────────────────────────────────────────────────────
	hydra := auth.NewHydraProvider(auth.HydraConfig{
		Issuer:       cfg.HydraIssuer,
		ClientID:     cfg.HydraClientID,
		ClientSecret: cfg.HydraClientSecret,
		RedirectURL:  cfg.HydraRedirectURL,
		Scopes:       cfg.HydraScopes,
	})

	gw := gateway.NewClient(gateway.Config{
		BaseURL:  cfg.GatewayURL,
		Timeout:  cfg.GatewayTimeout(),
		RetryMax: cfg.DeployRetryMax,
		Logger:   slog.Default(),
	})

	codec, err := session.NewCodec(cfg.SessionSecret)
	if err != nil {
		slog.Error("failed to create session codec", "error", err)
		os.Exit(1)
	}

	// ── Services ─────────────────────────────────────────────────────────
	tokenManager := service.NewTokenManager(hydra, service.TokenManagerConfig{
		Margin:             cfg.RefreshMargin(),
		MinRefreshInterval: cfg.MinRefreshInterval(),
		Grace:              cfg.RefreshGrace(),
	})
	authService := service.NewAuthService(hydra, tokenManager)

	pollerCfg.MaxAttempts = cfg.PollMaxAttempts
	pollerCfg.Timeout = cfg.PollTimeout()
	poller := service.NewDeploymentPoller(gw, pollerCfg)

	// ── Fiber App ────────────────────────────────────────────────────────
	app := fiber.New(fiber.Config{
		AppName:         cfg.AppName,
		ReadTimeout:     30 * time.Second,
		StructValidator: handler.NewStructValidator(),
	})

	sessionCfg := middleware.SessionConfig{
		CookieName: cfg.SessionCookie,
		MaxAge:     cfg.SessionMaxAge(),
		Secure:     cfg.SessionSecure,
	}

	// Global middleware
	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     []string{cfg.FrontendURL},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept"},
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowCredentials: true,
	}))
	app.Use(middleware.SessionMiddleware(codec, authService, sessionCfg))

	// ── Public Routes ────────────────────────────────────────────────────
	authHandler := handler.NewAuthHandler(authService, codec, sessionCfg, cfg.FrontendURL, auditWriter)
	authHandler.Register(app)

	app.Get("/api/v1/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"app":    cfg.AppName,
		})
	})

	// ── Protected Routes ─────────────────────────────────────────────────
	requireSession := middleware.RequireSession(cfg.LoginPath)

	api := app.Group("/api/v1", requireSession)
	if auditWriter != nil {
		api.Use(middleware.AuditMiddleware(auditWriter))
	}

	authHandler.RegisterSession(api)

	deployHandler := handler.NewDeployHandler(poller, gw, authService, history, auditWriter)
	deployHandler.Register(api)

	if auditReader != nil {
		handler.NewAuditHandler(auditReader).Register(api)
	}

	// Dashboard pages live on the frontend; the guard decides who gets there.
	app.Get("/admin/*", requireSession, func(c fiber.Ctx) error {
		return c.Redirect().To(cfg.FrontendURL + c.OriginalURL())
	})

	// ── Start ────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		slog.Info("shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			slog.Error("shutdown failed", "error", err)
		}
	}()

	slog.Info("fiber listening", "port", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		slog.Error("server failed", "error", err)
	}

	poller.Close()
	slog.Info("stopped")
}
