package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kumburgaz/dues-backend/internal/config"
	"github.com/kumburgaz/dues-backend/internal/handler"
	"github.com/kumburgaz/dues-backend/internal/middleware"
	"github.com/kumburgaz/dues-backend/internal/observability"
	"github.com/kumburgaz/dues-backend/internal/repository/postgres"
	"github.com/kumburgaz/dues-backend/internal/service"
	"github.com/kumburgaz/dues-backend/internal/websocket"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Initialize zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if os.Getenv("ENV") != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Apply schema migrations before taking traffic
	if cfg.AutoMigrate {
		if err := migrateUp(cfg.DatabaseURL); err != nil {
			log.Fatal().Err(err).Msg("Failed to apply migrations")
		}
	}

	// Connect to database
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid database URL")
	}
	poolConfig.MaxConns = cfg.DBMaxConns

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer pool.Close()

	// Verify database connection
	if err := pool.Ping(context.Background()); err != nil {
		log.Fatal().Err(err).Msg("Failed to ping database")
	}
	log.Info().Int32("max_conns", cfg.DBMaxConns).Msg("Connected to database")

	// Initialize repositories
	txManager := postgres.NewTxManager(pool)
	unitRepo := postgres.NewUnitRepository(pool)
	duesTypeRepo := postgres.NewDuesTypeRepository(pool)
	groupRepo := postgres.NewBillingGroupRepository(pool)
	installmentRepo := postgres.NewInstallmentRepository(pool)
	collectionRepo := postgres.NewCollectionRepository(pool)

	// Metrics and live events
	metrics := observability.NewMetrics()
	hub := websocket.NewHub()

	// Initialize services
	generationService := service.NewDuesGenerationService(txManager, groupRepo, duesTypeRepo, unitRepo, installmentRepo, collectionRepo, metrics)
	generationService.SetEventPublisher(hub)
	generationService.SetDefaultDueDay(cfg.DuesDueDay)
	collectionService := service.NewCollectionService(txManager, collectionRepo, groupRepo, unitRepo, installmentRepo, metrics)
	collectionService.SetEventPublisher(hub)
	reportService := service.NewReportService(groupRepo, duesTypeRepo, unitRepo, installmentRepo, collectionRepo)
	groupService := service.NewBillingGroupService(txManager, groupRepo, duesTypeRepo, unitRepo)
	dashboardService := service.NewDashboardService(groupRepo, installmentRepo, collectionRepo)

	// Initialize handlers
	handlers := handler.Handlers{
		Dues:         handler.NewDuesHandler(generationService),
		Collections:  handler.NewCollectionHandler(collectionService),
		Reports:      handler.NewReportHandler(reportService),
		BillingGroup: handler.NewBillingGroupHandler(groupService),
		Dashboard:    handler.NewDashboardHandler(dashboardService),
		WebSocket:    handler.NewWebSocketHandler(hub, cfg.CORSOrigins),
	}

	// Create Echo instance
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewRequestValidator()

	// Request ID middleware
	e.Use(echomiddleware.RequestID())

	// CORS middleware
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins:     cfg.CORSOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Security headers middleware (helmet-like)
	e.Use(echomiddleware.SecureWithConfig(echomiddleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'self'",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
	}))

	// Request logging middleware with zerolog
	e.Use(middleware.RequestLogger())

	// Recovery middleware
	e.Use(echomiddleware.Recover())

	// Per-client rate limiting
	rateLimiter := middleware.NewRateLimiterWithConfig(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	defer rateLimiter.Stop()
	e.Use(middleware.RateLimitMiddleware(rateLimiter))

	// Health check endpoint
	e.GET("/health", func(c echo.Context) error {
		if err := pool.Ping(c.Request().Context()); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// Prometheus metrics
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))

	// Register API routes
	handler.RegisterRoutes(e, handlers)

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.Port).Msg("Starting server")
		if err := e.Start(":" + cfg.Port); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}

func migrateUp(databaseURL string) error {
	migrator, err := postgres.NewMigrator(databaseURL)
	if err != nil {
		return err
	}
	defer migrator.Close()

	return migrator.Up()
}
