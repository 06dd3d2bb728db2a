package main

import (
	"context"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"github.com/ckdcare/ckd/internal/config"
	"github.com/ckdcare/ckd/internal/domain/clinical"
	"github.com/ckdcare/ckd/internal/domain/patient"
	"github.com/ckdcare/ckd/internal/platform/auth"
	"github.com/ckdcare/ckd/internal/platform/db"
	"github.com/ckdcare/ckd/internal/platform/hipaa"
	"github.com/ckdcare/ckd/internal/platform/middleware"
	"github.com/ckdcare/ckd/internal/platform/notification"
	"github.com/ckdcare/ckd/internal/platform/reporting"
	"github.com/ckdcare/ckd/internal/platform/telemetry"
	"github.com/ckdcare/ckd/internal/platform/webhook"
	"github.com/ckdcare/ckd/internal/platform/websocket"
)

const version = "0.1.0"

func newLogger(env string, w io.Writer) zerolog.Logger {
	if env == "development" {
		w = zerolog.ConsoleWriter{Out: w}
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

// loadConfig reads the configuration and builds the logger for its ENV, which
// may come from .env. A load failure is logged in the format the process
// environment asks for.
func loadConfig(w io.Writer) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, newLogger(os.Getenv("ENV"), w), err
	}
	return cfg, newLogger(cfg.Env, w), nil
}

// authMiddleware verifies bearer tokens outside development. In development
// a token is still verified when one is sent and a verifier is configured.
func authMiddleware(cfg *config.Config) echo.MiddlewareFunc {
	jwtCfg := auth.JWTConfig{
		Issuer:     cfg.AuthIssuer,
		Audience:   cfg.AuthAudience,
		JWKSURL:    cfg.AuthJWKSURL,
		SigningKey: cfg.SigningKey(),
		Skipper:    auth.AuthSkipper,
	}
	if !cfg.IsDev() {
		return auth.JWTMiddleware(jwtCfg)
	}
	var verify echo.MiddlewareFunc
	if cfg.AuthIssuer != "" || cfg.AuthJWKSURL != "" || len(jwtCfg.SigningKey) > 0 {
		verify = auth.JWTMiddleware(jwtCfg)
	}
	return auth.DevAuthMiddleware(verify)
}

// tenantScoped skips tenant resolution for public paths.
func tenantScoped(tenant echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		scoped := tenant(next)
		return func(c echo.Context) error {
			if auth.AuthSkipper(c) {
				return next(c)
			}
			return scoped(c)
		}
	}
}

type services struct {
	patients *patient.Service
	ingest   *clinical.IngestionService
	records  *clinical.RecordService
}

func newServices(cfg *config.Config, pool *pgxpool.Pool, notifier clinical.AlertNotifier, metrics *telemetry.Metrics, logger zerolog.Logger) services {
	patientSvc := patient.NewService(patient.NewRepo(pool))
	consultations := clinical.NewConsultationRepo(pool)
	alerts := clinical.NewAlertRepo(pool)

	evaluator := clinical.NewEvaluator(clinical.NewRuleSet(clinical.Thresholds{
		CreatinineHighMgDL: cfg.CreatinineHigh,
		SystolicHighMmHg:   cfg.SystolicHigh,
		DiastolicHighMmHg:  cfg.DiastolicHigh,
	}))

	ingest := clinical.NewIngestionService(clinical.IngestionDeps{
		Patients:      patientSvc,
		Consultations: consultations,
		Alerts:        alerts,
		Trend:         clinical.NewHistoryTrendProvider(consultations, cfg.TrendHistoryLimit),
		Evaluator:     evaluator,
		Notifier:      notifier,
		Observer:      metrics,
		Logger:        logger.With().Str("component", "ingest").Logger(),
	}, clinical.IngestConfig{
		StoreTimeout:       cfg.StoreTimeout,
		AlertWriteAttempts: cfg.AlertWriteAttempts,
		AlertWriteBackoff:  cfg.AlertWriteBackoff,
	})

	snapshot := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.RunInTx(ctx, pool, db.ReadSnapshot, fn)
	}
	records := clinical.NewRecordService(patientSvc, consultations, alerts, snapshot)

	return services{patients: patientSvc, ingest: ingest, records: records}
}

func newEcho(cfg *config.Config, logger zerolog.Logger, metrics *telemetry.Metrics, tenant echo.MiddlewareFunc, audit middleware.AuditRecorder) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	if cfg.BodyLimit != "" {
		e.Use(echomw.BodyLimit(cfg.BodyLimit))
	}
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))
	e.Use(metrics.Middleware())
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}
	e.Use(authMiddleware(cfg))
	if tenant != nil {
		e.Use(tenantScoped(tenant))
	}
	e.Use(middleware.Audit(logger, audit))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})
	e.GET("/metrics", metrics.Handler())

	return e
}

func runServer() error {
	cfg, logger, err := loadConfig(os.Stdout)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, db.PoolConfig{
		URL:              cfg.DatabaseURL,
		MaxConns:         cfg.DBMaxConns,
		MinConns:         cfg.DBMinConns,
		StatementTimeout: cfg.StoreTimeout,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	publisher, err := notification.Connect(ctx, cfg.RedisURL, cfg.AlertStream, cfg.AlertStreamMax)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to alert stream")
	}
	defer publisher.Close()
	if cfg.RedisURL == "" {
		logger.Warn().Msg("REDIS_URL not set, alert events will not be published")
	}

	hub := websocket.NewHub(logger)
	notifier := notification.Fanout{publisher, hub}
	if cfg.WebhookURL != "" {
		hook, err := webhook.New(cfg.WebhookURL, cfg.WebhookSecret)
		if err != nil {
			logger.Fatal().Err(err).Msg("invalid alert webhook")
		}
		defer hook.Close()
		notifier = append(notifier, hook)
	}

	metrics := telemetry.NewMetrics()
	svc := newServices(cfg, pool, notifier, metrics, logger)

	e := newEcho(cfg, logger, metrics, db.TenantMiddleware(pool, cfg.DefaultTenant), hipaa.NewAccessLogger(pool, cfg.StoreTimeout))
	e.GET("/health/db", db.HealthHandler(pool, cfg.StoreTimeout))

	apiV1 := e.Group("/api/v1", middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	patient.NewHandler(svc.patients).RegisterRoutes(apiV1)
	clinical.NewHandler(svc.ingest, svc.records).RegisterRoutes(apiV1)
	reporting.NewHandler(pool).RegisterRoutes(apiV1)
	websocket.NewHandler(hub, cfg.CORSOrigins).RegisterRoutes(apiV1, auth.RequireRole(auth.ClinicalStaff...))

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("env", cfg.Env).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// Hijacked live-feed connections are not tracked by the HTTP server.
	hub.Close()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
