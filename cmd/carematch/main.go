package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/carematch/internal/config"
	"github.com/ehr/carematch/internal/domain/demand"
	"github.com/ehr/carematch/internal/domain/matching"
	"github.com/ehr/carematch/internal/platform/affinity"
	"github.com/ehr/carematch/internal/platform/auth"
	"github.com/ehr/carematch/internal/platform/db"
	"github.com/ehr/carematch/internal/platform/metrics"
	"github.com/ehr/carematch/internal/platform/middleware"
	"github.com/ehr/carematch/internal/platform/webhook"
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "carematch",
		Short:        "Patient to caregiver matching and scheduling",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(forecastCmd())
	rootCmd.AddCommand(migrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the matching API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(cfg *config.Config, out io.Writer) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	if cfg.IsDev() {
		out = zerolog.ConsoleWriter{Out: out}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// app holds the wired dependencies shared by serve and schedule. Only serve
// runs a delivery worker, so webhooks is nil for schedule.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	metrics  *metrics.Recorder
	pool     *pgxpool.Pool
	service  *matching.Service
	webhooks *webhook.Manager
}

func newApp(ctx context.Context, cfg *config.Config, logger zerolog.Logger, withWebhooks bool) (*app, error) {
	policy, err := config.LoadPolicy(cfg.UrgencyPolicyFile)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	repo := matching.NewMemoryRepo()
	if cfg.UsesDatabase() {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBSchema, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.pool = pool
		repo = matching.NewPracticeRepoPG(pool)
		logger.Info().Str("schema", cfg.DBSchema).Msg("connected to database")
	} else {
		logger.Warn().Msg("DATABASE_URL not set, practices are kept in memory")
	}

	opts := []matching.ServiceOption{
		matching.WithRecorder(a.metrics),
		matching.WithServiceLogger(logger),
	}
	if withWebhooks {
		a.webhooks = webhook.NewManager(webhook.NewMemoryStore(100),
			webhook.WithHTTPClient(&http.Client{Timeout: cfg.WebhookTimeout}),
			webhook.WithMaxRetries(cfg.WebhookRetries),
			webhook.WithQueueSize(cfg.WebhookQueueSize),
			webhook.WithObserver(a.metrics.ObserveWebhook),
			webhook.WithLogger(logger),
		)
		opts = append(opts, matching.WithNotifier(a.webhooks))
	}

	engine := matching.NewEngine(a.scorer(),
		matching.WithPolicy(policy),
		matching.WithLogger(logger),
	)
	a.service = matching.NewService(repo, engine, opts...)
	return a, nil
}

func (a *app) scorer() matching.AffinityScorer {
	if a.cfg.AffinityURL == "" {
		a.logger.Info().Msg("AFFINITY_URL not set, affinity scores are neutral")
		return affinity.Neutral{}
	}
	client := affinity.NewClient(a.cfg.AffinityURL,
		affinity.WithHTTPClient(&http.Client{Timeout: a.cfg.AffinityTimeout}),
		affinity.WithRateLimit(a.cfg.AffinityRPS, a.cfg.AffinityBurst),
		affinity.WithObserver(a.metrics.ObserveAffinity),
		affinity.WithLogger(a.logger),
	)
	return affinity.NewCache(client, a.cfg.AffinityCacheSize)
}

func (a *app) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}

func (a *app) router() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(a.metrics.Middleware())
	e.Use(middleware.BodyLimit(a.cfg.BodyLimit))

	var pinger db.Pinger
	var stats func() *db.PoolStats
	if a.pool != nil {
		pinger = a.pool
		stats = func() *db.PoolStats { return db.GetPoolStats(a.pool) }
	}
	e.GET("/health", db.HealthHandler(pinger, stats))
	e.GET("/metrics", a.metrics.Handler())

	apiV1 := e.Group("/api/v1")
	if a.cfg.IsDev() {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     a.cfg.AuthIssuer,
			Audience:   a.cfg.AuthAudience,
			SigningKey: []byte(a.cfg.AuthSigningKey),
		}))
	}
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: a.cfg.RateLimitRPS,
		BurstSize:         a.cfg.RateLimitBurst,
		IdleTTL:           10 * time.Minute,
	}))

	matching.NewHandler(a.service).RegisterRoutes(apiV1)
	demand.NewHandler().RegisterRoutes(apiV1)
	if a.webhooks != nil {
		webhook.NewHandler(a.webhooks).RegisterRoutes(apiV1)
	}
	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a, err := newApp(ctx, cfg, logger, true)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start")
	}
	defer a.Close()
	go a.webhooks.Run(ctx)

	e := a.router()
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
	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}
