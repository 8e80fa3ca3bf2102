// Package main is the entry point for the membergate API server.
//
// It loads configuration, installs tracing when an OTLP endpoint is set,
// opens the database pool, wires the Stripe client, webhook processor and
// billing service into the HTTP chassis, and serves until SIGINT or SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"membergate/internal/api/handlers"
	"membergate/internal/billing"
	"membergate/internal/config"
	"membergate/internal/core"
	"membergate/internal/db"
	"membergate/internal/external"
	"membergate/internal/queue"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadConfig(secretProvider())
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)
	logger.Info("membergate API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"port", cfg.Server.Port,
	)

	shutdownTracing, err := setupTracing(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flushing traces", "error", err)
		}
	}()

	if cfg.Database.RunMigrations {
		if err := migrateUp(cfg.Database.URL.Unmask(), logger); err != nil {
			return err
		}
	}

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer pool.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	billingMetrics := billing.NewMetrics(registry)

	stripeClient := external.NewStripeClient(
		&http.Client{Timeout: cfg.Stripe.Timeout},
		external.StripeClientConfig{
			SecretKey: cfg.Stripe.SecretKey.Unmask(),
			BaseURL:   cfg.Stripe.APIBase,
			Logger:    logger,
		},
	)

	publisher, err := newPublisher(ctx, cfg.AWS, logger)
	if err != nil {
		return err
	}

	repo := db.NewBillingRepository(pool)
	processor := billing.NewProcessor(
		external.NewStripeVerifier(),
		billing.NewTxRunner(db.NewTxManager(pool)),
		publisher,
		billing.ProcessorConfig{WebhookSecret: cfg.Stripe.WebhookSecret.Unmask()},
		billingMetrics,
		logger,
	)
	service := billing.NewService(repo, stripeClient, billing.ServiceConfig{
		FrontendURL:    cfg.Server.FrontendURL,
		PriceID:        cfg.Stripe.PriceID,
		PublishableKey: cfg.Stripe.PublishableKey,
	}, billingMetrics, logger)

	deps := serverDeps{
		Billing:  service,
		Webhooks: processor,
		Registry: registry,
		Checks:   []core.HealthCheck{core.DatabaseCheck(pool)},
	}

	if !cfg.Redis.URL.IsZero() {
		rdb, err := core.NewRedisClient(ctx, cfg.Redis.URL.Unmask())
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer func() { _ = rdb.Close() }()
		deps.RateLimit = core.NewRedisRateLimitStore(rdb, "membergate:ratelimit:")
		deps.Checks = append(deps.Checks, core.RedisCheck(rdb))
	} else {
		logger.Warn("REDIS_URL not set; session rate limiting disabled")
	}

	srv, err := buildServer(cfg, logger, deps)
	if err != nil {
		return err
	}
	return serve(ctx, srv, cfg, logger)
}

// serverDeps are the domain services and backends mounted on the chassis.
type serverDeps struct {
	Billing   handlers.BillingService
	Webhooks  handlers.WebhookProcessor
	Registry  *prometheus.Registry
	Checks    []core.HealthCheck
	RateLimit core.RateLimitStore
}

// buildServer assembles the chassis, registers the billing and webhook
// routes and mounts everything.
func buildServer(cfg *config.Config, logger *slog.Logger, deps serverDeps) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}

	srv.Authenticator = core.NewJWTAuthenticator(cfg.Auth.JWTSecret.Unmask(), cfg.Auth.JWTIssuer)
	srv.HealthChecks = deps.Checks
	if deps.RateLimit != nil {
		srv.RateLimitStore = deps.RateLimit
	}
	if deps.Registry != nil {
		srv.Metrics = core.NewHTTPMetrics(deps.Registry)
		srv.MetricsHandler = promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})
	}

	billingHandler := handlers.NewBillingHandler(deps.Billing, srv.Validator, logger)
	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars, billingHandler.RegisterRoutes)

	webhookHandler := handlers.NewStripeWebhookHandler(deps.Webhooks, logger)
	srv.RootRouteRegistrars = append(srv.RootRouteRegistrars, webhookHandler.RegisterRoutes)

	srv.MountRoutes()
	return srv, nil
}

// serve runs the HTTP server until ctx is cancelled, then drains in-flight
// requests within the shutdown timeout.
func serve(ctx context.Context, srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server stopped cleanly")
	return nil
}

// newPublisher returns the SQS entitlement publisher, or nil when no queue
// is configured.
func newPublisher(ctx context.Context, cfg config.AWSConfig, logger *slog.Logger) (billing.EntitlementPublisher, error) {
	if cfg.EntitlementsQueue == "" {
		logger.Warn("SQS_ENTITLEMENTS not set; entitlement changes will not be published")
		return nil, nil
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}
	})
	return queue.NewEntitlementPublisher(client, cfg, logger), nil
}

func migrateUp(databaseURL string, logger *slog.Logger) error {
	m, err := db.NewMigrator(databaseURL, logger)
	if err != nil {
		return err
	}
	defer func() { _ = m.Close() }()
	return m.Up()
}

// secretProvider returns the SSM provider outside local development.
func secretProvider() config.SecretProvider {
	if os.Getenv("APP_ENV") == "local" {
		return nil
	}
	region := os.Getenv("AWS_REGION")
	if region == "" {
		region = "us-east-1"
	}
	return config.NewSSMProvider(region)
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
