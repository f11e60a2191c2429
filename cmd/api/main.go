// Package main is the entry point for the CropSense API server.
//
// It loads configuration, connects the Postgres pool and AWS clients, wires
// the repositories and domain services into the HTTP chassis, and serves
// requests until a shutdown signal arrives.
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

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"cropsense/internal/api/handlers"
	"cropsense/internal/auth"
	"cropsense/internal/billing"
	"cropsense/internal/config"
	"cropsense/internal/core"
	"cropsense/internal/db"
	"cropsense/internal/external"
	"cropsense/internal/insights"
	"cropsense/internal/metrics"
	"cropsense/internal/weather"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("cropsense API starting",
		"environment", cfg.Environment,
		"port", cfg.Server.Port,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database.URL, int32(cfg.Database.MaxConns))
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	// Repositories.
	orgRepo := db.NewOrganizationRepository(pool)
	fieldRepo := db.NewFieldRepository(pool)
	apiKeyRepo := db.NewAPIKeyRepository(pool)
	subRepo := db.NewPushSubscriptionRepository(pool)
	insightRepo, err := db.NewInsightRepository(pool)
	if err != nil {
		return fmt.Errorf("initializing insight archive: %w", err)
	}

	// AWS clients for metrics.
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return fmt.Errorf("loading AWS configuration: %w", err)
	}
	collector := metrics.NewCloudWatchCollector(
		cloudwatch.NewFromConfig(awsCfg),
		cfg.AWS.MetricsNamespace,
		logger,
	)

	// Outbound provider clients.
	weatherClient := weather.NewClient(
		external.NewBaseClient(
			&http.Client{Timeout: cfg.Weather.Timeout},
			"open-meteo",
			external.DefaultRetryPolicy(),
			cfg.Weather.UserAgent,
		),
		cfg.Weather.BaseURL,
		logger,
	)
	geocoder := external.NewGeocoder(
		external.NewBaseClient(
			&http.Client{Timeout: cfg.Geocoder.Timeout},
			"geocoder",
			external.DefaultRetryPolicy(),
			cfg.Weather.UserAgent,
		),
		cfg.Geocoder.BaseURL,
		logger,
	)
	stripeClient := external.NewStripeClient(
		external.NewBaseClient(
			&http.Client{Timeout: 15 * time.Second},
			"stripe",
			external.DefaultRetryPolicy(),
			cfg.Weather.UserAgent,
		),
		orgRepo,
		external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey,
			Logger:    logger,
		},
	)

	// Domain services.
	authSvc := auth.NewService(apiKeyRepo, logger)
	enforcer := billing.NewEnforcer(orgRepo, fieldRepo, subRepo, billing.NewStaticPlanRegistry())
	insightSvc := insights.NewService(weatherClient, insights.NewEngine(), fieldRepo, insightRepo, logger)

	// Usage metering only runs with a billing provider configured.
	var usageReporter handlers.UsageReporterInterface
	if cfg.Billing.StripeSecretKey != "" {
		usageReporter = billing.NewUsageReporter(orgRepo, stripeClient, cfg.Billing.UsageMeterName, logger)
	}

	// HTTP chassis.
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	srv.Metrics = collector
	srv.Authenticator = authSvc
	srv.HealthProbes = []core.HealthProbe{db.NewPoolProbe(pool)}

	insightHandler := handlers.NewInsightHandler(insightSvc, usageReporter, srv.Validator, logger)
	fieldHandler := handlers.NewFieldHandler(fieldRepo, enforcer, geocoder, srv.Validator, logger)
	subHandler := handlers.NewSubscriptionHandler(subRepo, enforcer, srv.Validator, logger)
	billingHandler := handlers.NewBillingHandler(stripeClient, orgRepo, srv.Validator, logger)
	webhookHandler := handlers.NewStripeWebhookHandler(
		&external.StripeVerifier{},
		orgRepo,
		cfg.Billing.StripeWebhookSecret,
		logger,
	)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		insightHandler.RegisterRoutes,
		fieldHandler.RegisterRoutes,
		subHandler.RegisterRoutes,
		billingHandler.RegisterRoutes,
	)
	srv.PublicRouteRegistrars = append(srv.PublicRouteRegistrars,
		webhookHandler.RegisterRoutes,
	)
	srv.MountRoutes()

	return runHTTPServer(srv, cfg, logger)
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
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

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler)
}
