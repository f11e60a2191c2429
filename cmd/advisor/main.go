// Package main is the entry point for the advisor Lambda function.
//
// The advisor runs on an EventBridge schedule. Each invocation sweeps every
// active field: fetch fresh telemetry, run the insight engine, archive the
// payload for trend history, and enqueue a spray alert when a safe window is
// about to open for an organization whose plan includes alerts. It also
// prunes old alert state rows so the dedupe table stays bounded.
//
// This file handles dependency wiring (cold start) and delegates the sweep
// logic to the internal/scheduler package.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"cropsense/internal/billing"
	"cropsense/internal/config"
	"cropsense/internal/db"
	"cropsense/internal/external"
	"cropsense/internal/insights"
	"cropsense/internal/queue"
	"cropsense/internal/scheduler"
	"cropsense/internal/types"
	"cropsense/internal/weather"
)

// alertStateRetention bounds the dedupe table. A window start older than
// this can never be re-alerted anyway, so its claim row is dead weight.
const alertStateRetention = 7 * 24 * time.Hour

// AdvisorInput is the (normally empty) EventBridge invocation payload.
// DryRun runs the sweep without enqueueing alerts, for operational checks.
type AdvisorInput struct {
	DryRun bool `json:"dry_run"`
}

// nopPublisher satisfies scheduler.AlertPublisher while discarding alerts.
// Used for dry runs.
type nopPublisher struct {
	logger *slog.Logger
}

func (p *nopPublisher) EnqueueSprayAlert(ctx context.Context, field *types.Field, window types.SprayWindow, reason string) error {
	p.logger.InfoContext(ctx, "dry run: alert suppressed",
		"field_id", field.ID,
		"window_start", window.Start,
		"reason", reason,
	)
	return nil
}

// nopClaims always wins the dedupe claim without persisting it, so a dry run
// never blocks a later real alert for the same window.
type nopClaims struct{}

func (nopClaims) MarkAlerted(context.Context, string, time.Time) (bool, error) {
	return true, nil
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: loading configuration: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	logger.Info("advisor initializing")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg.Database.URL, int32(cfg.Database.MaxConns))
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		logger.Error("failed to load AWS configuration", "error", err)
		os.Exit(1)
	}

	orgRepo := db.NewOrganizationRepository(pool)
	fieldRepo := db.NewFieldRepository(pool)
	subRepo := db.NewPushSubscriptionRepository(pool)
	alertRepo := db.NewAlertStateRepository(pool)
	insightRepo, err := db.NewInsightRepository(pool)
	if err != nil {
		logger.Error("failed to initialize insight archive", "error", err)
		os.Exit(1)
	}

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

	enforcer := billing.NewEnforcer(orgRepo, fieldRepo, subRepo, billing.NewStaticPlanRegistry())
	trigger := queue.NewAlertTrigger(sqs.NewFromConfig(awsCfg), cfg.AWS.AlertQueueURL, logger)
	gate := scheduler.NewPlanAlertGate(enforcer, alertRepo)
	engine := insights.NewEngine()
	advisorCfg := scheduler.AdvisorConfig{
		Concurrency: cfg.Scheduler.Concurrency,
		LeadWindow:  cfg.Scheduler.AlertLeadWindow,
	}

	advisor := scheduler.NewAdvisor(
		fieldRepo, weatherClient, engine, insightRepo, gate, trigger, advisorCfg, logger,
	)
	dryGate := scheduler.NewPlanAlertGate(enforcer, nopClaims{})
	dryAdvisor := scheduler.NewAdvisor(
		fieldRepo, weatherClient, engine, insightRepo, dryGate, &nopPublisher{logger: logger}, advisorCfg, logger,
	)

	logger.Info("advisor initialized",
		"concurrency", cfg.Scheduler.Concurrency,
		"lead_window", cfg.Scheduler.AlertLeadWindow.String(),
		"alert_queue", cfg.AWS.AlertQueueURL,
	)

	lambda.Start(newHandler(advisor, dryAdvisor, alertRepo, logger))
}

// fieldSweeper is the slice of scheduler.Advisor the handler drives.
type fieldSweeper interface {
	Sweep(ctx context.Context) (scheduler.SweepResult, error)
}

// alertStatePruner is the slice of db.AlertStateRepository the handler uses
// for dedupe housekeeping.
type alertStatePruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// newHandler wraps the sweep with alert state pruning and result reporting.
func newHandler(advisor, dryAdvisor fieldSweeper, alertRepo alertStatePruner, logger *slog.Logger) func(ctx context.Context, input AdvisorInput) (string, error) {
	return func(ctx context.Context, input AdvisorInput) (string, error) {
		logger.InfoContext(ctx, "advisor handler invoked", "dry_run", input.DryRun)

		sweep := advisor
		if input.DryRun {
			sweep = dryAdvisor
		}

		result, err := sweep.Sweep(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "advisor sweep failed", "error", err)
			return "", fmt.Errorf("advisor sweep failed: %w", err)
		}

		var pruned int64
		if !input.DryRun {
			cutoff := time.Now().UTC().Add(-alertStateRetention)
			pruned, err = alertRepo.PruneBefore(ctx, cutoff)
			if err != nil {
				// Pruning is housekeeping; a failure never fails the sweep.
				logger.WarnContext(ctx, "alert state pruning failed", "error", err)
			}
		}

		summary := fmt.Sprintf("sweep complete: %d fields, %d failed, %d alerts enqueued",
			result.FieldsTotal, result.FieldsFailed, result.AlertsEnqueued)
		logger.InfoContext(ctx, summary,
			"fields_total", result.FieldsTotal,
			"fields_failed", result.FieldsFailed,
			"alerts_enqueued", result.AlertsEnqueued,
			"alert_state_pruned", pruned,
		)

		return summary, nil
	}
}
