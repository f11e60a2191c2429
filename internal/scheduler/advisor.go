// Package scheduler implements the periodic advisor sweep: fetch telemetry
// for every active field, run the insight engine, archive the result, and
// enqueue spray alerts for windows opening soon.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"cropsense/internal/insights"
	"cropsense/internal/types"
	"cropsense/internal/weather"
)

// FieldSource lists the fields the sweep covers.
type FieldSource interface {
	ListActive(ctx context.Context) ([]*types.Field, error)
}

// InsightArchiver persists generated payloads for trend history.
type InsightArchiver interface {
	Save(ctx context.Context, fieldID string, payload *types.InsightPayload) error
}

// AlertGate decides whether a field's organization gets spray alerts and
// whether a given window has already been announced.
type AlertGate interface {
	SprayAlertsEnabled(ctx context.Context, orgID string) (bool, error)
	MarkAlerted(ctx context.Context, fieldID string, windowStart time.Time) (bool, error)
}

// AlertPublisher enqueues an alert for downstream delivery.
type AlertPublisher interface {
	EnqueueSprayAlert(ctx context.Context, field *types.Field, window types.SprayWindow, reason string) error
}

// ForecastFetcher is the telemetry source for the sweep.
type ForecastFetcher interface {
	Fetch(ctx context.Context, lat, lon float64) (*weather.ForecastResponse, error)
}

// SweepResult summarizes one advisor run for logging and metrics.
type SweepResult struct {
	FieldsTotal    int
	FieldsFailed   int
	AlertsEnqueued int
}

// Advisor runs the sweep. Fields are processed concurrently with a bounded
// worker count; one field's failure never aborts the others.
type Advisor struct {
	fields      FieldSource
	fetcher     ForecastFetcher
	engine      *insights.Engine
	archiver    InsightArchiver
	gate        AlertGate
	publisher   AlertPublisher
	concurrency int
	leadWindow  time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// AdvisorConfig bundles the tuning knobs for NewAdvisor.
type AdvisorConfig struct {
	Concurrency int
	// LeadWindow is how far ahead a safe window's start may be for it to
	// count as "opening soon" and trigger an alert.
	LeadWindow time.Duration
}

// NewAdvisor wires an advisor sweep.
func NewAdvisor(
	fields FieldSource,
	fetcher ForecastFetcher,
	engine *insights.Engine,
	archiver InsightArchiver,
	gate AlertGate,
	publisher AlertPublisher,
	cfg AdvisorConfig,
	logger *slog.Logger,
) *Advisor {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.LeadWindow <= 0 {
		cfg.LeadWindow = 6 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Advisor{
		fields:      fields,
		fetcher:     fetcher,
		engine:      engine,
		archiver:    archiver,
		gate:        gate,
		publisher:   publisher,
		concurrency: cfg.Concurrency,
		leadWindow:  cfg.LeadWindow,
		logger:      logger,
		now:         time.Now,
	}
}

// Sweep processes every active field once. Per-field errors are logged and
// counted but not propagated; the sweep itself fails only when the field
// listing fails.
func (a *Advisor) Sweep(ctx context.Context) (SweepResult, error) {
	fields, err := a.fields.ListActive(ctx)
	if err != nil {
		return SweepResult{}, err
	}

	var mu sync.Mutex
	result := SweepResult{FieldsTotal: len(fields)}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for _, field := range fields {
		field := field
		g.Go(func() error {
			enqueued, err := a.processField(gCtx, field)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.FieldsFailed++
				a.logger.WarnContext(gCtx, "advisor field sweep failed",
					"field_id", field.ID,
					"organization_id", field.OrganizationID,
					"error", err,
				)
				// Do not propagate; allow other fields to proceed.
				return nil
			}
			if enqueued {
				result.AlertsEnqueued++
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}

	a.logger.InfoContext(ctx, "advisor sweep complete",
		"fields_total", result.FieldsTotal,
		"fields_failed", result.FieldsFailed,
		"alerts_enqueued", result.AlertsEnqueued,
	)
	return result, nil
}

// processField fetches telemetry, runs the engine, archives the payload, and
// enqueues an alert when an upcoming safe window qualifies. Returns whether
// an alert was enqueued.
func (a *Advisor) processField(ctx context.Context, field *types.Field) (bool, error) {
	raw, err := a.fetcher.Fetch(ctx, field.Location.Lat, field.Location.Lon)
	if err != nil {
		return false, err
	}

	payload, err := a.engine.AnalyzeRaw(raw, field.Location)
	if err != nil {
		return false, err
	}

	if err := a.archiver.Save(ctx, field.ID, payload); err != nil {
		// Archival failure should not block alerting.
		a.logger.WarnContext(ctx, "insight archival failed",
			"field_id", field.ID,
			"error", err,
		)
	}

	window, ok := a.upcomingWindow(payload)
	if !ok {
		return false, nil
	}

	enabled, err := a.gate.SprayAlertsEnabled(ctx, field.OrganizationID)
	if err != nil {
		return false, err
	}
	if !enabled {
		return false, nil
	}

	won, err := a.gate.MarkAlerted(ctx, field.ID, window.Start)
	if err != nil {
		return false, err
	}
	if !won {
		return false, nil
	}

	if err := a.publisher.EnqueueSprayAlert(ctx, field, window, "window_opening"); err != nil {
		return false, err
	}
	return true, nil
}

// upcomingWindow returns the first reported spray window that starts within
// the lead window while conditions right now are not already safe. Alerting
// on a window that has effectively begun (current status safe) would be
// noise.
func (a *Advisor) upcomingWindow(payload *types.InsightPayload) (types.SprayWindow, bool) {
	guide := payload.SprayGuide
	if guide.Insufficient || guide.Status == types.SprayStatusSafe {
		return types.SprayWindow{}, false
	}

	now := a.now().UTC()
	for _, w := range guide.Windows {
		if w.Start.Before(now) {
			continue
		}
		if w.Start.Sub(now) <= a.leadWindow {
			return w, true
		}
	}
	return types.SprayWindow{}, false
}
