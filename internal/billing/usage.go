package billing

import (
	"context"
	"log/slog"

	"cropsense/internal/types"
)

// MeterRecorder submits usage increments to the billing provider.
// Implemented by external.StripeClient.
type MeterRecorder interface {
	RecordMeterEvent(ctx context.Context, customerID string, eventName string, value int64) error
}

// UsageReporter reports metered insight requests for organizations on a
// usage-billed plan. Reporting is best effort: a billing hiccup must never
// fail the insight request that triggered it.
type UsageReporter struct {
	orgs      OrgLookup
	recorder  MeterRecorder
	meterName string
	logger    *slog.Logger
}

// NewUsageReporter creates a usage reporter for the named billing meter.
func NewUsageReporter(orgs OrgLookup, recorder MeterRecorder, meterName string, logger *slog.Logger) *UsageReporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageReporter{
		orgs:      orgs,
		recorder:  recorder,
		meterName: meterName,
		logger:    logger,
	}
}

// ReportInsightRequest records one insight request against the organization's
// usage meter. Free and flat-rate tiers are skipped, as are organizations
// that have not completed Stripe onboarding yet.
func (u *UsageReporter) ReportInsightRequest(ctx context.Context, orgID string) {
	org, err := u.orgs.GetByID(ctx, orgID)
	if err != nil {
		u.logger.WarnContext(ctx, "usage reporting skipped: org lookup failed",
			"org_id", orgID,
			"error", err,
		)
		return
	}

	if org.Plan != types.PlanPro || org.StripeCustomerID == "" {
		return
	}

	if err := u.recorder.RecordMeterEvent(ctx, org.StripeCustomerID, u.meterName, 1); err != nil {
		u.logger.WarnContext(ctx, "usage reporting failed",
			"org_id", orgID,
			"customer_id", org.StripeCustomerID,
			"meter", u.meterName,
			"error", err,
		)
	}
}
