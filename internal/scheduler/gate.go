package scheduler

import (
	"context"
	"time"
)

// PlanPolicy answers whether an organization's plan includes spray alerts.
type PlanPolicy interface {
	SprayAlertsEnabled(ctx context.Context, orgID string) (bool, error)
}

// ClaimStore records which (field, window start) pairs have already been
// announced, so repeated sweeps do not duplicate alerts.
type ClaimStore interface {
	MarkAlerted(ctx context.Context, fieldID string, windowStart time.Time) (bool, error)
}

// PlanAlertGate is the production AlertGate: billing policy plus the alert
// state table.
type PlanAlertGate struct {
	policy PlanPolicy
	claims ClaimStore
}

// NewPlanAlertGate combines a plan policy and a claim store into an AlertGate.
func NewPlanAlertGate(policy PlanPolicy, claims ClaimStore) *PlanAlertGate {
	return &PlanAlertGate{policy: policy, claims: claims}
}

func (g *PlanAlertGate) SprayAlertsEnabled(ctx context.Context, orgID string) (bool, error) {
	return g.policy.SprayAlertsEnabled(ctx, orgID)
}

func (g *PlanAlertGate) MarkAlerted(ctx context.Context, fieldID string, windowStart time.Time) (bool, error) {
	return g.claims.MarkAlerted(ctx, fieldID, windowStart)
}
