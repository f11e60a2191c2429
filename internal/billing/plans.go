// Package billing provides plan management and limit enforcement.
package billing

import (
	"context"

	"cropsense/internal/types"
)

// PlanRegistry defines the authoritative limits for each tier.
// This is the single source of truth for what each plan allows.
type PlanRegistry interface {
	// GetLimits returns the resource limits for the given plan tier.
	// For unknown tiers, returns the most restrictive (Free) limits
	// to fail safely.
	GetLimits(tier types.PlanTier) types.PlanLimits
}

// staticPlanRegistry is a compile-time plan registry backed by an in-memory map.
type staticPlanRegistry struct {
	limits map[types.PlanTier]types.PlanLimits
}

// planDefaults defines the hardcoded plan limits.
//
//	| Plan | Fields        | Subscriptions | Spray Alerts |
//	|------|---------------|---------------|--------------|
//	| Free | 2             | 1             | No           |
//	| Pro  | 25            | 10            | Yes          |
//	| Coop | 0 (unlimited) | 0 (unlimited) | Yes          |
//
// Coop uses 0 to represent "unlimited" -- enforcement code must treat 0 as no limit.
var planDefaults = map[types.PlanTier]types.PlanLimits{
	types.PlanFree: {
		MaxFields:        2,
		MaxSubscriptions: 1,
		AllowSprayAlerts: false,
	},
	types.PlanPro: {
		MaxFields:        25,
		MaxSubscriptions: 10,
		AllowSprayAlerts: true,
	},
	types.PlanCoop: {
		MaxFields:        0, // Unlimited -- enforcement treats 0 as no limit
		MaxSubscriptions: 0, // Unlimited -- enforcement treats 0 as no limit
		AllowSprayAlerts: true,
	},
}

// freeLimits is cached to avoid map lookups on the fallback path.
var freeLimits = planDefaults[types.PlanFree]

// NewStaticPlanRegistry returns a PlanRegistry backed by the hardcoded plan
// limits. This is the standard production implementation; no database or
// external service is required.
func NewStaticPlanRegistry() PlanRegistry {
	// Copy the defaults so callers cannot mutate the package-level variable.
	m := make(map[types.PlanTier]types.PlanLimits, len(planDefaults))
	for k, v := range planDefaults {
		m[k] = v
	}
	return &staticPlanRegistry{limits: m}
}

// GetLimits returns the resource limits for the given plan tier.
// If the tier is unknown, it returns the Free tier limits as a safe default.
func (r *staticPlanRegistry) GetLimits(tier types.PlanTier) types.PlanLimits {
	if limits, ok := r.limits[tier]; ok {
		return limits
	}
	return freeLimits
}

// OrgLookup provides the minimal organization data needed for limit checks.
type OrgLookup interface {
	GetByID(ctx context.Context, id string) (*types.Organization, error)
}

// ResourceCounter provides the live counts enforcement compares against
// limits. Implemented by the field and subscription repositories.
type ResourceCounter interface {
	CountActive(ctx context.Context, orgID string) (int, error)
}

// Enforcer checks plan limits before resource creation.
type Enforcer struct {
	orgs     OrgLookup
	fields   ResourceCounter
	subs     ResourceCounter
	registry PlanRegistry
}

// NewEnforcer creates a limit enforcer.
func NewEnforcer(orgs OrgLookup, fields, subs ResourceCounter, registry PlanRegistry) *Enforcer {
	return &Enforcer{orgs: orgs, fields: fields, subs: subs, registry: registry}
}

// CheckFieldLimit verifies the organization can register one more field.
// Returns nil when allowed, ErrCodeLimitFields when the plan cap is reached.
func (e *Enforcer) CheckFieldLimit(ctx context.Context, orgID string) error {
	limits, err := e.limitsFor(ctx, orgID)
	if err != nil {
		return err
	}
	if limits.MaxFields == 0 {
		return nil
	}

	count, err := e.fields.CountActive(ctx, orgID)
	if err != nil {
		return err
	}
	if count >= limits.MaxFields {
		return types.NewAppError(types.ErrCodeLimitFields, "field limit reached for plan", nil).
			WithDetails(map[string]any{"limit": limits.MaxFields, "current": count})
	}
	return nil
}

// CheckSubscriptionLimit verifies the organization can register one more push
// subscription.
func (e *Enforcer) CheckSubscriptionLimit(ctx context.Context, orgID string) error {
	limits, err := e.limitsFor(ctx, orgID)
	if err != nil {
		return err
	}
	if limits.MaxSubscriptions == 0 {
		return nil
	}

	count, err := e.subs.CountActive(ctx, orgID)
	if err != nil {
		return err
	}
	if count >= limits.MaxSubscriptions {
		return types.NewAppError(types.ErrCodeLimitSubscriptions, "subscription limit reached for plan", nil).
			WithDetails(map[string]any{"limit": limits.MaxSubscriptions, "current": count})
	}
	return nil
}

// SprayAlertsEnabled reports whether the organization's plan includes spray
// alert delivery. Used by the advisor sweep to skip alerting for free tier
// organizations without treating it as an error.
func (e *Enforcer) SprayAlertsEnabled(ctx context.Context, orgID string) (bool, error) {
	limits, err := e.limitsFor(ctx, orgID)
	if err != nil {
		return false, err
	}
	return limits.AllowSprayAlerts, nil
}

func (e *Enforcer) limitsFor(ctx context.Context, orgID string) (types.PlanLimits, error) {
	org, err := e.orgs.GetByID(ctx, orgID)
	if err != nil {
		return types.PlanLimits{}, err
	}
	return e.registry.GetLimits(org.Plan), nil
}
