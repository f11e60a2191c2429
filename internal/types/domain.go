package types

import "time"

// Location represents a geographic coordinate with an optional display name.
type Location struct {
	Lat         float64 `json:"lat" db:"location_lat"`
	Lon         float64 `json:"lon" db:"location_lon"`
	DisplayName string  `json:"display_name,omitempty" db:"location_display_name"`
}

// FieldStatus represents the lifecycle state of a field.
type FieldStatus string

const (
	FieldStatusActive   FieldStatus = "active"
	FieldStatusArchived FieldStatus = "archived"
)

// Field is the core domain entity: a registered plot of land whose coordinates
// drive telemetry fetches, insight generation, and spray alerting.
type Field struct {
	ID             string      `json:"id" db:"id"`
	OrganizationID string      `json:"organization_id" db:"organization_id"`
	Name           string      `json:"name" db:"name"`
	Crop           string      `json:"crop,omitempty" db:"crop"`
	Location       Location    `json:"location" db:"-"`
	Status         FieldStatus `json:"status" db:"status"`
	CreatedAt      time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at" db:"updated_at"`
	ArchivedAt     *time.Time  `json:"archived_at,omitempty" db:"archived_at"`
}

// ListFieldsParams defines filtering options for listing fields.
type ListFieldsParams struct {
	IncludeArchived bool
	Limit           int
	Cursor          string
}

// PlanTier identifies the billing plan for an organization.
type PlanTier string

const (
	PlanFree PlanTier = "free"
	PlanPro  PlanTier = "pro"
	PlanCoop PlanTier = "coop"
)

// PlanLimits defines the resource limits enforced for a plan tier.
// Zero means unlimited; enforcement code must treat 0 as no limit.
type PlanLimits struct {
	MaxFields        int  `json:"max_fields"`
	MaxSubscriptions int  `json:"max_subscriptions"`
	AllowSprayAlerts bool `json:"allow_spray_alerts"`
}

// Organization represents a billable entity (a farm or cooperative) that owns
// fields and push subscriptions.
type Organization struct {
	ID               string     `json:"id" db:"id"`
	Name             string     `json:"name" db:"name"`
	Plan             PlanTier   `json:"plan" db:"plan"`
	StripeCustomerID string     `json:"-" db:"stripe_customer_id"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	DeletedAt        *time.Time `json:"-" db:"deleted_at"`
}

// APIKey represents a hashed API key for programmatic access. The raw key is
// shown once at creation; only the bcrypt hash and lookup prefix are stored.
type APIKey struct {
	ID             string     `json:"id" db:"id"`
	OrganizationID string     `json:"organization_id" db:"organization_id"`
	KeyPrefix      string     `json:"key_prefix" db:"key_prefix"`
	KeyHash        string     `json:"-" db:"key_hash"`
	Name           string     `json:"name" db:"name"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	RevokedAt      *time.Time `json:"-" db:"revoked_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
}

// PushSubscription is a registered delivery target for spray alerts.
// Endpoint is the push relay URL for the device; Keys carries the client
// encryption material opaque to this service.
type PushSubscription struct {
	ID             string     `json:"id" db:"id"`
	OrganizationID string     `json:"organization_id" db:"organization_id"`
	Endpoint       string     `json:"endpoint" db:"endpoint"`
	Keys           string     `json:"-" db:"keys"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	DisabledAt     *time.Time `json:"-" db:"disabled_at"`
}

// InsightRecord is one archived insight payload for a field, stored as
// zstd-compressed JSON for trend display.
type InsightRecord struct {
	FieldID     string    `json:"field_id" db:"field_id"`
	GeneratedAt time.Time `json:"generated_at" db:"generated_at"`
	Payload     []byte    `json:"-" db:"payload"`
}
