package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"cropsense/internal/types"
)

// OrganizationRepository provides data access for the organizations table.
type OrganizationRepository struct {
	db DBTX
}

// NewOrganizationRepository creates a new OrganizationRepository.
func NewOrganizationRepository(db DBTX) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

const orgColumns = `id, name, plan, stripe_customer_id, created_at, deleted_at`

// Create inserts a new organization record.
func (r *OrganizationRepository) Create(ctx context.Context, org *types.Organization) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO organizations (id, name, plan, stripe_customer_id, created_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`,
		org.ID,
		org.Name,
		org.Plan,
		nilIfEmptyString(org.StripeCustomerID),
		nilIfZeroTime(org.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create organization", err)
	}
	return nil
}

// GetByID retrieves an organization by ID. Soft-deleted organizations are
// treated as not found.
func (r *OrganizationRepository) GetByID(ctx context.Context, id string) (*types.Organization, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+orgColumns+` FROM organizations WHERE id = $1 AND deleted_at IS NULL`,
		id,
	)

	org, err := scanOrganization(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve organization", err)
	}
	return org, nil
}

// UpdatePlan changes an organization's plan tier. Plan changes take effect on
// the next limit check; existing resources above the new limit are kept but
// no new ones can be created.
func (r *OrganizationRepository) UpdatePlan(ctx context.Context, id string, plan types.PlanTier) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE organizations SET plan = $1 WHERE id = $2 AND deleted_at IS NULL`,
		plan,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update organization plan", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found", nil)
	}
	return nil
}

// UpdateStripeCustomerID records the Stripe customer associated with an
// organization after lazy creation.
func (r *OrganizationRepository) UpdateStripeCustomerID(ctx context.Context, id string, customerID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE organizations SET stripe_customer_id = $1 WHERE id = $2 AND deleted_at IS NULL`,
		customerID,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update stripe customer id", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundOrg, "organization not found", nil)
	}
	return nil
}

func scanOrganization(row pgx.Row) (*types.Organization, error) {
	var org types.Organization
	var stripeID *string
	err := row.Scan(
		&org.ID,
		&org.Name,
		&org.Plan,
		&stripeID,
		&org.CreatedAt,
		&org.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if stripeID != nil {
		org.StripeCustomerID = *stripeID
	}
	return &org, nil
}
