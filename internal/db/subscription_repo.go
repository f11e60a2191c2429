package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"cropsense/internal/types"
)

// PushSubscriptionRepository provides data access for the push_subscriptions
// table.
type PushSubscriptionRepository struct {
	db DBTX
}

// NewPushSubscriptionRepository creates a new PushSubscriptionRepository.
func NewPushSubscriptionRepository(db DBTX) *PushSubscriptionRepository {
	return &PushSubscriptionRepository{db: db}
}

const subscriptionColumns = `id, organization_id, endpoint, keys, created_at, disabled_at`

// Create inserts a new push subscription. The endpoint has a unique index per
// organization; re-registering an existing endpoint returns
// ErrCodeConflictSubscription.
func (r *PushSubscriptionRepository) Create(ctx context.Context, sub *types.PushSubscription) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO push_subscriptions (id, organization_id, endpoint, keys, created_at)
		 VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`,
		sub.ID,
		sub.OrganizationID,
		sub.Endpoint,
		sub.Keys,
		nilIfZeroTime(sub.CreatedAt),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if isUniqueViolation(err, &pgErr) {
			return types.NewAppError(types.ErrCodeConflictSubscription, "subscription already exists for this endpoint", err)
		}
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create push subscription", err)
	}
	return nil
}

// ListActiveByOrganization retrieves all enabled subscriptions for an
// organization. These are the delivery targets for spray alerts.
func (r *PushSubscriptionRepository) ListActiveByOrganization(ctx context.Context, orgID string) ([]*types.PushSubscription, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+subscriptionColumns+` FROM push_subscriptions
		 WHERE organization_id = $1 AND disabled_at IS NULL
		 ORDER BY created_at`,
		orgID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query push subscriptions", err)
	}
	defer rows.Close()

	var results []*types.PushSubscription
	for rows.Next() {
		sub, scanErr := scanSubscription(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan subscription row", scanErr)
		}
		results = append(results, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating subscription rows", err)
	}
	return results, nil
}

// Disable deactivates a subscription. Called both by the API (user
// unsubscribes) and by the alert worker when the push relay reports the
// endpoint as gone.
func (r *PushSubscriptionRepository) Disable(ctx context.Context, id string, orgID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE push_subscriptions SET disabled_at = NOW()
		 WHERE id = $1 AND organization_id = $2 AND disabled_at IS NULL`,
		id,
		orgID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to disable push subscription", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSubscription, "subscription not found or already disabled", nil)
	}
	return nil
}

// CountActive returns the number of enabled subscriptions for an
// organization. Used for plan limit enforcement.
func (r *PushSubscriptionRepository) CountActive(ctx context.Context, orgID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM push_subscriptions
		 WHERE organization_id = $1 AND disabled_at IS NULL`,
		orgID,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count push subscriptions", err)
	}
	return count, nil
}

func scanSubscription(rows pgx.Rows) (*types.PushSubscription, error) {
	var sub types.PushSubscription
	err := rows.Scan(
		&sub.ID,
		&sub.OrganizationID,
		&sub.Endpoint,
		&sub.Keys,
		&sub.CreatedAt,
		&sub.DisabledAt,
	)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// isUniqueViolation reports whether err is a Postgres unique constraint
// violation, populating target when it is.
func isUniqueViolation(err error, target **pgconn.PgError) bool {
	if !errors.As(err, target) {
		return false
	}
	return (*target).Code == "23505"
}
