package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"cropsense/internal/types"
)

// FieldRepository provides data access for the fields table.
type FieldRepository struct {
	db DBTX
}

// NewFieldRepository creates a new FieldRepository backed by the given
// database connection (pool or transaction).
func NewFieldRepository(db DBTX) *FieldRepository {
	return &FieldRepository{db: db}
}

// fieldColumns defines the standard set of columns selected for field queries.
const fieldColumns = `id, organization_id, name, crop, location_lat,
	location_lon, location_display_name, status, created_at, updated_at,
	archived_at`

// Create inserts a new field record.
func (r *FieldRepository) Create(ctx context.Context, field *types.Field) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO fields (id, organization_id, name, crop, location_lat,
		 location_lon, location_display_name, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, COALESCE($9, NOW()), COALESCE($9, NOW()))`,
		field.ID,
		field.OrganizationID,
		field.Name,
		nilIfEmptyString(field.Crop),
		field.Location.Lat,
		field.Location.Lon,
		nilIfEmptyString(field.Location.DisplayName),
		field.Status,
		nilIfZeroTime(field.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create field", err)
	}
	return nil
}

// GetByID retrieves a field by ID and organization, verifying ownership.
// Returns ErrCodeNotFoundField if the field does not exist or belongs to a
// different organization.
func (r *FieldRepository) GetByID(ctx context.Context, id string, orgID string) (*types.Field, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT %s FROM fields WHERE id = $1 AND organization_id = $2`, fieldColumns),
		id,
		orgID,
	)

	field, err := scanFieldRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundField, "field not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve field", err)
	}
	return field, nil
}

// List retrieves fields for an organization with cursor pagination on
// created_at. Archived fields are excluded unless IncludeArchived is set.
// Returns up to limit+1 rows; the handler detects pagination from the extra
// row and trims it.
func (r *FieldRepository) List(ctx context.Context, orgID string, params types.ListFieldsParams) ([]*types.Field, error) {
	var conditions []string
	var args []any
	argIdx := 1

	conditions = append(conditions, fmt.Sprintf("organization_id = $%d", argIdx))
	args = append(args, orgID)
	argIdx++

	if !params.IncludeArchived {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, types.FieldStatusActive)
		argIdx++
	}

	if params.Cursor != "" {
		cursorTime, err := time.Parse(time.RFC3339Nano, params.Cursor)
		if err != nil {
			return nil, types.NewAppError(
				types.ErrCodeValidationCursor,
				"invalid cursor format; expected RFC3339 timestamp",
				err,
			)
		}
		conditions = append(conditions, fmt.Sprintf("created_at < $%d", argIdx))
		args = append(args, cursorTime)
		argIdx++
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	query := fmt.Sprintf(
		`SELECT %s FROM fields WHERE %s ORDER BY created_at DESC LIMIT $%d`,
		fieldColumns,
		strings.Join(conditions, " AND "),
		argIdx,
	)
	args = append(args, limit+1)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query fields", err)
	}
	defer rows.Close()

	var results []*types.Field
	for rows.Next() {
		field, scanErr := scanField(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan field row", scanErr)
		}
		results = append(results, field)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating field rows", err)
	}
	return results, nil
}

// ListActive retrieves every active field across all organizations. Used by
// the advisor sweep; the result set is bounded by plan limits per org.
func (r *FieldRepository) ListActive(ctx context.Context) ([]*types.Field, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT %s FROM fields WHERE status = $1 ORDER BY organization_id, created_at`, fieldColumns),
		types.FieldStatusActive,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query active fields", err)
	}
	defer rows.Close()

	var results []*types.Field
	for rows.Next() {
		field, scanErr := scanField(rows)
		if scanErr != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan field row", scanErr)
		}
		results = append(results, field)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating field rows", err)
	}
	return results, nil
}

// Update modifies a field's mutable attributes (name, crop, location).
// Returns ErrCodeNotFoundField when the field does not exist, is archived,
// or belongs to a different organization.
func (r *FieldRepository) Update(ctx context.Context, field *types.Field) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE fields SET name = $1, crop = $2, location_lat = $3,
		 location_lon = $4, location_display_name = $5, updated_at = NOW()
		 WHERE id = $6 AND organization_id = $7 AND status = $8`,
		field.Name,
		nilIfEmptyString(field.Crop),
		field.Location.Lat,
		field.Location.Lon,
		nilIfEmptyString(field.Location.DisplayName),
		field.ID,
		field.OrganizationID,
		types.FieldStatusActive,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update field", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundField, "field not found", nil)
	}
	return nil
}

// Archive soft-deletes a field. Archived fields stop receiving advisor sweeps
// and insight generation but their history remains queryable.
func (r *FieldRepository) Archive(ctx context.Context, id string, orgID string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE fields SET status = $1, archived_at = NOW(), updated_at = NOW()
		 WHERE id = $2 AND organization_id = $3 AND status = $4`,
		types.FieldStatusArchived,
		id,
		orgID,
		types.FieldStatusActive,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to archive field", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundField, "field not found or already archived", nil)
	}
	return nil
}

// CountActive returns the number of active fields for an organization.
// Used for plan limit enforcement before creation.
func (r *FieldRepository) CountActive(ctx context.Context, orgID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM fields WHERE organization_id = $1 AND status = $2`,
		orgID,
		types.FieldStatusActive,
	).Scan(&count)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to count active fields", err)
	}
	return count, nil
}

// scanField scans a field from pgx.Rows. Column order must match fieldColumns.
func scanField(rows pgx.Rows) (*types.Field, error) {
	return scanFieldFrom(rows.Scan)
}

// scanFieldRow scans a field from a single pgx.Row (for QueryRow).
func scanFieldRow(row pgx.Row) (*types.Field, error) {
	return scanFieldFrom(row.Scan)
}

func scanFieldFrom(scan func(dest ...any) error) (*types.Field, error) {
	var field types.Field
	var crop, displayName *string
	err := scan(
		&field.ID,
		&field.OrganizationID,
		&field.Name,
		&crop,
		&field.Location.Lat,
		&field.Location.Lon,
		&displayName,
		&field.Status,
		&field.CreatedAt,
		&field.UpdatedAt,
		&field.ArchivedAt,
	)
	if err != nil {
		return nil, err
	}
	if crop != nil {
		field.Crop = *crop
	}
	if displayName != nil {
		field.Location.DisplayName = *displayName
	}
	return &field, nil
}
