package db

import (
	"context"
	"time"

	"cropsense/internal/types"
)

// AlertStateRepository tracks which spray windows have already been announced
// per field, so the advisor sweep never enqueues the same window twice.
type AlertStateRepository struct {
	db DBTX
}

// NewAlertStateRepository creates a new AlertStateRepository.
func NewAlertStateRepository(db DBTX) *AlertStateRepository {
	return &AlertStateRepository{db: db}
}

// MarkAlerted records that a field's spray window starting at windowStart has
// been announced. Returns true when this call won the insert (the alert
// should be enqueued) and false when another sweep already claimed it.
func (r *AlertStateRepository) MarkAlerted(ctx context.Context, fieldID string, windowStart time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO alert_state (field_id, window_start, alerted_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (field_id, window_start) DO NOTHING`,
		fieldID,
		windowStart,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeInternalDB, "failed to record alert state", err)
	}
	return tag.RowsAffected() > 0, nil
}

// PruneBefore removes alert state rows for windows that have already passed.
// Kept small so the unique index stays cheap.
func (r *AlertStateRepository) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM alert_state WHERE window_start < $1`,
		cutoff,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to prune alert state", err)
	}
	return tag.RowsAffected(), nil
}
