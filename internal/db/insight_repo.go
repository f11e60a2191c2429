package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/klauspost/compress/zstd"

	"cropsense/internal/types"
)

// InsightRepository archives generated insight payloads per field for trend
// display. Payloads are stored as zstd-compressed JSON; a week of hourly
// archives for a field compresses to a few kilobytes.
type InsightRepository struct {
	db      DBTX
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewInsightRepository creates an InsightRepository with shared zstd
// codec state. EncodeAll/DecodeAll are safe for concurrent use.
func NewInsightRepository(db DBTX) (*InsightRepository, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &InsightRepository{db: db, encoder: enc, decoder: dec}, nil
}

// Save archives one insight payload for a field. Saves are idempotent on
// (field_id, generated_at): re-analyzing the same telemetry snapshot produces
// the same generated_at and the duplicate row is skipped.
func (r *InsightRepository) Save(ctx context.Context, fieldID string, payload *types.InsightPayload) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "failed to encode insight payload", err)
	}
	compressed := r.encoder.EncodeAll(raw, nil)

	_, err = r.db.Exec(ctx,
		`INSERT INTO insight_archive (field_id, generated_at, payload)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (field_id, generated_at) DO NOTHING`,
		fieldID,
		payload.GeneratedAt,
		compressed,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to archive insight payload", err)
	}
	return nil
}

// ListRecent retrieves the most recent archived payloads for a field,
// newest first. A payload that fails to decompress or decode aborts the
// listing with ErrCodeInternalArchive rather than returning partial history.
func (r *InsightRepository) ListRecent(ctx context.Context, fieldID string, limit int) ([]*types.InsightPayload, error) {
	if limit <= 0 {
		limit = 24
	}

	rows, err := r.db.Query(ctx,
		`SELECT field_id, generated_at, payload FROM insight_archive
		 WHERE field_id = $1 ORDER BY generated_at DESC LIMIT $2`,
		fieldID,
		limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to query insight archive", err)
	}
	defer rows.Close()

	var results []*types.InsightPayload
	for rows.Next() {
		var rec types.InsightRecord
		if err := rows.Scan(&rec.FieldID, &rec.GeneratedAt, &rec.Payload); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan archive row", err)
		}

		raw, err := r.decoder.DecodeAll(rec.Payload, nil)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalArchive, "failed to decompress archived insight", err)
		}
		var payload types.InsightPayload
		if err := json.Unmarshal(raw, &payload); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalArchive, "failed to decode archived insight", err)
		}
		results = append(results, &payload)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating archive rows", err)
	}
	return results, nil
}

// Prune deletes archive rows older than the retention cutoff. Returns the
// number of rows removed.
func (r *InsightRepository) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM insight_archive WHERE generated_at < $1`,
		before,
	)
	if err != nil {
		return 0, types.NewAppError(types.ErrCodeInternalDB, "failed to prune insight archive", err)
	}
	return tag.RowsAffected(), nil
}
