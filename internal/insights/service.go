package insights

import (
	"context"
	"log/slog"

	"cropsense/internal/types"
	"cropsense/internal/weather"
)

// ForecastFetcher is the raw telemetry source for the service.
type ForecastFetcher interface {
	Fetch(ctx context.Context, lat, lon float64) (*weather.ForecastResponse, error)
}

// FieldGetter resolves a field with ownership verification.
type FieldGetter interface {
	GetByID(ctx context.Context, id string, orgID string) (*types.Field, error)
}

// Archive provides insight history persistence and retrieval.
type Archive interface {
	Save(ctx context.Context, fieldID string, payload *types.InsightPayload) error
	ListRecent(ctx context.Context, fieldID string, limit int) ([]*types.InsightPayload, error)
}

// Service answers insight queries for the API layer: it fetches telemetry,
// runs the engine, and for field-scoped requests archives the result.
type Service struct {
	fetcher ForecastFetcher
	engine  *Engine
	fields  FieldGetter
	archive Archive
	logger  *slog.Logger
}

// NewService wires an insight service.
func NewService(fetcher ForecastFetcher, engine *Engine, fields FieldGetter, archive Archive, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		fetcher: fetcher,
		engine:  engine,
		fields:  fields,
		archive: archive,
		logger:  logger,
	}
}

// GetPointInsight analyzes an arbitrary coordinate. Point queries are
// ephemeral: nothing is archived.
func (s *Service) GetPointInsight(ctx context.Context, lat, lon float64) (*types.InsightPayload, error) {
	raw, err := s.fetcher.Fetch(ctx, lat, lon)
	if err != nil {
		return nil, err
	}
	return s.engine.AnalyzeRaw(raw, types.Location{Lat: lat, Lon: lon})
}

// GetFieldInsight analyzes a registered field and archives the payload for
// trend history. Archival failures are logged, not surfaced: the caller asked
// for the insight, not the archive.
func (s *Service) GetFieldInsight(ctx context.Context, fieldID, orgID string) (*types.InsightPayload, error) {
	field, err := s.fields.GetByID(ctx, fieldID, orgID)
	if err != nil {
		return nil, err
	}

	raw, err := s.fetcher.Fetch(ctx, field.Location.Lat, field.Location.Lon)
	if err != nil {
		return nil, err
	}

	payload, err := s.engine.AnalyzeRaw(raw, field.Location)
	if err != nil {
		return nil, err
	}

	if err := s.archive.Save(ctx, field.ID, payload); err != nil {
		s.logger.WarnContext(ctx, "insight archival failed",
			"field_id", field.ID,
			"error", err,
		)
	}
	return payload, nil
}

// GetFieldHistory returns archived payloads for a field, newest first.
// Ownership is verified before touching the archive.
func (s *Service) GetFieldHistory(ctx context.Context, fieldID, orgID string, limit int) ([]*types.InsightPayload, error) {
	if _, err := s.fields.GetByID(ctx, fieldID, orgID); err != nil {
		return nil, err
	}
	return s.archive.ListRecent(ctx, fieldID, limit)
}
