// Package handlers contains the HTTP handler implementations for the
// CropSense API.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"cropsense/internal/core"
	"cropsense/internal/types"
)

// maxHistoryLimit caps the number of archived payloads one request can pull.
const maxHistoryLimit = 168

// InsightServiceInterface defines the service contract for the insight
// handler. Defined locally to avoid tight coupling per the handler injection
// pattern.
type InsightServiceInterface interface {
	GetPointInsight(ctx context.Context, lat, lon float64) (*types.InsightPayload, error)
	GetFieldInsight(ctx context.Context, fieldID, orgID string) (*types.InsightPayload, error)
	GetFieldHistory(ctx context.Context, fieldID, orgID string, limit int) ([]*types.InsightPayload, error)
}

// UsageReporterInterface reports metered insight requests. Nil disables
// usage reporting (no billing provider configured).
type UsageReporterInterface interface {
	ReportInsightRequest(ctx context.Context, orgID string)
}

// InsightHandler maps HTTP requests to the insight service.
type InsightHandler struct {
	service   InsightServiceInterface
	usage     UsageReporterInterface
	validator *core.Validator
	logger    *slog.Logger
}

// NewInsightHandler creates a new InsightHandler.
func NewInsightHandler(svc InsightServiceInterface, usage UsageReporterInterface, val *core.Validator, logger *slog.Logger) *InsightHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &InsightHandler{
		service:   svc,
		usage:     usage,
		validator: val,
		logger:    logger,
	}
}

// RegisterRoutes mounts the insight endpoints onto the mux.
// All routes assume authentication middleware is already applied.
func (h *InsightHandler) RegisterRoutes(r chi.Router) {
	r.Route("/insights", func(r chi.Router) {
		r.Get("/point", h.HandleGetPoint)
		r.Get("/field/{fieldID}", h.HandleGetField)
		r.Get("/field/{fieldID}/history", h.HandleGetFieldHistory)
	})
}

// HandleGetPoint handles GET /v1/insights/point?lat=..&lon=..
func (h *InsightHandler) HandleGetPoint(w http.ResponseWriter, r *http.Request) {
	lat, lon, err := parseCoordinates(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateCoordinates(lat, lon); err != nil {
		core.Error(w, r, err)
		return
	}

	payload, err := h.service.GetPointInsight(r.Context(), lat, lon)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.reportUsage(r)

	// Insights regenerate when the provider publishes a new current block;
	// short private caching keeps dashboard refreshes cheap.
	w.Header().Set("Cache-Control", "private, max-age=300")
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: payload})
}

// HandleGetField handles GET /v1/insights/field/{fieldID}
func (h *InsightHandler) HandleGetField(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyMissing, "authentication required", nil))
		return
	}

	fieldID := chi.URLParam(r, "fieldID")
	payload, err := h.service.GetFieldInsight(r.Context(), fieldID, actor.OrganizationID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.reportUsage(r)

	w.Header().Set("Cache-Control", "private, max-age=300")
	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: payload})
}

// HandleGetFieldHistory handles GET /v1/insights/field/{fieldID}/history?limit=N
func (h *InsightHandler) HandleGetFieldHistory(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyMissing, "authentication required", nil))
		return
	}

	limit := 24
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"limit must be a positive integer",
				nil,
			))
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	fieldID := chi.URLParam(r, "fieldID")
	payloads, err := h.service.GetFieldHistory(r.Context(), fieldID, actor.OrganizationID, limit)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: payloads})
}

// reportUsage records a metered insight request for the authenticated org.
func (h *InsightHandler) reportUsage(r *http.Request) {
	if h.usage == nil {
		return
	}
	if actor, ok := types.GetActor(r.Context()); ok {
		h.usage.ReportInsightRequest(r.Context(), actor.OrganizationID)
	}
}

// parseCoordinates extracts required lat/lon query parameters.
func parseCoordinates(r *http.Request) (float64, float64, error) {
	q := r.URL.Query()

	latStr := q.Get("lat")
	if latStr == "" {
		return 0, 0, types.NewAppError(types.ErrCodeValidationMissingField, "lat query parameter is required", nil)
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return 0, 0, types.NewAppError(types.ErrCodeValidationInvalidLat, "lat must be a valid number", nil)
	}

	lonStr := q.Get("lon")
	if lonStr == "" {
		return 0, 0, types.NewAppError(types.ErrCodeValidationMissingField, "lon query parameter is required", nil)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return 0, 0, types.NewAppError(types.ErrCodeValidationInvalidLon, "lon must be a valid number", nil)
	}

	return lat, lon, nil
}
