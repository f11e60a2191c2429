package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"cropsense/internal/core"
	"cropsense/internal/types"
)

// geocodeTimeout bounds the best-effort reverse lookup during field creation.
const geocodeTimeout = 3 * time.Second

// FieldRepo defines the repository contract for the field handler.
type FieldRepo interface {
	Create(ctx context.Context, field *types.Field) error
	GetByID(ctx context.Context, id string, orgID string) (*types.Field, error)
	List(ctx context.Context, orgID string, params types.ListFieldsParams) ([]*types.Field, error)
	Update(ctx context.Context, field *types.Field) error
	Archive(ctx context.Context, id string, orgID string) error
}

// LimitChecker enforces plan limits before field creation.
type LimitChecker interface {
	CheckFieldLimit(ctx context.Context, orgID string) error
}

// ReverseGeocoder resolves a coordinate to a display name. Best effort only.
type ReverseGeocoder interface {
	ReverseLookup(ctx context.Context, lat, lon float64) (string, error)
}

// FieldHandler implements the field CRUD endpoints.
type FieldHandler struct {
	repo      FieldRepo
	limits    LimitChecker
	geocoder  ReverseGeocoder
	validator *core.Validator
	logger    *slog.Logger
}

// NewFieldHandler creates a new FieldHandler. geocoder may be nil; created
// fields then simply have no display name.
func NewFieldHandler(repo FieldRepo, limits LimitChecker, geocoder ReverseGeocoder, val *core.Validator, logger *slog.Logger) *FieldHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FieldHandler{
		repo:      repo,
		limits:    limits,
		geocoder:  geocoder,
		validator: val,
		logger:    logger,
	}
}

// RegisterRoutes mounts the field endpoints onto the mux.
func (h *FieldHandler) RegisterRoutes(r chi.Router) {
	r.Route("/fields", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)
		r.Get("/{fieldID}", h.HandleGet)
		r.Put("/{fieldID}", h.HandleUpdate)
		r.Delete("/{fieldID}", h.HandleArchive)
	})
}

// CreateFieldRequest is the request body for POST /v1/fields.
type CreateFieldRequest struct {
	Name     string         `json:"name" validate:"required,max=200"`
	Crop     string         `json:"crop,omitempty" validate:"omitempty,max=100"`
	Location types.Location `json:"location" validate:"required"`
}

// UpdateFieldRequest is the request body for PUT /v1/fields/{fieldID}.
type UpdateFieldRequest struct {
	Name     string         `json:"name" validate:"required,max=200"`
	Crop     string         `json:"crop,omitempty" validate:"omitempty,max=100"`
	Location types.Location `json:"location" validate:"required"`
}

// FieldListResponse wraps a page of fields with cursor pagination info.
type FieldListResponse struct {
	Fields     []*types.Field `json:"fields"`
	NextCursor string         `json:"next_cursor,omitempty"`
	HasMore    bool           `json:"has_more"`
}

// HandleCreate handles POST /v1/fields.
func (h *FieldHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyMissing, "authentication required", nil))
		return
	}

	var req CreateFieldRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateCoordinates(req.Location.Lat, req.Location.Lon); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.limits.CheckFieldLimit(r.Context(), actor.OrganizationID); err != nil {
		core.Error(w, r, err)
		return
	}

	field := &types.Field{
		ID:             "fld_" + uuid.New().String(),
		OrganizationID: actor.OrganizationID,
		Name:           req.Name,
		Crop:           req.Crop,
		Location:       req.Location,
		Status:         types.FieldStatusActive,
	}

	if field.Location.DisplayName == "" && h.geocoder != nil {
		field.Location.DisplayName = h.resolveDisplayName(r.Context(), req.Location.Lat, req.Location.Lon)
	}

	if err := h.repo.Create(r.Context(), field); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: field})
}

// resolveDisplayName performs the best-effort reverse lookup. Any failure
// just leaves the name empty.
func (h *FieldHandler) resolveDisplayName(ctx context.Context, lat, lon float64) string {
	geoCtx, cancel := context.WithTimeout(ctx, geocodeTimeout)
	defer cancel()

	name, err := h.geocoder.ReverseLookup(geoCtx, lat, lon)
	if err != nil {
		h.logger.WarnContext(ctx, "reverse geocode failed during field creation",
			"lat", lat,
			"lon", lon,
			"error", err,
		)
		return ""
	}
	return name
}

// HandleList handles GET /v1/fields.
func (h *FieldHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyMissing, "authentication required", nil))
		return
	}

	q := r.URL.Query()
	params := types.ListFieldsParams{
		IncludeArchived: q.Get("include_archived") == "true",
		Cursor:          q.Get("cursor"),
		Limit:           20,
	}
	if limitStr := q.Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 || parsed > 100 {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeValidationMissingField,
				"limit must be an integer between 1 and 100",
				nil,
			))
			return
		}
		params.Limit = parsed
	}

	fields, err := h.repo.List(r.Context(), actor.OrganizationID, params)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	resp := FieldListResponse{Fields: fields}
	if len(fields) > params.Limit {
		resp.Fields = fields[:params.Limit]
		resp.HasMore = true
		resp.NextCursor = resp.Fields[len(resp.Fields)-1].CreatedAt.Format(time.RFC3339Nano)
	}
	if resp.Fields == nil {
		resp.Fields = []*types.Field{}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: resp})
}

// HandleGet handles GET /v1/fields/{fieldID}.
func (h *FieldHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyMissing, "authentication required", nil))
		return
	}

	field, err := h.repo.GetByID(r.Context(), chi.URLParam(r, "fieldID"), actor.OrganizationID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: field})
}

// HandleUpdate handles PUT /v1/fields/{fieldID}.
func (h *FieldHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyMissing, "authentication required", nil))
		return
	}

	var req UpdateFieldRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateCoordinates(req.Location.Lat, req.Location.Lon); err != nil {
		core.Error(w, r, err)
		return
	}

	field := &types.Field{
		ID:             chi.URLParam(r, "fieldID"),
		OrganizationID: actor.OrganizationID,
		Name:           req.Name,
		Crop:           req.Crop,
		Location:       req.Location,
	}

	if err := h.repo.Update(r.Context(), field); err != nil {
		core.Error(w, r, err)
		return
	}

	// Re-read for authoritative timestamps.
	updated, err := h.repo.GetByID(r.Context(), field.ID, actor.OrganizationID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: updated})
}

// HandleArchive handles DELETE /v1/fields/{fieldID} (soft delete).
func (h *FieldHandler) HandleArchive(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyMissing, "authentication required", nil))
		return
	}

	if err := h.repo.Archive(r.Context(), chi.URLParam(r, "fieldID"), actor.OrganizationID); err != nil {
		core.Error(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
