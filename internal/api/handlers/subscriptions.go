package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"cropsense/internal/core"
	"cropsense/internal/types"
)

// SubscriptionRepo defines the data access contract for push subscriptions.
type SubscriptionRepo interface {
	Create(ctx context.Context, sub *types.PushSubscription) error
	ListActiveByOrganization(ctx context.Context, orgID string) ([]*types.PushSubscription, error)
	Disable(ctx context.Context, id string, orgID string) error
}

// SubscriptionLimitChecker enforces plan limits before registration.
type SubscriptionLimitChecker interface {
	CheckSubscriptionLimit(ctx context.Context, orgID string) error
}

// SubscriptionHandler implements the push subscription endpoints.
type SubscriptionHandler struct {
	repo      SubscriptionRepo
	limits    SubscriptionLimitChecker
	validator *core.Validator
	logger    *slog.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(repo SubscriptionRepo, limits SubscriptionLimitChecker, val *core.Validator, logger *slog.Logger) *SubscriptionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionHandler{
		repo:      repo,
		limits:    limits,
		validator: val,
		logger:    logger,
	}
}

// RegisterRoutes mounts the subscription endpoints onto the mux.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/subscriptions", func(r chi.Router) {
		r.Post("/", h.HandleCreate)
		r.Get("/", h.HandleList)
		r.Delete("/{subscriptionID}", h.HandleDelete)
	})
}

// CreateSubscriptionRequest is the request body for POST /v1/subscriptions.
// Keys carries the client encryption material opaque to this service.
type CreateSubscriptionRequest struct {
	Endpoint string `json:"endpoint" validate:"required,url,max=2000"`
	Keys     string `json:"keys" validate:"required,max=2000"`
}

// HandleCreate handles POST /v1/subscriptions.
func (h *SubscriptionHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyMissing, "authentication required", nil))
		return
	}

	var req CreateSubscriptionRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if err := h.limits.CheckSubscriptionLimit(r.Context(), actor.OrganizationID); err != nil {
		core.Error(w, r, err)
		return
	}

	sub := &types.PushSubscription{
		ID:             "sub_" + uuid.New().String(),
		OrganizationID: actor.OrganizationID,
		Endpoint:       req.Endpoint,
		Keys:           req.Keys,
	}
	if err := h.repo.Create(r.Context(), sub); err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusCreated, core.APIResponse{Data: sub})
}

// HandleList handles GET /v1/subscriptions.
func (h *SubscriptionHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyMissing, "authentication required", nil))
		return
	}

	subs, err := h.repo.ListActiveByOrganization(r.Context(), actor.OrganizationID)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if subs == nil {
		subs = []*types.PushSubscription{}
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: subs})
}

// HandleDelete handles DELETE /v1/subscriptions/{subscriptionID}.
func (h *SubscriptionHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyMissing, "authentication required", nil))
		return
	}

	if err := h.repo.Disable(r.Context(), chi.URLParam(r, "subscriptionID"), actor.OrganizationID); err != nil {
		core.Error(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
