// Billing endpoints and the Stripe webhook.
//
// The webhook route is NOT behind auth middleware -- it is called directly by
// Stripe. Security is provided by verifying the Stripe-Signature header.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cropsense/internal/core"
	"cropsense/internal/external"
	"cropsense/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a Stripe webhook payload
// (64 KB). Stripe payloads are typically small; this limit protects against
// abuse.
const maxWebhookBodySize = 64 * 1024

// Webhook event types this service reacts to.
const (
	eventSubUpdated = "customer.subscription.updated"
	eventSubDeleted = "customer.subscription.deleted"
)

// PortalProvider creates Stripe billing portal sessions.
type PortalProvider interface {
	EnsureCustomer(ctx context.Context, orgID string, email string) (string, error)
	CreatePortalSession(ctx context.Context, customerID string, returnURL string) (string, error)
}

// OrgPlanStore is the subset of the organization repository the billing
// handlers need.
type OrgPlanStore interface {
	GetByID(ctx context.Context, id string) (*types.Organization, error)
	UpdatePlan(ctx context.Context, id string, plan types.PlanTier) error
}

// BillingHandler implements the authenticated billing endpoints.
type BillingHandler struct {
	portal    PortalProvider
	orgs      OrgPlanStore
	validator *core.Validator
	logger    *slog.Logger
}

// NewBillingHandler creates a new BillingHandler.
func NewBillingHandler(portal PortalProvider, orgs OrgPlanStore, val *core.Validator, logger *slog.Logger) *BillingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BillingHandler{portal: portal, orgs: orgs, validator: val, logger: logger}
}

// RegisterRoutes mounts the billing endpoints onto the mux.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Route("/billing", func(r chi.Router) {
		r.Get("/plan", h.HandleGetPlan)
		r.Post("/portal", h.HandleCreatePortal)
	})
}

// HandleGetPlan handles GET /v1/billing/plan.
func (h *BillingHandler) HandleGetPlan(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyMissing, "authentication required", nil))
		return
	}

	org, err := h.orgs.GetByID(r.Context(), actor.OrganizationID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]any{
		"plan": org.Plan,
	}})
}

// CreatePortalRequest is the request body for POST /v1/billing/portal.
type CreatePortalRequest struct {
	ReturnURL string `json:"return_url" validate:"required,url"`
}

// HandleCreatePortal handles POST /v1/billing/portal. It resolves (creating
// if needed) the org's Stripe customer and returns a billing portal URL.
func (h *BillingHandler) HandleCreatePortal(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyMissing, "authentication required", nil))
		return
	}

	var req CreatePortalRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	org, err := h.orgs.GetByID(r.Context(), actor.OrganizationID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	customerID := org.StripeCustomerID
	if customerID == "" {
		customerID, err = h.portal.EnsureCustomer(r.Context(), org.ID, "")
		if err != nil {
			core.Error(w, r, err)
			return
		}
	}

	portalURL, err := h.portal.CreatePortalSession(r.Context(), customerID, req.ReturnURL)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: map[string]any{
		"portal_url": portalURL,
	}})
}

// ---------------------------------------------------------------------------
// Stripe Webhook
// ---------------------------------------------------------------------------

// stripeWebhookEvent is the envelope of a Stripe event, decoded just far
// enough to route and extract the plan change.
type stripeWebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			Status   string `json:"status"`
			Metadata struct {
				OrgID string `json:"org_id"`
			} `json:"metadata"`
			Items struct {
				Data []struct {
					Price struct {
						ID string `json:"id"`
					} `json:"price"`
				} `json:"data"`
			} `json:"items"`
		} `json:"object"`
	} `json:"data"`
}

// StripeWebhookHandler synchronizes the local plan tier with subscription
// events from Stripe.
type StripeWebhookHandler struct {
	verifier external.WebhookVerifier
	orgs     OrgPlanStore
	secret   string
	logger   *slog.Logger
}

// NewStripeWebhookHandler creates a new StripeWebhookHandler.
func NewStripeWebhookHandler(verifier external.WebhookVerifier, orgs OrgPlanStore, secret string, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier: verifier,
		orgs:     orgs,
		secret:   secret,
		logger:   logger,
	}
}

// RegisterRoutes mounts the Stripe webhook endpoint. Separate from
// BillingHandler.RegisterRoutes because webhook routes are public.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes incoming Stripe webhook events:
//  1. Read the body and verify the Stripe-Signature header.
//  2. Parse the event envelope and route by type.
//  3. Return 200 even when internal processing fails, so Stripe does not
//     retry forever; the failure is logged for investigation.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidBody, "failed to read request body", err))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyMissing, "missing Stripe-Signature header", nil))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(types.ErrCodeAuthKeyInvalid, "webhook signature verification failed", err))
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidBody, "invalid webhook event JSON", err))
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		"event_id", event.ID,
		"event_type", event.Type,
	)

	if err := h.routeEvent(r.Context(), &event); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_id", event.ID,
			"event_type", event.Type,
			"error", err,
		)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event *stripeWebhookEvent) error {
	switch event.Type {
	case eventSubUpdated:
		return h.handleSubscriptionUpdated(ctx, event)
	case eventSubDeleted:
		return h.handleSubscriptionDeleted(ctx, event)
	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_type", event.Type,
		)
		return nil
	}
}

// handleSubscriptionUpdated applies plan changes (upgrades and downgrades).
func (h *StripeWebhookHandler) handleSubscriptionUpdated(ctx context.Context, event *stripeWebhookEvent) error {
	orgID := event.Data.Object.Metadata.OrgID
	if orgID == "" {
		return fmt.Errorf("%s: missing org_id in event %s", event.Type, event.ID)
	}

	plan := types.PlanFree
	if event.Data.Object.Status == "active" && len(event.Data.Object.Items.Data) > 0 {
		plan = external.PlanForPrice(event.Data.Object.Items.Data[0].Price.ID)
	}

	h.logger.InfoContext(ctx, "synchronizing plan from subscription update",
		"org_id", orgID,
		"plan", plan,
	)
	return h.orgs.UpdatePlan(ctx, orgID, plan)
}

// handleSubscriptionDeleted downgrades the organization to the free tier.
func (h *StripeWebhookHandler) handleSubscriptionDeleted(ctx context.Context, event *stripeWebhookEvent) error {
	orgID := event.Data.Object.Metadata.OrgID
	if orgID == "" {
		return fmt.Errorf("%s: missing org_id in event %s", event.Type, event.ID)
	}
	return h.orgs.UpdatePlan(ctx, orgID, types.PlanFree)
}
