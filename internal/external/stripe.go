package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"

	"cropsense/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// OrgBillingLookup provides the minimal data access needed by StripeClient to
// persist a resolved customer ID. This avoids pulling in the full
// OrganizationRepository.
type OrgBillingLookup interface {
	UpdateStripeCustomerID(ctx context.Context, orgID string, customerID string) error
}

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient talks to the Stripe REST API through BaseClient so billing
// calls inherit the platform's resilience behavior (circuit breaker, retries,
// error mapping) and can be tested with httptest.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	orgLookup OrgBillingLookup
	logger    *slog.Logger
}

// NewStripeClient creates a StripeClient with a pre-configured BaseClient.
func NewStripeClient(base *BaseClient, orgLookup OrgBillingLookup, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		orgLookup: orgLookup,
		logger:    logger,
	}
}

// EnsureCustomer retrieves or creates a Stripe customer for the given org.
// Search-first to prevent duplicates:
//  1. Query the Stripe Search API for a metadata['org_id'] match.
//  2. If found, persist and return the existing customer ID.
//  3. Otherwise create a new customer tagged with org_id metadata.
func (s *StripeClient) EnsureCustomer(ctx context.Context, orgID string, email string) (string, error) {
	searchQuery := fmt.Sprintf("metadata['org_id']:'%s'", orgID)
	params := url.Values{}
	params.Set("query", searchQuery)

	searchResp, err := s.doGet(ctx, "/v1/customers/search", params)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.search", err)
	}
	defer searchResp.Body.Close()

	if searchResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(searchResp, "EnsureCustomer.search")
	}

	var searchResult stripeSearchResult
	if err := json.NewDecoder(searchResp.Body).Decode(&searchResult); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer search response",
			err,
		)
	}

	if len(searchResult.Data) > 0 {
		customerID := searchResult.Data[0].ID
		s.persistCustomerID(ctx, orgID, customerID)
		return customerID, nil
	}

	createParams := url.Values{}
	createParams.Set("email", email)
	createParams.Set("metadata[org_id]", orgID)

	createResp, err := s.doPost(ctx, "/v1/customers", createParams)
	if err != nil {
		return "", s.wrapStripeError("EnsureCustomer.create", err)
	}
	defer createResp.Body.Close()

	if createResp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(createResp, "EnsureCustomer.create")
	}

	var customer stripeCustomer
	if err := json.NewDecoder(createResp.Body).Decode(&customer); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe customer creation response",
			err,
		)
	}

	s.persistCustomerID(ctx, orgID, customer.ID)
	return customer.ID, nil
}

// persistCustomerID mirrors the resolved customer ID into the local database.
// Failures are logged, not propagated: the Stripe call already succeeded and
// the next EnsureCustomer will reconcile.
func (s *StripeClient) persistCustomerID(ctx context.Context, orgID, customerID string) {
	if err := s.orgLookup.UpdateStripeCustomerID(ctx, orgID, customerID); err != nil {
		s.logger.WarnContext(ctx, "failed to update stripe_customer_id in DB",
			"org_id", orgID,
			"customer_id", customerID,
			"error", err,
		)
	}
}

// CreatePortalSession generates a Stripe Billing Portal URL where the
// organization manages its plan. Plan changes flow back via webhook.
func (s *StripeClient) CreatePortalSession(ctx context.Context, customerID string, returnURL string) (string, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("return_url", returnURL)

	resp, err := s.doPost(ctx, "/v1/billing_portal/sessions", params)
	if err != nil {
		return "", s.wrapStripeError("CreatePortalSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "CreatePortalSession")
	}

	var session stripePortalSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe portal session response",
			err,
		)
	}

	return session.URL, nil
}

// GetSubscriptionPlan resolves the organization's current plan tier from its
// active Stripe subscription. Returns PlanFree when the customer has no
// active subscription.
func (s *StripeClient) GetSubscriptionPlan(ctx context.Context, customerID string) (types.PlanTier, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("status", "active")
	params.Set("limit", "1")

	resp, err := s.doGet(ctx, "/v1/subscriptions", params)
	if err != nil {
		return "", s.wrapStripeError("GetSubscriptionPlan", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "GetSubscriptionPlan")
	}

	var list stripeSubscriptionList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return "", types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"failed to decode Stripe subscription list response",
			err,
		)
	}

	if len(list.Data) == 0 || len(list.Data[0].Items.Data) == 0 {
		return types.PlanFree, nil
	}
	return PlanForPrice(list.Data[0].Items.Data[0].Price.ID), nil
}

// RecordMeterEvent reports one usage increment to a Stripe billing meter.
// The identifier makes retried submissions idempotent on Stripe's side.
func (s *StripeClient) RecordMeterEvent(ctx context.Context, customerID string, eventName string, value int64) error {
	params := url.Values{}
	params.Set("event_name", eventName)
	params.Set("identifier", uuid.New().String())
	params.Set("payload[stripe_customer_id]", customerID)
	params.Set("payload[value]", strconv.FormatInt(value, 10))

	resp, err := s.doPost(ctx, "/v1/billing/meter_events", params)
	if err != nil {
		return s.wrapStripeError("RecordMeterEvent", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, "RecordMeterEvent")
	}
	return nil
}

// ---------------------------------------------------------------------------
// HTTP plumbing
// ---------------------------------------------------------------------------

func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)
	return s.base.Do(req)
}

func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	s.setAuthHeaders(req)
	return s.base.Do(req)
}

func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
}

type stripeErrorResponse struct {
	Error *stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// handleErrorResponse reads a non-200 Stripe response and maps it to an
// AppError carrying the Stripe error code for diagnostics.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var stripeErr stripeErrorResponse
	message := fmt.Sprintf("Stripe %s returned status %d", operation, resp.StatusCode)
	details := map[string]any{"operation": operation, "status": resp.StatusCode}
	if err := json.Unmarshal(body, &stripeErr); err == nil && stripeErr.Error != nil {
		details["stripe_code"] = stripeErr.Error.Code
		details["stripe_type"] = stripeErr.Error.Type
	}

	return types.NewAppError(types.ErrCodeUpstreamBilling, message, nil).WithDetails(details)
}

// wrapStripeError annotates a transport-level failure with the operation name.
func (s *StripeClient) wrapStripeError(operation string, err error) error {
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return appErr.WithDetails(map[string]any{"operation": operation})
	}
	return types.NewAppError(
		types.ErrCodeUpstreamBilling,
		fmt.Sprintf("Stripe %s failed", operation),
		err,
	)
}

// ---------------------------------------------------------------------------
// Response shapes (subset of the Stripe API surface we consume)
// ---------------------------------------------------------------------------

type stripeCustomer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type stripeSearchResult struct {
	Data []stripeCustomer `json:"data"`
}

type stripePortalSession struct {
	URL string `json:"url"`
}

type stripeSubscriptionList struct {
	Data []stripeSubscription `json:"data"`
}

type stripeSubscription struct {
	ID     string                  `json:"id"`
	Status string                  `json:"status"`
	Items  stripeSubscriptionItems `json:"items"`
}

type stripeSubscriptionItems struct {
	Data []stripeSubscriptionItem `json:"data"`
}

type stripeSubscriptionItem struct {
	Price stripePrice `json:"price"`
}

type stripePrice struct {
	ID string `json:"id"`
}

// ---------------------------------------------------------------------------
// Price ID <-> Plan Tier Mapping
// ---------------------------------------------------------------------------

// priceToPlan maps Stripe Price IDs to domain plan tiers. In production these
// would come from configuration; the IDs here match the test fixtures.
var priceToPlan = map[string]types.PlanTier{
	"price_pro":  types.PlanPro,
	"price_coop": types.PlanCoop,
}

// PlanForPrice returns the domain PlanTier for a Stripe Price ID, falling
// back to Free for unknown prices.
func PlanForPrice(priceID string) types.PlanTier {
	if plan, ok := priceToPlan[priceID]; ok {
		return plan
	}
	return types.PlanFree
}

// ---------------------------------------------------------------------------
// Webhook Verification
// ---------------------------------------------------------------------------

// WebhookVerifier abstracts Stripe webhook signature checking.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// StripeVerifier validates webhook payloads using stripe-go's signature
// verification (HMAC-SHA256 with timestamp tolerance).
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the signature header and
// signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}
