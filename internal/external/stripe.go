package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"

	"membergate/internal/types"
)

// stripeAPIBase is the default Stripe API base URL.
const stripeAPIBase = "https://api.stripe.com"

// idempotencyNamespace scopes the deterministic keys derived for
// customer creation.
var idempotencyNamespace = uuid.MustParse("6f1c2d7e-3b0a-4f55-9a8e-2c4b8d1e7a90")

// identityAllowedTypes are the document kinds accepted for KYC.
var identityAllowedTypes = []string{"passport", "driving_license", "id_card"}

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient calls the Stripe REST API directly through BaseClient so every
// request shares the breaker, retry and error mapping. Instances are built
// in main and injected; nothing here is package-global.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a StripeClient with the default retry policy.
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	base := NewBaseClient(httpClient, "stripe", DefaultRetryPolicy(), "membergate/1.0")
	return NewStripeClientWithBase(base, cfg)
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
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
		logger:    logger,
	}
}

// CustomerParams describes a customer to create.
type CustomerParams struct {
	UserID string
	Email  string
	Name   string
}

// CheckoutParams describes a subscription-mode Checkout Session.
type CheckoutParams struct {
	CustomerID string
	PriceID    string
	UserID     string
	SuccessURL string
	CancelURL  string
}

// IdentityParams describes a document+selfie VerificationSession.
type IdentityParams struct {
	UserID    string
	ReturnURL string
}

// CheckoutSession is the subset of a Checkout Session membergate reads.
type CheckoutSession struct {
	ID            string `json:"id"`
	URL           string `json:"url"`
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	Customer      string `json:"customer"`
	Subscription  string `json:"subscription"`
}

// VerificationSession is the subset of an Identity VerificationSession
// membergate reads.
type VerificationSession struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	URL          string `json:"url"`
	Status       string `json:"status"`
}

// CreateCustomer creates a customer tagged with metadata[user_id]. The
// idempotency key is derived from the user id, so a replay within Stripe's
// 24h key window returns the original customer.
func (s *StripeClient) CreateCustomer(ctx context.Context, p CustomerParams) (string, error) {
	form := url.Values{}
	form.Set("metadata[user_id]", p.UserID)
	if p.Email != "" {
		form.Set("email", p.Email)
	}
	if p.Name != "" {
		form.Set("name", p.Name)
	}

	key := uuid.NewSHA1(idempotencyNamespace, []byte("customer:"+p.UserID)).String()

	var out struct {
		ID string `json:"id"`
	}
	if err := s.post(ctx, "CreateCustomer", "/v1/customers", form, key, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// CreateCheckoutSession creates a subscription-mode hosted checkout.
// The user id is stored on both the session and the subscription so either
// object can be traced back.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "subscription")
	form.Set("customer", p.CustomerID)
	form.Set("payment_method_types[0]", "card")
	form.Set("line_items[0][price]", p.PriceID)
	form.Set("line_items[0][quantity]", "1")
	form.Set("success_url", p.SuccessURL)
	form.Set("cancel_url", p.CancelURL)
	form.Set("metadata[user_id]", p.UserID)
	form.Set("subscription_data[metadata][user_id]", p.UserID)

	var out CheckoutSession
	if err := s.post(ctx, "CreateCheckoutSession", "/v1/checkout/sessions", form, uuid.NewString(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RetrieveCheckoutSession fetches a Checkout Session by id.
func (s *StripeClient) RetrieveCheckoutSession(ctx context.Context, sessionID string) (*CheckoutSession, error) {
	var out CheckoutSession
	if err := s.get(ctx, "RetrieveCheckoutSession", "/v1/checkout/sessions/"+url.PathEscape(sessionID), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateIdentityVerificationSession starts a document check with a
// matching selfie.
func (s *StripeClient) CreateIdentityVerificationSession(ctx context.Context, p IdentityParams) (*VerificationSession, error) {
	form := url.Values{}
	form.Set("type", "document")
	form.Set("metadata[user_id]", p.UserID)
	form.Set("options[document][require_matching_selfie]", "true")
	for i, t := range identityAllowedTypes {
		form.Set(fmt.Sprintf("options[document][allowed_types][%d]", i), t)
	}
	if p.ReturnURL != "" {
		form.Set("return_url", p.ReturnURL)
	}

	var out VerificationSession
	if err := s.post(ctx, "CreateIdentityVerificationSession", "/v1/identity/verification_sessions", form, uuid.NewString(), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePortalSession returns the URL of a Billing Portal session.
func (s *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	form := url.Values{}
	form.Set("customer", customerID)
	form.Set("return_url", returnURL)

	var out struct {
		URL string `json:"url"`
	}
	if err := s.post(ctx, "CreatePortalSession", "/v1/billing_portal/sessions", form, uuid.NewString(), &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// ---------------------------------------------------------------------------
// HTTP helpers
// ---------------------------------------------------------------------------

func (s *StripeClient) post(ctx context.Context, op, path string, form url.Values, idempotencyKey string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, op+": failed to build request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	return s.do(req, op, dst)
}

func (s *StripeClient) get(ctx context.Context, op, path string, dst any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected, op+": failed to build request", err)
	}
	return s.do(req, op, dst)
}

func (s *StripeClient) do(req *http.Request, op string, dst any) error {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	start := time.Now()
	resp, err := s.base.Do(req)
	if err != nil {
		s.logger.WarnContext(req.Context(), "stripe request failed",
			"operation", op,
			"duration", time.Since(start),
			"error", err,
		)
		return wrapStripeError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return handleErrorResponse(resp, op)
	}
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe, op+": failed to decode Stripe response", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

func handleErrorResponse(resp *http.Response, op string) error {
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if readErr != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned %d with unreadable body", op, resp.StatusCode), readErr)
	}

	var parsed stripeErrorResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return types.NewAppError(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe returned %d with non-JSON body", op, resp.StatusCode), err)
	}
	return mapStripeError(op, resp.StatusCode, &parsed.Error)
}

func mapStripeError(op string, status int, se *stripeErrorBody) error {
	details := map[string]any{"stripe_type": se.Type, "stripe_code": se.Code}
	if se.Param != "" {
		details["param"] = se.Param
	}

	switch {
	case se.Code == "card_declined" || se.DeclineCode != "":
		details["decline_code"] = se.DeclineCode
		return types.NewAppErrorWithDetails(types.ErrCodePaymentDeclined,
			fmt.Sprintf("%s: payment declined: %s", op, se.Message), nil, details)
	case status == http.StatusNotFound:
		return types.NewAppErrorWithDetails(types.ErrCodeNotFoundProviderObject,
			fmt.Sprintf("%s: %s", op, se.Message), nil, details)
	default:
		return types.NewAppErrorWithDetails(types.ErrCodeUpstreamStripe,
			fmt.Sprintf("%s: Stripe error (%d): %s", op, status, se.Message), nil, details)
	}
}

// wrapStripeError passes BaseClient AppErrors through and wraps anything
// else as an upstream failure.
func wrapStripeError(op string, err error) error {
	if _, ok := err.(*types.AppError); ok {
		return err
	}
	return types.NewAppError(types.ErrCodeUpstreamStripe, op+": Stripe request failed", err)
}
