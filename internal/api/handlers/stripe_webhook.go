package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"membergate/internal/billing"
	"membergate/internal/core"
	"membergate/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a Stripe webhook payload (64 KB).
const maxWebhookBodySize = 64 * 1024

// WebhookProcessor is satisfied by *billing.Processor.
type WebhookProcessor interface {
	ProcessWebhookEvent(ctx context.Context, rawBody []byte, sigHeader string) (billing.Outcome, error)
}

// WebhookResponse acknowledges an authenticated delivery.
type WebhookResponse struct {
	Received bool            `json:"received"`
	Outcome  billing.Outcome `json:"outcome"`
}

// StripeWebhookHandler receives provider events. It sits outside the bearer
// auth chain and relies on the Stripe-Signature header instead.
type StripeWebhookHandler struct {
	processor WebhookProcessor
	logger    *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler.
func NewStripeWebhookHandler(p WebhookProcessor, logger *slog.Logger) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{processor: p, logger: logger}
}

// RegisterRoutes mounts the webhook on the root router.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle reads the raw body and hands it to the processor untouched, since
// the signature covers the exact bytes.
//
// Every authenticated delivery is acknowledged with 200, including
// duplicates and event types the service does not act on. Signature and
// payload failures answer 400. A processing failure answers 5xx so the
// provider redelivers.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidPayload,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthInvalidSignature,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	outcome, err := h.processor.ProcessWebhookEvent(r.Context(), payload, sigHeader)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, WebhookResponse{Received: true, Outcome: outcome})
}
