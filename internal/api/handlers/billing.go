// Package handlers contains the HTTP handlers for the membergate API.
//
// This file covers the user-facing billing endpoints: the checkout and
// identity session initiators, the customer portal, status reads, the
// entitlement read and the restricted-action authorization gate.
package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"membergate/internal/billing"
	"membergate/internal/core"
	"membergate/internal/types"
)

// BillingService is the subset of *billing.Service the handlers call.
type BillingService interface {
	Config() billing.PublicConfig
	InitiateCheckout(ctx context.Context, actor types.Actor) (*types.CheckoutResult, error)
	GetCheckoutSession(ctx context.Context, actor types.Actor, sessionID string) (*types.CheckoutSessionStatus, error)
	InitiateIdentityVerification(ctx context.Context, actor types.Actor) (*types.IdentityResult, error)
	CreatePortalSession(ctx context.Context, actor types.Actor, returnURL string) (*types.PortalResult, error)
	GetBillingStatus(ctx context.Context, actor types.Actor) (*types.BillingStatus, error)
	CanPerformRestrictedAction(ctx context.Context, userID string) (bool, error)
	RequireRestrictedAction(ctx context.Context, actor types.Actor) error
}

// PortalRequest is the optional body for POST /v1/billing/portal.
type PortalRequest struct {
	ReturnURL string `json:"return_url" validate:"omitempty,http_url"`
}

// EntitlementResponse is the response for GET /v1/billing/entitlement.
type EntitlementResponse struct {
	UserID            string `json:"user_id"`
	CanPerformActions bool   `json:"can_perform_actions"`
}

// BillingHandler serves the authenticated billing endpoints.
type BillingHandler struct {
	service   BillingService
	validator *core.Validator
	logger    *slog.Logger
}

// NewBillingHandler creates a BillingHandler.
func NewBillingHandler(svc BillingService, v *core.Validator, l *slog.Logger) *BillingHandler {
	if l == nil {
		l = slog.Default()
	}
	if v == nil {
		v = core.NewValidator(l)
	}
	return &BillingHandler{service: svc, validator: v, logger: l}
}

// RegisterRoutes mounts the billing endpoints under the /v1 router.
// /billing/config is public; the rest rely on the Actor set by the core
// auth middleware.
func (h *BillingHandler) RegisterRoutes(r chi.Router) {
	r.Get("/billing/config", h.GetConfig)

	r.Group(func(r chi.Router) {
		r.Use(requireActor)

		r.Post("/billing/checkout", h.CreateCheckout)
		r.Get("/billing/checkout/{sessionID}", h.GetCheckoutSession)
		r.Post("/billing/identity", h.CreateIdentitySession)
		r.Post("/billing/portal", h.CreatePortalSession)
		r.Get("/billing/status", h.GetStatus)
		r.Get("/billing/entitlement", h.GetEntitlement)
		r.With(h.RequireRestrictedAction).Post("/billing/restricted-actions/authorize", h.AuthorizeRestrictedAction)
	})
}

// requireActor rejects requests that reached an authenticated route
// without an Actor in context.
func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := types.GetActor(r.Context()); !ok {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeAuthTokenMissing,
				"Authentication required",
				nil,
			))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRestrictedAction is middleware that lets the request through only
// when the caller is both a paid member and identity verified. Otherwise it
// answers 402 or 403 naming the first failing gate.
func (h *BillingHandler) RequireRestrictedAction(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, _ := types.GetActor(r.Context())
		if err := h.service.RequireRestrictedAction(r.Context(), actor); err != nil {
			h.logger.InfoContext(r.Context(), "restricted action denied",
				"user_id", actor.UserID,
				"error", err,
			)
			core.Error(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetConfig handles GET /v1/billing/config.
func (h *BillingHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	core.JSON(w, r, http.StatusOK, h.service.Config())
}

// CreateCheckout handles POST /v1/billing/checkout.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	actor, _ := types.GetActor(r.Context())

	res, err := h.service.InitiateCheckout(r.Context(), actor)
	if err != nil {
		h.logFailure(r, "checkout initiation failed", actor, err)
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, res)
}

// GetCheckoutSession handles GET /v1/billing/checkout/{sessionID}.
func (h *BillingHandler) GetCheckoutSession(w http.ResponseWriter, r *http.Request) {
	actor, _ := types.GetActor(r.Context())

	sessionID := chi.URLParam(r, "sessionID")
	if sessionID == "" {
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"session id is required",
			nil,
		))
		return
	}

	res, err := h.service.GetCheckoutSession(r.Context(), actor, sessionID)
	if err != nil {
		h.logFailure(r, "checkout session lookup failed", actor, err)
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, res)
}

// CreateIdentitySession handles POST /v1/billing/identity.
func (h *BillingHandler) CreateIdentitySession(w http.ResponseWriter, r *http.Request) {
	actor, _ := types.GetActor(r.Context())

	res, err := h.service.InitiateIdentityVerification(r.Context(), actor)
	if err != nil {
		h.logFailure(r, "identity verification initiation failed", actor, err)
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, res)
}

// CreatePortalSession handles POST /v1/billing/portal. The body is optional.
func (h *BillingHandler) CreatePortalSession(w http.ResponseWriter, r *http.Request) {
	actor, _ := types.GetActor(r.Context())

	var req PortalRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := core.DecodeJSON(w, r, &req); err != nil {
			core.Error(w, r, err)
			return
		}
		if err := h.validator.ValidateStruct(req); err != nil {
			core.Error(w, r, err)
			return
		}
	}

	res, err := h.service.CreatePortalSession(r.Context(), actor, req.ReturnURL)
	if err != nil {
		h.logFailure(r, "portal session creation failed", actor, err)
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, res)
}

// GetStatus handles GET /v1/billing/status.
func (h *BillingHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	actor, _ := types.GetActor(r.Context())

	st, err := h.service.GetBillingStatus(r.Context(), actor)
	if err != nil {
		h.logFailure(r, "billing status read failed", actor, err)
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, st)
}

// GetEntitlement handles GET /v1/billing/entitlement. It reports the
// decision for any authenticated caller rather than enforcing it.
func (h *BillingHandler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	actor, _ := types.GetActor(r.Context())

	ok, err := h.service.CanPerformRestrictedAction(r.Context(), actor.UserID)
	if err != nil {
		h.logFailure(r, "entitlement check failed", actor, err)
		core.Error(w, r, err)
		return
	}
	core.JSON(w, r, http.StatusOK, EntitlementResponse{UserID: actor.UserID, CanPerformActions: ok})
}

// AuthorizeRestrictedAction handles POST
// /v1/billing/restricted-actions/authorize. It is mounted behind
// RequireRestrictedAction, so reaching it means the caller may act.
func (h *BillingHandler) AuthorizeRestrictedAction(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

// logFailure logs unexpected failures at error level. Gate rejections are
// expected traffic and are left to the request logger.
func (h *BillingHandler) logFailure(r *http.Request, msg string, actor types.Actor, err error) {
	if _, ok := billing.ReasonOf(err); ok {
		return
	}
	h.logger.ErrorContext(r.Context(), msg,
		"user_id", actor.UserID,
		"error", err,
	)
}
