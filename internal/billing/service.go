// Package billing implements the subscription and identity-verification gate:
// session initiation, webhook-driven state machines and the restricted-action
// policy derived from them.
package billing

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"membergate/internal/external"
	"membergate/internal/types"
)

const tracerName = "membergate/billing"

// ServiceConfig carries the settings the session flows need.
type ServiceConfig struct {
	FrontendURL    string
	PriceID        string
	PublishableKey string
}

// PublicConfig is what the frontend needs to render checkout.
type PublicConfig struct {
	PublishableKey string `json:"publishable_key"`
	PriceID        string `json:"price_id"`
}

// Service implements the synchronous user-facing billing operations.
type Service struct {
	store    AccountStore
	provider Provider
	linker   *AccountLinker
	cfg      ServiceConfig
	metrics  *Metrics
	tracer   trace.Tracer
	logger   *slog.Logger
}

// NewService creates a Service.
func NewService(store AccountStore, provider Provider, cfg ServiceConfig, metrics *Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Service{
		store:    store,
		provider: provider,
		linker:   NewAccountLinker(store, provider, metrics, logger),
		cfg:      cfg,
		metrics:  metrics,
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}
}

// Config returns the frontend checkout settings.
func (s *Service) Config() PublicConfig {
	return PublicConfig{PublishableKey: s.cfg.PublishableKey, PriceID: s.cfg.PriceID}
}

// InitiateCheckout starts a hosted subscription checkout. The user must be
// identity verified and not already subscribed. Subscription state is not
// touched; the provider's webhook activates it later.
func (s *Service) InitiateCheckout(ctx context.Context, actor types.Actor) (res *types.CheckoutResult, err error) {
	ctx, span := s.startSpan(ctx, "billing.InitiateCheckout", actor)
	defer func() { s.endSession(ctx, span, "checkout", err) }()

	u, err := s.store.EnsureBillingAccount(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !IsKycVerified(*u) {
		return nil, &PreconditionError{Reason: ReasonKycRequired}
	}
	if u.SubscriptionStatus == types.SubStatusActive {
		return nil, &PreconditionError{Reason: ReasonAlreadySubscribed}
	}

	customerID, err := s.linker.EnsureExternalCustomer(ctx, u)
	if err != nil {
		return nil, err
	}

	sess, err := s.provider.CreateCheckoutSession(ctx, external.CheckoutParams{
		CustomerID: customerID,
		PriceID:    s.cfg.PriceID,
		UserID:     u.UserID,
		SuccessURL: s.cfg.FrontendURL + "/subscribe/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  s.cfg.FrontendURL + "/subscribe?canceled=true",
	})
	if err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "checkout session created",
		"user_id", u.UserID,
		"session_id", sess.ID,
	)
	return &types.CheckoutResult{CheckoutURL: sess.URL, SessionID: sess.ID}, nil
}

// InitiateIdentityVerification starts a document and selfie check. The user
// must be a paid member and not yet verified. On success the user is PENDING
// until the provider reports an outcome.
func (s *Service) InitiateIdentityVerification(ctx context.Context, actor types.Actor) (res *types.IdentityResult, err error) {
	ctx, span := s.startSpan(ctx, "billing.InitiateIdentityVerification", actor)
	defer func() { s.endSession(ctx, span, "identity", err) }()

	u, err := s.store.EnsureBillingAccount(ctx, actor)
	if err != nil {
		return nil, err
	}
	if !IsPaidMember(*u) {
		return nil, &PreconditionError{Reason: ReasonSubscriptionRequired}
	}
	if u.KycStatus == types.KycVerified {
		return nil, &PreconditionError{Reason: ReasonAlreadyVerified}
	}

	vs, err := s.provider.CreateIdentityVerificationSession(ctx, external.IdentityParams{
		UserID:    u.UserID,
		ReturnURL: s.cfg.FrontendURL + "/kyc/complete",
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.SetIdentitySession(ctx, u.UserID, vs.ID); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "identity verification session created",
		"user_id", u.UserID,
		"session_id", vs.ID,
	)
	return &types.IdentityResult{ClientSecret: vs.ClientSecret, SessionID: vs.ID, URL: vs.URL}, nil
}

// CreatePortalSession returns a customer-portal URL for managing the
// subscription. returnURL defaults to the account page.
func (s *Service) CreatePortalSession(ctx context.Context, actor types.Actor, returnURL string) (res *types.PortalResult, err error) {
	ctx, span := s.startSpan(ctx, "billing.CreatePortalSession", actor)
	defer func() { s.endSession(ctx, span, "portal", err) }()

	u, err := s.store.EnsureBillingAccount(ctx, actor)
	if err != nil {
		return nil, err
	}
	customerID := u.CustomerID()
	if customerID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationNoCustomer,
			"no billing customer exists for this account; subscribe first", nil)
	}
	if returnURL == "" {
		returnURL = s.cfg.FrontendURL + "/account"
	}

	url, err := s.provider.CreatePortalSession(ctx, customerID, returnURL)
	if err != nil {
		return nil, err
	}
	return &types.PortalResult{PortalURL: url}, nil
}

// GetCheckoutSession reports the state of a checkout the caller started.
// Sessions belonging to another customer are reported as not found.
func (s *Service) GetCheckoutSession(ctx context.Context, actor types.Actor, sessionID string) (*types.CheckoutSessionStatus, error) {
	u, err := s.store.EnsureBillingAccount(ctx, actor)
	if err != nil {
		return nil, err
	}

	sess, err := s.provider.RetrieveCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Customer != "" && sess.Customer != u.CustomerID() {
		s.logger.WarnContext(ctx, "checkout session lookup for foreign customer",
			"user_id", u.UserID,
			"session_id", sessionID,
		)
		return nil, types.NewAppError(types.ErrCodeNotFoundProviderObject, "checkout session not found", nil)
	}

	out := &types.CheckoutSessionStatus{
		SessionID:     sess.ID,
		Status:        sess.Status,
		PaymentStatus: sess.PaymentStatus,
	}
	if sess.PaymentStatus == "paid" {
		out.SubscriptionStatus = u.SubscriptionStatus
	}
	return out, nil
}

// GetBillingStatus returns the caller's entitlement read model.
func (s *Service) GetBillingStatus(ctx context.Context, actor types.Actor) (*types.BillingStatus, error) {
	u, err := s.store.EnsureBillingAccount(ctx, actor)
	if err != nil {
		return nil, err
	}
	st := StatusOf(*u)
	return &st, nil
}

// CanPerformRestrictedAction loads userID's state and evaluates the policy.
func (s *Service) CanPerformRestrictedAction(ctx context.Context, userID string) (bool, error) {
	u, err := s.store.GetByUserID(ctx, userID)
	if err != nil {
		return false, err
	}
	return CanPerformRestrictedAction(*u), nil
}

// RequireRestrictedAction returns nil when actor may perform restricted
// actions, or a *PreconditionError naming the first failing gate.
func (s *Service) RequireRestrictedAction(ctx context.Context, actor types.Actor) error {
	u, err := s.store.EnsureBillingAccount(ctx, actor)
	if err != nil {
		return err
	}
	return RestrictedActionGate(*u)
}

func (s *Service) startSpan(ctx context.Context, name string, actor types.Actor) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("user.id", actor.UserID)))
}

// endSession records the result of a session initiation on the span and in
// metrics.
func (s *Service) endSession(ctx context.Context, span trace.Span, kind string, err error) {
	defer span.End()

	result := "created"
	if reason, ok := ReasonOf(err); ok {
		result = string(reason)
		span.SetAttributes(attribute.String("billing.precondition", result))
	} else if err != nil {
		result = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.ErrorContext(ctx, "session initiation failed",
			"kind", kind,
			"error", err,
		)
	}
	s.metrics.SessionsTotal.WithLabelValues(kind, result).Inc()
}
