package billing

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"membergate/internal/types"
)

// Outcome is how an authenticated webhook was resolved. Every outcome is
// acknowledged to the provider with a 2xx.
type Outcome string

const (
	// OutcomeApplied: first delivery, matched and handled.
	OutcomeApplied Outcome = "applied"
	// OutcomeDuplicate: the event id was already recorded.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeIgnored: recorded, but the type or status is not acted on.
	OutcomeIgnored Outcome = "ignored"
	// OutcomeUnmatched: recorded, but no user owns the referenced customer
	// or session.
	OutcomeUnmatched Outcome = "unmatched"
)

// outcomeRejected labels metrics for deliveries that fail before an outcome.
const outcomeRejected = "rejected"

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	WebhookSecret string
	Now           func() time.Time
}

// Processor ingests provider webhooks: verify, then in one transaction record
// the event id and apply the state change.
type Processor struct {
	verifier  SignatureVerifier
	tx        TxRunner
	publisher EntitlementPublisher
	secret    string
	now       func() time.Time
	metrics   *Metrics
	tracer    trace.Tracer
	logger    *slog.Logger
}

// NewProcessor creates a Processor. publisher may be nil.
func NewProcessor(
	verifier SignatureVerifier,
	tx TxRunner,
	publisher EntitlementPublisher,
	cfg ProcessorConfig,
	metrics *Metrics,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Processor{
		verifier:  verifier,
		tx:        tx,
		publisher: publisher,
		secret:    cfg.WebhookSecret,
		now:       now,
		metrics:   metrics,
		tracer:    otel.Tracer(tracerName),
		logger:    logger,
	}
}

// ProcessWebhookEvent authenticates and applies one webhook delivery.
//
// A bad signature or malformed body returns an AppError and touches nothing.
// A handler failure rolls back both the dedup record and the state change so
// a redelivery is processed from scratch. Once committed, an entitlement flip
// is published best-effort.
func (p *Processor) ProcessWebhookEvent(ctx context.Context, rawBody []byte, sigHeader string) (Outcome, error) {
	start := p.now()
	ctx, span := p.tracer.Start(ctx, "billing.ProcessWebhookEvent")
	defer span.End()

	if err := p.verifier.Verify(rawBody, sigHeader, p.secret); err != nil {
		p.logger.WarnContext(ctx, "webhook signature verification failed", "error", err)
		p.metrics.WebhookEventsTotal.WithLabelValues("unknown", outcomeRejected).Inc()
		span.SetStatus(codes.Error, "invalid signature")
		return "", types.NewAppError(types.ErrCodeAuthInvalidSignature, "webhook signature verification failed", err)
	}

	ev, err := ParseEvent(rawBody)
	if err != nil {
		p.logger.WarnContext(ctx, "malformed webhook payload", "error", err)
		p.metrics.WebhookEventsTotal.WithLabelValues("unknown", outcomeRejected).Inc()
		span.RecordError(err)
		return "", err
	}
	meta := ev.Meta()
	span.SetAttributes(
		attribute.String("webhook.event_id", meta.ID),
		attribute.String("webhook.event_type", meta.Type),
	)

	var (
		outcome Outcome
		change  *types.EntitlementChange
	)
	err = p.tx.RunInTx(ctx, func(ctx context.Context, s Stores) error {
		inserted, err := s.Events.InsertEvent(ctx, types.WebhookEventRecord{
			EventID:    meta.ID,
			EventType:  meta.Type,
			ReceivedAt: p.now().UTC(),
			RawPayload: json.RawMessage(rawBody),
		})
		if err != nil {
			return err
		}
		if !inserted {
			outcome = OutcomeDuplicate
			return nil
		}
		outcome, change, err = p.dispatch(ctx, s.Accounts, ev)
		return err
	})

	p.metrics.WebhookDuration.WithLabelValues(meta.Type).Observe(p.now().Sub(start).Seconds())
	if err != nil {
		p.logger.ErrorContext(ctx, "webhook processing failed; rolled back",
			"event_id", meta.ID,
			"event_type", meta.Type,
			"error", err,
		)
		p.metrics.WebhookEventsTotal.WithLabelValues(meta.Type, "error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}

	p.metrics.WebhookEventsTotal.WithLabelValues(meta.Type, string(outcome)).Inc()
	span.SetAttributes(attribute.String("webhook.outcome", string(outcome)))
	p.logger.InfoContext(ctx, "webhook processed",
		"event_id", meta.ID,
		"event_type", meta.Type,
		"outcome", outcome,
	)

	if change != nil {
		p.publish(ctx, *change)
	}
	return outcome, nil
}

// dispatch finds the affected user and applies the matching state machine.
func (p *Processor) dispatch(ctx context.Context, accounts AccountStore, ev Event) (Outcome, *types.EntitlementChange, error) {
	meta := ev.Meta()

	var (
		u   *types.UserBillingState
		err error
	)
	switch e := ev.(type) {
	case Unrecognized:
		p.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			"event_id", meta.ID,
			"event_type", meta.Type,
		)
		return OutcomeIgnored, nil, nil
	case IdentityVerification:
		u, err = accounts.FindByIdentitySessionID(ctx, e.SessionID)
	case CheckoutCompleted:
		u, err = p.checkoutOwner(ctx, accounts, e)
	default:
		customerID, _ := customerKey(ev)
		u, err = accounts.FindByCustomerID(ctx, customerID)
	}
	if err != nil {
		return "", nil, err
	}
	if u == nil {
		p.logger.WarnContext(ctx, "webhook references no known account",
			"event_id", meta.ID,
			"event_type", meta.Type,
		)
		return OutcomeUnmatched, nil, nil
	}

	var (
		m  types.BillingMutation
		ok = true
	)
	if e, isKyc := ev.(IdentityVerification); isKyc {
		m = KycTransition(*u, e, p.now())
	} else {
		m, ok = SubscriptionTransition(*u, ev)
	}
	if !ok {
		p.logger.InfoContext(ctx, "subscription event not applied",
			"event_id", meta.ID,
			"event_type", meta.Type,
			"user_id", u.UserID,
		)
		return OutcomeIgnored, nil, nil
	}

	m = prune(*u, m)
	if !m.Empty() {
		if err := accounts.ApplyMutation(ctx, u.UserID, m); err != nil {
			return "", nil, err
		}
	}

	after := m.ApplyTo(*u)
	if CanPerformRestrictedAction(*u) == CanPerformRestrictedAction(after) {
		return OutcomeApplied, nil, nil
	}
	return OutcomeApplied, &types.EntitlementChange{
		UserID:                     after.UserID,
		EventID:                    meta.ID,
		EventType:                  meta.Type,
		SubscriptionStatus:         after.SubscriptionStatus,
		KycStatus:                  after.KycStatus,
		CanPerformRestrictedAction: CanPerformRestrictedAction(after),
		OccurredAt:                 p.now().UTC(),
	}, nil
}

// checkoutOwner resolves the account a completed checkout belongs to. The
// customer id is authoritative. When no row owns it yet, the user id the
// session was created for claims it, provided that row has no customer.
func (p *Processor) checkoutOwner(ctx context.Context, accounts AccountStore, e CheckoutCompleted) (*types.UserBillingState, error) {
	u, err := accounts.FindByCustomerID(ctx, e.CustomerID)
	if err != nil {
		return nil, err
	}
	if u != nil {
		if e.UserID != "" && e.UserID != u.UserID {
			p.logger.WarnContext(ctx, "checkout session user does not own its customer",
				"event_id", e.ID,
				"session_user_id", e.UserID,
				"customer_owner_id", u.UserID,
			)
		}
		return u, nil
	}
	if e.UserID == "" || e.CustomerID == "" {
		return nil, nil
	}

	linked, err := accounts.SetExternalCustomerID(ctx, e.UserID, e.CustomerID)
	if err != nil {
		return nil, err
	}
	if !linked {
		return nil, nil
	}
	p.logger.InfoContext(ctx, "linked customer from checkout session",
		"event_id", e.ID,
		"user_id", e.UserID,
	)
	return accounts.FindByCustomerID(ctx, e.CustomerID)
}

func (p *Processor) publish(ctx context.Context, change types.EntitlementChange) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishEntitlementChange(ctx, change); err != nil {
		p.metrics.EntitlementPublishFailures.Inc()
		p.logger.WarnContext(ctx, "failed to publish entitlement change",
			"user_id", change.UserID,
			"event_id", change.EventID,
			"error", err,
		)
	}
}

// prune drops fields of m that would not change u, so re-applied events
// produce an empty mutation.
func prune(u types.UserBillingState, m types.BillingMutation) types.BillingMutation {
	if m.ExternalSubscriptionID != nil && u.ExternalSubscriptionID != nil &&
		*m.ExternalSubscriptionID == *u.ExternalSubscriptionID {
		m.ExternalSubscriptionID = nil
	}
	// Status stays when the subscription id changes; the two are written
	// together.
	if m.SubscriptionStatus != nil && *m.SubscriptionStatus == u.SubscriptionStatus && m.ExternalSubscriptionID == nil {
		m.SubscriptionStatus = nil
	}
	if m.MembershipType != nil && *m.MembershipType == u.MembershipType {
		m.MembershipType = nil
	}
	if m.IsActive != nil && *m.IsActive == u.IsActive {
		m.IsActive = nil
	}
	if m.KycStatus != nil && *m.KycStatus == u.KycStatus {
		m.KycStatus = nil
	}
	if m.ClearKycVerifiedAt && u.KycVerifiedAt == nil {
		m.ClearKycVerifiedAt = false
	}
	if m.ClearIdentitySession && u.IdentitySessionID == nil {
		m.ClearIdentitySession = false
	}
	return m
}
