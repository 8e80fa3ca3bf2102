package billing

import (
	"context"

	"membergate/internal/db"
	"membergate/internal/external"
	"membergate/internal/types"
)

// AccountStore is the billing_accounts persistence used by this package.
// Implemented by *db.BillingRepository.
type AccountStore interface {
	GetByUserID(ctx context.Context, userID string) (*types.UserBillingState, error)
	EnsureBillingAccount(ctx context.Context, actor types.Actor) (*types.UserBillingState, error)
	FindByCustomerID(ctx context.Context, customerID string) (*types.UserBillingState, error)
	FindByIdentitySessionID(ctx context.Context, sessionID string) (*types.UserBillingState, error)
	SetExternalCustomerID(ctx context.Context, userID, customerID string) (bool, error)
	SetIdentitySession(ctx context.Context, userID, sessionID string) error
	ApplyMutation(ctx context.Context, userID string, m types.BillingMutation) error
}

// EventStore is the webhook dedup ledger. Implemented by *db.EventRepository.
type EventStore interface {
	InsertEvent(ctx context.Context, rec types.WebhookEventRecord) (bool, error)
}

// Stores groups the stores bound to one transaction.
type Stores struct {
	Accounts AccountStore
	Events   EventStore
}

// TxRunner runs fn in a single database transaction.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

// Provider is the subset of the payment/identity provider used here.
// Implemented by *external.StripeClient.
type Provider interface {
	CreateCustomer(ctx context.Context, p external.CustomerParams) (string, error)
	CreateCheckoutSession(ctx context.Context, p external.CheckoutParams) (*external.CheckoutSession, error)
	RetrieveCheckoutSession(ctx context.Context, sessionID string) (*external.CheckoutSession, error)
	CreateIdentityVerificationSession(ctx context.Context, p external.IdentityParams) (*external.VerificationSession, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error)
}

// SignatureVerifier authenticates webhook bodies.
// Implemented by *external.StripeVerifier.
type SignatureVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// EntitlementPublisher announces restricted-action eligibility flips.
// Implemented by *queue.EntitlementPublisher.
type EntitlementPublisher interface {
	PublishEntitlementChange(ctx context.Context, change types.EntitlementChange) error
}

// PgTxRunner adapts *db.TxManager to TxRunner.
type PgTxRunner struct {
	tm *db.TxManager
}

// NewTxRunner wraps a db.TxManager.
func NewTxRunner(tm *db.TxManager) *PgTxRunner {
	return &PgTxRunner{tm: tm}
}

func (p *PgTxRunner) RunInTx(ctx context.Context, fn func(ctx context.Context, s Stores) error) error {
	return p.tm.RunInTx(ctx, func(ctx context.Context, s db.Stores) error {
		return fn(ctx, Stores{Accounts: s.Billing, Events: s.Events})
	})
}
