package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"membergate/internal/external"
	"membergate/internal/types"
)

const testWebhookSecret = "whsec_test_secret"

// ---------------------------------------------------------------------------
// In-memory store with transactional rollback
// ---------------------------------------------------------------------------

type memStore struct {
	mu       sync.Mutex
	txMu     sync.Mutex
	accounts map[string]types.UserBillingState
	events   map[string]types.WebhookEventRecord

	applyErr    error
	applyCalls  int
	setSessCall int
}

func newMemStore() *memStore {
	return &memStore{
		accounts: make(map[string]types.UserBillingState),
		events:   make(map[string]types.WebhookEventRecord),
	}
}

func (s *memStore) put(u types.UserBillingState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.SubscriptionStatus == "" {
		u.SubscriptionStatus = types.SubStatusNone
	}
	if u.MembershipType == "" {
		u.MembershipType = types.MembershipFree
	}
	if u.KycStatus == "" {
		u.KycStatus = types.KycUnverified
	}
	s.accounts[u.UserID] = u.Clone()
}

func (s *memStore) get(userID string) types.UserBillingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[userID].Clone()
}

func (s *memStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *memStore) GetByUserID(_ context.Context, userID string) (*types.UserBillingState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.accounts[userID]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeNotFoundBillingAccount, "billing account not found", nil)
	}
	c := u.Clone()
	return &c, nil
}

func (s *memStore) EnsureBillingAccount(ctx context.Context, actor types.Actor) (*types.UserBillingState, error) {
	s.mu.Lock()
	if _, ok := s.accounts[actor.UserID]; !ok {
		s.accounts[actor.UserID] = types.UserBillingState{
			UserID:             actor.UserID,
			Email:              actor.Email,
			DisplayName:        actor.DisplayName,
			SubscriptionStatus: types.SubStatusNone,
			MembershipType:     types.MembershipFree,
			IsActive:           true,
			KycStatus:          types.KycUnverified,
			CreatedAt:          time.Now(),
		}
	}
	s.mu.Unlock()
	return s.GetByUserID(ctx, actor.UserID)
}

func (s *memStore) findBy(match func(u types.UserBillingState) bool) *types.UserBillingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.accounts {
		if match(u) {
			c := u.Clone()
			return &c
		}
	}
	return nil
}

func (s *memStore) FindByCustomerID(_ context.Context, customerID string) (*types.UserBillingState, error) {
	if customerID == "" {
		return nil, nil
	}
	return s.findBy(func(u types.UserBillingState) bool { return u.CustomerID() == customerID }), nil
}

func (s *memStore) FindByIdentitySessionID(_ context.Context, sessionID string) (*types.UserBillingState, error) {
	if sessionID == "" {
		return nil, nil
	}
	return s.findBy(func(u types.UserBillingState) bool {
		return u.IdentitySessionID != nil && *u.IdentitySessionID == sessionID
	}), nil
}

func (s *memStore) SetExternalCustomerID(_ context.Context, userID, customerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.accounts[userID]
	if !ok || u.ExternalCustomerID != nil {
		return false, nil
	}
	u.ExternalCustomerID = &customerID
	s.accounts[userID] = u
	return true, nil
}

func (s *memStore) SetIdentitySession(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setSessCall++
	u, ok := s.accounts[userID]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundBillingAccount, "billing account not found", nil)
	}
	u.IdentitySessionID = &sessionID
	u.KycStatus = types.KycPending
	u.KycVerifiedAt = nil
	s.accounts[userID] = u
	return nil
}

func (s *memStore) ApplyMutation(_ context.Context, userID string, m types.BillingMutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.applyCalls++
	if s.applyErr != nil {
		return s.applyErr
	}
	u, ok := s.accounts[userID]
	if !ok {
		return types.NewAppError(types.ErrCodeNotFoundBillingAccount, "billing account not found", nil)
	}
	s.accounts[userID] = m.ApplyTo(u)
	return nil
}

func (s *memStore) InsertEvent(_ context.Context, rec types.WebhookEventRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.events[rec.EventID]; ok {
		return false, nil
	}
	s.events[rec.EventID] = rec
	return true, nil
}

// RunInTx serializes transactions and restores a snapshot when fn fails.
func (s *memStore) RunInTx(ctx context.Context, fn func(ctx context.Context, st Stores) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	accounts := make(map[string]types.UserBillingState, len(s.accounts))
	for k, v := range s.accounts {
		accounts[k] = v.Clone()
	}
	events := make(map[string]types.WebhookEventRecord, len(s.events))
	for k, v := range s.events {
		events[k] = v
	}
	s.mu.Unlock()

	if err := fn(ctx, Stores{Accounts: s, Events: s}); err != nil {
		s.mu.Lock()
		s.accounts, s.events = accounts, events
		s.mu.Unlock()
		return err
	}
	return nil
}

// ---------------------------------------------------------------------------
// Fake provider
// ---------------------------------------------------------------------------

type fakeProvider struct {
	customerCalls atomic.Int32
	checkoutCalls atomic.Int32
	identityCalls atomic.Int32
	portalCalls   atomic.Int32

	// customerGate, when set, blocks CreateCustomer until closed.
	customerGate chan struct{}
	// customerCtxErr records ctx.Err() as CreateCustomer returns.
	customerCtxErr atomic.Value

	customerErr error
	checkoutErr error
	identityErr error

	lastCheckout external.CheckoutParams
	lastIdentity external.IdentityParams
	lastPortal   string
	retrieved    *external.CheckoutSession
}

func (p *fakeProvider) CreateCustomer(ctx context.Context, params external.CustomerParams) (string, error) {
	n := p.customerCalls.Add(1)
	if p.customerGate != nil {
		<-p.customerGate
	}
	p.customerCtxErr.Store(fmt.Sprint(ctx.Err()))
	if p.customerErr != nil {
		return "", p.customerErr
	}
	return fmt.Sprintf("cus_%s_%d", params.UserID, n), nil
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, params external.CheckoutParams) (*external.CheckoutSession, error) {
	p.checkoutCalls.Add(1)
	p.lastCheckout = params
	if p.checkoutErr != nil {
		return nil, p.checkoutErr
	}
	return &external.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.test/cs_test_1"}, nil
}

func (p *fakeProvider) RetrieveCheckoutSession(_ context.Context, sessionID string) (*external.CheckoutSession, error) {
	if p.retrieved == nil {
		return nil, types.NewAppError(types.ErrCodeNotFoundProviderObject, "no such session", nil)
	}
	return p.retrieved, nil
}

func (p *fakeProvider) CreateIdentityVerificationSession(_ context.Context, params external.IdentityParams) (*external.VerificationSession, error) {
	p.identityCalls.Add(1)
	p.lastIdentity = params
	if p.identityErr != nil {
		return nil, p.identityErr
	}
	return &external.VerificationSession{ID: "vs_test_1", ClientSecret: "vs_test_1_secret", URL: "https://verify.stripe.test/vs_test_1"}, nil
}

func (p *fakeProvider) CreatePortalSession(_ context.Context, customerID, returnURL string) (string, error) {
	p.portalCalls.Add(1)
	p.lastPortal = returnURL
	return "https://billing.stripe.test/p/" + customerID, nil
}

// ---------------------------------------------------------------------------
// Fake publisher
// ---------------------------------------------------------------------------

type fakePublisher struct {
	mu      sync.Mutex
	changes []types.EntitlementChange
	err     error
}

func (f *fakePublisher) PublishEntitlementChange(_ context.Context, c types.EntitlementChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, c)
	return f.err
}

// ---------------------------------------------------------------------------
// Webhook helpers
// ---------------------------------------------------------------------------

// signedEvent builds a webhook body for the given object and signs it.
func signedEvent(t *testing.T, id, eventType string, object map[string]any) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":      id,
		"object":  "event",
		"type":    eventType,
		"created": time.Now().Unix(),
		"data":    map[string]any{"object": object},
	})
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	sp := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload: body,
		Secret:  testWebhookSecret,
	})
	return body, sp.Header
}

func strp(s string) *string { return &s }
