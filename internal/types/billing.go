package types

import (
	"encoding/json"
	"time"
)

// UserBillingState is the per-user billing and verification record.
// It is created the first time the user touches billing and never deleted.
// AccountCreatedAt carries the account service's registration time, which
// decides legacy eligibility; CreatedAt is only when this row appeared.
//
// Invariants:
//   - ExternalCustomerID only transitions from nil to a value, never back.
//   - ExternalSubscriptionID and SubscriptionStatus are written together.
//   - KycVerifiedAt is non-nil iff KycStatus == KycVerified.
type UserBillingState struct {
	UserID                 string
	Email                  string
	DisplayName            string
	ExternalCustomerID     *string
	ExternalSubscriptionID *string
	SubscriptionStatus     SubscriptionStatus
	MembershipType         MembershipType
	IsActive               bool
	KycStatus              KycStatus
	KycVerifiedAt          *time.Time
	IsLegacyPaid           bool
	IdentitySessionID      *string
	AccountCreatedAt       *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Clone returns a deep copy so callers can mutate the result without
// affecting the original.
func (u UserBillingState) Clone() UserBillingState {
	c := u
	c.ExternalCustomerID = cloneString(u.ExternalCustomerID)
	c.ExternalSubscriptionID = cloneString(u.ExternalSubscriptionID)
	c.IdentitySessionID = cloneString(u.IdentitySessionID)
	c.KycVerifiedAt = cloneTime(u.KycVerifiedAt)
	c.AccountCreatedAt = cloneTime(u.AccountCreatedAt)
	return c
}

// CustomerID returns the external customer id or "" when unset.
func (u UserBillingState) CustomerID() string {
	if u.ExternalCustomerID == nil {
		return ""
	}
	return *u.ExternalCustomerID
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// WebhookEventRecord is one row of the permanent dedup ledger.
type WebhookEventRecord struct {
	EventID    string
	EventType  string
	ReceivedAt time.Time
	RawPayload json.RawMessage
}

// BillingStatus is the read model returned to clients describing the
// caller's current entitlements.
type BillingStatus struct {
	SubscriptionStatus         SubscriptionStatus `json:"subscription_status"`
	MembershipType             MembershipType     `json:"membership_type"`
	KycStatus                  KycStatus          `json:"kyc_status"`
	KycVerifiedAt              *time.Time         `json:"kyc_verified_at,omitempty"`
	IsLegacyPaid               bool               `json:"is_legacy_paid"`
	IsPaidMember               bool               `json:"is_paid_member"`
	IsKycVerified              bool               `json:"is_kyc_verified"`
	CanPerformRestrictedAction bool               `json:"can_perform_actions"`
	ExternalCustomerID         string             `json:"stripe_customer_id,omitempty"`
}

// CheckoutResult is returned by checkout initiation.
type CheckoutResult struct {
	CheckoutURL string `json:"checkout_url"`
	SessionID   string `json:"session_id"`
}

// IdentityResult is returned by identity verification initiation.
type IdentityResult struct {
	ClientSecret string `json:"client_secret"`
	SessionID    string `json:"session_id"`
	URL          string `json:"url,omitempty"`
}

// PortalResult is returned by customer portal session creation.
type PortalResult struct {
	PortalURL string `json:"portal_url"`
}

// CheckoutSessionStatus describes a previously created checkout session.
type CheckoutSessionStatus struct {
	SessionID          string             `json:"session_id"`
	Status             string             `json:"status"`
	PaymentStatus      string             `json:"payment_status"`
	SubscriptionStatus SubscriptionStatus `json:"subscription_status,omitempty"`
}

// EntitlementChange is emitted when a user's restricted-action eligibility
// flips as the result of a webhook.
type EntitlementChange struct {
	UserID                     string             `json:"user_id"`
	EventID                    string             `json:"event_id"`
	EventType                  string             `json:"event_type"`
	SubscriptionStatus         SubscriptionStatus `json:"subscription_status"`
	KycStatus                  KycStatus          `json:"kyc_status"`
	CanPerformRestrictedAction bool               `json:"can_perform_actions"`
	OccurredAt                 time.Time          `json:"occurred_at"`
}

// BillingMutation is a partial update to a UserBillingState. Nil fields are
// left untouched; the Clear flags null the column.
type BillingMutation struct {
	ExternalSubscriptionID *string
	SubscriptionStatus     *SubscriptionStatus
	MembershipType         *MembershipType
	IsActive               *bool
	KycStatus              *KycStatus
	KycVerifiedAt          *time.Time
	ClearKycVerifiedAt     bool
	IdentitySessionID      *string
	ClearIdentitySession   bool
}

// Empty reports whether the mutation changes nothing.
func (m BillingMutation) Empty() bool {
	return m.ExternalSubscriptionID == nil &&
		m.SubscriptionStatus == nil &&
		m.MembershipType == nil &&
		m.IsActive == nil &&
		m.KycStatus == nil &&
		m.KycVerifiedAt == nil &&
		!m.ClearKycVerifiedAt &&
		m.IdentitySessionID == nil &&
		!m.ClearIdentitySession
}

// ApplyTo returns a copy of u with the mutation applied.
func (m BillingMutation) ApplyTo(u UserBillingState) UserBillingState {
	out := u.Clone()
	if m.ExternalSubscriptionID != nil {
		out.ExternalSubscriptionID = cloneString(m.ExternalSubscriptionID)
	}
	if m.SubscriptionStatus != nil {
		out.SubscriptionStatus = *m.SubscriptionStatus
	}
	if m.MembershipType != nil {
		out.MembershipType = *m.MembershipType
	}
	if m.IsActive != nil {
		out.IsActive = *m.IsActive
	}
	if m.KycStatus != nil {
		out.KycStatus = *m.KycStatus
	}
	if m.ClearKycVerifiedAt {
		out.KycVerifiedAt = nil
	} else if m.KycVerifiedAt != nil {
		t := *m.KycVerifiedAt
		out.KycVerifiedAt = &t
	}
	if m.ClearIdentitySession {
		out.IdentitySessionID = nil
	} else if m.IdentitySessionID != nil {
		out.IdentitySessionID = cloneString(m.IdentitySessionID)
	}
	return out
}
