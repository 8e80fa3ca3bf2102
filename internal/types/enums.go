package types

// SubscriptionStatus is the locally tracked state of a user's paid
// subscription. Values outside this set are never persisted.
type SubscriptionStatus string

const (
	SubStatusNone       SubscriptionStatus = "none"
	SubStatusIncomplete SubscriptionStatus = "incomplete"
	SubStatusActive     SubscriptionStatus = "active"
	SubStatusPastDue    SubscriptionStatus = "past_due"
	SubStatusCanceled   SubscriptionStatus = "canceled"
	SubStatusUnpaid     SubscriptionStatus = "unpaid"
)

// Valid reports whether s is one of the persisted subscription states.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubStatusNone, SubStatusIncomplete, SubStatusActive,
		SubStatusPastDue, SubStatusCanceled, SubStatusUnpaid:
		return true
	}
	return false
}

// KycStatus is the identity verification state of a user.
type KycStatus string

const (
	KycUnverified KycStatus = "UNVERIFIED"
	KycPending    KycStatus = "PENDING"
	KycVerified   KycStatus = "VERIFIED"
	KycRejected   KycStatus = "REJECTED"
)

// Valid reports whether k is a known KYC state.
func (k KycStatus) Valid() bool {
	switch k {
	case KycUnverified, KycPending, KycVerified, KycRejected:
		return true
	}
	return false
}

// MembershipType is the product tier shown to the user.
type MembershipType string

const (
	MembershipFree    MembershipType = "free"
	MembershipPremium MembershipType = "premium"
)
