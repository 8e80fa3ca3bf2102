package billing

import (
	"membergate/internal/types"
)

// IsPaidMember reports whether u holds an active subscription or the legacy
// grandfather flag.
func IsPaidMember(u types.UserBillingState) bool {
	return u.IsLegacyPaid || u.SubscriptionStatus == types.SubStatusActive
}

// IsKycVerified reports whether u has passed identity verification or holds
// the legacy grandfather flag.
func IsKycVerified(u types.UserBillingState) bool {
	return u.IsLegacyPaid || u.KycStatus == types.KycVerified
}

// CanPerformRestrictedAction is the gate for posting, messaging and commerce.
func CanPerformRestrictedAction(u types.UserBillingState) bool {
	return IsPaidMember(u) && IsKycVerified(u)
}

// RestrictedActionGate returns the first failing gate as a
// *PreconditionError, or nil when u may act. Payment is checked before
// identity.
func RestrictedActionGate(u types.UserBillingState) error {
	if !IsPaidMember(u) {
		return &PreconditionError{Reason: ReasonSubscriptionRequired}
	}
	if !IsKycVerified(u) {
		return &PreconditionError{Reason: ReasonKycRequired}
	}
	return nil
}

// StatusOf builds the client-facing read model for u.
func StatusOf(u types.UserBillingState) types.BillingStatus {
	return types.BillingStatus{
		SubscriptionStatus:         u.SubscriptionStatus,
		MembershipType:             u.MembershipType,
		KycStatus:                  u.KycStatus,
		KycVerifiedAt:              u.KycVerifiedAt,
		IsLegacyPaid:               u.IsLegacyPaid,
		IsPaidMember:               IsPaidMember(u),
		IsKycVerified:              IsKycVerified(u),
		CanPerformRestrictedAction: CanPerformRestrictedAction(u),
		ExternalCustomerID:         u.CustomerID(),
	}
}
