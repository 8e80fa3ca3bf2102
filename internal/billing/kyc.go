package billing

import (
	"time"

	"membergate/internal/types"
)

// KycTransition computes the change an identity event makes to u.
//
//	verified       -> VERIFIED, verified_at = now (first value kept)
//	requires_input -> REJECTED, verified_at cleared
//	canceled       -> UNVERIFIED, verified_at and session cleared
func KycTransition(u types.UserBillingState, ev IdentityVerification, now time.Time) types.BillingMutation {
	var m types.BillingMutation
	switch ev.Outcome {
	case IdentityVerified:
		m.KycStatus = ptr(types.KycVerified)
		if u.KycStatus != types.KycVerified || u.KycVerifiedAt == nil {
			t := now.UTC()
			m.KycVerifiedAt = &t
		}
	case IdentityRequiresInput:
		m.KycStatus = ptr(types.KycRejected)
		m.ClearKycVerifiedAt = true
	case IdentityCanceled:
		m.KycStatus = ptr(types.KycUnverified)
		m.ClearKycVerifiedAt = true
		m.ClearIdentitySession = true
	}
	return m
}
