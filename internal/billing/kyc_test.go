package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"membergate/internal/types"
)

func pendingUser() types.UserBillingState {
	return types.UserBillingState{
		UserID:             "user_1",
		ExternalCustomerID: strp("cus_1"),
		SubscriptionStatus: types.SubStatusActive,
		MembershipType:     types.MembershipPremium,
		IsActive:           true,
		KycStatus:          types.KycPending,
		IdentitySessionID:  strp("vs_1"),
	}
}

func TestKycTransition_Verified(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	u := pendingUser()

	after := KycTransition(u, IdentityVerification{SessionID: "vs_1", Outcome: IdentityVerified}, now).ApplyTo(u)

	assert.Equal(t, types.KycVerified, after.KycStatus)
	require.NotNil(t, after.KycVerifiedAt)
	assert.True(t, after.KycVerifiedAt.Equal(now))
	require.NotNil(t, after.IdentitySessionID)
	assert.Equal(t, "vs_1", *after.IdentitySessionID)
}

func TestKycTransition_VerifiedKeepsFirstTimestamp(t *testing.T) {
	first := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	u := pendingUser()
	u.KycStatus = types.KycVerified
	u.KycVerifiedAt = &first

	m := KycTransition(u, IdentityVerification{SessionID: "vs_1", Outcome: IdentityVerified}, first.Add(time.Hour))

	assert.Nil(t, m.KycVerifiedAt)
	assert.True(t, prune(u, m).Empty())
}

func TestKycTransition_RequiresInput(t *testing.T) {
	verifiedAt := time.Now()
	u := pendingUser()
	u.KycStatus = types.KycVerified
	u.KycVerifiedAt = &verifiedAt

	after := KycTransition(u, IdentityVerification{SessionID: "vs_1", Outcome: IdentityRequiresInput}, time.Now()).ApplyTo(u)

	assert.Equal(t, types.KycRejected, after.KycStatus)
	assert.Nil(t, after.KycVerifiedAt)
	assert.NotNil(t, after.IdentitySessionID)
}

func TestKycTransition_Canceled(t *testing.T) {
	u := pendingUser()

	after := KycTransition(u, IdentityVerification{SessionID: "vs_1", Outcome: IdentityCanceled}, time.Now()).ApplyTo(u)

	assert.Equal(t, types.KycUnverified, after.KycStatus)
	assert.Nil(t, after.KycVerifiedAt)
	assert.Nil(t, after.IdentitySessionID)
}

func TestKycTransition_VerifiedAtOnlyWhenVerified(t *testing.T) {
	outcomes := []IdentityOutcome{IdentityVerified, IdentityRequiresInput, IdentityCanceled}
	for _, first := range outcomes {
		for _, second := range outcomes {
			u := pendingUser()
			u = KycTransition(u, IdentityVerification{Outcome: first}, time.Now()).ApplyTo(u)
			u = KycTransition(u, IdentityVerification{Outcome: second}, time.Now()).ApplyTo(u)

			assert.Equal(t, u.KycStatus == types.KycVerified, u.KycVerifiedAt != nil,
				"%s then %s", first, second)
		}
	}
}
