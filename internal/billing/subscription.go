package billing

import (
	"membergate/internal/types"
)

// mapProviderStatus converts a provider subscription status to the local
// enum. The second result is false for statuses that are not modelled
// (trialing, paused, anything new); callers leave state unchanged for those.
func mapProviderStatus(s string) (types.SubscriptionStatus, bool) {
	switch s {
	case "active":
		return types.SubStatusActive, true
	case "incomplete":
		return types.SubStatusIncomplete, true
	case "past_due":
		return types.SubStatusPastDue, true
	case "canceled", "incomplete_expired":
		return types.SubStatusCanceled, true
	case "unpaid":
		return types.SubStatusUnpaid, true
	}
	return "", false
}

// SubscriptionTransition computes the change a subscription-side event makes
// to u. It returns ok=false when the event is understood but deliberately not
// applied: an unmodelled provider status, or an update for a subscription
// other than the one currently on record.
func SubscriptionTransition(u types.UserBillingState, ev Event) (m types.BillingMutation, ok bool) {
	switch e := ev.(type) {
	case CheckoutCompleted:
		return activate(e.SubscriptionID), true

	case SubscriptionChanged:
		status, known := mapProviderStatus(e.Status)
		if e.Action == SubscriptionDeleted {
			status, known = types.SubStatusCanceled, true
		}
		if !known {
			return m, false
		}

		if e.Action == SubscriptionCreated {
			if status == types.SubStatusActive {
				return activate(e.SubscriptionID), true
			}
			m.ExternalSubscriptionID = optional(e.SubscriptionID)
			m.SubscriptionStatus = &status
			return m, true
		}

		if isStale(u, e.SubscriptionID) {
			return m, false
		}
		m.ExternalSubscriptionID = adopt(u, e.SubscriptionID)
		m.SubscriptionStatus = &status
		switch status {
		case types.SubStatusActive:
			m.IsActive = ptr(true)
		case types.SubStatusCanceled, types.SubStatusUnpaid:
			if !u.IsLegacyPaid {
				m.IsActive = ptr(false)
			}
		}
		return m, true

	case InvoicePayment:
		if isStale(u, e.SubscriptionID) {
			return m, false
		}
		m.ExternalSubscriptionID = adopt(u, e.SubscriptionID)
		if e.Succeeded {
			m.SubscriptionStatus = ptr(types.SubStatusActive)
			m.IsActive = ptr(true)
		} else {
			m.SubscriptionStatus = ptr(types.SubStatusPastDue)
		}
		return m, true
	}
	return m, false
}

func activate(subscriptionID string) types.BillingMutation {
	return types.BillingMutation{
		ExternalSubscriptionID: optional(subscriptionID),
		SubscriptionStatus:     ptr(types.SubStatusActive),
		MembershipType:         ptr(types.MembershipPremium),
		IsActive:               ptr(true),
	}
}

// isStale reports whether an event concerns a subscription that has since
// been replaced on u.
func isStale(u types.UserBillingState, subscriptionID string) bool {
	return subscriptionID != "" &&
		u.ExternalSubscriptionID != nil &&
		*u.ExternalSubscriptionID != subscriptionID
}

// adopt returns the event's subscription id when u has none on record yet,
// so a status written ahead of checkout completion is tied to its
// subscription.
func adopt(u types.UserBillingState, subscriptionID string) *string {
	if u.ExternalSubscriptionID != nil {
		return nil
	}
	return optional(subscriptionID)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func ptr[T any](v T) *T { return &v }
