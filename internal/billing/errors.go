package billing

import (
	"errors"

	"membergate/internal/types"
)

// Reason names a business precondition that blocked an operation.
type Reason string

const (
	ReasonSubscriptionRequired Reason = "subscription_required"
	ReasonKycRequired          Reason = "kyc_required"
	ReasonAlreadySubscribed    Reason = "already_subscribed"
	ReasonAlreadyVerified      Reason = "already_verified"
)

// PreconditionError is an expected refusal, as opposed to an infrastructure
// failure. No provider call or state change happens before it is returned.
type PreconditionError struct {
	Reason Reason
}

func (e *PreconditionError) Error() string {
	switch e.Reason {
	case ReasonSubscriptionRequired:
		return "an active subscription is required"
	case ReasonKycRequired:
		return "identity verification is required"
	case ReasonAlreadySubscribed:
		return "user already has an active subscription"
	case ReasonAlreadyVerified:
		return "user is already identity verified"
	}
	return "precondition failed: " + string(e.Reason)
}

// AppError converts the refusal to its HTTP-facing form.
func (e *PreconditionError) AppError() *types.AppError {
	var code types.ErrorCode
	switch e.Reason {
	case ReasonSubscriptionRequired:
		code = types.ErrCodeSubscriptionRequired
	case ReasonKycRequired:
		code = types.ErrCodeKycRequired
	case ReasonAlreadySubscribed:
		code = types.ErrCodeConflictAlreadySubscribed
	case ReasonAlreadyVerified:
		code = types.ErrCodeConflictAlreadyVerified
	default:
		code = types.ErrCodeInternalUnexpected
	}
	return types.NewAppErrorWithDetails(code, e.Error(), e, map[string]any{"reason": string(e.Reason)})
}

// ReasonOf returns the precondition reason wrapped in err, if any.
func ReasonOf(err error) (Reason, bool) {
	var pe *PreconditionError
	if errors.As(err, &pe) {
		return pe.Reason, true
	}
	return "", false
}
