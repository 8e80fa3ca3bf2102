package external

import (
	"time"

	"github.com/stripe/stripe-go/v82/webhook"
)

// DefaultSignatureTolerance is the maximum accepted age of a signed
// webhook timestamp.
const DefaultSignatureTolerance = webhook.DefaultTolerance

// StripeVerifier checks the Stripe-Signature header (t=...,v1=...) against
// the endpoint secret with HMAC-SHA256 and a timestamp tolerance.
type StripeVerifier struct {
	Tolerance time.Duration
}

// NewStripeVerifier returns a verifier using the default tolerance.
func NewStripeVerifier() *StripeVerifier {
	return &StripeVerifier{Tolerance: DefaultSignatureTolerance}
}

// Verify returns nil only when at least one v1 signature matches and the
// timestamp is within tolerance.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	tol := v.Tolerance
	if tol <= 0 {
		tol = DefaultSignatureTolerance
	}
	return webhook.ValidatePayloadWithTolerance(payload, header, secret, tol)
}
