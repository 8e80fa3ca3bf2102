package billing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"membergate/internal/types"
)

// Provider event type names consumed by the processor.
const (
	EventCheckoutCompleted       = "checkout.session.completed"
	EventSubscriptionCreated     = "customer.subscription.created"
	EventSubscriptionUpdated     = "customer.subscription.updated"
	EventSubscriptionDeleted     = "customer.subscription.deleted"
	EventInvoicePaymentSucceeded = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    = "invoice.payment_failed"
	EventIdentityVerified        = "identity.verification_session.verified"
	EventIdentityRequiresInput   = "identity.verification_session.requires_input"
	EventIdentityCanceled        = "identity.verification_session.canceled"
)

// Event is a parsed provider webhook. The concrete type is one of
// CheckoutCompleted, SubscriptionChanged, InvoicePayment,
// IdentityVerification or Unrecognized.
type Event interface {
	Meta() EventMeta
}

// EventMeta is the envelope shared by every event.
type EventMeta struct {
	ID      string
	Type    string
	Created time.Time
}

func (m EventMeta) Meta() EventMeta { return m }

// CheckoutCompleted reports a finished subscription checkout.
type CheckoutCompleted struct {
	EventMeta
	CustomerID     string
	SubscriptionID string
	UserID         string
}

// SubscriptionAction distinguishes the three subscription lifecycle events.
type SubscriptionAction string

const (
	SubscriptionCreated SubscriptionAction = "created"
	SubscriptionUpdated SubscriptionAction = "updated"
	SubscriptionDeleted SubscriptionAction = "deleted"
)

// SubscriptionChanged reports a subscription lifecycle change. Status is the
// provider's raw status string.
type SubscriptionChanged struct {
	EventMeta
	Action         SubscriptionAction
	CustomerID     string
	SubscriptionID string
	Status         string
}

// InvoicePayment reports the outcome of a recurring charge.
type InvoicePayment struct {
	EventMeta
	CustomerID     string
	SubscriptionID string
	Succeeded      bool
}

// IdentityOutcome is the terminal state a verification session reported.
type IdentityOutcome string

const (
	IdentityVerified      IdentityOutcome = "verified"
	IdentityRequiresInput IdentityOutcome = "requires_input"
	IdentityCanceled      IdentityOutcome = "canceled"
)

// IdentityVerification reports a verification session state change.
type IdentityVerification struct {
	EventMeta
	SessionID string
	Outcome   IdentityOutcome
}

// Unrecognized is any well-formed event the processor does not act on.
type Unrecognized struct {
	EventMeta
}

// customerKey returns the external customer id subscription-side events are
// matched on.
func customerKey(ev Event) (string, bool) {
	switch e := ev.(type) {
	case CheckoutCompleted:
		return e.CustomerID, true
	case SubscriptionChanged:
		return e.CustomerID, true
	case InvoicePayment:
		return e.CustomerID, true
	}
	return "", false
}

// ---------------------------------------------------------------------------
// Parsing
// ---------------------------------------------------------------------------

type webhookEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// expandableID accepts either a bare id string or an expanded object with an
// "id" field, which is how the provider serializes references.
type expandableID string

func (e *expandableID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*e = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}

type checkoutSessionObject struct {
	Customer          expandableID      `json:"customer"`
	Subscription      expandableID      `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type subscriptionObject struct {
	ID       string       `json:"id"`
	Customer expandableID `json:"customer"`
	Status   string       `json:"status"`
}

type invoiceObject struct {
	Customer     expandableID `json:"customer"`
	Subscription expandableID `json:"subscription"`
	Parent       *struct {
		SubscriptionDetails *struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

type verificationSessionObject struct {
	ID string `json:"id"`
}

// ParseEvent decodes a verified webhook body into an Event. Bodies without
// an id or type, or whose data object does not match the declared type, are
// rejected as invalid payloads. Well-formed events of other types parse to
// Unrecognized.
func ParseEvent(payload []byte) (Event, error) {
	var env webhookEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, invalidPayload("malformed event envelope", err)
	}
	if env.ID == "" || env.Type == "" {
		return nil, invalidPayload("event is missing id or type", nil)
	}

	meta := EventMeta{ID: env.ID, Type: env.Type, Created: time.Unix(env.Created, 0).UTC()}
	obj := env.Data.Object

	switch env.Type {
	case EventCheckoutCompleted:
		var o checkoutSessionObject
		if err := decodeObject(obj, &o); err != nil {
			return nil, err
		}
		userID := o.Metadata["user_id"]
		if userID == "" {
			userID = o.ClientReferenceID
		}
		return CheckoutCompleted{
			EventMeta:      meta,
			CustomerID:     string(o.Customer),
			SubscriptionID: string(o.Subscription),
			UserID:         userID,
		}, nil

	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted:
		var o subscriptionObject
		if err := decodeObject(obj, &o); err != nil {
			return nil, err
		}
		action := SubscriptionUpdated
		switch env.Type {
		case EventSubscriptionCreated:
			action = SubscriptionCreated
		case EventSubscriptionDeleted:
			action = SubscriptionDeleted
		}
		return SubscriptionChanged{
			EventMeta:      meta,
			Action:         action,
			CustomerID:     string(o.Customer),
			SubscriptionID: o.ID,
			Status:         o.Status,
		}, nil

	case EventInvoicePaymentSucceeded, EventInvoicePaymentFailed:
		var o invoiceObject
		if err := decodeObject(obj, &o); err != nil {
			return nil, err
		}
		subID := string(o.Subscription)
		if subID == "" && o.Parent != nil && o.Parent.SubscriptionDetails != nil {
			subID = string(o.Parent.SubscriptionDetails.Subscription)
		}
		return InvoicePayment{
			EventMeta:      meta,
			CustomerID:     string(o.Customer),
			SubscriptionID: subID,
			Succeeded:      env.Type == EventInvoicePaymentSucceeded,
		}, nil

	case EventIdentityVerified, EventIdentityRequiresInput, EventIdentityCanceled:
		var o verificationSessionObject
		if err := decodeObject(obj, &o); err != nil {
			return nil, err
		}
		outcome := IdentityVerified
		switch env.Type {
		case EventIdentityRequiresInput:
			outcome = IdentityRequiresInput
		case EventIdentityCanceled:
			outcome = IdentityCanceled
		}
		return IdentityVerification{EventMeta: meta, SessionID: o.ID, Outcome: outcome}, nil
	}

	return Unrecognized{EventMeta: meta}, nil
}

func decodeObject(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return invalidPayload("event has no data.object", nil)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return invalidPayload("malformed data.object", err)
	}
	return nil
}

func invalidPayload(msg string, err error) *types.AppError {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return types.NewAppError(types.ErrCodeValidationInvalidPayload, msg, err)
}
