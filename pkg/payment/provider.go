package payment

import (
	"context"
	"time"
)

// EventType is the normalized billing event vocabulary consumed by the
// reconciliation processor. Provider implementations map their native event
// names onto these values; unrecognized native types pass through unchanged
// so the processor can log and ignore them.
type EventType string

const (
	EventCheckoutCompleted    EventType = "checkout.completed"
	EventSubscriptionCreated  EventType = "subscription.created"
	EventSubscriptionUpdated  EventType = "subscription.updated"
	EventInvoicePaymentFailed EventType = "invoice.payment_failed"
)

// Event is a decoded, signature-verified webhook event. The billing core
// consumes only this normalized form, never provider payloads.
type Event struct {
	Type EventType

	// ObjectID is the id of the provider object the event describes: the
	// transaction for checkout events, the subscription otherwise.
	ObjectID string

	// SubscriptionID is the provider subscription id when the event carries
	// one. For subscription events it equals ObjectID.
	SubscriptionID string

	// Status is the provider's status vocabulary, mapped to the internal
	// enum by the subscription state machine.
	Status string

	// PeriodEnd is the provider-reported end of the current billing period,
	// zero when the event carries none.
	PeriodEnd time.Time

	// Metadata echoes the custom data attached at checkout creation:
	// session_id, subscriber_id, jurisdiction, plan_name, billing_cycle.
	Metadata map[string]string

	OccurredAt time.Time
}

// CheckoutRequest contains what the upgrade workflow needs to open a hosted
// checkout session.
type CheckoutRequest struct {
	PriceRef      string // provider's price id for the chosen plan and cycle
	CustomerEmail string // optional billing email
	Metadata      map[string]string
	SuccessURL    string
}

// Checkout is a hosted checkout session.
type Checkout struct {
	URL       string
	SessionID string // provider's checkout/transaction id
	ExpiresAt time.Time
}

// Provider is the narrow payment-provider contract. Implementations must
// verify webhook signatures and return a SignatureError on mismatch; I/O
// failures are wrapped as UpstreamError so callers can retry with backoff.
type Provider interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	DecodeWebhook(ctx context.Context, payload []byte, signature string) (*Event, error)
}
