package subscription

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/advogo/billingcore/pkg/jurisdiction"
)

// SubscriberStore persists subscriber records.
type SubscriberStore interface {
	// InsertSubscriber creates a subscriber, returning a ConflictError when
	// the phone number is already registered.
	InsertSubscriber(ctx context.Context, sub *Subscriber) error

	// GetSubscriber returns a subscriber by id or a NotFoundError.
	GetSubscriber(ctx context.Context, id uuid.UUID) (*Subscriber, error)

	// GetSubscriberByPhone returns a subscriber by normalized phone number or
	// a NotFoundError.
	GetSubscriberByPhone(ctx context.Context, phone string) (*Subscriber, error)
}

// Update describes a conditional status change applied under compare-and-swap.
// Nil pointer fields leave the column untouched.
type Update struct {
	Status        Status
	SyncStatus    *SyncStatus
	PeriodStart   *time.Time
	PeriodEnd     *time.Time
	ProviderSubID *string
	CancelledAt   *time.Time
}

// Store persists subscription records for one backend. Implementations must
// detect uniqueness violations on insert (single active subscription per
// subscriber, unique provider id) and report them as ConflictError, and apply
// UpdateStatus as a compare-and-swap on the status column so concurrent
// writers turn into detectable conflicts instead of lost updates.
type Store interface {
	Insert(ctx context.Context, sub *Subscription) error
	Get(ctx context.Context, id uuid.UUID) (*Subscription, error)

	// FindActive returns the single active subscription of a subscriber or a
	// NotFoundError.
	FindActive(ctx context.Context, subscriberID uuid.UUID) (*Subscription, error)

	// FindByProviderSubID looks a subscription up by its external correlation
	// id, the idempotency key for webhook reconciliation.
	FindByProviderSubID(ctx context.Context, providerSubID string) (*Subscription, error)

	ListBySubscriber(ctx context.Context, subscriberID uuid.UUID) ([]Subscription, error)
	ListByStatus(ctx context.Context, status Status) ([]Subscription, error)

	// UpdateStatus applies upd only while the record's current status is one
	// of from, returning the updated record. A NotFoundError means either the
	// id is unknown or a concurrent writer moved the record out of from
	// first; callers re-read to distinguish.
	UpdateStatus(ctx context.Context, id uuid.UUID, from []Status, upd Update) (*Subscription, error)

	// ExpireOverdue bulk-transitions active subscriptions whose period ended
	// before now to expired, returning the number of records changed.
	// Idempotent: a second call is a no-op.
	ExpireOverdue(ctx context.Context, now time.Time) (int64, error)
}

// StoreRouter resolves the stores governing a jurisdiction's backend. The
// backend is picked once per operation from the subscriber's jurisdiction,
// never re-branched per method.
type StoreRouter interface {
	Subscriptions(b jurisdiction.Backend) Store
	Subscribers(b jurisdiction.Backend) SubscriberStore
}
