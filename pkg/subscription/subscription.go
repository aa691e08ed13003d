package subscription

import (
	"time"

	"github.com/google/uuid"

	"github.com/advogo/billingcore/pkg/catalog"
	"github.com/advogo/billingcore/pkg/jurisdiction"
	"github.com/advogo/billingcore/pkg/statemachine"
)

// Status represents the business state of a subscription.
type Status string

const (
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusCancelled Status = "cancelled"
	StatusExpired   Status = "expired"
	StatusUnpaid    Status = "unpaid"
)

// SyncStatus tracks reconciliation bookkeeping against the payment provider.
// It is not business state: a subscription can be active and pending sync.
type SyncStatus string

const (
	SyncSynced  SyncStatus = "synced"
	SyncPending SyncStatus = "pending"
	SyncError   SyncStatus = "error"
)

// fsm encodes the legal status changes. Recovery from past_due is the only
// backward edge; cancelled and expired are absorbing.
var fsm = statemachine.New[Status]("subscription").
	Allow(StatusActive, StatusPastDue, StatusCancelled, StatusExpired).
	Allow(StatusPastDue, StatusActive, StatusUnpaid).
	Allow(StatusUnpaid, StatusExpired).
	Terminal(StatusCancelled, StatusExpired)

// Subscription is the canonical entitlement record for one subscriber. At
// most one subscription per subscriber is active at any time; history is
// retained for audit, never hard-deleted.
type Subscription struct {
	ID           uuid.UUID            `json:"id"`
	SubscriberID uuid.UUID            `json:"subscriber_id"`
	Jurisdiction jurisdiction.Code    `json:"jurisdiction"`
	PlanName     string               `json:"plan_name"`
	Status       Status               `json:"status"`
	BillingCycle catalog.BillingCycle `json:"billing_cycle"`

	// Current billing period, half-open: start <= now < end while active.
	CurrentPeriodStart time.Time `json:"current_period_start"`
	CurrentPeriodEnd   time.Time `json:"current_period_end"`

	// ProviderSubID correlates to the payment-provider object. Unique across
	// subscriptions, empty until the provider confirms.
	ProviderSubID string     `json:"provider_sub_id,omitempty"`
	SyncStatus    SyncStatus `json:"sync_status"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
}

// IsActive reports whether the subscription currently grants entitlements.
func (s *Subscription) IsActive() bool {
	return s.Status == StatusActive
}

// IsTerminal reports whether the subscription reached an absorbing state.
func (s *Subscription) IsTerminal() bool {
	return fsm.IsTerminal(s.Status)
}

// InPeriod reports whether now falls inside the current billing period.
func (s *Subscription) InPeriod(now time.Time) bool {
	return !now.Before(s.CurrentPeriodStart) && now.Before(s.CurrentPeriodEnd)
}

// CanTransition reports whether a status change is legal for this record.
func (s *Subscription) CanTransition(target Status) bool {
	return fsm.Can(s.Status, target)
}

// periodEnd computes the end of a billing period starting at start.
func periodEnd(start time.Time, cycle catalog.BillingCycle) time.Time {
	if cycle == catalog.CycleYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// MapExternalStatus maps the payment provider's status vocabulary onto the
// internal enum. Unknown values map to expired: entitlements are withheld
// until reconciliation proves otherwise. The second return value is false for
// unknown input so the caller can log the fallback.
func MapExternalStatus(external string) (Status, bool) {
	switch external {
	case "active", "trialing":
		return StatusActive, true
	case "past_due":
		return StatusPastDue, true
	case "canceled", "cancelled":
		return StatusCancelled, true
	case "unpaid":
		return StatusUnpaid, true
	case "expired":
		return StatusExpired, true
	default:
		return StatusExpired, false
	}
}
