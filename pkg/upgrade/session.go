package upgrade

import (
	"time"

	"github.com/google/uuid"

	"github.com/advogo/billingcore/pkg/catalog"
	"github.com/advogo/billingcore/pkg/jurisdiction"
	"github.com/advogo/billingcore/pkg/statemachine"
)

// Status is the authoritative workflow state of an upgrade session.
type Status string

const (
	StatusActive            Status = "active"
	StatusPaymentProcessing Status = "payment_processing"
	StatusCompleted         Status = "completed"
	StatusPaymentConfirmed  Status = "payment_confirmed"
	StatusPaymentFailed     Status = "payment_failed"
	StatusExpired           Status = "expired"
	StatusCancelled         Status = "cancelled"
	StatusFailed            Status = "failed"
)

// Step is the workflow cursor shown to the subscriber. It is presentation
// state only: business decisions read Status, never Step.
type Step string

const (
	StepPlanSelection      Step = "plan_selection"
	StepFrequencySelection Step = "frequency_selection"
	StepPaymentInfo        Step = "payment_info"
	StepPaymentProcessing  Step = "payment_processing"
	StepConfirmation       Step = "confirmation"
	StepExpired            Step = "expired"
)

// stepOrder enforces the forward-only walk through the workflow. StepExpired
// sits outside the ordering; it is set by expiry transitions only.
var stepOrder = map[Step]int{
	StepPlanSelection:      0,
	StepFrequencySelection: 1,
	StepPaymentInfo:        2,
	StepPaymentProcessing:  3,
	StepConfirmation:       4,
}

// fsm encodes the legal status changes. The absorbing states are reachable
// from every non-terminal status; payment_failed may loop back into
// processing for a retry.
var fsm = statemachine.New[Status]("upgrade session").
	Allow(StatusActive, StatusPaymentProcessing, StatusCompleted, StatusCancelled, StatusExpired, StatusFailed).
	Allow(StatusPaymentProcessing, StatusCompleted, StatusPaymentConfirmed, StatusPaymentFailed, StatusCancelled, StatusExpired, StatusFailed).
	Allow(StatusPaymentFailed, StatusPaymentProcessing, StatusCompleted, StatusCancelled, StatusExpired, StatusFailed).
	Allow(StatusPaymentConfirmed, StatusCompleted).
	Terminal(StatusCompleted, StatusCancelled, StatusExpired, StatusFailed)

// LiveStatuses hold the single-live-session slot per subscriber. Stores
// enforce uniqueness over this set.
var LiveStatuses = []Status{StatusActive, StatusPaymentProcessing}

// SweepableStatuses are the states the expiry sweep closes. A session whose
// payment is already confirmed is never swept; it only finishes through
// Complete.
var SweepableStatuses = []Status{StatusActive, StatusPaymentProcessing, StatusPaymentFailed}

// IsLive reports whether a status occupies the single-live-session slot.
func (s Status) IsLive() bool {
	return s == StatusActive || s == StatusPaymentProcessing
}

// IsTerminal reports whether a status is absorbing.
func (s Status) IsTerminal() bool {
	return fsm.IsTerminal(s)
}

// Session is the ephemeral workflow a subscriber walks through to change
// plans. Sessions are retained after reaching a terminal state for audit and
// never reused.
type Session struct {
	ID           uuid.UUID            `json:"id"`
	SubscriberID uuid.UUID            `json:"subscriber_id"`
	Jurisdiction jurisdiction.Code    `json:"jurisdiction"`
	PlanName     string               `json:"plan_name"`
	BillingCycle catalog.BillingCycle `json:"billing_cycle"`
	Amount       catalog.Money        `json:"amount"`

	Status      Status `json:"status"`
	CurrentStep Step   `json:"current_step"`

	AttemptsCount int        `json:"attempts_count"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty"`

	// ProviderCheckoutID correlates to the provider's checkout object, nil
	// until a checkout session is created.
	ProviderCheckoutID *string `json:"provider_checkout_id,omitempty"`

	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsExpired reports whether the session TTL has elapsed.
func (s *Session) IsExpired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Attempt is an append-only log row describing one step attempt. Write-once.
type Attempt struct {
	ID           uuid.UUID `json:"id"`
	SessionID    uuid.UUID `json:"session_id"`
	Step         Step      `json:"step"`
	Success      bool      `json:"success"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}
