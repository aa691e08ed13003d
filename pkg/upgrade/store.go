package upgrade

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/advogo/billingcore/pkg/jurisdiction"
)

// SessionUpdate describes a conditional session change applied under
// compare-and-swap on the status column. Nil pointer fields are untouched.
type SessionUpdate struct {
	Status             Status
	Step               *Step
	ProviderCheckoutID *string
	IncrementAttempts  bool
	LastAttemptAt      *time.Time
}

// SessionStore persists upgrade sessions and their attempt log for one
// backend. Implementations must detect the "one live session per subscriber"
// uniqueness violation on insert and report it as ConflictError, and apply
// UpdateSession as a compare-and-swap so racing terminal transitions resolve
// to first-writer-wins.
type SessionStore interface {
	InsertSession(ctx context.Context, s *Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*Session, error)

	// FindLiveBySubscriber returns the subscriber's active or
	// payment-processing session, or a NotFoundError.
	FindLiveBySubscriber(ctx context.Context, subscriberID uuid.UUID) (*Session, error)

	ListSessionsBySubscriber(ctx context.Context, subscriberID uuid.UUID) ([]Session, error)
	ListSessionsByStatus(ctx context.Context, status Status) ([]Session, error)

	// UpdateSession applies upd only while the session status is one of from.
	// A NotFoundError means the id is unknown or a concurrent writer moved
	// the session first.
	UpdateSession(ctx context.Context, id uuid.UUID, from []Status, upd SessionUpdate) (*Session, error)

	// RecordAttempt appends a write-once attempt row.
	RecordAttempt(ctx context.Context, a *Attempt) error
	ListAttempts(ctx context.Context, sessionID uuid.UUID) ([]Attempt, error)

	// SweepExpiredSessions bulk-expires live sessions whose ExpiresAt passed,
	// returning the number of sessions changed. Idempotent.
	SweepExpiredSessions(ctx context.Context, now time.Time) (int64, error)
}

// StoreRouter resolves the session store governing a jurisdiction's backend.
type StoreRouter interface {
	Sessions(b jurisdiction.Backend) SessionStore
}
