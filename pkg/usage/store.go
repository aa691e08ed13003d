package usage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/advogo/billingcore/pkg/catalog"
	"github.com/advogo/billingcore/pkg/jurisdiction"
)

// Store persists usage periods. Implementations must make EnsurePeriod
// idempotent on (SubscriptionID, PeriodStart) and IncrementUsage atomic so
// concurrent consumers never lose counts.
type Store interface {
	// GetPeriod returns the period of a subscription starting at start, or a
	// NotFoundError.
	GetPeriod(ctx context.Context, subscriptionID uuid.UUID, start time.Time) (*Period, error)

	// EnsurePeriod inserts the period unless one with the same
	// (SubscriptionID, PeriodStart) already exists, and returns the stored
	// row either way.
	EnsurePeriod(ctx context.Context, period *Period) (*Period, error)

	// IncrementUsage atomically adds n to one counter of a period.
	IncrementUsage(ctx context.Context, periodID uuid.UUID, dim catalog.Dimension, n int64) error
}

// StoreRouter maps a storage backend to its usage store.
type StoreRouter interface {
	Usage(b jurisdiction.Backend) Store
}
