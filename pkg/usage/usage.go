package usage

import (
	"time"

	"github.com/google/uuid"

	"github.com/advogo/billingcore/pkg/catalog"
	"github.com/advogo/billingcore/pkg/jurisdiction"
)

// Period accumulates consumption counters for one billing period of one
// subscription. A period is created lazily on first use and keyed by
// (SubscriptionID, PeriodStart), so rollover needs no scheduled job: the
// next billing period simply opens a fresh row.
type Period struct {
	ID             uuid.UUID
	SubscriptionID uuid.UUID
	SubscriberID   uuid.UUID
	PeriodStart    time.Time
	PeriodEnd      time.Time
	Counters       map[catalog.Dimension]int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Count returns the consumed amount for a dimension, zero when untouched.
func (p *Period) Count(dim catalog.Dimension) int64 {
	if p.Counters == nil {
		return 0
	}
	return p.Counters[dim]
}

// Check is a quota decision for one dimension at one point in time.
type Check struct {
	Allowed bool
	Current int64
	// Limit is nil when the dimension is unlimited for the plan.
	Limit *int64
}

// Remaining returns how many units are left, or -1 when unlimited.
func (c Check) Remaining() int64 {
	if c.Limit == nil {
		return -1
	}
	if r := *c.Limit - c.Current; r > 0 {
		return r
	}
	return 0
}

// meteredDimensions lists which dimensions a jurisdiction actually counts.
// The Brazilian product meters chat messages only; the European products
// meter every dimension.
var meteredDimensions = map[jurisdiction.Code][]catalog.Dimension{
	jurisdiction.CodeBR: {catalog.DimensionMessages},
}

// allDimensions is the default metering set for jurisdictions without an
// explicit entry.
var allDimensions = []catalog.Dimension{
	catalog.DimensionMessages,
	catalog.DimensionConsultations,
	catalog.DimensionDocumentAnalyses,
}

// Metered reports whether a dimension is counted in a jurisdiction.
func Metered(code jurisdiction.Code, dim catalog.Dimension) bool {
	dims, ok := meteredDimensions[code]
	if !ok {
		dims = allDimensions
	}
	for _, d := range dims {
		if d == dim {
			return true
		}
	}
	return false
}
