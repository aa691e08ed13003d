package catalog

import (
	"github.com/advogo/billingcore/pkg/jurisdiction"
)

// Plan describes a commercial tier offered in one jurisdiction. Plans are
// immutable after creation except for soft-deactivation, and read-only from
// the billing core's perspective.
type Plan struct {
	Name         string
	Jurisdiction jurisdiction.Code
	Description  string
	MonthlyPrice Money
	YearlyPrice  Money

	// Limits holds the quota per metered dimension; a nil entry or a missing
	// dimension on an unlimited plan means no cap.
	Limits      map[Dimension]*int64
	IsUnlimited bool
	IsActive    bool

	// Provider correlation ids used during checkout and webhook
	// reconciliation.
	ProviderProductID string
	ProviderPriceIDs  map[BillingCycle]string
}

// Price returns the plan price for a billing cycle.
func (p Plan) Price(cycle BillingCycle) Money {
	if cycle == CycleYearly {
		return p.YearlyPrice
	}
	return p.MonthlyPrice
}

// ProviderPriceID returns the payment-provider price reference for a cycle,
// empty for zero-cost plans that never reach the provider.
func (p Plan) ProviderPriceID(cycle BillingCycle) string {
	return p.ProviderPriceIDs[cycle]
}

// IsFree reports whether the plan is the zero-cost tier.
func (p Plan) IsFree() bool {
	return p.MonthlyPrice.IsZero() && p.YearlyPrice.IsZero()
}

// LimitFor returns the quota for a dimension. The second return value is
// false when the dimension is uncapped (unlimited plan, nil limit or a
// dimension the plan does not meter).
func (p Plan) LimitFor(dim Dimension) (int64, bool) {
	if p.IsUnlimited {
		return 0, false
	}
	limit, ok := p.Limits[dim]
	if !ok || limit == nil {
		return 0, false
	}
	return *limit, true
}
