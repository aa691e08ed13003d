package catalog

import (
	"context"
	"errors"
	"sort"

	"github.com/advogo/billingcore/pkg/errorx"
	"github.com/advogo/billingcore/pkg/jurisdiction"
)

var ErrFailedToLoadPlans = errors.New("catalog: failed to load plans")

// Reader is the plan catalog contract consumed by the billing core.
type Reader interface {
	// GetPlanByName returns the plan registered under a name in a
	// jurisdiction, or a NotFoundError.
	GetPlanByName(ctx context.Context, name string, j jurisdiction.Code) (Plan, error)

	// ListUpgradePlans returns the active paid plans of a jurisdiction,
	// excluding the zero-cost tier.
	ListUpgradePlans(ctx context.Context, j jurisdiction.Code) ([]Plan, error)
}

// Source defines how plans are loaded into a Catalog.
type Source interface {
	Load(ctx context.Context) ([]Plan, error)
}

type planKey struct {
	name         string
	jurisdiction jurisdiction.Code
}

// Catalog serves plan lookups from an in-memory snapshot loaded once at
// construction. The snapshot is immutable afterwards, so a Catalog is safe
// for concurrent use without locking.
type Catalog struct {
	plans map[planKey]Plan
}

// New loads plans from the source and returns a ready Catalog.
func New(ctx context.Context, src Source) (*Catalog, error) {
	plans, err := src.Load(ctx)
	if err != nil {
		return nil, errors.Join(ErrFailedToLoadPlans, err)
	}

	byKey := make(map[planKey]Plan, len(plans))
	for _, p := range plans {
		byKey[planKey{name: p.Name, jurisdiction: p.Jurisdiction}] = p
	}

	return &Catalog{plans: byKey}, nil
}

func (c *Catalog) GetPlanByName(ctx context.Context, name string, j jurisdiction.Code) (Plan, error) {
	plan, ok := c.plans[planKey{name: name, jurisdiction: j}]
	if !ok {
		return Plan{}, errorx.NewNotFound("plan", name)
	}
	return plan, nil
}

func (c *Catalog) ListUpgradePlans(ctx context.Context, j jurisdiction.Code) ([]Plan, error) {
	var out []Plan
	for key, plan := range c.plans {
		if key.jurisdiction != j || plan.IsFree() || !plan.IsActive {
			continue
		}
		out = append(out, plan)
	}

	// Cheapest first for presentation to the subscriber.
	sort.Slice(out, func(i, k int) bool {
		return out[i].MonthlyPrice.Amount < out[k].MonthlyPrice.Amount
	})
	return out, nil
}
