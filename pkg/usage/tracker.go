package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/advogo/billingcore/pkg/catalog"
	"github.com/advogo/billingcore/pkg/jurisdiction"
	"github.com/advogo/billingcore/pkg/subscription"
)

// Tracker answers quota questions and records consumption against the
// subscriber's current billing period. Checks are authoritative; increments
// are best-effort and never block the action being metered.
type Tracker struct {
	stores   StoreRouter
	subs     *subscription.Service
	plans    catalog.Reader
	resolver *jurisdiction.Resolver
	log      *slog.Logger
	now      func() time.Time
}

// NewTracker creates a usage tracker. Panics on nil dependencies.
func NewTracker(stores StoreRouter, subs *subscription.Service, plans catalog.Reader, resolver *jurisdiction.Resolver, opts ...TrackerOption) *Tracker {
	if stores == nil {
		panic("usage: StoreRouter is required")
	}
	if subs == nil {
		panic("usage: subscription service is required")
	}
	if plans == nil {
		panic("usage: plan catalog is required")
	}
	if resolver == nil {
		panic("usage: jurisdiction resolver is required")
	}

	t := &Tracker{
		stores:   stores,
		subs:     subs,
		plans:    plans,
		resolver: resolver,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) storeFor(code jurisdiction.Code) Store {
	j, ok := t.resolver.Get(code)
	if !ok {
		return t.stores.Usage(jurisdiction.BackendRelational)
	}
	return t.stores.Usage(j.Backend)
}

// Check decides whether the subscriber may consume one more unit of a
// dimension. Unmetered dimensions and unlimited plans always pass. A
// subscriber without an active subscription is bootstrapped onto the free
// plan first.
func (t *Tracker) Check(ctx context.Context, sub *subscription.Subscriber, dim catalog.Dimension) (Check, error) {
	if !Metered(sub.Jurisdiction, dim) {
		return Check{Allowed: true}, nil
	}

	active, err := t.subs.EnsureActiveSubscription(ctx, sub)
	if err != nil {
		return Check{}, err
	}
	plan, err := t.plans.GetPlanByName(ctx, active.PlanName, sub.Jurisdiction)
	if err != nil {
		return Check{}, err
	}

	limit, limited := plan.LimitFor(dim)
	if !limited {
		return Check{Allowed: true}, nil
	}

	period, err := t.currentPeriod(ctx, sub, active)
	if err != nil {
		return Check{}, err
	}
	current := period.Count(dim)
	return Check{
		Allowed: current < limit,
		Current: current,
		Limit:   &limit,
	}, nil
}

// Increment records n consumed units. Best-effort: every failure is logged
// and swallowed, a metering hiccup must not reject the subscriber's action.
func (t *Tracker) Increment(ctx context.Context, sub *subscription.Subscriber, dim catalog.Dimension, n int64) {
	if n <= 0 || !Metered(sub.Jurisdiction, dim) {
		return
	}

	active, err := t.subs.EnsureActiveSubscription(ctx, sub)
	if err != nil {
		t.log.WarnContext(ctx, "usage increment skipped, no active subscription",
			slog.String("subscriber_id", sub.ID.String()), slog.Any("error", err))
		return
	}
	period, err := t.currentPeriod(ctx, sub, active)
	if err != nil {
		t.log.WarnContext(ctx, "usage increment skipped, no usage period",
			slog.String("subscription_id", active.ID.String()), slog.Any("error", err))
		return
	}
	if err := t.storeFor(sub.Jurisdiction).IncrementUsage(ctx, period.ID, dim, n); err != nil {
		t.log.WarnContext(ctx, "usage increment failed",
			slog.String("period_id", period.ID.String()),
			slog.String("dimension", string(dim)), slog.Any("error", err))
	}
}

// Consume checks the quota and, when allowed, records one unit. The returned
// Check reflects the state before the increment.
func (t *Tracker) Consume(ctx context.Context, sub *subscription.Subscriber, dim catalog.Dimension) (Check, error) {
	check, err := t.Check(ctx, sub, dim)
	if err != nil {
		return Check{}, err
	}
	if check.Allowed {
		t.Increment(ctx, sub, dim, 1)
	}
	return check, nil
}

// CurrentPeriod returns the subscriber's usage period for the active
// subscription, creating it lazily.
func (t *Tracker) CurrentPeriod(ctx context.Context, sub *subscription.Subscriber) (*Period, error) {
	active, err := t.subs.EnsureActiveSubscription(ctx, sub)
	if err != nil {
		return nil, err
	}
	return t.currentPeriod(ctx, sub, active)
}

func (t *Tracker) currentPeriod(ctx context.Context, sub *subscription.Subscriber, active *subscription.Subscription) (*Period, error) {
	now := t.now().UTC()
	return t.storeFor(sub.Jurisdiction).EnsurePeriod(ctx, &Period{
		ID:             uuid.New(),
		SubscriptionID: active.ID,
		SubscriberID:   sub.ID,
		PeriodStart:    active.CurrentPeriodStart,
		PeriodEnd:      active.CurrentPeriodEnd,
		Counters:       map[catalog.Dimension]int64{},
		CreatedAt:      now,
		UpdatedAt:      now,
	})
}
