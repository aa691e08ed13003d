package reconcile_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advogo/billingcore/pkg/catalog"
	"github.com/advogo/billingcore/pkg/jurisdiction"
	"github.com/advogo/billingcore/pkg/payment"
	"github.com/advogo/billingcore/pkg/reconcile"
	"github.com/advogo/billingcore/pkg/store"
	"github.com/advogo/billingcore/pkg/store/memory"
	"github.com/advogo/billingcore/pkg/subscription"
	"github.com/advogo/billingcore/pkg/upgrade"
)

type fixture struct {
	processor *reconcile.Processor
	subs      *subscription.Service
	sessions  *upgrade.Service
	sub       *subscription.Subscriber
}

func newFixture(t *testing.T, phone string) *fixture {
	t.Helper()

	log := slog.New(slog.DiscardHandler)
	resolver, err := jurisdiction.NewResolver(jurisdiction.Config{DefaultCode: "BR"}, log)
	require.NoError(t, err)

	plans, err := catalog.New(context.Background(), catalog.NewStaticSource(
		catalog.Plan{
			Name:         "Free",
			Jurisdiction: jurisdiction.CodeBR,
			Limits:       map[catalog.Dimension]*int64{catalog.DimensionMessages: catalog.Limit(10)},
			IsActive:     true,
		},
		catalog.Plan{
			Name:         "Free",
			Jurisdiction: jurisdiction.CodePT,
			Limits:       map[catalog.Dimension]*int64{catalog.DimensionMessages: catalog.Limit(10)},
			IsActive:     true,
		},
		catalog.Plan{
			Name:              "Pro",
			Jurisdiction:      jurisdiction.CodePT,
			MonthlyPrice:      catalog.Money{Amount: 1990, Currency: "EUR"},
			IsUnlimited:       true,
			IsActive:          true,
			ProviderProductID: "pro_pt",
			ProviderPriceIDs:  map[catalog.BillingCycle]string{catalog.CycleMonthly: "pri_pt_m"},
		},
	))
	require.NoError(t, err)

	mem := memory.New()
	router := store.NewRouter(mem, mem)
	subs := subscription.NewService(router, resolver, plans, subscription.WithLogger(log))
	sessions := upgrade.NewService(router, resolver, plans, nil, upgrade.WithLogger(log))
	processor := reconcile.NewProcessor(subs, sessions, reconcile.WithLogger(log))

	sub, err := subs.EnsureSubscriber(context.Background(), phone)
	require.NoError(t, err)

	return &fixture{processor: processor, subs: subs, sessions: sessions, sub: sub}
}

func checkoutEvent(f *fixture, session *upgrade.Session, providerSubID string) *payment.Event {
	return &payment.Event{
		Type:           payment.EventCheckoutCompleted,
		ObjectID:       "txn_1",
		SubscriptionID: providerSubID,
		Status:         "completed",
		Metadata: map[string]string{
			"session_id":    session.ID.String(),
			"subscriber_id": f.sub.ID.String(),
			"jurisdiction":  string(f.sub.Jurisdiction),
			"plan_name":     session.PlanName,
			"billing_cycle": string(session.BillingCycle),
		},
		OccurredAt: time.Now().UTC(),
	}
}

func TestProcessorCheckoutCompleted(t *testing.T) {
	t.Parallel()

	t.Run("completes the session and activates the paid plan", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, "+351912345678")
		ctx := context.Background()

		// The subscriber starts on the bootstrapped free plan, picks Pro at
		// 19.90 EUR monthly and pays through the hosted checkout.
		free, err := f.subs.EnsureActiveSubscription(ctx, f.sub)
		require.NoError(t, err)
		require.Equal(t, "Free", free.PlanName)

		session, err := f.sessions.CreateSession(ctx, f.sub, "Pro",
			catalog.CycleMonthly, catalog.Money{Amount: 1990, Currency: "EUR"})
		require.NoError(t, err)
		session, err = f.sessions.BeginPaymentProcessing(ctx, session, "txn_1")
		require.NoError(t, err)

		require.NoError(t, f.processor.Process(ctx, checkoutEvent(f, session, "sub_abc")))

		got, err := f.sessions.Get(ctx, f.sub.Jurisdiction, session.ID)
		require.NoError(t, err)
		assert.Equal(t, upgrade.StatusCompleted, got.Status)
		assert.Equal(t, upgrade.StepConfirmation, got.CurrentStep)

		active, err := f.subs.FindActive(ctx, f.sub)
		require.NoError(t, err)
		assert.Equal(t, "Pro", active.PlanName)
		assert.Equal(t, "sub_abc", active.ProviderSubID)
		assert.Equal(t, subscription.SyncSynced, active.SyncStatus)
	})

	t.Run("redelivery is idempotent", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, "+351912345678")
		ctx := context.Background()

		session, err := f.sessions.CreateSession(ctx, f.sub, "Pro",
			catalog.CycleMonthly, catalog.Money{Amount: 1990, Currency: "EUR"})
		require.NoError(t, err)

		ev := checkoutEvent(f, session, "sub_abc")
		require.NoError(t, f.processor.Process(ctx, ev))
		require.NoError(t, f.processor.Process(ctx, ev))

		history, err := f.subs.ListBySubscriber(ctx, f.sub)
		require.NoError(t, err)
		var active int
		for _, rec := range history {
			if rec.Status == subscription.StatusActive {
				active++
			}
		}
		assert.Equal(t, 1, active)
	})

	t.Run("unknown session is logged and dropped", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, "+351912345678")
		ev := &payment.Event{
			Type:     payment.EventCheckoutCompleted,
			ObjectID: "txn_1",
			Metadata: map[string]string{"session_id": "not-a-uuid"},
		}
		require.NoError(t, f.processor.Process(context.Background(), ev))
	})
}

func TestProcessorSubscriptionChanged(t *testing.T) {
	t.Parallel()

	t.Run("converges local status onto the provider view", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, "+351912345678")
		ctx := context.Background()

		_, err := f.subs.ActivateFromUpgrade(ctx, f.sub, "Pro", catalog.CycleMonthly, "sub_abc")
		require.NoError(t, err)

		periodEnd := time.Now().UTC().AddDate(0, 1, 0).Truncate(time.Second)
		require.NoError(t, f.processor.Process(ctx, &payment.Event{
			Type:           payment.EventSubscriptionUpdated,
			ObjectID:       "sub_abc",
			SubscriptionID: "sub_abc",
			Status:         "past_due",
			PeriodEnd:      periodEnd,
			Metadata:       map[string]string{"jurisdiction": "PT"},
		}))

		got, err := f.subs.LookupByProviderSubID(ctx, jurisdiction.CodePT, "sub_abc")
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPastDue, got.Status)
		assert.Equal(t, periodEnd, got.CurrentPeriodEnd)
	})

	t.Run("stale event after cancellation is dropped", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, "+351912345678")
		ctx := context.Background()

		rec, err := f.subs.ActivateFromUpgrade(ctx, f.sub, "Pro", catalog.CycleMonthly, "sub_abc")
		require.NoError(t, err)
		_, err = f.subs.Transition(ctx, rec, subscription.StatusCancelled, subscription.Effects{})
		require.NoError(t, err)

		require.NoError(t, f.processor.Process(ctx, &payment.Event{
			Type:           payment.EventSubscriptionUpdated,
			ObjectID:       "sub_abc",
			SubscriptionID: "sub_abc",
			Status:         "active",
			Metadata:       map[string]string{"jurisdiction": "PT"},
		}))

		got, err := f.subs.LookupByProviderSubID(ctx, jurisdiction.CodePT, "sub_abc")
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusCancelled, got.Status)
	})

	t.Run("event without jurisdiction finds the record across backends", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, "+5511912345678")
		ctx := context.Background()

		_, err := f.subs.ReconcileFromExternal(ctx, jurisdiction.CodeBR, subscription.ExternalUpdate{
			SubscriberID:   f.sub.ID,
			ProviderSubID:  "sub_br",
			ExternalStatus: "active",
			PlanName:       "Free",
		})
		require.NoError(t, err)

		require.NoError(t, f.processor.Process(ctx, &payment.Event{
			Type:           payment.EventSubscriptionUpdated,
			ObjectID:       "sub_br",
			SubscriptionID: "sub_br",
			Status:         "past_due",
		}))

		got, err := f.subs.LookupByProviderSubID(ctx, "", "sub_br")
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusPastDue, got.Status)
	})
}

func TestProcessorOutOfOrderDelivery(t *testing.T) {
	t.Parallel()

	// The provider guarantees no ordering: subscription.updated for a paid
	// checkout can land before checkout.completed does. Both orders must end
	// with a single active subscription.
	f := newFixture(t, "+351912345678")
	ctx := context.Background()

	free, err := f.subs.EnsureActiveSubscription(ctx, f.sub)
	require.NoError(t, err)
	require.Equal(t, "Free", free.PlanName)

	session, err := f.sessions.CreateSession(ctx, f.sub, "Pro",
		catalog.CycleMonthly, catalog.Money{Amount: 1990, Currency: "EUR"})
	require.NoError(t, err)
	session, err = f.sessions.BeginPaymentProcessing(ctx, session, "txn_1")
	require.NoError(t, err)

	periodEnd := time.Now().UTC().AddDate(0, 1, 0).Truncate(time.Second)
	require.NoError(t, f.processor.Process(ctx, &payment.Event{
		Type:           payment.EventSubscriptionUpdated,
		ObjectID:       "sub_abc",
		SubscriptionID: "sub_abc",
		Status:         "active",
		PeriodEnd:      periodEnd,
		Metadata: map[string]string{
			"subscriber_id": f.sub.ID.String(),
			"jurisdiction":  string(f.sub.Jurisdiction),
			"plan_name":     "Pro",
			"billing_cycle": string(catalog.CycleMonthly),
		},
	}))

	require.NoError(t, f.processor.Process(ctx, checkoutEvent(f, session, "sub_abc")))

	got, err := f.sessions.Get(ctx, f.sub.Jurisdiction, session.ID)
	require.NoError(t, err)
	assert.Equal(t, upgrade.StatusCompleted, got.Status)

	active, err := f.subs.FindActive(ctx, f.sub)
	require.NoError(t, err)
	assert.Equal(t, "Pro", active.PlanName)
	assert.Equal(t, "sub_abc", active.ProviderSubID)
	assert.Equal(t, periodEnd, active.CurrentPeriodEnd)

	// The superseded free bootstrap is the only other record, and it is
	// cancelled.
	all, err := f.subs.ListBySubscriber(ctx, f.sub)
	require.NoError(t, err)
	require.Len(t, all, 2)
	var activeCount int
	for _, rec := range all {
		if rec.Status == subscription.StatusActive {
			activeCount++
		}
	}
	assert.Equal(t, 1, activeCount)
}

func TestProcessorPaymentFailed(t *testing.T) {
	t.Parallel()

	t.Run("drops to past_due then unpaid", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, "+351912345678")
		ctx := context.Background()

		_, err := f.subs.ActivateFromUpgrade(ctx, f.sub, "Pro", catalog.CycleMonthly, "sub_abc")
		require.NoError(t, err)

		ev := &payment.Event{
			Type:           payment.EventInvoicePaymentFailed,
			ObjectID:       "inv_1",
			SubscriptionID: "sub_abc",
			Metadata:       map[string]string{"jurisdiction": "PT"},
		}
		require.NoError(t, f.processor.Process(ctx, ev))

		got, err := f.subs.LookupByProviderSubID(ctx, jurisdiction.CodePT, "sub_abc")
		require.NoError(t, err)
		require.Equal(t, subscription.StatusPastDue, got.Status)

		require.NoError(t, f.processor.Process(ctx, ev))
		got, err = f.subs.LookupByProviderSubID(ctx, jurisdiction.CodePT, "sub_abc")
		require.NoError(t, err)
		assert.Equal(t, subscription.StatusUnpaid, got.Status)
	})

	t.Run("unknown subscription is logged and dropped", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t, "+351912345678")
		require.NoError(t, f.processor.Process(context.Background(), &payment.Event{
			Type:           payment.EventInvoicePaymentFailed,
			SubscriptionID: "sub_missing",
		}))
	})
}

func TestProcessorUnknownEventType(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "+351912345678")
	require.NoError(t, f.processor.Process(context.Background(), &payment.Event{
		Type:     payment.EventType("adjustment.created"),
		ObjectID: "adj_1",
	}))
}
