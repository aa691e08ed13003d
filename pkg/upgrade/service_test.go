package upgrade_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advogo/billingcore/pkg/catalog"
	"github.com/advogo/billingcore/pkg/errorx"
	"github.com/advogo/billingcore/pkg/jurisdiction"
	"github.com/advogo/billingcore/pkg/payment"
	"github.com/advogo/billingcore/pkg/store"
	"github.com/advogo/billingcore/pkg/store/memory"
	"github.com/advogo/billingcore/pkg/subscription"
	"github.com/advogo/billingcore/pkg/upgrade"
)

type stubProvider struct {
	lastRequest payment.CheckoutRequest
	checkout    payment.Checkout
	err         error
}

func (p *stubProvider) CreateCheckoutSession(_ context.Context, req payment.CheckoutRequest) (*payment.Checkout, error) {
	p.lastRequest = req
	if p.err != nil {
		return nil, p.err
	}
	out := p.checkout
	return &out, nil
}

func (p *stubProvider) DecodeWebhook(_ context.Context, _ []byte, _ string) (*payment.Event, error) {
	panic("not used")
}

type fixture struct {
	svc      *upgrade.Service
	subs     *subscription.Service
	provider *stubProvider
	sub      *subscription.Subscriber

	router   *store.Router
	resolver *jurisdiction.Resolver
	plans    catalog.Reader
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := slog.New(slog.DiscardHandler)
	resolver, err := jurisdiction.NewResolver(jurisdiction.Config{DefaultCode: "BR"}, log)
	require.NoError(t, err)

	plans, err := catalog.New(context.Background(), catalog.NewStaticSource(
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
	provider := &stubProvider{checkout: payment.Checkout{
		URL:       "https://pay.example.com/txn_1",
		SessionID: "txn_1",
	}}
	svc := upgrade.NewService(router, resolver, plans, provider, upgrade.WithLogger(log))

	sub, err := subs.EnsureSubscriber(context.Background(), "+351912345678")
	require.NoError(t, err)

	return &fixture{
		svc: svc, subs: subs, provider: provider, sub: sub,
		router: router, resolver: resolver, plans: plans,
	}
}

func (f *fixture) createSession(t *testing.T) *upgrade.Session {
	t.Helper()

	session, err := f.svc.CreateSession(context.Background(), f.sub, "Pro",
		catalog.CycleMonthly, catalog.Money{Amount: 1990, Currency: "EUR"})
	require.NoError(t, err)
	return session
}

func TestServiceCreateSession(t *testing.T) {
	t.Parallel()

	t.Run("opens session at plan selection", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		session := f.createSession(t)

		assert.Equal(t, upgrade.StatusActive, session.Status)
		assert.Equal(t, upgrade.StepPlanSelection, session.CurrentStep)
		assert.Equal(t, jurisdiction.CodePT, session.Jurisdiction)
		assert.WithinDuration(t, time.Now().Add(upgrade.DefaultSessionTTL), session.ExpiresAt, time.Minute)
	})

	t.Run("rejects second live session", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.createSession(t)

		_, err := f.svc.CreateSession(context.Background(), f.sub, "Pro",
			catalog.CycleMonthly, catalog.Money{Amount: 1990, Currency: "EUR"})
		require.Error(t, err)
		assert.True(t, errorx.IsConflict(err))
	})

	t.Run("allows new session after terminal state", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		session := f.createSession(t)

		_, err := f.svc.Cancel(context.Background(), session)
		require.NoError(t, err)

		next := f.createSession(t)
		assert.NotEqual(t, session.ID, next.ID)
	})

	t.Run("rejects unknown plan", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		_, err := f.svc.CreateSession(context.Background(), f.sub, "Enterprise",
			catalog.CycleMonthly, catalog.Money{Amount: 9900, Currency: "EUR"})
		require.Error(t, err)
		assert.True(t, errorx.IsNotFound(err))
	})
}

func TestServiceAdvanceStep(t *testing.T) {
	t.Parallel()

	t.Run("moves forward through the workflow", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		session := f.createSession(t)
		ctx := context.Background()

		session, err := f.svc.AdvanceStep(ctx, session, upgrade.StepFrequencySelection)
		require.NoError(t, err)
		session, err = f.svc.AdvanceStep(ctx, session, upgrade.StepPaymentInfo)
		require.NoError(t, err)
		assert.Equal(t, upgrade.StepPaymentInfo, session.CurrentStep)
	})

	t.Run("skipping ahead is allowed", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		session := f.createSession(t)

		session, err := f.svc.AdvanceStep(context.Background(), session, upgrade.StepPaymentInfo)
		require.NoError(t, err)
		assert.Equal(t, upgrade.StepPaymentInfo, session.CurrentStep)
	})

	t.Run("never moves backward", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		session := f.createSession(t)
		ctx := context.Background()

		session, err := f.svc.AdvanceStep(ctx, session, upgrade.StepPaymentInfo)
		require.NoError(t, err)

		_, err = f.svc.AdvanceStep(ctx, session, upgrade.StepPlanSelection)
		require.Error(t, err)
		assert.True(t, errorx.IsInvalidTransition(err))
	})

	t.Run("current step is a no-op", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		session := f.createSession(t)

		got, err := f.svc.AdvanceStep(context.Background(), session, upgrade.StepPlanSelection)
		require.NoError(t, err)
		assert.Equal(t, upgrade.StepPlanSelection, got.CurrentStep)
	})

	t.Run("rejected on terminal session", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		session := f.createSession(t)
		ctx := context.Background()

		session, err := f.svc.Cancel(ctx, session)
		require.NoError(t, err)

		_, err = f.svc.AdvanceStep(ctx, session, upgrade.StepPaymentInfo)
		require.Error(t, err)
		assert.True(t, errorx.IsInvalidTransition(err))

		// The rejection names the step move, not the terminal status.
		var tr *errorx.InvalidTransitionError
		require.ErrorAs(t, err, &tr)
		assert.Equal(t, string(session.CurrentStep), tr.From)
		assert.Equal(t, string(upgrade.StepPaymentInfo), tr.To)
	})
}

func TestServiceStartCheckout(t *testing.T) {
	t.Parallel()

	t.Run("opens checkout and moves into payment processing", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		session := f.createSession(t)

		checkout, session, err := f.svc.StartCheckout(context.Background(), f.sub, session,
			"ana@example.com", "https://app.example.com/done")
		require.NoError(t, err)

		assert.Equal(t, "https://pay.example.com/txn_1", checkout.URL)
		assert.Equal(t, upgrade.StatusPaymentProcessing, session.Status)
		assert.Equal(t, upgrade.StepPaymentProcessing, session.CurrentStep)
		require.NotNil(t, session.ProviderCheckoutID)
		assert.Equal(t, "txn_1", *session.ProviderCheckoutID)

		req := f.provider.lastRequest
		assert.Equal(t, "pri_pt_m", req.PriceRef)
		assert.Equal(t, session.ID.String(), req.Metadata["session_id"])
		assert.Equal(t, f.sub.ID.String(), req.Metadata["subscriber_id"])
		assert.Equal(t, "PT", req.Metadata["jurisdiction"])
		assert.Equal(t, "Pro", req.Metadata["plan_name"])
		assert.Equal(t, "monthly", req.Metadata["billing_cycle"])
	})

	t.Run("provider failure records a failed attempt", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		f.provider.err = errorx.NewUpstream("paddle", assertErr{})
		session := f.createSession(t)
		ctx := context.Background()

		_, _, err := f.svc.StartCheckout(ctx, f.sub, session, "ana@example.com", "")
		require.Error(t, err)
		assert.True(t, errorx.IsUpstream(err))

		attempts, err := f.svc.ListAttempts(ctx, f.sub.Jurisdiction, session.ID)
		require.NoError(t, err)
		require.Len(t, attempts, 1)
		assert.False(t, attempts[0].Success)

		got, err := f.svc.Get(ctx, f.sub.Jurisdiction, session.ID)
		require.NoError(t, err)
		assert.Equal(t, upgrade.StatusActive, got.Status)
		assert.Equal(t, 1, got.AttemptsCount)
	})
}

type assertErr struct{}

func (assertErr) Error() string { return "boom" }

func TestServiceTerminalTransitions(t *testing.T) {
	t.Parallel()

	t.Run("complete after payment processing", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		session := f.createSession(t)
		ctx := context.Background()

		session, err := f.svc.BeginPaymentProcessing(ctx, session, "txn_1")
		require.NoError(t, err)

		done, err := f.svc.Complete(ctx, session)
		require.NoError(t, err)
		assert.Equal(t, upgrade.StatusCompleted, done.Status)
		assert.Equal(t, upgrade.StepConfirmation, done.CurrentStep)
	})

	t.Run("first terminal writer wins", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		session := f.createSession(t)
		ctx := context.Background()

		cancelled, err := f.svc.Cancel(ctx, session)
		require.NoError(t, err)
		require.Equal(t, upgrade.StatusCancelled, cancelled.Status)

		// A racing completion observes the cancel and backs off.
		got, err := f.svc.Complete(ctx, session)
		require.NoError(t, err)
		assert.Equal(t, upgrade.StatusCancelled, got.Status)
	})

	t.Run("terminal ops are idempotent", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		session := f.createSession(t)
		ctx := context.Background()

		first, err := f.svc.Complete(ctx, session)
		require.NoError(t, err)
		second, err := f.svc.Complete(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, first.Status, second.Status)
	})

	t.Run("payment failure keeps the session retryable", func(t *testing.T) {
		t.Parallel()

		f := newFixture(t)
		session := f.createSession(t)
		ctx := context.Background()

		session, err := f.svc.BeginPaymentProcessing(ctx, session, "txn_1")
		require.NoError(t, err)
		session, err = f.svc.PaymentFailed(ctx, session)
		require.NoError(t, err)
		assert.Equal(t, upgrade.StatusPaymentFailed, session.Status)

		session, err = f.svc.BeginPaymentProcessing(ctx, session, "txn_2")
		require.NoError(t, err)
		assert.Equal(t, upgrade.StatusPaymentProcessing, session.Status)
	})
}

func TestServiceRecordAttempt(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := f.createSession(t)
	ctx := context.Background()

	f.svc.RecordAttempt(ctx, session, upgrade.StepPlanSelection, true, "")
	f.svc.RecordAttempt(ctx, session, upgrade.StepPaymentInfo, false, "card declined")

	attempts, err := f.svc.ListAttempts(ctx, f.sub.Jurisdiction, session.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.True(t, attempts[0].Success)
	assert.False(t, attempts[1].Success)
	assert.Equal(t, "card declined", attempts[1].ErrorMessage)

	got, err := f.svc.Get(ctx, f.sub.Jurisdiction, session.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.AttemptsCount)
	require.NotNil(t, got.LastAttemptAt)
}

func TestServiceSweepExpired(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := f.createSession(t)
	ctx := context.Background()

	n, err := f.svc.SweepExpired(ctx, jurisdiction.BackendRelational)
	require.NoError(t, err)
	assert.Zero(t, n)

	// A service whose clock sits past the TTL sees the session as overdue.
	future := upgrade.NewService(f.router, f.resolver, f.plans, nil,
		upgrade.WithClock(func() time.Time { return session.ExpiresAt.Add(time.Minute) }),
		upgrade.WithLogger(slog.New(slog.DiscardHandler)),
	)

	n, err = future.SweepExpired(ctx, jurisdiction.BackendRelational)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := f.svc.Get(ctx, f.sub.Jurisdiction, session.ID)
	require.NoError(t, err)
	assert.Equal(t, upgrade.StatusExpired, got.Status)
	assert.Equal(t, upgrade.StepExpired, got.CurrentStep)

	n, err = future.SweepExpired(ctx, jurisdiction.BackendRelational)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestServiceSweepSkipsConfirmedPayment(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	session := f.createSession(t)
	ctx := context.Background()

	session, err := f.svc.BeginPaymentProcessing(ctx, session, "txn_1")
	require.NoError(t, err)

	// Move the session to payment_confirmed the way a provider notification
	// would, through the store's conditional update.
	sessions := f.router.Sessions(jurisdiction.BackendRelational)
	confirmed, err := sessions.UpdateSession(ctx, session.ID,
		[]upgrade.Status{upgrade.StatusPaymentProcessing},
		upgrade.SessionUpdate{Status: upgrade.StatusPaymentConfirmed})
	require.NoError(t, err)
	require.Equal(t, upgrade.StatusPaymentConfirmed, confirmed.Status)

	future := upgrade.NewService(f.router, f.resolver, f.plans, nil,
		upgrade.WithClock(func() time.Time { return session.ExpiresAt.Add(time.Minute) }),
		upgrade.WithLogger(slog.New(slog.DiscardHandler)),
	)

	// The money already moved; the overdue clock does not close the session.
	n, err := future.SweepExpired(ctx, jurisdiction.BackendRelational)
	require.NoError(t, err)
	assert.Zero(t, n)

	got, err := f.svc.Get(ctx, f.sub.Jurisdiction, session.ID)
	require.NoError(t, err)
	assert.Equal(t, upgrade.StatusPaymentConfirmed, got.Status)

	done, err := f.svc.Complete(ctx, got)
	require.NoError(t, err)
	assert.Equal(t, upgrade.StatusCompleted, done.Status)
}
