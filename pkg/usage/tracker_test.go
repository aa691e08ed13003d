package usage_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advogo/billingcore/pkg/catalog"
	"github.com/advogo/billingcore/pkg/jurisdiction"
	"github.com/advogo/billingcore/pkg/store"
	"github.com/advogo/billingcore/pkg/store/memory"
	"github.com/advogo/billingcore/pkg/subscription"
	"github.com/advogo/billingcore/pkg/usage"
)

func newTracker(t *testing.T) (*usage.Tracker, *subscription.Service) {
	t.Helper()

	log := slog.New(slog.DiscardHandler)
	resolver, err := jurisdiction.NewResolver(jurisdiction.Config{DefaultCode: "BR"}, log)
	require.NoError(t, err)

	plans, err := catalog.New(context.Background(), catalog.NewStaticSource(
		catalog.Plan{
			Name:         "Free",
			Jurisdiction: jurisdiction.CodeBR,
			Limits:       map[catalog.Dimension]*int64{catalog.DimensionMessages: catalog.Limit(2)},
			IsActive:     true,
		},
		catalog.Plan{
			Name:         "Free",
			Jurisdiction: jurisdiction.CodeES,
			Limits: map[catalog.Dimension]*int64{
				catalog.DimensionMessages:      catalog.Limit(2),
				catalog.DimensionConsultations: catalog.Limit(1),
			},
			IsActive: true,
		},
		catalog.Plan{
			Name:         "Pro",
			Jurisdiction: jurisdiction.CodeBR,
			MonthlyPrice: catalog.Money{Amount: 4990, Currency: "BRL"},
			IsUnlimited:  true,
			IsActive:     true,
		},
	))
	require.NoError(t, err)

	mem := memory.New()
	router := store.NewRouter(mem, mem)
	subs := subscription.NewService(router, resolver, plans, subscription.WithLogger(log))
	tracker := usage.NewTracker(router, subs, plans, resolver, usage.WithLogger(log))
	return tracker, subs
}

func TestTrackerCheck(t *testing.T) {
	t.Parallel()

	t.Run("allows under the limit and blocks at it", func(t *testing.T) {
		t.Parallel()

		tracker, subs := newTracker(t)
		ctx := context.Background()

		sub, err := subs.EnsureSubscriber(ctx, "+5511912345678")
		require.NoError(t, err)

		for i := 0; i < 2; i++ {
			check, err := tracker.Consume(ctx, sub, catalog.DimensionMessages)
			require.NoError(t, err)
			assert.True(t, check.Allowed)
			assert.Equal(t, int64(i), check.Current)
		}

		check, err := tracker.Check(ctx, sub, catalog.DimensionMessages)
		require.NoError(t, err)
		assert.False(t, check.Allowed)
		assert.Equal(t, int64(2), check.Current)
		require.NotNil(t, check.Limit)
		assert.Equal(t, int64(2), *check.Limit)
		assert.Zero(t, check.Remaining())
	})

	t.Run("bootstraps the free plan on first check", func(t *testing.T) {
		t.Parallel()

		tracker, subs := newTracker(t)
		ctx := context.Background()

		sub, err := subs.EnsureSubscriber(ctx, "+5511912345678")
		require.NoError(t, err)

		_, err = tracker.Check(ctx, sub, catalog.DimensionMessages)
		require.NoError(t, err)

		active, err := subs.FindActive(ctx, sub)
		require.NoError(t, err)
		assert.Equal(t, "Free", active.PlanName)
	})

	t.Run("unmetered dimension always passes", func(t *testing.T) {
		t.Parallel()

		tracker, subs := newTracker(t)
		ctx := context.Background()

		// Brazilian product meters messages only.
		sub, err := subs.EnsureSubscriber(ctx, "+5511912345678")
		require.NoError(t, err)

		check, err := tracker.Check(ctx, sub, catalog.DimensionConsultations)
		require.NoError(t, err)
		assert.True(t, check.Allowed)
		assert.Nil(t, check.Limit)
	})

	t.Run("spanish product meters consultations", func(t *testing.T) {
		t.Parallel()

		tracker, subs := newTracker(t)
		ctx := context.Background()

		sub, err := subs.EnsureSubscriber(ctx, "+34612345678")
		require.NoError(t, err)

		check, err := tracker.Consume(ctx, sub, catalog.DimensionConsultations)
		require.NoError(t, err)
		require.True(t, check.Allowed)

		check, err = tracker.Check(ctx, sub, catalog.DimensionConsultations)
		require.NoError(t, err)
		assert.False(t, check.Allowed)
	})

	t.Run("unlimited plan never blocks", func(t *testing.T) {
		t.Parallel()

		tracker, subs := newTracker(t)
		ctx := context.Background()

		sub, err := subs.EnsureSubscriber(ctx, "+5511912345678")
		require.NoError(t, err)
		_, err = subs.Create(ctx, sub, "Pro", catalog.CycleMonthly)
		require.NoError(t, err)

		for i := 0; i < 5; i++ {
			check, err := tracker.Consume(ctx, sub, catalog.DimensionMessages)
			require.NoError(t, err)
			assert.True(t, check.Allowed)
			assert.Nil(t, check.Limit)
		}
	})
}

func TestTrackerIncrement(t *testing.T) {
	t.Parallel()

	t.Run("accumulates into the current period", func(t *testing.T) {
		t.Parallel()

		tracker, subs := newTracker(t)
		ctx := context.Background()

		sub, err := subs.EnsureSubscriber(ctx, "+5511912345678")
		require.NoError(t, err)

		tracker.Increment(ctx, sub, catalog.DimensionMessages, 1)
		tracker.Increment(ctx, sub, catalog.DimensionMessages, 1)

		period, err := tracker.CurrentPeriod(ctx, sub)
		require.NoError(t, err)
		assert.Equal(t, int64(2), period.Count(catalog.DimensionMessages))
	})

	t.Run("ignores non-positive amounts", func(t *testing.T) {
		t.Parallel()

		tracker, subs := newTracker(t)
		ctx := context.Background()

		sub, err := subs.EnsureSubscriber(ctx, "+5511912345678")
		require.NoError(t, err)

		tracker.Increment(ctx, sub, catalog.DimensionMessages, 0)
		tracker.Increment(ctx, sub, catalog.DimensionMessages, -3)

		period, err := tracker.CurrentPeriod(ctx, sub)
		require.NoError(t, err)
		assert.Zero(t, period.Count(catalog.DimensionMessages))
	})

	t.Run("new billing period starts fresh counters", func(t *testing.T) {
		t.Parallel()

		tracker, subs := newTracker(t)
		ctx := context.Background()

		sub, err := subs.EnsureSubscriber(ctx, "+5511912345678")
		require.NoError(t, err)

		tracker.Increment(ctx, sub, catalog.DimensionMessages, 2)
		before, err := tracker.CurrentPeriod(ctx, sub)
		require.NoError(t, err)
		require.Equal(t, int64(2), before.Count(catalog.DimensionMessages))

		// Replacing the subscription opens a new period row.
		active, err := subs.FindActive(ctx, sub)
		require.NoError(t, err)
		_, err = subs.Transition(ctx, active, subscription.StatusCancelled, subscription.Effects{})
		require.NoError(t, err)

		after, err := tracker.CurrentPeriod(ctx, sub)
		require.NoError(t, err)
		assert.Zero(t, after.Count(catalog.DimensionMessages))
	})
}
