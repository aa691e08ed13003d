package subscription

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/advogo/billingcore/pkg/catalog"
	"github.com/advogo/billingcore/pkg/errorx"
	"github.com/advogo/billingcore/pkg/jurisdiction"
)

// DefaultFreePlanName is the zero-cost tier a subscriber is bootstrapped
// onto when entitlements are first needed.
const DefaultFreePlanName = "Free"

// Effects carries the side fields a transition may set alongside the status
// change. Nil fields are left untouched.
type Effects struct {
	PeriodStart   *time.Time
	PeriodEnd     *time.Time
	ProviderSubID *string
	SyncStatus    *SyncStatus
}

// ExternalUpdate is the subscription view of a decoded provider event, used
// to reconcile local state against the provider's.
type ExternalUpdate struct {
	SubscriberID   uuid.UUID // zero when the event metadata carried none
	ProviderSubID  string
	ExternalStatus string
	PeriodEnd      time.Time // zero when the event carried no period
	PlanName       string
	BillingCycle   catalog.BillingCycle
}

// Service owns every mutation of subscriber and subscription records. Both
// jurisdictional backends sit behind the StoreRouter; the governing backend
// is resolved once per operation from the subscriber's jurisdiction.
type Service struct {
	stores   StoreRouter
	resolver *jurisdiction.Resolver
	plans    catalog.Reader
	freePlan string
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates a subscription service. Panics on nil required
// dependencies to fail fast during initialization.
func NewService(stores StoreRouter, resolver *jurisdiction.Resolver, plans catalog.Reader, opts ...Option) *Service {
	if stores == nil {
		panic("subscription: StoreRouter is required")
	}
	if resolver == nil {
		panic("subscription: jurisdiction resolver is required")
	}
	if plans == nil {
		panic("subscription: plan catalog is required")
	}

	s := &Service{
		stores:   stores,
		resolver: resolver,
		plans:    plans,
		freePlan: DefaultFreePlanName,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) backendOf(code jurisdiction.Code) jurisdiction.Backend {
	j, ok := s.resolver.Get(code)
	if !ok {
		return jurisdiction.BackendRelational
	}
	return j.Backend
}

func (s *Service) storeFor(code jurisdiction.Code) Store {
	return s.stores.Subscriptions(s.backendOf(code))
}

// EnsureSubscriber returns the subscriber registered under a phone number,
// creating the record on first contact. The jurisdiction is resolved from the
// number once and never changes afterwards.
func (s *Service) EnsureSubscriber(ctx context.Context, phone string) (*Subscriber, error) {
	normalized := jurisdiction.Normalize(phone)
	j := s.resolver.Resolve(normalized)
	st := s.stores.Subscribers(j.Backend)

	existing, err := st.GetSubscriberByPhone(ctx, normalized)
	if err == nil {
		return existing, nil
	}
	if !errorx.IsNotFound(err) {
		return nil, err
	}

	now := s.now().UTC()
	sub := &Subscriber{
		ID:           uuid.New(),
		Phone:        normalized,
		Jurisdiction: j.Code,
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := st.InsertSubscriber(ctx, sub); err != nil {
		if errorx.IsConflict(err) {
			// Concurrent first contact: the other writer won, use its record.
			return st.GetSubscriberByPhone(ctx, normalized)
		}
		return nil, err
	}
	return sub, nil
}

// GetSubscriber returns a subscriber by id from the backend governing the
// given jurisdiction.
func (s *Service) GetSubscriber(ctx context.Context, code jurisdiction.Code, id uuid.UUID) (*Subscriber, error) {
	return s.stores.Subscribers(s.backendOf(code)).GetSubscriber(ctx, id)
}

// Create creates a new subscription for a subscriber. Fails with a
// ConflictError while another subscription is active: the caller must cancel
// or expire it first. The first billing period starts now and runs one month
// or one year depending on the cycle.
func (s *Service) Create(ctx context.Context, sub *Subscriber, planName string, cycle catalog.BillingCycle) (*Subscription, error) {
	if !cycle.Valid() {
		return nil, fmt.Errorf("subscription: unknown billing cycle %q", cycle)
	}

	plan, err := s.plans.GetPlanByName(ctx, planName, sub.Jurisdiction)
	if err != nil {
		return nil, err
	}

	st := s.storeFor(sub.Jurisdiction)
	if _, err := st.FindActive(ctx, sub.ID); err == nil {
		return nil, errorx.NewConflict("active subscription", "subscriber "+sub.ID.String())
	} else if !errorx.IsNotFound(err) {
		return nil, err
	}

	now := s.now().UTC()
	sync := SyncSynced
	if !plan.IsFree() {
		// Provider confirmation is still outstanding.
		sync = SyncPending
	}

	rec := &Subscription{
		ID:                 uuid.New(),
		SubscriberID:       sub.ID,
		Jurisdiction:       sub.Jurisdiction,
		PlanName:           plan.Name,
		Status:             StatusActive,
		BillingCycle:       cycle,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   periodEnd(now, cycle),
		SyncStatus:         sync,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := st.Insert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// EnsureActiveSubscription returns the subscriber's active subscription,
// bootstrapping the zero-cost plan when none exists yet.
func (s *Service) EnsureActiveSubscription(ctx context.Context, sub *Subscriber) (*Subscription, error) {
	st := s.storeFor(sub.Jurisdiction)

	rec, err := st.FindActive(ctx, sub.ID)
	if err == nil {
		return rec, nil
	}
	if !errorx.IsNotFound(err) {
		return nil, err
	}

	rec, err = s.Create(ctx, sub, s.freePlan, catalog.CycleMonthly)
	if err == nil {
		return rec, nil
	}
	if errorx.IsConflict(err) {
		// Concurrent bootstrap: re-read the winner.
		return st.FindActive(ctx, sub.ID)
	}
	return nil, err
}

// FindActive returns the single active subscription of a subscriber or a
// NotFoundError.
func (s *Service) FindActive(ctx context.Context, sub *Subscriber) (*Subscription, error) {
	return s.storeFor(sub.Jurisdiction).FindActive(ctx, sub.ID)
}

// Transition applies a status change to a subscription record. Illegal
// changes return an InvalidTransitionError and are logged; the record is left
// untouched so the reconciliation processor can treat them as no-ops. A
// compare-and-swap miss means a concurrent writer got there first: the record
// is re-read and the change re-applied once against the fresh state.
func (s *Service) Transition(ctx context.Context, rec *Subscription, target Status, effects Effects) (*Subscription, error) {
	st := s.storeFor(rec.Jurisdiction)

	cur := rec
	for attempt := 0; attempt < 2; attempt++ {
		if cur.Status == target {
			return cur, nil
		}
		if !cur.CanTransition(target) {
			err := errorx.NewInvalidTransition("subscription", string(cur.Status), string(target))
			s.log.WarnContext(ctx, "illegal subscription transition",
				slog.String("subscription_id", cur.ID.String()),
				slog.String("from", string(cur.Status)),
				slog.String("to", string(target)))
			return cur, err
		}

		upd := Update{
			Status:        target,
			SyncStatus:    effects.SyncStatus,
			PeriodStart:   effects.PeriodStart,
			PeriodEnd:     effects.PeriodEnd,
			ProviderSubID: effects.ProviderSubID,
		}
		if target == StatusCancelled {
			now := s.now().UTC()
			upd.CancelledAt = &now
		}

		updated, err := st.UpdateStatus(ctx, cur.ID, []Status{cur.Status}, upd)
		if err == nil {
			return updated, nil
		}
		if !errorx.IsNotFound(err) {
			return nil, err
		}

		cur, err = st.Get(ctx, cur.ID)
		if err != nil {
			return nil, err
		}
	}

	return nil, errorx.NewConflict("subscription transition", cur.ID.String())
}

// ReconcileFromExternal folds a provider-reported subscription state into the
// local record identified by the external correlation id. When no local
// record references the id, one is created from the metadata carried on the
// event, so a lost local create step cannot strand a provider-confirmed
// subscription.
func (s *Service) ReconcileFromExternal(ctx context.Context, code jurisdiction.Code, ext ExternalUpdate) (*Subscription, error) {
	st := s.storeFor(code)

	target, known := MapExternalStatus(ext.ExternalStatus)
	if !known {
		s.log.WarnContext(ctx, "unknown external subscription status, mapping to expired",
			slog.String("external_status", ext.ExternalStatus),
			slog.String("provider_sub_id", ext.ProviderSubID))
	}

	local, err := st.FindByProviderSubID(ctx, ext.ProviderSubID)
	if errorx.IsNotFound(err) {
		if ext.SubscriberID == uuid.Nil || ext.PlanName == "" {
			// Nothing to rebuild from; surface the miss so delivery retries
			// after the checkout event lands.
			return nil, err
		}
		return s.createFromExternal(ctx, st, code, ext, target)
	} else if err != nil {
		return nil, err
	}

	sync := SyncSynced
	if local.Status == target {
		// Status already converged; refresh period bounds and sync flag only.
		upd := Update{Status: target, SyncStatus: &sync}
		if !ext.PeriodEnd.IsZero() {
			upd.PeriodEnd = &ext.PeriodEnd
		}
		updated, err := st.UpdateStatus(ctx, local.ID, []Status{target}, upd)
		if errorx.IsNotFound(err) {
			// Concurrent writer moved the record; its state stands.
			return st.Get(ctx, local.ID)
		}
		return updated, err
	}

	effects := Effects{SyncStatus: &sync}
	if !ext.PeriodEnd.IsZero() {
		effects.PeriodEnd = &ext.PeriodEnd
	}
	return s.Transition(ctx, local, target, effects)
}

func (s *Service) createFromExternal(ctx context.Context, st Store, code jurisdiction.Code, ext ExternalUpdate, target Status) (*Subscription, error) {
	cycle := ext.BillingCycle
	if !cycle.Valid() {
		cycle = catalog.CycleMonthly
	}

	now := s.now().UTC()
	end := ext.PeriodEnd
	if end.IsZero() {
		end = periodEnd(now, cycle)
	}

	rec := &Subscription{
		ID:                 uuid.New(),
		SubscriberID:       ext.SubscriberID,
		Jurisdiction:       code,
		PlanName:           ext.PlanName,
		Status:             target,
		BillingCycle:       cycle,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   end,
		ProviderSubID:      ext.ProviderSubID,
		SyncStatus:         SyncSynced,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if target == StatusCancelled {
		rec.CancelledAt = &now
	}

	if target != StatusActive {
		// Non-active records never contend for the single-active slot.
		if err := st.Insert(ctx, rec); err != nil {
			if errorx.IsConflict(err) {
				return st.FindByProviderSubID(ctx, ext.ProviderSubID)
			}
			return nil, err
		}
		return rec, nil
	}
	return s.insertSuperseding(ctx, st, rec)
}

// ActivateFromUpgrade creates or activates the subscription a completed
// upgrade session paid for. Idempotent under webhook redelivery: a provider
// id already bound locally short-circuits to the existing record.
func (s *Service) ActivateFromUpgrade(ctx context.Context, sub *Subscriber, planName string, cycle catalog.BillingCycle, providerSubID string) (*Subscription, error) {
	st := s.storeFor(sub.Jurisdiction)

	if providerSubID != "" {
		if existing, err := st.FindByProviderSubID(ctx, providerSubID); err == nil {
			return existing, nil
		} else if !errorx.IsNotFound(err) {
			return nil, err
		}
	}

	if current, err := st.FindActive(ctx, sub.ID); err == nil {
		if current.PlanName == planName && current.BillingCycle == cycle {
			// Same plan: bind the provider id instead of replacing the record.
			sync := SyncSynced
			upd := Update{Status: current.Status, SyncStatus: &sync}
			if providerSubID != "" {
				upd.ProviderSubID = &providerSubID
			}
			updated, uerr := st.UpdateStatus(ctx, current.ID, []Status{current.Status}, upd)
			if errorx.IsNotFound(uerr) {
				return st.Get(ctx, current.ID)
			}
			return updated, uerr
		}
	} else if !errorx.IsNotFound(err) {
		return nil, err
	}

	now := s.now().UTC()
	rec := &Subscription{
		ID:                 uuid.New(),
		SubscriberID:       sub.ID,
		Jurisdiction:       sub.Jurisdiction,
		PlanName:           planName,
		Status:             StatusActive,
		BillingCycle:       cycle,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   periodEnd(now, cycle),
		ProviderSubID:      providerSubID,
		SyncStatus:         SyncSynced,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	return s.insertSuperseding(ctx, st, rec)
}

// insertSuperseding inserts an active, provider-confirmed subscription. When
// a live subscription already holds the single-active slot, usually the
// zero-cost bootstrap, the provider-confirmed record wins: the holder is
// cancelled and the insert retried once.
func (s *Service) insertSuperseding(ctx context.Context, st Store, rec *Subscription) (*Subscription, error) {
	err := st.Insert(ctx, rec)
	if err == nil {
		return rec, nil
	}
	if !errorx.IsConflict(err) {
		return nil, err
	}

	current, ferr := st.FindActive(ctx, rec.SubscriberID)
	if ferr != nil {
		return nil, err
	}
	if rec.ProviderSubID != "" && current.ProviderSubID == rec.ProviderSubID {
		// Redelivery raced us to the same outcome.
		return current, nil
	}

	if _, terr := s.Transition(ctx, current, StatusCancelled, Effects{}); terr != nil {
		return nil, err
	}
	if err := st.Insert(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// LookupByProviderSubID finds the subscription bound to an external
// correlation id. A jurisdiction hint narrows the search to one backend;
// without one both backends are tried.
func (s *Service) LookupByProviderSubID(ctx context.Context, hint jurisdiction.Code, providerSubID string) (*Subscription, error) {
	if hint != "" {
		return s.storeFor(hint).FindByProviderSubID(ctx, providerSubID)
	}
	for _, b := range []jurisdiction.Backend{jurisdiction.BackendDocument, jurisdiction.BackendRelational} {
		rec, err := s.stores.Subscriptions(b).FindByProviderSubID(ctx, providerSubID)
		if err == nil {
			return rec, nil
		}
		if !errorx.IsNotFound(err) {
			return nil, err
		}
	}
	return nil, errorx.NewNotFound("subscription", providerSubID)
}

// ExpireOverdue bulk-expires active subscriptions whose billing period ended
// before now on one backend. Called by the sweeper; idempotent.
func (s *Service) ExpireOverdue(ctx context.Context, b jurisdiction.Backend) (int64, error) {
	return s.stores.Subscriptions(b).ExpireOverdue(ctx, s.now().UTC())
}

// ListBySubscriber returns a subscriber's subscription history, newest first.
func (s *Service) ListBySubscriber(ctx context.Context, sub *Subscriber) ([]Subscription, error) {
	return s.storeFor(sub.Jurisdiction).ListBySubscriber(ctx, sub.ID)
}

// ListByStatus returns subscriptions in a status on one backend, for
// observability and support tooling.
func (s *Service) ListByStatus(ctx context.Context, b jurisdiction.Backend, status Status) ([]Subscription, error) {
	return s.stores.Subscriptions(b).ListByStatus(ctx, status)
}
