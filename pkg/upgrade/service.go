package upgrade

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/advogo/billingcore/pkg/catalog"
	"github.com/advogo/billingcore/pkg/errorx"
	"github.com/advogo/billingcore/pkg/jurisdiction"
	"github.com/advogo/billingcore/pkg/payment"
	"github.com/advogo/billingcore/pkg/subscription"
)

// DefaultSessionTTL bounds how long a subscriber may take to finish an
// upgrade before the session expires.
const DefaultSessionTTL = time.Hour

// Service drives the upgrade-session workflow: plan selection through
// payment to confirmation. It owns every session mutation; the webhook
// reconciliation processor calls its terminal operations.
type Service struct {
	stores   StoreRouter
	resolver *jurisdiction.Resolver
	plans    catalog.Reader
	provider payment.Provider
	ttl      time.Duration
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates an upgrade service. The payment provider may be nil in
// deployments that never start checkouts (pure reconciliation workers);
// StartCheckout then fails. Panics on other nil dependencies.
func NewService(stores StoreRouter, resolver *jurisdiction.Resolver, plans catalog.Reader, provider payment.Provider, opts ...Option) *Service {
	if stores == nil {
		panic("upgrade: StoreRouter is required")
	}
	if resolver == nil {
		panic("upgrade: jurisdiction resolver is required")
	}
	if plans == nil {
		panic("upgrade: plan catalog is required")
	}

	s := &Service{
		stores:   stores,
		resolver: resolver,
		plans:    plans,
		provider: provider,
		ttl:      DefaultSessionTTL,
		log:      slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) storeFor(code jurisdiction.Code) SessionStore {
	j, ok := s.resolver.Get(code)
	if !ok {
		return s.stores.Sessions(jurisdiction.BackendRelational)
	}
	return s.stores.Sessions(j.Backend)
}

// CreateSession opens a new upgrade workflow for a subscriber. Fails with a
// ConflictError while a live (active or payment-processing) session exists.
func (s *Service) CreateSession(ctx context.Context, sub *subscription.Subscriber, planName string, cycle catalog.BillingCycle, amount catalog.Money) (*Session, error) {
	if !cycle.Valid() {
		return nil, fmt.Errorf("upgrade: unknown billing cycle %q", cycle)
	}
	if _, err := s.plans.GetPlanByName(ctx, planName, sub.Jurisdiction); err != nil {
		return nil, err
	}

	st := s.storeFor(sub.Jurisdiction)
	if _, err := st.FindLiveBySubscriber(ctx, sub.ID); err == nil {
		return nil, errorx.NewConflict("upgrade session", "subscriber "+sub.ID.String())
	} else if !errorx.IsNotFound(err) {
		return nil, err
	}

	now := s.now().UTC()
	session := &Session{
		ID:           uuid.New(),
		SubscriberID: sub.ID,
		Jurisdiction: sub.Jurisdiction,
		PlanName:     planName,
		BillingCycle: cycle,
		Amount:       amount,
		Status:       StatusActive,
		CurrentStep:  StepPlanSelection,
		ExpiresAt:    now.Add(s.ttl),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := st.InsertSession(ctx, session); err != nil {
		return nil, err
	}
	return session, nil
}

// Get returns a session by id from the backend governing a jurisdiction.
func (s *Service) Get(ctx context.Context, code jurisdiction.Code, id uuid.UUID) (*Session, error) {
	return s.storeFor(code).GetSession(ctx, id)
}

// FindLive returns the subscriber's live session or a NotFoundError.
func (s *Service) FindLive(ctx context.Context, sub *subscription.Subscriber) (*Session, error) {
	return s.storeFor(sub.Jurisdiction).FindLiveBySubscriber(ctx, sub.ID)
}

// AdvanceStep moves the workflow cursor forward. Steps never move backward;
// advancing to the current step is a no-op. The session must not be
// terminal.
func (s *Service) AdvanceStep(ctx context.Context, session *Session, step Step) (*Session, error) {
	target, ok := stepOrder[step]
	if !ok {
		return nil, fmt.Errorf("upgrade: unknown step %q", step)
	}
	if session.Status.IsTerminal() {
		return session, errorx.NewInvalidTransition("upgrade step", string(session.CurrentStep), string(step))
	}
	current := stepOrder[session.CurrentStep]
	if target == current {
		return session, nil
	}
	if target < current {
		return session, errorx.NewInvalidTransition("upgrade step", string(session.CurrentStep), string(step))
	}

	st := s.storeFor(session.Jurisdiction)
	updated, err := st.UpdateSession(ctx, session.ID, []Status{session.Status}, SessionUpdate{
		Status: session.Status,
		Step:   &step,
	})
	if errorx.IsNotFound(err) {
		// A concurrent transition moved the session; its state stands.
		return st.GetSession(ctx, session.ID)
	}
	return updated, err
}

// RecordAttempt logs one step attempt: it increments the session's attempt
// counter and appends a write-once attempt row. Best-effort: failures are
// logged and swallowed, attempt bookkeeping never blocks the subscriber's
// flow.
func (s *Service) RecordAttempt(ctx context.Context, session *Session, step Step, success bool, errMsg string) {
	st := s.storeFor(session.Jurisdiction)
	now := s.now().UTC()

	if _, err := st.UpdateSession(ctx, session.ID, []Status{session.Status}, SessionUpdate{
		Status:            session.Status,
		IncrementAttempts: true,
		LastAttemptAt:     &now,
	}); err != nil {
		s.log.WarnContext(ctx, "failed to bump session attempt counter",
			slog.String("session_id", session.ID.String()), slog.Any("error", err))
	}

	if err := st.RecordAttempt(ctx, &Attempt{
		ID:           uuid.New(),
		SessionID:    session.ID,
		Step:         step,
		Success:      success,
		ErrorMessage: errMsg,
		CreatedAt:    now,
	}); err != nil {
		s.log.WarnContext(ctx, "failed to record upgrade attempt",
			slog.String("session_id", session.ID.String()), slog.Any("error", err))
	}
}

// StartCheckout resolves the plan's provider price, opens a hosted checkout
// carrying the correlation metadata and moves the session into payment
// processing. Returns the checkout for redirecting the subscriber.
func (s *Service) StartCheckout(ctx context.Context, sub *subscription.Subscriber, session *Session, email, successURL string) (*payment.Checkout, *Session, error) {
	if s.provider == nil {
		return nil, nil, fmt.Errorf("upgrade: no payment provider configured")
	}

	plan, err := s.plans.GetPlanByName(ctx, session.PlanName, session.Jurisdiction)
	if err != nil {
		return nil, nil, err
	}
	priceRef := plan.ProviderPriceID(session.BillingCycle)
	if priceRef == "" {
		return nil, nil, fmt.Errorf("upgrade: plan %q has no provider price for %s billing", plan.Name, session.BillingCycle)
	}

	checkout, err := s.provider.CreateCheckoutSession(ctx, payment.CheckoutRequest{
		PriceRef:      priceRef,
		CustomerEmail: email,
		SuccessURL:    successURL,
		Metadata: map[string]string{
			"session_id":    session.ID.String(),
			"subscriber_id": sub.ID.String(),
			"jurisdiction":  string(sub.Jurisdiction),
			"plan_name":     session.PlanName,
			"billing_cycle": string(session.BillingCycle),
		},
	})
	if err != nil {
		s.RecordAttempt(ctx, session, StepPaymentInfo, false, err.Error())
		return nil, nil, err
	}

	updated, err := s.BeginPaymentProcessing(ctx, session, checkout.SessionID)
	if err != nil {
		return nil, nil, err
	}
	s.RecordAttempt(ctx, updated, StepPaymentInfo, true, "")
	return checkout, updated, nil
}

// BeginPaymentProcessing binds the provider checkout id and moves the
// session into payment processing.
func (s *Service) BeginPaymentProcessing(ctx context.Context, session *Session, checkoutID string) (*Session, error) {
	step := StepPaymentProcessing
	return s.transition(ctx, session, StatusPaymentProcessing, SessionUpdate{
		Status:             StatusPaymentProcessing,
		Step:               &step,
		ProviderCheckoutID: &checkoutID,
	})
}

// PaymentFailed records a failed payment, leaving the session retryable.
func (s *Service) PaymentFailed(ctx context.Context, session *Session) (*Session, error) {
	return s.transition(ctx, session, StatusPaymentFailed, SessionUpdate{Status: StatusPaymentFailed})
}

// Complete finishes the workflow after confirmed payment. Idempotent: a
// session already in a terminal state is left untouched.
func (s *Service) Complete(ctx context.Context, session *Session) (*Session, error) {
	step := StepConfirmation
	return s.terminate(ctx, session, StatusCompleted, &step)
}

// Cancel aborts the workflow at the subscriber's request.
func (s *Service) Cancel(ctx context.Context, session *Session) (*Session, error) {
	return s.terminate(ctx, session, StatusCancelled, nil)
}

// Fail aborts the workflow after an unrecoverable error.
func (s *Service) Fail(ctx context.Context, session *Session) (*Session, error) {
	return s.terminate(ctx, session, StatusFailed, nil)
}

// ExpireNow expires one session immediately, outside the periodic sweep.
func (s *Service) ExpireNow(ctx context.Context, session *Session) (*Session, error) {
	step := StepExpired
	return s.terminate(ctx, session, StatusExpired, &step)
}

// transition applies a non-terminal status change under compare-and-swap,
// re-reading once on a CAS miss.
func (s *Service) transition(ctx context.Context, session *Session, target Status, upd SessionUpdate) (*Session, error) {
	st := s.storeFor(session.Jurisdiction)

	cur := session
	for attempt := 0; attempt < 2; attempt++ {
		if cur.Status == target {
			return cur, nil
		}
		if err := fsm.Transition(cur.Status, target); err != nil {
			s.log.WarnContext(ctx, "illegal session transition",
				slog.String("session_id", cur.ID.String()),
				slog.String("from", string(cur.Status)),
				slog.String("to", string(target)))
			return cur, err
		}

		updated, err := st.UpdateSession(ctx, cur.ID, []Status{cur.Status}, upd)
		if err == nil {
			return updated, nil
		}
		if !errorx.IsNotFound(err) {
			return nil, err
		}
		cur, err = st.GetSession(ctx, cur.ID)
		if err != nil {
			return nil, err
		}
	}
	return nil, errorx.NewConflict("session transition", cur.ID.String())
}

// terminate applies a terminal transition. The first writer wins: a session
// already in any terminal state is left untouched and returned as is.
func (s *Service) terminate(ctx context.Context, session *Session, target Status, step *Step) (*Session, error) {
	st := s.storeFor(session.Jurisdiction)

	cur := session
	for attempt := 0; attempt < 2; attempt++ {
		if cur.Status.IsTerminal() {
			return cur, nil
		}
		if err := fsm.Transition(cur.Status, target); err != nil {
			return cur, err
		}

		updated, err := st.UpdateSession(ctx, cur.ID, []Status{cur.Status}, SessionUpdate{
			Status: target,
			Step:   step,
		})
		if err == nil {
			return updated, nil
		}
		if !errorx.IsNotFound(err) {
			return nil, err
		}
		cur, err = st.GetSession(ctx, cur.ID)
		if err != nil {
			return nil, err
		}
	}
	return nil, errorx.NewConflict("session transition", cur.ID.String())
}

// SweepExpired bulk-expires every live session whose TTL elapsed on one
// backend. Idempotent and safe to run concurrently with itself.
func (s *Service) SweepExpired(ctx context.Context, b jurisdiction.Backend) (int64, error) {
	return s.stores.Sessions(b).SweepExpiredSessions(ctx, s.now().UTC())
}

// ListBySubscriber returns a subscriber's session history, newest first.
func (s *Service) ListBySubscriber(ctx context.Context, sub *subscription.Subscriber) ([]Session, error) {
	return s.storeFor(sub.Jurisdiction).ListSessionsBySubscriber(ctx, sub.ID)
}

// ListByStatus returns sessions in a status on one backend, for support
// tooling.
func (s *Service) ListByStatus(ctx context.Context, b jurisdiction.Backend, status Status) ([]Session, error) {
	return s.stores.Sessions(b).ListSessionsByStatus(ctx, status)
}

// ListAttempts returns the append-only attempt log of a session.
func (s *Service) ListAttempts(ctx context.Context, code jurisdiction.Code, sessionID uuid.UUID) ([]Attempt, error) {
	return s.storeFor(code).ListAttempts(ctx, sessionID)
}
