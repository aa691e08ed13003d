package reconcile

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"

	"github.com/advogo/billingcore/pkg/catalog"
	"github.com/advogo/billingcore/pkg/errorx"
	"github.com/advogo/billingcore/pkg/jurisdiction"
	"github.com/advogo/billingcore/pkg/logger"
	"github.com/advogo/billingcore/pkg/payment"
	"github.com/advogo/billingcore/pkg/subscription"
	"github.com/advogo/billingcore/pkg/upgrade"
)

// Processor folds normalized provider events into local state. Every branch
// is idempotent: providers redeliver events at least once and in no
// guaranteed order, so replay and reordering must converge on the same
// records rather than fail.
type Processor struct {
	subs     *subscription.Service
	sessions *upgrade.Service
	log      *slog.Logger
}

// NewProcessor creates an event processor. Panics on nil dependencies.
func NewProcessor(subs *subscription.Service, sessions *upgrade.Service, opts ...Option) *Processor {
	if subs == nil {
		panic("reconcile: subscription service is required")
	}
	if sessions == nil {
		panic("reconcile: upgrade service is required")
	}

	p := &Processor{
		subs:     subs,
		sessions: sessions,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process applies one event. A nil return means the event is fully folded
// in, including the cases where it was a duplicate or arrived after a
// conflicting terminal state. Errors mean delivery should be retried.
func (p *Processor) Process(ctx context.Context, ev *payment.Event) error {
	switch ev.Type {
	case payment.EventCheckoutCompleted:
		return p.checkoutCompleted(ctx, ev)
	case payment.EventSubscriptionCreated, payment.EventSubscriptionUpdated:
		return p.subscriptionChanged(ctx, ev)
	case payment.EventInvoicePaymentFailed:
		return p.paymentFailed(ctx, ev)
	default:
		p.log.InfoContext(ctx, "ignoring unhandled provider event",
			logger.EventType(string(ev.Type)),
			slog.String("object_id", ev.ObjectID))
		return nil
	}
}

// checkoutCompleted closes the upgrade session named in the event metadata
// and activates the subscription it paid for.
func (p *Processor) checkoutCompleted(ctx context.Context, ev *payment.Event) error {
	sessionID, err := uuid.Parse(ev.Metadata["session_id"])
	if err != nil {
		p.log.WarnContext(ctx, "checkout event without usable session id",
			slog.String("object_id", ev.ObjectID))
		return nil
	}
	code := jurisdiction.Code(ev.Metadata["jurisdiction"])

	session, err := p.sessions.Get(ctx, code, sessionID)
	if err != nil {
		if errorx.IsNotFound(err) {
			p.log.WarnContext(ctx, "checkout event for unknown session",
				logger.SessionID(sessionID))
			return nil
		}
		return err
	}

	if session.Status.IsTerminal() && session.Status != upgrade.StatusCompleted {
		// The session died locally before payment confirmation arrived. The
		// subscription is still activated below so the subscriber gets what
		// was paid for.
		p.log.WarnContext(ctx, "checkout completed for closed session",
			logger.SessionID(session.ID),
			slog.String("session_status", string(session.Status)))
	} else if _, err := p.sessions.Complete(ctx, session); err != nil {
		if !errorx.IsInvalidTransition(err) {
			return err
		}
	}

	sub, err := p.subscriberFromMetadata(ctx, code, ev.Metadata)
	if err != nil {
		if errorx.IsNotFound(err) {
			p.log.ErrorContext(ctx, "checkout event references unknown subscriber",
				logger.SessionID(session.ID),
				logger.SubscriberID(ev.Metadata["subscriber_id"]))
			return nil
		}
		return err
	}

	cycle := catalog.BillingCycle(ev.Metadata["billing_cycle"])
	if !cycle.Valid() {
		cycle = session.BillingCycle
	}
	planName := ev.Metadata["plan_name"]
	if planName == "" {
		planName = session.PlanName
	}

	_, err = p.subs.ActivateFromUpgrade(ctx, sub, planName, cycle, ev.SubscriptionID)
	return err
}

// subscriptionChanged reconciles a provider subscription lifecycle event
// into the local record.
func (p *Processor) subscriptionChanged(ctx context.Context, ev *payment.Event) error {
	providerSubID := ev.SubscriptionID
	if providerSubID == "" {
		providerSubID = ev.ObjectID
	}

	ext := subscription.ExternalUpdate{
		ProviderSubID:  providerSubID,
		ExternalStatus: ev.Status,
		PeriodEnd:      ev.PeriodEnd,
		PlanName:       ev.Metadata["plan_name"],
		BillingCycle:   catalog.BillingCycle(ev.Metadata["billing_cycle"]),
	}
	if id, err := uuid.Parse(ev.Metadata["subscriber_id"]); err == nil {
		ext.SubscriberID = id
	}

	code := jurisdiction.Code(ev.Metadata["jurisdiction"])
	if code == "" {
		// No metadata to place the event with; locate the record by its
		// provider id across both backends. A miss surfaces as an error so
		// the provider redelivers after the checkout event lands.
		local, err := p.subs.LookupByProviderSubID(ctx, "", providerSubID)
		if err != nil {
			return err
		}
		code = local.Jurisdiction
	}

	_, err := p.subs.ReconcileFromExternal(ctx, code, ext)
	if errorx.IsInvalidTransition(err) {
		// Out-of-order delivery into a terminal state; the local record wins.
		return nil
	}
	return err
}

// paymentFailed dunning: the subscription drops to past_due, and to unpaid
// when a renewal fails while already past due.
func (p *Processor) paymentFailed(ctx context.Context, ev *payment.Event) error {
	providerSubID := ev.SubscriptionID
	if providerSubID == "" {
		providerSubID = ev.ObjectID
	}

	local, err := p.subs.LookupByProviderSubID(ctx, jurisdiction.Code(ev.Metadata["jurisdiction"]), providerSubID)
	if err != nil {
		if errorx.IsNotFound(err) {
			p.log.WarnContext(ctx, "payment failure for unknown subscription",
				slog.String("provider_sub_id", providerSubID))
			return nil
		}
		return err
	}

	target := subscription.StatusPastDue
	if local.Status == subscription.StatusPastDue {
		target = subscription.StatusUnpaid
	}

	_, err = p.subs.Transition(ctx, local, target, subscription.Effects{})
	if errorx.IsInvalidTransition(err) {
		return nil
	}
	return err
}

func (p *Processor) subscriberFromMetadata(ctx context.Context, code jurisdiction.Code, md map[string]string) (*subscription.Subscriber, error) {
	id, err := uuid.Parse(md["subscriber_id"])
	if err != nil {
		return nil, errorx.NewNotFound("subscriber", md["subscriber_id"])
	}
	return p.subs.GetSubscriber(ctx, code, id)
}

// ProcessWithRetry wraps Process with exponential backoff, retrying only
// upstream failures. Domain errors return immediately; the provider's own
// redelivery handles those.
func (p *Processor) ProcessWithRetry(ctx context.Context, ev *payment.Event) error {
	backoff := retry.WithMaxRetries(5, retry.NewExponential(200*time.Millisecond))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := p.Process(ctx, ev)
		if errorx.IsUpstream(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}
