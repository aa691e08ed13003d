// Package billing mounts the billing core behind an HTTP surface: the
// payment webhook, subscriber and quota endpoints, the upgrade workflow and
// a few operator queries. It is a thin adapter; all rules live in the
// domain packages.
package billing

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/advogo/billingcore/pkg/catalog"
	"github.com/advogo/billingcore/pkg/payment"
	"github.com/advogo/billingcore/pkg/reconcile"
	"github.com/advogo/billingcore/pkg/subscription"
	"github.com/advogo/billingcore/pkg/upgrade"
	"github.com/advogo/billingcore/pkg/usage"
)

// Handler bundles the services the module exposes.
type Handler struct {
	subs      *subscription.Service
	upgrades  *upgrade.Service
	tracker   *usage.Tracker
	plans     catalog.Reader
	provider  payment.Provider
	processor *reconcile.Processor
	log       *slog.Logger
}

// NewHandler creates the module handler. Panics on nil dependencies.
func NewHandler(
	subs *subscription.Service,
	upgrades *upgrade.Service,
	tracker *usage.Tracker,
	plans catalog.Reader,
	provider payment.Provider,
	processor *reconcile.Processor,
	log *slog.Logger,
) *Handler {
	if subs == nil || upgrades == nil || tracker == nil || plans == nil || provider == nil || processor == nil {
		panic("billing: all services are required")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		subs:      subs,
		upgrades:  upgrades,
		tracker:   tracker,
		plans:     plans,
		provider:  provider,
		processor: processor,
		log:       log,
	}
}

// Router mounts the module's routes.
//
//	r := chi.NewRouter()
//	r.Mount("/billing", billing.Router(handler))
func Router(h *Handler) chi.Router {
	r := chi.NewRouter()

	r.Post("/webhooks/payment", h.handleWebhook)

	r.Get("/plans/{jurisdiction}", h.handleListPlans)

	r.Route("/subscribers", func(r chi.Router) {
		r.Post("/", h.handleEnsureSubscriber)
		r.Route("/{jurisdiction}/{subscriberID}", func(r chi.Router) {
			r.Get("/", h.handleGetSubscriber)
			r.Get("/subscriptions", h.handleListSubscriptions)
			r.Post("/quota/{dimension}/check", h.handleQuotaCheck)
			r.Post("/quota/{dimension}/consume", h.handleQuotaConsume)
		})
	})

	r.Route("/upgrades", func(r chi.Router) {
		r.Post("/", h.handleCreateSession)
		r.Route("/{jurisdiction}/{sessionID}", func(r chi.Router) {
			r.Get("/", h.handleGetSession)
			r.Get("/attempts", h.handleListAttempts)
			r.Post("/advance", h.handleAdvanceStep)
			r.Post("/checkout", h.handleStartCheckout)
			r.Post("/cancel", h.handleCancelSession)
		})
	})

	r.Route("/operator", func(r chi.Router) {
		r.Get("/subscriptions", h.handleSubscriptionsByStatus)
		r.Get("/sessions", h.handleSessionsByStatus)
	})

	return r
}
