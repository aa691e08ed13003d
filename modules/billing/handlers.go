package billing

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/advogo/billingcore/pkg/catalog"
	"github.com/advogo/billingcore/pkg/errorx"
	"github.com/advogo/billingcore/pkg/jurisdiction"
	"github.com/advogo/billingcore/pkg/logger"
	"github.com/advogo/billingcore/pkg/subscription"
	"github.com/advogo/billingcore/pkg/upgrade"
	"github.com/advogo/billingcore/pkg/usage"
)

// maxWebhookBody caps webhook payload reads at 1 MiB.
const maxWebhookBody = 1 << 20

// handleWebhook verifies, decodes and folds in one provider event. The
// provider retries on any non-2xx status, so only errors that a redelivery
// could fix return one.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		respondBadRequest(w, "unreadable payload")
		return
	}

	ev, err := h.provider.DecodeWebhook(r.Context(), payload, r.Header.Get("Paddle-Signature"))
	if err != nil {
		if errorx.IsSignature(err) {
			h.log.WarnContext(r.Context(), "rejected webhook with bad signature",
				slog.String("remote_addr", r.RemoteAddr))
			respondJSON(w, http.StatusBadRequest, errorBody{Code: "invalid_signature", Message: "signature verification failed"})
			return
		}
		respondBadRequest(w, "undecodable payload")
		return
	}

	if err := h.processor.ProcessWithRetry(r.Context(), ev); err != nil {
		h.log.ErrorContext(r.Context(), "webhook processing failed",
			logger.EventType(string(ev.Type)),
			slog.String("object_id", ev.ObjectID),
			logger.Error(err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

func (h *Handler) handleListPlans(w http.ResponseWriter, r *http.Request) {
	code := jurisdiction.Code(chi.URLParam(r, "jurisdiction"))
	plans, err := h.plans.ListUpgradePlans(r.Context(), code)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, plans)
}

func (h *Handler) handleEnsureSubscriber(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Phone string `json:"phone"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Phone == "" {
		respondBadRequest(w, "phone is required")
		return
	}

	sub, err := h.subs.EnsureSubscriber(r.Context(), req.Phone)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, sub)
}

func (h *Handler) subscriberFromPath(w http.ResponseWriter, r *http.Request) (*subscription.Subscriber, bool) {
	code := jurisdiction.Code(chi.URLParam(r, "jurisdiction"))
	id, err := uuid.Parse(chi.URLParam(r, "subscriberID"))
	if err != nil {
		respondBadRequest(w, "invalid subscriber id")
		return nil, false
	}
	sub, err := h.subs.GetSubscriber(r.Context(), code, id)
	if err != nil {
		respondError(w, err)
		return nil, false
	}
	return sub, true
}

func (h *Handler) handleGetSubscriber(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.subscriberFromPath(w, r)
	if !ok {
		return
	}

	active, err := h.subs.EnsureActiveSubscription(r.Context(), sub)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"subscriber":   sub,
		"subscription": active,
	})
}

func (h *Handler) handleListSubscriptions(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.subscriberFromPath(w, r)
	if !ok {
		return
	}

	history, err := h.subs.ListBySubscriber(r.Context(), sub)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, history)
}

type quotaResponse struct {
	Allowed   bool   `json:"allowed"`
	Current   int64  `json:"current"`
	Limit     *int64 `json:"limit,omitempty"`
	Remaining int64  `json:"remaining"`
}

func quotaBody(check usage.Check) quotaResponse {
	return quotaResponse{
		Allowed:   check.Allowed,
		Current:   check.Current,
		Limit:     check.Limit,
		Remaining: check.Remaining(),
	}
}

func (h *Handler) handleQuotaCheck(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.subscriberFromPath(w, r)
	if !ok {
		return
	}

	check, err := h.tracker.Check(r.Context(), sub, catalog.Dimension(chi.URLParam(r, "dimension")))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, quotaBody(check))
}

func (h *Handler) handleQuotaConsume(w http.ResponseWriter, r *http.Request) {
	sub, ok := h.subscriberFromPath(w, r)
	if !ok {
		return
	}

	check, err := h.tracker.Consume(r.Context(), sub, catalog.Dimension(chi.URLParam(r, "dimension")))
	if err != nil {
		respondError(w, err)
		return
	}
	if !check.Allowed {
		respondJSON(w, http.StatusTooManyRequests, quotaBody(check))
		return
	}
	respondJSON(w, http.StatusOK, quotaBody(check))
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SubscriberID string `json:"subscriber_id"`
		Jurisdiction string `json:"jurisdiction"`
		PlanName     string `json:"plan_name"`
		BillingCycle string `json:"billing_cycle"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	id, err := uuid.Parse(req.SubscriberID)
	if err != nil {
		respondBadRequest(w, "invalid subscriber id")
		return
	}
	cycle := catalog.BillingCycle(req.BillingCycle)
	if !cycle.Valid() {
		respondBadRequest(w, "unknown billing cycle")
		return
	}

	sub, err := h.subs.GetSubscriber(r.Context(), jurisdiction.Code(req.Jurisdiction), id)
	if err != nil {
		respondError(w, err)
		return
	}
	plan, err := h.plans.GetPlanByName(r.Context(), req.PlanName, sub.Jurisdiction)
	if err != nil {
		respondError(w, err)
		return
	}

	session, err := h.upgrades.CreateSession(r.Context(), sub, plan.Name, cycle, plan.Price(cycle))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, session)
}

func (h *Handler) sessionFromPath(w http.ResponseWriter, r *http.Request) (jurisdiction.Code, *upgrade.Session, bool) {
	code := jurisdiction.Code(chi.URLParam(r, "jurisdiction"))
	id, err := uuid.Parse(chi.URLParam(r, "sessionID"))
	if err != nil {
		respondBadRequest(w, "invalid session id")
		return code, nil, false
	}
	session, err := h.upgrades.Get(r.Context(), code, id)
	if err != nil {
		respondError(w, err)
		return code, nil, false
	}
	return code, session, true
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	_, session, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, session)
}

func (h *Handler) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	code, session, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}

	attempts, err := h.upgrades.ListAttempts(r.Context(), code, session.ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, attempts)
}

func (h *Handler) handleAdvanceStep(w http.ResponseWriter, r *http.Request) {
	_, session, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}

	var req struct {
		Step string `json:"step"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	updated, err := h.upgrades.AdvanceStep(r.Context(), session, upgrade.Step(req.Step))
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func (h *Handler) handleStartCheckout(w http.ResponseWriter, r *http.Request) {
	_, session, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}

	var req struct {
		Email      string `json:"email"`
		SuccessURL string `json:"success_url"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	sub, err := h.subs.GetSubscriber(r.Context(), session.Jurisdiction, session.SubscriberID)
	if err != nil {
		respondError(w, err)
		return
	}

	checkout, updated, err := h.upgrades.StartCheckout(r.Context(), sub, session, req.Email, req.SuccessURL)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"checkout_url": checkout.URL,
		"session":      updated,
	})
}

func (h *Handler) handleCancelSession(w http.ResponseWriter, r *http.Request) {
	_, session, ok := h.sessionFromPath(w, r)
	if !ok {
		return
	}

	updated, err := h.upgrades.Cancel(r.Context(), session)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, updated)
}

func backendParam(r *http.Request) jurisdiction.Backend {
	if b := r.URL.Query().Get("backend"); b == string(jurisdiction.BackendDocument) {
		return jurisdiction.BackendDocument
	}
	return jurisdiction.BackendRelational
}

func (h *Handler) handleSubscriptionsByStatus(w http.ResponseWriter, r *http.Request) {
	status := subscription.Status(r.URL.Query().Get("status"))
	if status == "" {
		respondBadRequest(w, "status is required")
		return
	}

	out, err := h.subs.ListByStatus(r.Context(), backendParam(r), status)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handler) handleSessionsByStatus(w http.ResponseWriter, r *http.Request) {
	status := upgrade.Status(r.URL.Query().Get("status"))
	if status == "" {
		respondBadRequest(w, "status is required")
		return
	}

	out, err := h.upgrades.ListByStatus(r.Context(), backendParam(r), status)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}
