// Package memory provides an in-memory storage backend guarded by a single
// mutex. It backs unit tests and local development; production deployments
// use the postgres and mongodocs backends.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/advogo/billingcore/pkg/catalog"
	"github.com/advogo/billingcore/pkg/errorx"
	"github.com/advogo/billingcore/pkg/subscription"
	"github.com/advogo/billingcore/pkg/upgrade"
	"github.com/advogo/billingcore/pkg/usage"
)

type periodKey struct {
	subscriptionID uuid.UUID
	start          int64
}

// Store implements every storage interface of the domain packages over
// process-local maps. The zero value is not usable; call New.
type Store struct {
	mu sync.Mutex

	subscribers map[uuid.UUID]subscription.Subscriber
	byPhone     map[string]uuid.UUID

	subscriptions map[uuid.UUID]subscription.Subscription

	sessions map[uuid.UUID]upgrade.Session
	attempts map[uuid.UUID][]upgrade.Attempt

	periods   map[uuid.UUID]usage.Period
	periodIdx map[periodKey]uuid.UUID
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		subscribers:   make(map[uuid.UUID]subscription.Subscriber),
		byPhone:       make(map[string]uuid.UUID),
		subscriptions: make(map[uuid.UUID]subscription.Subscription),
		sessions:      make(map[uuid.UUID]upgrade.Session),
		attempts:      make(map[uuid.UUID][]upgrade.Attempt),
		periods:       make(map[uuid.UUID]usage.Period),
		periodIdx:     make(map[periodKey]uuid.UUID),
	}
}

var (
	_ subscription.Store           = (*Store)(nil)
	_ subscription.SubscriberStore = (*Store)(nil)
	_ upgrade.SessionStore         = (*Store)(nil)
	_ usage.Store                  = (*Store)(nil)
)

// InsertSubscriber creates a subscriber, enforcing phone uniqueness.
func (s *Store) InsertSubscriber(_ context.Context, sub *subscription.Subscriber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byPhone[sub.Phone]; exists {
		return errorx.NewConflict("subscriber", sub.Phone)
	}
	if _, exists := s.subscribers[sub.ID]; exists {
		return errorx.NewConflict("subscriber", sub.ID.String())
	}
	s.subscribers[sub.ID] = *sub
	s.byPhone[sub.Phone] = sub.ID
	return nil
}

func (s *Store) GetSubscriber(_ context.Context, id uuid.UUID) (*subscription.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscribers[id]
	if !ok {
		return nil, errorx.NewNotFound("subscriber", id.String())
	}
	return &sub, nil
}

func (s *Store) GetSubscriberByPhone(_ context.Context, phone string) (*subscription.Subscriber, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPhone[phone]
	if !ok {
		return nil, errorx.NewNotFound("subscriber", phone)
	}
	sub := s.subscribers[id]
	return &sub, nil
}

// Insert creates a subscription, enforcing the single-active slot per
// subscriber and provider-id uniqueness.
func (s *Store) Insert(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.subscriptions {
		if sub.Status == subscription.StatusActive &&
			existing.SubscriberID == sub.SubscriberID &&
			existing.Status == subscription.StatusActive {
			return errorx.NewConflict("subscription", "active for subscriber "+sub.SubscriberID.String())
		}
		if sub.ProviderSubID != "" && existing.ProviderSubID == sub.ProviderSubID {
			return errorx.NewConflict("subscription", "provider id "+sub.ProviderSubID)
		}
	}
	s.subscriptions[sub.ID] = *sub
	return nil
}

func (s *Store) Get(_ context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, errorx.NewNotFound("subscription", id.String())
	}
	return &sub, nil
}

func (s *Store) FindActive(_ context.Context, subscriberID uuid.UUID) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscriptions {
		if sub.SubscriberID == subscriberID && sub.Status == subscription.StatusActive {
			out := sub
			return &out, nil
		}
	}
	return nil, errorx.NewNotFound("subscription", "active for subscriber "+subscriberID.String())
}

func (s *Store) FindByProviderSubID(_ context.Context, providerSubID string) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, sub := range s.subscriptions {
		if sub.ProviderSubID == providerSubID && providerSubID != "" {
			out := sub
			return &out, nil
		}
	}
	return nil, errorx.NewNotFound("subscription", "provider id "+providerSubID)
}

func (s *Store) ListBySubscriber(_ context.Context, subscriberID uuid.UUID) ([]subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.SubscriberID == subscriberID {
			out = append(out, sub)
		}
	}
	sortNewestFirst(out, func(s subscription.Subscription) time.Time { return s.CreatedAt })
	return out, nil
}

func (s *Store) ListByStatus(_ context.Context, status subscription.Status) ([]subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []subscription.Subscription
	for _, sub := range s.subscriptions {
		if sub.Status == status {
			out = append(out, sub)
		}
	}
	sortNewestFirst(out, func(s subscription.Subscription) time.Time { return s.CreatedAt })
	return out, nil
}

func (s *Store) UpdateStatus(_ context.Context, id uuid.UUID, from []subscription.Status, upd subscription.Update) (*subscription.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subscriptions[id]
	if !ok || !statusIn(sub.Status, from) {
		return nil, errorx.NewNotFound("subscription", id.String())
	}

	sub.Status = upd.Status
	if upd.SyncStatus != nil {
		sub.SyncStatus = *upd.SyncStatus
	}
	if upd.PeriodStart != nil {
		sub.CurrentPeriodStart = *upd.PeriodStart
	}
	if upd.PeriodEnd != nil {
		sub.CurrentPeriodEnd = *upd.PeriodEnd
	}
	if upd.ProviderSubID != nil {
		sub.ProviderSubID = *upd.ProviderSubID
	}
	if upd.CancelledAt != nil {
		sub.CancelledAt = upd.CancelledAt
	}
	sub.UpdatedAt = time.Now().UTC()
	s.subscriptions[id] = sub
	return &sub, nil
}

func (s *Store) ExpireOverdue(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, sub := range s.subscriptions {
		if sub.Status == subscription.StatusActive && sub.CurrentPeriodEnd.Before(now) {
			sub.Status = subscription.StatusExpired
			sub.UpdatedAt = now
			s.subscriptions[id] = sub
			n++
		}
	}
	return n, nil
}

// InsertSession creates an upgrade session, enforcing the one-live-session
// slot per subscriber.
func (s *Store) InsertSession(_ context.Context, session *upgrade.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if session.Status.IsLive() {
		for _, existing := range s.sessions {
			if existing.SubscriberID == session.SubscriberID && existing.Status.IsLive() {
				return errorx.NewConflict("upgrade session", "live for subscriber "+session.SubscriberID.String())
			}
		}
	}
	s.sessions[session.ID] = *session
	return nil
}

func (s *Store) GetSession(_ context.Context, id uuid.UUID) (*upgrade.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, errorx.NewNotFound("upgrade session", id.String())
	}
	return &session, nil
}

func (s *Store) FindLiveBySubscriber(_ context.Context, subscriberID uuid.UUID) (*upgrade.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, session := range s.sessions {
		if session.SubscriberID == subscriberID && session.Status.IsLive() {
			out := session
			return &out, nil
		}
	}
	return nil, errorx.NewNotFound("upgrade session", "live for subscriber "+subscriberID.String())
}

func (s *Store) ListSessionsBySubscriber(_ context.Context, subscriberID uuid.UUID) ([]upgrade.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []upgrade.Session
	for _, session := range s.sessions {
		if session.SubscriberID == subscriberID {
			out = append(out, session)
		}
	}
	sortNewestFirst(out, func(s upgrade.Session) time.Time { return s.CreatedAt })
	return out, nil
}

func (s *Store) ListSessionsByStatus(_ context.Context, status upgrade.Status) ([]upgrade.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []upgrade.Session
	for _, session := range s.sessions {
		if session.Status == status {
			out = append(out, session)
		}
	}
	sortNewestFirst(out, func(s upgrade.Session) time.Time { return s.CreatedAt })
	return out, nil
}

func (s *Store) UpdateSession(_ context.Context, id uuid.UUID, from []upgrade.Status, upd upgrade.SessionUpdate) (*upgrade.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok || !statusIn(session.Status, from) {
		return nil, errorx.NewNotFound("upgrade session", id.String())
	}

	session.Status = upd.Status
	if upd.Step != nil {
		session.CurrentStep = *upd.Step
	}
	if upd.ProviderCheckoutID != nil {
		session.ProviderCheckoutID = upd.ProviderCheckoutID
	}
	if upd.IncrementAttempts {
		session.AttemptsCount++
	}
	if upd.LastAttemptAt != nil {
		session.LastAttemptAt = upd.LastAttemptAt
	}
	session.UpdatedAt = time.Now().UTC()
	s.sessions[id] = session
	return &session, nil
}

func (s *Store) RecordAttempt(_ context.Context, a *upgrade.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts[a.SessionID] = append(s.attempts[a.SessionID], *a)
	return nil
}

func (s *Store) ListAttempts(_ context.Context, sessionID uuid.UUID) ([]upgrade.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]upgrade.Attempt, len(s.attempts[sessionID]))
	copy(out, s.attempts[sessionID])
	return out, nil
}

func (s *Store) SweepExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, session := range s.sessions {
		if statusIn(session.Status, upgrade.SweepableStatuses) && session.ExpiresAt.Before(now) {
			session.Status = upgrade.StatusExpired
			session.CurrentStep = upgrade.StepExpired
			session.UpdatedAt = now
			s.sessions[id] = session
			n++
		}
	}
	return n, nil
}

func (s *Store) GetPeriod(_ context.Context, subscriptionID uuid.UUID, start time.Time) (*usage.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.periodIdx[periodKey{subscriptionID, start.UTC().Unix()}]
	if !ok {
		return nil, errorx.NewNotFound("usage period", subscriptionID.String())
	}
	return copyPeriod(s.periods[id]), nil
}

func (s *Store) EnsurePeriod(_ context.Context, period *usage.Period) (*usage.Period, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := periodKey{period.SubscriptionID, period.PeriodStart.UTC().Unix()}
	if id, ok := s.periodIdx[key]; ok {
		return copyPeriod(s.periods[id]), nil
	}
	stored := *period
	stored.Counters = make(map[catalog.Dimension]int64, len(period.Counters))
	for dim, n := range period.Counters {
		stored.Counters[dim] = n
	}
	s.periods[stored.ID] = stored
	s.periodIdx[key] = stored.ID
	return copyPeriod(stored), nil
}

func (s *Store) IncrementUsage(_ context.Context, periodID uuid.UUID, dim catalog.Dimension, n int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	period, ok := s.periods[periodID]
	if !ok {
		return errorx.NewNotFound("usage period", periodID.String())
	}
	if period.Counters == nil {
		period.Counters = make(map[catalog.Dimension]int64)
	}
	period.Counters[dim] += n
	period.UpdatedAt = time.Now().UTC()
	s.periods[periodID] = period
	return nil
}

func copyPeriod(p usage.Period) *usage.Period {
	out := p
	out.Counters = make(map[catalog.Dimension]int64, len(p.Counters))
	for dim, n := range p.Counters {
		out.Counters[dim] = n
	}
	return &out
}

func sortNewestFirst[T any](items []T, createdAt func(T) time.Time) {
	sort.Slice(items, func(i, j int) bool {
		return createdAt(items[i]).After(createdAt(items[j]))
	})
}

func statusIn[S ~string](status S, in []S) bool {
	for _, s := range in {
		if s == status {
			return true
		}
	}
	return false
}
