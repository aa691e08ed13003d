// Package mongodocs implements the document storage backend on the official
// MongoDB driver. It serves the Brazilian jurisdiction.
//
// The same invariants the relational backend keeps in its schema live here
// in partial unique indexes and conditional FindOneAndUpdate filters: one
// active subscription and one live upgrade session per subscriber, and
// compare-and-swap status updates. EnsureIndexes must run once at startup
// before the store takes writes.
package mongodocs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/advogo/billingcore/pkg/catalog"
	"github.com/advogo/billingcore/pkg/errorx"
	"github.com/advogo/billingcore/pkg/jurisdiction"
	"github.com/advogo/billingcore/pkg/subscription"
	"github.com/advogo/billingcore/pkg/upgrade"
	"github.com/advogo/billingcore/pkg/usage"
)

// Store is the document backend over one database.
type Store struct {
	subscribers   *mongo.Collection
	subscriptions *mongo.Collection
	sessions      *mongo.Collection
	attempts      *mongo.Collection
	periods       *mongo.Collection
}

// New creates a store over an established database handle.
func New(db *mongo.Database) *Store {
	if db == nil {
		panic("mongodocs: database handle is required")
	}
	return &Store{
		subscribers:   db.Collection("subscribers"),
		subscriptions: db.Collection("subscriptions"),
		sessions:      db.Collection("upgrade_sessions"),
		attempts:      db.Collection("upgrade_attempts"),
		periods:       db.Collection("usage_periods"),
	}
}

var (
	_ subscription.Store           = (*Store)(nil)
	_ subscription.SubscriberStore = (*Store)(nil)
	_ upgrade.SessionStore         = (*Store)(nil)
	_ usage.Store                  = (*Store)(nil)
)

// EnsureIndexes creates the unique indexes backing the storage invariants.
// Idempotent; run at startup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)

	if _, err := s.subscribers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "phone", Value: 1}},
		Options: unique,
	}); err != nil {
		return err
	}

	if _, err := s.subscriptions.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "subscriber_id", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "status", Value: "active"}}),
		},
		{
			Keys: bson.D{{Key: "provider_sub_id", Value: 1}},
			Options: options.Index().SetUnique(true).
				SetPartialFilterExpression(bson.D{{Key: "provider_sub_id", Value: bson.D{{Key: "$gt", Value: ""}}}}),
		},
	}); err != nil {
		return err
	}

	if _, err := s.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "subscriber_id", Value: 1}},
		Options: options.Index().SetUnique(true).
			SetPartialFilterExpression(bson.D{{Key: "status", Value: bson.D{{Key: "$in", Value: statusStrings(upgrade.LiveStatuses)}}}}),
	}); err != nil {
		return err
	}

	if _, err := s.attempts.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "created_at", Value: 1}},
	}); err != nil {
		return err
	}

	_, err := s.periods.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "subscription_id", Value: 1}, {Key: "period_start", Value: 1}},
		Options: unique,
	})
	return err
}

type subscriberDoc struct {
	ID           string    `bson:"_id"`
	Phone        string    `bson:"phone"`
	Jurisdiction string    `bson:"jurisdiction"`
	Active       bool      `bson:"active"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func (d subscriberDoc) domain() (*subscription.Subscriber, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	return &subscription.Subscriber{
		ID:           id,
		Phone:        d.Phone,
		Jurisdiction: jurisdiction.Code(d.Jurisdiction),
		Active:       d.Active,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}, nil
}

func (s *Store) InsertSubscriber(ctx context.Context, sub *subscription.Subscriber) error {
	_, err := s.subscribers.InsertOne(ctx, subscriberDoc{
		ID:           sub.ID.String(),
		Phone:        sub.Phone,
		Jurisdiction: string(sub.Jurisdiction),
		Active:       sub.Active,
		CreatedAt:    sub.CreatedAt,
		UpdatedAt:    sub.UpdatedAt,
	})
	if mongo.IsDuplicateKeyError(err) {
		return errorx.NewConflict("subscriber", sub.Phone)
	}
	return err
}

func (s *Store) GetSubscriber(ctx context.Context, id uuid.UUID) (*subscription.Subscriber, error) {
	return s.findSubscriber(ctx, bson.D{{Key: "_id", Value: id.String()}}, id.String())
}

func (s *Store) GetSubscriberByPhone(ctx context.Context, phone string) (*subscription.Subscriber, error) {
	return s.findSubscriber(ctx, bson.D{{Key: "phone", Value: phone}}, phone)
}

func (s *Store) findSubscriber(ctx context.Context, filter bson.D, key string) (*subscription.Subscriber, error) {
	var doc subscriberDoc
	err := s.subscribers.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errorx.NewNotFound("subscriber", key)
	}
	if err != nil {
		return nil, err
	}
	return doc.domain()
}

type subscriptionDoc struct {
	ID            string     `bson:"_id"`
	SubscriberID  string     `bson:"subscriber_id"`
	Jurisdiction  string     `bson:"jurisdiction"`
	PlanName      string     `bson:"plan_name"`
	Status        string     `bson:"status"`
	BillingCycle  string     `bson:"billing_cycle"`
	PeriodStart   time.Time  `bson:"current_period_start"`
	PeriodEnd     time.Time  `bson:"current_period_end"`
	ProviderSubID string     `bson:"provider_sub_id,omitempty"`
	SyncStatus    string     `bson:"sync_status"`
	CancelledAt   *time.Time `bson:"cancelled_at,omitempty"`
	CreatedAt     time.Time  `bson:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at"`
}

func subscriptionToDoc(sub *subscription.Subscription) subscriptionDoc {
	return subscriptionDoc{
		ID:            sub.ID.String(),
		SubscriberID:  sub.SubscriberID.String(),
		Jurisdiction:  string(sub.Jurisdiction),
		PlanName:      sub.PlanName,
		Status:        string(sub.Status),
		BillingCycle:  string(sub.BillingCycle),
		PeriodStart:   sub.CurrentPeriodStart,
		PeriodEnd:     sub.CurrentPeriodEnd,
		ProviderSubID: sub.ProviderSubID,
		SyncStatus:    string(sub.SyncStatus),
		CancelledAt:   sub.CancelledAt,
		CreatedAt:     sub.CreatedAt,
		UpdatedAt:     sub.UpdatedAt,
	}
}

func (d subscriptionDoc) domain() (*subscription.Subscription, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	subscriberID, err := uuid.Parse(d.SubscriberID)
	if err != nil {
		return nil, err
	}
	return &subscription.Subscription{
		ID:                 id,
		SubscriberID:       subscriberID,
		Jurisdiction:       jurisdiction.Code(d.Jurisdiction),
		PlanName:           d.PlanName,
		Status:             subscription.Status(d.Status),
		BillingCycle:       catalog.BillingCycle(d.BillingCycle),
		CurrentPeriodStart: d.PeriodStart,
		CurrentPeriodEnd:   d.PeriodEnd,
		ProviderSubID:      d.ProviderSubID,
		SyncStatus:         subscription.SyncStatus(d.SyncStatus),
		CancelledAt:        d.CancelledAt,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}, nil
}

func (s *Store) Insert(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.subscriptions.InsertOne(ctx, subscriptionToDoc(sub))
	if mongo.IsDuplicateKeyError(err) {
		return errorx.NewConflict("subscription", "subscriber "+sub.SubscriberID.String())
	}
	return err
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	return s.findSubscription(ctx, bson.D{{Key: "_id", Value: id.String()}}, id.String())
}

func (s *Store) FindActive(ctx context.Context, subscriberID uuid.UUID) (*subscription.Subscription, error) {
	return s.findSubscription(ctx, bson.D{
		{Key: "subscriber_id", Value: subscriberID.String()},
		{Key: "status", Value: string(subscription.StatusActive)},
	}, "active for subscriber "+subscriberID.String())
}

func (s *Store) FindByProviderSubID(ctx context.Context, providerSubID string) (*subscription.Subscription, error) {
	if providerSubID == "" {
		return nil, errorx.NewNotFound("subscription", "")
	}
	return s.findSubscription(ctx,
		bson.D{{Key: "provider_sub_id", Value: providerSubID}},
		"provider id "+providerSubID)
}

func (s *Store) findSubscription(ctx context.Context, filter bson.D, key string) (*subscription.Subscription, error) {
	var doc subscriptionDoc
	err := s.subscriptions.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errorx.NewNotFound("subscription", key)
	}
	if err != nil {
		return nil, err
	}
	return doc.domain()
}

func (s *Store) ListBySubscriber(ctx context.Context, subscriberID uuid.UUID) ([]subscription.Subscription, error) {
	return s.listSubscriptions(ctx, bson.D{{Key: "subscriber_id", Value: subscriberID.String()}})
}

func (s *Store) ListByStatus(ctx context.Context, status subscription.Status) ([]subscription.Subscription, error) {
	return s.listSubscriptions(ctx, bson.D{{Key: "status", Value: string(status)}})
}

func (s *Store) listSubscriptions(ctx context.Context, filter bson.D) ([]subscription.Subscription, error) {
	cursor, err := s.subscriptions.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []subscription.Subscription
	for cursor.Next(ctx) {
		var doc subscriptionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		sub, err := doc.domain()
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, cursor.Err()
}

func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, from []subscription.Status, upd subscription.Update) (*subscription.Subscription, error) {
	set := bson.D{
		{Key: "status", Value: string(upd.Status)},
		{Key: "updated_at", Value: time.Now().UTC()},
	}
	if upd.SyncStatus != nil {
		set = append(set, bson.E{Key: "sync_status", Value: string(*upd.SyncStatus)})
	}
	if upd.PeriodStart != nil {
		set = append(set, bson.E{Key: "current_period_start", Value: *upd.PeriodStart})
	}
	if upd.PeriodEnd != nil {
		set = append(set, bson.E{Key: "current_period_end", Value: *upd.PeriodEnd})
	}
	if upd.ProviderSubID != nil {
		set = append(set, bson.E{Key: "provider_sub_id", Value: *upd.ProviderSubID})
	}
	if upd.CancelledAt != nil {
		set = append(set, bson.E{Key: "cancelled_at", Value: *upd.CancelledAt})
	}

	var doc subscriptionDoc
	err := s.subscriptions.FindOneAndUpdate(ctx,
		bson.D{
			{Key: "_id", Value: id.String()},
			{Key: "status", Value: bson.D{{Key: "$in", Value: statusStrings(from)}}},
		},
		bson.D{{Key: "$set", Value: set}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errorx.NewNotFound("subscription", id.String())
	}
	if mongo.IsDuplicateKeyError(err) {
		return nil, errorx.NewConflict("subscription", id.String())
	}
	if err != nil {
		return nil, err
	}
	return doc.domain()
}

func (s *Store) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.subscriptions.UpdateMany(ctx,
		bson.D{
			{Key: "status", Value: string(subscription.StatusActive)},
			{Key: "current_period_end", Value: bson.D{{Key: "$lt", Value: now}}},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: string(subscription.StatusExpired)},
			{Key: "updated_at", Value: now},
		}}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

type sessionDoc struct {
	ID                 string     `bson:"_id"`
	SubscriberID       string     `bson:"subscriber_id"`
	Jurisdiction       string     `bson:"jurisdiction"`
	PlanName           string     `bson:"plan_name"`
	BillingCycle       string     `bson:"billing_cycle"`
	AmountCents        int64      `bson:"amount_cents"`
	Currency           string     `bson:"currency"`
	Status             string     `bson:"status"`
	CurrentStep        string     `bson:"current_step"`
	AttemptsCount      int        `bson:"attempts_count"`
	LastAttemptAt      *time.Time `bson:"last_attempt_at,omitempty"`
	ProviderCheckoutID *string    `bson:"provider_checkout_id,omitempty"`
	ExpiresAt          time.Time  `bson:"expires_at"`
	CreatedAt          time.Time  `bson:"created_at"`
	UpdatedAt          time.Time  `bson:"updated_at"`
}

func sessionToDoc(sess *upgrade.Session) sessionDoc {
	return sessionDoc{
		ID:                 sess.ID.String(),
		SubscriberID:       sess.SubscriberID.String(),
		Jurisdiction:       string(sess.Jurisdiction),
		PlanName:           sess.PlanName,
		BillingCycle:       string(sess.BillingCycle),
		AmountCents:        sess.Amount.Amount,
		Currency:           sess.Amount.Currency,
		Status:             string(sess.Status),
		CurrentStep:        string(sess.CurrentStep),
		AttemptsCount:      sess.AttemptsCount,
		LastAttemptAt:      sess.LastAttemptAt,
		ProviderCheckoutID: sess.ProviderCheckoutID,
		ExpiresAt:          sess.ExpiresAt,
		CreatedAt:          sess.CreatedAt,
		UpdatedAt:          sess.UpdatedAt,
	}
}

func (d sessionDoc) domain() (*upgrade.Session, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	subscriberID, err := uuid.Parse(d.SubscriberID)
	if err != nil {
		return nil, err
	}
	return &upgrade.Session{
		ID:                 id,
		SubscriberID:       subscriberID,
		Jurisdiction:       jurisdiction.Code(d.Jurisdiction),
		PlanName:           d.PlanName,
		BillingCycle:       catalog.BillingCycle(d.BillingCycle),
		Amount:             catalog.Money{Amount: d.AmountCents, Currency: d.Currency},
		Status:             upgrade.Status(d.Status),
		CurrentStep:        upgrade.Step(d.CurrentStep),
		AttemptsCount:      d.AttemptsCount,
		LastAttemptAt:      d.LastAttemptAt,
		ProviderCheckoutID: d.ProviderCheckoutID,
		ExpiresAt:          d.ExpiresAt,
		CreatedAt:          d.CreatedAt,
		UpdatedAt:          d.UpdatedAt,
	}, nil
}

func (s *Store) InsertSession(ctx context.Context, sess *upgrade.Session) error {
	_, err := s.sessions.InsertOne(ctx, sessionToDoc(sess))
	if mongo.IsDuplicateKeyError(err) {
		return errorx.NewConflict("upgrade session", "live for subscriber "+sess.SubscriberID.String())
	}
	return err
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*upgrade.Session, error) {
	return s.findSession(ctx, bson.D{{Key: "_id", Value: id.String()}}, id.String())
}

func (s *Store) FindLiveBySubscriber(ctx context.Context, subscriberID uuid.UUID) (*upgrade.Session, error) {
	return s.findSession(ctx, bson.D{
		{Key: "subscriber_id", Value: subscriberID.String()},
		{Key: "status", Value: bson.D{{Key: "$in", Value: statusStrings(upgrade.LiveStatuses)}}},
	}, "live for subscriber "+subscriberID.String())
}

func (s *Store) findSession(ctx context.Context, filter bson.D, key string) (*upgrade.Session, error) {
	var doc sessionDoc
	err := s.sessions.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errorx.NewNotFound("upgrade session", key)
	}
	if err != nil {
		return nil, err
	}
	return doc.domain()
}

func (s *Store) ListSessionsBySubscriber(ctx context.Context, subscriberID uuid.UUID) ([]upgrade.Session, error) {
	return s.listSessions(ctx, bson.D{{Key: "subscriber_id", Value: subscriberID.String()}})
}

func (s *Store) ListSessionsByStatus(ctx context.Context, status upgrade.Status) ([]upgrade.Session, error) {
	return s.listSessions(ctx, bson.D{{Key: "status", Value: string(status)}})
}

func (s *Store) listSessions(ctx context.Context, filter bson.D) ([]upgrade.Session, error) {
	cursor, err := s.sessions.Find(ctx, filter,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []upgrade.Session
	for cursor.Next(ctx) {
		var doc sessionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		sess, err := doc.domain()
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, cursor.Err()
}

func (s *Store) UpdateSession(ctx context.Context, id uuid.UUID, from []upgrade.Status, upd upgrade.SessionUpdate) (*upgrade.Session, error) {
	set := bson.D{
		{Key: "status", Value: string(upd.Status)},
		{Key: "updated_at", Value: time.Now().UTC()},
	}
	if upd.Step != nil {
		set = append(set, bson.E{Key: "current_step", Value: string(*upd.Step)})
	}
	if upd.ProviderCheckoutID != nil {
		set = append(set, bson.E{Key: "provider_checkout_id", Value: *upd.ProviderCheckoutID})
	}
	if upd.LastAttemptAt != nil {
		set = append(set, bson.E{Key: "last_attempt_at", Value: *upd.LastAttemptAt})
	}

	update := bson.D{{Key: "$set", Value: set}}
	if upd.IncrementAttempts {
		update = append(update, bson.E{Key: "$inc", Value: bson.D{{Key: "attempts_count", Value: 1}}})
	}

	var doc sessionDoc
	err := s.sessions.FindOneAndUpdate(ctx,
		bson.D{
			{Key: "_id", Value: id.String()},
			{Key: "status", Value: bson.D{{Key: "$in", Value: statusStrings(from)}}},
		},
		update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errorx.NewNotFound("upgrade session", id.String())
	}
	if err != nil {
		return nil, err
	}
	return doc.domain()
}

type attemptDoc struct {
	ID           string    `bson:"_id"`
	SessionID    string    `bson:"session_id"`
	Step         string    `bson:"step"`
	Success      bool      `bson:"success"`
	ErrorMessage string    `bson:"error_message,omitempty"`
	CreatedAt    time.Time `bson:"created_at"`
}

func (s *Store) RecordAttempt(ctx context.Context, a *upgrade.Attempt) error {
	_, err := s.attempts.InsertOne(ctx, attemptDoc{
		ID:           a.ID.String(),
		SessionID:    a.SessionID.String(),
		Step:         string(a.Step),
		Success:      a.Success,
		ErrorMessage: a.ErrorMessage,
		CreatedAt:    a.CreatedAt,
	})
	return err
}

func (s *Store) ListAttempts(ctx context.Context, sessionID uuid.UUID) ([]upgrade.Attempt, error) {
	cursor, err := s.attempts.Find(ctx,
		bson.D{{Key: "session_id", Value: sessionID.String()}},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var out []upgrade.Attempt
	for cursor.Next(ctx) {
		var doc attemptDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		id, err := uuid.Parse(doc.ID)
		if err != nil {
			return nil, err
		}
		sid, err := uuid.Parse(doc.SessionID)
		if err != nil {
			return nil, err
		}
		out = append(out, upgrade.Attempt{
			ID:           id,
			SessionID:    sid,
			Step:         upgrade.Step(doc.Step),
			Success:      doc.Success,
			ErrorMessage: doc.ErrorMessage,
			CreatedAt:    doc.CreatedAt,
		})
	}
	return out, cursor.Err()
}

func (s *Store) SweepExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.sessions.UpdateMany(ctx,
		bson.D{
			{Key: "status", Value: bson.D{{Key: "$in", Value: statusStrings(upgrade.SweepableStatuses)}}},
			{Key: "expires_at", Value: bson.D{{Key: "$lt", Value: now}}},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "status", Value: string(upgrade.StatusExpired)},
			{Key: "current_step", Value: string(upgrade.StepExpired)},
			{Key: "updated_at", Value: now},
		}}})
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

type periodDoc struct {
	ID             string           `bson:"_id"`
	SubscriptionID string           `bson:"subscription_id"`
	SubscriberID   string           `bson:"subscriber_id"`
	PeriodStart    time.Time        `bson:"period_start"`
	PeriodEnd      time.Time        `bson:"period_end"`
	Counters       map[string]int64 `bson:"counters"`
	CreatedAt      time.Time        `bson:"created_at"`
	UpdatedAt      time.Time        `bson:"updated_at"`
}

func (d periodDoc) domain() (*usage.Period, error) {
	id, err := uuid.Parse(d.ID)
	if err != nil {
		return nil, err
	}
	subscriptionID, err := uuid.Parse(d.SubscriptionID)
	if err != nil {
		return nil, err
	}
	subscriberID, err := uuid.Parse(d.SubscriberID)
	if err != nil {
		return nil, err
	}
	counters := make(map[catalog.Dimension]int64, len(d.Counters))
	for dim, n := range d.Counters {
		counters[catalog.Dimension(dim)] = n
	}
	return &usage.Period{
		ID:             id,
		SubscriptionID: subscriptionID,
		SubscriberID:   subscriberID,
		PeriodStart:    d.PeriodStart,
		PeriodEnd:      d.PeriodEnd,
		Counters:       counters,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}, nil
}

func (s *Store) GetPeriod(ctx context.Context, subscriptionID uuid.UUID, start time.Time) (*usage.Period, error) {
	var doc periodDoc
	err := s.periods.FindOne(ctx, bson.D{
		{Key: "subscription_id", Value: subscriptionID.String()},
		{Key: "period_start", Value: start},
	}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, errorx.NewNotFound("usage period", subscriptionID.String())
	}
	if err != nil {
		return nil, err
	}
	return doc.domain()
}

func (s *Store) EnsurePeriod(ctx context.Context, period *usage.Period) (*usage.Period, error) {
	_, err := s.periods.InsertOne(ctx, periodDoc{
		ID:             period.ID.String(),
		SubscriptionID: period.SubscriptionID.String(),
		SubscriberID:   period.SubscriberID.String(),
		PeriodStart:    period.PeriodStart,
		PeriodEnd:      period.PeriodEnd,
		Counters:       map[string]int64{},
		CreatedAt:      period.CreatedAt,
		UpdatedAt:      period.UpdatedAt,
	})
	if err != nil && !mongo.IsDuplicateKeyError(err) {
		return nil, err
	}
	return s.GetPeriod(ctx, period.SubscriptionID, period.PeriodStart)
}

func (s *Store) IncrementUsage(ctx context.Context, periodID uuid.UUID, dim catalog.Dimension, n int64) error {
	res, err := s.periods.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: periodID.String()}},
		bson.D{
			{Key: "$inc", Value: bson.D{{Key: "counters." + string(dim), Value: n}}},
			{Key: "$set", Value: bson.D{{Key: "updated_at", Value: time.Now().UTC()}}},
		})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return errorx.NewNotFound("usage period", periodID.String())
	}
	return nil
}

func statusStrings[S ~string](in []S) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}
