// Package postgres implements the relational storage backend on pgx. It
// serves the Portuguese and Spanish jurisdictions.
//
// Uniqueness invariants live in the schema: partial unique indexes hold the
// single-active-subscription and single-live-session slots, and conditional
// updates compare-and-swap on the status column. The store reports
// violations through the shared error taxonomy so domain services resolve
// races without database knowledge.
package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/advogo/billingcore/pkg/catalog"
	"github.com/advogo/billingcore/pkg/errorx"
	"github.com/advogo/billingcore/pkg/pg"
	"github.com/advogo/billingcore/pkg/subscription"
	"github.com/advogo/billingcore/pkg/upgrade"
	"github.com/advogo/billingcore/pkg/usage"
)

// Store is the relational backend. It is safe for concurrent use; all
// coordination happens in the database.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store over an established connection pool.
func New(pool *pgxpool.Pool) *Store {
	if pool == nil {
		panic("postgres: connection pool is required")
	}
	return &Store{pool: pool}
}

var (
	_ subscription.Store           = (*Store)(nil)
	_ subscription.SubscriberStore = (*Store)(nil)
	_ upgrade.SessionStore         = (*Store)(nil)
	_ usage.Store                  = (*Store)(nil)
)

func (s *Store) InsertSubscriber(ctx context.Context, sub *subscription.Subscriber) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscribers (id, phone, jurisdiction, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		sub.ID, sub.Phone, sub.Jurisdiction, sub.Active, sub.CreatedAt, sub.UpdatedAt)
	if pg.IsDuplicateKeyError(err) {
		return errorx.NewConflict("subscriber", sub.Phone)
	}
	return err
}

func (s *Store) GetSubscriber(ctx context.Context, id uuid.UUID) (*subscription.Subscriber, error) {
	return s.scanSubscriber(s.pool.QueryRow(ctx,
		selectSubscriber+` WHERE id = $1`, id), id.String())
}

func (s *Store) GetSubscriberByPhone(ctx context.Context, phone string) (*subscription.Subscriber, error) {
	return s.scanSubscriber(s.pool.QueryRow(ctx,
		selectSubscriber+` WHERE phone = $1`, phone), phone)
}

const selectSubscriber = `
	SELECT id, phone, jurisdiction, active, created_at, updated_at
	FROM subscribers`

func (s *Store) scanSubscriber(row pgx.Row, key string) (*subscription.Subscriber, error) {
	var sub subscription.Subscriber
	err := row.Scan(&sub.ID, &sub.Phone, &sub.Jurisdiction, &sub.Active, &sub.CreatedAt, &sub.UpdatedAt)
	if pg.IsNotFoundError(err) {
		return nil, errorx.NewNotFound("subscriber", key)
	}
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

const selectSubscription = `
	SELECT id, subscriber_id, jurisdiction, plan_name, status, billing_cycle,
	       current_period_start, current_period_end, provider_sub_id,
	       sync_status, cancelled_at, created_at, updated_at
	FROM subscriptions`

func scanSubscription(row pgx.Row) (*subscription.Subscription, error) {
	var sub subscription.Subscription
	err := row.Scan(&sub.ID, &sub.SubscriberID, &sub.Jurisdiction, &sub.PlanName,
		&sub.Status, &sub.BillingCycle, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.ProviderSubID, &sub.SyncStatus, &sub.CancelledAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

func collectSubscriptions(rows pgx.Rows) ([]subscription.Subscription, error) {
	defer rows.Close()

	var out []subscription.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sub)
	}
	return out, rows.Err()
}

func (s *Store) Insert(ctx context.Context, sub *subscription.Subscription) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO subscriptions (id, subscriber_id, jurisdiction, plan_name, status,
			billing_cycle, current_period_start, current_period_end, provider_sub_id,
			sync_status, cancelled_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		sub.ID, sub.SubscriberID, sub.Jurisdiction, sub.PlanName, sub.Status,
		sub.BillingCycle, sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.ProviderSubID,
		sub.SyncStatus, sub.CancelledAt, sub.CreatedAt, sub.UpdatedAt)
	if pg.IsDuplicateKeyError(err) {
		return errorx.NewConflict("subscription", "subscriber "+sub.SubscriberID.String())
	}
	return err
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*subscription.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx, selectSubscription+` WHERE id = $1`, id))
	if pg.IsNotFoundError(err) {
		return nil, errorx.NewNotFound("subscription", id.String())
	}
	return sub, err
}

func (s *Store) FindActive(ctx context.Context, subscriberID uuid.UUID) (*subscription.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		selectSubscription+` WHERE subscriber_id = $1 AND status = 'active'`, subscriberID))
	if pg.IsNotFoundError(err) {
		return nil, errorx.NewNotFound("subscription", "active for subscriber "+subscriberID.String())
	}
	return sub, err
}

func (s *Store) FindByProviderSubID(ctx context.Context, providerSubID string) (*subscription.Subscription, error) {
	if providerSubID == "" {
		return nil, errorx.NewNotFound("subscription", "")
	}
	sub, err := scanSubscription(s.pool.QueryRow(ctx,
		selectSubscription+` WHERE provider_sub_id = $1`, providerSubID))
	if pg.IsNotFoundError(err) {
		return nil, errorx.NewNotFound("subscription", "provider id "+providerSubID)
	}
	return sub, err
}

func (s *Store) ListBySubscriber(ctx context.Context, subscriberID uuid.UUID) ([]subscription.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		selectSubscription+` WHERE subscriber_id = $1 ORDER BY created_at DESC`, subscriberID)
	if err != nil {
		return nil, err
	}
	return collectSubscriptions(rows)
}

func (s *Store) ListByStatus(ctx context.Context, status subscription.Status) ([]subscription.Subscription, error) {
	rows, err := s.pool.Query(ctx,
		selectSubscription+` WHERE status = $1 ORDER BY created_at DESC`, status)
	if err != nil {
		return nil, err
	}
	return collectSubscriptions(rows)
}

func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, from []subscription.Status, upd subscription.Update) (*subscription.Subscription, error) {
	sub, err := scanSubscription(s.pool.QueryRow(ctx, `
		UPDATE subscriptions SET
			status = $3,
			sync_status = COALESCE($4, sync_status),
			current_period_start = COALESCE($5, current_period_start),
			current_period_end = COALESCE($6, current_period_end),
			provider_sub_id = COALESCE($7, provider_sub_id),
			cancelled_at = COALESCE($8, cancelled_at),
			updated_at = now()
		WHERE id = $1 AND status = ANY($2)
		RETURNING id, subscriber_id, jurisdiction, plan_name, status, billing_cycle,
			current_period_start, current_period_end, provider_sub_id,
			sync_status, cancelled_at, created_at, updated_at`,
		id, statusStrings(from), upd.Status, upd.SyncStatus,
		upd.PeriodStart, upd.PeriodEnd, upd.ProviderSubID, upd.CancelledAt))
	if pg.IsNotFoundError(err) {
		return nil, errorx.NewNotFound("subscription", id.String())
	}
	if pg.IsDuplicateKeyError(err) {
		return nil, errorx.NewConflict("subscription", id.String())
	}
	return sub, err
}

func (s *Store) ExpireOverdue(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subscriptions
		SET status = 'expired', updated_at = now()
		WHERE status = 'active' AND current_period_end < $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const selectSession = `
	SELECT id, subscriber_id, jurisdiction, plan_name, billing_cycle,
	       amount_cents, currency, status, current_step, attempts_count,
	       last_attempt_at, provider_checkout_id, expires_at, created_at, updated_at
	FROM upgrade_sessions`

func scanSession(row pgx.Row) (*upgrade.Session, error) {
	var sess upgrade.Session
	err := row.Scan(&sess.ID, &sess.SubscriberID, &sess.Jurisdiction, &sess.PlanName,
		&sess.BillingCycle, &sess.Amount.Amount, &sess.Amount.Currency, &sess.Status,
		&sess.CurrentStep, &sess.AttemptsCount, &sess.LastAttemptAt,
		&sess.ProviderCheckoutID, &sess.ExpiresAt, &sess.CreatedAt, &sess.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func collectSessions(rows pgx.Rows) ([]upgrade.Session, error) {
	defer rows.Close()

	var out []upgrade.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sess)
	}
	return out, rows.Err()
}

func (s *Store) InsertSession(ctx context.Context, sess *upgrade.Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO upgrade_sessions (id, subscriber_id, jurisdiction, plan_name,
			billing_cycle, amount_cents, currency, status, current_step, attempts_count,
			last_attempt_at, provider_checkout_id, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sess.ID, sess.SubscriberID, sess.Jurisdiction, sess.PlanName,
		sess.BillingCycle, sess.Amount.Amount, sess.Amount.Currency, sess.Status,
		sess.CurrentStep, sess.AttemptsCount, sess.LastAttemptAt,
		sess.ProviderCheckoutID, sess.ExpiresAt, sess.CreatedAt, sess.UpdatedAt)
	if pg.IsDuplicateKeyError(err) {
		return errorx.NewConflict("upgrade session", "live for subscriber "+sess.SubscriberID.String())
	}
	return err
}

func (s *Store) GetSession(ctx context.Context, id uuid.UUID) (*upgrade.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, selectSession+` WHERE id = $1`, id))
	if pg.IsNotFoundError(err) {
		return nil, errorx.NewNotFound("upgrade session", id.String())
	}
	return sess, err
}

func (s *Store) FindLiveBySubscriber(ctx context.Context, subscriberID uuid.UUID) (*upgrade.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx,
		selectSession+` WHERE subscriber_id = $1 AND status = ANY($2)`,
		subscriberID, statusStrings(upgrade.LiveStatuses)))
	if pg.IsNotFoundError(err) {
		return nil, errorx.NewNotFound("upgrade session", "live for subscriber "+subscriberID.String())
	}
	return sess, err
}

func (s *Store) ListSessionsBySubscriber(ctx context.Context, subscriberID uuid.UUID) ([]upgrade.Session, error) {
	rows, err := s.pool.Query(ctx,
		selectSession+` WHERE subscriber_id = $1 ORDER BY created_at DESC`, subscriberID)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (s *Store) ListSessionsByStatus(ctx context.Context, status upgrade.Status) ([]upgrade.Session, error) {
	rows, err := s.pool.Query(ctx,
		selectSession+` WHERE status = $1 ORDER BY created_at DESC`, status)
	if err != nil {
		return nil, err
	}
	return collectSessions(rows)
}

func (s *Store) UpdateSession(ctx context.Context, id uuid.UUID, from []upgrade.Status, upd upgrade.SessionUpdate) (*upgrade.Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `
		UPDATE upgrade_sessions SET
			status = $3,
			current_step = COALESCE($4, current_step),
			provider_checkout_id = COALESCE($5, provider_checkout_id),
			attempts_count = attempts_count + $6,
			last_attempt_at = COALESCE($7, last_attempt_at),
			updated_at = now()
		WHERE id = $1 AND status = ANY($2)
		RETURNING id, subscriber_id, jurisdiction, plan_name, billing_cycle,
			amount_cents, currency, status, current_step, attempts_count,
			last_attempt_at, provider_checkout_id, expires_at, created_at, updated_at`,
		id, statusStrings(from), upd.Status, upd.Step, upd.ProviderCheckoutID,
		boolToInt(upd.IncrementAttempts), upd.LastAttemptAt))
	if pg.IsNotFoundError(err) {
		return nil, errorx.NewNotFound("upgrade session", id.String())
	}
	return sess, err
}

func (s *Store) RecordAttempt(ctx context.Context, a *upgrade.Attempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO upgrade_attempts (id, session_id, step, success, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		a.ID, a.SessionID, a.Step, a.Success, a.ErrorMessage, a.CreatedAt)
	return err
}

func (s *Store) ListAttempts(ctx context.Context, sessionID uuid.UUID) ([]upgrade.Attempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, session_id, step, success, error_message, created_at
		FROM upgrade_attempts
		WHERE session_id = $1
		ORDER BY created_at`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []upgrade.Attempt
	for rows.Next() {
		var a upgrade.Attempt
		if err := rows.Scan(&a.ID, &a.SessionID, &a.Step, &a.Success, &a.ErrorMessage, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) SweepExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE upgrade_sessions
		SET status = 'expired', current_step = 'expired', updated_at = now()
		WHERE status = ANY($1) AND expires_at < $2`,
		statusStrings(upgrade.SweepableStatuses), now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) GetPeriod(ctx context.Context, subscriptionID uuid.UUID, start time.Time) (*usage.Period, error) {
	period, err := s.scanPeriod(ctx, s.pool.QueryRow(ctx, `
		SELECT id, subscription_id, subscriber_id, period_start, period_end, created_at, updated_at
		FROM usage_periods
		WHERE subscription_id = $1 AND period_start = $2`, subscriptionID, start))
	if pg.IsNotFoundError(err) {
		return nil, errorx.NewNotFound("usage period", subscriptionID.String())
	}
	return period, err
}

func (s *Store) EnsurePeriod(ctx context.Context, period *usage.Period) (*usage.Period, error) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_periods (id, subscription_id, subscriber_id, period_start,
			period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (subscription_id, period_start) DO NOTHING`,
		period.ID, period.SubscriptionID, period.SubscriberID, period.PeriodStart,
		period.PeriodEnd, period.CreatedAt, period.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s.GetPeriod(ctx, period.SubscriptionID, period.PeriodStart)
}

func (s *Store) IncrementUsage(ctx context.Context, periodID uuid.UUID, dim catalog.Dimension, n int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_counters (period_id, dimension, amount)
		VALUES ($1, $2, $3)
		ON CONFLICT (period_id, dimension) DO UPDATE
		SET amount = usage_counters.amount + EXCLUDED.amount`,
		periodID, dim, n)
	return err
}

func (s *Store) scanPeriod(ctx context.Context, row pgx.Row) (*usage.Period, error) {
	var p usage.Period
	err := row.Scan(&p.ID, &p.SubscriptionID, &p.SubscriberID, &p.PeriodStart,
		&p.PeriodEnd, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT dimension, amount FROM usage_counters WHERE period_id = $1`, p.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	p.Counters = make(map[catalog.Dimension]int64)
	for rows.Next() {
		var dim catalog.Dimension
		var amount int64
		if err := rows.Scan(&dim, &amount); err != nil {
			return nil, err
		}
		p.Counters[dim] = amount
	}
	return &p, rows.Err()
}

func statusStrings[S ~string](in []S) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
