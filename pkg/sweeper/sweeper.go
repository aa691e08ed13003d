// Package sweeper runs the periodic expiry pass: overdue upgrade sessions
// and subscriptions whose billing period lapsed without renewal are moved to
// expired on both storage backends.
//
// Every pass is idempotent and coordination-free, so multiple replicas may
// run sweepers concurrently; at worst they race to expire the same rows and
// the losers count zero changes.
package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/advogo/billingcore/pkg/jurisdiction"
	"github.com/advogo/billingcore/pkg/subscription"
	"github.com/advogo/billingcore/pkg/upgrade"
)

// Config holds the sweep cadence.
type Config struct {
	// Interval between passes.
	Interval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
}

// Sweeper drives the expiry passes.
type Sweeper struct {
	subs     *subscription.Service
	sessions *upgrade.Service
	interval time.Duration
	log      *slog.Logger
}

// New creates a sweeper. Panics on nil services.
func New(cfg Config, subs *subscription.Service, sessions *upgrade.Service, opts ...Option) *Sweeper {
	if subs == nil {
		panic("sweeper: subscription service is required")
	}
	if sessions == nil {
		panic("sweeper: upgrade service is required")
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	s := &Sweeper{
		subs:     subs,
		sessions: sessions,
		interval: interval,
		log:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var backends = []jurisdiction.Backend{
	jurisdiction.BackendDocument,
	jurisdiction.BackendRelational,
}

// Run sweeps on the configured interval until the context is cancelled. One
// pass runs immediately on start so restarts don't postpone overdue work.
func (s *Sweeper) Run(ctx context.Context) error {
	s.Sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one expiry pass over both backends. Failures on one backend are
// logged and do not stop the other.
func (s *Sweeper) Sweep(ctx context.Context) {
	for _, b := range backends {
		if n, err := s.sessions.SweepExpired(ctx, b); err != nil {
			s.log.ErrorContext(ctx, "session expiry sweep failed",
				slog.String("backend", string(b)), slog.Any("error", err))
		} else if n > 0 {
			s.log.InfoContext(ctx, "expired upgrade sessions",
				slog.String("backend", string(b)), slog.Int64("count", n))
		}

		if n, err := s.subs.ExpireOverdue(ctx, b); err != nil {
			s.log.ErrorContext(ctx, "subscription expiry sweep failed",
				slog.String("backend", string(b)), slog.Any("error", err))
		} else if n > 0 {
			s.log.InfoContext(ctx, "expired overdue subscriptions",
				slog.String("backend", string(b)), slog.Int64("count", n))
		}
	}
}

// Option configures optional Sweeper dependencies.
type Option func(*Sweeper)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(s *Sweeper) {
		if log != nil {
			s.log = log
		}
	}
}
