package subscription

import (
	"log/slog"
	"time"
)

// Option configures optional Service settings.
type Option func(*Service)

// WithLogger sets the structured logger. Nil loggers are ignored.
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithFreePlan overrides the zero-cost plan name used for bootstrap.
func WithFreePlan(name string) Option {
	return func(s *Service) {
		if name != "" {
			s.freePlan = name
		}
	}
}

// WithClock injects a time source for tests with fixed time values.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}
