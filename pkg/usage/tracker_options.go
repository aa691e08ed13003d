package usage

import (
	"log/slog"
	"time"
)

// TrackerOption configures optional Tracker dependencies.
type TrackerOption func(*Tracker)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		if log != nil {
			t.log = log
		}
	}
}

// WithClock overrides the time source, used in tests.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}
