package reconcile

import "log/slog"

// Option configures optional Processor dependencies.
type Option func(*Processor)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Processor) {
		if log != nil {
			p.log = log
		}
	}
}
