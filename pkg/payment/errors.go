package payment

import "errors"

var (
	ErrMissingAPIKey        = errors.New("payment: provider API key is required")
	ErrMissingWebhookSecret = errors.New("payment: webhook secret is required")
	ErrInvalidEnvironment   = errors.New("payment: invalid provider environment")
	ErrMissingPriceRef      = errors.New("payment: price reference is required")
	ErrNoCheckoutURL        = errors.New("payment: no checkout URL returned from provider")
)
