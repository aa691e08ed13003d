// Package upgrade implements the plan-upgrade workflow as a persisted state
// machine: a subscriber opens a session, walks a forward-only step cursor
// from plan selection to confirmation, and pays through a hosted provider
// checkout whose completion arrives asynchronously over webhooks.
//
// A subscriber holds at most one live session at a time; storage uniqueness
// enforces the slot, so concurrent creates surface as ConflictError rather
// than racing. Status changes go through compare-and-swap updates and
// terminal transitions are idempotent, which lets webhook redelivery and the
// expiry sweeper run without coordination.
//
// Usage:
//
//	svc := upgrade.NewService(stores, resolver, plans, provider)
//
//	session, err := svc.CreateSession(ctx, subscriber, "Pro", catalog.CycleMonthly, price)
//	if err != nil { ... }
//
//	checkout, session, err := svc.StartCheckout(ctx, subscriber, session, email, returnURL)
//	// redirect the subscriber to checkout.URL; the webhook processor
//	// completes the session when payment confirmation arrives.
package upgrade
