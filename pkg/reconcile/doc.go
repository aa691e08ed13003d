// Package reconcile folds signature-verified payment-provider events into
// local billing state: checkout completions close upgrade sessions and
// activate the paid subscription, subscription lifecycle events converge the
// local record onto the provider's view, and payment failures drive dunning.
//
// Providers deliver events at least once with no ordering guarantee. The
// processor therefore treats duplicates and late arrivals as no-ops and
// lets terminal local states win over stale events; only genuine upstream
// failures bubble out so delivery can be retried.
package reconcile
