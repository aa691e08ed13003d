// Package subscription owns the canonical subscription record per subscriber
// and the state machine governing it.
//
// Status changes follow a fixed diagram: active can fall to past_due and
// recover, or end in cancelled or expired; past_due decays to unpaid and then
// expired. Cancelled and expired are absorbing. The invariant "at most one
// active subscription per subscriber" is enforced by uniqueness constraints
// at the storage layer, so concurrent creates surface as ConflictError
// instead of silently duplicating entitlements.
//
// Records live in one of two jurisdictional backends behind a StoreRouter;
// the governing backend is chosen once per operation from the subscriber's
// jurisdiction. All writes go through compare-and-swap on the status column:
// a CAS miss means a concurrent writer moved the record, and the service
// re-reads and re-applies rather than failing outright.
//
// ReconcileFromExternal folds provider-reported state into local records
// keyed by the external correlation id, and recreates records the local
// create path lost. Unknown provider statuses map conservatively to expired.
package subscription
