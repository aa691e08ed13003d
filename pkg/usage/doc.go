// Package usage tracks per-dimension consumption against plan limits.
//
// Counters accumulate in billing-period rows created lazily from the active
// subscription's current period, so rollover is free: when a new billing
// period starts the next check opens a fresh row and counters start at zero.
// Which dimensions are metered depends on the jurisdiction.
//
// Quota checks are authoritative and may fail; increments are best-effort
// and never fail, so a storage hiccup degrades to over-serving rather than
// blocking subscribers.
package usage
