// Package catalog provides the read-only plan catalog consumed by the
// billing core: commercial tiers per jurisdiction with prices, metered-
// dimension limits and payment-provider correlation ids.
//
// Plans are loaded once from a Source (static for tests, YAML for
// deployments) into an immutable in-memory snapshot. An optional Redis
// read-through decorator (CachedReader) serves multi-instance deployments;
// it is injected and key-scoped rather than a process-wide map, and cache
// failures fall back to the catalog with a warning.
//
// A nil limit means unlimited, as does the plan-wide IsUnlimited flag; the
// zero-cost tier is identified by IsFree and excluded from upgrade listings.
package catalog
