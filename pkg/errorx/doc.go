// Package errorx defines the error taxonomy shared by every billing core
// package. Each error class carries distinct retry semantics:
//
//   - ConflictError: uniqueness or business-rule violation. Reported to the
//     caller, never retried automatically.
//   - InvalidTransitionError: illegal state change. Idempotent no-op for the
//     reconciliation processor, an error for direct callers.
//   - NotFoundError: missing entity.
//   - UpstreamError: provider or storage I/O failure. Retried with backoff by
//     the webhook delivery path.
//   - SignatureError: failed webhook signature verification. Fatal, never
//     retried, logged as a security event.
//
// Callers classify errors with the Is* helpers rather than type assertions so
// wrapped errors are handled transparently:
//
//	if errorx.IsConflict(err) {
//		// surface to caller, do not retry
//	}
package errorx
