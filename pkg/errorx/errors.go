package errorx

import (
	"errors"
	"fmt"
)

// ConflictError indicates a uniqueness or business-rule violation, such as a
// second active subscription for the same subscriber. Conflicts are reported
// to the caller and must not be retried blindly.
type ConflictError struct {
	Entity string
	Key    string
}

func (e *ConflictError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s already exists", e.Entity)
	}
	return fmt.Sprintf("%s already exists for %s", e.Entity, e.Key)
}

func NewConflict(entity, key string) *ConflictError {
	return &ConflictError{Entity: entity, Key: key}
}

// NotFoundError indicates a missing entity.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s not found", e.Entity)
	}
	return fmt.Sprintf("%s not found: %s", e.Entity, e.Key)
}

func NewNotFound(entity, key string) *NotFoundError {
	return &NotFoundError{Entity: entity, Key: key}
}

// InvalidTransitionError indicates an illegal state change. Direct API callers
// receive it as an error; the reconciliation processor treats it as an
// idempotent no-op.
type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s transition from '%s' to '%s'", e.Entity, e.From, e.To)
}

func NewInvalidTransition(entity, from, to string) *InvalidTransitionError {
	return &InvalidTransitionError{Entity: entity, From: from, To: to}
}

// UpstreamError wraps a payment-provider or storage I/O failure. Safe to retry
// with backoff because the operations it wraps are idempotent.
type UpstreamError struct {
	Op  string
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream failure in %s: %v", e.Op, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func NewUpstream(op string, err error) *UpstreamError {
	return &UpstreamError{Op: op, Err: err}
}

// SignatureError indicates a webhook payload that failed signature
// verification. Fatal: never retried, logged as a security event.
type SignatureError struct {
	Err error
}

func (e *SignatureError) Error() string {
	return fmt.Sprintf("webhook signature verification failed: %v", e.Err)
}

func (e *SignatureError) Unwrap() error {
	return e.Err
}

func NewSignature(err error) *SignatureError {
	return &SignatureError{Err: err}
}

func IsConflict(err error) bool {
	var e *ConflictError
	return errors.As(err, &e)
}

func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

func IsInvalidTransition(err error) bool {
	var e *InvalidTransitionError
	return errors.As(err, &e)
}

func IsUpstream(err error) bool {
	var e *UpstreamError
	return errors.As(err, &e)
}

func IsSignature(err error) bool {
	var e *SignatureError
	return errors.As(err, &e)
}
