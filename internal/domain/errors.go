package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind classifies a domain error into a stable, machine-readable category.
// The transport layer maps kinds to status codes; the core never decides those.
type ErrorKind string

const (
	// KindValidation indicates malformed or invalid input, caught at
	// value-object construction
	KindValidation ErrorKind = "validation"
	// KindNotFound indicates a referenced entity is absent or soft-deleted
	KindNotFound ErrorKind = "not_found"
	// KindConflict indicates a uniqueness or optimistic-lock violation
	KindConflict ErrorKind = "conflict"
	// KindLimitExceeded indicates a tier/quota ceiling was reached
	KindLimitExceeded ErrorKind = "limit_exceeded"
	// KindRateLimited indicates the hourly rate-limit bucket ceiling was reached
	KindRateLimited ErrorKind = "rate_limited"
	// KindInvalidTransition indicates a delivery state machine violation.
	// This is always a local programming/integration error, never retried.
	KindInvalidTransition ErrorKind = "invalid_transition"
	// KindInfra indicates a persistence or transport failure below the domain
	KindInfra ErrorKind = "infra"
)

// Error is the typed failure surfaced by the core. Callers above the core see
// only domain-meaningful kinds, never raw storage errors.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewValidationError creates a validation error
func NewValidationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NewNotFoundError creates a not-found error for an entity reference
func NewNotFoundError(entity, id string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s not found", entity, id)}
}

// NewConflictError creates a conflict error
func NewConflictError(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// NewLimitExceededError creates a limit-exceeded error
func NewLimitExceededError(format string, args ...any) *Error {
	return &Error{Kind: KindLimitExceeded, Message: fmt.Sprintf(format, args...)}
}

// NewInvalidTransitionError creates an invalid-transition error
func NewInvalidTransitionError(from, to DeliveryStatus) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("delivery transition %s -> %s is not permitted", from, to),
	}
}

// NewInfraError wraps a lower-layer failure with operation context
func NewInfraError(op string, err error) *Error {
	return &Error{Kind: KindInfra, Message: op, Err: err}
}

// RateLimitError is raised when an endpoint's hourly bucket ceiling is
// reached. It carries limit/current/reset so the caller can render
// retry-after semantics. Rate limiting is an expected, frequent outcome,
// not a failure of the system.
type RateLimitError struct {
	Limit   int
	Current int
	ResetAt time.Time
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: %d/%d this hour, resets at %s",
		e.Current, e.Limit, e.ResetAt.Format(time.RFC3339))
}

// Remaining returns how many events may still be admitted in the current
// bucket. Never negative.
func (e *RateLimitError) Remaining() int {
	if e.Current >= e.Limit {
		return 0
	}
	return e.Limit - e.Current
}

// KindOf extracts the domain error kind from an error chain. Rate-limit
// errors report KindRateLimited; anything outside the taxonomy is KindInfra.
func KindOf(err error) ErrorKind {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return KindRateLimited
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInfra
}

// IsKind reports whether err carries the given domain error kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsNotFound reports whether err is a not-found domain error
func IsNotFound(err error) bool {
	return IsKind(err, KindNotFound)
}
