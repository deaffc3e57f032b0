// Package pricingerr defines the tagged error variants that flow out of the
// coalescing cache and its collaborators. The HTTP layer pattern-matches on
// Kind to choose a status code; nothing above this package needs to know
// about Redis, lease tokens, or breaker internals.
package pricingerr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error for the purpose of HTTP status mapping and
// cache-layer recovery decisions.
type Kind int

const (
	// Unexpected covers anything not otherwise classified. Logged, surfaces
	// as 500.
	Unexpected Kind = iota
	// Validation is a malformed or missing request parameter. Never reaches
	// the core; surfaces as 400.
	Validation
	// API is a non-2xx response from the upstream oracle. Counts as a
	// breaker failure. The coalescing cache runs it through its stale
	// fallback, so a client sees stale data or ServiceUnavailable; the HTTP
	// layer maps an API error that does reach it to the upstream status code.
	API
	// BreakerOpen means the call was rejected locally without an attempt.
	// Triggers fallback; surfaces as 503 if no stale entry exists.
	BreakerOpen
	// Lock covers acquisition failure and lease loss mid-body.
	Lock
	// Timeout covers follower wait and upstream watchdog timeouts.
	Timeout
	// ServiceUnavailable means no fresh data, no stale data, recovery
	// exhausted. Surfaces as 503.
	ServiceUnavailable
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case API:
		return "api"
	case BreakerOpen:
		return "breaker_open"
	case Lock:
		return "lock"
	case Timeout:
		return "timeout"
	case ServiceUnavailable:
		return "service_unavailable"
	default:
		return "unexpected"
	}
}

// LockKind distinguishes why a Lock-kind Error was raised.
type LockKind int

const (
	// LockContended means acquisition failed because another process holds
	// the lease; the caller should become a follower.
	LockContended LockKind = iota
	// LockLost means the lease was taken over by another holder while body
	// was still running.
	LockLost
)

// TimeoutPhase distinguishes where a Timeout-kind Error originated.
type TimeoutPhase int

const (
	// TimeoutFollower is a follower's Wait() exceeding its configured budget.
	TimeoutFollower TimeoutPhase = iota
	// TimeoutUpstream is the compute watchdog (API_TIMEOUT) firing.
	TimeoutUpstream
)

// Error is the tagged error type every subsystem in this module returns
// instead of a bespoke exception hierarchy.
type Error struct {
	Kind Kind

	// APICode is set when Kind == API: the upstream HTTP status.
	APICode int
	// APIBody is set when Kind == API: the raw upstream response body, kept
	// for logging and for ApiError{code, body} parity with the design.
	APIBody []byte

	// LockKind is set when Kind == Lock.
	LockKind LockKind

	// TimeoutPhase is set when Kind == Timeout.
	TimeoutPhase TimeoutPhase

	// Msg is a human-readable detail, used for Unexpected and logging.
	Msg string
	// Cause, if non-nil, is wrapped for errors.Is/As and error chains.
	Cause error
}

func (e *Error) Error() string {
	switch e.Kind {
	case API:
		return fmt.Sprintf("pricingerr: upstream returned %d", e.APICode)
	case BreakerOpen:
		return "pricingerr: breaker open"
	case Lock:
		if e.LockKind == LockLost {
			return "pricingerr: lock lease lost"
		}
		return "pricingerr: lock contended"
	case Timeout:
		if e.TimeoutPhase == TimeoutUpstream {
			return "pricingerr: upstream call timed out"
		}
		return "pricingerr: follower wait timed out"
	case ServiceUnavailable:
		return "pricingerr: service unavailable"
	case Validation:
		return fmt.Sprintf("pricingerr: validation: %s", e.Msg)
	default:
		if e.Msg != "" {
			return fmt.Sprintf("pricingerr: %s", e.Msg)
		}
		return "pricingerr: unexpected error"
	}
}

func (e *Error) Unwrap() error { return e.Cause }

// NewAPI builds an API-kind Error.
func NewAPI(code int, body []byte) *Error {
	return &Error{Kind: API, APICode: code, APIBody: body}
}

// NewBreakerOpen builds a BreakerOpen-kind Error.
func NewBreakerOpen() *Error {
	return &Error{Kind: BreakerOpen}
}

// NewLock builds a Lock-kind Error.
func NewLock(kind LockKind, cause error) *Error {
	return &Error{Kind: Lock, LockKind: kind, Cause: cause}
}

// NewTimeout builds a Timeout-kind Error.
func NewTimeout(phase TimeoutPhase) *Error {
	return &Error{Kind: Timeout, TimeoutPhase: phase}
}

// NewServiceUnavailable builds a ServiceUnavailable-kind Error.
func NewServiceUnavailable() *Error {
	return &Error{Kind: ServiceUnavailable}
}

// NewValidation builds a Validation-kind Error.
func NewValidation(msg string) *Error {
	return &Error{Kind: Validation, Msg: msg}
}

// NewUnexpected wraps cause as an Unexpected-kind Error.
func NewUnexpected(msg string, cause error) *Error {
	return &Error{Kind: Unexpected, Msg: msg, Cause: cause}
}

// KindOf returns the Kind of err if it is (or wraps) a *Error, and
// (Unexpected, false) otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return Unexpected, false
}
