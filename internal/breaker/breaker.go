// Package breaker implements a thread-safe three-state circuit breaker with
// time-based recovery, guarding the upstream pricing oracle call.
//
// This is hand-rolled rather than built on a third-party FSM (see
// DESIGN.md): the design specifies an exact state table and a public
// surface — call/record_failure/record_success/is_open/reset — that a
// wrapped breaker library would obscure, and the mutex-guarded struct is
// itself the idiom the rest of this module's locking code already follows.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three breaker states.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Defaults per the design's configuration table.
const (
	DefaultThreshold = 5
	DefaultTimeout   = 60 * time.Second
)

// ErrOpen is returned by Call when the breaker rejects the call outright.
type ErrOpen struct{}

func (ErrOpen) Error() string { return "breaker: open" }

// Options configures a Breaker.
type Options struct {
	Threshold int
	Timeout   time.Duration
}

// Breaker is a process-local circuit breaker. All state reads and
// transitions are serialized under mu; mu is never held across body
// execution, only around the pre-check transition and the post-hoc
// recording.
type Breaker struct {
	mu sync.Mutex

	threshold int
	timeout   time.Duration

	state           State
	failureCount    int
	lastFailureTime time.Time
}

// New returns a Breaker in the Closed state.
func New(opts Options) *Breaker {
	if opts.Threshold <= 0 {
		opts.Threshold = DefaultThreshold
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Breaker{threshold: opts.Threshold, timeout: opts.Timeout}
}

// Call executes body under the breaker's protection. If the breaker is Open
// and the recovery timeout has not elapsed, body is never invoked and
// ErrOpen is returned. Otherwise body runs (with the breaker transitioned to
// HalfOpen first if recovery eligibility just triggered), and its outcome is
// recorded.
func (b *Breaker) Call(body func() error) error {
	if !b.preCheck() {
		return ErrOpen{}
	}

	err := body()

	if err != nil {
		b.RecordFailure()
	} else {
		b.RecordSuccess()
	}
	return err
}

// preCheck performs the pre-check transition: Open -> HalfOpen if the
// recovery timeout has elapsed, or a rejection if it hasn't. Returns true if
// the call should proceed.
func (b *Breaker) preCheck() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if time.Since(b.lastFailureTime) >= b.timeout {
			b.state = HalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess records a successful call. Call uses it after body
// succeeds; it is exported so callers that do not route a call through
// Call can still feed the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.failureCount = 0
}

// RecordFailure records a failed call. Call uses it after body fails; it
// is exported for the same reason as RecordSuccess.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case HalfOpen:
		b.state = Open
		b.lastFailureTime = time.Now()
	case Open:
		// Already open: a precheck-rejected call recording itself as a
		// failure (or any other caller double-recording) must not restamp
		// lastFailureTime, or concurrent traffic against an open breaker
		// would push Open->HalfOpen eligibility out indefinitely.
	default:
		b.failureCount++
		if b.failureCount >= b.threshold {
			b.state = Open
			b.lastFailureTime = time.Now()
		}
	}
}

// IsOpen returns a consistent snapshot of whether the breaker currently
// rejects calls outright (Open and not yet eligible for HalfOpen).
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state == Open && time.Since(b.lastFailureTime) < b.timeout
}

// State returns a consistent snapshot of the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker to Closed with a zero failure count. Idempotent.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = Closed
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
}
