// Package lock implements the fenced, self-renewing distributed mutex that
// CoalescingCache uses for leader election. A single key in the shared
// store (kvstore.Store) is the lock: acquisition is a conditional
// set-if-absent, renewal and release are server-side compare-and-act
// scripts keyed on a random lease token, never a read-modify-write
// round trip from the client.
package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/Krishna8167/pricingcache/internal/kvstore"
	"github.com/Krishna8167/pricingcache/internal/pricingerr"
)

// Defaults per the design's configuration table.
const (
	DefaultTTL         = 60 * time.Second
	DefaultExtendEvery = 2 * time.Second
	keyPrefix          = "lock:"
)

// Options configures a Locker. Zero-valued fields take the package
// defaults in New.
type Options struct {
	TTL         time.Duration
	ExtendEvery time.Duration

	// ExtendRetries is the number of immediate retries the renewer makes
	// within a single tick when the compare-and-extend call returns a store
	// error. With the default of 0 each tick makes one attempt. A tick whose
	// attempts all fail with a store error does not end the lease by itself:
	// the renewer keeps ticking and signals loss only once TTL has elapsed
	// since the last successful extension. A token mismatch is always
	// immediate lease loss.
	ExtendRetries int

	Log zerolog.Logger
}

// Locker grants exclusive execution of a body across all processes for a
// given key, for as long as a concurrent renewer can keep the lease alive.
type Locker struct {
	store kvstore.Store
	opts  Options
}

// New returns a Locker backed by store. Zero-valued fields in opts fall
// back to the package defaults.
func New(store kvstore.Store, opts Options) *Locker {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.ExtendEvery <= 0 {
		opts.ExtendEvery = DefaultExtendEvery
	}
	return &Locker{store: store, opts: opts}
}

// newToken mints a fresh 128-bit lease token, hex-encoded so it round-trips
// through the store as an opaque string.
func newToken() ([]byte, error) {
	var buf [16]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return nil, err
	}
	return []byte(hex.EncodeToString(buf[:])), nil
}

// WithLock grants exclusive execution of body across all processes for key,
// or returns a Lock-kind *pricingerr.Error with LockKind == LockContended if
// the lock is currently held elsewhere.
//
// While body runs, a concurrent renewer keeps the lease alive by resetting
// its TTL every ExtendEvery. If the renewer ever observes that the lease no
// longer belongs to this token — taken over by another holder after a
// presumed expiry during a store outage, or outright stolen — it cancels
// the context passed to body and the lock surfaces a Lock-kind error with
// LockKind == LockLost once body returns. body should treat ctx
// cancellation as a signal to stop work promptly; it is not force-killed.
func (l *Locker) WithLock(ctx context.Context, key string, body func(ctx context.Context) error) error {
	lockKey := keyPrefix + key
	token, err := newToken()
	if err != nil {
		return pricingerr.NewUnexpected("mint lease token", err)
	}

	err = l.store.Set(ctx, lockKey, token, kvstore.SetOptions{TTL: l.opts.TTL, NX: true})
	if errors.Is(err, kvstore.ErrConflict) {
		return pricingerr.NewLock(pricingerr.LockContended, err)
	}
	if err != nil {
		return pricingerr.NewUnexpected("acquire lock", err)
	}

	bodyCtx, cancel := context.WithCancel(ctx)
	lost := make(chan struct{})
	renewerDone := make(chan struct{})
	go l.renew(bodyCtx, lockKey, token, cancel, lost, renewerDone)

	bodyErr := body(bodyCtx)

	// Stop the renewer before release so it never races the delete script.
	cancel()
	<-renewerDone

	// Best-effort release; failures are swallowed, TTL reclaims the key.
	_, _ = l.store.CompareAndDelete(context.Background(), lockKey, token)

	select {
	case <-lost:
		return pricingerr.NewLock(pricingerr.LockLost, bodyErr)
	default:
	}

	return bodyErr
}

// renew extends the lease every ExtendEvery until ctx is canceled (body
// finished, caller canceled, or a prior renew call lost the lease). It runs
// on its own goroutine for the lifetime of WithLock's critical section and
// must not serialize with body: no shared state is touched besides the
// store and the cancellation/lost signals.
func (l *Locker) renew(ctx context.Context, lockKey string, token []byte, cancel context.CancelFunc, lost chan<- struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(l.opts.ExtendEvery)
	defer ticker.Stop()

	lastExtend := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok, err := l.tryExtend(ctx, lockKey, token)
			if err != nil {
				l.opts.Log.Warn().Err(err).Str("key", lockKey).Msg("lock: extend attempt failed")
			}
			if ok {
				lastExtend = time.Now()
				continue
			}

			// Either the compare-and-extend reported a mismatch (another
			// holder has the key) or a store error occurred. A store error
			// is tolerated up to ExtendRetries transient attempts before
			// the wall-clock check below fires; an explicit mismatch is
			// always immediate loss.
			if err == nil || time.Since(lastExtend) >= l.opts.TTL {
				close(lost)
				cancel()
				return
			}
		}
	}
}

// tryExtend performs one compare-and-extend attempt, retrying transient
// store errors up to ExtendRetries times. It returns (true, nil) on a
// successful extension, (false, nil) on an explicit token mismatch (lease
// already taken over), and (false, err) if every retry exhausted with a
// store error.
func (l *Locker) tryExtend(ctx context.Context, lockKey string, token []byte) (bool, error) {
	var lastErr error
	for attempt := 0; attempt <= l.opts.ExtendRetries; attempt++ {
		ok, err := l.store.CompareAndExtend(ctx, lockKey, token, l.opts.TTL)
		if err == nil {
			return ok, nil
		}
		lastErr = err
	}
	return false, lastErr
}
