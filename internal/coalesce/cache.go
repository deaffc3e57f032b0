// Package coalesce implements the leader/follower request-coalescing cache:
// the orchestration of fresh-entry lookup, leader election via lock,
// breaker-guarded upstream invocation, follower notification, stale
// fallback, and the local L1 memo layer, described as CoalescingCache in
// the design.
package coalesce

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/Krishna8167/pricingcache/internal/breaker"
	"github.com/Krishna8167/pricingcache/internal/follower"
	"github.com/Krishna8167/pricingcache/internal/kvstore"
	"github.com/Krishna8167/pricingcache/internal/localcache"
	"github.com/Krishna8167/pricingcache/internal/lock"
	"github.com/Krishna8167/pricingcache/internal/pricingerr"
)

// Defaults per the design's configuration table.
const (
	DefaultFreshTTL        = 300 * time.Second
	DefaultStaleTTL        = 900 * time.Second
	DefaultFollowerTimeout = 15 * time.Second
	DefaultMaxRetries      = 2
	DefaultBackoffBase     = 500 * time.Millisecond
	DefaultAPITimeout      = 30 * time.Second

	stalePrefix = "stale:"
)

// Compute is the leader's closure that performs the expensive upstream
// call. Its result is what gets cached and broadcast to followers.
type Compute func(ctx context.Context) ([]byte, error)

// Options configures a Cache.
type Options struct {
	FreshTTL        time.Duration
	StaleTTL        time.Duration
	FollowerTimeout time.Duration
	MaxRetries      int
	BackoffBase     time.Duration
	APITimeout      time.Duration

	Lock    lock.Options
	Breaker breaker.Options

	// L1 is the optional local memo cache consulted before the store on the
	// fast path. Nil disables it; every request then talks to the store
	// directly for FreshEntry, as the design describes.
	L1 *localcache.Cache

	Log zerolog.Logger
}

// Cache is the leader/follower coalescing cache.
type Cache struct {
	store   kvstore.Store
	locker  *lock.Locker
	brk     *breaker.Breaker
	opts    Options
}

// New builds a Cache backed by store. Zero-valued duration/count fields in
// opts fall back to the package defaults.
func New(store kvstore.Store, opts Options) *Cache {
	if opts.FreshTTL <= 0 {
		opts.FreshTTL = DefaultFreshTTL
	}
	if opts.StaleTTL <= 0 {
		opts.StaleTTL = DefaultStaleTTL
	}
	if opts.FollowerTimeout <= 0 {
		opts.FollowerTimeout = DefaultFollowerTimeout
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.APITimeout <= 0 {
		opts.APITimeout = DefaultAPITimeout
	}
	opts.Lock.Log = opts.Log

	return &Cache{
		store:  store,
		locker: lock.New(store, opts.Lock),
		brk:    breaker.New(opts.Breaker),
		opts:   opts,
	}
}

// Fetch returns the fresh value for key, computing it at most once across
// all processes per fresh-TTL window. See the design's CoalescingCache
// algorithm for the exact step ordering this implements.
func (c *Cache) Fetch(ctx context.Context, key string, compute Compute) ([]byte, error) {
	log := c.opts.Log.With().Str("key", key).Logger()

	// Step 1: fast path.
	if v, ok := c.readFresh(ctx, key); ok {
		return v, nil
	}

	// Step 2: breaker open short-circuits straight to fallback.
	if c.brk.IsOpen() {
		log.Debug().Msg("coalesce: breaker open, serving stale")
		return c.fallback(ctx, key)
	}

	// Step 3: attempt leader election.
	var result []byte
	lockErr := c.locker.WithLock(ctx, key, func(ctx context.Context) error {
		// 3a: double-checked locking.
		if v, ok := c.readFresh(ctx, key); ok {
			result = v
			return nil
		}

		// 3b: breaker-guarded compute with a hard timeout.
		v, err := c.computeUnderBreaker(ctx, compute)
		if err != nil {
			return err
		}

		// 3c: write fresh + stale.
		if err := c.writeEntries(ctx, key, v); err != nil {
			log.Warn().Err(err).Msg("coalesce: cache write failed")
		}

		// 3d: drain waiters.
		follower.Drain(context.Background(), c.store, key, v, log)

		result = v
		return nil
	})

	if lockErr == nil {
		return result, nil
	}

	kind, _ := pricingerr.KindOf(lockErr)
	switch kind {
	case pricingerr.Lock:
		var lockKindErr *pricingerr.Error
		errors.As(lockErr, &lockKindErr)
		if lockKindErr.LockKind == pricingerr.LockContended {
			// Step 4: follower branch, with retry.
			return c.followWithRetry(ctx, key, log)
		}
		// Lease lost mid-body. Any compute-related failure that happened
		// before the lease was lost was already recorded by the breaker's
		// own Call accounting; nothing further to record here.
		return c.fallback(ctx, key)

	case pricingerr.API:
		// Falls back to stale before surfacing, per spec.md §8 scenario 5:
		// a cold-key ApiError with no stale entry must surface as
		// ServiceUnavailable, not the raw upstream status code. The
		// upstream status is only observable indirectly, via the breaker
		// failure it already recorded.
		if v, ferr := c.fallback(ctx, key); ferr == nil {
			return v, nil
		}
		return nil, pricingerr.NewServiceUnavailable()

	case pricingerr.BreakerOpen:
		// preCheck rejected the call before body ever ran; the breaker is
		// already Open, so there is nothing further to record here (see
		// breaker.RecordFailure, which would otherwise restamp
		// lastFailureTime and push back Open->HalfOpen eligibility under
		// concurrent traffic).
		return c.fallback(ctx, key)

	default:
		// Timeout (upstream watchdog) and Unexpected failures were already
		// recorded by breaker.Call when compute's body returned them.
		return c.fallback(ctx, key)
	}
}

// readFresh reads FreshEntry, consulting the optional L1 memo first.
func (c *Cache) readFresh(ctx context.Context, key string) ([]byte, bool) {
	if c.opts.L1 != nil {
		if v, ok := c.opts.L1.Get(key); ok {
			return v, true
		}
	}

	v, err := c.store.Get(ctx, key)
	if err != nil {
		return nil, false
	}
	if c.opts.L1 != nil {
		c.opts.L1.Set(key, v, c.opts.FreshTTL)
	}
	return v, true
}

// computeUnderBreaker wraps compute with a hard API_TIMEOUT watchdog; a
// timeout counts as a breaker failure, exactly as a compute error would.
func (c *Cache) computeUnderBreaker(ctx context.Context, compute Compute) ([]byte, error) {
	var result []byte
	err := c.brk.Call(func() error {
		computeCtx, cancel := context.WithTimeout(ctx, c.opts.APITimeout)
		defer cancel()

		type outcome struct {
			v   []byte
			err error
		}
		done := make(chan outcome, 1)
		go func() {
			v, err := compute(computeCtx)
			done <- outcome{v, err}
		}()

		select {
		case o := <-done:
			if o.err != nil {
				return o.err
			}
			result = o.v
			return nil
		case <-computeCtx.Done():
			return pricingerr.NewTimeout(pricingerr.TimeoutUpstream)
		}
	})

	if err != nil {
		if errors.Is(err, breaker.ErrOpen{}) {
			return nil, pricingerr.NewBreakerOpen()
		}
		var perr *pricingerr.Error
		if errors.As(err, &perr) {
			return nil, perr
		}
		return nil, pricingerr.NewUnexpected("upstream compute failed", err)
	}
	return result, nil
}

// writeEntries writes FreshEntry and StaleEntry together, and refreshes the
// L1 memo (a Set with the same TTL, not a Delete) so the leader's own next
// read observes this generation immediately rather than falling through to
// the store only to repopulate the memo with the same bytes.
func (c *Cache) writeEntries(ctx context.Context, key string, v []byte) error {
	if err := c.store.Set(ctx, key, v, kvstore.SetOptions{TTL: c.opts.FreshTTL}); err != nil {
		return err
	}
	if err := c.store.Set(ctx, stalePrefix+key, v, kvstore.SetOptions{TTL: c.opts.StaleTTL}); err != nil {
		return err
	}
	if c.opts.L1 != nil {
		c.opts.L1.Set(key, v, c.opts.FreshTTL)
	}
	return nil
}

// followWithRetry implements step 4: register as a follower, wait, and on
// timeout retry with exponential backoff up to MaxRetries before falling
// back to stale data.
func (c *Cache) followWithRetry(ctx context.Context, key string, log zerolog.Logger) ([]byte, error) {
	for retry := 0; ; retry++ {
		handle, err := follower.Create(ctx, c.store, key, log)
		if err != nil {
			return c.fallback(ctx, key)
		}

		v, waitErr := handle.Wait(ctx, c.opts.FollowerTimeout)
		if waitErr == nil {
			return v, nil
		}

		kind, _ := pricingerr.KindOf(waitErr)
		if kind != pricingerr.Timeout {
			return c.fallback(ctx, key)
		}

		if retry >= c.opts.MaxRetries {
			log.Debug().Int("retries", retry).Msg("coalesce: follower retries exhausted, falling back")
			return c.fallback(ctx, key)
		}

		backoff := c.opts.BackoffBase * time.Duration(1<<uint(retry))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return c.fallback(ctx, key)
		}
	}
}

// fallback reads StaleEntry and returns it, or ServiceUnavailableError if
// absent.
func (c *Cache) fallback(ctx context.Context, key string) ([]byte, error) {
	v, err := c.store.Get(ctx, stalePrefix+key)
	if err != nil {
		return nil, pricingerr.NewServiceUnavailable()
	}
	return v, nil
}
