// Package follower implements the per-request blocking wait/notify channel
// that lets one leader broadcast a computed value to an arbitrary number of
// concurrent followers for the same cache key.
package follower

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Krishna8167/pricingcache/internal/kvstore"
	"github.com/Krishna8167/pricingcache/internal/pricingerr"
)

const waitersPrefix = "waiters:"

// queueKey returns the private queue name for one follower: waiter:<key>:<uuid>.
func queueKey(key string) string {
	return "waiter:" + key + ":" + uuid.NewString()
}

// Handle is a single follower's registration. Create it, then Wait on it
// exactly once; the private queue is deleted on every exit path.
type Handle struct {
	store    kvstore.Store
	key      string
	queue    string
	log      zerolog.Logger
}

// Create registers a new follower for key: it generates a unique private
// queue name and pushes that name onto the shared waiters list for key.
// Registration completes (the push has returned) before Create returns, so
// a leader draining the waiters list after this call is guaranteed to see
// this follower — modulo the residual lost-wakeup race the design
// documents and intentionally does not "fix": if the leader has already
// finished draining before this push lands, Wait times out and the caller
// falls back to stale data.
func Create(ctx context.Context, store kvstore.Store, key string, log zerolog.Logger) (*Handle, error) {
	q := queueKey(key)
	if err := store.LPush(ctx, waitersPrefix+key, []byte(q)); err != nil {
		return nil, pricingerr.NewUnexpected("register follower", err)
	}
	return &Handle{store: store, key: key, queue: q, log: log}, nil
}

// Wait blocks until the leader publishes a result on this follower's private
// queue, ctx is canceled, or timeout elapses. The private queue is
// best-effort deleted on every exit path (success, timeout, or error), since
// at most one element is ever pushed to it and nothing else will read it.
func (h *Handle) Wait(ctx context.Context, timeout time.Duration) ([]byte, error) {
	defer func() {
		_ = h.store.Del(context.Background(), h.queue)
	}()

	v, err := h.store.BRPop(ctx, h.queue, timeout)
	if errors.Is(err, kvstore.ErrNotFound) {
		h.log.Debug().Str("key", h.key).Str("queue", h.queue).Msg("follower: wait timed out")
		return nil, pricingerr.NewTimeout(pricingerr.TimeoutFollower)
	}
	if err != nil {
		return nil, pricingerr.NewUnexpected("follower wait", err)
	}
	return v, nil
}

// Drain is called by the leader after a successful compute: it repeatedly
// pops a follower queue name from the shared waiters list for key and
// pushes payload onto each one, until the list is empty, then deletes the
// waiters list key as defensive cleanup. Drain never blocks waiting for new
// registrations — it is a snapshot drain of whatever had registered by the
// time the leader finished computing.
func Drain(ctx context.Context, store kvstore.Store, key string, payload []byte, log zerolog.Logger) {
	waitersKey := waitersPrefix + key
	for {
		name, err := store.RPop(ctx, waitersKey)
		if errors.Is(err, kvstore.ErrNotFound) {
			break
		}
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("follower: drain pop failed")
			break
		}
		if err := store.LPush(ctx, string(name), payload); err != nil {
			log.Warn().Err(err).Str("key", key).Str("queue", string(name)).Msg("follower: notify failed")
		}
	}
	_ = store.Del(ctx, waitersKey)
}
