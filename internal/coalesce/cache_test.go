package coalesce

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krishna8167/pricingcache/internal/breaker"
	"github.com/Krishna8167/pricingcache/internal/kvstore"
	"github.com/Krishna8167/pricingcache/internal/kvstore/fakestore"
	"github.com/Krishna8167/pricingcache/internal/lock"
	"github.com/Krishna8167/pricingcache/internal/pricingerr"
)

func newTestCache(store *fakestore.Store, opts Options) *Cache {
	return New(store, opts)
}

func TestFetchComputesOnceAndServesFreshOnSecondCall(t *testing.T) {
	store := fakestore.New()
	c := newTestCache(store, Options{FollowerTimeout: 200 * time.Millisecond, Log: zerolog.Nop()})

	var calls int32
	compute := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		return []byte("value"), nil
	}

	v1, err := c.Fetch(context.Background(), "k", compute)
	require.NoError(t, err)
	assert.Equal(t, "value", string(v1))

	v2, err := c.Fetch(context.Background(), "k", compute)
	require.NoError(t, err)
	assert.Equal(t, "value", string(v2))

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "second fetch should hit the fresh entry, not recompute")
}

func TestFetchCoalescesConcurrentStampede(t *testing.T) {
	store := fakestore.New()
	c := newTestCache(store, Options{
		FollowerTimeout: time.Second,
		Lock:            lock.Options{TTL: time.Second, ExtendEvery: 20 * time.Millisecond},
		Log:             zerolog.Nop(),
	})

	var calls int32
	release := make(chan struct{})
	compute := func(ctx context.Context) ([]byte, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return []byte("value"), nil
	}

	const n = 10
	results := make([][]byte, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Fetch(context.Background(), "stampede", compute)
		}(i)
	}

	// Give every goroutine a chance to register as either leader or follower
	// before the leader's compute is allowed to finish.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "only one goroutine should have reached compute")
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "value", string(results[i]))
	}
}

func TestFetchBreakerOpenFallsBackToStale(t *testing.T) {
	store := fakestore.New()
	c := newTestCache(store, Options{
		FollowerTimeout: 200 * time.Millisecond,
		Lock:            lock.Options{TTL: time.Second, ExtendEvery: 20 * time.Millisecond},
		Breaker:         breaker.Options{Threshold: 1, Timeout: time.Minute},
		Log:             zerolog.Nop(),
	})
	require.NoError(t, store.Set(context.Background(), stalePrefix+"k", []byte("stale-value"), kvstore.SetOptions{TTL: time.Hour}))

	// Force the breaker open with one failing compute. A stale entry exists,
	// so this first call still succeeds via fallback; what matters is that
	// it also tripped the breaker.
	boom := errors.New("upstream down")
	v0, err := c.Fetch(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return nil, boom
	})
	require.NoError(t, err)
	assert.Equal(t, "stale-value", string(v0))
	assert.True(t, c.brk.IsOpen())

	// Next call must short-circuit straight to stale without invoking compute.
	called := false
	v, err := c.Fetch(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		called = true
		return []byte("should not run"), nil
	})
	require.NoError(t, err)
	assert.False(t, called)
	assert.Equal(t, "stale-value", string(v))
}

func TestFetchNoStaleAndBreakerOpenReturnsServiceUnavailable(t *testing.T) {
	store := fakestore.New()
	c := newTestCache(store, Options{
		FollowerTimeout: 200 * time.Millisecond,
		Breaker:         breaker.Options{Threshold: 1, Timeout: time.Minute},
		Log:             zerolog.Nop(),
	})

	boom := errors.New("upstream down")
	_, err := c.Fetch(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return nil, boom
	})
	require.Error(t, err)

	_, err = c.Fetch(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return nil, boom
	})
	require.Error(t, err)
	kind, ok := pricingerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, pricingerr.ServiceUnavailable, kind)
}

func TestFetchFollowerTimesOutAndFallsBackAfterRetries(t *testing.T) {
	store := fakestore.New()
	c := newTestCache(store, Options{
		FollowerTimeout: 20 * time.Millisecond,
		MaxRetries:      1,
		BackoffBase:     5 * time.Millisecond,
		Lock:            lock.Options{TTL: time.Second, ExtendEvery: 10 * time.Millisecond},
		Log:             zerolog.Nop(),
	})
	require.NoError(t, store.Set(context.Background(), stalePrefix+"k", []byte("stale-value"), kvstore.SetOptions{TTL: time.Hour}))

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = c.locker.WithLock(context.Background(), "k", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	v, err := c.Fetch(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		t.Fatal("follower branch must not invoke compute")
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "stale-value", string(v))

	close(release)
}

func TestFetchAPIErrorFallsBackToStaleWhenPresent(t *testing.T) {
	store := fakestore.New()
	c := newTestCache(store, Options{
		FollowerTimeout: 200 * time.Millisecond,
		Lock:            lock.Options{TTL: time.Second, ExtendEvery: 20 * time.Millisecond},
		Log:             zerolog.Nop(),
	})
	require.NoError(t, store.Set(context.Background(), stalePrefix+"k", []byte("stale-value"), kvstore.SetOptions{TTL: time.Hour}))

	apiErr := pricingerr.NewAPI(500, []byte("server error"))
	v, err := c.Fetch(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return nil, apiErr
	})
	require.NoError(t, err, "an ApiError with a stale entry present must fall back, per spec.md §8 scenario 4/5")
	assert.Equal(t, "stale-value", string(v))
}

func TestFetchAPIErrorWithNoStaleSurfacesServiceUnavailable(t *testing.T) {
	store := fakestore.New()
	c := newTestCache(store, Options{
		FollowerTimeout: 200 * time.Millisecond,
		Lock:            lock.Options{TTL: time.Second, ExtendEvery: 20 * time.Millisecond},
		Log:             zerolog.Nop(),
	})

	apiErr := pricingerr.NewAPI(500, []byte("server error"))
	_, err := c.Fetch(context.Background(), "k", func(ctx context.Context) ([]byte, error) {
		return nil, apiErr
	})
	require.Error(t, err)
	kind, ok := pricingerr.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, pricingerr.ServiceUnavailable, kind, "cold-key ApiError with no stale entry must surface as ServiceUnavailable, per spec.md §8 scenario 5")
}
