package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Krishna8167/pricingcache/internal/kvstore"
	"github.com/Krishna8167/pricingcache/internal/kvstore/fakestore"
	"github.com/Krishna8167/pricingcache/internal/pricingerr"
)

func TestWithLockRunsBodyExclusively(t *testing.T) {
	store := fakestore.New()
	l := New(store, Options{TTL: time.Second, ExtendEvery: 50 * time.Millisecond, Log: zerolog.Nop()})

	ran := false
	err := l.WithLock(context.Background(), "k", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestWithLockContendedReturnsLockContended(t *testing.T) {
	store := fakestore.New()
	l := New(store, Options{TTL: time.Second, ExtendEvery: 10 * time.Millisecond, Log: zerolog.Nop()})

	started := make(chan struct{})
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = l.WithLock(context.Background(), "k", func(ctx context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := l.WithLock(context.Background(), "k", func(ctx context.Context) error {
		t.Fatal("body must not run while lock is held")
		return nil
	})
	require.Error(t, err)
	var perr *pricingerr.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, pricingerr.Lock, perr.Kind)
	assert.Equal(t, pricingerr.LockContended, perr.LockKind)

	close(release)
	wg.Wait()
}

func TestWithLockReleasedAllowsReacquisition(t *testing.T) {
	store := fakestore.New()
	l := New(store, Options{TTL: time.Second, ExtendEvery: 10 * time.Millisecond, Log: zerolog.Nop()})

	require.NoError(t, l.WithLock(context.Background(), "k", func(ctx context.Context) error {
		return nil
	}))

	ran := false
	err := l.WithLock(context.Background(), "k", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)
}

func TestWithLockPropagatesBodyError(t *testing.T) {
	store := fakestore.New()
	l := New(store, Options{TTL: time.Second, ExtendEvery: 10 * time.Millisecond, Log: zerolog.Nop()})

	boom := errors.New("boom")
	err := l.WithLock(context.Background(), "k", func(ctx context.Context) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestWithLockRenewsLeaseAcrossMultipleTicks(t *testing.T) {
	store := fakestore.New()
	l := New(store, Options{TTL: 80 * time.Millisecond, ExtendEvery: 20 * time.Millisecond, Log: zerolog.Nop()})

	err := l.WithLock(context.Background(), "k", func(ctx context.Context) error {
		time.Sleep(150 * time.Millisecond)
		select {
		case <-ctx.Done():
			t.Fatal("lease should have been kept alive by the renewer")
		default:
		}
		return nil
	})
	require.NoError(t, err)
}

func TestWithLockDetectsLeaseLostToOtherHolder(t *testing.T) {
	store := fakestore.New()
	l := New(store, Options{TTL: 30 * time.Millisecond, ExtendEvery: 10 * time.Millisecond, Log: zerolog.Nop()})

	err := l.WithLock(context.Background(), "k", func(ctx context.Context) error {
		// Simulate the lease key being stolen out from under the renewer:
		// directly overwrite the store's value once the body has started.
		time.Sleep(15 * time.Millisecond)
		_ = store.Del(context.Background(), "lock:k")
		require.NoError(t, store.Set(context.Background(), "lock:k", []byte("other-token"), kvstore.SetOptions{TTL: time.Second}))
		<-ctx.Done()
		return nil
	})

	var perr *pricingerr.Error
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, pricingerr.LockLost, perr.LockKind)
}
