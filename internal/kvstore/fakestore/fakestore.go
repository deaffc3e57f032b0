// Package fakestore provides a deterministic in-memory kvstore.Store for
// unit tests that need precise control over BRPOP blocking/timeout
// semantics without depending on a real Redis connection. Integration
// tests that want to exercise actual Redis wire behavior (EVAL, EXPIRE)
// should use miniredis + redisstore instead; fakestore exists for the
// pure-unit tier where a network round trip would be noise.
package fakestore

import (
	"context"
	"sync"
	"time"

	"github.com/Krishna8167/pricingcache/internal/kvstore"
)

type entry struct {
	value   []byte
	expires time.Time // zero means no expiry
}

type list struct {
	elems [][]byte
}

// Store is a single-process, mutex-guarded kvstore.Store. Expiry is lazy:
// a key past its deadline is treated as absent on the next access, there is
// no background janitor here (the real store's TTL reclamation is Redis's
// job; this fake only needs to be correct, not efficient).
type Store struct {
	mu     sync.Mutex
	cond   *sync.Cond
	values map[string]entry
	lists  map[string]*list
}

// New returns a ready-to-use fake store.
func New() *Store {
	s := &Store{
		values: make(map[string]entry),
		lists:  make(map[string]*list),
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *Store) expiredLocked(k string) bool {
	e, ok := s.values[k]
	if !ok {
		return true
	}
	if !e.expires.IsZero() && time.Now().After(e.expires) {
		delete(s.values, k)
		return true
	}
	return false
}

func (s *Store) Get(ctx context.Context, k string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiredLocked(k) {
		return nil, kvstore.ErrNotFound
	}
	return append([]byte(nil), s.values[k].value...), nil
}

func (s *Store) Set(ctx context.Context, k string, v []byte, opts kvstore.SetOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if opts.NX && !s.expiredLocked(k) {
		return kvstore.ErrConflict
	}

	var exp time.Time
	if opts.TTL > 0 {
		exp = time.Now().Add(opts.TTL)
	}
	s.values[k] = entry{value: append([]byte(nil), v...), expires: exp}
	return nil
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
		delete(s.lists, k)
	}
	return nil
}

func (s *Store) LPush(ctx context.Context, k string, v []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.lists[k]
	if !ok {
		l = &list{}
		s.lists[k] = l
	}
	l.elems = append([][]byte{append([]byte(nil), v...)}, l.elems...)
	s.cond.Broadcast()
	return nil
}

// popTailLocked removes and returns the tail (oldest-pushed) element of the
// list at k. Caller must hold s.mu.
func (s *Store) popTailLocked(k string) ([]byte, bool) {
	l, ok := s.lists[k]
	if !ok || len(l.elems) == 0 {
		return nil, false
	}
	last := len(l.elems) - 1
	v := l.elems[last]
	l.elems = l.elems[:last]
	return v, true
}

func (s *Store) RPop(ctx context.Context, k string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.popTailLocked(k)
	if !ok {
		return nil, kvstore.ErrNotFound
	}
	return v, nil
}

// BRPop blocks until an element is available, ctx is canceled, or timeout
// elapses. Unlike Redis, a timeout of 0 does not wait forever: with an
// empty list, a non-positive timeout returns ErrNotFound at once.
func (s *Store) BRPop(ctx context.Context, k string, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if v, ok := s.popTailLocked(k); ok {
			return v, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, kvstore.ErrNotFound
		}

		// sync.Cond has no timed wait, so a watchdog goroutine wakes the
		// condition once the deadline or context passes.
		timer := time.AfterFunc(remaining, func() {
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		})
		stopWatch := context.AfterFunc(ctx, func() {
			s.mu.Lock()
			s.cond.Broadcast()
			s.mu.Unlock()
		})
		s.cond.Wait()
		timer.Stop()
		stopWatch()
	}
}

func (s *Store) CompareAndExtend(ctx context.Context, k string, token []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiredLocked(k) {
		return false, nil
	}
	e := s.values[k]
	if string(e.value) != string(token) {
		return false, nil
	}
	e.expires = time.Now().Add(ttl)
	s.values[k] = e
	return true, nil
}

func (s *Store) CompareAndDelete(ctx context.Context, k string, token []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiredLocked(k) {
		return false, nil
	}
	if string(s.values[k].value) != string(token) {
		return false, nil
	}
	delete(s.values, k)
	return true, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return nil
}
