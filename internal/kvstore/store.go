// Package kvstore declares the shared key-value store primitives that the
// coalescing cache, distributed lock, and follower channel are built on.
//
// Nothing above this package knows it is talking to Redis. The concrete
// implementation lives in redisstore; a deterministic in-memory fake lives
// in fakestore for tests that need precise control over BRPOP timeouts and
// EVAL semantics without a network round trip.
package kvstore

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist. It is never
// wrapped; callers compare with errors.Is.
var ErrNotFound = errors.New("kvstore: key not found")

// SetOptions configures a conditional Set. TTL of zero means no expiry.
type SetOptions struct {
	TTL time.Duration
	// NX requests set-if-absent semantics: the write only happens if the key
	// does not already hold a value. When NX is true and the key exists,
	// Set returns ErrConflict and leaves the store unchanged.
	NX bool
}

// ErrConflict is returned by Set when NX is requested and the key already exists.
var ErrConflict = errors.New("kvstore: key already exists")

// Store is the capability interface every subsystem in this module depends
// on. It is intentionally narrow: every method here maps to one of the
// primitives enumerated in the external-interfaces section of the design
// (GET, SET NX EX, DEL, LPUSH, RPOP, BRPOP, EVAL), plus PING for the
// readiness probe.
type Store interface {
	// Get returns the value at k, or ErrNotFound if absent.
	Get(ctx context.Context, k string) ([]byte, error)

	// Set writes v at k according to opts. Returns ErrConflict if opts.NX is
	// set and the key already exists.
	Set(ctx context.Context, k string, v []byte, opts SetOptions) error

	// Del deletes zero or more keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// LPush pushes v onto the head of the list at k, creating it if absent.
	LPush(ctx context.Context, k string, v []byte) error

	// RPop pops a value from the tail of the list at k. Returns ErrNotFound
	// if the list is empty or absent.
	RPop(ctx context.Context, k string) ([]byte, error)

	// BRPop blocks up to timeout waiting for an element to become available
	// at the tail of the list at k. Returns ErrNotFound on timeout.
	BRPop(ctx context.Context, k string, timeout time.Duration) ([]byte, error)

	// CompareAndExtend atomically resets the TTL on k to ttl iff the value
	// currently stored there equals token. Returns true if the extension
	// applied, false if the token did not match (lease lost or never held).
	CompareAndExtend(ctx context.Context, k string, token []byte, ttl time.Duration) (bool, error)

	// CompareAndDelete atomically deletes k iff its value equals token.
	// Returns true if the delete applied.
	CompareAndDelete(ctx context.Context, k string, token []byte) (bool, error)

	// Ping verifies connectivity, used by the readiness probe.
	Ping(ctx context.Context) error
}
