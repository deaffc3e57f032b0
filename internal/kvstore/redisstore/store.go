// Package redisstore implements kvstore.Store over a Redis connection using
// github.com/redis/go-redis/v9. The two compare-and-act primitives
// (CompareAndExtend, CompareAndDelete) are implemented as fixed Lua scripts
// so the lease-token check happens server-side in one round trip, never as
// a read-modify-write pair from the client.
package redisstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Krishna8167/pricingcache/internal/kvstore"
)

// extendScript resets the TTL on KEYS[1] to ARGV[2] seconds iff the value
// stored there equals ARGV[1]. Returns 1 on success, 0 otherwise.
const extendScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("EXPIRE", KEYS[1], ARGV[2])
end
return 0
`

// deleteScript removes KEYS[1] iff its value equals ARGV[1]. Returns 1 on
// success, 0 otherwise.
const deleteScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`

// Store adapts a *redis.Client (or any redis.UniversalClient, so this also
// works against redis.Ring / redis.ClusterClient) to kvstore.Store.
type Store struct {
	client redis.UniversalClient
	log    zerolog.Logger

	extend *redis.Script
	delete *redis.Script
}

// New wraps client. The logger is kept with a "component" field; no Store
// method logs, so request-path logging is the caller's responsibility.
func New(client redis.UniversalClient, log zerolog.Logger) *Store {
	return &Store{
		client: client,
		log:    log.With().Str("component", "redisstore").Logger(),
		extend: redis.NewScript(extendScript),
		delete: redis.NewScript(deleteScript),
	}
}

func (s *Store) Get(ctx context.Context, k string) ([]byte, error) {
	b, err := s.client.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kvstore.ErrNotFound
	}
	return b, err
}

func (s *Store) Set(ctx context.Context, k string, v []byte, opts kvstore.SetOptions) error {
	if opts.NX {
		ok, err := s.client.SetNX(ctx, k, v, opts.TTL).Result()
		if err != nil {
			return err
		}
		if !ok {
			return kvstore.ErrConflict
		}
		return nil
	}
	return s.client.Set(ctx, k, v, opts.TTL).Err()
}

func (s *Store) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *Store) LPush(ctx context.Context, k string, v []byte) error {
	return s.client.LPush(ctx, k, v).Err()
}

func (s *Store) RPop(ctx context.Context, k string) ([]byte, error) {
	b, err := s.client.RPop(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, kvstore.ErrNotFound
	}
	return b, err
}

func (s *Store) BRPop(ctx context.Context, k string, timeout time.Duration) ([]byte, error) {
	res, err := s.client.BRPop(ctx, timeout, k).Result()
	if errors.Is(err, redis.Nil) {
		return nil, kvstore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	// BRPop returns [key, value].
	if len(res) != 2 {
		return nil, kvstore.ErrNotFound
	}
	return []byte(res[1]), nil
}

func (s *Store) CompareAndExtend(ctx context.Context, k string, token []byte, ttl time.Duration) (bool, error) {
	res, err := s.extend.Run(ctx, s.client, []string{k}, token, int64(ttl.Seconds())).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *Store) CompareAndDelete(ctx context.Context, k string, token []byte) (bool, error) {
	res, err := s.delete.Run(ctx, s.client, []string{k}, token).Int()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
