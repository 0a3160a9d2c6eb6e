// Package store is the keyed store adapter: TTL-bounded keys, atomic
// counters, list queues, and publish/subscribe over Redis. The store is the
// only shared mutable state in the control plane; every in-process cache is
// derived from it and rebuildable.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable wraps store connectivity failures. Callers may retry.
var ErrUnavailable = errors.New("store unavailable")

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("key not found")

// decrFloor decrements a counter but never below zero.
var decrFloor = redis.NewScript(`
local v = redis.call('DECR', KEYS[1])
if v < 0 then
  redis.call('SET', KEYS[1], '0')
  v = 0
end
return v
`)

// Store wraps a Redis client with the small operation surface the fabric
// needs. Values are opaque JSON bytes agreed between writers and readers.
type Store struct {
	client *redis.Client
}

// New connects using a redis:// URL.
func New(redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &Store{client: redis.NewClient(opts)}, nil
}

// NewWithClient wraps an existing client (tests).
func NewWithClient(c *redis.Client) *Store {
	return &Store{client: c}
}

func (s *Store) Close() error { return s.client.Close() }

// Ping verifies connectivity. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return wrap(err)
	}
	return nil
}

// SetTTL writes a key with a TTL. ttl <= 0 means no expiry.
func (s *Store) SetTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return wrap(s.client.Set(ctx, key, value, ttl).Err())
}

// SetNX writes a key only if absent; returns true when written.
func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	return ok, wrap(err)
}

// Get returns the value or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	b, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return b, wrap(err)
}

// Del removes keys.
func (s *Store) Del(ctx context.Context, keys ...string) error {
	return wrap(s.client.Del(ctx, keys...).Err())
}

// Expire refreshes a key's TTL; returns ErrNotFound when the key is gone.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	ok, err := s.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return wrap(err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

// TTL returns the remaining TTL of a key.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	d, err := s.client.TTL(ctx, key).Result()
	return d, wrap(err)
}

// Incr atomically increments a counter.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Incr(ctx, key).Result()
	return n, wrap(err)
}

// DecrFloor atomically decrements a counter, clamped at zero.
func (s *Store) DecrFloor(ctx context.Context, key string) (int64, error) {
	n, err := decrFloor.Run(ctx, s.client, []string{key}).Int64()
	return n, wrap(err)
}

// GetInt reads a counter; missing keys read as zero.
func (s *Store) GetInt(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return n, wrap(err)
}

// LPush appends to the tail of a queue (BRPop consumes the head, so the
// list's right end is the front).
func (s *Store) LPush(ctx context.Context, key string, value []byte) error {
	return wrap(s.client.LPush(ctx, key, value).Err())
}

// RPush inserts at the head of a queue (requeue after a failed delivery).
func (s *Store) RPush(ctx context.Context, key string, value []byte) error {
	return wrap(s.client.RPush(ctx, key, value).Err())
}

// BRPop blocks up to wait for the next queue element; returns ErrNotFound on
// timeout. wait == 0 blocks indefinitely, so callers should bound it.
func (s *Store) BRPop(ctx context.Context, key string, wait time.Duration) ([]byte, error) {
	res, err := s.client.BRPop(ctx, wait, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrap(err)
	}
	// BRPOP returns [key, value].
	return []byte(res[1]), nil
}

// LLen returns queue depth.
func (s *Store) LLen(ctx context.Context, key string) (int64, error) {
	n, err := s.client.LLen(ctx, key).Result()
	return n, wrap(err)
}

// Publish sends a message on a channel.
func (s *Store) Publish(ctx context.Context, channel string, payload []byte) error {
	return wrap(s.client.Publish(ctx, channel, payload).Err())
}

// Subscribe returns a message channel for the named channels and a close
// function. The channel is closed when the subscription ends.
func (s *Store) Subscribe(ctx context.Context, channels ...string) (<-chan string, func()) {
	sub := s.client.Subscribe(ctx, channels...)
	out := make(chan string, 64)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, func() { _ = sub.Close() }
}

// ScanKeys returns all keys matching a glob pattern. Used for small,
// TTL-bounded namespaces only (executor presence).
func (s *Store) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, pattern, 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, wrap(err)
	}
	return keys, nil
}

func wrap(err error) error {
	if err == nil || errors.Is(err, redis.Nil) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}
