// Package redis provides a Redis implementation of the lock.Locker interface.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"lra/lock"
)

// Ensure RedisLocker implements lock.Locker
var _ lock.Locker = (*RedisLocker)(nil)

// Ensure redisLease implements lock.Lease
var _ lock.Lease = (*redisLease)(nil)

// extendScript pushes the expiry only while the caller still owns the key.
var extendScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("PEXPIRE", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// releaseScript deletes the key only while the caller still owns it.
var releaseScript = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	else
		return 0
	end
`)

// RedisLocker implements leases with SET NX PX and token-checked scripts.
type RedisLocker struct {
	client redis.Cmdable
	prefix string
}

// Option is a functional option for configuring RedisLocker
type Option func(*RedisLocker)

// WithPrefix sets the key prefix for locks
func WithPrefix(prefix string) Option {
	return func(l *RedisLocker) {
		l.prefix = prefix
	}
}

// NewRedisLocker creates a new Redis-based locker
func NewRedisLocker(client redis.Cmdable, opts ...Option) *RedisLocker {
	l := &RedisLocker{
		client: client,
		prefix: "lra:lock:",
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// TryLock takes the lease on key. The lease expires after ttl unless extended.
func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (lock.Lease, error) {
	if key == "" {
		return nil, lock.ErrEmptyKey
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.prefix+key, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", key, err)
	}
	if !ok {
		return nil, lock.ErrLocked
	}

	return &redisLease{
		client: l.client,
		key:    key,
		full:   l.prefix + key,
		token:  token,
	}, nil
}

// redisLease is one lease held in Redis
type redisLease struct {
	client redis.Cmdable
	key    string
	full   string
	token  string
}

func (h *redisLease) Key() string {
	return h.key
}

// Extend pushes the expiry while the token still owns the key
func (h *redisLease) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, h.client, []string{h.full}, h.token, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", h.key, err)
	}
	if n == 0 {
		return lock.ErrNotHeld
	}
	return nil
}

// Release deletes the key while the token still owns it
func (h *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, h.client, []string{h.full}, h.token).Err(); err != nil {
		return fmt.Errorf("release lock %s: %w", h.key, err)
	}
	return nil
}
