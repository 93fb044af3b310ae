package lock

import (
	"context"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ledgerline/procurement-core/internal/errors"
)

// RedisOptions tunes lock acquisition. Zero values fall back to defaults
// suited to short state transitions: locks expire well after any single
// transition completes, and waiters retry long enough to ride out a
// contending transition instead of failing immediately.
type RedisOptions struct {
	Expiry     time.Duration // default 10s
	Tries      int           // default 8
	RetryDelay time.Duration // default 250ms
}

// RedisLocker provides mutual exclusion across service instances using the
// RedLock algorithm.
type RedisLocker struct {
	rs   *redsync.Redsync
	opts RedisOptions
	log  zerolog.Logger
}

// NewRedisLocker creates a locker on top of an established Redis client.
func NewRedisLocker(client redis.UniversalClient, log zerolog.Logger, opts RedisOptions) *RedisLocker {
	if opts.Expiry <= 0 {
		opts.Expiry = 10 * time.Second
	}
	if opts.Tries <= 0 {
		opts.Tries = 8
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 250 * time.Millisecond
	}
	return &RedisLocker{
		rs:   redsync.New(goredis.NewPool(client)),
		opts: opts,
		log:  log,
	}
}

// WithLock acquires the distributed lock, runs fn, and releases. Acquisition
// failure after all retries surfaces as a conflict. fn's error is returned
// unchanged so domain error codes survive the lock boundary.
func (l *RedisLocker) WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error {
	if key == "" {
		return errors.New(errors.ErrCodeInvalidInput, "lock key must not be empty")
	}

	mutex := l.rs.NewMutex(key,
		redsync.WithExpiry(l.opts.Expiry),
		redsync.WithTries(l.opts.Tries),
		redsync.WithRetryDelay(l.opts.RetryDelay),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeConflict, "failed to acquire "+key)
	}

	defer func() {
		if ok, err := mutex.UnlockContext(ctx); !ok || err != nil {
			l.log.Warn().Err(err).Str("lock_key", key).Msg("lock: failed to release")
		}
	}()

	return fn(ctx)
}
