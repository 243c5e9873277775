package lock

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/warp/quote-ledger/ledger"
)

// =============================================================================
// REDIS - Cross-process keyed locks
// =============================================================================

// DefaultTTL is how long a Redis lock lives if its holder dies.
const DefaultTTL = 30 * time.Second

// Redis acquires one redislock per key. Keys are namespaced with Prefix.
type Redis struct {
	Timeout time.Duration
	TTL     time.Duration
	Retry   time.Duration
	Prefix  string

	client *redislock.Client
	log    logrus.FieldLogger
}

func NewRedis(rdb *redis.Client, timeout time.Duration, log logrus.FieldLogger) *Redis {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Redis{
		Timeout: timeout,
		TTL:     DefaultTTL,
		Retry:   50 * time.Millisecond,
		Prefix:  "lock:quote-ledger:",
		client:  redislock.New(rdb),
		log:     log.WithField("component", "lock"),
	}
}

func (r *Redis) Acquire(ctx context.Context, keys ...string) (func(), error) {
	keys = Keys(keys...)
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	opts := &redislock.Options{RetryStrategy: redislock.LinearBackoff(r.Retry)}
	held := make([]*redislock.Lock, 0, len(keys))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			if err := held[i].Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				r.log.WithError(err).WithField("key", held[i].Key()).Warn("failed to release lock")
			}
		}
	}

	for _, k := range keys {
		l, err := r.client.Obtain(ctx, r.Prefix+k, r.TTL, opts)
		if err != nil {
			release()
			if errors.Is(err, redislock.ErrNotObtained) || ctx.Err() != nil {
				return nil, &ledger.ConcurrencyConflictError{Keys: keys, Waited: time.Since(start), Err: err}
			}
			return nil, &ledger.PersistenceError{Op: "obtain lock " + k, Err: err}
		}
		held = append(held, l)
	}

	done := false
	return func() {
		if !done {
			done = true
			release()
		}
	}, nil
}

var _ Locker = (*Redis)(nil)
