package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Redis is a distributed locker on redsync. The lock expires after ttl so a
// crashed holder cannot block a key forever; fn must finish well within it.
type Redis struct {
	rs     *redsync.Redsync
	ttl    time.Duration
	tries  int
	logger *zap.Logger
}

// NewRedis creates a locker over client.
func NewRedis(client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{
		rs:     redsync.New(goredis.NewPool(client)),
		ttl:    ttl,
		tries:  64,
		logger: logger,
	}
}

// WithLock runs fn while holding the distributed lock on key.
func (r *Redis) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	m := r.rs.NewMutex("lock:"+key,
		redsync.WithExpiry(r.ttl),
		redsync.WithTries(r.tries),
		redsync.WithRetryDelay(50*time.Millisecond),
	)
	if err := m.LockContext(ctx); err != nil {
		return fmt.Errorf("acquire lock %s: %w", key, err)
	}
	defer func() {
		// Unlock must run even if the request was cancelled.
		uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if ok, err := m.UnlockContext(uctx); !ok || err != nil {
			r.logger.Warn("lock release failed", zap.String("key", key), zap.Error(err))
		}
	}()

	lctx, cancel := context.WithDeadline(ctx, m.Until())
	defer cancel()
	return fn(lctx)
}
