package lock_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/boddenberg/plastic-rewards-go/internal/infra/lock"
	"github.com/boddenberg/plastic-rewards-go/internal/port"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	_ port.KeyLocker = (*lock.Local)(nil)
	_ port.KeyLocker = (*lock.Redis)(nil)
)

func newRedisLocker(t *testing.T) *lock.Redis {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return lock.NewRedis(client, 5*time.Second, zap.NewNop())
}

// assertMutualExclusion runs many holders of one key and checks that no
// two ever overlap.
func assertMutualExclusion(t *testing.T, l port.KeyLocker, workers int) {
	t.Helper()
	var (
		inside  atomic.Int32
		overlap atomic.Bool
		counter int
		wg      sync.WaitGroup
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithLock(context.Background(), "collector:1", func(context.Context) error {
				if inside.Add(1) > 1 {
					overlap.Store(true)
				}
				counter++
				time.Sleep(time.Millisecond)
				inside.Add(-1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.False(t, overlap.Load())
	assert.Equal(t, workers, counter)
}

func TestLocal_MutualExclusion(t *testing.T) {
	assertMutualExclusion(t, lock.NewLocal(), 50)
}

func TestLocal_IndependentKeys(t *testing.T) {
	l := lock.NewLocal()
	held := make(chan struct{})
	release := make(chan struct{})

	go func() {
		_ = l.WithLock(context.Background(), "a", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ran := false
	require.NoError(t, l.WithLock(context.Background(), "b", func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
	close(release)
}

func TestLocal_WaitRespectsContext(t *testing.T) {
	l := lock.NewLocal()
	held := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	go func() {
		_ = l.WithLock(context.Background(), "k", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.WithLock(ctx, "k", func(context.Context) error {
		t.Fatal("must not run")
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLocal_PropagatesError(t *testing.T) {
	want := errors.New("boom")
	err := lock.NewLocal().WithLock(context.Background(), "k", func(context.Context) error { return want })
	assert.ErrorIs(t, err, want)
}

func TestRedis_MutualExclusion(t *testing.T) {
	assertMutualExclusion(t, newRedisLocker(t), 10)
}

func TestRedis_ReleasesAfterError(t *testing.T) {
	l := newRedisLocker(t)
	want := errors.New("boom")

	err := l.WithLock(context.Background(), "k", func(context.Context) error { return want })
	assert.ErrorIs(t, err, want)

	ran := false
	require.NoError(t, l.WithLock(context.Background(), "k", func(context.Context) error {
		ran = true
		return nil
	}))
	assert.True(t, ran)
}

func TestRedis_FnGetsLockDeadline(t *testing.T) {
	l := newRedisLocker(t)

	require.NoError(t, l.WithLock(context.Background(), "k", func(ctx context.Context) error {
		deadline, ok := ctx.Deadline()
		assert.True(t, ok)
		assert.WithinDuration(t, time.Now().Add(5*time.Second), deadline, time.Second)
		return nil
	}))
}
