// Package lock serialises work per entity key, in process or across
// instances through Redis.
package lock

import (
	"context"
	"sync"
)

type keyed struct {
	sem  chan struct{}
	refs int
}

// Local is an in-process keyed mutex. Entries are dropped when unused.
type Local struct {
	mu   sync.Mutex
	keys map[string]*keyed
}

// NewLocal creates an in-process locker.
func NewLocal() *Local {
	return &Local{keys: make(map[string]*keyed)}
}

// WithLock runs fn while holding key. Waiting respects ctx.
func (l *Local) WithLock(ctx context.Context, key string, fn func(context.Context) error) error {
	k := l.acquireRef(key)
	defer l.releaseRef(key, k)

	select {
	case k.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-k.sem }()

	return fn(ctx)
}

func (l *Local) acquireRef(key string) *keyed {
	l.mu.Lock()
	defer l.mu.Unlock()

	k, ok := l.keys[key]
	if !ok {
		k = &keyed{sem: make(chan struct{}, 1)}
		l.keys[key] = k
	}
	k.refs++
	return k
}

func (l *Local) releaseRef(key string, k *keyed) {
	l.mu.Lock()
	defer l.mu.Unlock()

	k.refs--
	if k.refs == 0 {
		delete(l.keys, key)
	}
}
