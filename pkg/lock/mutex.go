package lock

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	sem  chan struct{}
	refs int
}

// MutexLocker is an in-process keyed mutex. Entries are dropped once no
// goroutine holds or waits for them.
type MutexLocker struct {
	mu      sync.Mutex
	entries map[string]*entry
	timeout time.Duration
}

var _ Locker = (*MutexLocker)(nil)

func NewMutexLocker(timeout time.Duration) *MutexLocker {
	return &MutexLocker{
		entries: make(map[string]*entry),
		timeout: timeout,
	}
}

func (l *MutexLocker) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *MutexLocker) unref(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

func (l *MutexLocker) acquire(ctx context.Context, key string) error {
	e := l.ref(key)
	select {
	case e.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		l.unref(key, e)
		return acquireErr(ctx)
	}
}

func (l *MutexLocker) release(key string) {
	l.mu.Lock()
	e := l.entries[key]
	l.mu.Unlock()
	<-e.sem
	l.unref(key, e)
}

func (l *MutexLocker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	keys = normalize(keys)

	actx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	held := make([]string, 0, len(keys))
	defer func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.release(held[i])
		}
	}()
	for _, k := range keys {
		if err := l.acquire(actx, k); err != nil {
			return err
		}
		held = append(held, k)
	}
	return fn(ctx)
}

func (l *MutexLocker) Close() error {
	return nil
}
