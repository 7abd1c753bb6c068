// Package lock provides the concurrency disciplines that serialize mutations
// of the same product or order.
package lock

import (
	"context"
	"errors"
	"slices"
	"strconv"
)

var ErrTimeout = errors.New("timed out waiting for entity lock")

// Locker runs fn while holding every key. Keys are acquired in sorted order
// so callers locking overlapping sets cannot deadlock.
type Locker interface {
	WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error
	Close() error
}

func ProductKey(id int64) string { return "product:" + strconv.FormatInt(id, 10) }

func OrderKey(id int64) string { return "order:" + strconv.FormatInt(id, 10) }

func normalize(keys []string) []string {
	out := slices.Clone(keys)
	slices.Sort(out)
	return slices.Compact(out)
}

func acquireErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return ErrTimeout
	}
	return ctx.Err()
}
