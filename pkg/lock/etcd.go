package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/example/storefront/pkg/config"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"
	"go.uber.org/zap"
)

// EtcdLocker extends per-entity exclusion across processes with etcd mutexes.
// Mutexes created from one session share its lease and do not exclude each
// other, so goroutines of this process first pass through a local keyed mutex.
type EtcdLocker struct {
	client  *clientv3.Client
	session *concurrency.Session
	local   *MutexLocker
	prefix  string
	timeout time.Duration
	logger  *zap.Logger
}

var _ Locker = (*EtcdLocker)(nil)

func NewEtcdLocker(cfg *config.EtcdConfig, timeout time.Duration, logger *zap.Logger) (*EtcdLocker, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	session, err := concurrency.NewSession(cli, concurrency.WithTTL(cfg.SessionTTL))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to create etcd session: %w", err)
	}

	return &EtcdLocker{
		client:  cli,
		session: session,
		local:   NewMutexLocker(timeout),
		prefix:  cfg.Prefix,
		timeout: timeout,
		logger:  logger.Named("etcd-lock"),
	}, nil
}

func (l *EtcdLocker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	keys = normalize(keys)
	return l.local.WithLock(ctx, keys, func(ctx context.Context) error {
		actx := ctx
		if l.timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, l.timeout)
			defer cancel()
		}

		held := make([]*concurrency.Mutex, 0, len(keys))
		defer func() {
			for i := len(held) - 1; i >= 0; i-- {
				l.unlock(held[i])
			}
		}()
		for _, k := range keys {
			m := concurrency.NewMutex(l.session, l.prefix+k)
			if err := m.Lock(actx); err != nil {
				if actx.Err() != nil {
					return acquireErr(actx)
				}
				return fmt.Errorf("failed to lock %s: %w", k, err)
			}
			held = append(held, m)
		}
		return fn(ctx)
	})
}

func (l *EtcdLocker) unlock(m *concurrency.Mutex) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Unlock(ctx); err != nil {
		// the session lease still frees the key when it expires
		l.logger.Warn("Failed to release etcd lock", zap.String("key", m.Key()), zap.Error(err))
	}
}

func (l *EtcdLocker) Close() error {
	if err := l.session.Close(); err != nil {
		l.logger.Warn("Failed to close etcd session", zap.Error(err))
	}
	return l.client.Close()
}
