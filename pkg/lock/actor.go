package lock

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const defaultActorTimeout = 30 * time.Second

const (
	queued int32 = iota
	running
	abandoned
)

// runRequest is claimed exactly once: by the actor when it starts fn, or by
// the caller when it stops waiting first.
type runRequest struct {
	ctx   context.Context
	fn    func(ctx context.Context) error
	state atomic.Int32
	done  chan error
}

// writerActor executes mutations one at a time in mailbox order.
type writerActor struct {
	logger *zap.Logger
}

func (a *writerActor) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *runRequest:
		if !msg.state.CompareAndSwap(queued, running) {
			return
		}
		// the caller gave up while queued
		if err := msg.ctx.Err(); err != nil {
			msg.done <- err
			return
		}
		msg.done <- msg.fn(msg.ctx)

	case *actor.Started:
		a.logger.Info("Writer actor started")

	case *actor.Stopped:
		a.logger.Info("Writer actor stopped")
	}
}

// ActorLocker funnels every mutation through a single protoactor actor, giving
// a global single-writer queue. Keys are accepted for interface parity; all
// writes are serialized regardless of the entity they touch.
type ActorLocker struct {
	system  *actor.ActorSystem
	pid     *actor.PID
	timeout time.Duration
}

var _ Locker = (*ActorLocker)(nil)

func NewActorLocker(timeout time.Duration, logger *zap.Logger) (*ActorLocker, error) {
	if timeout <= 0 {
		timeout = defaultActorTimeout
	}
	system := actor.NewActorSystem()
	props := actor.PropsFromProducer(func() actor.Actor {
		return &writerActor{logger: logger.Named("writer-actor")}
	})
	pid, err := system.Root.SpawnNamed(props, "writer")
	if err != nil {
		return nil, fmt.Errorf("failed to spawn writer actor: %w", err)
	}
	return &ActorLocker{system: system, pid: pid, timeout: timeout}, nil
}

// WithLock queues fn behind every earlier mutation. The timeout bounds only the
// time spent queued: once fn has started, WithLock returns its result.
func (l *ActorLocker) WithLock(ctx context.Context, keys []string, fn func(ctx context.Context) error) error {
	req := &runRequest{ctx: ctx, fn: fn, done: make(chan error, 1)}
	l.system.Root.Send(l.pid, req)

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case err := <-req.done:
		return err
	case <-timer.C:
		if req.state.CompareAndSwap(queued, abandoned) {
			return ErrTimeout
		}
	case <-ctx.Done():
		if req.state.CompareAndSwap(queued, abandoned) {
			return acquireErr(ctx)
		}
	}
	// fn is already running; its outcome is the caller's outcome
	return <-req.done
}

func (l *ActorLocker) Close() error {
	return l.system.Root.StopFuture(l.pid).Wait()
}
