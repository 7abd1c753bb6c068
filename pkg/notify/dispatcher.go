package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Dispatcher fans events out to its sinks on background goroutines. Dispatch
// returns immediately; sink failures and panics are logged and dropped.
type Dispatcher struct {
	sinks   []Notifier
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

func NewDispatcher(timeout time.Duration, logger *zap.Logger, sinks ...Notifier) *Dispatcher {
	return &Dispatcher{
		sinks:   sinks,
		timeout: timeout,
		logger:  logger.Named("notify"),
	}
}

func (d *Dispatcher) Dispatch(evt Event) {
	for _, s := range d.sinks {
		d.wg.Add(1)
		go d.deliver(s, evt)
	}
}

func (d *Dispatcher) deliver(s Notifier, evt Event) {
	defer d.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Notifier panicked",
				zap.String("kind", string(evt.Kind)),
				zap.Int64("order_id", evt.OrderID),
				zap.String("panic", fmt.Sprint(r)))
		}
	}()

	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	if err := s.Notify(ctx, evt); err != nil {
		d.logger.Warn("Failed to deliver notification",
			zap.String("kind", string(evt.Kind)),
			zap.Int64("order_id", evt.OrderID),
			zap.Error(err))
	}
}

// Wait blocks until every in-flight delivery has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
