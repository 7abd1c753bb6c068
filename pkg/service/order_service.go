// Package service is the order and inventory engine used by every inbound
// transport. It serializes mutations per entity, delegates persistence to the
// configured backend and emits notifications after successful changes.
package service

import (
	"context"
	"fmt"

	"github.com/example/storefront/pkg/lock"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/notify"
	"github.com/example/storefront/pkg/store"
	"go.uber.org/zap"
)

type Dispatcher interface {
	Dispatch(evt notify.Event)
}

type OrderService struct {
	backend  store.Backend
	locker   lock.Locker
	notifier Dispatcher
	logger   *zap.Logger
}

func NewOrderService(backend store.Backend, locker lock.Locker, notifier Dispatcher, logger *zap.Logger) *OrderService {
	return &OrderService{
		backend:  backend,
		locker:   locker,
		notifier: notifier,
		logger:   logger.Named("orders"),
	}
}

func (s *OrderService) ServerInfo() store.Info {
	return s.backend.Info()
}

func (s *OrderService) Ping(ctx context.Context) error {
	return s.backend.Ping(ctx)
}

// ---- catalog ----

func (s *OrderService) ListProducts(ctx context.Context, filter store.ProductFilter) ([]models.Product, error) {
	return s.backend.ListProducts(ctx, filter)
}

func (s *OrderService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return s.backend.GetProduct(ctx, id)
}

func (s *OrderService) ListCategories(ctx context.Context) ([]string, error) {
	return s.backend.ListCategories(ctx)
}

func (s *OrderService) CreateProduct(ctx context.Context, in store.ProductInput) (*models.Product, error) {
	p, err := s.backend.CreateProduct(ctx, in)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Product created", zap.Int64("product_id", p.ID), zap.String("name", p.Name))
	return p, nil
}

func (s *OrderService) UpdateProduct(ctx context.Context, id int64, patch store.ProductPatch) (*models.Product, error) {
	var p *models.Product
	err := s.locker.WithLock(ctx, []string{lock.ProductKey(id)}, func(ctx context.Context) error {
		var err error
		p, err = s.backend.UpdateProduct(ctx, id, patch)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Product updated", zap.Int64("product_id", id))
	return p, nil
}

func (s *OrderService) DeleteProduct(ctx context.Context, id int64) error {
	err := s.locker.WithLock(ctx, []string{lock.ProductKey(id)}, func(ctx context.Context) error {
		return s.backend.DeleteProduct(ctx, id)
	})
	if err != nil {
		return err
	}
	s.logger.Info("Product deleted", zap.Int64("product_id", id))
	return nil
}

// ---- orders ----

func (s *OrderService) ListOrders(ctx context.Context, filter store.OrderFilter) ([]models.Order, error) {
	return s.backend.ListOrders(ctx, filter)
}

func (s *OrderService) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	return s.backend.GetOrder(ctx, id)
}

// CreateOrder reserves stock and records the order while holding every
// involved product, so concurrent carts cannot oversell within this process.
func (s *OrderService) CreateOrder(ctx context.Context, in store.NewOrder) (*models.Order, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(in.Items))
	for _, l := range in.Items {
		keys = append(keys, lock.ProductKey(l.ProductID))
	}

	var order *models.Order
	err := s.locker.WithLock(ctx, keys, func(ctx context.Context) error {
		var err error
		order, err = s.backend.CreateOrder(ctx, in)
		return err
	})
	if err != nil {
		s.logger.Info("Order rejected", zap.String("phone", in.Phone), zap.Error(err))
		return nil, err
	}

	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int("items", len(order.Items)),
		zap.Int64("total", order.Total))
	s.notifier.Dispatch(notify.Created(order))
	return order, nil
}

func (s *OrderService) SetOrderStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	var order *models.Order
	err := s.locker.WithLock(ctx, []string{lock.OrderKey(id)}, func(ctx context.Context) error {
		var err error
		order, err = s.backend.SetOrderStatus(ctx, id, status)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("Order status set", zap.Int64("order_id", id), zap.String("status", string(order.Status)))
	return order, nil
}

// SetOrderItemStatus records a fulfillment outcome for one line. When that
// resolves the last open line the order is completed in the same step.
func (s *OrderService) SetOrderItemStatus(ctx context.Context, id int64, upd store.ItemUpdate) (*store.ItemResult, error) {
	var res *store.ItemResult
	err := s.locker.WithLock(ctx, []string{lock.OrderKey(id)}, func(ctx context.Context) error {
		var err error
		res, err = s.backend.SetOrderItemStatus(ctx, id, upd)
		return err
	})
	if err != nil {
		return nil, err
	}

	if res.AlreadyTerminal {
		s.logger.Debug("Item already delivered", zap.Int64("order_id", id), zap.Int64("product_id", res.Item.ProductID))
		return res, nil
	}
	s.logger.Info("Item status set",
		zap.Int64("order_id", id),
		zap.Int64("product_id", res.Item.ProductID),
		zap.String("status", string(res.Item.Status)))
	s.notifier.Dispatch(notify.ItemUpdated(res.Order, res.Item))
	if res.Completed {
		s.logger.Info("Order completed by fulfillment", zap.Int64("order_id", id))
		s.notifier.Dispatch(notify.Completed(res.Order, false))
	}
	return res, nil
}

// CompleteOrder closes an order on staff request. Calling it again returns
// the completed order unchanged and announces nothing; a read-only backend
// still rejects it.
func (s *OrderService) CompleteOrder(ctx context.Context, id int64) (*models.Order, error) {
	// the lookup below would otherwise answer before the backend's write guard
	if s.backend.Info().ReadOnly {
		return nil, fmt.Errorf("%w: cannot complete order", store.ErrReadOnly)
	}
	current, err := s.backend.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}

	keys := []string{lock.OrderKey(id)}
	for _, pid := range current.ProductIDs() {
		keys = append(keys, lock.ProductKey(pid))
	}

	var (
		order          *models.Order
		newlyCompleted bool
	)
	err = s.locker.WithLock(ctx, keys, func(ctx context.Context) error {
		before, err := s.backend.GetOrder(ctx, id)
		if err != nil {
			return err
		}
		order, err = s.backend.CompleteOrder(ctx, id)
		newlyCompleted = err == nil && !before.IsCompleted
		return err
	})
	if err != nil {
		return nil, err
	}

	if newlyCompleted {
		s.logger.Info("Order completed by staff", zap.Int64("order_id", id))
		s.notifier.Dispatch(notify.Completed(order, true))
	}
	return order, nil
}
