package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/store"
	"github.com/google/renameio/v2"
	"go.uber.org/zap"
)

const (
	productsFile = "products.json"
	ordersFile   = "orders.json"
	countersFile = "counters.json"
)

// FileRepository keeps the whole catalog and the whole order book in two JSON
// files and rewrites a file completely on every change. Files are replaced by
// rename so a crash mid-write leaves the previous version intact.
type FileRepository struct {
	productsPath string
	ordersPath   string
	countersPath string
	readOnly     bool

	// mu serializes read-modify-write cycles; readers never take it.
	mu     sync.Mutex
	now    func() time.Time
	logger *zap.Logger
}

var _ store.Backend = (*FileRepository)(nil)

func NewFileRepository(cfg *config.FilesConfig, logger *zap.Logger) (*FileRepository, error) {
	if !cfg.ReadOnly {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data dir: %w", err)
		}
	}
	return &FileRepository{
		productsPath: filepath.Join(cfg.Dir, productsFile),
		ordersPath:   filepath.Join(cfg.Dir, ordersFile),
		countersPath: filepath.Join(cfg.Dir, countersFile),
		readOnly:     cfg.ReadOnly,
		now:          time.Now,
		logger:       logger.Named("file-store"),
	}, nil
}

func (r *FileRepository) Info() store.Info {
	return store.Info{Backend: config.DriverFile, ReadOnly: r.readOnly}
}

func (r *FileRepository) Ping(ctx context.Context) error {
	if _, err := os.Stat(filepath.Dir(r.productsPath)); err != nil {
		return store.Storage("stat data dir", err)
	}
	return nil
}

func (r *FileRepository) Close(ctx context.Context) error {
	return nil
}

func (r *FileRepository) writable(op string) error {
	if r.readOnly {
		return fmt.Errorf("%w: cannot %s", store.ErrReadOnly, op)
	}
	return nil
}

// ---- products ----

func (r *FileRepository) loadProducts() ([]models.Product, error) {
	data, err := readFile(r.productsPath)
	if err != nil || data == nil {
		return nil, err
	}
	var recs []productRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, store.Storage("decode "+productsFile, err)
	}
	products := make([]models.Product, len(recs))
	for i, rec := range recs {
		products[i] = rec.product()
	}
	return products, nil
}

func (r *FileRepository) saveProducts(products []models.Product) error {
	if products == nil {
		products = []models.Product{}
	}
	return writeJSON(r.productsPath, products)
}

func findProduct(products []models.Product, id int64) int {
	return slices.IndexFunc(products, func(p models.Product) bool { return p.ID == id })
}

func (r *FileRepository) ListProducts(ctx context.Context, filter store.ProductFilter) ([]models.Product, error) {
	products, err := r.loadProducts()
	if err != nil {
		return nil, err
	}
	out := make([]models.Product, 0, len(products))
	// newest appended last
	for i := len(products) - 1; i >= 0; i-- {
		if filter.Match(&products[i]) {
			out = append(out, products[i])
		}
	}
	return out, nil
}

func (r *FileRepository) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	products, err := r.loadProducts()
	if err != nil {
		return nil, err
	}
	i := findProduct(products, id)
	if i < 0 {
		return nil, store.ProductNotFound(id)
	}
	return &products[i], nil
}

func (r *FileRepository) ListCategories(ctx context.Context) ([]string, error) {
	products, err := r.loadProducts()
	if err != nil {
		return nil, err
	}
	return distinctCategories(products), nil
}

func (r *FileRepository) CreateProduct(ctx context.Context, in store.ProductInput) (*models.Product, error) {
	if err := r.writable("add product"); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	products, err := r.loadProducts()
	if err != nil {
		return nil, err
	}
	now := r.now().UTC()
	id := now.UnixMilli()
	for _, p := range products {
		if p.ID >= id {
			id = p.ID + 1
		}
	}
	p := models.Product{
		ID:        id,
		Name:      in.Name,
		Price:     in.Price,
		Image:     in.Image,
		Category:  in.Category,
		Stock:     in.StockOrDefault(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	p.RefreshStockFlag()
	if err := r.saveProducts(append(products, p)); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *FileRepository) UpdateProduct(ctx context.Context, id int64, patch store.ProductPatch) (*models.Product, error) {
	if err := r.writable("edit product"); err != nil {
		return nil, err
	}
	if err := patch.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	products, err := r.loadProducts()
	if err != nil {
		return nil, err
	}
	i := findProduct(products, id)
	if i < 0 {
		return nil, store.ProductNotFound(id)
	}
	patch.Apply(&products[i])
	products[i].UpdatedAt = r.now().UTC()
	if err := r.saveProducts(products); err != nil {
		return nil, err
	}
	p := products[i]
	return &p, nil
}

func (r *FileRepository) DeleteProduct(ctx context.Context, id int64) error {
	if err := r.writable("delete product"); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	products, err := r.loadProducts()
	if err != nil {
		return err
	}
	i := findProduct(products, id)
	if i < 0 {
		return nil
	}
	return r.saveProducts(slices.Delete(products, i, i+1))
}

// ---- orders ----

func (r *FileRepository) loadOrders() ([]models.Order, error) {
	data, err := readFile(r.ordersPath)
	if err != nil || data == nil {
		return nil, err
	}
	var recs []orderRecord
	if trimmed := bytes.TrimSpace(data); len(trimmed) > 0 && trimmed[0] == '{' {
		// legacy {"orders": [...]} wrapper
		var wrapped struct {
			Orders []orderRecord `json:"orders"`
		}
		if err := json.Unmarshal(trimmed, &wrapped); err != nil {
			return nil, store.Storage("decode "+ordersFile, err)
		}
		recs = wrapped.Orders
	} else if err := json.Unmarshal(data, &recs); err != nil {
		return nil, store.Storage("decode "+ordersFile, err)
	}
	orders := make([]models.Order, len(recs))
	for i, rec := range recs {
		orders[i] = rec.order()
	}
	return orders, nil
}

func (r *FileRepository) saveOrders(orders []models.Order) error {
	if orders == nil {
		orders = []models.Order{}
	}
	return writeJSON(r.ordersPath, orders)
}

func findOrder(orders []models.Order, id int64) int {
	return slices.IndexFunc(orders, func(o models.Order) bool { return o.ID == id })
}

type counters struct {
	OrderSeq int64 `json:"orderSeq"`
}

// nextOrderID persists and returns the next order sequence value. It never
// hands out an id at or below one already present in orders.
func (r *FileRepository) nextOrderID(orders []models.Order) (int64, error) {
	var c counters
	data, err := readFile(r.countersPath)
	if err != nil {
		return 0, err
	}
	if data != nil {
		if err := json.Unmarshal(data, &c); err != nil {
			return 0, store.Storage("decode "+countersFile, err)
		}
	}
	for _, o := range orders {
		c.OrderSeq = max(c.OrderSeq, o.ID)
	}
	c.OrderSeq++
	if err := writeJSON(r.countersPath, c); err != nil {
		return 0, err
	}
	return c.OrderSeq, nil
}

func (r *FileRepository) ListOrders(ctx context.Context, filter store.OrderFilter) ([]models.Order, error) {
	orders, err := r.loadOrders()
	if err != nil {
		return nil, err
	}
	out := make([]models.Order, 0, len(orders))
	for i := range orders {
		if filter.Match(&orders[i]) {
			out = append(out, orders[i])
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (r *FileRepository) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	orders, err := r.loadOrders()
	if err != nil {
		return nil, err
	}
	i := findOrder(orders, id)
	if i < 0 {
		return nil, store.OrderNotFound(id)
	}
	return &orders[i], nil
}

func (r *FileRepository) CreateOrder(ctx context.Context, in store.NewOrder) (*models.Order, error) {
	if err := r.writable("place order"); err != nil {
		return nil, err
	}
	if err := in.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	products, err := r.loadProducts()
	if err != nil {
		return nil, err
	}
	original := slices.Clone(products)

	items, _, err := store.CheckStock(ctx, in, func(_ context.Context, id int64) (*models.Product, error) {
		i := findProduct(products, id)
		if i < 0 {
			return nil, store.ProductNotFound(id)
		}
		return &products[i], nil
	})
	if err != nil {
		return nil, err
	}

	orders, err := r.loadOrders()
	if err != nil {
		return nil, err
	}
	id, err := r.nextOrderID(orders)
	if err != nil {
		return nil, err
	}

	now := r.now()
	ids, demand := in.Demand()
	for _, pid := range ids {
		i := findProduct(products, pid)
		products[i].Reserve(demand[pid])
		products[i].UpdatedAt = now.UTC()
	}
	if err := r.saveProducts(products); err != nil {
		return nil, err
	}

	order := store.BuildOrder(id, in, items, now)
	if err := r.saveOrders(append(orders, *order)); err != nil {
		if rerr := r.saveProducts(original); rerr != nil {
			r.logger.Error("Failed to restore products after order write failure",
				zap.Int64("order_id", id), zap.Error(rerr))
		}
		return nil, err
	}
	return order, nil
}

func (r *FileRepository) SetOrderStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	if err := r.writable("update order status"); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	orders, err := r.loadOrders()
	if err != nil {
		return nil, err
	}
	i := findOrder(orders, id)
	if i < 0 {
		return nil, store.OrderNotFound(id)
	}
	changed, err := store.ApplyOrderStatus(&orders[i], status)
	if err != nil {
		return nil, err
	}
	if changed {
		if err := r.saveOrders(orders); err != nil {
			return nil, err
		}
	}
	return orders[i].Clone(), nil
}

func (r *FileRepository) SetOrderItemStatus(ctx context.Context, id int64, upd store.ItemUpdate) (*store.ItemResult, error) {
	if err := r.writable("update order item"); err != nil {
		return nil, err
	}
	if err := upd.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	orders, err := r.loadOrders()
	if err != nil {
		return nil, err
	}
	i := findOrder(orders, id)
	if i < 0 {
		return nil, store.OrderNotFound(id)
	}
	res, err := store.ApplyItemUpdate(&orders[i], upd, r.now())
	if err != nil {
		return nil, err
	}
	if !res.AlreadyTerminal {
		if err := r.saveOrders(orders); err != nil {
			return nil, err
		}
	}
	res.Order = orders[i].Clone()
	return res, nil
}

func (r *FileRepository) CompleteOrder(ctx context.Context, id int64) (*models.Order, error) {
	if err := r.writable("complete order"); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	orders, err := r.loadOrders()
	if err != nil {
		return nil, err
	}
	i := findOrder(orders, id)
	if i < 0 {
		return nil, store.OrderNotFound(id)
	}
	order := &orders[i]
	if order.IsCompleted {
		return order.Clone(), nil
	}

	products, err := r.loadProducts()
	if err != nil {
		return nil, err
	}
	// stock was reserved when the order was placed; only the flag is refreshed
	for _, pid := range order.ProductIDs() {
		if j := findProduct(products, pid); j >= 0 {
			products[j].RefreshStockFlag()
		}
	}
	if err := r.saveProducts(products); err != nil {
		return nil, err
	}

	order.MarkCompleted(r.now())
	if err := r.saveOrders(orders); err != nil {
		return nil, err
	}
	return order.Clone(), nil
}

// ---- file helpers ----

// readFile returns nil data for a missing file.
func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, store.Storage("read "+filepath.Base(path), err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return data, nil
}

// writeJSON replaces path atomically: the new content is written and synced
// to a temporary file in the same directory, then renamed over the target.
func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return store.Storage("encode "+filepath.Base(path), err)
	}
	err = renameio.WriteFile(path, data, 0o644, renameio.WithTempDir(filepath.Dir(path)))
	if err != nil {
		return store.Storage("write "+filepath.Base(path), err)
	}
	return nil
}
