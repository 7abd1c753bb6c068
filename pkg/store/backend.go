// Package store defines the storage contract shared by every backend and the
// rules that must hold regardless of which substrate persists the data.
package store

import (
	"context"
	"strings"

	"github.com/example/storefront/pkg/models"
)

// Backend persists products and orders. Every mutating call is durable before
// it returns. Implementations: repository.MongoRepository, repository.FileRepository.
type Backend interface {
	ListProducts(ctx context.Context, filter ProductFilter) ([]models.Product, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	CreateProduct(ctx context.Context, in ProductInput) (*models.Product, error)
	UpdateProduct(ctx context.Context, id int64, patch ProductPatch) (*models.Product, error)
	DeleteProduct(ctx context.Context, id int64) error
	ListCategories(ctx context.Context) ([]string, error)

	// ListOrders returns orders newest first.
	ListOrders(ctx context.Context, filter OrderFilter) ([]models.Order, error)
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	// CreateOrder reserves stock for every line and persists the order, or
	// changes nothing.
	CreateOrder(ctx context.Context, in NewOrder) (*models.Order, error)
	SetOrderStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error)
	SetOrderItemStatus(ctx context.Context, id int64, upd ItemUpdate) (*ItemResult, error)
	CompleteOrder(ctx context.Context, id int64) (*models.Order, error)

	Info() Info
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

type Info struct {
	Backend  string `json:"backend"`
	ReadOnly bool   `json:"readOnly"`
}

type ProductFilter struct {
	Category string
	Query    string
}

// Match applies the filter in memory; the name query is a case-insensitive substring.
func (f ProductFilter) Match(p *models.Product) bool {
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.Query != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.Query)) {
		return false
	}
	return true
}

type OrderFilter struct {
	Completed *bool
}

func (f OrderFilter) Match(o *models.Order) bool {
	return f.Completed == nil || o.IsCompleted == *f.Completed
}

// DefaultStock is assigned when a product is created without a stock count.
const DefaultStock = 35

type ProductInput struct {
	Name     string
	Price    string
	Image    string
	Category string
	Stock    *int
}

func (in ProductInput) Validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return invalid("name", "is required")
	case strings.TrimSpace(in.Price) == "":
		return invalid("price", "is required")
	case strings.TrimSpace(in.Image) == "":
		return invalid("image", "is required")
	case strings.TrimSpace(in.Category) == "":
		return invalid("category", "is required")
	case in.Stock != nil && *in.Stock < 0:
		return invalid("stock", "must not be negative")
	}
	return nil
}

func (in ProductInput) StockOrDefault() int {
	if in.Stock == nil {
		return DefaultStock
	}
	return *in.Stock
}

// ProductPatch overwrites only the fields that are set.
type ProductPatch struct {
	Name     *string
	Price    *string
	Image    *string
	Category *string
	Stock    *int
}

func (p ProductPatch) Validate() error {
	if p.Stock != nil && *p.Stock < 0 {
		return invalid("stock", "must not be negative")
	}
	return nil
}

func (p ProductPatch) Apply(prod *models.Product) {
	if p.Name != nil && *p.Name != "" {
		prod.Name = *p.Name
	}
	if p.Price != nil && *p.Price != "" {
		prod.Price = *p.Price
	}
	if p.Image != nil && *p.Image != "" {
		prod.Image = *p.Image
	}
	if p.Category != nil && *p.Category != "" {
		prod.Category = *p.Category
	}
	if p.Stock != nil {
		prod.Stock = *p.Stock
		prod.RefreshStockFlag()
	}
}

// ItemRef addresses an order line either by position or by product id.
type ItemRef struct {
	ByIndex   bool
	Index     int
	ProductID int64
}

func AtIndex(i int) ItemRef { return ItemRef{ByIndex: true, Index: i} }

func ForProduct(id int64) ItemRef { return ItemRef{ProductID: id} }

// Find returns the position of the referenced line, or -1.
func (r ItemRef) Find(o *models.Order) int {
	if r.ByIndex {
		if r.Index < 0 || r.Index >= len(o.Items) {
			return -1
		}
		return r.Index
	}
	for i := range o.Items {
		if o.Items[i].ProductID == r.ProductID {
			return i
		}
	}
	return -1
}

type ItemUpdate struct {
	Ref    ItemRef
	Status models.ItemStatus
}

func (u ItemUpdate) Validate() error {
	if !u.Status.Valid() {
		return invalid("status", "must be one of delivered, not_found or empty")
	}
	return nil
}

type ItemResult struct {
	Order           *models.Order    `json:"order"`
	Item            models.OrderItem `json:"item"`
	AlreadyTerminal bool             `json:"alreadyTerminal"`
	// Completed is true when this update closed the order.
	Completed bool `json:"completed"`
}
