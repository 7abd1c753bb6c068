package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/storefront/pkg/models"
)

// MaxQuantity bounds the units of one product a single order may request.
const MaxQuantity = 10000

type OrderLine struct {
	ProductID int64
	Quantity  int
	// Name is the label the customer saw; used only to name a missing product.
	Name string
}

type NewOrder struct {
	Name     string
	Phone    string
	Address  string
	Location string
	Items    []OrderLine
	Total    int64
}

func (in NewOrder) Validate() error {
	switch {
	case strings.TrimSpace(in.Name) == "":
		return invalid("name", "is required")
	case strings.TrimSpace(in.Phone) == "":
		return invalid("phone", "is required")
	case strings.TrimSpace(in.Address) == "":
		return invalid("address", "is required")
	case len(in.Items) == 0:
		return invalid("items", "cart is empty")
	case in.Total < 0:
		return invalid("total", "must not be negative")
	}
	perProduct := make(map[int64]int, len(in.Items))
	for _, l := range in.Items {
		if l.Quantity < 1 {
			return invalid("items", "quantity must be positive")
		}
		if l.Quantity > MaxQuantity {
			return invalid("items", fmt.Sprintf("quantity must not exceed %d", MaxQuantity))
		}
		// both terms are capped, so the sum cannot overflow
		perProduct[l.ProductID] += l.Quantity
		if perProduct[l.ProductID] > MaxQuantity {
			return invalid("items", fmt.Sprintf("total quantity of product %d must not exceed %d", l.ProductID, MaxQuantity))
		}
	}
	return nil
}

// Demand sums the requested quantity per product, keyed in first-seen order.
// Only call it on a validated order; Validate bounds every sum.
func (in NewOrder) Demand() ([]int64, map[int64]int) {
	ids := make([]int64, 0, len(in.Items))
	qty := make(map[int64]int, len(in.Items))
	for _, l := range in.Items {
		if _, ok := qty[l.ProductID]; !ok {
			ids = append(ids, l.ProductID)
		}
		qty[l.ProductID] += l.Quantity
	}
	return ids, qty
}

// ProductLookup resolves a product by id, returning a *NotFoundError when absent.
type ProductLookup func(ctx context.Context, id int64) (*models.Product, error)

// CheckStock validates every line against the catalog before anything is
// decremented. A single missing product or short line rejects the whole order.
// On success it returns the snapshot lines and the products that were read.
func CheckStock(ctx context.Context, in NewOrder, lookup ProductLookup) ([]models.OrderItem, map[int64]*models.Product, error) {
	if err := in.Validate(); err != nil {
		return nil, nil, err
	}
	ids, demand := in.Demand()
	products := make(map[int64]*models.Product, len(ids))
	for _, l := range in.Items {
		if _, ok := products[l.ProductID]; ok {
			continue
		}
		p, err := lookup(ctx, l.ProductID)
		if err != nil {
			var nf *NotFoundError
			if errors.As(err, &nf) && nf.Name == "" {
				nf.Name = l.Name
			}
			return nil, nil, err
		}
		products[l.ProductID] = p
	}
	for _, id := range ids {
		p := products[id]
		if demand[id] > p.Stock {
			return nil, nil, &InsufficientStockError{
				ProductID: id,
				Name:      p.Name,
				Requested: demand[id],
				Remaining: max(p.Stock, 0),
			}
		}
	}
	items := make([]models.OrderItem, 0, len(in.Items))
	for _, l := range in.Items {
		items = append(items, products[l.ProductID].Snapshot(l.Quantity))
	}
	return items, products, nil
}

// BuildOrder assembles a new order from reserved snapshot lines.
func BuildOrder(id int64, in NewOrder, items []models.OrderItem, now time.Time) *models.Order {
	total := in.Total
	if total == 0 {
		total = SumItems(items)
	}
	return &models.Order{
		ID:          id,
		OrderNumber: id,
		Name:        strings.TrimSpace(in.Name),
		Phone:       strings.TrimSpace(in.Phone),
		Address:     strings.TrimSpace(in.Address),
		Location:    strings.TrimSpace(in.Location),
		Items:       items,
		Total:       total,
		Status:      models.StatusNew,
		CreatedAt:   now.UTC(),
	}
}

// SumItems totals the snapshot prices; lines with unparseable prices count as zero.
func SumItems(items []models.OrderItem) int64 {
	var total int64
	for _, it := range items {
		if price, ok := models.ParsePrice(it.Price); ok {
			total += price * int64(it.Quantity)
		}
	}
	return total
}
