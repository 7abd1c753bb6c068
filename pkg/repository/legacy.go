package repository

import (
	"encoding/json"
	"math"

	"github.com/example/storefront/pkg/models"
)

// productRecord accepts legacy rows that carry "quantity" instead of "stock".
type productRecord struct {
	models.Product
	Stock    *int `json:"stock"`
	Quantity *int `json:"quantity"`
}

func (rec productRecord) product() models.Product {
	p := rec.Product
	switch {
	case rec.Stock != nil:
		p.Stock = *rec.Stock
	case rec.Quantity != nil:
		p.Stock = *rec.Quantity
	}
	p.RefreshStockFlag()
	return p
}

// legacyStatuses maps the workflow labels older deployments stored.
var legacyStatuses = map[string]models.OrderStatus{
	"":                 models.StatusNew,
	"Yangi":            models.StatusNew,
	"Qabul qilindi":    models.StatusAccepted,
	"Yetkazilmoqda":    models.StatusOutForDelivery,
	"Yetkazib berildi": models.StatusDelivered,
	"Bekor qilindi":    models.StatusCancelled,
	"Tugallandi":       models.StatusCompleted,
}

// cartLine is an order line as older deployments wrote it: keyed by "id".
type cartLine struct {
	models.OrderItem
	ID int64 `json:"id"`
}

// orderRecord reads both the current order layout and the older one, where
// lines live under "cart", the placement time is "date" and totals may be
// fractional.
type orderRecord struct {
	models.Order
	Total json.Number     `json:"total"`
	Cart  []cartLine      `json:"cart"`
	Date  json.RawMessage `json:"date"`
}

func (rec orderRecord) order() models.Order {
	o := rec.Order
	if len(o.Items) == 0 && len(rec.Cart) > 0 {
		o.Items = make([]models.OrderItem, len(rec.Cart))
		for i, l := range rec.Cart {
			it := l.OrderItem
			if it.ProductID == 0 {
				it.ProductID = l.ID
			}
			o.Items[i] = it
		}
	}
	for i := range o.Items {
		if o.Items[i].Quantity < 1 {
			o.Items[i].Quantity = 1
		}
	}

	if o.CreatedAt.IsZero() && len(rec.Date) > 0 {
		// unparseable dates leave the order undated
		_ = json.Unmarshal(rec.Date, &o.CreatedAt)
	}
	if o.OrderNumber == 0 {
		o.OrderNumber = o.ID
	}
	if status, ok := legacyStatuses[string(o.Status)]; ok {
		o.Status = status
	}
	if o.IsCompleted {
		o.Status = models.StatusCompleted
	}

	if n, err := rec.Total.Int64(); err == nil {
		o.Total = n
	} else if f, err := rec.Total.Float64(); err == nil {
		o.Total = int64(math.Round(f))
	}
	return o
}
