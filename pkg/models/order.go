package models

import (
	"time"
)

type ItemStatus string

const (
	ItemUnresolved ItemStatus = ""
	ItemDelivered  ItemStatus = "delivered"
	ItemNotFound   ItemStatus = "not_found"
)

func (s ItemStatus) Valid() bool {
	switch s {
	case ItemUnresolved, ItemDelivered, ItemNotFound:
		return true
	}
	return false
}

// Resolved reports whether the line has a recorded fulfillment outcome.
func (s ItemStatus) Resolved() bool {
	return s == ItemDelivered || s == ItemNotFound
}

type OrderStatus string

const (
	StatusNew            OrderStatus = "new"
	StatusAccepted       OrderStatus = "accepted"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
	StatusCompleted      OrderStatus = "completed"
)

type Order struct {
	ID          int64       `bson:"id" json:"id"`
	OrderNumber int64       `bson:"orderNumber" json:"orderNumber"`
	Name        string      `bson:"name" json:"name"`
	Phone       string      `bson:"phone" json:"phone"`
	Address     string      `bson:"address" json:"address"`
	Location    string      `bson:"location" json:"location"`
	Items       []OrderItem `bson:"items" json:"items"`
	Total       int64       `bson:"total" json:"total"`
	Status      OrderStatus `bson:"status" json:"status"`
	CreatedAt   time.Time   `bson:"createdAt" json:"createdAt"`
	IsCompleted bool        `bson:"isCompleted" json:"isCompleted"`
	CompletedAt *time.Time  `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
}

func (Order) CollectionName() string {
	return "orders"
}

type OrderItem struct {
	ProductID int64      `bson:"productId" json:"productId"`
	Name      string     `bson:"name" json:"name"`
	Price     string     `bson:"price" json:"price"`
	Image     string     `bson:"image" json:"image"`
	Category  string     `bson:"category" json:"category"`
	Quantity  int        `bson:"quantity" json:"quantity"`
	Status    ItemStatus `bson:"status" json:"status"`
}

// ProductIDs returns the distinct products referenced by the order, in line order.
func (o *Order) ProductIDs() []int64 {
	seen := make(map[int64]struct{}, len(o.Items))
	ids := make([]int64, 0, len(o.Items))
	for _, it := range o.Items {
		if _, ok := seen[it.ProductID]; ok {
			continue
		}
		seen[it.ProductID] = struct{}{}
		ids = append(ids, it.ProductID)
	}
	return ids
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}
