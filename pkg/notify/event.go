// Package notify delivers best-effort notices about order activity to
// messaging transports. Delivery never affects the operation that caused it.
package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/storefront/pkg/models"
)

type Kind string

const (
	OrderCreated     Kind = "order.created"
	ItemStatusUpdate Kind = "order.item_updated"
	OrderCompleted   Kind = "order.completed"
)

type Customer struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	Location string `json:"location,omitempty"`
}

type ItemNotice struct {
	ProductID int64             `json:"productId"`
	Name      string            `json:"name"`
	Quantity  int               `json:"quantity"`
	Status    models.ItemStatus `json:"status"`
}

type Event struct {
	Kind        Kind               `json:"kind"`
	OrderID     int64              `json:"orderId"`
	OrderNumber int64              `json:"orderNumber"`
	Customer    Customer           `json:"customer"`
	Status      models.OrderStatus `json:"status"`
	Total       int64              `json:"total"`
	Items       []ItemNotice       `json:"items,omitempty"`
	// Item is the line that changed, for ItemStatusUpdate.
	Item *ItemNotice `json:"item,omitempty"`
	// Manual marks a completion requested by staff rather than derived from items.
	Manual bool      `json:"manual,omitempty"`
	At     time.Time `json:"at"`
}

func newEvent(kind Kind, o *models.Order, at time.Time) Event {
	items := make([]ItemNotice, len(o.Items))
	for i, it := range o.Items {
		items[i] = notice(it)
	}
	return Event{
		Kind:        kind,
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Customer: Customer{
			Name:     o.Name,
			Phone:    o.Phone,
			Address:  o.Address,
			Location: o.Location,
		},
		Status: o.Status,
		Total:  o.Total,
		Items:  items,
		At:     at.UTC(),
	}
}

func notice(it models.OrderItem) ItemNotice {
	return ItemNotice{ProductID: it.ProductID, Name: it.Name, Quantity: it.Quantity, Status: it.Status}
}

func Created(o *models.Order) Event {
	return newEvent(OrderCreated, o, time.Now())
}

func ItemUpdated(o *models.Order, it models.OrderItem) Event {
	e := newEvent(ItemStatusUpdate, o, time.Now())
	n := notice(it)
	e.Item = &n
	return e
}

func Completed(o *models.Order, manual bool) Event {
	e := newEvent(OrderCompleted, o, time.Now())
	e.Manual = manual
	return e
}

// Text renders the event as a short human-readable message.
func (e Event) Text() string {
	var b strings.Builder
	switch e.Kind {
	case OrderCreated:
		fmt.Fprintf(&b, "New order #%d\n", e.OrderNumber)
		fmt.Fprintf(&b, "Customer: %s | %s | %s\n", e.Customer.Name, e.Customer.Phone, e.Customer.Address)
		if e.Customer.Location != "" {
			fmt.Fprintf(&b, "Location: %s\n", e.Customer.Location)
		}
		for _, it := range e.Items {
			fmt.Fprintf(&b, "- %s x%d\n", it.Name, it.Quantity)
		}
		fmt.Fprintf(&b, "Total: %d", e.Total)
	case ItemStatusUpdate:
		fmt.Fprintf(&b, "Order #%d item updated\n", e.OrderNumber)
		if e.Item != nil {
			status := string(e.Item.Status)
			if status == "" {
				status = "unresolved"
			}
			fmt.Fprintf(&b, "Item: %s\nStatus: %s", e.Item.Name, status)
		}
	case OrderCompleted:
		fmt.Fprintf(&b, "Order #%d completed\n", e.OrderNumber)
		fmt.Fprintf(&b, "Customer: %s | %s | %s", e.Customer.Name, e.Customer.Phone, e.Customer.Address)
	default:
		fmt.Fprintf(&b, "Order #%d: %s", e.OrderNumber, e.Kind)
	}
	return b.String()
}

type Notifier interface {
	Notify(ctx context.Context, evt Event) error
}

type NotifierFunc func(ctx context.Context, evt Event) error

func (f NotifierFunc) Notify(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}
