package models

import (
	"strconv"
	"strings"
	"time"
)

type Product struct {
	ID         int64     `bson:"id" json:"id"`
	Name       string    `bson:"name" json:"name"`
	Price      string    `bson:"price" json:"price"`
	Image      string    `bson:"image" json:"image"`
	Category   string    `bson:"category" json:"category"`
	Stock      int       `bson:"stock" json:"stock"`
	Sold       int       `bson:"sold" json:"sold"`
	OutOfStock bool      `bson:"outOfStock" json:"outOfStock"`
	CreatedAt  time.Time `bson:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time `bson:"updatedAt" json:"updatedAt"`
}

func (Product) CollectionName() string {
	return "products"
}

// Reserve moves qty units from stock to sold. Callers check availability first.
func (p *Product) Reserve(qty int) {
	p.Stock -= qty
	p.Sold += qty
	p.RefreshStockFlag()
}

func (p *Product) RefreshStockFlag() {
	p.OutOfStock = p.Stock <= 0
}

// Snapshot copies the display fields into a new unresolved order line.
func (p *Product) Snapshot(qty int) OrderItem {
	return OrderItem{
		ProductID: p.ID,
		Name:      p.Name,
		Price:     p.Price,
		Image:     p.Image,
		Category:  p.Category,
		Quantity:  qty,
		Status:    ItemUnresolved,
	}
}

// ParsePrice reads the digits of a display price such as "12 000 so'm" as a
// whole-unit amount. The second result is false when the string has no digits.
func ParsePrice(s string) (int64, bool) {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return 0, false
	}
	n, err := strconv.ParseInt(b.String(), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
