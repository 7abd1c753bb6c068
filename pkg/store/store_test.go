package store

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/example/storefront/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func catalog(products ...models.Product) ProductLookup {
	byID := make(map[int64]models.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return func(_ context.Context, id int64) (*models.Product, error) {
		p, ok := byID[id]
		if !ok {
			return nil, ProductNotFound(id)
		}
		return &p, nil
	}
}

func order(lines ...OrderLine) NewOrder {
	return NewOrder{Name: "Aziz", Phone: "+998", Address: "Tashkent", Items: lines}
}

func TestNewOrder_Validate(t *testing.T) {
	tests := []struct {
		name  string
		in    NewOrder
		field string
	}{
		{"missing name", NewOrder{Phone: "1", Address: "a", Items: []OrderLine{{ProductID: 1, Quantity: 1}}}, "name"},
		{"missing phone", NewOrder{Name: "n", Address: "a", Items: []OrderLine{{ProductID: 1, Quantity: 1}}}, "phone"},
		{"blank address", NewOrder{Name: "n", Phone: "1", Address: "  ", Items: []OrderLine{{ProductID: 1, Quantity: 1}}}, "address"},
		{"empty cart", NewOrder{Name: "n", Phone: "1", Address: "a"}, "items"},
		{"zero quantity", order(OrderLine{ProductID: 1}), "items"},
		{"line above cap", order(OrderLine{ProductID: 1, Quantity: MaxQuantity + 1}), "items"},
		{"duplicate lines overflow", order(
			OrderLine{ProductID: 1, Quantity: math.MaxInt},
			OrderLine{ProductID: 1, Quantity: math.MaxInt},
		), "items"},
		{"duplicate lines above cap", order(
			OrderLine{ProductID: 1, Quantity: MaxQuantity},
			OrderLine{ProductID: 1, Quantity: 1},
		), "items"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.field, ve.Field)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
	assert.NoError(t, order(OrderLine{ProductID: 1, Quantity: 1}).Validate())
}

func TestCheckStock(t *testing.T) {
	lookup := catalog(
		models.Product{ID: 1, Name: "Figs", Price: "10 000", Stock: 5},
		models.Product{ID: 2, Name: "Dates", Price: "5 000", Stock: 3},
	)

	t.Run("all lines fit", func(t *testing.T) {
		items, products, err := CheckStock(context.Background(), order(
			OrderLine{ProductID: 1, Quantity: 2},
			OrderLine{ProductID: 2, Quantity: 1},
		), lookup)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Len(t, products, 2)
		assert.Equal(t, "Figs", items[0].Name)
		assert.Equal(t, models.ItemUnresolved, items[1].Status)
	})

	t.Run("missing product names the line", func(t *testing.T) {
		_, _, err := CheckStock(context.Background(), order(
			OrderLine{ProductID: 1, Quantity: 1},
			OrderLine{ProductID: 9, Quantity: 1, Name: "Apricots"},
		), lookup)
		var nf *NotFoundError
		require.ErrorAs(t, err, &nf)
		assert.Equal(t, int64(9), nf.ID)
		assert.Equal(t, "Apricots", nf.Name)
		assert.NotErrorIs(t, err, ErrInsufficientStock)
	})

	t.Run("short line reports remaining", func(t *testing.T) {
		_, _, err := CheckStock(context.Background(), order(
			OrderLine{ProductID: 1, Quantity: 1},
			OrderLine{ProductID: 2, Quantity: 4},
		), lookup)
		var ise *InsufficientStockError
		require.ErrorAs(t, err, &ise)
		assert.Equal(t, "Dates", ise.Name)
		assert.Equal(t, 3, ise.Remaining)
		assert.Equal(t, 4, ise.Requested)
	})

	t.Run("repeated product lines are summed", func(t *testing.T) {
		_, _, err := CheckStock(context.Background(), order(
			OrderLine{ProductID: 2, Quantity: 2},
			OrderLine{ProductID: 2, Quantity: 2},
		), lookup)
		assert.ErrorIs(t, err, ErrInsufficientStock)
	})

	t.Run("overflowing lines are rejected before lookup", func(t *testing.T) {
		looked := false
		_, _, err := CheckStock(context.Background(), order(
			OrderLine{ProductID: 1, Quantity: math.MaxInt},
			OrderLine{ProductID: 1, Quantity: math.MaxInt},
		), func(ctx context.Context, id int64) (*models.Product, error) {
			looked = true
			return lookup(ctx, id)
		})
		assert.ErrorIs(t, err, ErrValidation)
		assert.False(t, looked)
	})
}

func TestBuildOrder_DerivesTotal(t *testing.T) {
	items := []models.OrderItem{
		{ProductID: 1, Price: "10 000 so'm", Quantity: 2},
		{ProductID: 2, Price: "5 000", Quantity: 1},
	}
	o := BuildOrder(11, order(), items, time.Now())
	assert.Equal(t, int64(25000), o.Total)
	assert.Equal(t, int64(11), o.OrderNumber)
	assert.Equal(t, models.StatusNew, o.Status)
	assert.False(t, o.IsCompleted)

	in := order()
	in.Total = 99
	assert.Equal(t, int64(99), BuildOrder(12, in, items, time.Now()).Total)
}

func TestApplyItemUpdate(t *testing.T) {
	now := time.Now()
	o := &models.Order{Items: []models.OrderItem{{ProductID: 4}, {ProductID: 8}}}

	res, err := ApplyItemUpdate(o, ItemUpdate{Ref: ForProduct(8), Status: models.ItemDelivered}, now)
	require.NoError(t, err)
	assert.Equal(t, models.ItemDelivered, res.Item.Status)
	assert.False(t, res.Completed)

	res, err = ApplyItemUpdate(o, ItemUpdate{Ref: AtIndex(0), Status: models.ItemNotFound}, now)
	require.NoError(t, err)
	assert.True(t, res.Completed)
	assert.True(t, o.IsCompleted)

	res, err = ApplyItemUpdate(o, ItemUpdate{Ref: AtIndex(1), Status: models.ItemDelivered}, now)
	require.NoError(t, err)
	assert.True(t, res.AlreadyTerminal)
	assert.False(t, res.Completed)

	_, err = ApplyItemUpdate(o, ItemUpdate{Ref: AtIndex(5), Status: models.ItemDelivered}, now)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestApplyOrderStatus(t *testing.T) {
	o := &models.Order{Status: models.StatusNew}
	changed, err := ApplyOrderStatus(o, models.StatusAccepted)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = ApplyOrderStatus(o, models.StatusAccepted)
	require.NoError(t, err)
	assert.False(t, changed)

	_, err = ApplyOrderStatus(o, models.StatusNew)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ApplyOrderStatus(o, models.StatusCompleted)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestErrors_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := Storage("write orders.json", cause)
	assert.ErrorIs(t, err, ErrStorage)
	assert.ErrorIs(t, err, cause)
	assert.Nil(t, Storage("noop", nil))

	assert.ErrorIs(t, OrderNotFound(3), ErrNotFound)
	assert.EqualError(t, ProductNotFound(3), "product 3 not found")
}

func TestProductInput_Validate(t *testing.T) {
	neg := -1
	in := ProductInput{Name: "Figs", Price: "1", Image: "f.png", Category: "fruit"}
	assert.NoError(t, in.Validate())
	assert.Equal(t, DefaultStock, in.StockOrDefault())

	in.Stock = &neg
	assert.ErrorIs(t, in.Validate(), ErrValidation)
	assert.ErrorIs(t, ProductInput{Name: "x"}.Validate(), ErrValidation)
}

func TestProductFilter_Match(t *testing.T) {
	p := &models.Product{Name: "Dried Figs", Category: "fruit"}
	assert.True(t, ProductFilter{}.Match(p))
	assert.True(t, ProductFilter{Query: "figs"}.Match(p))
	assert.False(t, ProductFilter{Category: "nuts"}.Match(p))
}
