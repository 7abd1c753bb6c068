package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func twoLineOrder() *Order {
	return &Order{
		ID:     1,
		Status: StatusNew,
		Items: []OrderItem{
			{ProductID: 1, Name: "Figs", Quantity: 2},
			{ProductID: 2, Name: "Dates", Quantity: 1},
		},
	}
}

func TestNextItemStatus(t *testing.T) {
	tests := []struct {
		current, requested ItemStatus
		next               ItemStatus
		terminal           bool
	}{
		{ItemUnresolved, ItemDelivered, ItemDelivered, false},
		{ItemUnresolved, ItemNotFound, ItemNotFound, false},
		{ItemNotFound, ItemNotFound, ItemUnresolved, false},
		{ItemNotFound, ItemDelivered, ItemDelivered, false},
		{ItemNotFound, ItemUnresolved, ItemUnresolved, false},
		{ItemUnresolved, ItemUnresolved, ItemUnresolved, false},
		{ItemDelivered, ItemDelivered, ItemDelivered, true},
		{ItemDelivered, ItemNotFound, ItemDelivered, true},
		{ItemDelivered, ItemUnresolved, ItemDelivered, true},
	}
	for _, tt := range tests {
		next, terminal := NextItemStatus(tt.current, tt.requested)
		assert.Equal(t, tt.next, next, "%q -> %q", tt.current, tt.requested)
		assert.Equal(t, tt.terminal, terminal, "%q -> %q", tt.current, tt.requested)
	}
}

func TestApplyItemStatus_ToggleTwiceIsIdentity(t *testing.T) {
	o := twoLineOrder()
	assert.False(t, o.ApplyItemStatus(0, ItemNotFound, now))
	assert.Equal(t, ItemNotFound, o.Items[0].Status)
	assert.False(t, o.ApplyItemStatus(0, ItemNotFound, now))
	assert.Equal(t, ItemUnresolved, o.Items[0].Status)
	assert.False(t, o.IsCompleted)
}

func TestApplyItemStatus_DeliveredIsTerminal(t *testing.T) {
	o := twoLineOrder()
	require.False(t, o.ApplyItemStatus(0, ItemDelivered, now))
	before := *o.Clone()

	assert.True(t, o.ApplyItemStatus(0, ItemDelivered, now.Add(time.Hour)))
	assert.True(t, o.ApplyItemStatus(0, ItemUnresolved, now.Add(time.Hour)))
	assert.Equal(t, before, *o)
}

func TestApplyItemStatus_LastResolutionCompletes(t *testing.T) {
	o := twoLineOrder()
	o.ApplyItemStatus(0, ItemDelivered, now)
	assert.False(t, o.IsCompleted)
	assert.Equal(t, StatusNew, o.Status)

	o.ApplyItemStatus(1, ItemNotFound, now)
	assert.True(t, o.IsCompleted)
	assert.Equal(t, StatusCompleted, o.Status)
	require.NotNil(t, o.CompletedAt)
	assert.True(t, o.CompletedAt.Equal(now))
}

func TestResolveCompletion_DoesNotRestamp(t *testing.T) {
	o := twoLineOrder()
	o.Items[0].Status = ItemDelivered
	o.Items[1].Status = ItemNotFound
	assert.True(t, o.ResolveCompletion(now))
	assert.False(t, o.ResolveCompletion(now.Add(time.Hour)))
	assert.True(t, o.CompletedAt.Equal(now))
}

func TestAllResolved_EmptyOrder(t *testing.T) {
	assert.False(t, (&Order{}).AllResolved())
}

func TestOrderStatus_CanTransitionTo(t *testing.T) {
	allowed := [][2]OrderStatus{
		{StatusNew, StatusAccepted},
		{StatusNew, StatusOutForDelivery},
		{StatusAccepted, StatusOutForDelivery},
		{StatusOutForDelivery, StatusDelivered},
		{StatusNew, StatusCancelled},
		{StatusOutForDelivery, StatusCancelled},
		{StatusAccepted, StatusAccepted},
	}
	for _, tr := range allowed {
		assert.True(t, tr[0].CanTransitionTo(tr[1]), "%s -> %s", tr[0], tr[1])
	}

	denied := [][2]OrderStatus{
		{StatusAccepted, StatusNew},
		{StatusDelivered, StatusCancelled},
		{StatusCancelled, StatusAccepted},
		{StatusCompleted, StatusAccepted},
		{StatusNew, StatusCompleted},
		{StatusNew, OrderStatus("Yangi")},
	}
	for _, tr := range denied {
		assert.False(t, tr[0].CanTransitionTo(tr[1]), "%s -> %s", tr[0], tr[1])
	}
}

func TestProduct_ReserveAndSnapshot(t *testing.T) {
	p := Product{ID: 1, Name: "Figs", Price: "12 000 so'm", Stock: 2}
	snap := p.Snapshot(2)
	p.Reserve(2)

	assert.Equal(t, 0, p.Stock)
	assert.Equal(t, 2, p.Sold)
	assert.True(t, p.OutOfStock)
	assert.Equal(t, ItemUnresolved, snap.Status)
	assert.Equal(t, "Figs", snap.Name)

	p.Name = "Dried figs"
	assert.Equal(t, "Figs", snap.Name)
}

func TestParsePrice(t *testing.T) {
	n, ok := ParsePrice("12 000 so'm")
	assert.True(t, ok)
	assert.Equal(t, int64(12000), n)

	_, ok = ParsePrice("free")
	assert.False(t, ok)
}

func TestOrder_ProductIDs(t *testing.T) {
	o := &Order{Items: []OrderItem{{ProductID: 3}, {ProductID: 1}, {ProductID: 3}}}
	assert.Equal(t, []int64{3, 1}, o.ProductIDs())
}
