package repository

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/store"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// newMongoRepo connects to the server named by STOREFRONT_TEST_MONGODB_URI
// and seeds a throwaway database that is dropped when the test ends.
func newMongoRepo(t *testing.T) *MongoRepository {
	t.Helper()
	uri := os.Getenv("STOREFRONT_TEST_MONGODB_URI")
	if uri == "" {
		t.Skip("STOREFRONT_TEST_MONGODB_URI not set")
	}
	cfg := &config.MongoDBConfig{
		URI:                uri,
		Database:           "storefront_test_" + uuid.NewString()[:8],
		ProductsCollection: "products",
		OrdersCollection:   "orders",
		CountersCollection: "counters",
		Timeout:            10 * time.Second,
	}
	ctx := context.Background()
	m, err := NewMongoRepository(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = m.Database().Drop(context.Background())
		_ = m.Close(context.Background())
	})

	docs := make([]interface{}, 0, 3)
	for _, p := range stocked() {
		p.RefreshStockFlag()
		docs = append(docs, p)
	}
	_, err = m.products.InsertMany(ctx, docs)
	require.NoError(t, err)
	return m
}

func TestMongoRepository_CreateOrder(t *testing.T) {
	m := newMongoRepo(t)
	ctx := context.Background()

	o, err := m.CreateOrder(ctx, customer(
		store.OrderLine{ProductID: 1, Quantity: 2},
		store.OrderLine{ProductID: 2, Quantity: 1},
	))
	require.NoError(t, err)
	assert.Equal(t, int64(1), o.ID)
	assert.Equal(t, o.ID, o.OrderNumber)

	p1, err := m.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, p1.Stock)
	assert.Equal(t, 2, p1.Sold)

	_, err = m.CreateOrder(ctx, customer(
		store.OrderLine{ProductID: 1, Quantity: 1},
		store.OrderLine{ProductID: 3, Quantity: 2},
	))
	assert.ErrorIs(t, err, store.ErrInsufficientStock)

	p1, err = m.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, p1.Stock)

	stored, err := m.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.Items, stored.Items)
}

func TestMongoRepository_ConcurrentOrdersNeverOversell(t *testing.T) {
	m := newMongoRepo(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.CreateOrder(ctx, customer(store.OrderLine{ProductID: 2, Quantity: 1}))
		}()
	}
	wg.Wait()

	p, err := m.GetProduct(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Stock)
	assert.Equal(t, 3, p.Sold)
	assert.True(t, p.OutOfStock)
}

func TestMongoRepository_Fulfillment(t *testing.T) {
	m := newMongoRepo(t)
	ctx := context.Background()
	o, err := m.CreateOrder(ctx, customer(
		store.OrderLine{ProductID: 1, Quantity: 1},
		store.OrderLine{ProductID: 2, Quantity: 1},
	))
	require.NoError(t, err)

	_, err = m.SetOrderItemStatus(ctx, o.ID, store.ItemUpdate{Ref: store.AtIndex(0), Status: models.ItemDelivered})
	require.NoError(t, err)
	res, err := m.SetOrderItemStatus(ctx, o.ID, store.ItemUpdate{Ref: store.ForProduct(2), Status: models.ItemNotFound})
	require.NoError(t, err)
	assert.True(t, res.Completed)

	stored, err := m.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsCompleted)
	assert.Equal(t, models.StatusCompleted, stored.Status)

	done, err := m.CompleteOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, done.IsCompleted)

	completed := true
	list, err := m.ListOrders(ctx, store.OrderFilter{Completed: &completed})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestMongoRepository_Products(t *testing.T) {
	m := newMongoRepo(t)
	ctx := context.Background()

	p, err := m.CreateProduct(ctx, store.ProductInput{Name: "Raisins", Price: "4 000", Image: "r.png", Category: "dried"})
	require.NoError(t, err)
	assert.Equal(t, store.DefaultStock, p.Stock)

	found, err := m.ListProducts(ctx, store.ProductFilter{Query: "rais"})
	require.NoError(t, err)
	require.Len(t, found, 1)

	cats, err := m.ListCategories(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dried", "fruit", "nuts"}, cats)

	zero := 0
	edited, err := m.UpdateProduct(ctx, p.ID, store.ProductPatch{Stock: &zero})
	require.NoError(t, err)
	assert.True(t, edited.OutOfStock)

	require.NoError(t, m.DeleteProduct(ctx, p.ID))
	_, err = m.GetProduct(ctx, p.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMongoRepository_Import(t *testing.T) {
	m := newMongoRepo(t)
	ctx := context.Background()

	products := []models.Product{
		{ID: 1, Name: "Figs (imported)", Price: "11 000", Category: "fruit", Stock: 9},
		{ID: 1700000000000, Name: "Apricots", Price: "7 000", Category: "fruit", Stock: 0},
	}
	res, err := m.ImportProducts(ctx, products, false)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Added: 1, Skipped: 1}, res)

	p, err := m.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Figs", p.Name)
	apricots, err := m.GetProduct(ctx, 1700000000000)
	require.NoError(t, err)
	assert.True(t, apricots.OutOfStock)

	res, err = m.ImportProducts(ctx, products, true)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Updated: 2}, res)
	p, err = m.GetProduct(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Figs (imported)", p.Name)

	orders := []models.Order{{
		ID: 40, OrderNumber: 40, Name: "Old", Status: models.StatusNew,
		Items: []models.OrderItem{{ProductID: 1, Name: "Figs", Quantity: 1}},
	}}
	res, err = m.ImportOrders(ctx, orders, false)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Added: 1}, res)
	res, err = m.ImportOrders(ctx, orders, false)
	require.NoError(t, err)
	assert.Equal(t, ImportResult{Skipped: 1}, res)

	next, err := m.CreateOrder(ctx, customer(store.OrderLine{ProductID: 1, Quantity: 1}))
	require.NoError(t, err)
	assert.Equal(t, int64(41), next.ID)

	created, err := m.CreateProduct(ctx, store.ProductInput{Name: "Kiwi", Price: "1", Image: "k.png", Category: "fruit"})
	require.NoError(t, err)
	assert.Greater(t, created.ID, int64(1700000000000))
}
