package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"

	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

const (
	orderSeq   = "order"
	productSeq = "product"
)

// MongoRepository stores one document per product and per order. Stock is
// reserved with conditional $inc updates so two processes can never drive a
// product below zero.
type MongoRepository struct {
	client   *mongo.Client
	database *mongo.Database
	products *mongo.Collection
	orders   *mongo.Collection
	counters *mongo.Collection
	config   *config.MongoDBConfig
	now      func() time.Time
	logger   *zap.Logger
}

var _ store.Backend = (*MongoRepository)(nil)

func NewMongoRepository(ctx context.Context, cfg *config.MongoDBConfig, logger *zap.Logger) (*MongoRepository, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI).SetTimeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	db := client.Database(cfg.Database)
	m := &MongoRepository{
		client:   client,
		database: db,
		products: db.Collection(cfg.ProductsCollection),
		orders:   db.Collection(cfg.OrdersCollection),
		counters: db.Collection(cfg.CountersCollection),
		config:   cfg,
		now:      time.Now,
		logger:   logger.Named("mongo-store"),
	}

	if err := m.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	if err := m.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return m, nil
}

func (m *MongoRepository) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	if _, err := m.products.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "category", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("failed to create product indexes: %w", err)
	}
	if _, err := m.orders.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "id", Value: 1}}, Options: unique},
		{Keys: bson.D{{Key: "createdAt", Value: -1}}},
	}); err != nil {
		return fmt.Errorf("failed to create order indexes: %w", err)
	}
	return nil
}

// Database exposes the underlying database for auxiliary collections such as
// the audit log.
func (m *MongoRepository) Database() *mongo.Database {
	return m.database
}

func (m *MongoRepository) Info() store.Info {
	return store.Info{Backend: config.DriverMongo}
}

func (m *MongoRepository) Ping(ctx context.Context) error {
	if err := m.client.Ping(ctx, nil); err != nil {
		return store.Storage("ping MongoDB", err)
	}
	return nil
}

func (m *MongoRepository) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}

// nextSeq atomically increments and returns the named counter.
func (m *MongoRepository) nextSeq(ctx context.Context, name string) (int64, error) {
	var doc struct {
		Seq int64 `bson:"seq"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := m.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		opts,
	).Decode(&doc)
	if err != nil {
		return 0, store.Storage("allocate "+name+" id", err)
	}
	return doc.Seq, nil
}

// ---- products ----

func productFilter(f store.ProductFilter) bson.M {
	filter := bson.M{}
	if f.Category != "" {
		filter["category"] = f.Category
	}
	if f.Query != "" {
		filter["name"] = bson.M{"$regex": regexp.QuoteMeta(f.Query), "$options": "i"}
	}
	return filter
}

func (m *MongoRepository) ListProducts(ctx context.Context, f store.ProductFilter) ([]models.Product, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "id", Value: -1}})
	cursor, err := m.products.Find(ctx, productFilter(f), opts)
	if err != nil {
		return nil, store.Storage("list products", err)
	}
	defer cursor.Close(ctx)

	products := make([]models.Product, 0)
	if err = cursor.All(ctx, &products); err != nil {
		return nil, store.Storage("decode products", err)
	}
	return products, nil
}

func (m *MongoRepository) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	var p models.Product
	err := m.products.FindOne(ctx, bson.M{"id": id}).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ProductNotFound(id)
	}
	if err != nil {
		return nil, store.Storage("get product", err)
	}
	return &p, nil
}

func (m *MongoRepository) ListCategories(ctx context.Context) ([]string, error) {
	values, err := m.products.Distinct(ctx, "category", bson.M{"category": bson.M{"$nin": bson.A{"", nil}}})
	if err != nil {
		return nil, store.Storage("list categories", err)
	}
	cats := make([]string, 0, len(values))
	for _, v := range values {
		if s, ok := v.(string); ok && s != "" {
			cats = append(cats, s)
		}
	}
	slices.Sort(cats)
	return cats, nil
}

func (m *MongoRepository) CreateProduct(ctx context.Context, in store.ProductInput) (*models.Product, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	id, err := m.nextSeq(ctx, productSeq)
	if err != nil {
		return nil, err
	}
	now := m.now().UTC()
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
	if _, err := m.products.InsertOne(ctx, p); err != nil {
		return nil, store.Storage("insert product", err)
	}
	return &p, nil
}

func (m *MongoRepository) UpdateProduct(ctx context.Context, id int64, patch store.ProductPatch) (*models.Product, error) {
	if err := patch.Validate(); err != nil {
		return nil, err
	}
	set := bson.M{"updatedAt": m.now().UTC()}
	if patch.Name != nil && *patch.Name != "" {
		set["name"] = *patch.Name
	}
	if patch.Price != nil && *patch.Price != "" {
		set["price"] = *patch.Price
	}
	if patch.Image != nil && *patch.Image != "" {
		set["image"] = *patch.Image
	}
	if patch.Category != nil && *patch.Category != "" {
		set["category"] = *patch.Category
	}
	if patch.Stock != nil {
		set["stock"] = *patch.Stock
		set["outOfStock"] = *patch.Stock <= 0
	}

	var p models.Product
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	err := m.products.FindOneAndUpdate(ctx, bson.M{"id": id}, bson.M{"$set": set}, opts).Decode(&p)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.ProductNotFound(id)
	}
	if err != nil {
		return nil, store.Storage("update product", err)
	}
	return &p, nil
}

func (m *MongoRepository) DeleteProduct(ctx context.Context, id int64) error {
	if _, err := m.products.DeleteOne(ctx, bson.M{"id": id}); err != nil {
		return store.Storage("delete product", err)
	}
	return nil
}

// refreshStockFlags recomputes outOfStock from the stored stock in one
// pipeline update, without touching the stock itself.
func (m *MongoRepository) refreshStockFlags(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "outOfStock", Value: bson.D{{Key: "$lte", Value: bson.A{"$stock", 0}}}},
		}}},
	}
	if _, err := m.products.UpdateMany(ctx, bson.M{"id": bson.M{"$in": ids}}, update); err != nil {
		return store.Storage("refresh stock flags", err)
	}
	return nil
}

// ---- orders ----

func (m *MongoRepository) ListOrders(ctx context.Context, f store.OrderFilter) ([]models.Order, error) {
	filter := bson.M{}
	if f.Completed != nil {
		filter["isCompleted"] = *f.Completed
	}
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "id", Value: -1}})
	cursor, err := m.orders.Find(ctx, filter, opts)
	if err != nil {
		return nil, store.Storage("list orders", err)
	}
	defer cursor.Close(ctx)

	orders := make([]models.Order, 0)
	if err = cursor.All(ctx, &orders); err != nil {
		return nil, store.Storage("decode orders", err)
	}
	return orders, nil
}

func (m *MongoRepository) GetOrder(ctx context.Context, id int64) (*models.Order, error) {
	var o models.Order
	err := m.orders.FindOne(ctx, bson.M{"id": id}).Decode(&o)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, store.OrderNotFound(id)
	}
	if err != nil {
		return nil, store.Storage("get order", err)
	}
	return &o, nil
}

// CreateOrder validates every line first, then reserves each product with a
// conditional decrement. If any decrement loses a race, the lines already
// reserved are released and the order is rejected.
func (m *MongoRepository) CreateOrder(ctx context.Context, in store.NewOrder) (*models.Order, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	items, _, err := store.CheckStock(ctx, in, m.GetProduct)
	if err != nil {
		return nil, err
	}

	now := m.now()
	ids, demand := in.Demand()
	reserved := make([]int64, 0, len(ids))
	for _, pid := range ids {
		qty := demand[pid]
		res, err := m.products.UpdateOne(ctx,
			bson.M{"id": pid, "stock": bson.M{"$gte": qty}},
			bson.M{
				"$inc": bson.M{"stock": -qty, "sold": qty},
				"$set": bson.M{"updatedAt": now.UTC()},
			},
		)
		if err != nil {
			m.release(ctx, reserved, demand)
			return nil, store.Storage("reserve stock", err)
		}
		if res.MatchedCount == 0 {
			m.release(ctx, reserved, demand)
			return nil, m.reservationConflict(ctx, pid, qty)
		}
		reserved = append(reserved, pid)
	}
	if err := m.refreshStockFlags(ctx, ids); err != nil {
		m.logger.Warn("Failed to refresh stock flags", zap.Error(err))
	}

	id, err := m.nextSeq(ctx, orderSeq)
	if err != nil {
		m.release(ctx, reserved, demand)
		return nil, err
	}
	order := store.BuildOrder(id, in, items, now)
	if _, err := m.orders.InsertOne(ctx, order); err != nil {
		m.release(ctx, reserved, demand)
		return nil, store.Storage("insert order", err)
	}
	return order, nil
}

// release gives reserved units back after a failed order. It runs detached
// from the caller's cancellation so a timed-out request still compensates.
func (m *MongoRepository) release(ctx context.Context, ids []int64, demand map[int64]int) {
	if len(ids) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, pid := range ids {
		qty := demand[pid]
		_, err := m.products.UpdateOne(ctx,
			bson.M{"id": pid},
			bson.M{"$inc": bson.M{"stock": qty, "sold": -qty}},
		)
		if err != nil {
			m.logger.Error("Failed to release reserved stock",
				zap.Int64("product_id", pid), zap.Int("quantity", qty), zap.Error(err))
		}
	}
	if err := m.refreshStockFlags(ctx, ids); err != nil {
		m.logger.Warn("Failed to refresh stock flags", zap.Error(err))
	}
}

// reservationConflict explains why a conditional decrement matched nothing.
func (m *MongoRepository) reservationConflict(ctx context.Context, id int64, qty int) error {
	p, err := m.GetProduct(ctx, id)
	if err != nil {
		return err
	}
	return &store.InsufficientStockError{
		ProductID: id,
		Name:      p.Name,
		Requested: qty,
		Remaining: max(p.Stock, 0),
	}
}

func (m *MongoRepository) SetOrderStatus(ctx context.Context, id int64, status models.OrderStatus) (*models.Order, error) {
	o, err := m.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	changed, err := store.ApplyOrderStatus(o, status)
	if err != nil {
		return nil, err
	}
	if !changed {
		return o, nil
	}
	if _, err := m.orders.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": bson.M{"status": o.Status}}); err != nil {
		return nil, store.Storage("update order status", err)
	}
	return o, nil
}

func (m *MongoRepository) SetOrderItemStatus(ctx context.Context, id int64, upd store.ItemUpdate) (*store.ItemResult, error) {
	if err := upd.Validate(); err != nil {
		return nil, err
	}
	o, err := m.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	res, err := store.ApplyItemUpdate(o, upd, m.now())
	if err != nil {
		return nil, err
	}
	if res.AlreadyTerminal {
		return res, nil
	}
	if _, err := m.orders.ReplaceOne(ctx, bson.M{"id": id}, o); err != nil {
		return nil, store.Storage("save order", err)
	}
	return res, nil
}

func (m *MongoRepository) CompleteOrder(ctx context.Context, id int64) (*models.Order, error) {
	o, err := m.GetOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.IsCompleted {
		return o, nil
	}
	// stock was reserved when the order was placed; only the flag is refreshed
	if err := m.refreshStockFlags(ctx, o.ProductIDs()); err != nil {
		return nil, err
	}
	o.MarkCompleted(m.now())
	_, err = m.orders.UpdateOne(ctx, bson.M{"id": id}, bson.M{"$set": bson.M{
		"status":      o.Status,
		"isCompleted": o.IsCompleted,
		"completedAt": o.CompletedAt,
	}})
	if err != nil {
		return nil, store.Storage("complete order", err)
	}
	return o, nil
}
