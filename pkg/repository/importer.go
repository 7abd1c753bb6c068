package repository

import (
	"context"

	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type ImportResult struct {
	Added   int
	Updated int
	Skipped int
}

// Load reads the whole catalog and order book in the current layout, whatever
// layout the files were written in.
func (r *FileRepository) Load() ([]models.Product, []models.Order, error) {
	products, err := r.loadProducts()
	if err != nil {
		return nil, nil, err
	}
	orders, err := r.loadOrders()
	if err != nil {
		return nil, nil, err
	}
	return products, orders, nil
}

// ImportProducts copies products into the collection keyed by id. Existing
// documents are left alone unless force is set, in which case they are
// replaced. The product sequence is advanced past every imported id.
func (m *MongoRepository) ImportProducts(ctx context.Context, products []models.Product, force bool) (ImportResult, error) {
	var (
		res   ImportResult
		maxID int64
	)
	for _, p := range products {
		p.RefreshStockFlag()
		added, updated, err := m.importOne(ctx, m.products, p.ID, p, force)
		if err != nil {
			return res, store.Storage("import product", err)
		}
		res.count(added, updated)
		maxID = max(maxID, p.ID)
	}
	return res, m.raiseSeq(ctx, productSeq, maxID)
}

// ImportOrders behaves like ImportProducts for orders and the order sequence.
func (m *MongoRepository) ImportOrders(ctx context.Context, orders []models.Order, force bool) (ImportResult, error) {
	var (
		res   ImportResult
		maxID int64
	)
	for _, o := range orders {
		added, updated, err := m.importOne(ctx, m.orders, o.ID, o, force)
		if err != nil {
			return res, store.Storage("import order", err)
		}
		res.count(added, updated)
		maxID = max(maxID, o.ID)
	}
	return res, m.raiseSeq(ctx, orderSeq, maxID)
}

func (r *ImportResult) count(added, updated bool) {
	switch {
	case added:
		r.Added++
	case updated:
		r.Updated++
	default:
		r.Skipped++
	}
}

func (m *MongoRepository) importOne(ctx context.Context, coll *mongo.Collection, id int64, doc any, force bool) (added, updated bool, err error) {
	filter := bson.M{"id": id}
	if force {
		res, err := coll.ReplaceOne(ctx, filter, doc, options.Replace().SetUpsert(true))
		if err != nil {
			return false, false, err
		}
		return res.UpsertedCount > 0, res.MatchedCount > 0, nil
	}
	res, err := coll.UpdateOne(ctx, filter, bson.M{"$setOnInsert": doc}, options.Update().SetUpsert(true))
	if err != nil {
		return false, false, err
	}
	return res.UpsertedCount > 0, false, nil
}

// raiseSeq moves the named counter up to at least n so later allocations
// cannot collide with imported ids.
func (m *MongoRepository) raiseSeq(ctx context.Context, name string, n int64) error {
	if n == 0 {
		return nil
	}
	_, err := m.counters.UpdateOne(ctx,
		bson.M{"_id": name},
		bson.M{"$max": bson.M{"seq": n}},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		return store.Storage("advance "+name+" sequence", err)
	}
	return nil
}
