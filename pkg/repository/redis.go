package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/store"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const catalogVersionKey = "catalog:version"

// CachedRepository serves catalog reads (product lists, single products,
// categories) from Redis and delegates everything else to the wrapped
// backend. Cache keys embed a catalog version that is bumped on every write
// touching products, so stale entries are never read again and expire by TTL.
//
// Stock checks for order placement always go to the backend.
type CachedRepository struct {
	store.Backend
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
	logger *zap.Logger
}

var _ store.Backend = (*CachedRepository)(nil)

func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

func NewCachedRepository(backend store.Backend, client *redis.Client, ttl time.Duration, logger *zap.Logger) *CachedRepository {
	return &CachedRepository{
		Backend: backend,
		client:  client,
		ttl:     ttl,
		logger:  logger.Named("catalog-cache"),
	}
}

func (c *CachedRepository) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}
	return c.Backend.Ping(ctx)
}

func (c *CachedRepository) Close(ctx context.Context) error {
	return errors.Join(c.client.Close(), c.Backend.Close(ctx))
}

func (c *CachedRepository) version(ctx context.Context) (string, error) {
	v, err := c.client.Get(ctx, catalogVersionKey).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	return v, err
}

// invalidate bumps the catalog version. A failure is logged: the entries it
// should have retired still expire after the TTL.
func (c *CachedRepository) invalidate(ctx context.Context) {
	if err := c.client.Incr(ctx, catalogVersionKey).Err(); err != nil {
		c.logger.Warn("Failed to invalidate catalog cache", zap.Error(err))
	}
}

// cached loads key from Redis or fills it with load. Redis failures degrade
// to a direct backend read.
func cached[T any](ctx context.Context, c *CachedRepository, name string, load func() (T, error)) (T, error) {
	ver, err := c.version(ctx)
	if err != nil {
		c.logger.Warn("Catalog cache unavailable", zap.Error(err))
		return load()
	}
	key := fmt.Sprintf("catalog:%s:%s", ver, name)

	var out T
	if data, err := c.client.Get(ctx, key).Bytes(); err == nil {
		if err := json.Unmarshal(data, &out); err == nil {
			return out, nil
		}
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		val, err := load()
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(val); err == nil {
			if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
				c.logger.Warn("Failed to fill catalog cache", zap.String("key", key), zap.Error(err))
			}
		}
		return val, nil
	})
	if err != nil {
		return out, err
	}
	return v.(T), nil
}

func (c *CachedRepository) ListProducts(ctx context.Context, f store.ProductFilter) ([]models.Product, error) {
	name := "products:" + strconv.Quote(f.Category) + ":" + strconv.Quote(f.Query)
	return cached(ctx, c, name, func() ([]models.Product, error) {
		return c.Backend.ListProducts(ctx, f)
	})
}

func (c *CachedRepository) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return cached(ctx, c, "product:"+strconv.FormatInt(id, 10), func() (*models.Product, error) {
		return c.Backend.GetProduct(ctx, id)
	})
}

func (c *CachedRepository) ListCategories(ctx context.Context) ([]string, error) {
	return cached(ctx, c, "categories", func() ([]string, error) {
		return c.Backend.ListCategories(ctx)
	})
}

func (c *CachedRepository) CreateProduct(ctx context.Context, in store.ProductInput) (*models.Product, error) {
	p, err := c.Backend.CreateProduct(ctx, in)
	if err == nil {
		c.invalidate(ctx)
	}
	return p, err
}

func (c *CachedRepository) UpdateProduct(ctx context.Context, id int64, patch store.ProductPatch) (*models.Product, error) {
	p, err := c.Backend.UpdateProduct(ctx, id, patch)
	if err == nil {
		c.invalidate(ctx)
	}
	return p, err
}

func (c *CachedRepository) DeleteProduct(ctx context.Context, id int64) error {
	err := c.Backend.DeleteProduct(ctx, id)
	if err == nil {
		c.invalidate(ctx)
	}
	return err
}

func (c *CachedRepository) CreateOrder(ctx context.Context, in store.NewOrder) (*models.Order, error) {
	o, err := c.Backend.CreateOrder(ctx, in)
	if err == nil {
		c.invalidate(ctx)
	}
	return o, err
}

func (c *CachedRepository) CompleteOrder(ctx context.Context, id int64) (*models.Order, error) {
	o, err := c.Backend.CompleteOrder(ctx, id)
	if err == nil {
		c.invalidate(ctx)
	}
	return o, err
}
