package discovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/storefront/pkg/config"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// Registry announces storefront instances in etcd under a leased key so that
// peers and operators can see which processes share the data store.
type Registry struct {
	client *clientv3.Client
	config *config.EtcdConfig
	lease  clientv3.LeaseID
	logger *zap.Logger
}

type Instance struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

func NewRegistry(cfg *config.EtcdConfig, logger *zap.Logger) (*Registry, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   cfg.Endpoints,
		DialTimeout: cfg.DialTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	return &Registry{
		client: cli,
		config: cfg,
		logger: logger.Named("registry"),
	}, nil
}

func (r *Registry) key(inst Instance) string {
	return r.config.ServicePrefix + inst.Name + "/" + inst.Address
}

// Register puts the instance under a lease that is kept alive until ctx is
// cancelled or Deregister is called.
func (r *Registry) Register(ctx context.Context, inst Instance) error {
	lease, err := r.client.Grant(ctx, r.config.LeaseTTL)
	if err != nil {
		return fmt.Errorf("failed to create lease: %w", err)
	}

	if _, err := r.client.Put(ctx, r.key(inst), inst.Address, clientv3.WithLease(lease.ID)); err != nil {
		return fmt.Errorf("failed to register instance: %w", err)
	}

	ch, err := r.client.KeepAlive(ctx, lease.ID)
	if err != nil {
		return fmt.Errorf("failed to keep alive: %w", err)
	}
	r.lease = lease.ID

	go func() {
		for range ch {
		}
		r.logger.Debug("Lease keep-alive stopped", zap.String("key", r.key(inst)))
	}()
	return nil
}

// Instances lists every registered instance of the named service.
func (r *Registry) Instances(ctx context.Context, name string) ([]Instance, error) {
	prefix := r.config.ServicePrefix + name + "/"
	resp, err := r.client.Get(ctx, prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list instances: %w", err)
	}

	instances := make([]Instance, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		instances = append(instances, Instance{
			Name:    name,
			Address: strings.TrimPrefix(string(kv.Key), prefix),
		})
	}
	return instances, nil
}

func (r *Registry) Deregister(ctx context.Context, inst Instance) error {
	if _, err := r.client.Delete(ctx, r.key(inst)); err != nil {
		return fmt.Errorf("failed to deregister instance: %w", err)
	}
	if r.lease != 0 {
		if _, err := r.client.Revoke(ctx, r.lease); err != nil {
			r.logger.Warn("Failed to revoke lease", zap.Error(err))
		}
	}
	return nil
}

func (r *Registry) Close() error {
	return r.client.Close()
}
