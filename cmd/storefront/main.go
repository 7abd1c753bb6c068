package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/storefront/gateway"
	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/discovery"
	"github.com/example/storefront/pkg/lock"
	"github.com/example/storefront/pkg/logger"
	"github.com/example/storefront/pkg/notify"
	"github.com/example/storefront/pkg/repository"
	"github.com/example/storefront/pkg/service"
	"github.com/example/storefront/pkg/store"
	"go.uber.org/zap"
)

func main() {
	configPath := "config/config.yaml"
	if p := os.Getenv("STOREFRONT_CONFIG"); p != "" {
		configPath = p
	}

	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Setup logger
	log, err := logger.New(&cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer log.Sync()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	backend, mongoRepo, err := openBackend(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to open storage backend", zap.Error(err))
	}
	info := backend.Info()
	log.Info("Storage backend ready",
		zap.String("backend", info.Backend),
		zap.Bool("read_only", info.ReadOnly))

	locker, err := newLocker(cfg, log)
	if err != nil {
		log.Fatal("Failed to create lock discipline", zap.Error(err))
	}

	sinks := []notify.Notifier{notify.NewLogNotifier(log)}
	var publisher *notify.AMQPPublisher
	if cfg.AMQP.Enabled() {
		publisher, err = notify.NewAMQPPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			log.Warn("AMQP unavailable, continuing without broker notifications", zap.Error(err))
		} else {
			sinks = append(sinks, publisher)
		}
	}
	if mongoRepo != nil && cfg.Notify.Audit {
		audit := mongoRepo.Database().Collection(cfg.MongoDB.AuditCollection)
		sinks = append(sinks, notify.NewAuditNotifier(audit, cfg.Server.Name))
	}
	dispatcher := notify.NewDispatcher(cfg.Notify.Timeout, log, sinks...)

	svc := service.NewOrderService(backend, locker, dispatcher, log)
	gw := gateway.NewGateway(&cfg.Server, svc, log)

	var registry *discovery.Registry
	instance := discovery.Instance{Name: cfg.Server.Name, Address: cfg.Server.Addr()}
	if cfg.Etcd.Register && cfg.Etcd.Enabled() {
		registry, err = discovery.NewRegistry(&cfg.Etcd, log)
		if err == nil {
			err = registry.Register(ctx, instance)
		}
		if err != nil {
			log.Warn("Failed to register in etcd, continuing without registration", zap.Error(err))
			if registry != nil {
				registry.Close()
				registry = nil
			}
		} else {
			gw.WithPeers(registry)
			log.Info("Instance registered in etcd", zap.String("address", instance.Address))
		}
	}
	gw.SetupRoutes()

	// Start gateway in goroutine
	gwErr := make(chan error, 1)
	go func() {
		if err := gw.Start(); err != nil {
			gwErr <- err
		}
	}()

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		log.Info("Received shutdown signal")
	case err := <-gwErr:
		log.Error("Gateway error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := gw.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to stop gateway", zap.Error(err))
	}
	if registry != nil {
		if err := registry.Deregister(shutdownCtx, instance); err != nil {
			log.Error("Failed to deregister instance", zap.Error(err))
		}
		registry.Close()
	}
	stop()

	// in-flight notifications finish before their sinks close
	dispatcher.Wait()
	if publisher != nil {
		if err := publisher.Close(); err != nil {
			log.Warn("Failed to close AMQP publisher", zap.Error(err))
		}
	}
	if err := locker.Close(); err != nil {
		log.Warn("Failed to close lock discipline", zap.Error(err))
	}
	if err := backend.Close(shutdownCtx); err != nil {
		log.Error("Failed to close storage backend", zap.Error(err))
	}

	log.Info("Storefront stopped")
}

// openBackend picks the storage backend once for the life of the process. The
// Mongo repository is also returned so the audit sink can share its database.
func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Backend, *repository.MongoRepository, error) {
	var (
		backend   store.Backend
		mongoRepo *repository.MongoRepository
		err       error
	)
	switch cfg.StorageDriver() {
	case config.DriverMongo:
		mongoRepo, err = repository.NewMongoRepository(ctx, &cfg.MongoDB, log)
		if err != nil {
			return nil, nil, err
		}
		backend = mongoRepo
	default:
		backend, err = repository.NewFileRepository(&cfg.Files, log)
		if err != nil {
			return nil, nil, err
		}
	}

	if cfg.Redis.Enabled() {
		client := repository.NewRedisClient(&cfg.Redis)
		if err := client.Ping(ctx).Err(); err != nil {
			log.Warn("Redis connection failed, catalog cache disabled", zap.Error(err))
			client.Close()
		} else {
			log.Info("Redis connected successfully")
			backend = repository.NewCachedRepository(backend, client, cfg.Redis.TTL, log)
		}
	}
	return backend, mongoRepo, nil
}

func newLocker(cfg *config.Config, log *zap.Logger) (lock.Locker, error) {
	switch cfg.Lock.Discipline {
	case config.DisciplineActor:
		return lock.NewActorLocker(cfg.Lock.Timeout, log)
	case config.DisciplineEtcd:
		return lock.NewEtcdLocker(&cfg.Etcd, cfg.Lock.Timeout, log)
	default:
		return lock.NewMutexLocker(cfg.Lock.Timeout), nil
	}
}
