package main

import (
	"context"
	"fmt"
	"os"

	"github.com/example/storefront/pkg/config"
	"github.com/example/storefront/pkg/logger"
	"github.com/example/storefront/pkg/repository"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

// import copies the JSON file store into MongoDB so a deployment can move off
// the file backend. Re-running it adds only what is missing unless --force.
func main() {
	configPath := pflag.String("config", "config/config.yaml", "path to the YAML config file")
	dir := pflag.String("dir", "", "directory holding products.json and orders.json (default files.dir)")
	force := pflag.Bool("force", false, "replace documents that already exist")
	dryRun := pflag.Bool("dry-run", false, "report what was found without writing")
	pflag.Parse()

	// Load config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Setup logger
	log, err := logger.New(&cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("Failed to create logger: %v", err))
	}
	defer log.Sync()

	if !cfg.MongoDB.Usable() {
		log.Error("mongodb.uri (or MONGODB_URI) must be a mongodb:// or mongodb+srv:// uri")
		os.Exit(2)
	}

	files := cfg.Files
	files.ReadOnly = true
	if *dir != "" {
		files.Dir = *dir
	}
	source, err := repository.NewFileRepository(&files, log)
	if err != nil {
		log.Fatal("Failed to open file store", zap.Error(err))
	}
	products, orders, err := source.Load()
	if err != nil {
		log.Fatal("Failed to read file store", zap.Error(err))
	}
	log.Info("File store read",
		zap.String("dir", files.Dir),
		zap.Int("products", len(products)),
		zap.Int("orders", len(orders)))

	if *dryRun {
		log.Info("Dry run, nothing written")
		return
	}

	ctx := context.Background()
	target, err := repository.NewMongoRepository(ctx, &cfg.MongoDB, log)
	if err != nil {
		log.Fatal("Failed to connect to MongoDB", zap.Error(err))
	}
	defer target.Close(context.Background())

	pRes, err := target.ImportProducts(ctx, products, *force)
	if err != nil {
		log.Fatal("Failed to import products", zap.Error(err))
	}
	oRes, err := target.ImportOrders(ctx, orders, *force)
	if err != nil {
		log.Fatal("Failed to import orders", zap.Error(err))
	}

	log.Info("Import complete",
		zap.Int("products_added", pRes.Added),
		zap.Int("products_updated", pRes.Updated),
		zap.Int("products_skipped", pRes.Skipped),
		zap.Int("orders_added", oRes.Added),
		zap.Int("orders_updated", oRes.Updated),
		zap.Int("orders_skipped", oRes.Skipped))
}
