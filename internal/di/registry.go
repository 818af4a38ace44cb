package di

import (
	"context"
	"fmt"
	"sort"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"memcore/internal/config"
	"memcore/internal/embedder"
	"memcore/internal/infrastructure/persistence/dynamodb"
	"memcore/internal/infrastructure/persistence/memory"
	"memcore/internal/repository"
)

// StoreConstructor builds a store backend from configuration.
type StoreConstructor func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, error)

// EmbedderConstructor builds an embedder backend from configuration.
type EmbedderConstructor func(cfg *config.Config) (repository.Embedder, error)

// storeRegistry maps backend names to constructors. Backends are chosen
// by configuration at runtime; adding one is a single registration here.
var storeRegistry = map[string]StoreConstructor{
	"memory": func(_ context.Context, cfg *config.Config, _ *zap.Logger) (repository.Store, error) {
		return memory.NewStore(cfg.Store.Dimension), nil
	},
	"dynamodb": func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, error) {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Store.Region))
		if err != nil {
			return nil, fmt.Errorf("failed to load AWS config: %w", err)
		}
		client := awsdynamodb.NewFromConfig(awsCfg)
		return dynamodb.NewStore(client, cfg.Store.TableName, cfg.Store.Dimension, logger), nil
	},
}

var embedderRegistry = map[string]EmbedderConstructor{
	"fake": func(cfg *config.Config) (repository.Embedder, error) {
		return embedder.NewFake(cfg.Store.Dimension), nil
	},
	"http": func(cfg *config.Config) (repository.Embedder, error) {
		return embedder.NewClient(embedder.Config{
			BaseURL:   cfg.Embedder.BaseURL,
			APIKey:    cfg.Embedder.APIKey,
			Model:     cfg.Embedder.Model,
			Dimension: cfg.Store.Dimension,
			Timeout:   cfg.Embedder.Timeout,
		}), nil
	},
}

// NewStore builds the store backend named in the configuration.
func NewStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Store, error) {
	build, ok := storeRegistry[cfg.Store.Backend]
	if !ok {
		return nil, fmt.Errorf("unknown store backend %q (available: %v)",
			cfg.Store.Backend, registeredNames(storeRegistry))
	}
	return build(ctx, cfg, logger)
}

// NewEmbedder builds the embedder backend named in the configuration.
func NewEmbedder(cfg *config.Config) (repository.Embedder, error) {
	build, ok := embedderRegistry[cfg.Embedder.Backend]
	if !ok {
		return nil, fmt.Errorf("unknown embedder backend %q (available: %v)",
			cfg.Embedder.Backend, registeredNames(embedderRegistry))
	}
	return build(cfg)
}

func registeredNames[T any](registry map[string]T) []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
