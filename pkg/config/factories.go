package config

import (
	"context"
	"fmt"

	"github.com/marmos91/dittodir/internal/logger"
	"github.com/marmos91/dittodir/pkg/directory"
	"github.com/marmos91/dittodir/pkg/metrics"
	"github.com/marmos91/dittodir/pkg/store/kv"
	"github.com/marmos91/dittodir/pkg/store/kv/badger"
	"github.com/marmos91/dittodir/pkg/store/kv/memory"
	s3source "github.com/marmos91/dittodir/pkg/source/s3"
	"github.com/mitchellh/mapstructure"
)

// CreateStore creates a transactional store based on configuration.
//
// This factory function uses the Type field to determine which backend
// implementation to create, then decodes the type-specific configuration
// from the corresponding map and passes it to the store's constructor.
//
// Supported types:
//   - "memory": Uses pkg/store/kv/memory (in-process, ephemeral)
//   - "badger": Uses pkg/store/kv/badger (BadgerDB, persistent)
//
// Parameters:
//   - ctx: Context for initialization operations
//   - cfg: Backend configuration
//
// Returns:
//   - kv.Store: Initialized store
//   - error: Configuration or initialization error
func CreateStore(ctx context.Context, cfg *BackendConfig) (kv.Store, error) {
	switch cfg.Type {
	case "memory":
		return createMemoryStore(ctx, cfg.Memory)
	case "badger":
		return createBadgerStore(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown backend type: %q (supported: memory, badger)", cfg.Type)
	}
}

// createMemoryStore creates an in-memory store.
func createMemoryStore(ctx context.Context, options map[string]any) (kv.Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type MemoryStoreOptions struct {
		Collection string `mapstructure:"collection"`
	}

	var storeOpts MemoryStoreOptions
	if err := mapstructure.Decode(options, &storeOpts); err != nil {
		return nil, fmt.Errorf("failed to decode memory backend options: %w", err)
	}
	if storeOpts.Collection == "" {
		storeOpts.Collection = badger.DefaultCollection
	}

	logger.Warn("memory backend selected: files are lost when the process exits")
	return memory.New(storeOpts.Collection), nil
}

// createBadgerStore creates a BadgerDB-backed persistent store.
func createBadgerStore(ctx context.Context, options map[string]any) (kv.Store, error) {
	var storeCfg badger.Config
	if err := mapstructure.Decode(options, &storeCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger backend options: %w", err)
	}

	if !storeCfg.InMemory && storeCfg.DBPath == "" {
		return nil, fmt.Errorf("badger backend: db_path is required")
	}

	store, err := badger.New(ctx, storeCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create badger backend: %w", err)
	}

	logger.Info("badger backend initialized: path=%s, collection=%s, compression=%s",
		storeCfg.DBPath, storeCfg.Collection, storeCfg.Compression)

	return store, nil
}

// DirectoryOptions translates the directory section (and the metrics
// collector, which may be nil) into directory options.
func DirectoryOptions(cfg *DirectoryConfig, m metrics.DirectoryMetrics) []directory.Option {
	opts := []directory.Option{
		directory.WithChunkSize(cfg.ChunkSize),
		directory.WithFlushThreshold(cfg.FlushThreshold),
		directory.WithCreateRetries(cfg.CreateRetries),
	}
	if m != nil {
		opts = append(opts, directory.WithMetrics(m))
	}
	return opts
}

// CreateDirectory creates the configured backend and a directory over it.
//
// The directory owns the store: Directory.Close clears and closes it. Callers
// that only want to release resources should close the returned store
// instead.
func CreateDirectory(ctx context.Context, cfg *Config, m metrics.DirectoryMetrics) (*directory.Directory, kv.Store, error) {
	store, err := CreateStore(ctx, &cfg.Backend)
	if err != nil {
		return nil, nil, err
	}

	return directory.New(store, DirectoryOptions(&cfg.Directory, m)...), store, nil
}

// CreateS3Source creates an S3 import source.
//
// Required keys: bucket, region. Optional: key_prefix, endpoint,
// access_key_id, secret_access_key, max_retries.
func CreateS3Source(ctx context.Context, options map[string]any) (*s3source.Source, error) {
	type S3SourceConfig struct {
		Bucket    string `mapstructure:"bucket"`
		KeyPrefix string `mapstructure:"key_prefix"`

		s3source.ClientConfig `mapstructure:",squash"`
	}

	var srcCfg S3SourceConfig
	if err := mapstructure.Decode(options, &srcCfg); err != nil {
		return nil, fmt.Errorf("failed to decode S3 source config: %w", err)
	}

	if srcCfg.Bucket == "" {
		return nil, fmt.Errorf("S3 source: bucket is required")
	}
	if srcCfg.Region == "" {
		return nil, fmt.Errorf("S3 source: region is required")
	}

	client, err := s3source.NewClient(ctx, srcCfg.ClientConfig)
	if err != nil {
		return nil, err
	}

	src, err := s3source.New(s3source.Config{
		Client:    client,
		Bucket:    srcCfg.Bucket,
		KeyPrefix: srcCfg.KeyPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 source: %w", err)
	}

	logger.Info("S3 source initialized: bucket=%s, region=%s, prefix=%s",
		srcCfg.Bucket, srcCfg.Region, srcCfg.KeyPrefix)

	return src, nil
}
