package config

import (
	"strings"

	"github.com/marmos91/dittodir/pkg/directory"
	"github.com/marmos91/dittodir/pkg/store/kv/badger"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend-specific defaults are filled in for every backend type so a
//     generated config file documents them all
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyBackendDefaults(&cfg.Backend)
	applyDirectoryDefaults(&cfg.Directory)
	applySourcesDefaults(&cfg.Sources)

	// Metrics.Enabled defaults to false
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyBackendDefaults sets backend defaults.
func applyBackendDefaults(cfg *BackendConfig) {
	if cfg.Type == "" {
		cfg.Type = "badger"
	}

	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}

	if _, ok := cfg.Memory["collection"]; !ok {
		cfg.Memory["collection"] = badger.DefaultCollection
	}

	if _, ok := cfg.Badger["db_path"]; !ok {
		cfg.Badger["db_path"] = "/tmp/dittodir"
	}
	if _, ok := cfg.Badger["collection"]; !ok {
		cfg.Badger["collection"] = badger.DefaultCollection
	}
	if _, ok := cfg.Badger["compression"]; !ok {
		cfg.Badger["compression"] = "zstd"
	}
	if _, ok := cfg.Badger["sync_writes"]; !ok {
		cfg.Badger["sync_writes"] = true
	}
}

// applyDirectoryDefaults sets directory defaults.
func applyDirectoryDefaults(cfg *DirectoryConfig) {
	if cfg.ChunkSize == 0 {
		cfg.ChunkSize = directory.DefaultChunkSize
	}
	if cfg.FlushThreshold == 0 {
		cfg.FlushThreshold = directory.DefaultFlushThreshold
	}
	// CreateRetries defaults to 0: conflicts are surfaced
}

// applySourcesDefaults sets import source defaults.
func applySourcesDefaults(cfg *SourcesConfig) {
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
