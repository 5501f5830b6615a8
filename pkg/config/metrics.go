package config

import (
	"github.com/marmos91/dittodir/pkg/metrics"
)

// InitializeMetrics creates the directory metrics collector from configuration.
//
// If metrics are enabled in the configuration:
//   - Initializes the global Prometheus registry
//   - Creates a Prometheus-backed DirectoryMetrics labelled with the backend type
//
// If metrics are disabled it returns nil, which the directory treats as
// "no metrics" (zero overhead).
func InitializeMetrics(cfg *Config) metrics.DirectoryMetrics {
	if !cfg.Metrics.Enabled {
		return nil
	}

	metrics.InitRegistry()
	return metrics.NewDirectoryMetrics(cfg.Backend.Type)
}
