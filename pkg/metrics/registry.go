// Package metrics provides Prometheus metrics collection for DittoDir.
//
// All metrics are optional - if not initialized, components use no-op
// implementations that have zero overhead. This allows a directory to run
// with or without metrics collection enabled.
//
// Usage:
//
//	metrics.InitRegistry()
//	dir := directory.New(store, directory.WithMetrics(metrics.NewDirectoryMetrics("badger")))
//	...
//	_ = metrics.WriteText(os.Stderr, metrics.GetRegistry())
//
// Without WithMetrics a directory records nothing.
package metrics

import (
	"fmt"
	"io"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

var (
	// registry is the global Prometheus registry for all DittoDir metrics
	// Protected by registryOnce for write-once, read-many pattern
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry initializes the global Prometheus registry.
//
// This must be called before creating any metrics instances. It's safe to call
// multiple times - subsequent calls are ignored.
//
// If not called, GetRegistry() will return nil and all metrics constructors
// will return no-op implementations.
func InitRegistry() {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()
	})
}

// GetRegistry returns the global Prometheus registry.
//
// Returns nil if InitRegistry() has not been called, indicating metrics
// are disabled.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled returns true if metrics collection is enabled.
func IsEnabled() bool {
	return GetRegistry() != nil
}

// WriteText writes every metric gathered from g in the Prometheus text
// exposition format. Command-line tools use it to dump metrics on exit
// instead of serving them.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, family := range families {
		if _, err := expfmt.MetricFamilyToText(w, family); err != nil {
			return fmt.Errorf("failed to write metric %s: %w", family.GetName(), err)
		}
	}
	return nil
}
