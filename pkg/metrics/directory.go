package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DirectoryMetrics provides observability for directory operations.
//
// This interface is optional - if not provided to a directory, operations
// proceed without metrics collection (zero overhead).
//
// Example usage:
//
//	// With metrics enabled
//	m := metrics.NewDirectoryMetrics("badger")
//	dir := directory.New(store, directory.WithMetrics(m))
//
//	// Without metrics (no-op)
//	dir := directory.New(store)
type DirectoryMetrics interface {
	// ObserveOperation records a completed directory operation.
	//
	// Parameters:
	//   - operation: Operation name (e.g., "Create", "Open", "Delete")
	//   - duration: Time taken to complete the operation
	//   - err: Error if operation failed, nil if successful
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordConflict records a compare-and-replace that lost a race.
	//
	// Parameters:
	//   - operation: Operation that hit the conflict
	//   - retried: Whether the operation retried instead of failing
	RecordConflict(operation string, retried bool)

	// RecordBytesWritten records bytes committed by a flush.
	RecordBytesWritten(n int64)

	// SetAggregateSize updates the locally tracked directory size.
	SetAggregateSize(bytes int64)
}

// directoryMetrics is the Prometheus implementation of DirectoryMetrics.
type directoryMetrics struct {
	backend           string
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	conflictsTotal    *prometheus.CounterVec
	bytesWritten      prometheus.Counter
	aggregateSize     prometheus.Gauge
}

// NewDirectoryMetrics creates directory metrics registered on the global
// registry. Returns a no-op implementation if InitRegistry has not been
// called.
//
// Parameters:
//   - backend: Backend type label (e.g., "memory", "badger")
func NewDirectoryMetrics(backend string) DirectoryMetrics {
	reg := GetRegistry()
	if reg == nil {
		return noopDirectoryMetrics{}
	}
	return NewDirectoryMetricsWithRegistry(reg, backend)
}

// NewDirectoryMetricsWithRegistry creates directory metrics registered on
// reg. Tests use it with a private registry.
func NewDirectoryMetricsWithRegistry(reg prometheus.Registerer, backend string) DirectoryMetrics {
	return &directoryMetrics{
		backend: backend,
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodir_operations_total",
				Help: "Total number of directory operations by backend, operation, and status",
			},
			[]string{"backend", "operation", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "dittodir_operation_duration_seconds",
				Help: "Duration of directory operations in seconds",
				Buckets: []float64{
					0.0001, // 100µs
					0.0005, // 500µs
					0.001,  // 1ms
					0.005,  // 5ms
					0.01,   // 10ms
					0.05,   // 50ms
					0.1,    // 100ms
					0.5,    // 500ms
					1.0,    // 1s
				},
			},
			[]string{"backend", "operation"},
		),
		conflictsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "dittodir_conflicts_total",
				Help: "Compare-and-replace conflicts by operation and whether they were retried",
			},
			[]string{"backend", "operation", "retried"},
		),
		bytesWritten: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name:        "dittodir_bytes_written_total",
				Help:        "Bytes committed by output channel flushes",
				ConstLabels: prometheus.Labels{"backend": backend},
			},
		),
		aggregateSize: promauto.With(reg).NewGauge(
			prometheus.GaugeOpts{
				Name:        "dittodir_aggregate_size_bytes",
				Help:        "Best-effort total size of files tracked by this directory instance",
				ConstLabels: prometheus.Labels{"backend": backend},
			},
		),
	}
}

func (m *directoryMetrics) ObserveOperation(operation string, duration time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	m.operationsTotal.WithLabelValues(m.backend, operation, status).Inc()
	m.operationDuration.WithLabelValues(m.backend, operation).Observe(duration.Seconds())
}

func (m *directoryMetrics) RecordConflict(operation string, retried bool) {
	label := "false"
	if retried {
		label = "true"
	}
	m.conflictsTotal.WithLabelValues(m.backend, operation, label).Inc()
}

func (m *directoryMetrics) RecordBytesWritten(n int64) {
	m.bytesWritten.Add(float64(n))
}

func (m *directoryMetrics) SetAggregateSize(bytes int64) {
	m.aggregateSize.Set(float64(bytes))
}

// noopDirectoryMetrics is a no-op implementation of DirectoryMetrics with zero overhead.
type noopDirectoryMetrics struct{}

func (noopDirectoryMetrics) ObserveOperation(operation string, duration time.Duration, err error) {}
func (noopDirectoryMetrics) RecordConflict(operation string, retried bool)                      {}
func (noopDirectoryMetrics) RecordBytesWritten(n int64)                                         {}
func (noopDirectoryMetrics) SetAggregateSize(bytes int64)                                       {}
