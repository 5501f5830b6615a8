package directory

import (
	"time"

	"github.com/marmos91/dittodir/internal/clock"
	"github.com/marmos91/dittodir/pkg/metrics"
)

const (
	// DefaultChunkSize is the capacity of one content chunk.
	DefaultChunkSize = 1024

	// MaxChunkSize bounds the chunk size so that one chunk always fits in a
	// single backend value.
	MaxChunkSize = 512 * 1024

	// DefaultFlushThreshold is the number of pending bytes after which an
	// OutputChannel flushes on its own.
	DefaultFlushThreshold = 64 * 1024

	// touchSpinInterval is the pause between clock reads while Touch waits
	// for the millisecond clock to move past the stored timestamp.
	touchSpinInterval = 100 * time.Microsecond

	// touchSpinLimit bounds that wait. A stored timestamp ahead of the
	// local clock (another writer with a skewed clock) is then bumped by
	// one millisecond instead.
	touchSpinLimit = 100

	// openRetries is how many times Open reloads a file whose chunks were
	// removed by a concurrent Create or Delete while it was reading them.
	openRetries = 3
)

// Option configures a Directory.
type Option func(*options)

type options struct {
	chunkSize      int
	flushThreshold int
	createRetries  int
	clock          clock.Clock
	metrics        metrics.DirectoryMetrics
}

func defaultOptions() options {
	return options{
		chunkSize:      DefaultChunkSize,
		flushThreshold: DefaultFlushThreshold,
		clock:          clock.Real(),
	}
}

// WithChunkSize sets the chunk size of files created by the directory.
// Existing files keep the chunk size they were created with. Values below
// one or above MaxChunkSize are ignored.
func WithChunkSize(size int) Option {
	return func(o *options) {
		if size > 0 && size <= MaxChunkSize {
			o.chunkSize = size
		}
	}
}

// WithFlushThreshold sets how many bytes an OutputChannel buffers before
// committing them. Values below one are ignored.
func WithFlushThreshold(bytes int) Option {
	return func(o *options) {
		if bytes > 0 {
			o.flushThreshold = bytes
		}
	}
}

// WithCreateRetries makes Create retry its snapshot and compare-and-replace
// up to n more times before returning ErrTransactionConflict. The default
// is 0: conflicts are surfaced to the caller.
func WithCreateRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.createRetries = n
		}
	}
}

// WithClock replaces the wall clock used for modification times.
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithMetrics enables metrics collection. A nil value disables it.
func WithMetrics(m metrics.DirectoryMetrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}
