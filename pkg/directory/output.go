package directory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/marmos91/dittodir/internal/logger"
	"github.com/marmos91/dittodir/pkg/store/kv"
	"github.com/zeebo/blake3"
)

// OutputChannel appends content to a file created by Directory.Create.
//
// Written bytes are buffered and committed as a new record version when
// the buffer reaches the flush threshold, on Flush and on Close. Each
// commit adds the chunks the buffered bytes complete and replaces the
// header with a compare-and-replace against the version the channel
// committed last, so the channel fails instead of overwriting a file that
// was touched or recreated by someone else.
//
// Flush takes a context. Write and Close have none in their signatures, so
// the commits they trigger run under context.Background(): a channel stays
// usable after the context passed to Create has ended.
type OutputChannel struct {
	dir    *Directory
	handle *handle

	mu      sync.Mutex
	base    FileRecord
	pending []byte
	hasher  *blake3.Hasher
	closed  bool
}

var _ io.WriteCloser = (*OutputChannel)(nil)

func newOutputChannel(dir *Directory, rec FileRecord, h *handle) *OutputChannel {
	return &OutputChannel{
		dir:    dir,
		handle: h,
		base:   rec,
		hasher: blake3.New(),
	}
}

// Name returns the file name.
func (o *OutputChannel) Name() string {
	return o.base.Name
}

// Length returns the committed length plus the buffered bytes.
func (o *OutputChannel) Length() int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.base.Length + int64(len(o.pending))
}

// Write buffers p. Every time the buffer reaches the flush threshold it is
// committed, so a large p is stored in several commits of bounded size. A
// failed commit stops Write: the returned count covers the bytes buffered
// so far, and they stay buffered.
func (o *OutputChannel) Write(p []byte) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return 0, fmt.Errorf("%s: %w", o.base.Name, ErrClosedChannel)
	}
	if o.handle.detached.Load() {
		return 0, fmt.Errorf("%s: %w", o.base.Name, ErrStaleHandle)
	}

	threshold := o.dir.opts.flushThreshold
	written := 0
	for written < len(p) {
		n := min(len(p)-written, max(threshold-len(o.pending), 1))
		part := p[written : written+n]
		o.pending = append(o.pending, part...)
		_, _ = o.hasher.Write(part)
		written += n

		if len(o.pending) >= threshold {
			if err := o.flush(context.Background()); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// Flush commits the buffered bytes.
func (o *OutputChannel) Flush(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return fmt.Errorf("%s: %w", o.base.Name, ErrClosedChannel)
	}
	if o.handle.detached.Load() {
		return fmt.Errorf("%s: %w", o.base.Name, ErrStaleHandle)
	}
	return o.flush(ctx)
}

// Close commits the buffered bytes and releases the channel. Calling Close
// again does nothing.
func (o *OutputChannel) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return nil
	}

	var err error
	if len(o.pending) > 0 {
		if o.handle.detached.Load() {
			err = fmt.Errorf("%s: %d buffered bytes dropped: %w", o.base.Name, len(o.pending), ErrStaleHandle)
		} else {
			err = o.flush(context.Background())
		}
	}

	o.closed = true
	o.pending = nil
	o.dir.release(o.base.Name, o.handle)
	return err
}

// flush commits o.pending as a new version: the chunks it completes plus
// the new header. Chunks committed earlier are not rewritten. The caller
// holds o.mu.
func (o *OutputChannel) flush(ctx context.Context) (err error) {
	if len(o.pending) == 0 {
		return nil
	}

	if err := o.dir.enter(); err != nil {
		return err
	}
	defer o.dir.closeMu.RUnlock()

	name := o.base.Name
	modified := max(o.dir.nowMillis(), o.base.ModifiedMillis+1)
	next, chunks := o.base.appended(o.pending, o.hasher.Sum(nil), modified)
	first := o.base.fullChunks()

	entry, err := next.entry()
	if err != nil {
		return err
	}

	err = kv.Update(ctx, o.dir.store, func(txn kv.Txn) error {
		ok, err := txn.CompareAndReplace(name, entry, o.base.Version)
		if err != nil {
			return err
		}
		if !ok {
			return rejected(txn, name, ErrStaleHandle)
		}

		for i, chunk := range chunks {
			key := chunkKey(name, next.Generation, first+int64(i))
			ok, err := txn.Add(key, kv.Entry{Version: next.Generation, Value: chunk})
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s: chunk %d already stored: %w", name, first+int64(i), ErrIntegrity)
			}
		}
		return nil
	})
	if err != nil {
		err = translate(name, err)
		switch {
		case errors.Is(err, ErrStaleHandle):
			o.handle.detached.Store(true)
		case errors.Is(err, ErrTransactionConflict):
			if o.dir.opts.metrics != nil {
				o.dir.opts.metrics.RecordConflict("Flush", false)
			}
		}
		logger.Debug("directory: flush %s failed: %v", name, err)
		return err
	}

	written := int64(len(o.pending))
	o.base = next
	o.pending = o.pending[:0]

	o.dir.adjustSize(written)
	if o.dir.opts.metrics != nil {
		o.dir.opts.metrics.RecordBytesWritten(written)
	}
	return nil
}
