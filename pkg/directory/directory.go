package directory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/marmos91/dittodir/internal/logger"
	"github.com/marmos91/dittodir/pkg/store/kv"
)

// Directory is a flat file store over one kv.Store collection.
//
// Several Directory instances may address the same collection (two memory
// stores from one memory.Backend, or two badger stores over one database).
// They then share the file set but each keeps its own size total.
type Directory struct {
	store kv.Store
	opts  options

	// closeMu is held for reading by every operation and for writing by
	// Close, so Close waits for operations in flight.
	closeMu sync.RWMutex
	closed  bool

	// sizeMu guards aggregateSize. It is only adjusted after the
	// transaction that justifies the adjustment has committed.
	sizeMu        sync.Mutex
	aggregateSize int64

	handlesMu sync.Mutex
	handles   map[string]*handle
}

// FileInfo describes one stored file.
type FileInfo struct {
	Name    string
	Size    int64
	ModTime time.Time
}

// New returns a Directory over store. The store is owned by the Directory
// from now on: Close clears and closes it.
func New(store kv.Store, opts ...Option) *Directory {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Directory{
		store:   store,
		opts:    o,
		handles: make(map[string]*handle),
	}
}

// ============================================================================
// Lifecycle helpers
// ============================================================================

// enter fails with ErrStoreClosed once Close has run. On success the caller
// must call d.closeMu.RUnlock.
func (d *Directory) enter() error {
	d.closeMu.RLock()
	if d.closed {
		d.closeMu.RUnlock()
		return ErrStoreClosed
	}
	return nil
}

func (d *Directory) observe(op string, start time.Time, err error) {
	if d.opts.metrics != nil {
		d.opts.metrics.ObserveOperation(op, time.Since(start), err)
	}
}

func (d *Directory) nowMillis() int64 {
	return d.opts.clock.Now().UnixMilli()
}

func (d *Directory) adjustSize(delta int64) {
	d.sizeMu.Lock()
	d.aggregateSize += delta
	size := d.aggregateSize
	d.sizeMu.Unlock()

	if d.opts.metrics != nil {
		d.opts.metrics.SetAggregateSize(size)
	}
}

// readRecord fetches and decodes the live header of name.
func (d *Directory) readRecord(ctx context.Context, name string) (FileRecord, error) {
	if !validName(name) {
		return FileRecord{}, fmt.Errorf("%q: %w", name, ErrNotFound)
	}

	var rec FileRecord
	err := kv.View(ctx, d.store, func(txn kv.Txn) error {
		entry, err := txn.Get(name)
		if err != nil {
			return err
		}
		rec, err = decodeRecord(name, entry)
		return err
	})
	if err != nil {
		return FileRecord{}, translate(name, err)
	}
	return rec, nil
}

// readContent fetches the header of name and every chunk it accounts for
// in one read transaction.
func (d *Directory) readContent(ctx context.Context, name string) (content, error) {
	if !validName(name) {
		return content{}, fmt.Errorf("%q: %w", name, ErrNotFound)
	}

	var c content
	err := kv.View(ctx, d.store, func(txn kv.Txn) error {
		entry, err := txn.Get(name)
		if err != nil {
			return err
		}
		rec, err := decodeRecord(name, entry)
		if err != nil {
			return err
		}
		c, err = loadContent(txn, rec)
		return err
	})
	if err != nil {
		return content{}, translate(name, err)
	}
	return c, nil
}

// staleChunks returns the chunk keys owned by the header stored in entry.
// When the header does not decode, the collection is scanned for chunk
// keys under name instead.
func (d *Directory) staleChunks(ctx context.Context, name string, entry kv.Entry) ([]string, error) {
	if rec, err := decodeRecord(name, entry); err == nil {
		return rec.chunkKeys(), nil
	}

	keys, err := d.store.Keys(ctx)
	if err != nil {
		return nil, err
	}
	prefix := name + "\x00"
	var stale []string
	for _, key := range keys {
		if strings.HasPrefix(key, prefix) {
			stale = append(stale, key)
		}
	}
	return stale, nil
}

// removeAll removes keys inside txn. Keys already gone are ignored.
func removeAll(txn kv.Txn, keys []string) error {
	for _, key := range keys {
		if _, err := txn.Remove(key); err != nil {
			return err
		}
	}
	return nil
}

// rejected explains a compare-and-replace that returned false: either the
// key is gone or another writer committed a newer version.
func rejected(txn kv.Txn, name string, gone error) error {
	exists, err := txn.ContainsKey(name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%s: %w", name, gone)
	}
	return fmt.Errorf("%s: replaced concurrently: %w", name, ErrTransactionConflict)
}

// ============================================================================
// Queries
// ============================================================================

// List returns the names of all live files, sorted. The order is a
// convenience; callers should not depend on it. Chunk keys are not files
// and are skipped.
func (d *Directory) List(ctx context.Context) (names []string, err error) {
	start := time.Now()
	defer func() { d.observe("List", start, err) }()

	if err := d.enter(); err != nil {
		return nil, err
	}
	defer d.closeMu.RUnlock()

	keys, err := d.store.Keys(ctx)
	if err != nil {
		return nil, translate("list", err)
	}

	seen := make(map[string]struct{}, len(keys))
	names = make([]string, 0, len(keys))
	for _, key := range keys {
		if isChunkKey(key) {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, key)
	}
	sort.Strings(names)
	return names, nil
}

// Exists reports whether name has a live record. It only fails when the
// backend does; a name that could never be stored simply does not exist.
func (d *Directory) Exists(ctx context.Context, name string) (exists bool, err error) {
	start := time.Now()
	defer func() { d.observe("Exists", start, err) }()

	if err := d.enter(); err != nil {
		return false, err
	}
	defer d.closeMu.RUnlock()

	if !validName(name) {
		return false, nil
	}

	err = kv.View(ctx, d.store, func(txn kv.Txn) error {
		var err error
		exists, err = txn.ContainsKey(name)
		return err
	})
	if err != nil {
		return false, translate(name, err)
	}
	return exists, nil
}

// Stat returns the size and local modification time of name.
func (d *Directory) Stat(ctx context.Context, name string) (info FileInfo, err error) {
	start := time.Now()
	defer func() { d.observe("Stat", start, err) }()

	if err := d.enter(); err != nil {
		return FileInfo{}, err
	}
	defer d.closeMu.RUnlock()

	rec, err := d.readRecord(ctx, name)
	if err != nil {
		return FileInfo{}, err
	}
	return FileInfo{Name: rec.Name, Size: rec.Length, ModTime: rec.ModTime()}, nil
}

// FileModified returns the modification time of name in local time.
func (d *Directory) FileModified(ctx context.Context, name string) (time.Time, error) {
	info, err := d.Stat(ctx, name)
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime, nil
}

// FileLength returns the committed length of name.
func (d *Directory) FileLength(ctx context.Context, name string) (int64, error) {
	info, err := d.Stat(ctx, name)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// SizeInBytes returns the local running total of file lengths. It never
// touches the backend.
func (d *Directory) SizeInBytes() int64 {
	d.sizeMu.Lock()
	defer d.sizeMu.Unlock()
	return d.aggregateSize
}

// Recount recomputes the size total from every live record and returns it.
func (d *Directory) Recount(ctx context.Context) (total int64, err error) {
	start := time.Now()
	defer func() { d.observe("Recount", start, err) }()

	if err := d.enter(); err != nil {
		return 0, err
	}
	defer d.closeMu.RUnlock()

	keys, err := d.store.Keys(ctx)
	if err != nil {
		return 0, translate("recount", err)
	}

	files := 0
	err = kv.View(ctx, d.store, func(txn kv.Txn) error {
		for _, key := range keys {
			if isChunkKey(key) {
				continue
			}
			entry, err := txn.Get(key)
			if errors.Is(err, kv.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			rec, err := decodeRecord(key, entry)
			if err != nil {
				return err
			}
			total += rec.Length
			files++
		}
		return nil
	})
	if err != nil {
		return 0, translate("recount", err)
	}

	d.sizeMu.Lock()
	d.aggregateSize = total
	d.sizeMu.Unlock()
	if d.opts.metrics != nil {
		d.opts.metrics.SetAggregateSize(total)
	}

	logger.Debug("directory: recounted %d files, %d bytes", files, total)
	return total, nil
}

// ============================================================================
// Mutations
// ============================================================================

// Touch sets the modification time of name to now.
//
// The new timestamp is strictly greater than the stored one: when the
// millisecond clock has not moved yet, Touch waits for it in short sleeps.
// The new version is persisted with a compare-and-replace, so it is visible
// to every Directory over the same collection. An OutputChannel still open
// on name will hit ErrTransactionConflict on its next flush.
func (d *Directory) Touch(ctx context.Context, name string) (err error) {
	start := time.Now()
	defer func() { d.observe("Touch", start, err) }()

	if err := d.enter(); err != nil {
		return err
	}
	defer d.closeMu.RUnlock()

	rec, err := d.readRecord(ctx, name)
	if err != nil {
		return err
	}

	now := d.nowMillis()
	for spins := 0; now <= rec.ModifiedMillis; spins++ {
		if spins == touchSpinLimit {
			logger.Warn("directory: %s: stored time %d is ahead of the clock, bumping", name, rec.ModifiedMillis)
			now = rec.ModifiedMillis + 1
			break
		}
		d.opts.clock.Sleep(touchSpinInterval)
		now = d.nowMillis()
	}

	next := rec.touched(now)
	entry, err := next.entry()
	if err != nil {
		return err
	}

	err = kv.Update(ctx, d.store, func(txn kv.Txn) error {
		ok, err := txn.CompareAndReplace(name, entry, rec.Version)
		if err != nil {
			return err
		}
		if !ok {
			return rejected(txn, name, ErrNotFound)
		}
		return nil
	})
	if err != nil {
		err = translate(name, err)
		if errors.Is(err, ErrTransactionConflict) && d.opts.metrics != nil {
			d.opts.metrics.RecordConflict("Touch", false)
		}
		return err
	}

	return nil
}

// Delete removes name and its chunks in one transaction. The size total is only reduced once the removal has
// committed.
func (d *Directory) Delete(ctx context.Context, name string) (err error) {
	start := time.Now()
	defer func() { d.observe("Delete", start, err) }()

	if err := d.enter(); err != nil {
		return err
	}
	defer d.closeMu.RUnlock()

	if !validName(name) {
		return fmt.Errorf("%q: %w", name, ErrNotFound)
	}

	var removed int64
	err = kv.Update(ctx, d.store, func(txn kv.Txn) error {
		entry, err := txn.Get(name)
		if err != nil {
			return err
		}
		// A record that no longer decodes is still deleted.
		if rec, err := decodeRecord(name, entry); err == nil {
			removed = rec.Length
		}

		ok, err := txn.Remove(name)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: %w", name, ErrNotFound)
		}

		stale, err := d.staleChunks(ctx, name, entry)
		if err != nil {
			return err
		}
		return removeAll(txn, stale)
	})
	if err != nil {
		return translate(name, err)
	}

	d.detach(name)
	d.adjustSize(-removed)

	logger.Debug("directory: deleted %s (%d bytes)", name, removed)
	return nil
}

// Create binds a fresh, empty file to name, replacing any existing file,
// and returns the channel to write its content.
//
// Create snapshots the current record, then commits the empty record with
// a compare-and-replace against that snapshot (or an add when there was
// none). If another writer commits in between, Create fails with
// ErrTransactionConflict, unless WithCreateRetries allows it to start over.
// It never silently overwrites a version it has not seen.
//
// The new file counts towards SizeInBytes as its content is flushed.
//
// ctx bounds Create itself. The returned channel does not keep it; see
// OutputChannel for the context its own flushes run under.
func (d *Directory) Create(ctx context.Context, name string) (out *OutputChannel, err error) {
	start := time.Now()
	defer func() { d.observe("Create", start, err) }()

	if !validName(name) {
		return nil, fmt.Errorf("%q: %w", name, ErrInvalidName)
	}
	if err := d.enter(); err != nil {
		return nil, err
	}
	defer d.closeMu.RUnlock()

	for attempt := 0; ; attempt++ {
		out, err = d.create(ctx, name)
		if err == nil || !errors.Is(err, ErrTransactionConflict) {
			return out, err
		}

		retry := attempt < d.opts.createRetries
		if d.opts.metrics != nil {
			d.opts.metrics.RecordConflict("Create", retry)
		}
		if !retry {
			return nil, err
		}
		logger.Debug("directory: create %s: conflict, retrying (attempt %d/%d)", name, attempt+1, d.opts.createRetries)
	}
}

func (d *Directory) create(ctx context.Context, name string) (*OutputChannel, error) {
	// ========================================================================
	// Step 1: Snapshot the live record
	// ========================================================================

	var prior *FileRecord
	var stale []string
	err := kv.View(ctx, d.store, func(txn kv.Txn) error {
		entry, err := txn.Get(name)
		if errors.Is(err, kv.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		rec, err := decodeRecord(name, entry)
		if err != nil {
			// Unreadable records are replaced like any other.
			rec = FileRecord{Name: name}
		}
		rec.Version = entry.Version
		prior = &rec

		stale, err = d.staleChunks(ctx, name, entry)
		return err
	})
	if err != nil {
		return nil, translate(name, err)
	}

	// ========================================================================
	// Step 2: Build the empty record
	// ========================================================================

	rec := newRecord(name, d.opts.chunkSize, d.nowMillis())
	entry, err := rec.entry()
	if err != nil {
		return nil, err
	}

	// ========================================================================
	// Step 3: Replace the snapshot and drop its chunks, or add when there
	// was none
	// ========================================================================

	err = kv.Update(ctx, d.store, func(txn kv.Txn) error {
		if prior != nil {
			ok, err := txn.CompareAndReplace(name, entry, prior.Version)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%s: changed since snapshot: %w", name, ErrTransactionConflict)
			}
			return removeAll(txn, stale)
		}

		ok, err := txn.Add(name, entry)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s: created concurrently: %w", name, ErrTransactionConflict)
		}
		return nil
	})
	if err != nil {
		return nil, translate(name, err)
	}

	// ========================================================================
	// Step 4: Committed, update local state
	// ========================================================================

	if prior != nil {
		d.adjustSize(-prior.Length)
	}
	h := d.attach(name)

	logger.Debug("directory: created %s (replaced=%v)", name, prior != nil)
	return newOutputChannel(d, rec, h), nil
}

// Open returns a reader over the current version of name. The version is
// fixed at Open: later commits are not visible through the channel. The
// whole content is loaded and its checksum verified before Open returns.
func (d *Directory) Open(ctx context.Context, name string) (in *InputChannel, err error) {
	start := time.Now()
	defer func() { d.observe("Open", start, err) }()

	if err := d.enter(); err != nil {
		return nil, err
	}
	defer d.closeMu.RUnlock()

	var c content
	for attempt := 0; ; attempt++ {
		c, err = d.readContent(ctx, name)
		if errors.Is(err, errChunkMissing) && attempt < openRetries {
			logger.Debug("directory: open %s: %v, reloading", name, err)
			continue
		}
		if err != nil {
			if errors.Is(err, ErrIntegrity) {
				logger.Error("directory: %v", err)
			}
			return nil, err
		}
		break
	}
	if err := c.verify(); err != nil {
		logger.Error("directory: %v", err)
		return nil, err
	}

	return newInputChannel(c), nil
}

// Close deletes every file of the collection, waits for the deletion to
// commit, detaches all output channels and closes the store. Every later
// call, Close included, fails with ErrStoreClosed.
//
// When the deletion fails the directory stays open and Close may be
// retried.
func (d *Directory) Close(ctx context.Context) (err error) {
	start := time.Now()
	defer func() { d.observe("Close", start, err) }()

	d.closeMu.Lock()
	defer d.closeMu.Unlock()

	if d.closed {
		return ErrStoreClosed
	}

	if err := d.store.Clear(ctx); err != nil {
		return translate("clear", err)
	}

	d.closed = true
	d.detachAll()

	d.sizeMu.Lock()
	d.aggregateSize = 0
	d.sizeMu.Unlock()
	if d.opts.metrics != nil {
		d.opts.metrics.SetAggregateSize(0)
	}

	if err := d.store.Close(); err != nil {
		return translate("close", err)
	}

	logger.Debug("directory: closed")
	return nil
}
