package badger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/marmos91/dittodir/internal/logger"
	"github.com/marmos91/dittodir/pkg/store/kv"
	"github.com/marmos91/dittodir/pkg/store/kv/codec"
)

// Store implements kv.Store on top of BadgerDB.
//
// BadgerDB already provides what the contract needs: serializable snapshot
// isolation with optimistic conflict detection at commit time
// (badger.ErrConflict), durable commits, and ordered prefix iteration.
// This type adds collection namespacing and entry encoding.
//
// Key Layout:
//
//	<collection>:<name>   →   codec.Encode(kv.Entry)
//
// Collection names may not contain ':' so that a prefix scan over
// "<collection>:" never strays into another collection.
//
// Ownership:
// A Store created by New owns its database and closes it on Close. A
// Store created by NewWithDB shares a caller-owned database; several such
// stores (or several directories) may address the same collection.
type Store struct {
	db          *badger.DB
	prefix      []byte
	compression codec.Compression
	ownsDB      bool

	// maxValueSize is the largest encoded value the database accepts.
	maxValueSize int64

	closed      atomic.Bool
}

var _ kv.Store = (*Store)(nil)

// Config contains configuration for creating a BadgerDB-backed store.
type Config struct {
	// DBPath is the directory where BadgerDB stores its files.
	// Ignored when InMemory is set.
	DBPath string `mapstructure:"db_path"`

	// InMemory runs BadgerDB without touching disk. Useful for tests that
	// want the real transaction engine.
	InMemory bool `mapstructure:"in_memory"`

	// Collection is the namespace all keys live under (default "files").
	Collection string `mapstructure:"collection"`

	// Compression names the entry compression: none, lz4 or zstd.
	Compression string `mapstructure:"compression"`

	// SyncWrites makes every commit fsync before returning.
	SyncWrites bool `mapstructure:"sync_writes"`

	// BlockCacheSizeMB is BadgerDB's block cache size in MB (default: 64)
	BlockCacheSizeMB int64 `mapstructure:"block_cache_size_mb"`

	// IndexCacheSizeMB is BadgerDB's index cache size in MB (default: 32)
	IndexCacheSizeMB int64 `mapstructure:"index_cache_size_mb"`
}

// DefaultCollection is the collection used when none is configured. Every
// participant sharing a database must agree on it.
const DefaultCollection = "files"

// New opens a BadgerDB database and returns a store that owns it.
//
// Parameters:
//   - ctx: Context for cancellation (checked before opening)
//   - config: Database location and tuning
//
// Returns:
//   - *Store: Store ready for use
//   - error: Configuration or open error
func New(ctx context.Context, config Config) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	compression, err := codec.ParseCompression(config.Compression)
	if err != nil {
		return nil, err
	}

	if !config.InMemory && config.DBPath == "" {
		return nil, errors.New("badger store: db_path is required unless in_memory is set")
	}

	opts := badger.DefaultOptions(config.DBPath)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts = opts.WithLogger(logger.Badger())
	opts = opts.WithSyncWrites(config.SyncWrites)
	// Entries are compressed by the codec; block compression would only
	// burn CPU on already-compressed bytes.
	opts = opts.WithCompression(options.None)

	blockCacheMB := config.BlockCacheSizeMB
	if blockCacheMB == 0 {
		blockCacheMB = 64
	}
	indexCacheMB := config.IndexCacheSizeMB
	if indexCacheMB == 0 {
		indexCacheMB = 32
	}
	opts = opts.WithBlockCacheSize(blockCacheMB << 20)
	opts = opts.WithIndexCacheSize(indexCacheMB << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", config.DBPath, err)
	}

	store, err := newStore(db, config.Collection, compression)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	store.ownsDB = true

	logger.Debug("badger store opened: path=%s in_memory=%v collection=%s compression=%s",
		config.DBPath, config.InMemory, string(store.prefix[:len(store.prefix)-1]), compression)

	return store, nil
}

// NewWithDB returns a store over a caller-owned database. Closing the store
// leaves the database open.
func NewWithDB(db *badger.DB, collection string, compression codec.Compression) (*Store, error) {
	return newStore(db, collection, compression)
}

func newStore(db *badger.DB, collection string, compression codec.Compression) (*Store, error) {
	if collection == "" {
		collection = DefaultCollection
	}
	if strings.Contains(collection, ":") {
		return nil, fmt.Errorf("badger store: collection %q must not contain ':'", collection)
	}

	return &Store{
		db:           db,
		prefix:       []byte(collection + ":"),
		compression:  compression,
		maxValueSize: maxValueSize(db.Opts()),
	}, nil
}

// maxValueSize mirrors the value checks BadgerDB runs on every write: an
// in-memory database keeps values in the LSM tree and caps them at the
// value threshold, a disk database at the value log file size.
func maxValueSize(opts badger.Options) int64 {
	if opts.InMemory {
		return opts.ValueThreshold
	}
	return opts.ValueLogFileSize
}

// MaxValueSize returns the largest encoded entry the store accepts.
func (s *Store) MaxValueSize() int64 {
	return s.maxValueSize
}

// key builds the database key for a name.
func (s *Store) key(name string) []byte {
	k := make([]byte, 0, len(s.prefix)+len(name))
	k = append(k, s.prefix...)
	return append(k, name...)
}

// Begin starts a BadgerDB transaction.
func (s *Store) Begin(ctx context.Context, update bool) (kv.Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, kv.ErrClosed
	}

	return &txn{
		store:  s,
		txn:    s.db.NewTransaction(update),
		update: update,
	}, nil
}

// Keys scans the collection prefix without fetching values.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, kv.ErrClosed
	}

	var keys []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()

		scanned := 0
		for it.Rewind(); it.Valid(); it.Next() {
			scanned++
			if scanned%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			keys = append(keys, string(it.Item().Key()[len(s.prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan collection: %w", mapError(err))
	}

	return keys, nil
}

// Clear deletes every key of the collection. Deletions are committed in as
// many transactions as BadgerDB's size limit requires; the call returns
// once the last one has committed.
func (s *Store) Clear(ctx context.Context) error {
	keys, err := s.Keys(ctx)
	if err != nil {
		return err
	}

	txn := s.db.NewTransaction(true)
	defer func() { txn.Discard() }()

	for _, name := range keys {
		k := s.key(name)
		err := txn.Delete(k)
		if errors.Is(err, badger.ErrTxnTooBig) {
			if err := txn.Commit(); err != nil {
				return fmt.Errorf("failed to clear collection: %w", mapError(err))
			}
			txn = s.db.NewTransaction(true)
			err = txn.Delete(k)
		}
		if err != nil {
			return fmt.Errorf("failed to clear collection: %w", mapError(err))
		}
	}

	if err := txn.Commit(); err != nil {
		return fmt.Errorf("failed to clear collection: %w", mapError(err))
	}

	logger.Debug("badger store: cleared %d keys under %s", len(keys), s.prefix)
	return nil
}

// Close closes the handle and, if the store owns it, the database.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return kv.ErrClosed
	}
	if !s.ownsDB {
		return nil
	}
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close BadgerDB: %w", err)
	}
	return nil
}

// RunValueLogGC rewrites value log files until BadgerDB reports that no
// file is worth rewriting. Overwritten file versions leave garbage in the
// value log, so long-running processes should call this periodically.
func (s *Store) RunValueLogGC(discardRatio float64) (int, error) {
	if s.closed.Load() {
		return 0, kv.ErrClosed
	}

	rewritten := 0
	for {
		err := s.db.RunValueLogGC(discardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			return rewritten, nil
		}
		if err != nil {
			return rewritten, fmt.Errorf("value log GC failed: %w", err)
		}
		rewritten++
	}
}

// mapError translates BadgerDB errors into the kv vocabulary while keeping
// the original in the chain.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: %w", kv.ErrConflict, err)
	case errors.Is(err, badger.ErrDBClosed):
		return fmt.Errorf("%w: %w", kv.ErrClosed, err)
	case errors.Is(err, badger.ErrReadOnlyTxn):
		return fmt.Errorf("%w: %w", kv.ErrReadOnlyTxn, err)
	case errors.Is(err, badger.ErrDiscardedTxn):
		return fmt.Errorf("%w: %w", kv.ErrTxnDone, err)
	case errors.Is(err, badger.ErrEmptyKey):
		return fmt.Errorf("%w: %w", kv.ErrEmptyKey, err)
	default:
		return err
	}
}
