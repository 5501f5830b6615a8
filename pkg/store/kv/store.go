// Package kv defines the transactional key-value contract the directory is
// built on.
//
// A Store addresses one named collection of a backend. Values are Entries:
// an opaque payload plus a version token chosen by the writer. Conditional
// updates compare version tokens, never payloads, so a compare-and-replace
// on a multi-megabyte file costs the same as one on an empty file.
//
// Transaction Model:
// Every read or write happens inside a Txn obtained from Store.Begin.
// Writes are buffered in the transaction and become visible atomically on
// Commit. Implementations use optimistic concurrency: if a key read by an
// update transaction was modified by another transaction that committed
// first, Commit returns ErrConflict and nothing is applied.
//
// Thread Safety:
// Store implementations must be safe for concurrent use. A single Txn is
// not; it belongs to the goroutine that began it.
package kv

import "context"

// Entry is one stored value together with its version token.
type Entry struct {
	// Version identifies this exact value. Writers generate a fresh token
	// for every new value; CompareAndReplace matches on it.
	Version string `msgpack:"v"`

	// Value is the opaque payload.
	Value []byte `msgpack:"d"`
}

// Store is a handle on one collection of a transactional backend.
type Store interface {
	// Begin starts a transaction. Read-only transactions (update=false)
	// reject mutations with ErrReadOnlyTxn.
	Begin(ctx context.Context, update bool) (Txn, error)

	// Keys enumerates every key currently visible in the collection.
	// The enumeration is a snapshot and is not part of any caller
	// transaction. The result contains no duplicates and has no
	// ordering guarantee.
	Keys(ctx context.Context) ([]string, error)

	// Clear removes every key of the collection and returns only once
	// the removal has been committed.
	Clear(ctx context.Context) error

	// Close releases the handle. Further calls return ErrClosed.
	Close() error
}

// Txn is a single transaction against a Store.
//
// After Commit or Discard the transaction must not be used, except that
// Discard may always be called (it is a no-op after Commit) so callers can
// defer it unconditionally.
type Txn interface {
	// Get returns the entry stored under key, or ErrKeyNotFound.
	Get(key string) (Entry, error)

	// Add stores entry under key if the key is absent. It reports false,
	// without error, if the key already exists.
	Add(key string, entry Entry) (bool, error)

	// CompareAndReplace stores entry under key only if the current entry's
	// version equals expectedVersion. It reports false, without error, if
	// the key is absent or holds a different version.
	CompareAndReplace(key string, entry Entry, expectedVersion string) (bool, error)

	// Remove deletes key. It reports false, without error, if the key was
	// absent.
	Remove(key string) (bool, error)

	// ContainsKey reports whether key is present.
	ContainsKey(key string) (bool, error)

	// Commit atomically applies the transaction's writes.
	Commit() error

	// Discard abandons the transaction.
	Discard()
}

// Update runs fn inside an update transaction and commits it. The
// transaction is discarded if fn returns an error.
func Update(ctx context.Context, s Store, fn func(Txn) error) error {
	txn, err := s.Begin(ctx, true)
	if err != nil {
		return err
	}
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// View runs fn inside a read-only transaction.
func View(ctx context.Context, s Store, fn func(Txn) error) error {
	txn, err := s.Begin(ctx, false)
	if err != nil {
		return err
	}
	defer txn.Discard()

	return fn(txn)
}
