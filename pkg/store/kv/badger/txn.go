package badger

import (
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittodir/pkg/store/kv"
	"github.com/marmos91/dittodir/pkg/store/kv/codec"
)

// txn wraps a badger.Txn. BadgerDB tracks every key read through Get in
// the transaction's conflict set, which is exactly what CompareAndReplace
// needs: if the compared key changes before Commit, Commit fails with
// badger.ErrConflict.
type txn struct {
	store  *Store
	txn    *badger.Txn
	update bool
	done   bool
}

func (t *txn) check(key string, mutation bool) error {
	if t.done {
		return kv.ErrTxnDone
	}
	if t.store.closed.Load() {
		return kv.ErrClosed
	}
	if mutation && !t.update {
		return kv.ErrReadOnlyTxn
	}
	if key == "" {
		return kv.ErrEmptyKey
	}
	return nil
}

// get returns the decoded entry and whether it exists.
func (t *txn) get(key string) (kv.Entry, bool, error) {
	item, err := t.txn.Get(t.store.key(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return kv.Entry{}, false, nil
	}
	if err != nil {
		return kv.Entry{}, false, fmt.Errorf("failed to get %s: %w", key, mapError(err))
	}

	var entry kv.Entry
	err = item.Value(func(val []byte) error {
		decoded, err := codec.Decode(val)
		if err != nil {
			return err
		}
		entry = decoded
		return nil
	})
	if err != nil {
		return kv.Entry{}, false, fmt.Errorf("failed to read %s: %w", key, err)
	}

	return entry, true, nil
}

func (t *txn) set(key string, entry kv.Entry) error {
	encoded, err := codec.Encode(entry, t.store.compression)
	if err != nil {
		return err
	}
	// BadgerDB's own error embeds a dump of the whole value.
	if int64(len(encoded)) > t.store.maxValueSize {
		return fmt.Errorf("failed to set %s: %d bytes exceeds %d: %w", key, len(encoded), t.store.maxValueSize, kv.ErrValueTooLarge)
	}
	if err := t.txn.Set(t.store.key(key), encoded); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, mapError(err))
	}
	return nil
}

func (t *txn) Get(key string) (kv.Entry, error) {
	if err := t.check(key, false); err != nil {
		return kv.Entry{}, err
	}

	entry, ok, err := t.get(key)
	if err != nil {
		return kv.Entry{}, err
	}
	if !ok {
		return kv.Entry{}, fmt.Errorf("key %s: %w", key, kv.ErrKeyNotFound)
	}
	return entry, nil
}

func (t *txn) Add(key string, entry kv.Entry) (bool, error) {
	if err := t.check(key, true); err != nil {
		return false, err
	}

	_, exists, err := t.get(key)
	if err != nil || exists {
		return false, err
	}

	if err := t.set(key, entry); err != nil {
		return false, err
	}
	return true, nil
}

func (t *txn) CompareAndReplace(key string, entry kv.Entry, expectedVersion string) (bool, error) {
	if err := t.check(key, true); err != nil {
		return false, err
	}

	current, exists, err := t.get(key)
	if err != nil {
		return false, err
	}
	if !exists || current.Version != expectedVersion {
		return false, nil
	}

	if err := t.set(key, entry); err != nil {
		return false, err
	}
	return true, nil
}

func (t *txn) Remove(key string) (bool, error) {
	if err := t.check(key, true); err != nil {
		return false, err
	}

	_, err := t.txn.Get(t.store.key(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, mapError(err))
	}

	if err := t.txn.Delete(t.store.key(key)); err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", key, mapError(err))
	}
	return true, nil
}

func (t *txn) ContainsKey(key string) (bool, error) {
	if err := t.check(key, false); err != nil {
		return false, err
	}

	_, err := t.txn.Get(t.store.key(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, mapError(err))
	}
	return true, nil
}

func (t *txn) Commit() error {
	if t.done {
		return kv.ErrTxnDone
	}
	t.done = true

	if t.store.closed.Load() {
		t.txn.Discard()
		return kv.ErrClosed
	}

	if !t.update {
		t.txn.Discard()
		return nil
	}
	if err := t.txn.Commit(); err != nil {
		return mapError(err)
	}
	return nil
}

func (t *txn) Discard() {
	t.done = true
	t.txn.Discard()
}
