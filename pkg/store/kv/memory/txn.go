package memory

import (
	"fmt"

	"github.com/marmos91/dittodir/pkg/store/kv"
)

// txn buffers writes until Commit and remembers every key it read.
type txn struct {
	store   *Store
	update  bool
	readSeq uint64
	done    bool

	// reads is the conflict set checked at commit time.
	reads map[string]struct{}

	// writes holds pending values; a nil entry is a pending removal.
	writes map[string]*kv.Entry
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

// lookup returns the entry visible to this transaction: its own pending
// write if there is one, the committed value otherwise.
func (t *txn) lookup(key string) (kv.Entry, bool) {
	if pending, ok := t.writes[key]; ok {
		if pending == nil {
			return kv.Entry{}, false
		}
		return *pending, true
	}

	t.reads[key] = struct{}{}

	t.store.backend.mu.RLock()
	defer t.store.backend.mu.RUnlock()

	entry, ok := t.store.coll().entries[key]
	return entry, ok
}

func (t *txn) Get(key string) (kv.Entry, error) {
	if err := t.check(key, false); err != nil {
		return kv.Entry{}, err
	}

	entry, ok := t.lookup(key)
	if !ok {
		return kv.Entry{}, fmt.Errorf("key %s: %w", key, kv.ErrKeyNotFound)
	}
	return cloneEntry(entry), nil
}

func (t *txn) Add(key string, entry kv.Entry) (bool, error) {
	if err := t.check(key, true); err != nil {
		return false, err
	}

	if _, exists := t.lookup(key); exists {
		return false, nil
	}

	stored := cloneEntry(entry)
	t.writes[key] = &stored
	return true, nil
}

func (t *txn) CompareAndReplace(key string, entry kv.Entry, expectedVersion string) (bool, error) {
	if err := t.check(key, true); err != nil {
		return false, err
	}

	current, exists := t.lookup(key)
	if !exists || current.Version != expectedVersion {
		return false, nil
	}

	stored := cloneEntry(entry)
	t.writes[key] = &stored
	return true, nil
}

func (t *txn) Remove(key string) (bool, error) {
	if err := t.check(key, true); err != nil {
		return false, err
	}

	if _, exists := t.lookup(key); !exists {
		return false, nil
	}

	t.writes[key] = nil
	return true, nil
}

func (t *txn) ContainsKey(key string) (bool, error) {
	if err := t.check(key, false); err != nil {
		return false, err
	}

	_, exists := t.lookup(key)
	return exists, nil
}

// Commit validates the read set and applies the pending writes atomically.
func (t *txn) Commit() error {
	if t.done {
		return kv.ErrTxnDone
	}
	t.done = true

	if t.store.closed.Load() {
		return kv.ErrClosed
	}
	if len(t.writes) == 0 {
		return nil
	}

	b := t.store.backend
	b.mu.Lock()
	defer b.mu.Unlock()

	c := t.store.coll()
	for key := range t.reads {
		if c.modifiedAt[key] > t.readSeq {
			return fmt.Errorf("key %s: %w", key, kv.ErrConflict)
		}
	}

	b.commitSeq++
	for key, pending := range t.writes {
		if pending == nil {
			delete(c.entries, key)
		} else {
			c.entries[key] = *pending
		}
		c.modifiedAt[key] = b.commitSeq
	}

	return nil
}

func (t *txn) Discard() {
	t.done = true
}

// cloneEntry copies the value so that neither side can mutate the other's
// bytes after the call.
func cloneEntry(e kv.Entry) kv.Entry {
	if e.Value == nil {
		return kv.Entry{Version: e.Version}
	}
	value := make([]byte, len(e.Value))
	copy(value, e.Value)
	return kv.Entry{Version: e.Version, Value: value}
}
