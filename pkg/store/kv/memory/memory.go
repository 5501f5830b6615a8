// Package memory implements an in-process transactional key-value backend.
//
// The backend mirrors BadgerDB's optimistic concurrency model so that code
// exercising conflicts behaves the same against both: every transaction
// records the keys it reads, and Commit fails with kv.ErrConflict if any of
// them was modified by a transaction that committed after this one began.
//
// Characteristics:
//   - Fast: all operations are memory-speed
//   - Volatile: data is lost when the process exits
//   - Shared: every Store returned by Backend.Collection for the same name
//     addresses the same entries, which lets tests run several directory
//     instances against one backend
//
// Thread Safety:
// Backend and Store are safe for concurrent use. A Txn is not.
package memory

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/marmos91/dittodir/pkg/store/kv"
)

// Backend holds the named collections of one in-memory backend.
type Backend struct {
	mu sync.RWMutex

	// collections maps collection name to its state.
	collections map[string]*collection

	// commitSeq is the sequence number of the last committed update
	// transaction. Transactions remember the value they started at.
	commitSeq uint64
}

// collection is one key space of the backend.
type collection struct {
	entries map[string]kv.Entry

	// modifiedAt records the commitSeq of the last write to each key,
	// including removals, so conflicts on deleted keys are detected too.
	modifiedAt map[string]uint64
}

// NewBackend creates an empty backend.
func NewBackend() *Backend {
	return &Backend{
		collections: make(map[string]*collection),
	}
}

// New returns a Store on a fresh private backend. This is the common case
// for tests that need one directory.
func New(name string) *Store {
	return NewBackend().Collection(name)
}

// Collection returns a new handle on the named collection, creating it if
// needed. Closing the handle does not affect other handles or the data.
func (b *Backend) Collection(name string) *Store {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.collections[name]; !ok {
		b.collections[name] = &collection{
			entries:    make(map[string]kv.Entry),
			modifiedAt: make(map[string]uint64),
		}
	}

	return &Store{backend: b, name: name}
}

// Store is a handle on one collection of a Backend.
type Store struct {
	backend *Backend
	name    string
	closed  atomic.Bool
}

var _ kv.Store = (*Store)(nil)

// coll returns the collection state. Callers must hold backend.mu.
func (s *Store) coll() *collection {
	return s.backend.collections[s.name]
}

// Begin starts a transaction.
func (s *Store) Begin(ctx context.Context, update bool) (kv.Txn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, kv.ErrClosed
	}

	s.backend.mu.RLock()
	readSeq := s.backend.commitSeq
	s.backend.mu.RUnlock()

	return &txn{
		store:   s,
		update:  update,
		readSeq: readSeq,
		reads:   make(map[string]struct{}),
		writes:  make(map[string]*kv.Entry),
	}, nil
}

// Keys returns a snapshot of the collection's keys.
func (s *Store) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, kv.ErrClosed
	}

	s.backend.mu.RLock()
	defer s.backend.mu.RUnlock()

	entries := s.coll().entries
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	return keys, nil
}

// Clear removes every key of the collection in one step. Transactions that
// read any of the removed keys will fail to commit.
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.closed.Load() {
		return kv.ErrClosed
	}

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	s.backend.commitSeq++
	c := s.coll()
	for key := range c.entries {
		c.modifiedAt[key] = s.backend.commitSeq
	}
	c.entries = make(map[string]kv.Entry)
	return nil
}

// Close marks this handle closed. The collection's data is untouched.
func (s *Store) Close() error {
	if s.closed.Swap(true) {
		return kv.ErrClosed
	}
	return nil
}
