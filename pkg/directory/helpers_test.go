package directory

import (
	"context"
	"io"
	"sync"
	"testing"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/marmos91/dittodir/pkg/store/kv"
	"github.com/marmos91/dittodir/pkg/store/kv/badger"
	"github.com/marmos91/dittodir/pkg/store/kv/codec"
	"github.com/marmos91/dittodir/pkg/store/kv/memory"
	"github.com/stretchr/testify/require"
)

// fixture opens stores on one backend type.
type fixture struct {
	name string

	// open returns n store handles addressing one shared collection.
	open func(t *testing.T, n int) []kv.Store
}

func fixtures() []fixture {
	return []fixture{
		{
			name: "memory",
			open: func(t *testing.T, n int) []kv.Store {
				backend := memory.NewBackend()
				stores := make([]kv.Store, n)
				for i := range stores {
					stores[i] = backend.Collection(badger.DefaultCollection)
				}
				return stores
			},
		},
		{
			name: "badger",
			open: func(t *testing.T, n int) []kv.Store {
				db, err := badgerdb.Open(badgerdb.DefaultOptions("").WithInMemory(true).WithLogger(nil))
				require.NoError(t, err)
				t.Cleanup(func() { _ = db.Close() })

				stores := make([]kv.Store, n)
				for i := range stores {
					s, err := badger.NewWithDB(db, badger.DefaultCollection, codec.CompressionZstd)
					require.NoError(t, err)
					stores[i] = s
				}
				return stores
			},
		},
	}
}

// forEachBackend runs fn once per backend type.
func forEachBackend(t *testing.T, fn func(t *testing.T, f fixture)) {
	t.Helper()
	for _, f := range fixtures() {
		t.Run(f.name, func(t *testing.T) {
			fn(t, f)
		})
	}
}

func (f fixture) directory(t *testing.T, opts ...Option) *Directory {
	t.Helper()
	return New(f.open(t, 1)[0], opts...)
}

func writeFile(t *testing.T, d *Directory, name string, data []byte) {
	t.Helper()
	out, err := d.Create(context.Background(), name)
	require.NoError(t, err)
	_, err = out.Write(data)
	require.NoError(t, err)
	require.NoError(t, out.Close())
}

func readFile(t *testing.T, d *Directory, name string) []byte {
	t.Helper()
	in, err := d.Open(context.Background(), name)
	require.NoError(t, err)
	defer func() { _ = in.Close() }()

	data, err := io.ReadAll(in)
	require.NoError(t, err)
	return data
}

// pattern returns n deterministic bytes.
func pattern(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i*7 + i/251)
	}
	return data
}

// hookStore runs queued hooks right before update transactions begin, which
// lets a test commit a competing write between a snapshot and the
// compare-and-replace that depends on it.
type hookStore struct {
	kv.Store

	mu    sync.Mutex
	hooks []func()
}

func (h *hookStore) beforeNextUpdate(fn func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hooks = append(h.hooks, fn)
}

func (h *hookStore) Begin(ctx context.Context, update bool) (kv.Txn, error) {
	if update {
		h.mu.Lock()
		var fn func()
		if len(h.hooks) > 0 {
			fn = h.hooks[0]
			h.hooks = h.hooks[1:]
		}
		h.mu.Unlock()

		if fn != nil {
			fn()
		}
	}
	return h.Store.Begin(ctx, update)
}
