package memory

import (
	"context"
	"testing"

	"github.com/marmos91/dittodir/pkg/store/kv"
	kvtesting "github.com/marmos91/dittodir/pkg/store/kv/testing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	suite := &kvtesting.StoreTestSuite{
		NewStore: func(t *testing.T) kv.Store {
			return New("files")
		},
	}
	suite.Run(t)
}

func TestCollectionsAreShared(t *testing.T) {
	ctx := context.Background()
	backend := NewBackend()
	first := backend.Collection("files")
	second := backend.Collection("files")
	other := backend.Collection("other")

	err := kv.Update(ctx, first, func(txn kv.Txn) error {
		_, err := txn.Add("a", kv.Entry{Version: "v1", Value: []byte("x")})
		return err
	})
	require.NoError(t, err)

	keys, err := second.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys)

	keys, err = other.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCloseHandleKeepsData(t *testing.T) {
	ctx := context.Background()
	backend := NewBackend()
	first := backend.Collection("files")

	err := kv.Update(ctx, first, func(txn kv.Txn) error {
		_, err := txn.Add("a", kv.Entry{Version: "v1"})
		return err
	})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	keys, err := backend.Collection("files").Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, keys)
}

func TestReturnedValuesAreCopies(t *testing.T) {
	ctx := context.Background()
	store := New("files")
	value := []byte("abc")

	err := kv.Update(ctx, store, func(txn kv.Txn) error {
		_, err := txn.Add("a", kv.Entry{Version: "v1", Value: value})
		return err
	})
	require.NoError(t, err)
	value[0] = 'X'

	err = kv.View(ctx, store, func(txn kv.Txn) error {
		entry, err := txn.Get("a")
		require.NoError(t, err)
		assert.Equal(t, []byte("abc"), entry.Value)
		entry.Value[0] = 'Y'
		return nil
	})
	require.NoError(t, err)

	err = kv.View(ctx, store, func(txn kv.Txn) error {
		entry, err := txn.Get("a")
		assert.Equal(t, []byte("abc"), entry.Value)
		return err
	})
	require.NoError(t, err)
}
