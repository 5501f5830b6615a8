package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittodir/pkg/store/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunTransactionTests executes isolation and conflict tests.
func (suite *StoreTestSuite) RunTransactionTests(t *testing.T) {
	t.Run("Discard_DoesNotApply", suite.testDiscard)
	t.Run("ReadOnly_RejectsMutation", suite.testReadOnly)
	t.Run("Commit_Twice", suite.testCommitTwice)
	t.Run("Conflict_ConcurrentReplace", suite.testConflictConcurrentReplace)
	t.Run("Conflict_ConcurrentAdd", suite.testConflictConcurrentAdd)
	t.Run("Conflict_RemoveAfterRead", suite.testConflictRemoveAfterRead)
	t.Run("NoConflict_DifferentKeys", suite.testNoConflictDifferentKeys)
	t.Run("Begin_CancelledContext", suite.testBeginCancelled)
}

func (suite *StoreTestSuite) testDiscard(t *testing.T) {
	store := suite.newStore(t)

	txn, err := store.Begin(testContext(), true)
	require.NoError(t, err)
	_, err = txn.Add("a", kv.Entry{Version: "v1"})
	require.NoError(t, err)
	txn.Discard()

	assert.False(t, contains(t, store, "a"))
}

func (suite *StoreTestSuite) testReadOnly(t *testing.T) {
	store := suite.newStore(t)

	err := kv.View(testContext(), store, func(txn kv.Txn) error {
		_, err := txn.Add("a", kv.Entry{Version: "v1"})
		return err
	})
	assert.ErrorIs(t, err, kv.ErrReadOnlyTxn)
}

func (suite *StoreTestSuite) testCommitTwice(t *testing.T) {
	store := suite.newStore(t)

	txn, err := store.Begin(testContext(), true)
	require.NoError(t, err)
	_, err = txn.Add("a", kv.Entry{Version: "v1"})
	require.NoError(t, err)
	require.NoError(t, txn.Commit())

	assert.ErrorIs(t, txn.Commit(), kv.ErrTxnDone)
	_, err = txn.Get("a")
	assert.ErrorIs(t, err, kv.ErrTxnDone)
	txn.Discard()
}

func (suite *StoreTestSuite) testConflictConcurrentReplace(t *testing.T) {
	store := suite.newStore(t)
	mustPut(t, store, "a", "v1", []byte("base"))

	slow, err := store.Begin(testContext(), true)
	require.NoError(t, err)
	defer slow.Discard()

	// The slow writer snapshots the current version...
	current, err := slow.Get("a")
	require.NoError(t, err)

	// ...a fast writer replaces it and commits first...
	err = kv.Update(testContext(), store, func(txn kv.Txn) error {
		ok, err := txn.CompareAndReplace("a", kv.Entry{Version: "fast"}, "v1")
		require.True(t, ok)
		return err
	})
	require.NoError(t, err)

	// ...so the slow writer's replace must not silently win.
	ok, err := slow.CompareAndReplace("a", kv.Entry{Version: "slow"}, current.Version)
	if err == nil && ok {
		err = slow.Commit()
		assert.ErrorIs(t, err, kv.ErrConflict)
	} else {
		assert.False(t, ok)
	}

	assert.Equal(t, "fast", mustGet(t, store, "a").Version)
}

func (suite *StoreTestSuite) testConflictConcurrentAdd(t *testing.T) {
	store := suite.newStore(t)

	first, err := store.Begin(testContext(), true)
	require.NoError(t, err)
	defer first.Discard()
	second, err := store.Begin(testContext(), true)
	require.NoError(t, err)
	defer second.Discard()

	ok, err := first.Add("a", kv.Entry{Version: "first"})
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = second.Add("a", kv.Entry{Version: "second"})
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, first.Commit())
	assert.ErrorIs(t, second.Commit(), kv.ErrConflict)

	assert.Equal(t, "first", mustGet(t, store, "a").Version)
}

func (suite *StoreTestSuite) testConflictRemoveAfterRead(t *testing.T) {
	store := suite.newStore(t)
	mustPut(t, store, "a", "v1", []byte("x"))

	slow, err := store.Begin(testContext(), true)
	require.NoError(t, err)
	defer slow.Discard()
	ok, err := slow.CompareAndReplace("a", kv.Entry{Version: "v2"}, "v1")
	require.NoError(t, err)
	require.True(t, ok)

	err = kv.Update(testContext(), store, func(txn kv.Txn) error {
		_, err := txn.Remove("a")
		return err
	})
	require.NoError(t, err)

	assert.ErrorIs(t, slow.Commit(), kv.ErrConflict)
	assert.False(t, contains(t, store, "a"))
}

func (suite *StoreTestSuite) testNoConflictDifferentKeys(t *testing.T) {
	store := suite.newStore(t)

	first, err := store.Begin(testContext(), true)
	require.NoError(t, err)
	defer first.Discard()
	second, err := store.Begin(testContext(), true)
	require.NoError(t, err)
	defer second.Discard()

	_, err = first.Add("a", kv.Entry{Version: "1"})
	require.NoError(t, err)
	_, err = second.Add("b", kv.Entry{Version: "1"})
	require.NoError(t, err)

	require.NoError(t, first.Commit())
	require.NoError(t, second.Commit())
	assert.True(t, contains(t, store, "a"))
	assert.True(t, contains(t, store, "b"))
}

func (suite *StoreTestSuite) testBeginCancelled(t *testing.T) {
	store := suite.newStore(t)

	ctx, cancel := context.WithCancel(testContext())
	cancel()

	_, err := store.Begin(ctx, false)
	assert.ErrorIs(t, err, context.Canceled)
}
