package testing

import (
	"testing"

	"github.com/marmos91/dittodir/pkg/store/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunConditionalTests executes compare-and-replace tests.
func (suite *StoreTestSuite) RunConditionalTests(t *testing.T) {
	t.Run("CompareAndReplace_Match", suite.testCASMatch)
	t.Run("CompareAndReplace_Mismatch", suite.testCASMismatch)
	t.Run("CompareAndReplace_Absent", suite.testCASAbsent)
	t.Run("CompareAndReplace_Chained", suite.testCASChained)
}

func (suite *StoreTestSuite) testCASMatch(t *testing.T) {
	store := suite.newStore(t)
	mustPut(t, store, "a", "v1", []byte("old"))

	err := kv.Update(testContext(), store, func(txn kv.Txn) error {
		replaced, err := txn.CompareAndReplace("a", kv.Entry{Version: "v2", Value: []byte("new")}, "v1")
		assert.True(t, replaced)
		return err
	})
	require.NoError(t, err)

	entry := mustGet(t, store, "a")
	assert.Equal(t, "v2", entry.Version)
	assert.Equal(t, []byte("new"), entry.Value)
}

func (suite *StoreTestSuite) testCASMismatch(t *testing.T) {
	store := suite.newStore(t)
	mustPut(t, store, "a", "v1", []byte("old"))

	err := kv.Update(testContext(), store, func(txn kv.Txn) error {
		replaced, err := txn.CompareAndReplace("a", kv.Entry{Version: "v3", Value: []byte("new")}, "v0")
		assert.False(t, replaced)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, "v1", mustGet(t, store, "a").Version)
}

func (suite *StoreTestSuite) testCASAbsent(t *testing.T) {
	store := suite.newStore(t)

	err := kv.Update(testContext(), store, func(txn kv.Txn) error {
		replaced, err := txn.CompareAndReplace("a", kv.Entry{Version: "v1"}, "v0")
		assert.False(t, replaced)
		return err
	})
	require.NoError(t, err)

	assert.False(t, contains(t, store, "a"))
}

func (suite *StoreTestSuite) testCASChained(t *testing.T) {
	store := suite.newStore(t)
	mustPut(t, store, "a", "v1", []byte("1"))

	// A replace followed by a replace against the new version in the
	// same transaction sees its own write.
	err := kv.Update(testContext(), store, func(txn kv.Txn) error {
		ok, err := txn.CompareAndReplace("a", kv.Entry{Version: "v2", Value: []byte("2")}, "v1")
		require.NoError(t, err)
		require.True(t, ok)
		ok, err = txn.CompareAndReplace("a", kv.Entry{Version: "v3", Value: []byte("3")}, "v2")
		require.True(t, ok)
		return err
	})
	require.NoError(t, err)

	assert.Equal(t, "v3", mustGet(t, store, "a").Version)
}
