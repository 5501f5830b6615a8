package testing

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/marmos91/dittodir/pkg/store/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunBasicTests executes get/add/remove/contains tests.
func (suite *StoreTestSuite) RunBasicTests(t *testing.T) {
	t.Run("Get_NotFound", suite.testGetNotFound)
	t.Run("Add_Get", suite.testAddGet)
	t.Run("Add_Existing", suite.testAddExisting)
	t.Run("Add_EmptyValue", suite.testAddEmptyValue)
	t.Run("Add_LargeValue", suite.testAddLargeValue)
	t.Run("Add_OversizedValue", suite.testAddOversizedValue)
	t.Run("Remove", suite.testRemove)
	t.Run("Remove_Absent", suite.testRemoveAbsent)
	t.Run("ContainsKey", suite.testContainsKey)
	t.Run("EmptyKey", suite.testEmptyKey)
}

// ============================================================================
// Get / Add Tests
// ============================================================================

func (suite *StoreTestSuite) testGetNotFound(t *testing.T) {
	store := suite.newStore(t)

	err := kv.View(testContext(), store, func(txn kv.Txn) error {
		_, err := txn.Get("missing")
		return err
	})

	assert.ErrorIs(t, err, kv.ErrKeyNotFound)
}

func (suite *StoreTestSuite) testAddGet(t *testing.T) {
	store := suite.newStore(t)

	mustPut(t, store, "segments_1", "v1", []byte("hello"))

	entry := mustGet(t, store, "segments_1")
	assert.Equal(t, "v1", entry.Version)
	assert.Equal(t, []byte("hello"), entry.Value)
}

func (suite *StoreTestSuite) testAddExisting(t *testing.T) {
	store := suite.newStore(t)
	mustPut(t, store, "a", "v1", []byte("first"))

	err := kv.Update(testContext(), store, func(txn kv.Txn) error {
		added, err := txn.Add("a", kv.Entry{Version: "v2", Value: []byte("second")})
		assert.False(t, added)
		return err
	})
	require.NoError(t, err)

	entry := mustGet(t, store, "a")
	assert.Equal(t, "v1", entry.Version)
	assert.Equal(t, []byte("first"), entry.Value)
}

func (suite *StoreTestSuite) testAddEmptyValue(t *testing.T) {
	store := suite.newStore(t)
	mustPut(t, store, "empty", "v1", nil)

	entry := mustGet(t, store, "empty")
	assert.Equal(t, "v1", entry.Version)
	assert.Len(t, entry.Value, 0)
}

func (suite *StoreTestSuite) testAddLargeValue(t *testing.T) {
	store := suite.newStore(t)
	value := bytes.Repeat([]byte("0123456789abcdef"), 32*1024)
	mustPut(t, store, "large", "v1", value)

	entry := mustGet(t, store, "large")
	assert.True(t, bytes.Equal(value, entry.Value))
}

func (suite *StoreTestSuite) testAddOversizedValue(t *testing.T) {
	if suite.MaxValueSize == 0 {
		t.Skip("store has no value size limit")
	}
	store := suite.newStore(t)

	// Random bytes so compression cannot bring the value under the limit.
	value := make([]byte, suite.MaxValueSize+1024)
	_, err := rand.Read(value)
	require.NoError(t, err)

	err = kv.Update(testContext(), store, func(txn kv.Txn) error {
		_, err := txn.Add("oversized", kv.Entry{Version: "v1", Value: value})
		return err
	})
	require.ErrorIs(t, err, kv.ErrValueTooLarge)
	assert.Less(t, len(err.Error()), 200, "error should not carry the value")
	assert.False(t, contains(t, store, "oversized"))
}

// ============================================================================
// Remove / Contains Tests
// ============================================================================

func (suite *StoreTestSuite) testRemove(t *testing.T) {
	store := suite.newStore(t)
	mustPut(t, store, "a", "v1", []byte("x"))

	err := kv.Update(testContext(), store, func(txn kv.Txn) error {
		removed, err := txn.Remove("a")
		assert.True(t, removed)
		return err
	})
	require.NoError(t, err)

	assert.False(t, contains(t, store, "a"))
}

func (suite *StoreTestSuite) testRemoveAbsent(t *testing.T) {
	store := suite.newStore(t)

	err := kv.Update(testContext(), store, func(txn kv.Txn) error {
		removed, err := txn.Remove("missing")
		assert.False(t, removed)
		return err
	})
	require.NoError(t, err)
}

func (suite *StoreTestSuite) testContainsKey(t *testing.T) {
	store := suite.newStore(t)
	assert.False(t, contains(t, store, "a"))

	mustPut(t, store, "a", "v1", []byte("x"))
	assert.True(t, contains(t, store, "a"))
	assert.False(t, contains(t, store, "b"))
}

func (suite *StoreTestSuite) testEmptyKey(t *testing.T) {
	store := suite.newStore(t)

	err := kv.Update(testContext(), store, func(txn kv.Txn) error {
		_, err := txn.Add("", kv.Entry{Version: "v"})
		return err
	})
	assert.ErrorIs(t, err, kv.ErrEmptyKey)
}
