package testing

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/marmos91/dittodir/pkg/store/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunCollectionTests executes enumeration, clear and close tests.
func (suite *StoreTestSuite) RunCollectionTests(t *testing.T) {
	t.Run("Keys_Empty", suite.testKeysEmpty)
	t.Run("Keys", suite.testKeys)
	t.Run("Clear", suite.testClear)
	t.Run("Close", suite.testClose)
}

func sortedKeys(t *testing.T, store kv.Store) []string {
	t.Helper()
	keys, err := store.Keys(testContext())
	require.NoError(t, err)
	sort.Strings(keys)
	return keys
}

func (suite *StoreTestSuite) testKeysEmpty(t *testing.T) {
	store := suite.newStore(t)
	assert.Empty(t, sortedKeys(t, store))
}

func (suite *StoreTestSuite) testKeys(t *testing.T) {
	store := suite.newStore(t)
	for _, key := range []string{"_0.cfs", "segments_2", "write.lock", "_0.si"} {
		mustPut(t, store, key, "v1", []byte(key))
	}

	want := []string{"_0.cfs", "_0.si", "segments_2", "write.lock"}
	if diff := cmp.Diff(want, sortedKeys(t, store)); diff != "" {
		t.Errorf("Keys() mismatch (-want +got):\n%s", diff)
	}
}

func (suite *StoreTestSuite) testClear(t *testing.T) {
	store := suite.newStore(t)
	mustPut(t, store, "a", "v1", []byte("x"))
	mustPut(t, store, "b", "v1", []byte("y"))

	require.NoError(t, store.Clear(testContext()))

	assert.Empty(t, sortedKeys(t, store))
	assert.False(t, contains(t, store, "a"))
}

func (suite *StoreTestSuite) testClose(t *testing.T) {
	store := suite.NewStore(t)
	require.NoError(t, store.Close())

	_, err := store.Begin(testContext(), false)
	assert.ErrorIs(t, err, kv.ErrClosed)
	_, err = store.Keys(testContext())
	assert.ErrorIs(t, err, kv.ErrClosed)
	assert.ErrorIs(t, store.Close(), kv.ErrClosed)
}
