package testing

import (
	"context"
	"testing"

	"github.com/marmos91/dittodir/pkg/store/kv"
	"github.com/stretchr/testify/require"
)

// StoreTestSuite is a conformance suite for kv.Store implementations. It
// exercises the interface contract only, so every backend (memory, badger)
// runs the same tests.
//
// Usage:
//
//	func TestMyStore(t *testing.T) {
//	    suite := &kvtesting.StoreTestSuite{
//	        NewStore: func(t *testing.T) kv.Store {
//	            return mystore.New()
//	        },
//	    }
//	    suite.Run(t)
//	}
type StoreTestSuite struct {
	// NewStore returns a fresh, empty store for each test. The suite
	// closes it at the end of the test unless the test closed it itself.
	NewStore func(t *testing.T) kv.Store

	// MaxValueSize is the largest encoded value the store accepts. Zero
	// means the store has no limit and the oversized-value test is skipped.
	MaxValueSize int64
}

// Run executes all tests in the suite.
func (suite *StoreTestSuite) Run(t *testing.T) {
	t.Run("BasicOperations", suite.RunBasicTests)
	t.Run("ConditionalOperations", suite.RunConditionalTests)
	t.Run("Transactions", suite.RunTransactionTests)
	t.Run("Collection", suite.RunCollectionTests)
}

// newStore creates a store and registers its cleanup.
func (suite *StoreTestSuite) newStore(t *testing.T) kv.Store {
	t.Helper()
	store := suite.NewStore(t)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// testContext returns a standard test context.
func testContext() context.Context {
	return context.Background()
}

// mustPut stores value under key with the given version.
func mustPut(t *testing.T, store kv.Store, key, version string, value []byte) {
	t.Helper()
	err := kv.Update(testContext(), store, func(txn kv.Txn) error {
		added, err := txn.Add(key, kv.Entry{Version: version, Value: value})
		require.NoError(t, err)
		require.True(t, added, "key %s already present", key)
		return nil
	})
	require.NoError(t, err)
}

// mustGet reads the entry stored under key.
func mustGet(t *testing.T, store kv.Store, key string) kv.Entry {
	t.Helper()
	var entry kv.Entry
	err := kv.View(testContext(), store, func(txn kv.Txn) error {
		var err error
		entry, err = txn.Get(key)
		return err
	})
	require.NoError(t, err)
	return entry
}

// contains reports whether key is present.
func contains(t *testing.T, store kv.Store, key string) bool {
	t.Helper()
	var ok bool
	err := kv.View(testContext(), store, func(txn kv.Txn) error {
		var err error
		ok, err = txn.ContainsKey(key)
		return err
	})
	require.NoError(t, err)
	return ok
}
