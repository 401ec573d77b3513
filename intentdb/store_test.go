package intentdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naanagon/yugabyte-db/cdc"
	"github.com/naanagon/yugabyte-db/docdb"
	"github.com/naanagon/yugabyte-db/hlc"
)

func testTxn(b byte) cdc.TransactionID {
	var id cdc.TransactionID
	id[0] = b
	return id
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(t.TempDir(), Options{})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func writeIntents(t *testing.T, store *Store, txnID cdc.TransactionID, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		key := docdb.NewKeyBuilder(docdb.PrimitiveValue{Kind: docdb.ValueInt64, Int64: int64(i)}).Bytes()
		fut := store.WriteIntent(txnID, int32(i+1), key, docdb.EncodeNullLow(), hlc.FromMicros(int64(i)))
		_, err := fut.Get()
		require.NoError(t, err)
	}
}

func TestStoreWriteAndGetInOrder(t *testing.T) {
	store := openTestStore(t)
	txnID := testTxn(1)
	writeIntents(t, store, txnID, 10)

	intents, next, err := store.GetIntents(txnID, cdc.ApplyState{})
	require.NoError(t, err)
	require.Len(t, intents, 10)
	assert.True(t, next.Done())

	for i, intent := range intents {
		assert.Equal(t, int32(i+1), intent.WriteID)
		assert.Equal(t, cdc.EncodeReverseIndexKey(txnID, int32(i+1)), intent.ReverseIndexKey)
	}
}

func TestStoreResumeAfterState(t *testing.T) {
	store, err := Open(t.TempDir(), Options{IntentBatchLimit: 3})
	require.NoError(t, err)
	defer store.Close()

	txnID := testTxn(2)
	writeIntents(t, store, txnID, 7)

	var all []cdc.Intent
	state := cdc.ApplyState{}
	for rounds := 0; rounds < 10; rounds++ {
		intents, next, err := store.GetIntents(txnID, state)
		require.NoError(t, err)
		all = append(all, intents...)
		if next.Done() {
			break
		}
		state = next
	}
	require.Len(t, all, 7)
	for i, intent := range all {
		assert.Equal(t, int32(i+1), intent.WriteID, "intent %d out of order", i)
	}
}

func TestStoreUnknownTransactionFastPath(t *testing.T) {
	store := openTestStore(t)

	intents, next, err := store.GetIntents(testTxn(3), cdc.ApplyState{})
	require.NoError(t, err)
	assert.Empty(t, intents)
	assert.True(t, next.Done())
}

func TestStoreRemoveTransaction(t *testing.T) {
	store := openTestStore(t)
	txnID := testTxn(4)
	writeIntents(t, store, txnID, 3)

	require.NoError(t, store.RemoveTransaction(txnID))

	intents, _, err := store.GetIntents(txnID, cdc.ApplyState{})
	require.NoError(t, err)
	assert.Empty(t, intents)
	assert.Equal(t, 0, store.filter.Live())
}

func TestStoreRetentionPin(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.SetRetention(cdc.OpID{Term: 1, Index: 5}, time.Hour))

	// GC cannot advance past the live pin.
	got := store.AdvanceRetention(cdc.OpID{Term: 1, Index: 50})
	assert.Equal(t, cdc.OpID{Term: 1, Index: 5}, got)
	assert.Equal(t, cdc.OpID{Term: 1, Index: 5}, store.RetentionCheckpoint())

	// Below the pin, GC advances freely.
	store2 := openTestStore(t)
	require.NoError(t, store2.SetRetention(cdc.OpID{Term: 1, Index: 100}, time.Hour))
	got = store2.AdvanceRetention(cdc.OpID{Term: 1, Index: 7})
	assert.Equal(t, cdc.OpID{Term: 1, Index: 7}, got)
}

func TestStoreIsolatesTransactions(t *testing.T) {
	store := openTestStore(t)
	writeIntents(t, store, testTxn(5), 4)
	writeIntents(t, store, testTxn(6), 2)

	intents, _, err := store.GetIntents(testTxn(5), cdc.ApplyState{})
	require.NoError(t, err)
	assert.Len(t, intents, 4)

	intents, _, err = store.GetIntents(testTxn(6), cdc.ApplyState{})
	require.NoError(t, err)
	assert.Len(t, intents, 2)
}
