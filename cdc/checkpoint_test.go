package cdc_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naanagon/yugabyte-db/cdc"
)

func TestCheckpointRoundTrip(t *testing.T) {
	original := cdc.Checkpoint{
		Term:         3,
		Index:        77,
		WriteID:      12,
		Key:          []byte{0x54, 1, 2, 3},
		SnapshotTime: 0,
	}
	encoded, err := cdc.EncodeCheckpoint(original)
	require.NoError(t, err)

	decoded, err := cdc.DecodeCheckpoint(encoded)
	require.NoError(t, err)
	assert.Equal(t, original, decoded)
}

func TestCheckpointValidation(t *testing.T) {
	// Snapshot time outside snapshot mode is contradictory.
	bad := cdc.Checkpoint{Term: 1, Index: 1, WriteID: 0, SnapshotTime: 99}
	assert.Error(t, cdc.ValidateCheckpoint(bad))

	encoded, err := cdc.EncodeCheckpoint(bad)
	require.NoError(t, err)
	_, err = cdc.DecodeCheckpoint(encoded)
	assert.Error(t, err)

	good := cdc.Checkpoint{Term: 1, Index: 1, WriteID: cdc.SnapshotWriteID, SnapshotTime: 99}
	assert.NoError(t, cdc.ValidateCheckpoint(good))
}

func TestCheckpointModes(t *testing.T) {
	snapshot := cdc.Checkpoint{WriteID: cdc.SnapshotWriteID, SnapshotTime: 5}
	assert.True(t, snapshot.IsSnapshot())
	assert.False(t, snapshot.IsMidTransaction())

	resume := cdc.Checkpoint{Term: 1, Index: 2, WriteID: 3, Key: []byte{0x54}}
	assert.False(t, resume.IsSnapshot())
	assert.True(t, resume.IsMidTransaction())

	boundary := cdc.Checkpoint{Term: 1, Index: 2}
	assert.False(t, boundary.IsSnapshot())
	assert.False(t, boundary.IsMidTransaction())
}

func TestCheckpointCompare(t *testing.T) {
	lowIndex := cdc.Checkpoint{Term: 1, Index: 1}
	highIndex := cdc.Checkpoint{Term: 1, Index: 2}
	highTerm := cdc.Checkpoint{Term: 2, Index: 0}
	assert.True(t, lowIndex.Compare(highIndex) < 0)
	assert.True(t, highIndex.Compare(highTerm) < 0)
	assert.Zero(t, lowIndex.Compare(lowIndex))

	// Within one transaction, later intents compare greater.
	early := cdc.Checkpoint{Term: 1, Index: 5, WriteID: 1, Key: []byte{0x54, 0, 0, 0, 1}}
	late := cdc.Checkpoint{Term: 1, Index: 5, WriteID: 2, Key: []byte{0x54, 0, 0, 0, 2}}
	assert.True(t, early.Compare(late) < 0)

	// The clean boundary at the same position sorts after any
	// mid-transaction state: the whole transaction is streamed.
	done := cdc.Checkpoint{Term: 1, Index: 5}
	assert.True(t, late.Compare(done) < 0)
	assert.True(t, done.Compare(late) > 0)
}

func TestReverseIndexKeyRoundTrip(t *testing.T) {
	txnID := txn(9)
	key := cdc.EncodeReverseIndexKey(txnID, 41)

	gotTxn, err := cdc.DecodeReverseIndexTransaction(key)
	require.NoError(t, err)
	assert.Equal(t, txnID, gotTxn)

	gotWID, err := cdc.DecodeReverseIndexWriteID(key)
	require.NoError(t, err)
	assert.Equal(t, int32(41), gotWID)

	_, err = cdc.DecodeReverseIndexTransaction([]byte("short"))
	assert.Error(t, err)
}

// Reverse-index keys of one transaction sort in write order.
func TestReverseIndexKeyOrdering(t *testing.T) {
	txnID := txn(10)
	prev := cdc.EncodeReverseIndexKey(txnID, 0)
	for wid := int32(1); wid < 100; wid++ {
		cur := cdc.EncodeReverseIndexKey(txnID, wid)
		require.True(t, string(prev) < string(cur), "write id %d", wid)
		prev = cur
	}
}
