package waldb

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naanagon/yugabyte-db/cdc"
	"github.com/naanagon/yugabyte-db/hlc"
	"github.com/naanagon/yugabyte-db/notify"
	"github.com/naanagon/yugabyte-db/schema"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func noopEntry(term, index int64, ht hlc.HybridTime) *cdc.LogMessage {
	return &cdc.LogMessage{OpID: cdc.OpID{Term: term, Index: index}, HT: ht, Kind: cdc.EntryNoOp}
}

func TestLogAppendAndReadAfter(t *testing.T) {
	l := openTestLog(t)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, l.Append(noopEntry(1, i, hlc.FromMicros(i*100))))
	}

	result, err := l.ReadAfter(context.Background(), cdc.OpID{Term: 1, Index: 2}, 0, time.Time{})
	require.NoError(t, err)
	require.Len(t, result.Messages, 3)
	assert.Equal(t, int64(3), result.Messages[0].OpID.Index)
	assert.Equal(t, int64(5), result.Messages[2].OpID.Index)
	assert.Positive(t, result.BytesRead)
}

func TestLogReadAfterUpperBound(t *testing.T) {
	l := openTestLog(t)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, l.Append(noopEntry(1, i, hlc.FromMicros(i*100))))
	}

	result, err := l.ReadAfter(context.Background(), cdc.OpID{}, 3, time.Time{})
	require.NoError(t, err)
	require.Len(t, result.Messages, 3)
	assert.Equal(t, int64(3), result.Messages[2].OpID.Index)
}

func TestLogLastReplicated(t *testing.T) {
	l := openTestLog(t)
	_, _, err := l.LastReplicated()
	assert.Error(t, err)

	require.NoError(t, l.Append(noopEntry(2, 9, hlc.FromMicros(900))))
	op, ht, err := l.LastReplicated()
	require.NoError(t, err)
	assert.Equal(t, cdc.OpID{Term: 2, Index: 9}, op)
	assert.Equal(t, hlc.FromMicros(900), ht)
}

func TestLogRecovery(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(dir)
	require.NoError(t, err)
	require.NoError(t, l.Append(noopEntry(3, 12, hlc.FromMicros(1200))))
	require.NoError(t, l.Close())

	reopened, err := Open(dir)
	require.NoError(t, err)
	defer reopened.Close()

	op, _, err := reopened.LastReplicated()
	require.NoError(t, err)
	assert.Equal(t, cdc.OpID{Term: 3, Index: 12}, op)
}

// Payloads survive the round trip, including the schema carried by a
// change-metadata entry.
func TestLogEntryRoundTrip(t *testing.T) {
	l := openTestLog(t)

	s := schema.New("public", []schema.ColumnSchema{
		{ID: 1, Name: "id", TypeOid: schema.OidInt8, IsKey: true},
		{ID: 2, Name: "v", TypeOid: schema.OidText},
	}, schema.TableProperties{NumTablets: 2})

	var txnID cdc.TransactionID
	txnID[5] = 0xaa

	entries := []*cdc.LogMessage{
		{
			OpID: cdc.OpID{Term: 1, Index: 1},
			HT:   hlc.FromMicros(100),
			Kind: cdc.EntryWrite,
			Write: &cdc.WritePayload{Pairs: []cdc.WritePair{
				{Key: []byte{1, 2}, Value: []byte{3}},
			}},
		},
		{
			OpID: cdc.OpID{Term: 1, Index: 2},
			HT:   hlc.FromMicros(200),
			Kind: cdc.EntryTxnApply,
			TxnApply: &cdc.TxnApplyPayload{
				TransactionID: txnID,
				Applying:      true,
				CommitHT:      hlc.FromMicros(150),
			},
		},
		{
			OpID: cdc.OpID{Term: 1, Index: 3},
			HT:   hlc.FromMicros(300),
			Kind: cdc.EntryChangeMetadata,
			ChangeMetadata: &cdc.ChangeMetadataPayload{
				Schema:        s,
				SchemaVersion: 4,
				NewTableName:  "orders_v2",
			},
		},
	}
	for _, entry := range entries {
		require.NoError(t, l.Append(entry))
	}

	result, err := l.ReadAfter(context.Background(), cdc.OpID{}, 0, time.Time{})
	require.NoError(t, err)
	require.Len(t, result.Messages, 3)

	write := result.Messages[0]
	require.NotNil(t, write.Write)
	assert.Equal(t, []byte{1, 2}, write.Write.Pairs[0].Key)

	apply := result.Messages[1]
	require.NotNil(t, apply.TxnApply)
	assert.Equal(t, txnID, apply.TxnApply.TransactionID)
	assert.Equal(t, hlc.FromMicros(150), apply.TxnApply.CommitHT)

	ddl := result.Messages[2]
	require.NotNil(t, ddl.ChangeMetadata)
	assert.Equal(t, schema.Version(4), ddl.ChangeMetadata.SchemaVersion)
	assert.Equal(t, "orders_v2", ddl.ChangeMetadata.NewTableName)
	col, err := ddl.ChangeMetadata.Schema.ColumnByID(2)
	require.NoError(t, err)
	assert.Equal(t, "v", col.Name)
}

func TestLogSignalsHubOnAppend(t *testing.T) {
	l := openTestLog(t)
	hub := notify.NewHub()
	l.SetHub(hub, "tablet-9")

	signals, cancel := hub.Subscribe("tablet-9")
	defer cancel()

	require.NoError(t, l.Append(noopEntry(1, 1, hlc.FromMicros(100))))

	select {
	case signal := <-signals:
		assert.Equal(t, "tablet-9", signal.TabletID)
		assert.Equal(t, cdc.OpID{Term: 1, Index: 1}, signal.OpID)
	case <-time.After(time.Second):
		t.Fatal("no signal received")
	}
}
