package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naanagon/yugabyte-db/catalog"
	"github.com/naanagon/yugabyte-db/cdc"
	"github.com/naanagon/yugabyte-db/docdb"
	"github.com/naanagon/yugabyte-db/hlc"
	"github.com/naanagon/yugabyte-db/intentdb"
	"github.com/naanagon/yugabyte-db/schema"
	"github.com/naanagon/yugabyte-db/service"
	"github.com/naanagon/yugabyte-db/stream"
	"github.com/naanagon/yugabyte-db/tablet"
	"github.com/naanagon/yugabyte-db/waldb"
)

type singleTablet struct {
	producer *cdc.Producer
}

func (s *singleTablet) ProducerFor(tabletID string) (*cdc.Producer, bool) {
	if tabletID != "tablet-1" {
		return nil, false
	}
	return s.producer, true
}

func startTestServer(t *testing.T) (*service.Server, *intentdb.Store, *waldb.Log) {
	t.Helper()

	tableSchema := schema.New("public", []schema.ColumnSchema{
		{ID: 1, Name: "id", TypeOid: schema.OidInt8, IsKey: true},
		{ID: 2, Name: "v", TypeOid: schema.OidInt4, Nullable: true},
	}, schema.TableProperties{NumTablets: 1})

	intents, err := intentdb.Open(t.TempDir(), intentdb.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { intents.Close() })

	wal, err := waldb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { wal.Close() })

	rows, err := tablet.OpenRowStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { rows.Close() })

	catalogClient := catalog.NewClient()
	catalogClient.AddVersion("table-1", hlc.FromMicros(0), tableSchema, 1)

	peer := tablet.NewPeer(tablet.PeerConfig{
		TabletID: "tablet-1",
		TableID:  "table-1",
		Tables:   []cdc.TableInfo{{TableID: "table-1", TableName: "events"}},
		Schema:   tableSchema,
		Version:  1,
		Intents:  intents,
		Rows:     rows,
	})
	producer := cdc.NewProducer(cdc.ProducerConfig{
		Peer:      peer,
		LogReader: wal,
		Intents:   intents,
		Catalog:   catalogClient,
		Consensus: wal,
	})

	streams := stream.NewRegistry()
	meta, err := stream.NewMetadata("s1", "ns1", stream.RecordChangeOnly, stream.CheckpointExplicit, "")
	require.NoError(t, err)
	require.NoError(t, streams.Register(meta))

	server := service.NewServer(service.ServerConfig{
		Address:   "127.0.0.1",
		Port:      0,
		Producers: &singleTablet{producer: producer},
		Streams:   streams,
	})
	require.NoError(t, server.Start())
	t.Cleanup(server.Stop)

	return server, intents, wal
}

func TestServiceGetChangesLoopback(t *testing.T) {
	server, intents, wal := startTestServer(t)

	var txnID cdc.TransactionID
	txnID[0] = 0x42
	commitHT := hlc.FromMicros(1000)
	key := docdb.NewKeyBuilder(docdb.PrimitiveValue{Kind: docdb.ValueInt64, Int64: 7}).Column(2).Bytes()
	value := docdb.EncodePrimitive(docdb.PrimitiveValue{Kind: docdb.ValueInt64, Int64: 10})
	_, err := intents.WriteIntent(txnID, 1, key, value, commitHT).Get()
	require.NoError(t, err)
	require.NoError(t, wal.Append(&cdc.LogMessage{
		OpID: cdc.OpID{Term: 1, Index: 1},
		HT:   commitHT,
		Kind: cdc.EntryTxnApply,
		TxnApply: &cdc.TxnApplyPayload{
			TransactionID: txnID,
			Applying:      true,
			CommitHT:      commitHT,
		},
	}))

	client, err := service.Dial(server.Addr())
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp, err := client.GetChanges(ctx, &service.GetChangesRequest{
		StreamID: "s1",
		TabletID: "tablet-1",
	})
	require.NoError(t, err)
	assert.Equal(t, string(cdc.StatusOK), resp.TerminalStatus)

	ops := make([]cdc.Op, 0, len(resp.Records))
	for _, record := range resp.Records {
		ops = append(ops, record.Row.Op)
	}
	assert.Equal(t, []cdc.Op{cdc.OpDDL, cdc.OpBegin, cdc.OpUpdate, cdc.OpCommit}, ops)

	// Echoing the returned cursor makes no further progress but stays
	// valid.
	decoded, err := cdc.DecodeCheckpoint(resp.Checkpoint)
	require.NoError(t, err)
	assert.Equal(t, int64(1), decoded.Index)

	second, err := client.GetChanges(ctx, &service.GetChangesRequest{
		StreamID:   "s1",
		TabletID:   "tablet-1",
		Checkpoint: resp.Checkpoint,
	})
	require.NoError(t, err)
	assert.Empty(t, second.Records)
	assert.Equal(t, resp.Checkpoint, second.Checkpoint)
}

func TestServiceUnknownStreamAndTablet(t *testing.T) {
	server, _, _ := startTestServer(t)

	client, err := service.Dial(server.Addr())
	require.NoError(t, err)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = client.GetChanges(ctx, &service.GetChangesRequest{StreamID: "nope", TabletID: "tablet-1"})
	assert.Error(t, err)

	_, err = client.GetChanges(ctx, &service.GetChangesRequest{StreamID: "s1", TabletID: "nope"})
	assert.Error(t, err)
}
