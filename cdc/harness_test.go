package cdc_test

import (
	"bytes"
	"context"
	"time"

	"github.com/naanagon/yugabyte-db/cdc"
	"github.com/naanagon/yugabyte-db/docdb"
	"github.com/naanagon/yugabyte-db/hlc"
	"github.com/naanagon/yugabyte-db/schema"
)

// testSchema is id (int8, key), c1 (int4), c2 (int4).
func testSchema() *schema.Schema {
	return schema.New("public", []schema.ColumnSchema{
		{ID: 1, Name: "id", TypeOid: schema.OidInt8, IsKey: true, IsHash: true},
		{ID: 2, Name: "c1", TypeOid: schema.OidInt4, Nullable: true},
		{ID: 3, Name: "c2", TypeOid: schema.OidInt4, Nullable: true},
	}, schema.TableProperties{NumTablets: 1})
}

func pkInt(v int64) docdb.PrimitiveValue {
	return docdb.PrimitiveValue{Kind: docdb.ValueInt64, Int64: v}
}

func txn(b byte) cdc.TransactionID {
	var id cdc.TransactionID
	id[15] = b
	return id
}

func systemIntent(txnID cdc.TransactionID, writeID int32, pk int64, ht hlc.HybridTime) cdc.Intent {
	return cdc.Intent{
		Key:             docdb.NewKeyBuilder(pkInt(pk)).SystemColumn(0).Bytes(),
		Value:           docdb.EncodeNullLow(),
		HT:              ht,
		WriteID:         writeID,
		ReverseIndexKey: cdc.EncodeReverseIndexKey(txnID, writeID),
	}
}

func columnIntent(txnID cdc.TransactionID, writeID int32, pk int64, columnID uint32, value int64, ht hlc.HybridTime) cdc.Intent {
	return cdc.Intent{
		Key:             docdb.NewKeyBuilder(pkInt(pk)).Column(columnID).Bytes(),
		Value:           docdb.EncodePrimitive(docdb.PrimitiveValue{Kind: docdb.ValueInt64, Int64: value}),
		HT:              ht,
		WriteID:         writeID,
		ReverseIndexKey: cdc.EncodeReverseIndexKey(txnID, writeID),
	}
}

func tombstoneIntent(txnID cdc.TransactionID, writeID int32, pk int64, ht hlc.HybridTime) cdc.Intent {
	return cdc.Intent{
		Key:             docdb.NewKeyBuilder(pkInt(pk)).Bytes(),
		Value:           docdb.EncodeTombstone(),
		HT:              ht,
		WriteID:         writeID,
		ReverseIndexKey: cdc.EncodeReverseIndexKey(txnID, writeID),
	}
}

// fakePeer implements cdc.TabletPeer over in-memory state.
type fakePeer struct {
	tabletID  string
	tableID   string
	tables    []cdc.TableInfo
	schema    *schema.Schema
	version   schema.Version
	retention cdc.OpID

	pinnedOp cdc.OpID
	pinnedD  time.Duration

	rows    []*cdc.SnapshotRow
	rowKeys [][]byte
	clock   *hlc.Clock
}

func newFakePeer() *fakePeer {
	return &fakePeer{
		tabletID:  "tablet-1",
		tableID:   "table-1",
		tables:    []cdc.TableInfo{{TableID: "table-1", TableName: "orders"}},
		schema:    testSchema(),
		version:   1,
		retention: cdc.InvalidOpID,
		clock:     hlc.NewClock(),
	}
}

func (p *fakePeer) TabletID() string                 { return p.tabletID }
func (p *fakePeer) TableID() string                  { return p.tableID }
func (p *fakePeer) TableName() string                { return p.tables[0].TableName }
func (p *fakePeer) ColocatedTables() []cdc.TableInfo { return p.tables }
func (p *fakePeer) CurrentSchema() (*schema.Schema, schema.Version) {
	return p.schema, p.version
}
func (p *fakePeer) RetentionCheckpoint() cdc.OpID { return p.retention }
func (p *fakePeer) SetRetention(op cdc.OpID, d time.Duration) error {
	p.pinnedOp = op
	p.pinnedD = d
	return nil
}
func (p *fakePeer) Now() hlc.HybridTime { return p.clock.Now() }

func (p *fakePeer) NewSnapshotIterator(readTime hlc.HybridTime, startKey []byte) (cdc.SnapshotIterator, error) {
	start := 0
	if len(startKey) > 0 {
		start = len(p.rows)
		for i, key := range p.rowKeys {
			if bytes.Compare(key, startKey) >= 0 {
				start = i
				break
			}
		}
	}
	return &fakeIterator{peer: p, next: start}, nil
}

type fakeIterator struct {
	peer     *fakePeer
	next     int
	returned bool
}

func (it *fakeIterator) Next() (*cdc.SnapshotRow, error) {
	if it.next >= len(it.peer.rows) {
		return nil, nil
	}
	row := it.peer.rows[it.next]
	it.next++
	it.returned = true
	return row, nil
}

func (it *fakeIterator) NextReadKey() ([]byte, error) {
	if !it.returned {
		return nil, nil
	}
	last := it.peer.rowKeys[it.next-1]
	return append(append([]byte(nil), last...), 0x00), nil
}

func (it *fakeIterator) Close() error { return nil }

// fakeLogReader serves a fixed entry sequence with a per-call batch cap.
type fakeLogReader struct {
	entries   []*cdc.LogMessage
	batchSize int
}

func (r *fakeLogReader) ReadAfter(ctx context.Context, after cdc.OpID, upToIndex int64, deadline time.Time) (cdc.ReadResult, error) {
	result := cdc.ReadResult{}
	limit := r.batchSize
	if limit <= 0 {
		limit = 1 << 30
	}
	for _, msg := range r.entries {
		if msg.OpID.Index <= after.Index {
			continue
		}
		if upToIndex > 0 && msg.OpID.Index > upToIndex {
			break
		}
		if len(result.Messages) >= limit {
			result.HaveMore = true
			break
		}
		result.Messages = append(result.Messages, msg)
		result.BytesRead += 64
	}
	return result, nil
}

// fakeIntentStore serves per-transaction intents with a batch budget,
// resuming strictly after the given state.
type fakeIntentStore struct {
	intents    map[cdc.TransactionID][]cdc.Intent
	batchLimit int
}

func newFakeIntentStore() *fakeIntentStore {
	return &fakeIntentStore{intents: make(map[cdc.TransactionID][]cdc.Intent)}
}

func (s *fakeIntentStore) add(txnID cdc.TransactionID, intents ...cdc.Intent) {
	s.intents[txnID] = append(s.intents[txnID], intents...)
}

func (s *fakeIntentStore) GetIntents(txnID cdc.TransactionID, state cdc.ApplyState) ([]cdc.Intent, cdc.ApplyState, error) {
	all := s.intents[txnID]
	start := 0
	if len(state.Key) > 0 {
		resumeAfter, err := cdc.DecodeReverseIndexWriteID(state.Key)
		if err != nil {
			return nil, cdc.ApplyState{}, err
		}
		for i, intent := range all {
			if intent.WriteID > resumeAfter {
				start = i
				break
			}
			start = i + 1
		}
	}
	batch := all[start:]
	more := false
	if s.batchLimit > 0 && len(batch) > s.batchLimit {
		batch = batch[:s.batchLimit]
		more = true
	}
	next := cdc.ApplyState{}
	if more {
		last := batch[len(batch)-1]
		next = cdc.ApplyState{Key: last.ReverseIndexKey, WriteID: last.WriteID}
	}
	return batch, next, nil
}

// fakeConsensus answers last-replicated queries and records advisory
// updates.
type fakeConsensus struct {
	opID     cdc.OpID
	ht       hlc.HybridTime
	advisory []cdc.OpID
}

func (c *fakeConsensus) LastReplicated() (cdc.OpID, hlc.HybridTime, error) {
	return c.opID, c.ht, nil
}

func (c *fakeConsensus) UpdateConsumerOpID(op cdc.OpID) {
	c.advisory = append(c.advisory, op)
}

// harness bundles a producer with its fakes.
type harness struct {
	peer      *fakePeer
	reader    *fakeLogReader
	store     *fakeIntentStore
	catalog   *historyCatalog
	consensus *fakeConsensus
	options   *cdc.AtomicOptions
	producer  *cdc.Producer
}

// historyCatalog is a minimal versioned catalog for tests.
type historyCatalog struct {
	versions []catalogVersion
	tablets  []cdc.TabletLocation
}

type catalogVersion struct {
	since   hlc.HybridTime
	schema  *schema.Schema
	version schema.Version
}

func (c *historyCatalog) addVersion(since hlc.HybridTime, s *schema.Schema, v schema.Version) {
	c.versions = append(c.versions, catalogVersion{since: since, schema: s, version: v})
}

func (c *historyCatalog) GetTableSchemaAt(ctx context.Context, tableID string, ht hlc.HybridTime) (*schema.Schema, schema.Version, error) {
	best := -1
	for i := range c.versions {
		if c.versions[i].since <= ht {
			best = i
		}
	}
	if best < 0 {
		return nil, 0, cdc.ErrTableNotFound
	}
	return c.versions[best].schema, c.versions[best].version, nil
}

func (c *historyCatalog) ListTablets(ctx context.Context, tableID string) ([]cdc.TabletLocation, error) {
	return c.tablets, nil
}

func newHarness() *harness {
	h := &harness{
		peer:      newFakePeer(),
		reader:    &fakeLogReader{},
		store:     newFakeIntentStore(),
		catalog:   &historyCatalog{},
		consensus: &fakeConsensus{},
		options:   cdc.NewAtomicOptions(cdc.DefaultOptions()),
	}
	h.catalog.addVersion(hlc.FromMicros(0), testSchema(), 1)
	h.producer = cdc.NewProducer(cdc.ProducerConfig{
		Peer:       h.peer,
		LogReader:  h.reader,
		Intents:    h.store,
		Catalog:    h.catalog,
		Consensus:  h.consensus,
		Options:    h.options,
		MemTracker: &cdc.AtomicMemTracker{},
	})
	return h
}

// pinSchema pre-resolves the schema so tests start past the bootstrap DDL.
func (h *harness) pinSchema() {
	h.producer.Resolver().Install(testSchema(), 1)
}

func applyEntry(op cdc.OpID, txnID cdc.TransactionID, commitHT hlc.HybridTime) *cdc.LogMessage {
	return &cdc.LogMessage{
		OpID: op,
		HT:   commitHT,
		Kind: cdc.EntryTxnApply,
		TxnApply: &cdc.TxnApplyPayload{
			TransactionID: txnID,
			Applying:      true,
			CommitHT:      commitHT,
		},
	}
}

func getChanges(h *harness, from cdc.Checkpoint) (*cdc.Response, error) {
	return h.producer.GetChanges(context.Background(), &cdc.Request{
		StreamID:   "stream-1",
		TabletID:   h.peer.tabletID,
		Checkpoint: from,
	})
}

func ops(records []cdc.Record) []cdc.Op {
	out := make([]cdc.Op, 0, len(records))
	for _, record := range records {
		out = append(out, record.Row.Op)
	}
	return out
}
