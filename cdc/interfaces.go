package cdc

import (
	"context"
	"time"

	"github.com/naanagon/yugabyte-db/docdb"
	"github.com/naanagon/yugabyte-db/hlc"
	"github.com/naanagon/yugabyte-db/schema"
)

// LogEntryKind dispatches replicated log entries.
type LogEntryKind uint8

const (
	EntryNoOp LogEntryKind = iota
	EntryWrite
	EntryTxnApply
	EntryChangeMetadata
	EntryTruncate
	EntrySplit
)

func (k LogEntryKind) String() string {
	switch k {
	case EntryWrite:
		return "WRITE"
	case EntryTxnApply:
		return "TXN_APPLY"
	case EntryChangeMetadata:
		return "CHANGE_METADATA"
	case EntryTruncate:
		return "TRUNCATE"
	case EntrySplit:
		return "SPLIT"
	default:
		return "NO_OP"
	}
}

// WritePair is one key/value cell of a non-transactional write batch.
type WritePair struct {
	Key   []byte
	Value []byte
}

// WritePayload is the body of an EntryWrite log entry. Transactional write
// batches are skipped on the log path and read from the intent store once
// their apply record arrives.
type WritePayload struct {
	Transactional bool
	Pairs         []WritePair
}

// TxnApplyPayload is the body of an EntryTxnApply log entry: the signal that
// a transaction's intents are ready to materialize.
type TxnApplyPayload struct {
	TransactionID TransactionID
	Applying      bool
	CommitHT      hlc.HybridTime
}

// ChangeMetadataPayload is the body of an EntryChangeMetadata log entry. The
// entry may correspond to an attempted-but-rejected DDL: the catalog is
// authoritative, the entry is only a hint.
type ChangeMetadataPayload struct {
	Schema        *schema.Schema
	SchemaVersion schema.Version
	NewTableName  string
}

// LogMessage is one replicated, immutable consensus log entry.
type LogMessage struct {
	OpID           OpID
	HT             hlc.HybridTime
	Kind           LogEntryKind
	Write          *WritePayload
	TxnApply       *TxnApplyPayload
	ChangeMetadata *ChangeMetadataPayload
}

// ReadResult is one batch from the log reader, ordered with no gaps.
type ReadResult struct {
	Messages  []*LogMessage
	BytesRead int64
	HaveMore  bool
}

// LogReader reads consensus log entries strictly after an OpID, up to an
// upper bound index or a deadline.
type LogReader interface {
	ReadAfter(ctx context.Context, after OpID, upToIndex int64, deadline time.Time) (ReadResult, error)
}

// ApplyState marks a mid-transaction resumption point in a transaction's
// intent sequence. The zero value means "start from the beginning" on input
// and "no intents remain" on output.
type ApplyState struct {
	Key     []byte
	WriteID int32
}

// Done reports whether the state marks a finished iteration.
func (s ApplyState) Done() bool {
	return len(s.Key) == 0 && s.WriteID == 0
}

// IntentStore serves the provisional intents of applied transactions in
// reverse-index-key order, which matches the transaction's logical write
// order. A bounded batch is returned per call; next resumes where the batch
// stopped.
type IntentStore interface {
	GetIntents(txnID TransactionID, state ApplyState) (intents []Intent, next ApplyState, err error)
}

// TabletLocation describes one tablet of a table as the catalog sees it.
type TabletLocation struct {
	TabletID            string
	SplitParentTabletID string
}

// CatalogClient resolves historical schema versions and tablet topology from
// the catalog.
type CatalogClient interface {
	// GetTableSchemaAt returns the schema valid at the given hybrid time.
	// Returns ErrTableNotFound when the catalog cannot answer.
	GetTableSchemaAt(ctx context.Context, tableID string, ht hlc.HybridTime) (*schema.Schema, schema.Version, error)
	// ListTablets returns all tablets of a table, including inactive ones,
	// so split parentage can be verified.
	ListTablets(ctx context.Context, tableID string) ([]TabletLocation, error)
}

// Consensus is the slice of the consensus module the producer needs.
type Consensus interface {
	LastReplicated() (OpID, hlc.HybridTime, error)
	// UpdateConsumerOpID advises consensus of the slowest consumer position
	// so log retention can account for it. Best effort.
	UpdateConsumerOpID(op OpID)
}

// SnapshotRow is one scanned row keyed by column id. Absent columns carry no
// value; explicitly NULL columns carry a null primitive.
type SnapshotRow struct {
	Values map[uint32]docdb.PrimitiveValue
}

// SnapshotIterator is a consistent-read scan pinned at a hybrid time.
type SnapshotIterator interface {
	// Next returns the next row, or nil when the scan is exhausted.
	Next() (*SnapshotRow, error)
	// NextReadKey returns the resumable scan key following the last row
	// returned by Next. It is empty only when the scan returned no rows and
	// is exhausted, so a snapshot that ends exactly on a batch boundary
	// takes one extra call to observe completion.
	NextReadKey() ([]byte, error)
	Close() error
}

// TabletPeer is the producer's view of the hosting tablet: identity,
// colocated tables, current schema, intent retention and snapshot scans.
type TabletPeer interface {
	TabletID() string
	TableID() string
	TableName() string
	ColocatedTables() []TableInfo
	CurrentSchema() (*schema.Schema, schema.Version)
	// RetentionCheckpoint is the OpID at or below which intents may have
	// been garbage collected.
	RetentionCheckpoint() OpID
	// SetRetention pins intent retention at an OpID for a duration so a
	// snapshot can progress without losing intents.
	SetRetention(op OpID, d time.Duration) error
	NewSnapshotIterator(readTime hlc.HybridTime, startKey []byte) (SnapshotIterator, error)
	Now() hlc.HybridTime
}
