// Package waldb is the durable segment index of the replicated write-ahead
// log. It serves the producer's ordered log reads and answers the
// last-replicated position consensus questions the snapshot path needs.
package waldb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/rs/zerolog/log"

	"github.com/naanagon/yugabyte-db/cdc"
	"github.com/naanagon/yugabyte-db/encoding"
	"github.com/naanagon/yugabyte-db/hlc"
	"github.com/naanagon/yugabyte-db/notify"
	"github.com/naanagon/yugabyte-db/schema"
)

const prefixEntry = "/wal/" // /wal/{index:016x}

// maxBatchMessages bounds one ReadAfter batch.
const maxBatchMessages = 256

type changeMetaRecord struct {
	SchemaName   string                 `msgpack:"schema_name"`
	Columns      []schema.ColumnSchema  `msgpack:"columns"`
	Properties   schema.TableProperties `msgpack:"properties"`
	Version      uint32                 `msgpack:"version"`
	NewTableName string                 `msgpack:"new_table_name,omitempty"`
}

type txnApplyRecord struct {
	TransactionID []byte `msgpack:"txn_id"`
	Applying      bool   `msgpack:"applying"`
	CommitHT      uint64 `msgpack:"commit_ht"`
}

type writePairRecord struct {
	Key   []byte `msgpack:"k"`
	Value []byte `msgpack:"v"`
}

type writeRecord struct {
	Transactional bool              `msgpack:"transactional"`
	Pairs         []writePairRecord `msgpack:"pairs"`
}

type entryRecord struct {
	Term       int64             `msgpack:"term"`
	Index      int64             `msgpack:"index"`
	HT         uint64            `msgpack:"ht"`
	Kind       uint8             `msgpack:"kind"`
	Write      *writeRecord      `msgpack:"write,omitempty"`
	TxnApply   *txnApplyRecord   `msgpack:"txn_apply,omitempty"`
	ChangeMeta *changeMetaRecord `msgpack:"change_meta,omitempty"`
}

// Log is a Pebble-backed ordered log implementing cdc.LogReader and
// cdc.Consensus.
type Log struct {
	db *pebble.DB

	mu             sync.Mutex
	lastReplicated cdc.OpID
	lastHT         hlc.HybridTime
	consumerOpID   cdc.OpID

	hub      *notify.Hub
	tabletID string
}

// SetHub attaches a notification hub; every Append signals subscribers
// watching the tablet.
func (l *Log) SetHub(hub *notify.Hub, tabletID string) {
	l.hub = hub
	l.tabletID = tabletID
}

// Open opens (creating if needed) a log at path and recovers the
// last-replicated position.
func Open(path string) (*Log, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open wal store: %w", err)
	}
	l := &Log{db: db, lastReplicated: cdc.InvalidOpID, consumerOpID: cdc.InvalidOpID}
	if err := l.recover(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the store.
func (l *Log) Close() error {
	return l.db.Close()
}

func (l *Log) recover() error {
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefixEntry),
		UpperBound: []byte(prefixEntry + "g"),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	if iter.Last() {
		var record entryRecord
		if err := encoding.Unmarshal(iter.Value(), &record); err != nil {
			return fmt.Errorf("recover wal tail: %w", err)
		}
		l.lastReplicated = cdc.OpID{Term: record.Term, Index: record.Index}
		l.lastHT = hlc.FromUint64(record.HT)
		log.Info().
			Stringer("op_id", l.lastReplicated).
			Msg("Recovered replicated log tail")
	}
	return nil
}

func entryKey(index int64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixEntry, uint64(index)))
}

// Append durably appends one replicated entry. Entries must arrive in index
// order.
func (l *Log) Append(msg *cdc.LogMessage) error {
	record := toRecord(msg)
	encoded, err := encoding.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode wal entry: %w", err)
	}
	if err := l.db.Set(entryKey(msg.OpID.Index), encoded, pebble.Sync); err != nil {
		return fmt.Errorf("append wal entry: %w", err)
	}

	l.mu.Lock()
	l.lastReplicated = msg.OpID
	l.lastHT = msg.HT
	l.mu.Unlock()

	if l.hub != nil {
		l.hub.Signal(l.tabletID, msg.OpID)
	}
	return nil
}

// ReadAfter returns ordered entries strictly after the given OpID, bounded
// by upToIndex (when positive), the per-batch message cap and the deadline.
func (l *Log) ReadAfter(ctx context.Context, after cdc.OpID, upToIndex int64, deadline time.Time) (cdc.ReadResult, error) {
	result := cdc.ReadResult{}
	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: entryKey(after.Index + 1),
		UpperBound: []byte(prefixEntry + "g"),
	})
	if err != nil {
		return result, fmt.Errorf("wal iterator: %w", err)
	}
	defer iter.Close()

	for valid := iter.First(); valid; valid = iter.Next() {
		if ctx.Err() != nil {
			break
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			break
		}
		if len(result.Messages) >= maxBatchMessages {
			result.HaveMore = true
			break
		}
		var record entryRecord
		if err := encoding.Unmarshal(iter.Value(), &record); err != nil {
			return result, fmt.Errorf("decode wal entry: %w", err)
		}
		if upToIndex > 0 && record.Index > upToIndex {
			break
		}
		result.Messages = append(result.Messages, fromRecord(&record))
		result.BytesRead += int64(len(iter.Value()))
	}
	return result, nil
}

// LastReplicated returns the tail position and its hybrid time.
func (l *Log) LastReplicated() (cdc.OpID, hlc.HybridTime, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.lastReplicated.Valid() {
		return cdc.InvalidOpID, hlc.Invalid, fmt.Errorf("log is empty")
	}
	return l.lastReplicated, l.lastHT, nil
}

// UpdateConsumerOpID records the slowest consumer position. Advisory.
func (l *Log) UpdateConsumerOpID(op cdc.OpID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.consumerOpID.Less(op) {
		l.consumerOpID = op
	}
}

// ConsumerOpID returns the advisory consumer position.
func (l *Log) ConsumerOpID() cdc.OpID {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.consumerOpID
}

func toRecord(msg *cdc.LogMessage) *entryRecord {
	record := &entryRecord{
		Term:  msg.OpID.Term,
		Index: msg.OpID.Index,
		HT:    msg.HT.ToUint64(),
		Kind:  uint8(msg.Kind),
	}
	if msg.Write != nil {
		record.Write = &writeRecord{Transactional: msg.Write.Transactional}
		for _, pair := range msg.Write.Pairs {
			record.Write.Pairs = append(record.Write.Pairs, writePairRecord{Key: pair.Key, Value: pair.Value})
		}
	}
	if msg.TxnApply != nil {
		record.TxnApply = &txnApplyRecord{
			TransactionID: msg.TxnApply.TransactionID[:],
			Applying:      msg.TxnApply.Applying,
			CommitHT:      msg.TxnApply.CommitHT.ToUint64(),
		}
	}
	if msg.ChangeMetadata != nil {
		record.ChangeMeta = &changeMetaRecord{
			SchemaName:   msg.ChangeMetadata.Schema.SchemaName,
			Columns:      msg.ChangeMetadata.Schema.Columns,
			Properties:   msg.ChangeMetadata.Schema.Properties,
			Version:      uint32(msg.ChangeMetadata.SchemaVersion),
			NewTableName: msg.ChangeMetadata.NewTableName,
		}
	}
	return record
}

func fromRecord(record *entryRecord) *cdc.LogMessage {
	msg := &cdc.LogMessage{
		OpID: cdc.OpID{Term: record.Term, Index: record.Index},
		HT:   hlc.FromUint64(record.HT),
		Kind: cdc.LogEntryKind(record.Kind),
	}
	if record.Write != nil {
		msg.Write = &cdc.WritePayload{Transactional: record.Write.Transactional}
		for _, pair := range record.Write.Pairs {
			msg.Write.Pairs = append(msg.Write.Pairs, cdc.WritePair{Key: pair.Key, Value: pair.Value})
		}
	}
	if record.TxnApply != nil {
		apply := &cdc.TxnApplyPayload{
			Applying: record.TxnApply.Applying,
			CommitHT: hlc.FromUint64(record.TxnApply.CommitHT),
		}
		copy(apply.TransactionID[:], record.TxnApply.TransactionID)
		msg.TxnApply = apply
	}
	if record.ChangeMeta != nil {
		msg.ChangeMetadata = &cdc.ChangeMetadataPayload{
			Schema:        schema.New(record.ChangeMeta.SchemaName, record.ChangeMeta.Columns, record.ChangeMeta.Properties),
			SchemaVersion: schema.Version(record.ChangeMeta.Version),
			NewTableName:  record.ChangeMeta.NewTableName,
		}
	}
	return msg
}
