package cdc

import (
	"bytes"
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/naanagon/yugabyte-db/docdb"
	"github.com/naanagon/yugabyte-db/schema"
)

// WalStreamer walks newly replicated log entries strictly after the cursor,
// dispatches by entry kind and drives the appropriate sub-streamer. It runs
// cooperatively to the request deadline: when a fetched batch yields no
// actionable entry it keeps fetching until an entry, the upper bound, or the
// deadline stops it. Without an upper bound (upToIndex <= 0) it reads a
// single batch per request.
type WalStreamer struct {
	peer    TabletPeer
	reader  LogReader
	intents *IntentStreamer
	catalog CatalogClient
	emitter *ValueEmitter
	options Options
}

// NewWalStreamer builds a streamer over the tablet's consensus log.
func NewWalStreamer(
	peer TabletPeer,
	reader LogReader,
	intents *IntentStreamer,
	catalog CatalogClient,
	emitter *ValueEmitter,
	options Options,
) *WalStreamer {
	return &WalStreamer{
		peer:    peer,
		reader:  reader,
		intents: intents,
		catalog: catalog,
		emitter: emitter,
		options: options,
	}
}

// walStreamResult is the outcome of one WAL streaming pass.
type walStreamResult struct {
	records           []Record
	checkpoint        Checkpoint
	checkpointUpdated bool
	lastStreamed      OpID
	commitTimestamp   uint64
	splitReported     bool
}

// Stream reads log entries after the checkpoint up to upToIndex or the
// deadline and assembles events.
func (w *WalStreamer) Stream(
	ctx context.Context,
	from Checkpoint,
	upToIndex int64,
	deadline time.Time,
	resolver *SchemaResolver,
	consumption *ScopedConsumption,
) (*walStreamResult, error) {
	res := &walStreamResult{lastStreamed: InvalidOpID}
	lastSeen := from.OpID()
	defaultOpID := InvalidOpID
	splitOpID := InvalidOpID
	schemaStreamed := false

	for {
		if err := ctx.Err(); err != nil {
			break
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			break
		}

		readResult, err := w.reader.ReadAfter(ctx, lastSeen, upToIndex, deadline)
		if err != nil {
			return nil, err
		}
		if readResult.BytesRead > 0 {
			consumption.Add(readResult.BytesRead)
		}
		if len(readResult.Messages) == 0 {
			log.Debug().
				Str("tablet", w.peer.TabletID()).
				Stringer("last_seen_op_id", lastSeen).
				Int64("last_readable_opid_index", upToIndex).
				Msg("Did not get any messages with current batch of read ops")
			break
		}

		pendingIntents := false
		for _, msg := range readResult.Messages {
			lastSeen = msg.OpID

			if !schemaStreamed {
				if _, _, ok := resolver.Cached(); !ok {
					resolved, version := resolver.ResolveAt(ctx, msg.HT)
					resolver.Install(resolved, version)
					res.records = append(res.records, w.colocatedDDLRecords(resolved, version, msg.OpID)...)
				}
				schemaStreamed = true
			}
			currentSchema, _, _ := resolver.Cached()

			switch msg.Kind {
			case EntryTxnApply:
				if msg.TxnApply.Applying {
					res.commitTimestamp = msg.TxnApply.CommitHT.ToUint64()
					streamed, err := w.intents.Stream(
						ctx, msg.OpID, msg.TxnApply.TransactionID, msg.TxnApply.CommitHT,
						ApplyState{}, resolver, consumption)
					if err != nil {
						return nil, err
					}
					res.records = append(res.records, streamed.records...)
					res.checkpoint = streamed.checkpoint
					res.checkpointUpdated = true
					if !streamed.done {
						pendingIntents = true
						log.Debug().
							Str("transaction_id", msg.TxnApply.TransactionID.String()).
							Stringer("op_id", msg.OpID).
							Msg("There are pending intents for the transaction")
					} else {
						res.lastStreamed = msg.OpID
					}
				} else {
					defaultOpID = msg.OpID
				}

			case EntryWrite:
				if msg.Write != nil && !msg.Write.Transactional {
					records, err := w.writeRecords(msg, currentSchema)
					if err != nil {
						return nil, err
					}
					res.records = append(res.records, records...)
					res.checkpoint = Checkpoint{Term: msg.OpID.Term, Index: msg.OpID.Index}
					res.checkpointUpdated = true
					res.lastStreamed = msg.OpID
				}
				// Transactional batches are read from the intent store once
				// their apply record arrives.

			case EntryChangeMetadata:
				installed, version := resolver.InstallFromDDL(ctx, msg.ChangeMetadata, msg.HT)
				if !w.isRedundantDDL(res.records, version) {
					record := ddlRecord(w.peer.TableName(), installed, version, msg.OpID)
					record.Row.NewTableName = msg.ChangeMetadata.NewTableName
					res.records = append(res.records, record)
				}
				res.checkpoint = Checkpoint{Term: msg.OpID.Term, Index: msg.OpID.Index}
				res.checkpointUpdated = true
				res.lastStreamed = msg.OpID

			case EntryTruncate:
				if w.options.StreamTruncateRecord {
					res.records = append(res.records, Record{
						ID: RecordOpID{Term: msg.OpID.Term, Index: msg.OpID.Index},
						Row: RowMessage{
							Op:           OpTruncate,
							Table:        w.peer.TableName(),
							PgSchemaName: currentSchema.SchemaName,
						},
					})
					res.checkpoint = Checkpoint{Term: msg.OpID.Term, Index: msg.OpID.Index}
					res.checkpointUpdated = true
					res.lastStreamed = msg.OpID
				}

			case EntrySplit:
				if !w.verifySplit(ctx) {
					// Children may not be running yet; not a confirmed split.
					log.Info().
						Stringer("op_id", msg.OpID).
						Str("tablet", w.peer.TabletID()).
						Msg("Found split record but no children tablets for the tablet yet")
					defaultOpID = msg.OpID
				} else if res.checkpointUpdated {
					log.Info().
						Stringer("op_id", msg.OpID).
						Str("tablet", w.peer.TabletID()).
						Msg("Found split record, streaming all records seen until now")
				} else {
					res.checkpoint = Checkpoint{Term: msg.OpID.Term, Index: msg.OpID.Index}
					res.checkpointUpdated = true
					res.lastStreamed = msg.OpID
					splitOpID = msg.OpID
				}

			default:
				defaultOpID = msg.OpID
			}

			if pendingIntents {
				// Do not advance past this apply record; the next request
				// resumes the same transaction.
				break
			}
		}

		if res.checkpointUpdated || upToIndex <= 0 || lastSeen.Index >= upToIndex {
			break
		}
	}

	// Nothing actionable at all: advance over the skipped entries so the
	// stream still makes progress.
	if !res.checkpointUpdated && defaultOpID.Valid() {
		res.checkpoint = Checkpoint{Term: defaultOpID.Term, Index: defaultOpID.Index}
		res.checkpointUpdated = true
		res.lastStreamed = defaultOpID
		log.Debug().
			Str("tablet", w.peer.TabletID()).
			Stringer("op_id", defaultOpID).
			Msg("No actionable message found, advancing the checkpoint to the last skipped entry")
	}

	if splitOpID.Valid() && res.checkpoint.Term == splitOpID.Term &&
		res.checkpoint.Index == splitOpID.Index {
		res.splitReported = true
	}
	return res, nil
}

// isRedundantDDL reports whether the last emitted record is already a DDL at
// the same resulting schema version.
func (w *WalStreamer) isRedundantDDL(records []Record, version schema.Version) bool {
	if len(records) == 0 {
		return false
	}
	last := records[len(records)-1]
	return last.Row.Op == OpDDL && last.Row.SchemaVersion == version
}

// verifySplit asks the catalog whether exactly two children name this tablet
// as their split parent.
func (w *WalStreamer) verifySplit(ctx context.Context) bool {
	tablets, err := w.catalog.ListTablets(ctx, w.peer.TableID())
	if err != nil {
		log.Warn().Err(err).
			Str("tablet", w.peer.TabletID()).
			Msg("Failed to list tablets while verifying a split")
		return false
	}
	children := 0
	for _, tablet := range tablets {
		if tablet.SplitParentTabletID == w.peer.TabletID() {
			children++
		}
	}
	return children == 2
}

// colocatedDDLRecords emits one synthetic DDL per colocated table at the
// current schema version.
func (w *WalStreamer) colocatedDDLRecords(s *schema.Schema, version schema.Version, opID OpID) []Record {
	records := make([]Record, 0, len(w.peer.ColocatedTables()))
	for _, table := range w.peer.ColocatedTables() {
		records = append(records, ddlRecord(table.TableName, s, version, opID))
	}
	return records
}

// writeRecords splits a non-transactional write batch into one event per
// row. The batch is already the post-image of each row, so there is no
// BEGIN/COMMIT bracket and no intra-row accumulation across entries.
func (w *WalStreamer) writeRecords(msg *LogMessage, s *schema.Schema) ([]Record, error) {
	var records []Record
	var row *RowMessage
	var prevKey []byte

	for _, pair := range msg.Write.Pairs {
		decodedKey, err := docdb.DecodeKey(pair.Key)
		if err != nil {
			return nil, err
		}
		decodedValue, err := docdb.DecodeValue(pair.Value)
		if err != nil {
			return nil, err
		}
		class := decodedKey.ClassifyColumn(s)

		if !bytes.Equal(prevKey, decodedKey.PrimaryKeyPrefix) {
			records = append(records, Record{
				ID: RecordOpID{Term: msg.OpID.Term, Index: msg.OpID.Index},
			})
			row = &records[len(records)-1].Row
			row.Table = w.peer.TableName()
			row.CommitTime = msg.HT.ToUint64()

			switch {
			case decodedValue.Class == docdb.ValueClassTombstone && decodedKey.SubKeyDepth == 0:
				setOperation(row, OpDelete, s)
			case class == docdb.ColumnSystem && decodedValue.Class == docdb.ValueClassNullLow:
				setOperation(row, OpInsert, s)
			case decodedValue.Class == docdb.ValueClassPackedRow && class == docdb.ColumnNone:
				setOperation(row, OpInsert, s)
			default:
				setOperation(row, OpUpdate, s)
			}
			if err := addPrimaryKeyColumns(w.emitter, s, decodedKey, row); err != nil {
				return nil, err
			}
		}
		prevKey = decodedKey.PrimaryKeyPrefix

		if row.Op != OpInsert && row.Op != OpUpdate {
			continue
		}
		switch {
		case class == docdb.ColumnRegular:
			col, err := s.ColumnByID(decodedKey.ColumnID)
			if err != nil {
				return nil, &InternalError{Detail: err.Error()}
			}
			if err := w.emitter.Emit(col, decodedValue.Primitive, addTuple(row)); err != nil {
				return nil, err
			}
		case decodedValue.Class == docdb.ValueClassPackedRow:
			for _, packed := range decodedValue.Packed {
				if s.IsKeyColumn(packed.ColumnID) {
					continue
				}
				col, err := s.ColumnByID(packed.ColumnID)
				if err != nil {
					return nil, &InternalError{Detail: err.Error()}
				}
				if err := w.emitter.Emit(col, packed.Value, addTuple(row)); err != nil {
					return nil, err
				}
			}
		case class == docdb.ColumnSystem:
			// Liveness column, no datum.
		default:
			dfatal("unexpected value type in write batch key: class=%v value=%v", class, decodedValue.Class)
		}
	}
	return records, nil
}
