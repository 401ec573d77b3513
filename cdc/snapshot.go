package cdc

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/naanagon/yugabyte-db/hlc"
	"github.com/naanagon/yugabyte-db/schema"
	"github.com/naanagon/yugabyte-db/telemetry"
)

// SnapshotStreamer performs the consistent-read backfill: a paginated table
// scan pinned at a single hybrid time, one READ event per row, resumable via
// the scan key carried in the checkpoint.
type SnapshotStreamer struct {
	peer      TabletPeer
	consensus Consensus
	emitter   *ValueEmitter
	options   Options
}

// NewSnapshotStreamer builds a streamer for one tablet.
func NewSnapshotStreamer(peer TabletPeer, consensus Consensus, emitter *ValueEmitter, options Options) *SnapshotStreamer {
	return &SnapshotStreamer{peer: peer, consensus: consensus, emitter: emitter, options: options}
}

// snapshotStreamResult is the outcome of one snapshot call.
type snapshotStreamResult struct {
	records    []Record
	checkpoint Checkpoint
}

// Stream handles both snapshot phases. The initial call (empty key, zero
// snapshot time) pins intent retention at the last replicated OpId and hands
// back the snapshot checkpoint with no events. Continuations scan from the
// checkpoint's key at the pinned read time.
func (s *SnapshotStreamer) Stream(
	ctx context.Context,
	from Checkpoint,
	deadline time.Time,
	resolver *SchemaResolver,
	consumption *ScopedConsumption,
) (*snapshotStreamResult, error) {
	if len(from.Key) == 0 && from.SnapshotTime == 0 {
		return s.initialize()
	}
	return s.scan(ctx, from, deadline, resolver, consumption)
}

func (s *SnapshotStreamer) initialize() (*snapshotStreamResult, error) {
	opID, logHT, err := s.consensus.LastReplicated()
	if err != nil {
		return nil, &SnapshotFailedError{TabletID: s.peer.TabletID(), Reason: err.Error()}
	}

	// Tell consensus where the slowest consumer is, then pin intent
	// retention so intents stay readable while the snapshot progresses.
	s.consensus.UpdateConsumerOpID(opID)
	if err := s.peer.SetRetention(opID, s.options.IntentRetention); err != nil {
		return nil, &SnapshotFailedError{TabletID: s.peer.TabletID(), Reason: err.Error()}
	}
	if opID, logHT, err = s.consensus.LastReplicated(); err != nil {
		return nil, &SnapshotFailedError{TabletID: s.peer.TabletID(), Reason: err.Error()}
	}

	log.Info().
		Str("tablet", s.peer.TabletID()).
		Stringer("op_id", opID).
		Uint64("snapshot_time", logHT.ToUint64()).
		Msg("Snapshot initialization started, pinning the checkpoint")

	return &snapshotStreamResult{
		checkpoint: Checkpoint{
			Term:         opID.Term,
			Index:        opID.Index,
			WriteID:      SnapshotWriteID,
			SnapshotTime: logHT.ToUint64(),
		},
	}, nil
}

func (s *SnapshotStreamer) scan(
	ctx context.Context,
	from Checkpoint,
	deadline time.Time,
	resolver *SchemaResolver,
	consumption *ScopedConsumption,
) (*snapshotStreamResult, error) {
	if s.options.TESTSnapshotFailure {
		return nil, &SnapshotFailedError{TabletID: s.peer.TabletID(), Reason: "snapshot failure forced by test option"}
	}

	result := &snapshotStreamResult{}
	readTime := hlc.FromUint64(from.SnapshotTime)

	// First scan of a fresh session also streams the schema: one synthetic
	// DDL per colocated table before any READ event.
	tabletSchema, version, cached := resolver.Cached()
	if !cached {
		tabletSchema, version = resolver.ResolveAt(ctx, hlc.Max)
		resolver.Install(tabletSchema, version)
		for _, table := range s.peer.ColocatedTables() {
			result.records = append(result.records, ddlRecord(table.TableName, tabletSchema, version, from.OpID()))
		}
	}

	iter, err := s.peer.NewSnapshotIterator(readTime, from.Key)
	if err != nil {
		return nil, &SnapshotFailedError{TabletID: s.peer.TabletID(), Reason: err.Error()}
	}
	defer iter.Close()

	fetched := 0
	for fetched < s.options.SnapshotBatchSize {
		if ctx.Err() != nil || (!deadline.IsZero() && !time.Now().Before(deadline)) {
			break
		}
		row, err := iter.Next()
		if err != nil {
			return nil, &SnapshotFailedError{TabletID: s.peer.TabletID(), Reason: err.Error()}
		}
		if row == nil {
			break
		}
		record, err := s.readRecord(row, tabletSchema, readTime)
		if err != nil {
			return nil, err
		}
		consumption.Add(int64(len(row.Values)) * 16)
		result.records = append(result.records, record)
		telemetry.CDCSnapshotRowsTotal.Inc()
		fetched++
	}

	nextKey, err := iter.NextReadKey()
	if err != nil {
		return nil, &SnapshotFailedError{TabletID: s.peer.TabletID(), Reason: err.Error()}
	}

	if len(nextKey) == 0 {
		log.Info().
			Str("tablet", s.peer.TabletID()).
			Msg("Done with snapshot operation")
		result.checkpoint = Checkpoint{Term: from.Term, Index: from.Index}
	} else {
		result.checkpoint = Checkpoint{
			Term:         from.Term,
			Index:        from.Index,
			WriteID:      SnapshotWriteID,
			Key:          nextKey,
			SnapshotTime: from.SnapshotTime,
		}
	}
	return result, nil
}

// readRecord builds one READ event covering every schema column. Unset
// columns carry column identity only, so the tuple width always equals the
// schema width.
func (s *SnapshotStreamer) readRecord(row *SnapshotRow, tabletSchema *schema.Schema, readTime hlc.HybridTime) (Record, error) {
	record := Record{
		Row: RowMessage{
			Op:           OpRead,
			Table:        s.peer.TableName(),
			PgSchemaName: tabletSchema.SchemaName,
			CommitTime:   readTime.ToUint64(),
		},
	}
	for i := range tabletSchema.Columns {
		col := &tabletSchema.Columns[i]
		target := addTuple(&record.Row)
		value, ok := row.Values[col.ID]
		if !ok {
			s.emitter.EmitTypeOnly(col, target)
			continue
		}
		if err := s.emitter.Emit(col, value, target); err != nil {
			return Record{}, err
		}
	}
	return record, nil
}
