package cdc

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/naanagon/yugabyte-db/hlc"
)

// IntentStreamer walks an applied transaction's provisional intents in
// reverse-index order, drives the RowAssembler, and brackets the row events
// with BEGIN / COMMIT. A transaction larger than one batch suspends with a
// resume cursor and no COMMIT; the next request picks up where it stopped.
type IntentStreamer struct {
	peer    TabletPeer
	store   IntentStore
	emitter *ValueEmitter
	options Options
}

// NewIntentStreamer builds a streamer over the tablet's intent store.
func NewIntentStreamer(peer TabletPeer, store IntentStore, emitter *ValueEmitter, options Options) *IntentStreamer {
	return &IntentStreamer{peer: peer, store: store, emitter: emitter, options: options}
}

// intentStreamResult is the outcome of streaming one batch of a transaction.
type intentStreamResult struct {
	records    []Record
	checkpoint Checkpoint
	// done reports that the transaction's intents are exhausted and COMMIT
	// was emitted.
	done bool
}

// Stream reads one batch of the transaction's intents starting at state and
// assembles row events. Fails with IntentsGCedError when no intents come back
// for an opID at or below the tablet's retention checkpoint.
func (s *IntentStreamer) Stream(
	ctx context.Context,
	opID OpID,
	txnID TransactionID,
	commitHT hlc.HybridTime,
	state ApplyState,
	resolver *SchemaResolver,
	consumption *ScopedConsumption,
) (*intentStreamResult, error) {
	result := &intentStreamResult{}
	fresh := state.Done()

	if fresh {
		result.records = append(result.records, Record{
			ID: RecordOpID{Term: opID.Term, Index: opID.Index},
			Row: RowMessage{
				Op:            OpBegin,
				Table:         s.peer.TableName(),
				TransactionID: txnID.String(),
			},
		})
	}

	intents, next, err := s.store.GetIntents(txnID, state)
	if err != nil {
		return nil, err
	}

	if len(intents) == 0 {
		if retention := s.peer.RetentionCheckpoint(); retention.Valid() && !retention.Less(opID) {
			log.Error().
				Str("transaction_id", txnID.String()).
				Str("tablet", s.peer.TabletID()).
				Stringer("op_id", opID).
				Stringer("retention_checkpoint", retention).
				Msg("Apply record is at or below the tablet retention checkpoint, intents already removed")
			return nil, &IntentsGCedError{
				TabletID:      s.peer.TabletID(),
				TransactionID: txnID,
				OpID:          opID,
				Retention:     retention,
			}
		}
	}

	firstHT := commitHT
	if len(intents) > 0 {
		firstHT = intents[0].HT
	}
	tabletSchema, _ := resolver.EnsureResolved(ctx, firstHT)

	assembler := NewRowAssembler(RowAssemblerConfig{
		Schema:        tabletSchema,
		Emitter:       s.emitter,
		Packed:        s.options.SingleRecordUpdate,
		Table:         s.peer.TableName(),
		TransactionID: txnID.String(),
		CommitTime:    commitHT.ToUint64(),
		OpID:          opID,
		Consumption:   consumption,
	})
	for _, intent := range intents {
		if err := assembler.ProcessIntent(intent); err != nil {
			return nil, err
		}
	}
	assembler.Flush()
	result.records = append(result.records, assembler.Records()...)

	result.checkpoint.Term = opID.Term
	result.checkpoint.Index = opID.Index

	if next.Done() {
		result.done = true
		result.records = append(result.records, Record{
			ID: RecordOpID{Term: opID.Term, Index: opID.Index},
			Row: RowMessage{
				Op:            OpCommit,
				Table:         s.peer.TableName(),
				TransactionID: txnID.String(),
			},
		})
		result.checkpoint.Key = nil
		result.checkpoint.WriteID = 0
	} else {
		writeID, revKey := assembler.Cursor()
		result.checkpoint.Key = revKey
		result.checkpoint.WriteID = writeID
	}
	return result, nil
}
