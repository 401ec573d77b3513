// Package intentdb is the provisional-intent store: every write of a
// distributed transaction is parked here until the transaction's apply
// record is replicated, and stays readable for CDC until retention lets it
// go. Intents of one transaction are keyed so iteration follows the
// transaction's logical write order.
package intentdb

import (
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/jizhuozhi/go-future"
	"github.com/rs/zerolog/log"

	"github.com/naanagon/yugabyte-db/cdc"
	"github.com/naanagon/yugabyte-db/encoding"
	"github.com/naanagon/yugabyte-db/hlc"
	"github.com/naanagon/yugabyte-db/telemetry"
)

// Key prefixes, sorted for efficient iteration.
const (
	prefixIntent = "/intent/" // /intent/{txnID hex}/{writeID:08x}
)

// Group commit configuration
const (
	batchMaxSize     = 128
	batchMaxWait     = 2 * time.Millisecond
	batchChannelSize = 1024
)

// DefaultIntentBatchLimit caps intents returned per GetIntents call so one
// huge transaction cannot monopolize a response.
const DefaultIntentBatchLimit = 1000

// intentRecord is the stored form of one intent.
type intentRecord struct {
	Key     []byte `msgpack:"k"`
	Value   []byte `msgpack:"v"`
	HT      uint64 `msgpack:"ht"`
	WriteID int32  `msgpack:"w"`
}

type batchOp struct {
	fn      func(batch *pebble.Batch) error
	promise *future.Promise[error]
}

// Options tune a Store.
type Options struct {
	// IntentBatchLimit caps intents per GetIntents call. Zero means
	// DefaultIntentBatchLimit.
	IntentBatchLimit int
}

// Store is a Pebble-backed intent store implementing cdc.IntentStore.
type Store struct {
	db     *pebble.DB
	path   string
	filter *TxnFilter
	limit  int

	batchCh   chan *batchOp
	stopBatch chan struct{}
	batchWg   sync.WaitGroup

	mu sync.Mutex
	// retention is the checkpoint at or below which intents may already be
	// garbage collected.
	retention cdc.OpID
	// pin blocks GC from advancing past an OpID until pinExpiry.
	pin       cdc.OpID
	pinExpiry time.Time

	closed bool
}

// Open opens (creating if needed) an intent store at path.
func Open(path string, opts Options) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open intent store: %w", err)
	}
	limit := opts.IntentBatchLimit
	if limit <= 0 {
		limit = DefaultIntentBatchLimit
	}
	s := &Store{
		db:        db,
		path:      path,
		filter:    NewTxnFilter(),
		limit:     limit,
		batchCh:   make(chan *batchOp, batchChannelSize),
		stopBatch: make(chan struct{}),
		retention: cdc.InvalidOpID,
		pin:       cdc.InvalidOpID,
	}
	s.batchWg.Add(1)
	go s.batchLoop()
	return s, nil
}

// Close flushes pending writes and closes the store.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.stopBatch)
	s.batchWg.Wait()
	return s.db.Close()
}

func intentKey(txnID cdc.TransactionID, writeID int32) []byte {
	return []byte(fmt.Sprintf("%s%s/%08x", prefixIntent, txnID, uint32(writeID)))
}

func txnPrefix(txnID cdc.TransactionID) []byte {
	return []byte(prefixIntent + txnID.String() + "/")
}

// WriteIntent enqueues one provisional write. The returned future resolves
// once the group-committed batch is durable.
func (s *Store) WriteIntent(txnID cdc.TransactionID, writeID int32, key, value []byte, ht hlc.HybridTime) *future.Future[error] {
	p := future.NewPromise[error]()
	record := intentRecord{Key: key, Value: value, HT: ht.ToUint64(), WriteID: writeID}
	encoded, err := encoding.Marshal(record)
	if err != nil {
		p.Set(nil, err)
		return p.Future()
	}
	storeKey := intentKey(txnID, writeID)

	op := &batchOp{
		fn: func(batch *pebble.Batch) error {
			return batch.Set(storeKey, encoded, nil)
		},
		promise: p,
	}
	select {
	case s.batchCh <- op:
		s.filter.Add(txnID)
	case <-s.stopBatch:
		p.Set(nil, fmt.Errorf("intent store is closed"))
	}
	return p.Future()
}

// GetIntents returns one bounded batch of the transaction's intents in
// reverse-index-key order, resuming strictly after state. The returned next
// state is Done when the transaction's intents are exhausted.
func (s *Store) GetIntents(txnID cdc.TransactionID, state cdc.ApplyState) ([]cdc.Intent, cdc.ApplyState, error) {
	if !s.filter.MaybeContains(txnID) {
		return nil, cdc.ApplyState{}, nil
	}

	lower := txnPrefix(txnID)
	if len(state.Key) > 0 {
		resumeAfter, err := cdc.DecodeReverseIndexWriteID(state.Key)
		if err != nil {
			return nil, cdc.ApplyState{}, err
		}
		lower = intentKey(txnID, resumeAfter+1)
	}
	upper := append(txnPrefix(txnID), 0xff)

	iter, err := s.db.NewIter(&pebble.IterOptions{LowerBound: lower, UpperBound: upper})
	if err != nil {
		return nil, cdc.ApplyState{}, fmt.Errorf("intent iterator: %w", err)
	}
	defer iter.Close()

	intents := make([]cdc.Intent, 0, 64)
	more := false
	for valid := iter.First(); valid; valid = iter.Next() {
		if len(intents) >= s.limit {
			more = true
			break
		}
		var record intentRecord
		if err := encoding.Unmarshal(iter.Value(), &record); err != nil {
			return nil, cdc.ApplyState{}, fmt.Errorf("decode intent record: %w", err)
		}
		intents = append(intents, cdc.Intent{
			Key:             record.Key,
			Value:           record.Value,
			HT:              hlc.FromUint64(record.HT),
			WriteID:         record.WriteID,
			ReverseIndexKey: cdc.EncodeReverseIndexKey(txnID, record.WriteID),
		})
	}

	telemetry.IntentsReadTotal.Add(float64(len(intents)))
	telemetry.IntentsPerBatch.Observe(float64(len(intents)))

	next := cdc.ApplyState{}
	if more {
		last := intents[len(intents)-1]
		next = cdc.ApplyState{Key: last.ReverseIndexKey, WriteID: last.WriteID}
	}
	return intents, next, nil
}

// RemoveTransaction deletes all intents of a transaction, typically after
// its apply record has been streamed and retention no longer needs it.
func (s *Store) RemoveTransaction(txnID cdc.TransactionID) error {
	prefix := txnPrefix(txnID)
	upper := append(txnPrefix(txnID), 0xff)
	if err := s.db.DeleteRange(prefix, upper, pebble.Sync); err != nil {
		return fmt.Errorf("remove transaction intents: %w", err)
	}
	s.filter.Remove(txnID)
	telemetry.IntentsGCedTotal.Inc()
	return nil
}

// SetRetention pins intent retention at an OpID for a duration. While the
// pin is live, AdvanceRetention refuses to move past it.
func (s *Store) SetRetention(op cdc.OpID, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pin = op
	s.pinExpiry = time.Now().Add(d)
	log.Info().
		Stringer("op_id", op).
		Dur("retention", d).
		Msg("Pinned intent retention")
	return nil
}

// RetentionCheckpoint returns the OpID at or below which intents may have
// been garbage collected.
func (s *Store) RetentionCheckpoint() cdc.OpID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retention
}

// AdvanceRetention moves the GC horizon forward, clamped at a live pin.
func (s *Store) AdvanceRetention(op cdc.OpID) cdc.OpID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pin.Valid() && time.Now().Before(s.pinExpiry) && s.pin.Less(op) {
		op = s.pin
	}
	if s.retention.Less(op) {
		s.retention = op
	}
	return s.retention
}

func (s *Store) batchLoop() {
	defer s.batchWg.Done()

	pending := make([]*batchOp, 0, batchMaxSize)
	timer := time.NewTimer(batchMaxWait)
	defer timer.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := s.db.NewBatch()
		for _, op := range pending {
			if err := op.fn(batch); err != nil {
				log.Error().Err(err).Msg("Failed to stage intent into batch")
			}
		}
		err := batch.Commit(pebble.Sync)
		for _, op := range pending {
			op.promise.Set(nil, err)
		}
		pending = pending[:0]
	}

	for {
		select {
		case op := <-s.batchCh:
			pending = append(pending, op)
			if len(pending) >= batchMaxSize {
				flush()
			}
		case <-timer.C:
			flush()
			timer.Reset(batchMaxWait)
		case <-s.stopBatch:
			// Drain what is already queued, then stop.
			for {
				select {
				case op := <-s.batchCh:
					pending = append(pending, op)
				default:
					flush()
					return
				}
			}
		}
	}
}
