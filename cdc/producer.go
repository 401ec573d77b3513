package cdc

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/naanagon/yugabyte-db/schema"
	"github.com/naanagon/yugabyte-db/telemetry"
)

// Request is one GetChanges call for a tablet.
type Request struct {
	StreamID string
	TabletID string
	// Checkpoint is the cursor the consumer echoes back from the previous
	// response, or the zero value to start from the log's beginning.
	Checkpoint Checkpoint
	// Deadline bounds the request. Zero means no deadline.
	Deadline time.Time
	// LastReadableOpIndex is the caller-supplied upper bound on log reads.
	// Zero means unbounded.
	LastReadableOpIndex int64
}

// Response carries the assembled events and the cursor for the next call.
type Response struct {
	Records []Record
	// Checkpoint echoes the received cursor when no progress was made.
	Checkpoint Checkpoint
	// StreamedOpID is the last fully streamed log position, used by the
	// host for lag computation. Invalid when nothing completed.
	StreamedOpID OpID
	// CommitTimestamp is the commit hybrid time of the last applied
	// transaction streamed in this response, zero otherwise.
	CommitTimestamp uint64
	TerminalStatus  TerminalStatus
	// ConsumedBytes is the memory accounted against the tracker while
	// serving this request.
	ConsumedBytes int64
}

// Producer is the top-level per-tablet state machine: it inspects the
// cursor, selects a mode (snapshot backfill, mid-transaction resume, WAL
// streaming), drives one streamer to the deadline and assembles the
// response.
//
// A Producer is shared by all consumers of a tablet; per-request state lives
// on the stack. The schema resolver it owns is the only shared mutable
// state.
type Producer struct {
	peer      TabletPeer
	reader    LogReader
	store     IntentStore
	catalog   CatalogClient
	consensus Consensus
	resolver  *SchemaResolver
	emitter   *ValueEmitter
	options   OptionsSource
	tracker   MemTracker
}

// ProducerConfig wires a Producer's collaborators.
type ProducerConfig struct {
	Peer       TabletPeer
	LogReader  LogReader
	Intents    IntentStore
	Catalog    CatalogClient
	Consensus  Consensus
	Options    OptionsSource
	MemTracker MemTracker
	EnumLabels schema.EnumLabelMap
}

// NewProducer builds the producer core for one tablet.
func NewProducer(cfg ProducerConfig) *Producer {
	options := cfg.Options
	if options == nil {
		options = StaticOptions(DefaultOptions())
	}
	return &Producer{
		peer:      cfg.Peer,
		reader:    cfg.LogReader,
		store:     cfg.Intents,
		catalog:   cfg.Catalog,
		consensus: cfg.Consensus,
		resolver:  NewSchemaResolver(cfg.Peer, cfg.Catalog),
		emitter:   NewValueEmitter(cfg.EnumLabels),
		options:   options,
		tracker:   cfg.MemTracker,
	}
}

// Resolver exposes the shared schema resolver for host bookkeeping.
func (p *Producer) Resolver() *SchemaResolver {
	return p.resolver
}

// GetChanges serves one request: the next ordered batch of committed row
// changes after the request's cursor, plus the updated cursor. Terminal
// failures return both a response carrying the terminal status and the
// typed error.
func (p *Producer) GetChanges(ctx context.Context, req *Request) (*Response, error) {
	started := time.Now()
	opts := p.options.Snapshot()
	consumption := NewScopedConsumption(p.tracker)
	defer consumption.Release()

	from := req.Checkpoint
	resp := &Response{Checkpoint: from, StreamedOpID: InvalidOpID, TerminalStatus: StatusOK}

	log.Debug().
		Str("stream", req.StreamID).
		Str("tablet", req.TabletID).
		Stringer("from_checkpoint", from).
		Msg("GetChanges")

	err := p.dispatch(ctx, req, from, opts, consumption, resp)

	consumption.Add(estimateRecordsSize(resp.Records))
	resp.ConsumedBytes = consumption.Total()

	p.enforceMonotonicity(from, resp)

	mode := "wal"
	if from.IsSnapshot() {
		mode = "snapshot"
	} else if from.IsMidTransaction() {
		mode = "resume"
	}
	telemetry.CDCRequestsTotal.With(mode, string(StatusOf(err))).Inc()
	telemetry.CDCRequestDurationSeconds.With(mode).Observe(time.Since(started).Seconds())
	telemetry.CDCEventsEmittedTotal.Add(float64(len(resp.Records)))
	telemetry.CDCEventsPerResponse.Observe(float64(len(resp.Records)))

	if err != nil {
		resp.TerminalStatus = StatusOf(err)
		if resp.TerminalStatus == StatusTabletSplit {
			telemetry.CDCTabletSplitsTotal.Inc()
		}
		return resp, err
	}
	return resp, nil
}

func (p *Producer) dispatch(
	ctx context.Context,
	req *Request,
	from Checkpoint,
	opts Options,
	consumption *ScopedConsumption,
	resp *Response,
) error {
	switch {
	case from.IsSnapshot():
		streamer := NewSnapshotStreamer(p.peer, p.consensus, p.emitter, opts)
		result, err := streamer.Stream(ctx, from, req.Deadline, p.resolver, consumption)
		if err != nil {
			return err
		}
		resp.Records = result.records
		resp.Checkpoint = result.checkpoint
		return nil

	case from.IsMidTransaction():
		txnID, err := DecodeReverseIndexTransaction(from.Key)
		if err != nil {
			return &InternalError{Detail: err.Error()}
		}
		streamer := NewIntentStreamer(p.peer, p.store, p.emitter, opts)
		result, err := streamer.Stream(
			ctx, from.OpID(), txnID, 0,
			ApplyState{Key: from.Key, WriteID: from.WriteID},
			p.resolver, consumption)
		if err != nil {
			return err
		}
		resp.Records = result.records
		resp.Checkpoint = result.checkpoint
		if result.done {
			resp.StreamedOpID = result.checkpoint.OpID()
		}
		return nil

	default:
		intentStreamer := NewIntentStreamer(p.peer, p.store, p.emitter, opts)
		streamer := NewWalStreamer(p.peer, p.reader, intentStreamer, p.catalog, p.emitter, opts)
		result, err := streamer.Stream(
			ctx, from, req.LastReadableOpIndex, req.Deadline, p.resolver, consumption)
		if err != nil {
			return err
		}
		resp.Records = result.records
		resp.CommitTimestamp = result.commitTimestamp
		if result.checkpointUpdated {
			resp.Checkpoint = result.checkpoint
		}
		if result.lastStreamed.Valid() {
			resp.StreamedOpID = result.lastStreamed
		}
		if result.splitReported {
			return &TabletSplitError{TabletID: p.peer.TabletID()}
		}
		return nil
	}
}

// enforceMonotonicity guards the cursor invariant: within a mode a returned
// cursor is never lexicographically less than the received one. Mode
// transitions (snapshot handshake and snapshot completion) legitimately
// reset the snapshot fields and are exempt.
func (p *Producer) enforceMonotonicity(from Checkpoint, resp *Response) {
	if from.IsSnapshot() != resp.Checkpoint.IsSnapshot() {
		return
	}
	if resp.Checkpoint.Compare(from) < 0 {
		dfatal("checkpoint regressed on tablet %s: %v -> %v",
			p.peer.TabletID(), from, resp.Checkpoint)
		resp.Checkpoint = from
	}
}

// estimateRecordsSize approximates the assembled response's footprint for
// memory accounting without serializing it.
func estimateRecordsSize(records []Record) int64 {
	var total int64
	for i := range records {
		total += 64
		total += int64(len(records[i].ID.WriteIDKey))
		total += datumSize(records[i].Row.OldTuple)
		total += datumSize(records[i].Row.NewTuple)
	}
	return total
}

func datumSize(tuple []Datum) int64 {
	var total int64
	for i := range tuple {
		total += 32 + int64(len(tuple[i].ColumnName))
		if s, ok := tuple[i].Value.(string); ok {
			total += int64(len(s))
		}
	}
	return total
}
