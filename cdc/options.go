package cdc

import (
	"sync/atomic"
	"time"
)

// Options are the runtime-mutable knobs of the producer. They are snapshotted
// once per request so a mid-batch flag flip never changes mode halfway.
type Options struct {
	// SnapshotBatchSize caps READ events per snapshot response.
	SnapshotBatchSize int
	// StreamTruncateRecord enables TRUNCATE events.
	StreamTruncateRecord bool
	// SingleRecordUpdate packs all column writes of a row into one UPDATE
	// event. Off means one event per cell.
	SingleRecordUpdate bool
	// IntentRetention is how long snapshot mode extends the intent GC
	// horizon.
	IntentRetention time.Duration
	// TESTSnapshotFailure forces snapshot continuation to fail. Test only.
	TESTSnapshotFailure bool
}

// DefaultOptions mirror the engine's flag defaults.
func DefaultOptions() Options {
	return Options{
		SnapshotBatchSize:  250,
		SingleRecordUpdate: true,
		IntentRetention:    4 * time.Hour,
	}
}

// OptionsSource yields the options snapshot for one request.
type OptionsSource interface {
	Snapshot() Options
}

// StaticOptions is an OptionsSource with fixed values, used by tests.
type StaticOptions Options

func (o StaticOptions) Snapshot() Options { return Options(o) }

// AtomicOptions is a swappable OptionsSource shared by all producers of a
// process; Store replaces the whole block at once.
type AtomicOptions struct {
	v atomic.Pointer[Options]
}

// NewAtomicOptions seeds the source with an initial block.
func NewAtomicOptions(opts Options) *AtomicOptions {
	a := &AtomicOptions{}
	a.Store(opts)
	return a
}

// Snapshot returns the current block.
func (a *AtomicOptions) Snapshot() Options {
	if p := a.v.Load(); p != nil {
		return *p
	}
	return DefaultOptions()
}

// Store replaces the block.
func (a *AtomicOptions) Store(opts Options) {
	a.v.Store(&opts)
}
