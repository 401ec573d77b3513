package telemetry

// Histogram bucket definitions for different latency profiles
var (
	// RequestBuckets for GetChanges request latencies (log reads + catalog calls)
	RequestBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}

	// BatchSizeBuckets for events per response
	BatchSizeBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500}

	// IntentBuckets for intents read per transaction batch
	IntentBuckets = []float64{1, 10, 50, 100, 500, 1000, 5000, 10000}
)

// Producer Metrics
var (
	// CDCRequestsTotal counts GetChanges requests by mode (wal, snapshot, resume) and status
	CDCRequestsTotal CounterVec = noopCounterVec{}

	// CDCRequestDurationSeconds measures GetChanges latency by mode
	CDCRequestDurationSeconds HistogramVec = noopHistogramVec{}

	// CDCEventsEmittedTotal counts all emitted events
	CDCEventsEmittedTotal Counter = NoopStat{}

	// CDCEventsPerResponse measures events per response
	CDCEventsPerResponse Histogram = NoopStat{}

	// CDCSnapshotRowsTotal counts READ events emitted by snapshot scans
	CDCSnapshotRowsTotal Counter = NoopStat{}

	// CDCReplicationLagIndex tracks consensus index lag per stream
	CDCReplicationLagIndex GaugeVec = noopGaugeVec{}

	// CDCSchemaFallbacksTotal counts catalog lookups that fell back to the tablet schema
	CDCSchemaFallbacksTotal Counter = NoopStat{}

	// CDCTabletSplitsTotal counts terminal tablet-split responses
	CDCTabletSplitsTotal Counter = NoopStat{}
)

// Intent Store Metrics
var (
	// IntentsReadTotal counts intents served to the producer
	IntentsReadTotal Counter = NoopStat{}

	// IntentsPerBatch measures intents returned per GetIntents call
	IntentsPerBatch Histogram = NoopStat{}

	// IntentStoreLiveTransactions tracks transactions with live intents
	IntentStoreLiveTransactions Gauge = NoopStat{}

	// IntentFilterChecks counts retention filter checks by result (hit, miss)
	IntentFilterChecks CounterVec = noopCounterVec{}

	// IntentsGCedTotal counts intents removed by garbage collection
	IntentsGCedTotal Counter = NoopStat{}
)

// Publisher Metrics
var (
	// PublisherEventsTotal counts events pushed to sinks by sink name and result
	PublisherEventsTotal CounterVec = noopCounterVec{}

	// PublisherRetryTotal counts publish retries by sink name
	PublisherRetryTotal CounterVec = noopCounterVec{}

	// PublisherLagEvents tracks unpublished events per sink
	PublisherLagEvents GaugeVec = noopGaugeVec{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	CDCRequestsTotal = NewCounterVec(
		"requests_total",
		"GetChanges requests by mode and status",
		[]string{"mode", "status"},
	)
	CDCRequestDurationSeconds = NewHistogramVec(
		"request_duration_seconds",
		"GetChanges latency by mode",
		[]string{"mode"},
		RequestBuckets,
	)
	CDCEventsEmittedTotal = NewCounter(
		"events_emitted_total",
		"Total emitted change events",
	)
	CDCEventsPerResponse = NewHistogramWithBuckets(
		"events_per_response",
		"Events per GetChanges response",
		BatchSizeBuckets,
	)
	CDCSnapshotRowsTotal = NewCounter(
		"snapshot_rows_total",
		"READ events emitted by snapshot scans",
	)
	CDCReplicationLagIndex = NewGaugeVec(
		"replication_lag_index",
		"Consensus index lag per stream",
		[]string{"stream"},
	)
	CDCSchemaFallbacksTotal = NewCounter(
		"schema_fallbacks_total",
		"Catalog schema lookups that fell back to the tablet's current schema",
	)
	CDCTabletSplitsTotal = NewCounter(
		"tablet_splits_total",
		"Terminal tablet-split responses",
	)

	IntentsReadTotal = NewCounter(
		"intents_read_total",
		"Intents served to the producer",
	)
	IntentsPerBatch = NewHistogramWithBuckets(
		"intents_per_batch",
		"Intents returned per GetIntents call",
		IntentBuckets,
	)
	IntentStoreLiveTransactions = NewGauge(
		"intent_store_live_transactions",
		"Transactions with live intents",
	)
	IntentFilterChecks = NewCounterVec(
		"intent_filter_checks",
		"Intent membership filter checks by result",
		[]string{"result"},
	)
	IntentsGCedTotal = NewCounter(
		"intents_gced_total",
		"Intents removed by garbage collection",
	)

	PublisherEventsTotal = NewCounterVec(
		"publisher_events_total",
		"Events pushed to sinks by sink and result",
		[]string{"sink", "result"},
	)
	PublisherRetryTotal = NewCounterVec(
		"publisher_retry_total",
		"Publish retries by sink",
		[]string{"sink"},
	)
	PublisherLagEvents = NewGaugeVec(
		"publisher_lag_events",
		"Unpublished events per sink",
		[]string{"sink"},
	)
}
