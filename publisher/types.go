// Package publisher pushes produced change events to external brokers. It
// is producer-side egress: a worker per sink polls the local producer with
// its own cursor and forwards every record, so a slow broker never holds
// back the RPC path.
package publisher

import "github.com/naanagon/yugabyte-db/cdc"

// Sink represents a destination for change events (e.g., Kafka, NATS).
type Sink interface {
	// Publish sends an event to the sink.
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink.
	Close() error
}

// Filter determines whether an event should be published.
type Filter interface {
	// Match returns true if the event should be published.
	Match(table string) bool
}

// Envelope is the published payload wrapping one record with its origin.
type Envelope struct {
	StreamID string     `msgpack:"stream_id"`
	TabletID string     `msgpack:"tablet_id"`
	NodeID   uint64     `msgpack:"node_id"`
	Record   cdc.Record `msgpack:"record"`
}
