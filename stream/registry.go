package stream

import (
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// Registry is the process-wide stream table, shared by every request without
// a global lock.
type Registry struct {
	streams *xsync.MapOf[string, *Metadata]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{streams: xsync.NewMapOf[string, *Metadata]()}
}

// Register adds a stream. Fails when the id is already taken.
func (r *Registry) Register(m *Metadata) error {
	if _, loaded := r.streams.LoadOrStore(m.StreamID, m); loaded {
		return fmt.Errorf("stream %q already registered", m.StreamID)
	}
	log.Info().
		Str("stream", m.StreamID).
		Str("namespace", m.NamespaceID).
		Str("record_type", string(m.RecordType)).
		Msg("Registered CDC stream")
	return nil
}

// Get resolves a stream by id.
func (r *Registry) Get(streamID string) (*Metadata, bool) {
	return r.streams.Load(streamID)
}

// Remove deletes a stream.
func (r *Registry) Remove(streamID string) {
	r.streams.Delete(streamID)
}

// List returns all registered streams.
func (r *Registry) List() []*Metadata {
	out := make([]*Metadata, 0)
	r.streams.Range(func(_ string, m *Metadata) bool {
		out = append(out, m)
		return true
	})
	return out
}
