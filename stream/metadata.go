// Package stream tracks per-consumer stream metadata on the producer side.
// It is a cache of what the catalog knows about each stream, plus the
// per-tablet bookkeeping the host uses for lag metrics.
package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/gobwas/glob"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/naanagon/yugabyte-db/cdc"
	"github.com/naanagon/yugabyte-db/hlc"
)

// RecordType selects how much of a row image a stream carries.
type RecordType string

const (
	RecordChangeOnly RecordType = "CHANGE"
	RecordFullRow    RecordType = "FULL_ROW"
)

// CheckpointType selects who persists checkpoints.
type CheckpointType string

const (
	CheckpointExplicit CheckpointType = "EXPLICIT"
	CheckpointImplicit CheckpointType = "IMPLICIT"
)

// TabletState is the per-(stream, tablet) bookkeeping mutated on every
// request.
type TabletState struct {
	mu sync.Mutex

	lastStreamedOpID cdc.OpID
	lastSafeTime     hlc.HybridTime
	lastPolledAt     time.Time
}

// RecordPoll updates the tablet bookkeeping after one GetChanges call.
func (s *TabletState) RecordPoll(streamed cdc.OpID, safeTime hlc.HybridTime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if streamed.Valid() {
		s.lastStreamedOpID = streamed
	}
	if safeTime.Valid() {
		s.lastSafeTime = safeTime
	}
	s.lastPolledAt = time.Now()
}

// LastStreamed returns the last fully streamed OpID and when the stream was
// last polled.
func (s *TabletState) LastStreamed() (cdc.OpID, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStreamedOpID, s.lastPolledAt
}

// Metadata is one stream's configuration plus its per-tablet state.
type Metadata struct {
	StreamID       string
	NamespaceID    string
	RecordType     RecordType
	CheckpointType CheckpointType
	CreatedAt      time.Time

	tableFilter glob.Glob
	tablets     *xsync.MapOf[string, *TabletState]
}

// NewMetadata builds stream metadata. tablePattern filters which tables the
// stream serves; empty matches everything.
func NewMetadata(streamID, namespaceID string, recordType RecordType, checkpointType CheckpointType, tablePattern string) (*Metadata, error) {
	m := &Metadata{
		StreamID:       streamID,
		NamespaceID:    namespaceID,
		RecordType:     recordType,
		CheckpointType: checkpointType,
		CreatedAt:      time.Now(),
		tablets:        xsync.NewMapOf[string, *TabletState](),
	}
	if tablePattern != "" {
		g, err := glob.Compile(tablePattern)
		if err != nil {
			return nil, fmt.Errorf("invalid table pattern %q: %w", tablePattern, err)
		}
		m.tableFilter = g
	}
	return m, nil
}

// MatchesTable reports whether the stream serves the table.
func (m *Metadata) MatchesTable(tableName string) bool {
	if m.tableFilter == nil {
		return true
	}
	return m.tableFilter.Match(tableName)
}

// TabletState returns (creating on first use) the bookkeeping for a tablet.
func (m *Metadata) TabletState(tabletID string) *TabletState {
	state, _ := m.tablets.LoadOrCompute(tabletID, func() *TabletState {
		return &TabletState{}
	})
	return state
}

// Tablets lists tablet ids with recorded state.
func (m *Metadata) Tablets() []string {
	ids := make([]string, 0)
	m.tablets.Range(func(id string, _ *TabletState) bool {
		ids = append(ids, id)
		return true
	})
	return ids
}
