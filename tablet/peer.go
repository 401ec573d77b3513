// Package tablet glues one hosted tablet's storage pieces into the view the
// producer consumes: identity, current schema, intent retention and
// snapshot scans.
package tablet

import (
	"sync"
	"time"

	"github.com/naanagon/yugabyte-db/cdc"
	"github.com/naanagon/yugabyte-db/hlc"
	"github.com/naanagon/yugabyte-db/intentdb"
	"github.com/naanagon/yugabyte-db/schema"
)

// PeerConfig assembles a Peer.
type PeerConfig struct {
	TabletID string
	TableID  string
	// Tables lists every table hosted on the tablet; the first entry is the
	// tablet's own table.
	Tables  []cdc.TableInfo
	Schema  *schema.Schema
	Version schema.Version
	Intents *intentdb.Store
	Rows    *RowStore
	Clock   *hlc.Clock
}

// Peer implements cdc.TabletPeer over the local stores.
type Peer struct {
	tabletID string
	tableID  string
	tables   []cdc.TableInfo
	intents  *intentdb.Store
	rows     *RowStore
	clock    *hlc.Clock

	mu      sync.RWMutex
	schema  *schema.Schema
	version schema.Version
}

// NewPeer builds a peer.
func NewPeer(cfg PeerConfig) *Peer {
	clock := cfg.Clock
	if clock == nil {
		clock = hlc.NewClock()
	}
	return &Peer{
		tabletID: cfg.TabletID,
		tableID:  cfg.TableID,
		tables:   cfg.Tables,
		intents:  cfg.Intents,
		rows:     cfg.Rows,
		clock:    clock,
		schema:   cfg.Schema,
		version:  cfg.Version,
	}
}

func (p *Peer) TabletID() string { return p.tabletID }
func (p *Peer) TableID() string  { return p.tableID }

func (p *Peer) TableName() string {
	if len(p.tables) > 0 {
		return p.tables[0].TableName
	}
	return ""
}

func (p *Peer) ColocatedTables() []cdc.TableInfo {
	return p.tables
}

func (p *Peer) CurrentSchema() (*schema.Schema, schema.Version) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.schema, p.version
}

// SetSchema installs a new current schema, as a completed DDL would.
func (p *Peer) SetSchema(s *schema.Schema, version schema.Version) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.schema = s
	p.version = version
}

func (p *Peer) RetentionCheckpoint() cdc.OpID {
	return p.intents.RetentionCheckpoint()
}

func (p *Peer) SetRetention(op cdc.OpID, d time.Duration) error {
	return p.intents.SetRetention(op, d)
}

func (p *Peer) NewSnapshotIterator(readTime hlc.HybridTime, startKey []byte) (cdc.SnapshotIterator, error) {
	return p.rows.NewIterator(readTime, startKey)
}

func (p *Peer) Now() hlc.HybridTime {
	return p.clock.Now()
}
