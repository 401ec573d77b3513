// Package catalog provides an in-process catalog client: versioned schema
// history per table plus tablet topology, answering the producer's
// historical schema lookups and split verification.
package catalog

import (
	"context"
	"sort"
	"sync"

	"github.com/naanagon/yugabyte-db/cdc"
	"github.com/naanagon/yugabyte-db/hlc"
	"github.com/naanagon/yugabyte-db/schema"
)

type schemaVersion struct {
	since   hlc.HybridTime
	schema  *schema.Schema
	version schema.Version
}

// Client is a thread-safe catalog serving schema history and tablet
// locations. The host registers versions as DDLs commit.
type Client struct {
	mu       sync.RWMutex
	versions map[string][]schemaVersion
	tablets  map[string][]cdc.TabletLocation
}

// NewClient creates an empty catalog.
func NewClient() *Client {
	return &Client{
		versions: make(map[string][]schemaVersion),
		tablets:  make(map[string][]cdc.TabletLocation),
	}
}

// AddVersion records that the table's schema changed to s at the given
// hybrid time.
func (c *Client) AddVersion(tableID string, since hlc.HybridTime, s *schema.Schema, version schema.Version) {
	c.mu.Lock()
	defer c.mu.Unlock()
	history := append(c.versions[tableID], schemaVersion{since: since, schema: s, version: version})
	sort.Slice(history, func(i, j int) bool { return history[i].since < history[j].since })
	c.versions[tableID] = history
}

// SetTablets records the tablet topology of a table.
func (c *Client) SetTablets(tableID string, tablets []cdc.TabletLocation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tablets[tableID] = tablets
}

// GetTableSchemaAt returns the schema version in force at the hybrid time.
func (c *Client) GetTableSchemaAt(ctx context.Context, tableID string, ht hlc.HybridTime) (*schema.Schema, schema.Version, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	history := c.versions[tableID]
	if len(history) == 0 {
		return nil, 0, cdc.ErrTableNotFound
	}
	// Latest version whose effective time is at or before ht.
	best := -1
	for i := range history {
		if history[i].since <= ht {
			best = i
		}
	}
	if best < 0 {
		// Asked for a time before the table existed.
		return nil, 0, cdc.ErrTableNotFound
	}
	return history[best].schema, history[best].version, nil
}

// ListTablets returns all tablets of a table, including split children.
func (c *Client) ListTablets(ctx context.Context, tableID string) ([]cdc.TabletLocation, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]cdc.TabletLocation, len(c.tablets[tableID]))
	copy(out, c.tablets[tableID])
	return out, nil
}
