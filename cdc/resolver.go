package cdc

import (
	"context"
	"sync"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"github.com/naanagon/yugabyte-db/hlc"
	"github.com/naanagon/yugabyte-db/schema"
	"github.com/naanagon/yugabyte-db/telemetry"
)

// historyCacheSize bounds the per-tablet cache of historical schema lookups.
const historyCacheSize = 64

type resolvedSchema struct {
	schema  *schema.Schema
	version schema.Version
}

// SchemaResolver caches the (schema, schema_version) pinned for a tablet and
// resolves historical versions from the catalog. It is shared by all
// concurrent requests on the tablet: readers take the shared lock, the single
// loader takes the exclusive lock behind the loaded flag so first access
// never stampedes the catalog.
type SchemaResolver struct {
	peer    TabletPeer
	catalog CatalogClient

	mu      sync.RWMutex
	loaded  atomic.Bool
	current resolvedSchema

	history *lru.Cache[uint64, resolvedSchema]
}

// NewSchemaResolver builds a resolver for one tablet.
func NewSchemaResolver(peer TabletPeer, catalog CatalogClient) *SchemaResolver {
	history, err := lru.New[uint64, resolvedSchema](historyCacheSize)
	if err != nil {
		panic("failed to create schema history cache: " + err.Error())
	}
	return &SchemaResolver{peer: peer, catalog: catalog, history: history}
}

// Cached returns the pinned schema, or ok=false before first resolution.
func (r *SchemaResolver) Cached() (*schema.Schema, schema.Version, bool) {
	if !r.loaded.Load() {
		return nil, 0, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.schema, r.current.version, true
}

// ResolveAt returns the schema valid at the given hybrid time. Fallback
// rule: when the catalog cannot answer, the tablet's current schema and
// version are returned and the producer continues. This is the only path
// that tolerates catalog unavailability.
func (r *SchemaResolver) ResolveAt(ctx context.Context, ht hlc.HybridTime) (*schema.Schema, schema.Version) {
	if cached, ok := r.history.Get(ht.ToUint64()); ok {
		return cached.schema, cached.version
	}

	resolved, version, err := r.catalog.GetTableSchemaAt(ctx, r.peer.TableID(), ht)
	if err != nil {
		current, currentVersion := r.peer.CurrentSchema()
		telemetry.CDCSchemaFallbacksTotal.Inc()
		log.Warn().
			Err(err).
			Str("table", r.peer.TableName()).
			Uint64("read_hybrid_time", ht.ToUint64()).
			Msg("Failed to get schema version from catalog, falling back to the tablet's current schema")
		return current, currentVersion
	}

	r.history.Add(ht.ToUint64(), resolvedSchema{schema: resolved, version: version})
	log.Debug().
		Str("table", r.peer.TableName()).
		Uint32("schema_version", uint32(version)).
		Uint64("read_hybrid_time", ht.ToUint64()).
		Msg("Resolved schema version from catalog")
	return resolved, version
}

// EnsureResolved returns the pinned schema, resolving it at the given hybrid
// time on first use. Double-checked: only one caller performs the catalog
// lookup.
func (r *SchemaResolver) EnsureResolved(ctx context.Context, ht hlc.HybridTime) (*schema.Schema, schema.Version) {
	if s, v, ok := r.Cached(); ok {
		return s, v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded.Load() {
		return r.current.schema, r.current.version
	}
	resolved, version := r.ResolveAt(ctx, ht)
	r.current = resolvedSchema{schema: resolved, version: version}
	r.loaded.Store(true)
	return resolved, version
}

// InstallFromDDL adopts the schema carried by a change-metadata log entry,
// then cross-checks it against the catalog at the entry's hybrid time. The
// entry may belong to an attempted-but-rejected DDL, so when the catalog
// disagrees the catalog value wins.
func (r *SchemaResolver) InstallFromDDL(ctx context.Context, payload *ChangeMetadataPayload, entryHT hlc.HybridTime) (*schema.Schema, schema.Version) {
	installed := payload.Schema
	version := payload.SchemaVersion

	catalogSchema, catalogVersion, err := r.catalog.GetTableSchemaAt(ctx, r.peer.TableID(), entryHT)
	if err != nil {
		log.Warn().
			Err(err).
			Str("table", r.peer.TableName()).
			Msg("Failed to cross-check change-metadata entry against catalog, proceeding with the entry's schema version")
	} else if catalogVersion != version {
		installed = catalogSchema
		version = catalogVersion
	}

	r.mu.Lock()
	r.current = resolvedSchema{schema: installed, version: version}
	r.loaded.Store(true)
	r.mu.Unlock()
	return installed, version
}

// Install pins a schema directly. Used once a resolution has been performed
// outside the resolver's own locking.
func (r *SchemaResolver) Install(s *schema.Schema, version schema.Version) {
	r.mu.Lock()
	r.current = resolvedSchema{schema: s, version: version}
	r.loaded.Store(true)
	r.mu.Unlock()
}

// Invalidate drops the pinned schema so the next access re-resolves.
func (r *SchemaResolver) Invalidate() {
	r.mu.Lock()
	r.loaded.Store(false)
	r.current = resolvedSchema{}
	r.mu.Unlock()
}
