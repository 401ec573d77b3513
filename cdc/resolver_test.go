package cdc_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naanagon/yugabyte-db/cdc"
	"github.com/naanagon/yugabyte-db/hlc"
	"github.com/naanagon/yugabyte-db/schema"
)

func TestResolverResolveAt(t *testing.T) {
	h := newHarness()
	resolver := h.producer.Resolver()

	v2 := testSchema()
	h.catalog.addVersion(hlc.FromMicros(500), v2, 2)

	_, version := resolver.ResolveAt(context.Background(), hlc.FromMicros(100))
	assert.Equal(t, schema.Version(1), version)

	_, version = resolver.ResolveAt(context.Background(), hlc.FromMicros(600))
	assert.Equal(t, schema.Version(2), version)
}

// Catalog unavailability falls back to the tablet's current schema and the
// producer continues.
func TestResolverFallbackToTabletSchema(t *testing.T) {
	h := newHarness()
	h.catalog.versions = nil // catalog cannot answer
	h.peer.version = 7
	resolver := h.producer.Resolver()

	resolved, version := resolver.ResolveAt(context.Background(), hlc.FromMicros(100))
	require.NotNil(t, resolved)
	assert.Equal(t, schema.Version(7), version)
}

func TestResolverCachedLifecycle(t *testing.T) {
	h := newHarness()
	resolver := h.producer.Resolver()

	_, _, ok := resolver.Cached()
	assert.False(t, ok)

	s, version := resolver.EnsureResolved(context.Background(), hlc.FromMicros(100))
	require.NotNil(t, s)
	assert.Equal(t, schema.Version(1), version)

	_, _, ok = resolver.Cached()
	assert.True(t, ok)

	resolver.Invalidate()
	_, _, ok = resolver.Cached()
	assert.False(t, ok)
}

// The change-metadata entry is only a hint: when the catalog disagrees on
// the resulting version, the catalog wins.
func TestResolverInstallFromDDL(t *testing.T) {
	h := newHarness()
	resolver := h.producer.Resolver()

	payload := &cdc.ChangeMetadataPayload{Schema: testSchema(), SchemaVersion: 9}
	_, version := resolver.InstallFromDDL(context.Background(), payload, hlc.FromMicros(100))
	assert.Equal(t, schema.Version(1), version)

	// With the catalog agreeing, the entry's schema is adopted as is.
	h.catalog.addVersion(hlc.FromMicros(200), testSchema(), 9)
	_, version = resolver.InstallFromDDL(context.Background(), payload, hlc.FromMicros(300))
	assert.Equal(t, schema.Version(9), version)
}

// Concurrent first access resolves once and every caller sees the same
// pinned schema.
func TestResolverConcurrentEnsure(t *testing.T) {
	h := newHarness()
	resolver := h.producer.Resolver()

	var wg sync.WaitGroup
	versions := make([]schema.Version, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			_, versions[slot] = resolver.EnsureResolved(context.Background(), hlc.FromMicros(100))
		}(i)
	}
	wg.Wait()

	for _, version := range versions {
		assert.Equal(t, schema.Version(1), version)
	}
}
