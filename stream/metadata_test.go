package stream

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naanagon/yugabyte-db/cdc"
	"github.com/naanagon/yugabyte-db/hlc"
)

func TestMetadataTableFilter(t *testing.T) {
	meta, err := NewMetadata("s1", "ns1", RecordChangeOnly, CheckpointExplicit, "orders*")
	require.NoError(t, err)
	assert.True(t, meta.MatchesTable("orders"))
	assert.True(t, meta.MatchesTable("orders_archive"))
	assert.False(t, meta.MatchesTable("users"))

	unfiltered, err := NewMetadata("s2", "ns1", RecordFullRow, CheckpointImplicit, "")
	require.NoError(t, err)
	assert.True(t, unfiltered.MatchesTable("anything"))

	_, err = NewMetadata("s3", "ns1", RecordChangeOnly, CheckpointExplicit, "[bad")
	assert.Error(t, err)
}

func TestMetadataTabletState(t *testing.T) {
	meta, err := NewMetadata("s1", "ns1", RecordChangeOnly, CheckpointExplicit, "")
	require.NoError(t, err)

	state := meta.TabletState("tablet-1")
	state.RecordPoll(cdc.OpID{Term: 1, Index: 9}, hlc.FromMicros(100))

	// Same tablet resolves to the same state.
	opID, polledAt := meta.TabletState("tablet-1").LastStreamed()
	assert.Equal(t, cdc.OpID{Term: 1, Index: 9}, opID)
	assert.False(t, polledAt.IsZero())

	// Invalid op ids never regress the bookkeeping.
	state.RecordPoll(cdc.InvalidOpID, hlc.Invalid)
	opID, _ = meta.TabletState("tablet-1").LastStreamed()
	assert.Equal(t, cdc.OpID{Term: 1, Index: 9}, opID)

	assert.ElementsMatch(t, []string{"tablet-1"}, meta.Tablets())
}

func TestRegistry(t *testing.T) {
	registry := NewRegistry()

	meta, err := NewMetadata("s1", "ns1", RecordChangeOnly, CheckpointExplicit, "")
	require.NoError(t, err)
	require.NoError(t, registry.Register(meta))
	assert.Error(t, registry.Register(meta), "duplicate ids are rejected")

	got, ok := registry.Get("s1")
	assert.True(t, ok)
	assert.Same(t, meta, got)

	assert.Len(t, registry.List(), 1)

	registry.Remove("s1")
	_, ok = registry.Get("s1")
	assert.False(t, ok)
}
