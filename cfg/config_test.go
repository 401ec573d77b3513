package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshotConfig(t *testing.T) func() {
	t.Helper()
	saved := *Config
	return func() { *Config = saved }
}

func TestValidateDefaults(t *testing.T) {
	defer snapshotConfig(t)()
	assert.NoError(t, Validate())
}

func TestValidateRejectsBadPort(t *testing.T) {
	defer snapshotConfig(t)()
	Config.Server.Port = 0
	assert.Error(t, Validate())

	Config.Server.Port = 70000
	assert.Error(t, Validate())
}

func TestValidateCDCSettings(t *testing.T) {
	defer snapshotConfig(t)()

	Config.CDC.SnapshotBatchSize = 0
	assert.Error(t, Validate())
	Config.CDC.SnapshotBatchSize = 250

	Config.CDC.IntentRetentionMS = -1
	assert.Error(t, Validate())
	Config.CDC.IntentRetentionMS = 1000

	Config.CDC.IntentBatchLimit = 0
	assert.Error(t, Validate())
}

func TestValidateTablets(t *testing.T) {
	defer snapshotConfig(t)()

	Config.Tablets = []TabletConfiguration{{
		TabletID:  "tablet-1",
		TableID:   "table-1",
		TableName: "orders",
		Columns: []ColumnConfiguration{
			{Name: "id", Type: "int8", Key: true},
			{Name: "v", Type: "text", Nullable: true},
		},
	}}
	require.NoError(t, Validate())

	// Unknown column type.
	Config.Tablets[0].Columns[1].Type = "jsonb"
	assert.Error(t, Validate())
	Config.Tablets[0].Columns[1].Type = "text"

	// No key column.
	Config.Tablets[0].Columns[0].Key = false
	assert.Error(t, Validate())
	Config.Tablets[0].Columns[0].Key = true

	// Missing identity.
	Config.Tablets[0].TableName = ""
	assert.Error(t, Validate())
}

func TestValidatePublisherSinks(t *testing.T) {
	defer snapshotConfig(t)()

	Config.Publisher.Enabled = true
	Config.Publisher.BatchSize = 100
	Config.Publisher.Sinks = []SinkConfiguration{{
		Name: "events", Kind: "kafka", URLs: []string{"localhost:9092"},
	}}
	require.NoError(t, Validate())

	Config.Publisher.Sinks[0].Kind = "carrier-pigeon"
	assert.Error(t, Validate())
	Config.Publisher.Sinks[0].Kind = "nats"

	Config.Publisher.Sinks[0].URLs = nil
	assert.Error(t, Validate())
	Config.Publisher.Sinks[0].URLs = []string{"nats://localhost:4222"}

	Config.Publisher.Sinks[0].Name = ""
	assert.Error(t, Validate())
}
