package cfg

import (
	"flag"
	"fmt"
	"hash/fnv"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// ServerConfiguration controls the RPC/admin listener.
type ServerConfiguration struct {
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
}

// CDCConfiguration controls producer behavior. It is read once at startup
// and copied into the producers' shared options block (IntentBatchLimit goes
// to the intent stores); each request snapshots that block, but the
// configuration file is not re-read while the process runs.
type CDCConfiguration struct {
	SnapshotBatchSize        int  `toml:"snapshot_batch_size"`
	StreamTruncateRecord     bool `toml:"stream_truncate_record"`
	EnableSingleRecordUpdate bool `toml:"enable_single_record_update"`
	IntentRetentionMS        int  `toml:"intent_retention_ms"`
	IntentBatchLimit         int  `toml:"intent_batch_limit"`
}

// SinkConfiguration configures one publisher sink.
type SinkConfiguration struct {
	Name         string   `toml:"name"`
	Kind         string   `toml:"kind"` // "nats" or "kafka"
	URLs         []string `toml:"urls"`
	TopicPrefix  string   `toml:"topic_prefix"`
	TablePattern string   `toml:"table_pattern"`
}

// PublisherConfiguration controls the egress worker.
type PublisherConfiguration struct {
	Enabled   bool                `toml:"enabled"`
	BatchSize int                 `toml:"batch_size"`
	Sinks     []SinkConfiguration `toml:"sinks"`
}

// ColumnConfiguration declares one column of a hosted table.
type ColumnConfiguration struct {
	Name     string `toml:"name"`
	Type     string `toml:"type"` // int4, int8, text, varchar, bool, float8, bytea
	Key      bool   `toml:"key"`
	Hash     bool   `toml:"hash"`
	Nullable bool   `toml:"nullable"`
}

// TabletConfiguration declares one tablet hosted by this node.
type TabletConfiguration struct {
	TabletID   string                `toml:"tablet_id"`
	TableID    string                `toml:"table_id"`
	TableName  string                `toml:"table_name"`
	SchemaName string                `toml:"schema_name"`
	Columns    []ColumnConfiguration `toml:"columns"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID  uint64 `toml:"node_id"`
	DataDir string `toml:"data_dir"`

	Server     ServerConfiguration     `toml:"server"`
	Tablets    []TabletConfiguration   `toml:"tablets"`
	CDC        CDCConfiguration        `toml:"cdc"`
	Publisher  PublisherConfiguration  `toml:"publisher"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	DataDirFlag    = flag.String("data-dir", "", "Data directory (overrides config)")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	PortFlag       = flag.Int("port", 0, "RPC port (overrides config)")
)

// Default configuration
var Config = &Configuration{
	NodeID:  0, // Auto-generate
	DataDir: "./cdc-data",

	Server: ServerConfiguration{
		BindAddress: "0.0.0.0",
		Port:        7100,
	},

	CDC: CDCConfiguration{
		SnapshotBatchSize:        250,
		StreamTruncateRecord:     false,
		EnableSingleRecordUpdate: true,
		IntentRetentionMS:        4 * 60 * 60 * 1000,
		IntentBatchLimit:         1000,
	},

	Publisher: PublisherConfiguration{
		Enabled:   false,
		BatchSize: 100,
	},

	Logging: LoggingConfiguration{
		Verbose: false,
		Format:  "console",
	},

	Prometheus: PrometheusConfiguration{
		Enabled: true,
	},
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	// Load from file if it exists
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			if _, err := toml.DecodeFile(configPath, Config); err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	// Apply CLI overrides
	if *DataDirFlag != "" {
		Config.DataDir = *DataDirFlag
	}
	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *PortFlag != 0 {
		Config.Server.Port = *PortFlag
	}

	// Auto-generate node ID if not set
	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	// Ensure data directory exists
	if err := os.MkdirAll(Config.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	return nil
}

// generateNodeID creates a unique node ID based on machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("yb-cdc")
	if err != nil {
		return 0, err
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	return h.Sum64(), nil
}

// Validate checks configuration for errors
func Validate() error {
	if Config.Server.Port < 1 || Config.Server.Port > 65535 {
		return fmt.Errorf("invalid RPC port: %d", Config.Server.Port)
	}

	if Config.CDC.SnapshotBatchSize < 1 {
		return fmt.Errorf("snapshot batch size must be >= 1")
	}

	if Config.CDC.IntentRetentionMS < 0 {
		return fmt.Errorf("intent retention must be >= 0")
	}

	if Config.CDC.IntentBatchLimit < 1 {
		return fmt.Errorf("intent batch limit must be >= 1")
	}

	validTypes := map[string]bool{
		"int4": true, "int8": true, "text": true, "varchar": true,
		"bool": true, "float8": true, "bytea": true,
	}
	for _, tablet := range Config.Tablets {
		if tablet.TabletID == "" || tablet.TableID == "" || tablet.TableName == "" {
			return fmt.Errorf("tablet requires tablet_id, table_id and table_name")
		}
		keyColumns := 0
		for _, col := range tablet.Columns {
			if !validTypes[col.Type] {
				return fmt.Errorf("unknown column type %q on tablet %q", col.Type, tablet.TabletID)
			}
			if col.Key {
				keyColumns++
			}
		}
		if keyColumns == 0 {
			return fmt.Errorf("tablet %q requires at least one key column", tablet.TabletID)
		}
	}

	if Config.Publisher.Enabled {
		if Config.Publisher.BatchSize < 1 {
			return fmt.Errorf("publisher batch size must be >= 1")
		}
		for _, sink := range Config.Publisher.Sinks {
			if sink.Name == "" {
				return fmt.Errorf("publisher sink requires a name")
			}
			if sink.Kind != "nats" && sink.Kind != "kafka" {
				return fmt.Errorf("unknown sink kind %q for sink %q", sink.Kind, sink.Name)
			}
			if len(sink.URLs) == 0 {
				return fmt.Errorf("publisher sink %q requires at least one URL", sink.Name)
			}
		}
	}

	return nil
}
