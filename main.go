package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/naanagon/yugabyte-db/admin"
	"github.com/naanagon/yugabyte-db/catalog"
	"github.com/naanagon/yugabyte-db/cdc"
	"github.com/naanagon/yugabyte-db/cfg"
	"github.com/naanagon/yugabyte-db/hlc"
	"github.com/naanagon/yugabyte-db/intentdb"
	"github.com/naanagon/yugabyte-db/notify"
	"github.com/naanagon/yugabyte-db/publisher"
	_ "github.com/naanagon/yugabyte-db/publisher/sink"
	"github.com/naanagon/yugabyte-db/schema"
	"github.com/naanagon/yugabyte-db/service"
	"github.com/naanagon/yugabyte-db/stream"
	"github.com/naanagon/yugabyte-db/tablet"
	"github.com/naanagon/yugabyte-db/telemetry"
	"github.com/naanagon/yugabyte-db/waldb"
)

// node hosts the tablets this process serves.
type node struct {
	producers map[string]*cdc.Producer
	tabletIDs []string
}

func (n *node) ProducerFor(tabletID string) (*cdc.Producer, bool) {
	p, ok := n.producers[tabletID]
	return p, ok
}

func (n *node) Tablets() []string {
	return n.tabletIDs
}

func columnTypeOid(name string) uint32 {
	switch name {
	case "bool":
		return schema.OidBool
	case "int4":
		return schema.OidInt4
	case "int8":
		return schema.OidInt8
	case "float8":
		return schema.OidFloat8
	case "varchar":
		return schema.OidVarchar
	case "bytea":
		return schema.OidBytea
	default:
		return schema.OidText
	}
}

func schemaFromConfig(tc cfg.TabletConfiguration) *schema.Schema {
	columns := make([]schema.ColumnSchema, 0, len(tc.Columns))
	for i, col := range tc.Columns {
		columns = append(columns, schema.ColumnSchema{
			ID:       uint32(i + 1),
			Name:     col.Name,
			TypeOid:  columnTypeOid(col.Type),
			Nullable: col.Nullable,
			IsKey:    col.Key,
			IsHash:   col.Hash,
		})
	}
	schemaName := tc.SchemaName
	if schemaName == "" {
		schemaName = "public"
	}
	return schema.New(schemaName, columns, schema.TableProperties{NumTablets: 1})
}

func main() {
	flag.Parse()

	// Load configuration
	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("CDC producer node starting")
	telemetry.InitializeTelemetry(cfg.Config.Prometheus.Enabled, cfg.Config.NodeID)
	telemetry.InitMetrics()

	options := cdc.NewAtomicOptions(cdc.Options{
		SnapshotBatchSize:    cfg.Config.CDC.SnapshotBatchSize,
		StreamTruncateRecord: cfg.Config.CDC.StreamTruncateRecord,
		SingleRecordUpdate:   cfg.Config.CDC.EnableSingleRecordUpdate,
		IntentRetention:      time.Duration(cfg.Config.CDC.IntentRetentionMS) * time.Millisecond,
	})

	catalogClient := catalog.NewClient()
	tracker := &cdc.AtomicMemTracker{}
	clock := hlc.NewClock()
	hub := notify.NewHub()

	host := &node{producers: make(map[string]*cdc.Producer)}
	var closers []func()

	for _, tc := range cfg.Config.Tablets {
		dir := filepath.Join(cfg.Config.DataDir, tc.TabletID)

		intents, err := intentdb.Open(filepath.Join(dir, "intents"), intentdb.Options{
			IntentBatchLimit: cfg.Config.CDC.IntentBatchLimit,
		})
		if err != nil {
			log.Fatal().Err(err).Str("tablet", tc.TabletID).Msg("Failed to open intent store")
		}
		wal, err := waldb.Open(filepath.Join(dir, "wal"))
		if err != nil {
			log.Fatal().Err(err).Str("tablet", tc.TabletID).Msg("Failed to open wal store")
		}
		wal.SetHub(hub, tc.TabletID)
		rows, err := tablet.OpenRowStore(filepath.Join(dir, "rows"))
		if err != nil {
			log.Fatal().Err(err).Str("tablet", tc.TabletID).Msg("Failed to open row store")
		}
		closers = append(closers, func() {
			rows.Close()
			wal.Close()
			intents.Close()
		})

		tableSchema := schemaFromConfig(tc)
		catalogClient.AddVersion(tc.TableID, hlc.FromMicros(0), tableSchema, 1)
		catalogClient.SetTablets(tc.TableID, []cdc.TabletLocation{{TabletID: tc.TabletID}})

		peer := tablet.NewPeer(tablet.PeerConfig{
			TabletID: tc.TabletID,
			TableID:  tc.TableID,
			Tables:   []cdc.TableInfo{{TableID: tc.TableID, TableName: tc.TableName}},
			Schema:   tableSchema,
			Version:  1,
			Intents:  intents,
			Rows:     rows,
			Clock:    clock,
		})

		host.producers[tc.TabletID] = cdc.NewProducer(cdc.ProducerConfig{
			Peer:       peer,
			LogReader:  wal,
			Intents:    intents,
			Catalog:    catalogClient,
			Consensus:  wal,
			Options:    options,
			MemTracker: tracker,
		})
		host.tabletIDs = append(host.tabletIDs, tc.TabletID)
		log.Info().
			Str("tablet", tc.TabletID).
			Str("table", tc.TableName).
			Msg("Hosting tablet")
	}

	streams := stream.NewRegistry()
	adminRouter := admin.NewRouter(admin.NewHandlers(cfg.Config.NodeID, streams, host))

	server := service.NewServer(service.ServerConfig{
		Address:   cfg.Config.Server.BindAddress,
		Port:      cfg.Config.Server.Port,
		Producers: host,
		Streams:   streams,
		Admin:     adminRouter,
	})
	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start CDC service")
	}

	var workers []*publisher.Worker
	if cfg.Config.Publisher.Enabled {
		for _, sinkCfg := range cfg.Config.Publisher.Sinks {
			sink, err := publisher.NewSink(sinkCfg)
			if err != nil {
				log.Fatal().Err(err).Str("sink", sinkCfg.Name).Msg("Failed to create sink")
			}
			var filter publisher.Filter
			if sinkCfg.TablePattern != "" {
				filter, err = publisher.NewGlobFilter([]string{sinkCfg.TablePattern})
				if err != nil {
					log.Fatal().Err(err).Str("sink", sinkCfg.Name).Msg("Invalid table pattern")
				}
			}
			for _, tabletID := range host.tabletIDs {
				producer := host.producers[tabletID]
				wakeup, _ := hub.Subscribe(tabletID)
				worker, err := publisher.NewWorker(publisher.WorkerConfig{
					Name:        sinkCfg.Name,
					StreamID:    "publisher-" + sinkCfg.Name,
					TabletID:    tabletID,
					NodeID:      cfg.Config.NodeID,
					Producer:    producer,
					Sink:        sink,
					Filter:      filter,
					Wakeup:      wakeup,
					TopicPrefix: sinkCfg.TopicPrefix,
				})
				if err != nil {
					log.Fatal().Err(err).Str("sink", sinkCfg.Name).Msg("Failed to create publisher worker")
				}
				worker.Start()
				workers = append(workers, worker)
			}
		}
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info().Msg("Shutting down")
	for _, worker := range workers {
		worker.Stop()
	}
	server.Stop()
	for _, closeStores := range closers {
		closeStores()
	}
}
