package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/halcyon-labs/edgelink/internal/archive"
	"github.com/halcyon-labs/edgelink/internal/bus"
	"github.com/halcyon-labs/edgelink/internal/bus/storage"
	"github.com/halcyon-labs/edgelink/internal/cloud"
	corecfg "github.com/halcyon-labs/edgelink/internal/core/config"
	corestorage "github.com/halcyon-labs/edgelink/internal/core/storage"
	"github.com/halcyon-labs/edgelink/internal/core/storage/postgres"
	"github.com/halcyon-labs/edgelink/internal/events"
	"github.com/halcyon-labs/edgelink/internal/gateway"
	"github.com/halcyon-labs/edgelink/internal/migrations"
	"github.com/halcyon-labs/edgelink/internal/redisserver"
	"github.com/halcyon-labs/edgelink/internal/server"
)

func main() {
	configPath := flag.String("config", "edgelink.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger (default level until config is loaded)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, nil)))

	// 1. Load Configuration
	cfg, err := corecfg.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.Log.Level),
	})))
	slog.Info("Loaded config",
		"path", *configPath,
		"store", cfg.Store.Backend,
		"sensors", len(cfg.SensorLoading.Manifests),
		"archive", cfg.Database.Enabled,
		"cloud_sync", cfg.Cloud.Enabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Initialize Stream Store
	var store bus.StreamStore
	var manager *redisserver.Manager
	switch cfg.Store.Backend {
	case "memory":
		store = storage.NewMemory()
		slog.Info("Using in-memory stream store")
	default:
		manager = redisserver.New(redisserver.Config{
			Host:        cfg.Redis.Host,
			Port:        cfg.Redis.Port,
			DB:          cfg.Redis.DB,
			ManageLocal: cfg.Redis.ManageLocal,
			Binary:      cfg.Redis.Binary,
		})
		if err := manager.Start(ctx); err != nil {
			slog.Error("Stream store unreachable", "addr", manager.Addr(), "error", err)
			os.Exit(1)
		}
		store = storage.NewRedis(manager.Addr(), cfg.Redis.Password, cfg.Redis.DB)
	}

	// 3. Initialize Event Bus
	opts, err := cfg.Bus.Options()
	if err != nil {
		slog.Error("Invalid bus options", "error", err)
		os.Exit(1)
	}
	b := bus.New(store, opts)

	if err := b.Metrics().Register(prometheus.DefaultRegisterer); err != nil {
		slog.Error("Failed to register metrics collectors", "error", err)
		os.Exit(1)
	}

	// 4. Register Streams (fixed catalog + per-sensor)
	if err := events.RegisterCatalog(b); err != nil {
		slog.Error("Failed to register stream catalog", "error", err)
		os.Exit(1)
	}
	for _, m := range cfg.SensorLoading.Manifests {
		if err := events.RegisterSensor(b, m.ID); err != nil {
			slog.Error("Failed to register sensor streams", "sensor_id", m.ID, "error", err)
			os.Exit(1)
		}
	}

	// 5. Initialize Archive (optional)
	var archiveStore corestorage.ArchiveStore
	if cfg.Database.Enabled {
		db, err := postgres.Open(
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
		)
		if err != nil {
			slog.Error("Failed to open archive database", "error", err)
			os.Exit(1)
		}

		if err := migrations.RunMigrations(db, cfg.Database.AutoMigrate); err != nil {
			slog.Error("Failed to run archive migrations", "error", err)
			os.Exit(1)
		}

		adapter, err := postgres.NewAdapter(db)
		if err != nil {
			slog.Error("Failed to initialize archive adapter", "error", err)
			os.Exit(1)
		}
		defer adapter.Close()
		archiveStore = adapter

		arch := archive.NewArchiver(adapter, b.Streams())
		if err := arch.Attach(b); err != nil {
			slog.Error("Failed to attach archiver", "error", err)
			os.Exit(1)
		}
	}

	// 6. Initialize Cloud Uplink (optional)
	if cfg.Cloud.Enabled {
		dest, err := cloud.NewS3Destination(ctx, cfg.Cloud.Bucket, cfg.Cloud.Prefix, cfg.Cloud.Region, cfg.Cloud.Endpoint)
		if err != nil {
			slog.Error("Failed to initialize cloud destination", "error", err)
			os.Exit(1)
		}
		up := cloud.NewUplink(dest, uplinkStreams(cfg))
		if err := up.Attach(b); err != nil {
			slog.Error("Failed to attach cloud uplink", "error", err)
			os.Exit(1)
		}
	}

	// 7. Announce Sensors
	for _, m := range cfg.SensorLoading.Manifests {
		if err := b.Publish(ctx, events.StreamSensorMetadataCreated, m.MetadataEvent()); err != nil {
			slog.Warn("Failed to announce sensor", "sensor_id", m.ID, "error", err)
		}
	}

	// 8. Initialize Telemetry Collectors
	var runner *gateway.Runner
	if cfg.Collectors.Enabled {
		interval, err := time.ParseDuration(cfg.Collectors.SampleInterval)
		if err != nil {
			slog.Error("Invalid collector interval", "value", cfg.Collectors.SampleInterval, "error", err)
			os.Exit(1)
		}
		shell := gateway.NewShellRunner(gateway.DefaultCommandTimeout)
		runner = gateway.NewRunner(interval, b,
			gateway.NewCPUCollector(),
			gateway.NewMemoryCollector(shell),
			gateway.NewStorageCollector(shell, cfg.Collectors.RootMount),
			gateway.NewOSKernelCollector(shell),
			gateway.NewServiceInventoryCollector(shell),
			gateway.NewPackageInventoryCollector(shell),
			gateway.NewCPUInventoryCollector(),
			gateway.NewNetworkInventoryCollector(),
		)
	} else {
		slog.Info("Telemetry collectors disabled by config")
	}

	// 9. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), store, b, archiveStore, prometheus.DefaultGatherer, cfg.Server.Mode)

	// 10. Run until signalled
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	if runner != nil {
		g.Go(func() error { return runner.Start(gctx) })
	}

	if err := g.Wait(); err != nil {
		slog.Error("Runtime stopped with error", "error", err)
	}

	// b.Run closed the bus on cancellation; Close again is a no-op but
	// covers the error-exit path where Run never observed the cancel.
	if err := b.Close(); err != nil {
		slog.Warn("Bus close reported error", "error", err)
	}
	if manager != nil {
		if err := manager.Stop(); err != nil {
			slog.Warn("Failed to stop managed redis-server", "error", err)
		}
		_ = manager.Close()
	}

	slog.Info("Shutdown complete")
}

// uplinkStreams is the forwarding set: gateway telemetry plus every
// per-sensor data stream.
func uplinkStreams(cfg *corecfg.Config) []string {
	streams := []string{
		events.StreamCPUTelemetry,
		events.StreamMemoryTelemetry,
		events.StreamStorageTelemetry,
	}
	for _, m := range cfg.SensorLoading.Manifests {
		streams = append(streams, events.SensorStream(events.PrefixSensorData, m.ID))
	}
	return streams
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
