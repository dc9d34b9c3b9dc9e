// HomeStream Core - Realtime Smart Home Bridge
//
// This is the main entry point for the HomeStream bridge: the piece that
// sits between the MQTT sensor/device bus and the dashboard, moving
// telemetry toward clients and control commands toward device firmware.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/vantran-dev/homestream-core/migrations"

	"github.com/vantran-dev/homestream-core/internal/api"
	"github.com/vantran-dev/homestream-core/internal/bridge"
	"github.com/vantran-dev/homestream-core/internal/infrastructure/config"
	"github.com/vantran-dev/homestream-core/internal/infrastructure/database"
	"github.com/vantran-dev/homestream-core/internal/infrastructure/influxdb"
	"github.com/vantran-dev/homestream-core/internal/infrastructure/logging"
	"github.com/vantran-dev/homestream-core/internal/storage"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting HomeStream Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	store := storage.New(db.DB)

	// Connect to InfluxDB (optional telemetry mirror)
	var mirror bridge.TelemetryMirror
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		mirror = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Start the bridge: bus connection, client hub, orchestrator, relay.
	supervisor := bridge.NewSupervisor(cfg, store, mirror, log)
	if startErr := supervisor.Start(ctx); startErr != nil {
		// A dead broker is survivable: the hub and API still serve stored
		// data, and a later Restart can recover the bus side.
		if supervisor.Running() {
			log.Warn("bus unavailable, bridge running degraded", "error", startErr)
		} else {
			return fmt.Errorf("starting bridge: %w", startErr)
		}
	}
	defer supervisor.Stop()
	log.Info("bridge started", "bus", supervisor.BusState())

	// Start the HTTP/WebSocket surface
	server, err := api.New(api.Deps{
		Config:  cfg,
		Logger:  log,
		Store:   store,
		Bridge:  supervisor,
		DB:      db,
		Version: version,
	})
	if err != nil {
		return fmt.Errorf("creating api server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting api server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing api server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses HOMESTREAM_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HOMESTREAM_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
