// Modbus MW - connectivity monitor for GRDs and protection relays.
//
// The service polls every GRD and relay behind a Modbus TCP gateway, records
// connected/disconnected transitions in SQLite, publishes live snapshots over
// MQTT and serves windowed history over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/modbus-mw/migrations"

	"github.com/nerrad567/modbus-mw/internal/api"
	"github.com/nerrad567/modbus-mw/internal/device"
	"github.com/nerrad567/modbus-mw/internal/history"
	"github.com/nerrad567/modbus-mw/internal/infrastructure/config"
	"github.com/nerrad567/modbus-mw/internal/infrastructure/database"
	"github.com/nerrad567/modbus-mw/internal/infrastructure/influxdb"
	"github.com/nerrad567/modbus-mw/internal/infrastructure/logging"
	"github.com/nerrad567/modbus-mw/internal/infrastructure/mqtt"
	"github.com/nerrad567/modbus-mw/internal/modbus"
	"github.com/nerrad567/modbus-mw/internal/monitor"
	"github.com/nerrad567/modbus-mw/internal/orchestrator"
	"github.com/nerrad567/modbus-mw/internal/statestore"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"

	// startupProbeTimeout bounds the non-fatal link checks at startup.
	startupProbeTimeout = 5 * time.Second
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting modbus-mw",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "site", cfg.Site.ID)

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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	repos, err := openRepositories(ctx, db, cfg, log)
	if err != nil {
		return err
	}

	flags := statestore.New(cfg.State.Path, log)
	log.Info("observer state loaded", "path", cfg.State.Path, "relays_enabled", flags.RelaysEnabled())

	transport, err := modbus.New(modbus.Config{
		Host:    cfg.Modbus.Host,
		Port:    cfg.Modbus.Port,
		Timeout: cfg.ModbusTimeout(),
	})
	if err != nil {
		return fmt.Errorf("creating modbus transport: %w", err)
	}
	transport.SetLogger(log)
	defer func() {
		if closeErr := transport.Close(); closeErr != nil {
			log.Warn("error closing modbus transport", "error", closeErr)
		}
	}()
	probeTransport(ctx, transport, cfg.Modbus, log)

	publisher := mqtt.NewPublisher(cfg.MQTT)
	publisher.SetLogger(log)
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := publisher.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	if connErr := publisher.Connect(); connErr != nil {
		log.Warn("MQTT broker unreachable at startup, publisher will retry", "error", connErr)
	}

	var (
		mirror monitor.Mirror
		influx *influxdb.Client
	)
	influxClient, err := influxdb.Connect(ctx, cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		log.Warn("InfluxDB unreachable, mirror disabled", "error", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		influx = influxClient
		mirror = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	if err := healthCheck(ctx, db, influx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("health check passed")

	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	server, err := api.New(api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Logger:       log,
		GRDs:         repos.grds,
		Relays:       repos.relays,
		GRDStates:    repos.grdHistory,
		GRDHistory:   history.NewEngine(repos.grds, repos.grdHistory),
		RelayHistory: history.NewEngine(repos.relays, repos.relayHistory),
		Faults:       repos.faults,
		Flags:        flags,
		Database:     db,
		ExternalHub:  hub,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	orch, err := orchestrator.New(orchestrator.Options{
		Interval:     cfg.RefreshInterval(),
		Modbus:       cfg.Modbus,
		Devices:      cfg.Devices,
		Channels:     mqtt.NewChannels(cfg.MQTT.Topics),
		Reader:       transport,
		GRDs:         repos.grds,
		Relays:       repos.relays,
		GRDHistory:   repos.grdHistory,
		RelayHistory: repos.relayHistory,
		Faults:       repos.faults,
		Publisher:    publisher,
		Flags:        flags,
		Mirror:       mirror,
		Live:         hub,
		Logger:       log,
	})
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	log.Info("initialisation complete",
		"refresh_interval", cfg.RefreshInterval(),
		"modbus", transport.Address(),
	)

	if err := orch.Run(ctx); err != nil {
		return fmt.Errorf("monitor loops: %w", err)
	}

	log.Info("shutdown signal received, cleaning up")
	log.Info("modbus-mw stopped")
	return nil
}

// repositories groups the SQLite-backed stores shared by loops and API.
type repositories struct {
	grds         *device.SQLiteCatalog
	relays       *device.SQLiteCatalog
	grdHistory   *device.SQLiteHistoryRepository
	relayHistory *device.SQLiteHistoryRepository
	faults       *device.SQLiteFaultRepository
}

// openRepositories builds the stores and seeds both catalogs from config.
func openRepositories(ctx context.Context, db *database.DB, cfg *config.Config, log *logging.Logger) (*repositories, error) {
	r := &repositories{
		grds:   device.NewGRDCatalog(db.DB),
		relays: device.NewRelayCatalog(db.DB),
		faults: device.NewSQLiteFaultRepository(db.DB),
	}

	var err error
	if r.grdHistory, err = device.NewSQLiteHistoryRepository(db.DB, device.ClassGRD); err != nil {
		return nil, err
	}
	if r.relayHistory, err = device.NewSQLiteHistoryRepository(db.DB, device.ClassRelay); err != nil {
		return nil, err
	}

	if _, err := r.grds.Seed(ctx, cfg.Devices.GRDs); err != nil {
		return nil, fmt.Errorf("seeding GRD catalog: %w", err)
	}
	skipped, err := r.relays.Seed(ctx, cfg.Devices.Relays)
	if err != nil {
		return nil, fmt.Errorf("seeding relay catalog: %w", err)
	}
	log.Info("catalogs seeded",
		"grds", len(cfg.Devices.GRDs),
		"relays", len(cfg.Devices.Relays)-len(skipped),
		"relays_skipped", len(skipped),
	)
	return r, nil
}

// probeTransport opens the Modbus session and reads the default unit once.
// Failures are logged only: the loops reconnect on their own.
func probeTransport(ctx context.Context, transport *modbus.Client, cfg config.ModbusConfig, log *logging.Logger) {
	probeCtx, cancel := context.WithTimeout(ctx, startupProbeTimeout)
	defer cancel()

	if err := transport.Connect(probeCtx); err != nil {
		log.Warn("modbus gateway unreachable at startup", "address", transport.Address(), "error", err)
		return
	}
	// #nosec G115 -- unit_id and register range validated by config
	_, err := transport.ReadHoldingRegisters(probeCtx, byte(cfg.UnitID), uint16(cfg.RegisterAddress), uint16(cfg.RegisterCount))
	if err != nil {
		log.Warn("modbus probe read failed", "unit_id", cfg.UnitID, "error", err)
		return
	}
	log.Info("modbus gateway reachable", "address", transport.Address(), "unit_id", cfg.UnitID)
}

// healthCheck verifies the stores the service cannot run without. The MQTT
// publisher is not checked: it reconnects lazily on the next publish.
func healthCheck(ctx context.Context, db *database.DB, influx *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	// Check InfluxDB (if enabled)
	if influx != nil {
		if err := influx.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}
	return nil
}

// getConfigPath returns the configuration file path.
// Uses MODBUSMW_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("MODBUSMW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
