// Fish Feeder - remote feeder telemetry and control client
//
// This is the main entry point for the fish feeder client. It keeps one MQTT
// session to the broker the feeder publishes on, maintains the derived
// device State, and exposes it with the manual feed command over HTTP and
// WebSocket.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nerrad567/fishfeeder/internal/api"
	"github.com/nerrad567/fishfeeder/internal/audit"
	"github.com/nerrad567/fishfeeder/internal/command"
	"github.com/nerrad567/fishfeeder/internal/feeder"
	"github.com/nerrad567/fishfeeder/internal/infrastructure/config"
	"github.com/nerrad567/fishfeeder/internal/infrastructure/database"
	"github.com/nerrad567/fishfeeder/internal/infrastructure/influxdb"
	"github.com/nerrad567/fishfeeder/internal/infrastructure/logging"
	"github.com/nerrad567/fishfeeder/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
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

// run is the application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting fish feeder",
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

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Dispatch log (optional)
	var (
		db         *database.DB
		recorder   command.Recorder
		dispatches api.DispatchLog
		dbStats    api.DBStats
	)
	if cfg.Database.Enabled {
		db, err = database.Open(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", db.Path())

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		repo := audit.NewSQLiteRepository(db.DB)
		recorder, dispatches, dbStats = repo, repo, db
	} else {
		log.Info("dispatch log disabled")
	}

	// Diagnostics (optional)
	var diag feeder.Diagnostics
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB, cfg.Device.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		diag = feeder.NewInfluxDiagnostics(influxClient)
	} else {
		log.Info("InfluxDB disabled")
	}

	svc, err := feeder.New(feeder.Options{
		Device:      cfg.Device,
		MQTT:        cfg.MQTT,
		Logger:      log.With("component", "feeder"),
		Recorder:    recorder,
		Diagnostics: diag,
	})
	if err != nil {
		return fmt.Errorf("creating feeder: %w", err)
	}
	defer func() {
		log.Info("closing feeder")
		if closeErr := svc.Close(); closeErr != nil {
			log.Error("error closing feeder", "error", closeErr)
		}
	}()

	if startErr := svc.Start(ctx); startErr != nil {
		return fmt.Errorf("starting feeder: %w", startErr)
	}
	log.Info("feeder started",
		"device_id", cfg.Device.ID,
		"broker", cfg.MQTT.Broker.URL,
	)

	var server *api.Server
	if cfg.API.Enabled {
		server, err = api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Logger:     log.With("component", "api"),
			Feeder:     svc,
			Dispatches: dispatches,
			DB:         dbStats,
			Version:    version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	if err := healthCheck(ctx, db, influxClient, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. Feeder (MQTT session)
	// 3. InfluxDB
	// 4. Database

	log.Info("fish feeder stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FISHFEEDER_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FISHFEEDER_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies the optional infrastructure that was started. The
// broker is not checked: the session keeps retrying on its own.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client, server *api.Server) error {
	var errs []error

	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("influxdb: %w", err))
		}
	}

	if server != nil {
		if err := server.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("api: %w", err))
		}
	}

	return errors.Join(errs...)
}
