// Kronos sync server.
//
// This is the main entry point of the Kronos task synchronisation server.
// One TCP port serves newline-delimited JSON clients and WebSocket clients;
// every change a device makes is persisted and pushed to the other devices
// of the same user.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"
	"golang.org/x/sync/errgroup"

	_ "github.com/soywod/kronos.server/migrations"

	"github.com/soywod/kronos.server/internal/api"
	"github.com/soywod/kronos.server/internal/engine"
	"github.com/soywod/kronos.server/internal/feed"
	"github.com/soywod/kronos.server/internal/infrastructure/config"
	"github.com/soywod/kronos.server/internal/infrastructure/database"
	"github.com/soywod/kronos.server/internal/infrastructure/influxdb"
	"github.com/soywod/kronos.server/internal/infrastructure/logging"
	"github.com/soywod/kronos.server/internal/infrastructure/mqtt"
	"github.com/soywod/kronos.server/internal/server"
	"github.com/soywod/kronos.server/internal/session"
	"github.com/soywod/kronos.server/internal/store"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const usage = `Kronos sync server.

The configuration file is read from $KRONOS_CONFIG, or configs/config.yaml.

Usage:
    kronos [--migrate-down]
    kronos -h | --help
    kronos --version

Options:
    -h --help        Show this screen.
    --version        Show version.
    --migrate-down   Roll back the latest database migration and exit.`

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// sessionGaugeInterval is how often session counts are written to InfluxDB.
const sessionGaugeInterval = 30 * time.Second

func main() {
	opts, err := docopt.ParseArgs(usage, os.Args[1:], version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	migrateDown, _ := opts.Bool("--migrate-down")

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if migrateDown {
		err = rollback(ctx)
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown once ctx is cancelled.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Kronos sync server",
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
	log.Info("configuration loaded",
		"path", configPath,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := database.Open(ctx, cfg.Database)
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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	bus := store.NewBus(cfg.Sync.OutboxSize)
	defer bus.Close()
	st := store.NewSQLiteStore(db, bus)

	mqttClient, err := connectMQTT(cfg.MQTT, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	influxClient, err := connectInfluxDB(cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	sessions := session.NewRegistry()
	sessions.SetLogger(log.Component("session"))

	eng := engine.New(st, sessions, cfg.GetStoreTimeout())
	eng.SetLogger(log.Component("engine"))

	srvDeps := server.Deps{
		Config: cfg.Server,
		Sync:   cfg.Sync,
		Engine: eng,
		Logger: log.Component("server"),
	}
	apiDeps := api.Deps{
		Config:   cfg.API,
		Logger:   log.Component("api"),
		DB:       db,
		Sessions: sessions,
		Version:  version,
	}

	// Optional backends are only assigned when present so the interfaces
	// never hold a typed nil.
	if influxClient != nil {
		eng.SetMetrics(influxClient)
		srvDeps.Metrics = influxClient
		apiDeps.InfluxDB = influxClient
	}

	var activity *feed.Feed
	if mqttClient != nil {
		activity = feed.New(mqttClient, mqttClient.Topics(), feed.DefaultQueueSize)
		activity.SetLogger(log.Component("feed"))
		bus.Observe(activity.Observe)
		apiDeps.MQTT = mqttClient
		apiDeps.Feed = activity
	}

	srv, err := server.New(srvDeps)
	if err != nil {
		return fmt.Errorf("creating sync server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting sync server: %w", err)
	}
	apiDeps.Connections = srv

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer, err = startAPI(ctx, apiDeps)
		if err != nil {
			srv.Close() //nolint:errcheck // Startup already failed
			return err
		}
	} else {
		log.Info("admin API disabled")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		log.Info("closing sync server")
		err := srv.Close()
		eng.Wait()
		return err
	})

	if activity != nil {
		g.Go(func() error {
			activity.Run(gctx)
			return nil
		})
	}

	if influxClient != nil {
		g.Go(func() error {
			reportSessions(gctx, sessions, influxClient, sessionGaugeInterval)
			return nil
		})
	}

	if apiServer != nil {
		g.Go(func() error {
			<-gctx.Done()
			return apiServer.Close()
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"sync_address", cfg.Server.Addr(),
	)

	err = g.Wait()

	// Connections are gone; stop the feed before the bus and MQTT close.
	if activity != nil {
		activity.Close()
	}

	log.Info("Kronos sync server stopped")
	return err
}

// rollback reverts the most recently applied migration of the configured
// database.
func rollback(ctx context.Context) error {
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log := logging.New(cfg.Logging, version)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // Nothing left to flush

	if err := db.MigrateDown(ctx); err != nil {
		return fmt.Errorf("rolling back migration: %w", err)
	}

	applied, pending, err := db.GetMigrationStatus(ctx)
	if err != nil {
		return err
	}
	log.Info("migration rolled back",
		"path", db.Path(),
		"applied", len(applied),
		"pending", len(pending),
	)
	return nil
}

// getConfigPath returns the configuration file path.
// Uses KRONOS_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("KRONOS_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// startAPI creates and starts the admin HTTP server.
func startAPI(ctx context.Context, deps api.Deps) (*api.Server, error) {
	apiServer, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	return apiServer, nil
}

// connectMQTT connects the activity feed broker, or returns nil when disabled.
func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, error) {
	if !cfg.Enabled {
		log.Info("MQTT activity feed disabled")
		return nil, nil //nolint:nilnil // Disabled is not an error
	}

	client, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	client.SetLogger(log.Component("mqtt"))
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)
	return client, nil
}

// connectInfluxDB connects the metrics backend, or returns nil when disabled.
func connectInfluxDB(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil //nolint:nilnil // Disabled is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client, nil
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient may be nil when disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// sessionGauge receives periodic session counts.
type sessionGauge interface {
	WriteSessionGauge(total, authenticated, websocket int)
}

// reportSessions writes session counts every interval until ctx ends.
func reportSessions(ctx context.Context, sessions *session.Registry, gauge sessionGauge, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := sessions.Stats()
			gauge.WriteSessionGauge(stats.Total, stats.Authenticated, stats.WebSocket)
		}
	}
}
