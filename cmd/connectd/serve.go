package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hitchin999/unifi-connect-display/internal/api"
	"github.com/hitchin999/unifi-connect-display/internal/audit"
	"github.com/hitchin999/unifi-connect-display/internal/bridge"
	"github.com/hitchin999/unifi-connect-display/internal/capability"
	"github.com/hitchin999/unifi-connect-display/internal/controller"
	"github.com/hitchin999/unifi-connect-display/internal/device"
	"github.com/hitchin999/unifi-connect-display/internal/dispatch"
	"github.com/hitchin999/unifi-connect-display/internal/infrastructure/config"
	"github.com/hitchin999/unifi-connect-display/internal/infrastructure/database"
	"github.com/hitchin999/unifi-connect-display/internal/infrastructure/influxdb"
	"github.com/hitchin999/unifi-connect-display/internal/infrastructure/logging"
	"github.com/hitchin999/unifi-connect-display/internal/infrastructure/mqtt"
	"github.com/hitchin999/unifi-connect-display/internal/infrastructure/tracing"
	"github.com/hitchin999/unifi-connect-display/internal/metrics"
	"github.com/hitchin999/unifi-connect-display/internal/poller"
	"github.com/hitchin999/unifi-connect-display/migrations"
)

// serviceName identifies connectd in traces.
const serviceName = "connectd"

// commandLockSlack is added to the controller timeout for MQTT commands,
// which may wait for another command on the same device to finish.
const commandLockSlack = 5 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the display control service (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.resolveConfigPath())
		},
	}
}

// run starts every component, blocks until ctx is cancelled or a fatal
// error occurs, then shuts down in reverse start order.
func run(ctx context.Context, configPath string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	log := logging.Default()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log = logging.New(cfg.Logging, version)
	log.Info("starting connectd",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", configPath,
	)

	shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, serviceName, version)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := shutdownTracing(shutdownCtx); shutdownErr != nil {
			log.Error("error flushing traces", "error", shutdownErr)
		}
	}()

	registry, err := loadRegistry(cfg.Registry.File)
	if err != nil {
		return fmt.Errorf("loading capability registry: %w", err)
	}
	log.Info("capability registry loaded", "models", len(registry.Models()))

	ctrl, err := controller.New(controller.Config{
		Host:           cfg.Controller.Host,
		Username:       cfg.Controller.Username,
		Password:       cfg.Controller.Password,
		Site:           cfg.Controller.Site,
		VerifyTLS:      cfg.Controller.VerifyTLS,
		RequestTimeout: cfg.ControllerTimeout(),
	})
	if err != nil {
		return fmt.Errorf("creating controller client: %w", err)
	}
	ctrl.SetLogger(log.Component("controller"))

	if authErr := ctrl.Authenticate(ctx); authErr != nil {
		if !errors.Is(authErr, controller.ErrUnreachable) {
			return fmt.Errorf("authenticating with controller: %w", authErr)
		}
		// The poller keeps retrying; displays stay unknown until it succeeds.
		log.Warn("controller unreachable at startup", "host", cfg.Controller.Host, "error", authErr)
	} else {
		log.Info("controller session established", "host", cfg.Controller.Host, "site", cfg.Controller.Site)
	}

	store := device.NewStore(device.Options{
		Capabilities:       registry,
		OfflineAfterMisses: cfg.Polling.OfflineAfterMisses,
		RemoveAfterMisses:  cfg.Polling.RemoveAfterMisses,
	})
	store.SetLogger(log.Component("store"))

	collector := metrics.New(metrics.Sources{
		Devices: store.Stats,
		Logins:  func() uint64 { return ctrl.Stats().Logins },
	})
	recorders := []dispatch.Recorder{collector}
	observers := []poller.Observer{collector}
	var checks []namedCheck

	// InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
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
		sink := metrics.NewInfluxSink(influxClient)
		recorders = append(recorders, sink)
		observers = append(observers, sink)
		checks = append(checks, namedCheck{"influxdb", influxClient})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Command audit (optional)
	var auditRepo *audit.SQLiteRepository
	if cfg.Database.Enabled {
		db, dbErr := database.Open(database.ConfigFrom(cfg.Database))
		if dbErr != nil {
			return fmt.Errorf("opening database: %w", dbErr)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		auditRepo = audit.NewSQLiteRepository(db.DB)
		recorders = append(recorders, audit.NewRecorder(auditRepo, log.Component("audit")))
		checks = append(checks, namedCheck{"database", db})
		log.Info("command audit enabled", "path", cfg.Database.Path)
	}

	poll, err := poller.New(poller.Options{
		Source:    ctrl,
		Store:     store,
		Interval:  cfg.PollInterval(),
		Timeout:   cfg.PollTimeout(),
		Observers: observers,
		Logger:    log.Component("poller"),
	})
	if err != nil {
		return fmt.Errorf("creating poller: %w", err)
	}

	dispatcher, err := dispatch.New(dispatch.Options{
		Registry:       registry,
		Store:          store,
		Controller:     ctrl,
		Refresher:      poll,
		Recorders:      recorders,
		CommandTimeout: cfg.ControllerTimeout(),
		Logger:         log.Component("dispatch"),
	})
	if err != nil {
		return fmt.Errorf("creating dispatcher: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return poll.Run(gctx) })

	if cfg.Controller.Events.Enabled {
		watcher := controller.NewEventWatcher(ctrl, poll.TriggerRefresh)
		watcher.SetLogger(log.Component("events"))
		watcher.SetSettle(cfg.EventSettle())
		g.Go(func() error { return watcher.Run(gctx) })
	} else {
		log.Info("controller event feed disabled, relying on polling")
	}

	// MQTT bridge (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		br, bridgeErr := bridge.New(bridge.Options{
			Client:         mqttClient,
			Dispatcher:     dispatcher,
			Store:          store,
			PollStatus:     poll.Status,
			QoS:            byte(cfg.MQTT.QoS), //nolint:gosec // validated to 0..2
			Version:        version,
			HealthInterval: time.Duration(cfg.MQTT.HealthInterval) * time.Second,
			CommandTimeout: cfg.ControllerTimeout() + commandLockSlack,
			Logger:         log.Component("bridge"),
		})
		if bridgeErr != nil {
			return fmt.Errorf("creating MQTT bridge: %w", bridgeErr)
		}
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected, republishing device states")
			br.Resync()
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		if startErr := br.Start(gctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer br.Stop()
		checks = append(checks, namedCheck{"mqtt", mqttClient})
	} else {
		log.Info("MQTT bridge disabled")
	}

	// REST API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			JWT:        cfg.Security.JWT,
			Logger:     log,
			Devices:    store,
			Dispatcher: dispatcher,
			Models:     registry,
			Catalog:    ctrl,
			Metrics:    collector,
			PollStatus: poll.Status,
			Version:    version,
		}
		if auditRepo != nil {
			deps.Audit = auditRepo
		}
		srv, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := srv.Start(gctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("REST API disabled")
	}

	if hcErr := healthCheck(ctx, checks); hcErr != nil {
		return fmt.Errorf("health check failed: %w", hcErr)
	}
	log.Info("initialisation complete, waiting for shutdown signal")

	err = g.Wait()
	if err != nil {
		log.Error("fatal error, shutting down", "error", err)
	} else {
		log.Info("shutdown signal received, cleaning up")
	}

	// Deferred closes run in reverse: API, bridge, MQTT, database,
	// InfluxDB, tracing.
	log.Info("connectd stopped")
	return err
}

// loadRegistry reads the models file when one is configured and falls back
// to the built-in catalogue otherwise.
func loadRegistry(path string) (*capability.Registry, error) {
	if path == "" {
		return capability.LoadDefault()
	}
	return capability.Load(path)
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

type namedCheck struct {
	name    string
	checker healthChecker
}

// healthCheck verifies every enabled infrastructure connection.
// It returns the first failure.
func healthCheck(ctx context.Context, checks []namedCheck) error {
	for _, c := range checks {
		if err := c.checker.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}
