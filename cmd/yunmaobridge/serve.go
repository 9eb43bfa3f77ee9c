package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/yunmao-bridge/internal/api"
	"github.com/nerrad567/yunmao-bridge/internal/audit"
	"github.com/nerrad567/yunmao-bridge/internal/bridges/mqttbridge"
	"github.com/nerrad567/yunmao-bridge/internal/bridges/yunmao"
	"github.com/nerrad567/yunmao-bridge/internal/device"
	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/config"
	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/database"
	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/yunmao-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/yunmao-bridge/internal/metrics"
	"github.com/nerrad567/yunmao-bridge/internal/panel"
	"github.com/nerrad567/yunmao-bridge/migrations"
)

// run is the bridge itself, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // linear start-up sequence
	log := logging.Default()
	log.Info("starting Yunmao bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath, "gateway", cfg.Gateway.Address)

	// Device directory
	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
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

	repo := device.NewSQLiteRepository(db.DB)
	seeds := make([]device.Record, 0, len(cfg.Devices))
	for _, dc := range cfg.Devices {
		seeds = append(seeds, device.RecordFromConfig(dc))
	}
	seeded, err := repo.Seed(ctx, seeds)
	if err != nil {
		return fmt.Errorf("seeding devices: %w", err)
	}
	log.Info("device directory ready", "path", cfg.Database.Path, "seeded", seeded)

	// Gateway engine
	engine, err := yunmao.NewEngine(yunmao.EngineOptions{
		Config: engineConfig(cfg.Gateway),
		Logger: log.Component("gateway"),
	})
	if err != nil {
		return fmt.Errorf("creating gateway engine: %w", err)
	}

	registry := device.NewRegistry(engine)
	registry.SetLogger(log.Component("device"))

	commandLog := audit.NewSQLiteRepository(db.DB)
	registry.OnCommand(audit.NewRecorder(commandLog, log.Component("audit")).Record)

	// State-change listeners are registered before Load so the initial
	// cached state reaches them.
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
		registry.OnChange(func(ev device.Event) {
			influxClient.WriteDeviceState(deviceStatePoint(ev))
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() { log.Info("MQTT connected") })
		mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })

		bridge, bridgeErr := mqttbridge.New(mqttbridge.Options{
			MQTT:     mqttClient,
			Registry: registry,
			QoS:      byte(cfg.MQTT.QoS), // #nosec G115 -- validated 0..2
			Logger:   log.Component("mqttbridge"),
		})
		if bridgeErr != nil {
			return fmt.Errorf("creating MQTT bridge: %w", bridgeErr)
		}
		if startErr := bridge.Start(ctx); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		defer func() {
			log.Info("stopping MQTT bridge")
			if stopErr := bridge.Stop(); stopErr != nil {
				log.Error("error stopping MQTT bridge", "error", stopErr)
			}
		}()
		log.Info("MQTT bridge started",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port))
	} else {
		log.Info("MQTT disabled")
	}

	var gatherer prometheus.Gatherer
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			metrics.NewCollector(engine, registry),
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		gatherer = reg
	}

	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Metrics:  cfg.Metrics,
			Logger:   log,
			Registry: registry,
			Gateway:  engine,
			DB:       db,
			Commands: commandLog,
			Gatherer: gatherer,
			Panel:    panel.Handler(cfg.API.PanelDir),
			Version:  version,
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}
		server, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
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
		log.Info("API disabled")
	}

	loaded, err := registry.Load(ctx, repo)
	if err != nil {
		return fmt.Errorf("loading device registry: %w", err)
	}
	log.Info("device registry initialised", "devices", loaded)

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return engine.Run(gctx) })
	if influxClient != nil {
		g.Go(func() error {
			recordStats(gctx, engine, influxClient, statsInterval(cfg.InfluxDB))
			return nil
		})
	}

	log.Info("initialisation complete, waiting for shutdown signal")
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("gateway engine: %w", err)
	}

	log.Info("Yunmao bridge stopped")
	return nil
}

// engineConfig maps the gateway section onto the engine configuration.
func engineConfig(g config.GatewayConfig) yunmao.Config {
	return yunmao.Config{
		GatewayAddress:  g.Address,
		CommandPort:     g.CommandPort,
		PushBind:        g.PushAddress(),
		CommandTimeout:  g.CommandTimeout,
		QueryTimeout:    g.QueryTimeout,
		IdleTimeout:     g.IdleTimeout,
		PollInterval:    g.PollInterval,
		PollPolicy:      yunmao.PollPolicy(g.PollPolicy),
		PushFreshWindow: g.PushFreshWindow,
	}
}

// healthCheck verifies infrastructure connections before the engine starts.
//
// Returns:
//   - error: First health check failure, or nil if all healthy
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
