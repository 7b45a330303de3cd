// robocore - control and coordination core for a competition robot
//
// This is the main entry point. It runs the fixed-rate control loop over
// the configured subsystems, launches autonomous routines on request and
// exposes the operator API. Telemetry, events and live tuning travel over
// MQTT when a broker is configured.
//
// Usage:
//
//	robocore                  run with $ROBOCORE_CONFIG or configs/config.yaml
//	robocore token <subject>  print an operator token signed with the API secret
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/robocore/internal/action"
	"github.com/nerrad567/robocore/internal/api"
	"github.com/nerrad567/robocore/internal/clock"
	"github.com/nerrad567/robocore/internal/eventlog"
	"github.com/nerrad567/robocore/internal/hardware/mqttbridge"
	"github.com/nerrad567/robocore/internal/hardware/sim"
	"github.com/nerrad567/robocore/internal/infrastructure/config"
	"github.com/nerrad567/robocore/internal/infrastructure/database"
	"github.com/nerrad567/robocore/internal/infrastructure/influxdb"
	"github.com/nerrad567/robocore/internal/infrastructure/logging"
	"github.com/nerrad567/robocore/internal/infrastructure/mqtt"
	"github.com/nerrad567/robocore/internal/routines"
	"github.com/nerrad567/robocore/internal/scheduler"
	"github.com/nerrad567/robocore/internal/subsystem"
	"github.com/nerrad567/robocore/internal/telemetry"
	"github.com/nerrad567/robocore/internal/tuning"
	"github.com/nerrad567/robocore/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

const (
	// defaultConfigPath is used when ROBOCORE_CONFIG is unset.
	defaultConfigPath = "configs/config.yaml"

	// operatorTokenTTL is the lifetime of tokens printed by "robocore token".
	operatorTokenTTL = 12 * time.Hour

	// routineStopTimeout bounds how long shutdown waits for a routine to unwind.
	routineStopTimeout = 2 * time.Second

	// loopLogInterval is the shortest gap between repeats of one message
	// from code that runs every tick.
	loopLogInterval = time.Second
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "token" {
		if err := printToken(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Cancel on Ctrl+C or SIGTERM so deferred shutdown runs.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Components start in dependency order; deferred calls shut them down in
// reverse.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear start-up sequence
	log := logging.Default()
	log.Info("starting robocore",
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

	log = logging.New(cfg.Logging, version).With("robot_id", cfg.Robot.ID)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)
	go toggleDebugOnSignal(ctx, log, cfg.Logging.Level)

	// Database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
		Migrations:  migrations.FS,
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
	schema, err := db.SchemaStatus(ctx)
	if err != nil {
		return fmt.Errorf("reading schema status: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path, "schema", schema.Version)

	// Event recorder. Handlers are added as their sinks come up; dispatch
	// starts once every sink is ready.
	eventRepo := eventlog.NewSQLiteRepository(db.DB)
	recorder := eventlog.NewRecorder(cfg.Robot.ID, 0)
	recorder.SetLogger(log)
	recorder.AddHandler("log", eventlog.NewLogHandler(log))
	recorder.AddHandler("sqlite", eventRepo)

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Robot.ID)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.With("component", "mqtt"))
		recorder.AddHandler("mqtt", eventlog.NewMQTTHandler(mqttClient, byte(cfg.MQTT.QoS)))
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
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
		influxClient.SetLogger(log.With("component", "influxdb"))
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Subsystems share one clock with the loop and the simulator.
	clk := clock.NewMonotonic()
	subsystems, backends, err := buildSubsystems(cfg, clk, recorder, mqttClient, log)
	defer func() {
		for _, b := range backends {
			if closeErr := b.Close(); closeErr != nil {
				log.Error("error closing motor bridge", "error", closeErr)
			}
		}
	}()
	if err != nil {
		return err
	}

	// Control loop
	sched := scheduler.New(scheduler.Config{
		Period: cfg.Loop.Period(),
		Clock:  clk,
		Sink:   recorder,
	})
	sched.SetLogger(log.With("component", "scheduler").Throttle(loopLogInterval))
	for _, s := range subsystems {
		sched.Register(s)
	}

	// Telemetry (optional)
	var sampler *telemetry.Sampler
	if cfg.Telemetry.Enabled {
		tcfg := telemetry.Config{
			RobotID:    cfg.Robot.ID,
			EveryTicks: cfg.Telemetry.EveryTicks,
			Loop:       sched,
		}
		if mqttClient != nil {
			tcfg.MQTT = mqttClient
		}
		if influxClient != nil {
			tcfg.Influx = influxClient
		}
		sources := make([]telemetry.Source, 0, len(subsystems))
		for _, s := range subsystems {
			sources = append(sources, s)
		}
		sampler = telemetry.New(tcfg, sources...)
		sampler.SetLogger(log)
		sched.Register(sampler)
		sampler.Start(ctx)
		defer func() {
			if closeErr := sampler.Close(); closeErr != nil {
				log.Error("error closing telemetry", "error", closeErr)
			}
		}()
	}

	// Live tuning
	tuningTargets := make(map[string]tuning.Target, len(subsystems))
	routineTargets := make(map[string]routines.Target, len(subsystems))
	for _, s := range subsystems {
		tuningTargets[s.Name()] = s
		routineTargets[s.Name()] = s
	}
	tuner := tuning.NewService(tuningTargets, tuning.NewSQLiteHistory(db.DB))
	tuner.SetLogger(log)
	if mqttClient != nil {
		if subErr := tuner.Subscribe(mqttClient, byte(cfg.MQTT.QoS)); subErr != nil {
			return fmt.Errorf("subscribing to tuning topics: %w", subErr)
		}
		defer func() {
			if closeErr := tuner.Close(); closeErr != nil {
				log.Error("error closing tuning subscriptions", "error", closeErr)
			}
		}()
	}

	// Routines
	registry := routines.NewRegistry(routineTargets, routines.Options{
		StartDelay: cfg.Autonomous.StartDelay(),
		Period:     cfg.Autonomous.Period(),
		Clock:      clk,
		Sink:       recorder,
	})
	registry.SetLogger(log)
	if regErr := registry.RegisterAll(cfg.Autonomous.Routines); regErr != nil {
		return fmt.Errorf("registering routines: %w", regErr)
	}
	launcher := action.NewLauncher(recorder)
	launcher.SetLogger(log)

	// Operator API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Security: cfg.Security,
			Logger:   log,
			RobotID:  cfg.Robot.ID,
			Version:  version,
			Routines: registry,
			Launcher: launcher,
			Tuning:   tuner,
			Events:   eventRepo,
			Loop:     sched,
			DB:       db,
		}
		for _, s := range subsystems {
			deps.Subsystems = append(deps.Subsystems, s)
		}
		if sampler != nil {
			deps.Telemetry = sampler
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}

		srv, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		recorder.AddHandler("websocket", srv.Hub())
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			if closeErr := srv.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("operator API disabled")
	}

	// The recorder outlives ctx so shutdown events still reach every sink;
	// Close drains it after the loop has stopped.
	recorder.Start(context.WithoutCancel(ctx))
	defer func() {
		log.Info("closing event recorder", "dropped", recorder.Stats().Dropped)
		if closeErr := recorder.Close(); closeErr != nil {
			log.Error("error closing event recorder", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	// Loop start; stopping it puts every subsystem in neutral.
	sched.Start()
	defer func() {
		log.Info("stopping control loop")
		sched.Stop()
	}()

	// A running routine is stopped before the loop so it cannot command a
	// stopped subsystem.
	defer stopRoutine(launcher, log)

	if name := cfg.Autonomous.AutoStart; name != "" {
		r, newErr := registry.New(name, nil)
		if newErr != nil {
			return fmt.Errorf("auto-start routine: %w", newErr)
		}
		if startErr := launcher.Start(r); startErr != nil {
			return fmt.Errorf("auto-start routine: %w", startErr)
		}
	}

	log.Info("initialisation complete, waiting for shutdown signal",
		"subsystems", len(subsystems),
		"routines", len(registry.List()),
	)

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse: routine, loop, event recorder, API,
	// tuning, telemetry, motor bridges, InfluxDB, MQTT, database.
	return nil
}

// buildSubsystems creates every configured subsystem on its backend.
// The returned closers (motor bridges, then their bus watchers) must be
// closed after the loop stops, even when an error is returned.
func buildSubsystems(
	cfg *config.Config,
	clk clock.Clock,
	sink eventlog.Sink,
	mqttClient *mqtt.Client,
	log *logging.Logger,
) ([]*subsystem.Subsystem, []io.Closer, error) {
	subsystems := make([]*subsystem.Subsystem, 0, len(cfg.Subsystems))
	var motors []io.Closer
	buses := make(map[string]*mqttbridge.BusHealth)
	var watchers []io.Closer
	closers := func() []io.Closer {
		return append(motors, watchers...)
	}

	for _, sc := range cfg.Subsystems {
		var backend subsystem.Backend
		switch sc.Backend.Type {
		case "sim":
			backend = sim.New(sim.Config{
				FreeSpeed:        sc.Backend.Sim.FreeSpeed,
				TimeConstant:     time.Duration(sc.Backend.Sim.TimeConstantMS) * time.Millisecond,
				VelocityTimebase: sc.VelocityTimebase,
				Clock:            clk,
			})
		case "mqtt":
			if mqttClient == nil {
				return nil, closers(), fmt.Errorf("subsystem %s: mqtt backend requires mqtt.enabled", sc.Name)
			}
			health, ok := buses[sc.Backend.Bus]
			if !ok {
				var err error
				if health, err = mqttbridge.WatchBus(mqttClient, sc.Backend.Bus); err != nil {
					return nil, closers(), fmt.Errorf("subsystem %s: %w", sc.Name, err)
				}
				buses[sc.Backend.Bus] = health
				watchers = append(watchers, health)
			}
			bridge, err := mqttbridge.New(mqttClient, mqttbridge.Config{
				Bus:    sc.Backend.Bus,
				Motor:  sc.Backend.Motor,
				Health: health,
			})
			if err != nil {
				return nil, closers(), fmt.Errorf("subsystem %s: %w", sc.Name, err)
			}
			motors = append(motors, bridge)
			backend = bridge
		default:
			return nil, closers(), fmt.Errorf("subsystem %s: unknown backend type %q", sc.Name, sc.Backend.Type)
		}

		s, err := subsystem.New(subsystemConfig(sc, sink), backend)
		if err != nil {
			return nil, closers(), fmt.Errorf("subsystem %s: %w", sc.Name, err)
		}
		s.SetLogger(log.With("subsystem", sc.Name).Throttle(loopLogInterval))
		subsystems = append(subsystems, s)
		log.Info("subsystem ready", "subsystem", sc.Name, "backend", sc.Backend.Type)
	}

	return subsystems, closers(), nil
}

// subsystemConfig converts the YAML description of a mechanism.
func subsystemConfig(sc config.SubsystemConfig, sink eventlog.Sink) subsystem.Config {
	return subsystem.Config{
		Name:               sc.Name,
		TicksPerUnit:       sc.TicksPerUnit,
		VelocityTimebase:   sc.VelocityTimebase,
		HomePosition:       sc.HomePosition,
		MotionProfileGains: pidGains("motion_profile", sc.Gains.MotionProfile),
		PositionGains:      pidGains("position", sc.Gains.Position),
		VelocityGains:      pidGains("velocity", sc.Gains.Velocity),
		Constraints: subsystem.MotionConstraints{
			ReverseSoftLimit: sc.Constraints.Reverse(),
			ForwardSoftLimit: sc.Constraints.Forward(),
			CruiseVelocity:   sc.Constraints.CruiseVelocity,
			MaxAcceleration:  sc.Constraints.MaxAcceleration,
			CurveStrength:    sc.Constraints.CurveStrength,
		},
		Sink: sink,
	}
}

func pidGains(name string, p config.PIDConfig) subsystem.PIDGains {
	return subsystem.PIDGains{
		Name:  name,
		Slot:  p.Slot,
		KP:    p.KP,
		KI:    p.KI,
		KD:    p.KD,
		KF:    p.KF,
		IZone: p.IZone,
	}
}

// stopRoutine cancels the running routine and waits briefly for it to unwind.
func stopRoutine(launcher *action.Launcher, log *logging.Logger) {
	if launcher.Status() != action.StatusRunning {
		return
	}
	log.Info("stopping routine")
	launcher.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), routineStopTimeout)
	defer cancel()
	if err := launcher.Wait(ctx); err != nil {
		log.Warn("routine did not stop in time", "error", err)
	}
}

// getConfigPath returns the configuration file path.
// Uses ROBOCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ROBOCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// Disabled clients are nil and skipped; enabled ones are checked concurrently.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := db.HealthCheck(gctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
		return nil
	})

	if mqttClient != nil {
		g.Go(func() error {
			if err := mqttClient.HealthCheck(gctx); err != nil {
				return fmt.Errorf("mqtt: %w", err)
			}
			return nil
		})
	}

	if influxClient != nil {
		g.Go(func() error {
			if err := influxClient.HealthCheck(gctx); err != nil {
				return fmt.Errorf("influxdb: %w", err)
			}
			return nil
		})
	}

	return g.Wait()
}

// printToken writes an operator token for the API to stdout.
func printToken(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: robocore token <subject>")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tok, err := api.IssueToken(cfg.Security.JWT.Secret, args[0], operatorTokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}

// toggleDebugOnSignal flips debug logging on SIGUSR1 until ctx ends.
func toggleDebugOnSignal(ctx context.Context, log *logging.Logger, configured string) {
	usr1 := make(chan os.Signal, 1)
	signal.Notify(usr1, syscall.SIGUSR1)
	defer signal.Stop(usr1)
	for {
		select {
		case <-ctx.Done():
			return
		case <-usr1:
			log.Warn("log level changed", "level", log.ToggleDebug(configured).String())
		}
	}
}
