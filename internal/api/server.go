package api

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nerrad567/robocore/internal/action"
	"github.com/nerrad567/robocore/internal/eventlog"
	"github.com/nerrad567/robocore/internal/infrastructure/config"
	"github.com/nerrad567/robocore/internal/infrastructure/database"
	"github.com/nerrad567/robocore/internal/infrastructure/logging"
	"github.com/nerrad567/robocore/internal/routines"
	"github.com/nerrad567/robocore/internal/scheduler"
	"github.com/nerrad567/robocore/internal/subsystem"
	"github.com/nerrad567/robocore/internal/telemetry"
	"github.com/nerrad567/robocore/internal/tuning"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Mechanism is a subsystem as seen by the operator. *subsystem.Subsystem
// satisfies it.
type Mechanism interface {
	Name() string
	Snapshot() subsystem.Snapshot
	ZeroSensors() error
}

// Tuner applies live tuning. *tuning.Service satisfies it.
type Tuner interface {
	ApplyGains(ctx context.Context, name, source string, payload []byte) (subsystem.PIDGains, error)
	ApplyConstraints(ctx context.Context, name, source string, payload []byte) (subsystem.MotionConstraints, error)
	History(ctx context.Context, name string, limit int) ([]tuning.Change, error)
}

// RoutineCatalog builds routines by name. *routines.Registry satisfies it.
type RoutineCatalog interface {
	List() []routines.Summary
	New(name string, onDone func(action.Outcome)) (*action.Routine, error)
}

// RoutineLauncher runs one routine at a time. *action.Launcher satisfies it.
type RoutineLauncher interface {
	Start(r *action.Routine) error
	Stop()
	Stats() action.LauncherStats
}

// EventLister queries recorded events. *eventlog.SQLiteRepository
// satisfies it.
type EventLister interface {
	List(ctx context.Context, filter eventlog.Filter) (*eventlog.ListResult, error)
}

// LoopStats reports scheduler statistics. *scheduler.Scheduler satisfies it.
type LoopStats interface {
	Stats() scheduler.Stats
}

// TelemetryStats reports sampler counters. *telemetry.Sampler satisfies it.
type TelemetryStats interface {
	Stats() telemetry.Stats
}

// ConnectionStatus reports broker connectivity. *mqtt.Client satisfies it.
type ConnectionStatus interface {
	IsConnected() bool
}

// Store reports on the SQLite store. *database.DB satisfies it.
type Store interface {
	Stats() sql.DBStats
	SchemaStatus(ctx context.Context) (database.SchemaStatus, error)
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Security   config.SecurityConfig
	Logger     *logging.Logger
	RobotID    string
	Version    string
	Subsystems []Mechanism
	Routines   RoutineCatalog
	Launcher   RoutineLauncher
	Tuning     Tuner            // optional
	Events     EventLister      // optional
	Loop       LoopStats        // optional
	Telemetry  TelemetryStats   // optional
	MQTT       ConnectionStatus // optional
	DB         Store            // optional
	Hub        *Hub             // optional; created if nil
}

// Server is the operator HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg        config.APIConfig
	wsCfg      config.WebSocketConfig
	secCfg     config.SecurityConfig
	logger     *logging.Logger
	robotID    string
	version    string
	subsystems map[string]Mechanism
	order      []string
	routines   RoutineCatalog
	launcher   RoutineLauncher
	tuning     Tuner
	events     EventLister
	loop       LoopStats
	telemetry  TelemetryStats
	mqtt       ConnectionStatus
	db         Store
	hub        *Hub
	ownHub     bool
	startTime  time.Time
	server     *http.Server
	cancel     context.CancelFunc
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Routines == nil || deps.Launcher == nil {
		return nil, fmt.Errorf("routine catalog and launcher are required")
	}

	s := &Server{
		cfg:        deps.Config,
		wsCfg:      deps.WS,
		secCfg:     deps.Security,
		logger:     deps.Logger,
		robotID:    deps.RobotID,
		version:    deps.Version,
		subsystems: make(map[string]Mechanism, len(deps.Subsystems)),
		routines:   deps.Routines,
		launcher:   deps.Launcher,
		tuning:     deps.Tuning,
		events:     deps.Events,
		loop:       deps.Loop,
		telemetry:  deps.Telemetry,
		mqtt:       deps.MQTT,
		db:         deps.DB,
		hub:        deps.Hub,
		startTime:  time.Now(),
	}
	for _, m := range deps.Subsystems {
		if _, dup := s.subsystems[m.Name()]; dup {
			return nil, fmt.Errorf("duplicate subsystem %q", m.Name())
		}
		s.subsystems[m.Name()] = m
		s.order = append(s.order, m.Name())
	}
	if s.hub == nil {
		s.hub = NewHub(deps.WS, deps.Logger)
		s.ownHub = true
	}

	return s, nil
}

// Hub returns the WebSocket hub. Register it with the event recorder to
// stream events to operators.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections in a background goroutine.
// The server can be stopped with Close().
func (s *Server) Start(ctx context.Context) error {
	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.ownHub {
		go s.hub.Run(srvCtx)
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete,
// then forcefully closes remaining connections.
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running.
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
