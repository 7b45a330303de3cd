package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for robocore.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Robot      RobotConfig       `yaml:"robot"`
	Loop       LoopConfig        `yaml:"loop"`
	Autonomous AutonomousConfig  `yaml:"autonomous"`
	Subsystems []SubsystemConfig `yaml:"subsystems"`
	Telemetry  TelemetryConfig   `yaml:"telemetry"`
	Database   DatabaseConfig    `yaml:"database"`
	MQTT       MQTTConfig        `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig    `yaml:"influxdb"`
	API        APIConfig         `yaml:"api"`
	WebSocket  WebSocketConfig   `yaml:"websocket"`
	Logging    LoggingConfig     `yaml:"logging"`
	Security   SecurityConfig    `yaml:"security"`
}

// RobotConfig identifies the robot.
type RobotConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// LoopConfig contains the fixed-rate scheduler settings.
type LoopConfig struct {
	PeriodMS int `yaml:"period_ms"`
}

// Period returns the scheduler period as a Duration.
func (l LoopConfig) Period() time.Duration {
	return time.Duration(l.PeriodMS) * time.Millisecond
}

// AutonomousConfig contains routine runner settings and routine definitions.
type AutonomousConfig struct {
	PeriodMS     int             `yaml:"period_ms"`
	StartDelayMS int             `yaml:"start_delay_ms"`
	AutoStart    string          `yaml:"auto_start"`
	Routines     []RoutineConfig `yaml:"routines"`
}

// Period returns the routine pacing period as a Duration.
func (a AutonomousConfig) Period() time.Duration {
	return time.Duration(a.PeriodMS) * time.Millisecond
}

// StartDelay returns the routine start delay as a Duration.
func (a AutonomousConfig) StartDelay() time.Duration {
	return time.Duration(a.StartDelayMS) * time.Millisecond
}

// RoutineConfig is a named autonomous routine built from a step tree.
type RoutineConfig struct {
	Name string     `yaml:"name"`
	Root StepConfig `yaml:"root"`
}

// StepConfig is one node of a routine tree.
//
// Type is one of: series, parallel, race, wait, timeout, setpoint.
// Composite types use Steps; timeout wraps exactly one step.
type StepConfig struct {
	Type      string       `yaml:"type"`
	Seconds   float64      `yaml:"seconds,omitempty"`
	Subsystem string       `yaml:"subsystem,omitempty"`
	Mode      string       `yaml:"mode,omitempty"` // open_loop, velocity, position, motion_profile
	Value     float64      `yaml:"value,omitempty"`
	Tolerance float64      `yaml:"tolerance,omitempty"`
	Steps     []StepConfig `yaml:"steps,omitempty"`
}

// SubsystemConfig describes one generic closed-loop mechanism.
type SubsystemConfig struct {
	Name             string            `yaml:"name"`
	Backend          BackendConfig     `yaml:"backend"`
	TicksPerUnit     float64           `yaml:"ticks_per_unit"`
	VelocityTimebase float64           `yaml:"velocity_timebase"` // seconds per native velocity window (0.1 = ticks/100ms)
	HomePosition     float64           `yaml:"home_position"`
	Gains            GainsConfig       `yaml:"gains"`
	Constraints      ConstraintsConfig `yaml:"constraints"`
}

// BackendConfig selects the hardware backend for a subsystem.
type BackendConfig struct {
	Type  string    `yaml:"type"` // sim, mqtt
	Bus   string    `yaml:"bus,omitempty"`
	Motor string    `yaml:"motor,omitempty"`
	Sim   SimConfig `yaml:"sim,omitempty"`
}

// SimConfig tunes the simulated actuator.
type SimConfig struct {
	FreeSpeed      float64 `yaml:"free_speed"`      // native ticks/s at full open-loop power
	TimeConstantMS int     `yaml:"time_constant_ms"` // first-order response of PID modes
}

// GainsConfig holds the three slot gain sets.
type GainsConfig struct {
	MotionProfile PIDConfig `yaml:"motion_profile"`
	Position      PIDConfig `yaml:"position"`
	Velocity      PIDConfig `yaml:"velocity"`
}

// PIDConfig is a single slot-numbered gain set.
type PIDConfig struct {
	Slot  int     `yaml:"slot"`
	KP    float64 `yaml:"kp"`
	KI    float64 `yaml:"ki"`
	KD    float64 `yaml:"kd"`
	KF    float64 `yaml:"kf"`
	IZone float64 `yaml:"izone"`
}

// ConstraintsConfig holds motion constraints in physical units.
// A nil soft limit disables that side.
type ConstraintsConfig struct {
	ReverseSoftLimit *float64 `yaml:"reverse_soft_limit"`
	ForwardSoftLimit *float64 `yaml:"forward_soft_limit"`
	CruiseVelocity   float64  `yaml:"cruise_velocity"`
	MaxAcceleration  float64  `yaml:"max_acceleration"`
	CurveStrength    int      `yaml:"curve_strength"`
}

// Reverse returns the reverse soft limit, or NaN when disabled.
func (c ConstraintsConfig) Reverse() float64 {
	return limitOrNaN(c.ReverseSoftLimit)
}

// Forward returns the forward soft limit, or NaN when disabled.
func (c ConstraintsConfig) Forward() float64 {
	return limitOrNaN(c.ForwardSoftLimit)
}

func limitOrNaN(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

// TelemetryConfig controls periodic subsystem telemetry.
type TelemetryConfig struct {
	Enabled    bool `yaml:"enabled"`
	EveryTicks int  `yaml:"every_ticks"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// APIConfig contains operator HTTP API settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings. An empty
// origin list allows every origin.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains event stream settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains operator token settings.
type JWTConfig struct {
	Secret string `yaml:"secret"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ROBOCORE_SECTION_KEY
// For example: ROBOCORE_DATABASE_PATH, ROBOCORE_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applySubsystemDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Robot: RobotConfig{
			ID:   "robot-001",
			Name: "robocore",
		},
		Loop: LoopConfig{
			PeriodMS: 10,
		},
		Autonomous: AutonomousConfig{
			PeriodMS: 20,
		},
		Telemetry: TelemetryConfig{
			Enabled:    true,
			EveryTicks: 10,
		},
		Database: DatabaseConfig{
			Path:        "./data/robocore.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "robocore",
			},
			QoS: 0,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     30,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 5800,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applySubsystemDefaults fills per-subsystem zero values that have a safe default.
func applySubsystemDefaults(cfg *Config) {
	for i := range cfg.Subsystems {
		s := &cfg.Subsystems[i]
		if s.Backend.Type == "" {
			s.Backend.Type = "sim"
		}
		if s.VelocityTimebase == 0 {
			s.VelocityTimebase = 0.1
		}
		if s.Backend.Motor == "" {
			s.Backend.Motor = s.Name
		}
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ROBOCORE_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ROBOCORE_ROBOT_ID"); v != "" {
		cfg.Robot.ID = v
	}
	if v := os.Getenv("ROBOCORE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("ROBOCORE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ROBOCORE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ROBOCORE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("ROBOCORE_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("ROBOCORE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("ROBOCORE_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
	if v := os.Getenv("ROBOCORE_AUTO_START"); v != "" {
		cfg.Autonomous.AutoStart = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Robot.ID == "" {
		errs = append(errs, "robot.id is required")
	}

	const maxPeriodMS = 1000
	if c.Loop.PeriodMS < 1 || c.Loop.PeriodMS > maxPeriodMS {
		errs = append(errs, "loop.period_ms must be between 1 and 1000")
	}
	if c.Autonomous.PeriodMS < 1 || c.Autonomous.PeriodMS > maxPeriodMS {
		errs = append(errs, "autonomous.period_ms must be between 1 and 1000")
	}
	if c.Autonomous.StartDelayMS < 0 {
		errs = append(errs, "autonomous.start_delay_ms cannot be negative")
	}

	errs = append(errs, c.validateSubsystems()...)
	errs = append(errs, c.validateRoutines()...)

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		// Mutating routes move real mechanisms; an unauthenticated API is not allowed.
		const minJWTSecretLength = 32
		if c.Security.JWT.Secret == "" {
			errs = append(errs, "security.jwt.secret is required when the API is enabled (set ROBOCORE_JWT_SECRET)")
		} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
			errs = append(errs, "security.jwt.secret must be at least 32 characters")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (c *Config) validateSubsystems() []string {
	var errs []string
	seen := make(map[string]bool, len(c.Subsystems))

	for i, s := range c.Subsystems {
		prefix := fmt.Sprintf("subsystems[%d]", i)
		if s.Name == "" {
			errs = append(errs, prefix+".name is required")
		} else if seen[s.Name] {
			errs = append(errs, fmt.Sprintf("%s.name %q is duplicated", prefix, s.Name))
		}
		seen[s.Name] = true

		if s.TicksPerUnit <= 0 {
			errs = append(errs, prefix+".ticks_per_unit must be positive")
		}
		if s.VelocityTimebase <= 0 {
			errs = append(errs, prefix+".velocity_timebase must be positive")
		}

		switch s.Backend.Type {
		case "sim", "":
		case "mqtt":
			if !c.MQTT.Enabled {
				errs = append(errs, prefix+".backend mqtt requires mqtt.enabled")
			}
			if s.Backend.Bus == "" {
				errs = append(errs, prefix+".backend.bus is required for mqtt backends")
			}
		default:
			errs = append(errs, fmt.Sprintf("%s.backend.type %q is not one of sim, mqtt", prefix, s.Backend.Type))
		}

		con := s.Constraints
		if con.CruiseVelocity < 0 || con.MaxAcceleration < 0 {
			errs = append(errs, prefix+".constraints cruise_velocity and max_acceleration cannot be negative")
		}
		const maxCurveStrength = 8
		if con.CurveStrength < 0 || con.CurveStrength > maxCurveStrength {
			errs = append(errs, prefix+".constraints.curve_strength must be between 0 and 8")
		}
		if con.ReverseSoftLimit != nil && con.ForwardSoftLimit != nil && *con.ReverseSoftLimit > *con.ForwardSoftLimit {
			errs = append(errs, prefix+".constraints reverse_soft_limit must not exceed forward_soft_limit")
		}
	}

	return errs
}

func (c *Config) validateRoutines() []string {
	var errs []string
	seen := make(map[string]bool, len(c.Autonomous.Routines))

	for i, r := range c.Autonomous.Routines {
		if r.Name == "" {
			errs = append(errs, fmt.Sprintf("autonomous.routines[%d].name is required", i))
			continue
		}
		if seen[r.Name] {
			errs = append(errs, fmt.Sprintf("autonomous.routines[%d].name %q is duplicated", i, r.Name))
		}
		seen[r.Name] = true
	}

	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
