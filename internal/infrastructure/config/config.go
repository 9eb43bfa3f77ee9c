package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Yunmao bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Gateway   GatewayConfig   `yaml:"gateway"`
	Devices   []DeviceConfig  `yaml:"devices"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// GatewayConfig describes the Yunmao gateway and the state-sync engine.
type GatewayConfig struct {
	// Address is the gateway's IP address. Hostnames are rejected.
	Address string `yaml:"address"`

	// CommandPort is the gateway port for commands and queries.
	// Default: 8888
	CommandPort int `yaml:"command_port"`

	// PushPort is the local port the gateway pushes updates to.
	// Default: 21688
	PushPort int `yaml:"push_port"`

	// PushBind is the interface the push listener binds to.
	// Default: "0.0.0.0"
	PushBind string `yaml:"push_bind"`

	// CommandTimeout bounds connect plus write for one command.
	// Default: 2s
	CommandTimeout time.Duration `yaml:"command_timeout"`

	// QueryTimeout bounds the poll dial and each response read.
	// Default: 5s
	QueryTimeout time.Duration `yaml:"query_timeout"`

	// IdleTimeout closes push connections that go quiet.
	// Default: 120s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// PollInterval is the snapshot poll period.
	// Default: 5s
	PollInterval time.Duration `yaml:"poll_interval"`

	// PollPolicy is "fallback", "oneshot" or "always".
	// Default: "fallback"
	PollPolicy string `yaml:"poll_policy"`

	// PushFreshWindow is how long push data suppresses fallback polling.
	// Default: 120s
	PushFreshWindow time.Duration `yaml:"push_fresh_window"`
}

// PushAddress returns the host:port the push listener binds to.
func (g GatewayConfig) PushAddress() string {
	return net.JoinHostPort(g.PushBind, strconv.Itoa(g.PushPort))
}

// Device kinds.
const (
	KindLight   = "light"
	KindCurtain = "curtain"
)

// DeviceConfig seeds one entry of the device directory.
type DeviceConfig struct {
	Name     string `yaml:"name"`
	Kind     string `yaml:"kind"`
	MAC      string `yaml:"mac"`
	Position int    `yaml:"position"`

	// MAC2 and Position2 pair a second switch circuit with a light.
	MAC2      string `yaml:"mac2,omitempty"`
	Position2 int    `yaml:"position2,omitempty"`
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
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// PanelDir serves the dashboard from disk instead of the embedded copy.
	PanelDir string `yaml:"panel_dir"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
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

	// StatsInterval is how often gateway counters are recorded, in seconds.
	StatsInterval int `yaml:"stats_interval"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: YUNMAO_SECTION_KEY
// For example: YUNMAO_GATEWAY_ADDRESS, YUNMAO_API_PORT
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

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Address:         "192.168.88.118",
			CommandPort:     8888,
			PushPort:        21688,
			PushBind:        "0.0.0.0",
			CommandTimeout:  2 * time.Second,
			QueryTimeout:    5 * time.Second,
			IdleTimeout:     120 * time.Second,
			PollInterval:    5 * time.Second,
			PollPolicy:      "fallback",
			PushFreshWindow: 120 * time.Second,
		},
		Database: DatabaseConfig{
			Path:        "./data/yunmao.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "yunmao-bridge",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
			StatsInterval: 60,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: YUNMAO_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Gateway
	if v := os.Getenv("YUNMAO_GATEWAY_ADDRESS"); v != "" {
		cfg.Gateway.Address = v
	}
	if v := os.Getenv("YUNMAO_GATEWAY_POLL_POLICY"); v != "" {
		cfg.Gateway.PollPolicy = v
	}

	// Database
	if v := os.Getenv("YUNMAO_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("YUNMAO_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("YUNMAO_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("YUNMAO_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("YUNMAO_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("YUNMAO_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("YUNMAO_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("YUNMAO_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Gateway validation. The address must be a literal IP; the gateway
	// identifies itself by IP in every request.
	if c.Gateway.Address == "" {
		errs = append(errs, "gateway.address is required")
	} else if net.ParseIP(c.Gateway.Address) == nil {
		errs = append(errs, fmt.Sprintf("gateway.address %q is not a valid IP address", c.Gateway.Address))
	}
	if !validPort(c.Gateway.CommandPort) {
		errs = append(errs, "gateway.command_port must be between 1 and 65535")
	}
	if !validPort(c.Gateway.PushPort) {
		errs = append(errs, "gateway.push_port must be between 1 and 65535")
	}
	switch c.Gateway.PollPolicy {
	case "fallback", "oneshot", "always":
	default:
		errs = append(errs, fmt.Sprintf("gateway.poll_policy %q must be fallback, oneshot or always", c.Gateway.PollPolicy))
	}
	if c.Gateway.CommandTimeout <= 0 || c.Gateway.QueryTimeout <= 0 ||
		c.Gateway.IdleTimeout <= 0 || c.Gateway.PollInterval <= 0 {
		errs = append(errs, "gateway timeouts and poll_interval must be positive")
	}

	errs = append(errs, validateDevices(c.Devices)...)

	// Database validation
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && !validPort(c.API.Port) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// InfluxDB validation
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// validateDevices checks device entries for required fields and duplicates.
func validateDevices(devices []DeviceConfig) []string {
	var errs []string
	names := make(map[string]bool, len(devices))

	for i, d := range devices {
		prefix := fmt.Sprintf("devices[%d]", i)
		if d.Name == "" {
			errs = append(errs, prefix+".name is required")
		} else if names[d.Name] {
			errs = append(errs, fmt.Sprintf("%s.name %q is duplicated", prefix, d.Name))
		}
		names[d.Name] = true

		if d.Kind != KindLight && d.Kind != KindCurtain {
			errs = append(errs, fmt.Sprintf("%s.kind %q must be light or curtain", prefix, d.Kind))
		}
		if !ValidMAC(d.MAC) {
			errs = append(errs, fmt.Sprintf("%s.mac %q must be 16 hex characters", prefix, d.MAC))
		}
		if d.Kind == KindLight && d.Position < 1 {
			errs = append(errs, prefix+".position must be at least 1 for lights")
		}
		if d.MAC2 != "" {
			if !ValidMAC(d.MAC2) {
				errs = append(errs, fmt.Sprintf("%s.mac2 %q must be 16 hex characters", prefix, d.MAC2))
			}
			if d.Position2 < 1 {
				errs = append(errs, prefix+".position2 must be at least 1 when mac2 is set")
			}
		}
	}
	return errs
}

// ValidMAC reports whether s looks like a Yunmao module address:
// sixteen hexadecimal characters.
func ValidMAC(s string) bool {
	if len(s) != 16 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

func validPort(p int) bool {
	return p >= 1 && p <= 65535
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
