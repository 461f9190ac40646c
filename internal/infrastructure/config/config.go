package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrConfiguration is returned when required startup configuration is missing
// or invalid. It is fatal: the service refuses to start.
var ErrConfiguration = errors.New("config: invalid configuration")

// Config is the root configuration structure for the Modbus middleware.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	Modbus    ModbusConfig    `yaml:"modbus"`
	Devices   DevicesConfig   `yaml:"devices"`
	State     StateConfig     `yaml:"state"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// ModbusConfig contains the Modbus TCP link settings shared by both monitor loops.
type ModbusConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// UnitID is the default unit used when a device has no explicit mapping.
	UnitID int `yaml:"unit_id"`

	// RegisterAddress and RegisterCount describe the holding register block
	// read on every probe.
	RegisterAddress int `yaml:"register_address"`
	RegisterCount   int `yaml:"register_count"`

	// RefreshInterval is the polling cadence of each monitor loop (seconds).
	RefreshInterval int `yaml:"refresh_interval"`

	// Timeout bounds a single register read (seconds).
	Timeout int `yaml:"timeout"`
}

// DevicesConfig holds the device catalogs seeded into the database at startup.
type DevicesConfig struct {
	// GRDs maps GRD id to its description.
	GRDs map[int]string `yaml:"grds"`

	// Relays maps relay Modbus unit id to its description. Entries whose
	// description starts with "NO APLICA" are not polled.
	Relays map[int]string `yaml:"relays"`

	// GRDOnlineValue is the register value a GRD reports when it is online.
	// Zero means "any non-zero value".
	GRDOnlineValue int `yaml:"grd_online_value"`

	// RelayFaultRegister is the offset within the read block holding a relay
	// fault code. Negative disables fault decoding.
	RelayFaultRegister int `yaml:"relay_fault_register"`
}

// StateConfig locates the observer flag document.
type StateConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig `yaml:"broker"`
	Auth      MQTTAuthConfig   `yaml:"auth"`
	KeepAlive int              `yaml:"keepalive"`
	Topics    MQTTTopicsConfig `yaml:"topics"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	TLS         bool   `yaml:"tls"`
	TLSInsecure bool   `yaml:"tls_insecure"`
	ClientID    string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTTopicsConfig names the channels the monitor loops publish to.
type MQTTTopicsConfig struct {
	GRDs   string `yaml:"grds"`
	Relays string `yaml:"reles"`
	Grado  string `yaml:"grado"`
	Events string `yaml:"events"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
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
// Environment variables follow the pattern: MODBUSMW_SECTION_KEY
// For example: MODBUSMW_MODBUS_HOST, MODBUSMW_MQTT_PASSWORD
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

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "modbus-mw",
			Name: "Modbus middleware",
		},
		Database: DatabaseConfig{
			Path:        "./data/grdconectados.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Modbus: ModbusConfig{
			Port:            502,
			UnitID:          1,
			RegisterAddress: 0,
			RegisterCount:   1,
			RefreshInterval: 30,
			Timeout:         10,
		},
		Devices: DevicesConfig{
			RelayFaultRegister: -1,
		},
		State: StateConfig{
			Path: "./data/modbus-mw-state.json",
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Port:     8883,
				TLS:      true,
				ClientID: "modbus-mw",
			},
			KeepAlive: 60,
			Topics: MQTTTopicsConfig{
				GRDs:   "exemys/estado/grds",
				Relays: "exemys/estado/reles",
				Grado:  "exemys/estado/grado",
				Events: "exemys/eventos/conexion",
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/ws",
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

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: MODBUSMW_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Database
	if v := os.Getenv("MODBUSMW_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("MODBUSMW_STATE_PATH"); v != "" {
		cfg.State.Path = v
	}

	// Modbus
	if v := os.Getenv("MODBUSMW_MODBUS_HOST"); v != "" {
		cfg.Modbus.Host = v
	}
	ints := []struct {
		env string
		dst *int
	}{
		{"MODBUSMW_MODBUS_PORT", &cfg.Modbus.Port},
		{"MODBUSMW_MODBUS_UNIT_ID", &cfg.Modbus.UnitID},
		{"MODBUSMW_MODBUS_REGISTER_COUNT", &cfg.Modbus.RegisterCount},
		{"MODBUSMW_MODBUS_REFRESH_INTERVAL", &cfg.Modbus.RefreshInterval},
		{"MODBUSMW_MQTT_PORT", &cfg.MQTT.Broker.Port},
		{"MODBUSMW_API_PORT", &cfg.API.Port},
	}
	for _, o := range ints {
		v := os.Getenv(o.env)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%w: %s must be an integer", ErrConfiguration, o.env)
		}
		*o.dst = n
	}

	// MQTT
	if v := os.Getenv("MODBUSMW_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("MODBUSMW_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("MODBUSMW_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("MODBUSMW_MQTT_TLS"); v != "" {
		cfg.MQTT.Broker.TLS = parseBool(v)
	}
	if v := os.Getenv("MODBUSMW_MQTT_TLS_INSECURE"); v != "" {
		cfg.MQTT.Broker.TLSInsecure = parseBool(v)
	}

	// API
	if v := os.Getenv("MODBUSMW_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("MODBUSMW_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	return nil
}

// parseBool accepts the usual truthy spellings used in container environments.
func parseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: wraps ErrConfiguration describing every problem found, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}
	if c.State.Path == "" {
		errs = append(errs, "state.path is required")
	}

	// Modbus link
	if c.Modbus.Host == "" {
		errs = append(errs, "modbus.host is required (set MODBUSMW_MODBUS_HOST)")
	}
	if c.Modbus.Port < 1 || c.Modbus.Port > 65535 {
		errs = append(errs, "modbus.port must be between 1 and 65535")
	}
	if c.Modbus.UnitID < 0 || c.Modbus.UnitID > 255 {
		errs = append(errs, "modbus.unit_id must be between 0 and 255")
	}
	if c.Modbus.RegisterCount < 1 || c.Modbus.RegisterCount > 125 {
		errs = append(errs, "modbus.register_count must be between 1 and 125")
	}
	if c.Modbus.RefreshInterval <= 0 {
		errs = append(errs, "modbus.refresh_interval must be positive")
	}
	if c.Modbus.Timeout <= 0 {
		errs = append(errs, "modbus.timeout must be positive")
	}

	// MQTT
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required (set MODBUSMW_MQTT_HOST)")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.Auth.Username == "" || c.MQTT.Auth.Password == "" {
		errs = append(errs, "mqtt.auth.username and mqtt.auth.password are required")
	}
	if c.MQTT.Topics.GRDs == "" || c.MQTT.Topics.Relays == "" {
		errs = append(errs, "mqtt.topics.grds and mqtt.topics.reles are required")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrConfiguration, strings.Join(errs, "; "))
	}

	return nil
}

// RefreshInterval returns the monitor loop cadence as a Duration.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Modbus.RefreshInterval) * time.Second
}

// ModbusTimeout returns the per-read timeout as a Duration.
func (c *Config) ModbusTimeout() time.Duration {
	return time.Duration(c.Modbus.Timeout) * time.Second
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
