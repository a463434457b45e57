package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvProduction is the SECBOT_ENV value that selects production defaults.
const EnvProduction = "prod"

// Config is the root configuration structure shared by every secbot service.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site       SiteConfig       `yaml:"site"`
	Bus        BusConfig        `yaml:"bus"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Latch      LatchConfig      `yaml:"latch"`
	Authorizer AuthorizerConfig `yaml:"authorizer"`
	Broadcast  BroadcastConfig  `yaml:"broadcast"`
	RFID       RFIDConfig       `yaml:"rfid"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// BusConfig contains settings for the local inter-process bus.
type BusConfig struct {
	// SocketRoot is the directory holding one unix socket per endpoint address.
	SocketRoot string `yaml:"socket_root"`

	// RequestTimeout bounds a single request/response exchange.
	// Zero disables the bound; callers then rely on their own context.
	RequestTimeout time.Duration `yaml:"request_timeout"`

	// QueueSize is the capacity of the inbound and outbound queues.
	// A full inbound queue stalls the reading connection until the
	// application drains it.
	QueueSize int `yaml:"queue_size"`

	// MaxLineSize is the longest accepted message line in bytes.
	MaxLineSize int `yaml:"max_line_size"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`

	// File is the log path used when Output is "file".
	File string `yaml:"file"`

	// MaxSizeMB rotates the file once it reaches this many megabytes.
	MaxSizeMB int `yaml:"max_size_mb"`

	// RotateEvery also rotates the file on a fixed period. Zero rotates by
	// size only.
	RotateEvery time.Duration `yaml:"rotate_every"`

	// MaxBackups is the number of rotated files kept. Zero keeps all.
	MaxBackups int `yaml:"max_backups"`

	// MaxAge removes rotated files older than this many days. Zero keeps
	// them regardless of age.
	MaxAge int `yaml:"max_age"`

	// Compress gzips rotated files.
	Compress bool `yaml:"compress"`
}

// DatabaseConfig contains SQLite settings for the access audit trail.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
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

// LatchConfig contains door-latch controller settings.
//
// Hold and cooldown durations are deliberately absent: they are fixed
// in the latch package and cannot be shortened by configuration.
type LatchConfig struct {
	// Name is the latch's bus address.
	Name string `yaml:"name"`

	// Door is the event path prefix, e.g. "front_door" yields "/front_door/open".
	Door string `yaml:"door"`

	// EventTarget is the bus address receiving status events.
	EventTarget string `yaml:"event_target"`

	Driver RelayDriverConfig `yaml:"driver"`
}

// RelayDriverConfig selects and configures the relay hardware driver.
type RelayDriverConfig struct {
	// Type is "relayplate", "gpio" or "sim".
	Type string `yaml:"type"`

	// Pin is the GPIO line name for the "gpio" driver, e.g. "GPIO17".
	Pin string `yaml:"pin"`

	// ActiveLow inverts the driven level for relay boards that energize on 0.
	ActiveLow bool `yaml:"active_low"`

	// Plate configures the "relayplate" driver.
	Plate RelayPlateConfig `yaml:"plate"`
}

// RelayPlateConfig addresses one relay on a Pi-Plates RELAYplate.
type RelayPlateConfig struct {
	// SPIPort is the periph SPI port name, e.g. "SPI0.1".
	SPIPort string `yaml:"spi_port"`

	// FramePin is the GPIO line framing each command, e.g. "GPIO25".
	FramePin string `yaml:"frame_pin"`

	// Address is the board address set by its jumpers (0-7).
	Address int `yaml:"address"`

	// Relay is the relay number on the board (1-7).
	Relay int `yaml:"relay"`
}

// AuthorizerConfig contains access authorizer settings.
type AuthorizerConfig struct {
	Name string `yaml:"name"`

	// ACLFile is the access table: a YAML file, or a data directory (or a
	// .csv file inside it) holding hours.csv and rfids.csv.
	ACLFile string `yaml:"acl_file"`

	// Door scopes door-specific permissions, e.g. "/front_door/open".
	Door string `yaml:"door"`

	// Timezone is used for hour-window checks. Empty means local time.
	Timezone string `yaml:"timezone"`
}

// BroadcastConfig contains external broadcast settings.
type BroadcastConfig struct {
	Name       string `yaml:"name"`
	Listen     string `yaml:"listen"`
	MaxClients int    `yaml:"max_clients"`

	// HTTPListen serves WebSocket listeners and a health endpoint.
	// Empty disables the HTTP side.
	HTTPListen    string `yaml:"http_listen"`
	WebSocketPath string `yaml:"websocket_path"`

	// MQTTTopicPrefix is prepended to mirrored message topics when MQTT is enabled.
	MQTTTopicPrefix string `yaml:"mqtt_topic_prefix"`
}

// RFIDConfig contains RFID reader settings.
type RFIDConfig struct {
	Name string `yaml:"name"`

	// Device is an evdev path such as /dev/input/event3, "name:<label>"
	// to find the input device by its kernel name, or "-" for
	// newline-terminated identifiers on stdin.
	Device string `yaml:"device"`

	// Authorizer is the bus address receiving permission requests.
	Authorizer string `yaml:"authorizer"`

	// Target is the target_id placed in requests (the guarded door).
	Target string `yaml:"target"`
}

// SupervisorConfig contains settings for the secbot process supervisor.
type SupervisorConfig struct {
	BinDir   string          `yaml:"bin_dir"`
	Services []ServiceConfig `yaml:"services"`
}

// ServiceConfig describes one supervised service binary.
type ServiceConfig struct {
	Name             string        `yaml:"name"`
	Binary           string        `yaml:"binary"`
	Args             []string      `yaml:"args"`
	RestartOnFailure bool          `yaml:"restart_on_failure"`
	RestartDelay     time.Duration `yaml:"restart_delay"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (development or production, chosen by SECBOT_ENV)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: SECBOT_SECTION_KEY
// For example: SECBOT_BUS_SOCKET_ROOT, SECBOT_LOGGING_LEVEL
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if os.Getenv("SECBOT_ENV") == EnvProduction {
		cfg = productionConfig()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns the development configuration.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "hackerspace",
			Name: "Queerious Labs",
		},
		Bus: BusConfig{
			SocketRoot:     ".",
			RequestTimeout: 5 * time.Second,
			QueueSize:      64,
			MaxLineSize:    64 * 1024,
		},
		Logging: LoggingConfig{
			Level:       "info",
			Format:      "text",
			Output:      "stdout",
			File:        "./acl.log",
			MaxSizeMB:   10,
			RotateEvery: 7 * 24 * time.Hour,
			MaxBackups:  52,
			MaxAge:      364,
		},
		Database: DatabaseConfig{
			Path:        "./data/secbot.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "secbot-broadcast",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Latch: LatchConfig{
			Name:        "front_door_latch",
			Door:        "front_door",
			EventTarget: "broadcast",
			Driver: RelayDriverConfig{
				Type: "sim",
				Pin:  "GPIO17",
				Plate: RelayPlateConfig{
					SPIPort:  "SPI0.1",
					FramePin: "GPIO25",
					Address:  0,
					Relay:    2,
				},
			},
		},
		Authorizer: AuthorizerConfig{
			Name:    "authorizer",
			ACLFile: "./data/acl.yaml",
			Door:    "front_door",
		},
		Broadcast: BroadcastConfig{
			Name:            "broadcast",
			Listen:          "0.0.0.0:8080",
			MaxClients:      20,
			WebSocketPath:   "/ws",
			MQTTTopicPrefix: "secbot",
		},
		RFID: RFIDConfig{
			Name:       "front_door_rfid",
			Device:     "-",
			Authorizer: "authorizer",
			Target:     "front_door_latch",
		},
		Supervisor: SupervisorConfig{
			BinDir: "./bin",
		},
	}
}

// productionConfig returns defaults for the deployed device.
func productionConfig() *Config {
	cfg := defaultConfig()
	cfg.Bus.SocketRoot = "/run/queeriouslabs"
	cfg.Logging.Level = "error"
	cfg.Logging.Format = "json"
	cfg.Logging.Output = "file"
	cfg.Logging.File = "/var/log/queeriouslabs/acl.log"
	cfg.Database.Path = "/var/lib/queeriouslabs/secbot.db"
	cfg.Authorizer.ACLFile = "/etc/queeriouslabs/acl.yaml"
	cfg.Latch.Driver.Type = "relayplate"
	cfg.Supervisor.BinDir = "/usr/local/bin"
	return cfg
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: SECBOT_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Bus
	if v := os.Getenv("SECBOT_BUS_SOCKET_ROOT"); v != "" {
		cfg.Bus.SocketRoot = v
	}
	if v := os.Getenv("SECBOT_BUS_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Bus.RequestTimeout = d
		}
	}

	// Logging
	if v := os.Getenv("SECBOT_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SECBOT_LOGGING_FILE"); v != "" {
		cfg.Logging.File = v
	}
	if v := os.Getenv("SECBOT_LOGGING_MAX_BACKUPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Logging.MaxBackups = n
		}
	}
	if v := os.Getenv("SECBOT_LOGGING_MAX_AGE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Logging.MaxAge = n
		}
	}

	// Database
	if v := os.Getenv("SECBOT_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("SECBOT_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SECBOT_MQTT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.MQTT.Broker.Port = port
		}
	}
	if v := os.Getenv("SECBOT_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SECBOT_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("SECBOT_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Authorizer
	if v := os.Getenv("SECBOT_ACL_FILE"); v != "" {
		cfg.Authorizer.ACLFile = v
	}

	// RFID
	if v := os.Getenv("SECBOT_RFID_DEVICE"); v != "" {
		cfg.RFID.Device = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	// Bus validation
	if c.Bus.SocketRoot == "" {
		errs = append(errs, "bus.socket_root is required")
	}
	if c.Bus.RequestTimeout < 0 {
		errs = append(errs, "bus.request_timeout must not be negative")
	}
	if c.Bus.QueueSize < 1 {
		errs = append(errs, "bus.queue_size must be at least 1")
	}
	if c.Bus.MaxLineSize < 1024 {
		errs = append(errs, "bus.max_line_size must be at least 1024")
	}

	if strings.ToLower(c.Logging.Output) == "file" && c.Logging.File == "" {
		errs = append(errs, "logging.file is required when logging.output is file")
	}
	if c.Logging.MaxSizeMB < 0 || c.Logging.MaxBackups < 0 || c.Logging.MaxAge < 0 {
		errs = append(errs, "logging.max_size_mb, max_backups and max_age must not be negative")
	}
	if c.Logging.RotateEvery < 0 {
		errs = append(errs, "logging.rotate_every must not be negative")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the database is enabled")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	// Endpoint addresses become socket file names.
	for key, addr := range map[string]string{
		"latch.name":      c.Latch.Name,
		"authorizer.name": c.Authorizer.Name,
		"broadcast.name":  c.Broadcast.Name,
		"rfid.name":       c.RFID.Name,
	} {
		if addr == "" || strings.ContainsAny(addr, "/\x00") {
			errs = append(errs, key+" must be a non-empty name without '/'")
		}
	}

	switch c.Latch.Driver.Type {
	case "sim":
	case "gpio":
		if c.Latch.Driver.Pin == "" {
			errs = append(errs, "latch.driver.pin is required for the gpio driver")
		}
	case "relayplate":
		plate := c.Latch.Driver.Plate
		if plate.SPIPort == "" || plate.FramePin == "" {
			errs = append(errs, "latch.driver.plate needs spi_port and frame_pin")
		}
		if plate.Address < 0 || plate.Address > 7 {
			errs = append(errs, "latch.driver.plate.address must be 0-7")
		}
		if plate.Relay < 1 || plate.Relay > 7 {
			errs = append(errs, "latch.driver.plate.relay must be 1-7")
		}
	default:
		errs = append(errs, "latch.driver.type must be relayplate, gpio or sim")
	}

	if c.Broadcast.MaxClients < 1 {
		errs = append(errs, "broadcast.max_clients must be at least 1")
	}

	for i, svc := range c.Supervisor.Services {
		if svc.Name == "" || svc.Binary == "" {
			errs = append(errs, fmt.Sprintf("supervisor.services[%d] needs name and binary", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Path returns the configuration file path from SECBOT_CONFIG, or "" when unset.
func Path() string {
	return os.Getenv("SECBOT_CONFIG")
}
