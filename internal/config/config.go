package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	MQTT            MQTTConfig     `yaml:"mqtt"`
	Database        DatabaseConfig `yaml:"database"`
	Log             LogConfig      `yaml:"log"`
	API             APIConfig      `yaml:"api"`
	Writer          WriterConfig   `yaml:"writer"`
	Ledger          LedgerConfig   `yaml:"ledger"`
	Export          ExportConfig   `yaml:"export"`
	Script          string         `yaml:"script"` // optional Lua apply hook, empty = disabled
	Rooms           []RoomConfig   `yaml:"rooms"`
	TickInterval    Duration       `yaml:"tick_interval"`    // periodic re-evaluation interval per room
	ShutdownTimeout Duration       `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// MQTTConfig contains MQTT broker connection settings
type MQTTConfig struct {
	Broker      string   `yaml:"broker"`
	ClientID    string   `yaml:"client_id"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	TopicPrefix string   `yaml:"topic_prefix"`
	Timeout     Duration `yaml:"timeout"` // Connect/publish token wait timeout
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level   string `yaml:"level"`
	UseJSON bool   `yaml:"json"`
	Colors  bool   `yaml:"colors"`
}

// GetLevel returns the configured level with default
func (c *LogConfig) GetLevel() string {
	if c.Level == "" {
		return "info"
	}
	return c.Level
}

// APIConfig contains HTTP API server settings
type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// WriterConfig contains actuator write settings
type WriterConfig struct {
	RateLimitRPS float64  `yaml:"rate_limit_rps"`
	WriteTimeout Duration `yaml:"write_timeout"`
}

// LedgerConfig contains event ledger settings
type LedgerConfig struct {
	CleanupInterval Duration `yaml:"cleanup_interval"`
	RetentionDays   int      `yaml:"retention_days"`
}

// ExportConfig contains optional Kafka event export settings
type ExportConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Enabled reports whether event export is configured
func (c *ExportConfig) Enabled() bool {
	return len(c.Brokers) > 0
}

// RoomConfig contains per-room compensation settings
type RoomConfig struct {
	Name         string   `yaml:"name"`
	Tolerance    float64  `yaml:"tolerance"`
	Backoff      Duration `yaml:"backoff"`
	BatterySaver *bool    `yaml:"battery_saver"` // nil = enabled

	WindowMode         string   `yaml:"window_mode"` // none, contact, temp_drop, both
	DropThreshold      float64  `yaml:"drop_threshold"`
	WindowOverride     bool     `yaml:"window_override"`
	WindowOpenSetpoint *float64 `yaml:"window_open_setpoint"`

	Preheat        bool     `yaml:"preheat"`
	BufferFraction float64  `yaml:"buffer_fraction"`
	MinPreheat     Duration `yaml:"min_preheat"`
	MaxPreheat     Duration `yaml:"max_preheat"`

	SetpointMin float64 `yaml:"setpoint_min"`
	SetpointMax float64 `yaml:"setpoint_max"`
}

// BatterySaverEnabled returns the battery saver setting with default (on)
func (r *RoomConfig) BatterySaverEnabled() bool {
	if r.BatterySaver == nil {
		return true
	}
	return *r.BatterySaver
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./heatd.sqlite"
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "heatd"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "heatd"
	}
	if cfg.MQTT.Timeout == 0 {
		cfg.MQTT.Timeout = Duration(10 * time.Second)
	}

	// Writer defaults
	if cfg.Writer.RateLimitRPS == 0 {
		cfg.Writer.RateLimitRPS = 2.0
	}
	if cfg.Writer.WriteTimeout == 0 {
		cfg.Writer.WriteTimeout = Duration(10 * time.Second)
	}

	// Ledger defaults
	if cfg.Ledger.CleanupInterval == 0 {
		cfg.Ledger.CleanupInterval = Duration(24 * time.Hour)
	}
	if cfg.Ledger.RetentionDays == 0 {
		cfg.Ledger.RetentionDays = 30
	}

	// API defaults
	if cfg.API.Host == "" {
		cfg.API.Host = "0.0.0.0"
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8086
	}

	if cfg.TickInterval == 0 {
		cfg.TickInterval = Duration(30 * time.Second)
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}

	for i := range cfg.Rooms {
		applyRoomDefaults(&cfg.Rooms[i])
	}
}

func applyRoomDefaults(r *RoomConfig) {
	if r.Tolerance == 0 {
		r.Tolerance = 0.3
	}
	if r.Backoff == 0 {
		r.Backoff = Duration(15 * time.Minute)
	}
	if r.WindowMode == "" {
		r.WindowMode = "none"
	}
	if r.DropThreshold == 0 {
		r.DropThreshold = 1.0
	}
	if r.BufferFraction == 0 {
		r.BufferFraction = 0.10
	}
	if r.MinPreheat == 0 {
		r.MinPreheat = Duration(15 * time.Minute)
	}
	if r.MaxPreheat == 0 {
		r.MaxPreheat = Duration(120 * time.Minute)
	}
	if r.SetpointMin == 0 {
		r.SetpointMin = 5.0
	}
	if r.SetpointMax == 0 {
		r.SetpointMax = 30.0
	}
}

var validWindowModes = map[string]bool{
	"none":      true,
	"contact":   true,
	"temp_drop": true,
	"both":      true,
}

// Validate checks the configuration for errors that would only surface at
// runtime otherwise
func (c *Config) Validate() error {
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required")
	}
	if len(c.Rooms) == 0 {
		return fmt.Errorf("at least one room must be configured")
	}
	if c.Export.Enabled() && c.Export.Topic == "" {
		return fmt.Errorf("export.topic is required when export.brokers is set")
	}

	seen := make(map[string]bool, len(c.Rooms))
	for i := range c.Rooms {
		r := &c.Rooms[i]
		if r.Name == "" {
			return fmt.Errorf("rooms[%d]: name is required", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("room %q: duplicate name", r.Name)
		}
		seen[r.Name] = true

		if r.Tolerance < 0 {
			return fmt.Errorf("room %q: tolerance must not be negative", r.Name)
		}
		if r.Backoff < 0 {
			return fmt.Errorf("room %q: backoff must not be negative", r.Name)
		}
		if !validWindowModes[r.WindowMode] {
			return fmt.Errorf("room %q: unknown window_mode %q", r.Name, r.WindowMode)
		}
		if r.DropThreshold <= 0 {
			return fmt.Errorf("room %q: drop_threshold must be positive", r.Name)
		}
		if r.BufferFraction < 0 {
			return fmt.Errorf("room %q: buffer_fraction must not be negative", r.Name)
		}
		if r.MinPreheat > r.MaxPreheat {
			return fmt.Errorf("room %q: min_preheat exceeds max_preheat", r.Name)
		}
		if r.SetpointMin >= r.SetpointMax {
			return fmt.Errorf("room %q: setpoint_min must be below setpoint_max", r.Name)
		}
	}

	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	// Match ${VAR} or ${VAR:default}
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}

// ExpandEnvString expands a single string with environment variables
func ExpandEnvString(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return expandEnvVars(s)
	}
	return s
}
