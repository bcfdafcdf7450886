package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/chaz8081/http-gateway/internal/ble"
)

// Advertising interval bounds allowed by the Bluetooth Core spec.
const (
	MinAdvertisingInterval = 20 * time.Millisecond
	MaxAdvertisingInterval = 10240 * time.Millisecond
)

// Config holds all application configuration.
type Config struct {
	DeviceName  string            `yaml:"device_name"`
	Advertising AdvertisingConfig `yaml:"advertising"`
	Service     ServiceConfig     `yaml:"service"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	LogLevel    string            `yaml:"log_level"`
}

// AdvertisingConfig holds advertisement settings.
type AdvertisingConfig struct {
	Interval time.Duration `yaml:"interval"`
}

// ServiceConfig holds the GATT identity of the gateway.
type ServiceConfig struct {
	UUID               string `yaml:"uuid"`
	CharacteristicUUID string `yaml:"characteristic_uuid"`
	ReadValue          string `yaml:"read_value"` // returned for every read
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Listen string `yaml:"listen"` // empty disables the endpoint
	Path   string `yaml:"path"`
}

// DefaultConfigDir returns the default config directory path.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "http-gateway")
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		DeviceName: ble.DefaultDeviceName,
		Advertising: AdvertisingConfig{
			Interval: ble.DefaultAdvertisingInterval,
		},
		Service: ServiceConfig{
			UUID:               ble.DefaultServiceUUID,
			CharacteristicUUID: ble.DefaultCharacteristicUUID,
			ReadValue:          ble.DefaultReadValue,
		},
		Metrics: MetricsConfig{
			Path: "/metrics",
		},
		LogLevel: "info",
	}
}

// Load reads and parses a YAML config file. Missing fields are filled
// with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the config for invalid values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.DeviceName) == "" {
		return fmt.Errorf("device_name must not be empty")
	}

	if c.Advertising.Interval < MinAdvertisingInterval || c.Advertising.Interval > MaxAdvertisingInterval {
		return fmt.Errorf("advertising.interval must be between %s and %s, got %s",
			MinAdvertisingInterval, MaxAdvertisingInterval, c.Advertising.Interval)
	}

	svc, char, err := c.UUIDs()
	if err != nil {
		return err
	}
	if svc == char {
		return fmt.Errorf("service.uuid and service.characteristic_uuid must differ")
	}

	if c.Metrics.Listen != "" && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with \"/\", got %q", c.Metrics.Path)
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be debug, info, warn, or error, got %q", c.LogLevel)
	}

	return nil
}

// UUIDs parses the service and characteristic UUIDs. Both the dashed and the
// bare 32-digit hex forms are accepted.
func (c *Config) UUIDs() (service, characteristic uuid.UUID, err error) {
	service, err = parseUUID("service.uuid", c.Service.UUID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	characteristic, err = parseUUID("service.characteristic_uuid", c.Service.CharacteristicUUID)
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return service, characteristic, nil
}

func parseUUID(field, s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, fmt.Errorf("%s must not be empty", field)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%s: %w", field, err)
	}
	if u == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%s must not be the nil UUID", field)
	}
	return u, nil
}

// ParseLogLevel maps a config log level to a slog level. Unknown values
// fall back to info.
func ParseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
