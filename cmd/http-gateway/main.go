package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"

	"github.com/chaz8081/http-gateway/internal/ble"
	"github.com/chaz8081/http-gateway/internal/config"
	"github.com/chaz8081/http-gateway/internal/metrics"
)

var version = "dev"

var (
	configPath    = kingpin.Flag("config", "path to config file (default: ~/.config/http-gateway/config.yaml)").Envar("HTTP_GATEWAY_CONFIG").String()
	logLevel      = kingpin.Flag("log-level", "override log_level (debug, info, warn, error)").Envar("HTTP_GATEWAY_LOG_LEVEL").String()
	advInterval   = kingpin.Flag("adv.interval", "override advertising.interval").Envar("HTTP_GATEWAY_ADV_INTERVAL").Duration()
	metricsListen = kingpin.Flag("metrics.listen", "override metrics.listen, e.g. :9120").Envar("HTTP_GATEWAY_METRICS_LISTEN").String()
)

func main() {
	kingpin.Version(version)
	kingpin.Parse()

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	applyOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		log.Fatalf("config validation: %v", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))

	printBanner(cfg)

	serviceUUID, charUUID, err := cfg.UUIDs()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Signal handling for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Listen != "" {
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Listen, cfg.Metrics.Path); err != nil {
				slog.Error("metrics server failed", "error", err)
				stop()
			}
		}()
	}

	radio := ble.NewTinyGoRadio()
	peripheral, err := ble.NewPeripheral(radio, ble.PeripheralOptions{
		DeviceName:          cfg.DeviceName,
		ServiceUUID:         serviceUUID,
		CharacteristicUUID:  charUUID,
		AdvertisingInterval: cfg.Advertising.Interval,
		ReadValue:           []byte(cfg.Service.ReadValue),
		Metrics:             m,
	})
	if err != nil {
		log.Fatalf("Failed to create peripheral: %v", err)
	}

	log.Println("Ready! Waiting for the BLE radio. Ctrl+C to quit.")
	if err := radio.Run(ctx, peripheral); err != nil {
		log.Fatalf("Failed to run BLE radio: %v\n\nEnsure Bluetooth is enabled and this process may use it.", err)
	}
	log.Println("Goodbye!")
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	// Try default config path
	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		log.Printf("Config loaded from %s", defaultPath)
		return cfg, nil
	}

	// No config file, use defaults
	log.Println("No config file found, using defaults")
	return config.Default(), nil
}

// applyOverrides copies explicitly set flags over file values.
func applyOverrides(cfg *config.Config) {
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *advInterval != 0 {
		cfg.Advertising.Interval = *advInterval
	}
	if *metricsListen != "" {
		cfg.Metrics.Listen = *metricsListen
	}
}

// printBanner displays the startup configuration summary.
func printBanner(cfg *config.Config) {
	fmt.Println("=== http-gateway ===")
	fmt.Printf("  Name:     %s\n", cfg.DeviceName)
	fmt.Printf("  Service:  %s\n", cfg.Service.UUID)
	fmt.Printf("  Char:     %s\n", cfg.Service.CharacteristicUUID)
	fmt.Printf("  Interval: %s\n", cfg.Advertising.Interval)
	if cfg.Metrics.Listen != "" {
		fmt.Printf("  Metrics:  %s%s\n", cfg.Metrics.Listen, cfg.Metrics.Path)
	}
	fmt.Printf("  Log:      %s\n", cfg.LogLevel)
	fmt.Println("====================")
}
