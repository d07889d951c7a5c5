package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	DeviceAddress   string
	NATSURL         string
	LogLevel        string
	LogFormat       string
	Singleton       bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	// Define flags with environment variable fallback
	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("SICD_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: SICD_CONFIG)")

	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("SICD_CONFIG", ""),
		"Path to configuration file, empty for defaults (env: SICD_CONFIG)")

	flag.StringVar(&cfg.DeviceAddress, "device-address",
		getEnv("SICD_DEVICE_ADDRESS", ""),
		"Device address override, empty to auto-detect (env: SICD_DEVICE_ADDRESS)")

	flag.StringVar(&cfg.NATSURL, "nats-url",
		getEnv("SICD_NATS_URL", ""),
		"Bus URL override (env: SICD_NATS_URL)")

	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("SICD_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: SICD_LOG_LEVEL)")

	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("SICD_LOG_FORMAT", "json"),
		"Log format: json, text (env: SICD_LOG_FORMAT)")

	flag.BoolVar(&cfg.Singleton, "singleton",
		getEnvBool("SICD_SINGLETON", false),
		"Run the singleton manager variant (env: SICD_SINGLETON)")

	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("SICD_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: SICD_SHUTDOWN_TIMEOUT)")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = func() {
		printDetailedHelp()
	}

	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	// Skip validation for special flags
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !contains(validLevels, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	validFormats := []string{"json", "text"}
	if !contains(validFormats, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", cfg.ShutdownTimeout)
	}

	return nil
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - Device Component Manager

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Examples:
  # Run with custom config
  %s --config=/etc/sic/sicd.yaml

  # Run the singleton variant with debug logging
  %s --singleton --log-level=debug --log-format=text

  # Run with environment variables
  export SICD_NATS_URL=nats://bus.local:4222
  export SICD_DEVICE_ADDRESS=10.0.0.5
  %s

  # Validate configuration only
  %s --config=/etc/sic/sicd.yaml --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Utility function to check if slice contains string
func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
