package main

import (
	"flag"
	"fmt"
	"os"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	cfg := &CLIConfig{}

	flag.StringVar(&cfg.ConfigPath, "config",
		getEnv("AGENTRUNTIME_CONFIG", ""),
		"Path to JSON configuration file (empty for built-in defaults)")
	flag.StringVar(&cfg.ConfigPath, "c",
		getEnv("AGENTRUNTIME_CONFIG", ""),
		"Path to JSON configuration file (shorthand)")
	flag.StringVar(&cfg.LogLevel, "log-level",
		getEnv("AGENTRUNTIME_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error")
	flag.StringVar(&cfg.LogFormat, "log-format",
		getEnv("AGENTRUNTIME_LOG_FORMAT", "json"),
		"Log format: json or text")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		30*time.Second,
		"Maximum time to wait for graceful shutdown")

	flag.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	flag.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	flag.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	flag.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	flag.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	flag.Usage = printHelp
	flag.Parse()

	return cfg
}

func validateFlags(cfg *CLIConfig) error {
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q", cfg.LogFormat)
	}
	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

func printHelp() {
	fmt.Fprintf(os.Stderr, "%s - in-process agent runtime host\n\n", appName)
	fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\nFlags:\n", appName)
	flag.PrintDefaults()
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
