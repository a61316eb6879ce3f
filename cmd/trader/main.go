package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"trend_follower/internal/bootstrap"
	"trend_follower/internal/config"
	"trend_follower/pkg/logging"
	"trend_follower/pkg/telemetry"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	// Version information (set via build flags)
	version   = "dev"
	buildTime = "unknown"
)

// overrides are read from TRADER_* environment variables; flags win over them
type overrides struct {
	Config      string `envconfig:"CONFIG" default:"configs/trader.yaml"`
	MetricsPort int    `envconfig:"METRICS_PORT"`
	Mode        string `envconfig:"MODE"`
}

func main() {
	_ = godotenv.Load()

	var env overrides
	if err := envconfig.Process("trader", &env); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid environment: %v\n", err)
		os.Exit(1)
	}

	configPath := flag.String("config", env.Config, "Path to configuration file")
	mode := flag.String("mode", env.Mode, "Market data mode: binance, relay or replay (overrides config)")
	metricsPort := flag.Int("metrics-port", env.MetricsPort, "Health and metrics port (overrides config)")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("trader version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	cfg, err := bootstrap.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := applyOverrides(cfg, *mode, *metricsPort); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid overrides: %v\n", err)
		os.Exit(1)
	}

	var tel *telemetry.Telemetry
	if cfg.Telemetry.EnableMetrics {
		tel, err = telemetry.Setup(telemetry.Options{
			ServiceName:   "trend-follower",
			DisableTraces: !cfg.Telemetry.EnableTraces,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize telemetry: %v\n", err)
			os.Exit(1)
		}
	}

	logger, err := logging.NewZapLogger(cfg.System.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobalLogger(logger)
	logger.Info("Starting trader", "version", version, "config", *configPath, "mode", cfg.App.Mode)

	app, err := bootstrap.NewApp(cfg, logger)
	if err != nil {
		logger.Error("Failed to build trader", "error", err.Error())
		os.Exit(1)
	}

	runErr := app.Run()

	if tel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tel.Shutdown(ctx); err != nil {
			logger.Warn("Telemetry shutdown failed", "error", err.Error())
		}
		cancel()
	}
	_ = logger.Sync()

	if runErr != nil {
		os.Exit(1)
	}
}

// applyOverrides applies flag/env values that were set and revalidates
func applyOverrides(cfg *config.Config, mode string, metricsPort int) error {
	if mode == "" && metricsPort == 0 {
		return nil
	}
	if mode != "" {
		cfg.App.Mode = mode
	}
	if metricsPort != 0 {
		cfg.Telemetry.MetricsPort = metricsPort
	}
	return cfg.Validate()
}
