package bootstrap

import (
	"fmt"
	"os"
	"path/filepath"

	"trend_follower/internal/config"
)

// LoadConfig loads and validates the configuration, then runs pre-flight
// checks against the environment
func LoadConfig(path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if err := checkPreFlight(cfg); err != nil {
		return nil, fmt.Errorf("pre-flight checks failed: %w", err)
	}
	return cfg, nil
}

// checkPreFlight performs environment checks beyond schema validation
func checkPreFlight(cfg *config.Config) error {
	if cfg.App.Mode == config.ModeReplay {
		for _, f := range []string{cfg.Feeds.Replay.BarsFile, cfg.Feeds.Replay.QuotesFile} {
			if f == "" {
				continue
			}
			if _, err := os.Stat(f); err != nil {
				return fmt.Errorf("replay input: %w", err)
			}
		}
	}

	if cfg.Journal.Driver == "sqlite" {
		dir := filepath.Dir(cfg.Journal.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("journal directory %s: %w", dir, err)
		}
	}
	return nil
}
