// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Run modes
const (
	ModeBinance = "binance"
	ModeRelay   = "relay"
	ModeReplay  = "replay"
)

// Config represents the complete configuration structure
type Config struct {
	App         AppConfig         `yaml:"app"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Sizing      SizingConfig      `yaml:"sizing"`
	Account     AccountConfig     `yaml:"account"`
	Feeds       FeedsConfig       `yaml:"feeds"`
	Execution   ExecutionConfig   `yaml:"execution"`
	Journal     JournalConfig     `yaml:"journal"`
	System      SystemConfig      `yaml:"system"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Concurrency ConcurrencyConfig `yaml:"concurrency"`
	Engine      EngineConfig      `yaml:"engine"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Mode        string   `yaml:"mode"`
	Instruments []string `yaml:"instruments"`
}

// StrategyConfig contains the EMA cross parameters
type StrategyConfig struct {
	BarInterval        string  `yaml:"bar_interval"`
	FastEMAPeriod      int     `yaml:"fast_ema_period"`
	SlowEMAPeriod      int     `yaml:"slow_ema_period"`
	ATRPeriod          int     `yaml:"atr_period"`
	StopATRMultiple    float64 `yaml:"stop_atr_multiple"`
	RiskBP             float64 `yaml:"risk_bp"`
	EntryExpirySeconds int     `yaml:"entry_expiry_seconds"`
	Label              string  `yaml:"label"`
	RequireLiquidity   bool    `yaml:"require_liquidity"`
	LiquidityThreshold float64 `yaml:"liquidity_threshold"`
	SpreadCapacity     int     `yaml:"spread_capacity"`
	WarmupBars         int     `yaml:"warmup_bars"`
}

// EntryExpiry returns the GTD lifetime of entry orders
func (s StrategyConfig) EntryExpiry() time.Duration {
	return time.Duration(s.EntryExpirySeconds) * time.Second
}

// SizingConfig contains the fixed-risk sizer parameters
type SizingConfig struct {
	CommissionBP  float64 `yaml:"commission_bp"`
	HardLimit     float64 `yaml:"hard_limit"`
	Units         int     `yaml:"units"`
	UnitBatchSize float64 `yaml:"unit_batch_size"`
}

// AccountConfig seeds the local account view
type AccountConfig struct {
	Currency       string             `yaml:"currency"`
	StartingEquity float64            `yaml:"starting_equity"`
	ExchangeRates  map[string]float64 `yaml:"exchange_rates"`
}

// FeedsConfig contains market data source settings
type FeedsConfig struct {
	Binance BinanceFeedConfig `yaml:"binance"`
	Relay   RelayFeedConfig   `yaml:"relay"`
	Replay  ReplayFeedConfig  `yaml:"replay"`
}

// BinanceFeedConfig contains Binance connectivity
type BinanceFeedConfig struct {
	APIKey    Secret `yaml:"api_key"`
	SecretKey Secret `yaml:"secret_key"`
	Testnet   bool   `yaml:"testnet"`
}

// RelayFeedConfig points at a JSON websocket relay
type RelayFeedConfig struct {
	URL                 string `yaml:"url"`
	DialAttempts        int    `yaml:"dial_attempts"`
	DialBackoffMillis   int    `yaml:"dial_backoff_ms"`
	PingIntervalSeconds int    `yaml:"ping_interval_seconds"`
}

// ReplayFeedConfig contains CSV replay inputs
type ReplayFeedConfig struct {
	QuotesFile string `yaml:"quotes_file"`
	BarsFile   string `yaml:"bars_file"`
	Limit      int    `yaml:"limit"`
	// TickSize and the precisions describe the replayed instrument
	TickSize       float64 `yaml:"tick_size"`
	PricePrecision int32   `yaml:"price_precision"`
	SizePrecision  int32   `yaml:"size_precision"`
	QuoteCurrency  string  `yaml:"quote_currency"`
}

// ExecutionConfig contains venue call pacing
type ExecutionConfig struct {
	RateLimit int `yaml:"rate_limit"`
	Burst     int `yaml:"burst"`
}

// JournalConfig contains the audit journal settings
type JournalConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"`
}

// SystemConfig contains system settings
type SystemConfig struct {
	LogLevel string `yaml:"log_level"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
	EnableTraces  bool `yaml:"enable_traces"`
}

// ConcurrencyConfig contains worker pool settings
type ConcurrencyConfig struct {
	BroadcastPoolBuffer int `yaml:"broadcast_pool_buffer"`
}

// EngineConfig contains event loop settings
type EngineConfig struct {
	InboxSize int `yaml:"inbox_size"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// LoadConfig loads configuration from a YAML file with environment variable
// expansion. Callers load any .env file beforehand.
func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errs []string
	for _, check := range []func() error{
		c.validateAppConfig,
		c.validateStrategyConfig,
		c.validateSizingConfig,
		c.validateAccountConfig,
		c.validateFeedsConfig,
		c.validateJournalConfig,
		c.validateSystemConfig,
	} {
		if err := check(); err != nil {
			errs = append(errs, err.Error())
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return nil
}

func (c *Config) validateAppConfig() error {
	validModes := []string{ModeBinance, ModeRelay, ModeReplay}
	if !contains(validModes, c.App.Mode) {
		return ValidationError{
			Field:   "app.mode",
			Value:   c.App.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validModes, ", ")),
		}
	}
	if len(c.App.Instruments) == 0 {
		return ValidationError{
			Field:   "app.instruments",
			Message: "at least one instrument is required",
		}
	}
	seen := make(map[string]bool, len(c.App.Instruments))
	for _, sym := range c.App.Instruments {
		if sym == "" || seen[sym] {
			return ValidationError{
				Field:   "app.instruments",
				Value:   sym,
				Message: "instruments must be non-empty and unique",
			}
		}
		seen[sym] = true
	}
	return nil
}

func (c *Config) validateStrategyConfig() error {
	s := c.Strategy
	if s.FastEMAPeriod <= 0 || s.SlowEMAPeriod <= 0 || s.ATRPeriod <= 0 {
		return ValidationError{
			Field:   "strategy.periods",
			Value:   fmt.Sprintf("fast=%d slow=%d atr=%d", s.FastEMAPeriod, s.SlowEMAPeriod, s.ATRPeriod),
			Message: "indicator periods must be positive",
		}
	}
	if s.FastEMAPeriod >= s.SlowEMAPeriod {
		return ValidationError{
			Field:   "strategy.fast_ema_period",
			Value:   s.FastEMAPeriod,
			Message: "fast EMA period must be shorter than slow EMA period",
		}
	}
	if s.StopATRMultiple <= 0 {
		return ValidationError{
			Field:   "strategy.stop_atr_multiple",
			Value:   s.StopATRMultiple,
			Message: "stop ATR multiple must be positive",
		}
	}
	if s.RiskBP <= 0 || s.RiskBP > 10000 {
		return ValidationError{
			Field:   "strategy.risk_bp",
			Value:   s.RiskBP,
			Message: "risk must be in (0, 10000] basis points",
		}
	}
	if s.EntryExpirySeconds <= 0 {
		return ValidationError{
			Field:   "strategy.entry_expiry_seconds",
			Value:   s.EntryExpirySeconds,
			Message: "entry expiry must be positive",
		}
	}
	if s.SpreadCapacity <= 0 {
		return ValidationError{
			Field:   "strategy.spread_capacity",
			Value:   s.SpreadCapacity,
			Message: "spread capacity must be positive",
		}
	}
	if s.WarmupBars < 0 {
		return ValidationError{
			Field:   "strategy.warmup_bars",
			Value:   s.WarmupBars,
			Message: "warmup bars must not be negative",
		}
	}
	return nil
}

func (c *Config) validateSizingConfig() error {
	if c.Sizing.Units <= 0 {
		return ValidationError{
			Field:   "sizing.units",
			Value:   c.Sizing.Units,
			Message: "units must be positive",
		}
	}
	if c.Sizing.HardLimit <= 0 {
		return ValidationError{
			Field:   "sizing.hard_limit",
			Value:   c.Sizing.HardLimit,
			Message: "hard limit must be positive",
		}
	}
	if c.Sizing.CommissionBP < 0 || c.Sizing.UnitBatchSize < 0 {
		return ValidationError{
			Field:   "sizing",
			Message: "commission and unit batch size must not be negative",
		}
	}
	return nil
}

func (c *Config) validateAccountConfig() error {
	if c.Account.Currency == "" {
		return ValidationError{
			Field:   "account.currency",
			Message: "account currency is required",
		}
	}
	for ccy, rate := range c.Account.ExchangeRates {
		if rate <= 0 {
			return ValidationError{
				Field:   fmt.Sprintf("account.exchange_rates.%s", ccy),
				Value:   rate,
				Message: "exchange rate must be positive",
			}
		}
	}
	return nil
}

func (c *Config) validateFeedsConfig() error {
	switch c.App.Mode {
	case ModeRelay:
		if c.Feeds.Relay.URL == "" {
			return ValidationError{
				Field:   "feeds.relay.url",
				Message: "relay url is required in relay mode",
			}
		}
	case ModeReplay:
		if c.Feeds.Replay.BarsFile == "" {
			return ValidationError{
				Field:   "feeds.replay.bars_file",
				Message: "bars file is required in replay mode",
			}
		}
		if len(c.App.Instruments) != 1 {
			return ValidationError{
				Field:   "app.instruments",
				Value:   len(c.App.Instruments),
				Message: "replay mode drives exactly one instrument",
			}
		}
		if c.Feeds.Replay.TickSize <= 0 {
			return ValidationError{
				Field:   "feeds.replay.tick_size",
				Value:   c.Feeds.Replay.TickSize,
				Message: "tick size must be positive",
			}
		}
	}
	return nil
}

func (c *Config) validateJournalConfig() error {
	validDrivers := []string{"sqlite", "memory"}
	if !contains(validDrivers, c.Journal.Driver) {
		return ValidationError{
			Field:   "journal.driver",
			Value:   c.Journal.Driver,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validDrivers, ", ")),
		}
	}
	if c.Journal.Driver == "sqlite" && c.Journal.Path == "" {
		return ValidationError{
			Field:   "journal.path",
			Message: "sqlite journal requires a path",
		}
	}
	return nil
}

func (c *Config) validateSystemConfig() error {
	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		return ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}
	}
	return nil
}

// String returns a YAML rendering of the configuration with secrets redacted
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Mode:        ModeBinance,
			Instruments: []string{"BTCUSDT"},
		},
		Strategy: StrategyConfig{
			BarInterval:        "1m",
			FastEMAPeriod:      10,
			SlowEMAPeriod:      20,
			ATRPeriod:          20,
			StopATRMultiple:    2.0,
			RiskBP:             100,
			EntryExpirySeconds: 60,
			Label:              "S1",
			LiquidityThreshold: 2.0,
			SpreadCapacity:     100,
			WarmupBars:         40,
		},
		Sizing: SizingConfig{
			CommissionBP:  0.15,
			HardLimit:     20000000,
			Units:         1,
			UnitBatchSize: 10000,
		},
		Account: AccountConfig{
			Currency:       "USDT",
			StartingEquity: 100000,
			ExchangeRates:  map[string]float64{},
		},
		Feeds: FeedsConfig{
			Relay: RelayFeedConfig{
				DialAttempts:        5,
				DialBackoffMillis:   500,
				PingIntervalSeconds: 15,
			},
			Replay: ReplayFeedConfig{
				TickSize:       0.01,
				PricePrecision: 2,
				SizePrecision:  3,
				QuoteCurrency:  "USDT",
			},
		},
		Execution: ExecutionConfig{
			RateLimit: 10,
			Burst:     20,
		},
		Journal: JournalConfig{
			Driver: "memory",
		},
		System: SystemConfig{
			LogLevel: "INFO",
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
		Concurrency: ConcurrencyConfig{
			BroadcastPoolBuffer: 1024,
		},
		Engine: EngineConfig{
			InboxSize: 4096,
		},
	}
}
