package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestExpandEnvVars(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		envVars  map[string]string
		expected string
	}{
		{
			name:     "expand single env var",
			input:    "api_key: ${TEST_API_KEY}",
			envVars:  map[string]string{"TEST_API_KEY": "test_key_123"},
			expected: "api_key: test_key_123",
		},
		{
			name:     "missing env var returns empty string",
			input:    "api_key: ${MISSING_VAR_FOR_TEST}",
			expected: "api_key: ",
		},
		{
			name:     "mixed static and env vars",
			input:    "risk_bp: 50\nurl: ${TEST_RELAY_URL}",
			envVars:  map[string]string{"TEST_RELAY_URL": "ws://localhost:9000"},
			expected: "risk_bp: 50\nurl: ws://localhost:9000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 10, cfg.Strategy.FastEMAPeriod)
	assert.Equal(t, 20, cfg.Strategy.SlowEMAPeriod)
	assert.Equal(t, 2.0, cfg.Strategy.StopATRMultiple)
	assert.Equal(t, "S1", cfg.Strategy.Label)
	assert.Equal(t, 60.0, cfg.Strategy.EntryExpiry().Seconds())
	assert.Equal(t, 0.15, cfg.Sizing.CommissionBP)
	assert.Equal(t, 10000.0, cfg.Sizing.UnitBatchSize)
}

func TestLoadConfig_LeavesDotEnvToCaller(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("TRADER_DOTENV_CHECK=loaded\n"), 0o600))
	t.Chdir(dir)

	path := writeConfig(t, `
strategy:
  label: "S${TRADER_DOTENV_CHECK}"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "S", cfg.Strategy.Label)
	_, set := os.LookupEnv("TRADER_DOTENV_CHECK")
	assert.False(t, set)
}

func TestLoadConfig_OverlaysDefaultsAndExpandsEnv(t *testing.T) {
	t.Setenv("TEST_BINANCE_API_KEY", "abc123")
	t.Setenv("TEST_BINANCE_SECRET_KEY", "shh")

	path := writeConfig(t, `
app:
  mode: binance
  instruments: ["ETHUSDT", "BTCUSDT"]
strategy:
  risk_bp: 25
feeds:
  binance:
    api_key: "${TEST_BINANCE_API_KEY}"
    secret_key: "${TEST_BINANCE_SECRET_KEY}"
account:
  exchange_rates:
    EUR: 1.1
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"ETHUSDT", "BTCUSDT"}, cfg.App.Instruments)
	assert.Equal(t, 25.0, cfg.Strategy.RiskBP)
	assert.Equal(t, 10, cfg.Strategy.FastEMAPeriod, "unset fields keep defaults")
	assert.Equal(t, "abc123", cfg.Feeds.Binance.APIKey.Reveal())
	assert.Equal(t, 1.1, cfg.Account.ExchangeRates["EUR"])

	assert.NotContains(t, cfg.String(), "abc123")
	assert.Contains(t, cfg.String(), "[REDACTED]")
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		field   string
		wantErr bool
	}{
		{"valid", func(c *Config) {}, "", false},
		{"bad mode", func(c *Config) { c.App.Mode = "paper" }, "app.mode", true},
		{"no instruments", func(c *Config) { c.App.Instruments = nil }, "app.instruments", true},
		{"duplicate instruments", func(c *Config) { c.App.Instruments = []string{"A", "A"} }, "app.instruments", true},
		{"fast not faster", func(c *Config) { c.Strategy.FastEMAPeriod = 20 }, "strategy.fast_ema_period", true},
		{"zero multiple", func(c *Config) { c.Strategy.StopATRMultiple = 0 }, "strategy.stop_atr_multiple", true},
		{"risk too large", func(c *Config) { c.Strategy.RiskBP = 20000 }, "strategy.risk_bp", true},
		{"zero units", func(c *Config) { c.Sizing.Units = 0 }, "sizing.units", true},
		{"bad rate", func(c *Config) { c.Account.ExchangeRates = map[string]float64{"JPY": 0} }, "account.exchange_rates.JPY", true},
		{"relay needs url", func(c *Config) { c.App.Mode = ModeRelay }, "feeds.relay.url", true},
		{"replay needs bars", func(c *Config) { c.App.Mode = ModeReplay }, "feeds.replay.bars_file", true},
		{"sqlite needs path", func(c *Config) { c.Journal.Driver = "sqlite" }, "journal.path", true},
		{"bad log level", func(c *Config) { c.System.LogLevel = "TRACE" }, "system.log_level", true},
		{"lowercase log level", func(c *Config) { c.System.LogLevel = "debug" }, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidationError_Message(t *testing.T) {
	err := ValidationError{Field: "strategy.risk_bp", Value: -1, Message: "bad"}
	assert.Equal(t, "validation error for field 'strategy.risk_bp' (value: -1): bad", err.Error())
}
