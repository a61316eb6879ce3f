package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"trend_follower/internal/config"
	"trend_follower/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, f ...interface{})               {}
func (m *mockLogger) Info(msg string, f ...interface{})                {}
func (m *mockLogger) Warn(msg string, f ...interface{})                {}
func (m *mockLogger) Error(msg string, f ...interface{})               {}
func (m *mockLogger) Fatal(msg string, f ...interface{})               {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

// three bars that turn the fast EMA above the slow one, a quote before them
// for the spread, then quotes that fill the entry and the target
const (
	replayBars = `open_time,open,high,low,close,volume,close_time
1709294400000,104,106,104,105,1,1709294460000
1709294460000,105,109.5,107,109,1,1709294520000
1709294520000,109,110,108,109,1,1709294580000
`
	replayQuotes = `exchange,symbol,timestamp,local_timestamp,ask_amount,ask_price,bid_price,bid_amount
binance-futures,BTCUSDT,1709294430000000,1709294430000000,1,109.2,109.0,1
binance-futures,BTCUSDT,1709294590000000,1709294590000000,1,110.4,110.2,1
binance-futures,BTCUSDT,1709294600000000,1709294600000000,1,116.9,116.7,1
`
)

func replayConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	bars := filepath.Join(dir, "bars.csv")
	quotes := filepath.Join(dir, "quotes.csv")
	require.NoError(t, os.WriteFile(bars, []byte(replayBars), 0o644))
	require.NoError(t, os.WriteFile(quotes, []byte(replayQuotes), 0o644))

	cfg := config.DefaultConfig()
	cfg.App.Mode = config.ModeReplay
	cfg.App.Instruments = []string{"BTCUSDT"}
	cfg.Strategy.FastEMAPeriod = 2
	cfg.Strategy.SlowEMAPeriod = 3
	cfg.Strategy.ATRPeriod = 1
	cfg.Strategy.SpreadCapacity = 2
	cfg.Strategy.WarmupBars = 0
	cfg.Sizing.UnitBatchSize = 1
	cfg.Feeds.Replay = config.ReplayFeedConfig{
		QuotesFile:     quotes,
		BarsFile:       bars,
		TickSize:       0.1,
		PricePrecision: 1,
		QuoteCurrency:  "USDT",
	}
	cfg.Journal.Driver = "memory"
	cfg.Telemetry.EnableMetrics = false
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestApp_ReplayRoundTrip(t *testing.T) {
	app, err := NewApp(replayConfig(t), &mockLogger{})
	require.NoError(t, err)
	require.Len(t, app.Strategies, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, app.RunContext(ctx))
	require.NoError(t, ctx.Err(), "replay should end on its own")

	// 158 filled at the 110.4 ask, closed at the 116.6 target
	assert.Equal(t, "100979.6", app.Gateway.Equity().String())
	assert.Equal(t, "100979.6", app.Account.FreeEquity().String())
	assert.True(t, app.Strategies[0].Tracker().IsFlat())

	events, err := app.Journal.Events(context.Background(), "BTCUSDT", 0)
	require.NoError(t, err)
	var kinds []core.StrategyEventKind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []core.StrategyEventKind{
		core.EventStateChanged,
		core.EventEntrySubmitted,
		core.EventStateChanged,
		core.EventStateChanged,
	}, kinds)
	assert.True(t, strings.HasPrefix(events[3].Detail, "POSITION_OPEN -> FLAT"), events[3].Detail)

	stats := app.Engine.Stats()
	assert.Zero(t, stats["dropped"])
	assert.Zero(t, stats["handler_errors"])
}

func TestApp_CancelStopsReplay(t *testing.T) {
	app, err := NewApp(replayConfig(t), &mockLogger{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, app.RunContext(ctx))
}

func TestNewApp_Errors(t *testing.T) {
	cfg := replayConfig(t)
	cfg.Journal.Driver = "postgres"
	_, err := NewApp(cfg, &mockLogger{})
	assert.ErrorContains(t, err, "journal")

	cfg = replayConfig(t)
	cfg.Feeds.Replay.BarsFile = filepath.Join(t.TempDir(), "missing.csv")
	_, err = NewApp(cfg, &mockLogger{})
	assert.ErrorContains(t, err, "replay feed")
}

func TestCheckPreFlight(t *testing.T) {
	cfg := replayConfig(t)
	cfg.Journal.Driver = "sqlite"
	cfg.Journal.Path = filepath.Join(t.TempDir(), "nested", "journal.db")
	require.NoError(t, checkPreFlight(cfg))
	_, err := os.Stat(filepath.Dir(cfg.Journal.Path))
	assert.NoError(t, err)

	cfg.Feeds.Replay.QuotesFile = filepath.Join(t.TempDir(), "missing.csv.gz")
	assert.ErrorContains(t, checkPreFlight(cfg), "replay input")
}
