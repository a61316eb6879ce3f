package feed

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"trend_follower/internal/config"
	"trend_follower/internal/core"
	apperrors "trend_follower/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const quotesCSV = `exchange,symbol,timestamp,local_timestamp,ask_amount,ask_price,bid_price,bid_amount
binance-futures,BTCUSDT,1709294400000000,1709294400001000,2,109.2,109.0,1.5
binance-futures,BTCUSDT,1709294430000000,1709294430001000,,109.3,109.1,
binance-futures,BTCUSDT,1709294460000000,1709294460001000,1,109.4,109.2,1
`

const barsCSV = `open_time,open,high,low,close,volume,close_time
1709294400000,104,106,104,105,10,1709294460000
1709294460000,105,109.5,107,109,12,1709294520000
`

func TestLoadQuotes(t *testing.T) {
	ticks, err := LoadQuotes(strings.NewReader(quotesCSV), "", 0)
	require.NoError(t, err)
	require.Len(t, ticks, 3)

	assert.Equal(t, "BTCUSDT", ticks[0].Symbol)
	assert.True(t, d("109").Equal(ticks[0].Bid))
	assert.True(t, d("109.2").Equal(ticks[0].Ask))
	assert.True(t, d("1.5").Equal(ticks[0].BidSize))
	assert.True(t, d("2").Equal(ticks[0].AskSize))
	assert.Equal(t, time.UnixMicro(1709294400000000).UTC(), ticks[0].Timestamp)

	assert.True(t, ticks[1].BidSize.IsZero())
	assert.True(t, ticks[1].AskSize.IsZero())
}

func TestLoadQuotes_LimitAndSymbolOverride(t *testing.T) {
	ticks, err := LoadQuotes(strings.NewReader(quotesCSV), "XBTUSD", 2)
	require.NoError(t, err)
	require.Len(t, ticks, 2)
	assert.Equal(t, "XBTUSD", ticks[1].Symbol)
}

func TestLoadQuotes_Errors(t *testing.T) {
	_, err := LoadQuotes(strings.NewReader("exchange,symbol,timestamp\n"), "", 0)
	assert.ErrorContains(t, err, "missing column")

	bad := "symbol,timestamp,ask_amount,ask_price,bid_price,bid_amount\nBTCUSDT,1,1,,109,1\n"
	_, err = LoadQuotes(strings.NewReader(bad), "", 0)
	assert.ErrorContains(t, err, "line 2: ask_price")

	noSymbol := "timestamp,ask_amount,ask_price,bid_price,bid_amount\n1,1,2,1,1\n"
	_, err = LoadQuotes(strings.NewReader(noSymbol), "", 0)
	assert.Error(t, err)
	ticks, err := LoadQuotes(strings.NewReader(noSymbol), "BTCUSDT", 0)
	require.NoError(t, err)
	assert.Len(t, ticks, 1)
}

func TestLoadBars(t *testing.T) {
	bars, err := LoadBars(strings.NewReader(barsCSV), "BTCUSDT", 0)
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.Equal(t, "BTCUSDT", bars[1].Symbol)
	assert.True(t, d("109.5").Equal(bars[1].High))
	assert.True(t, d("109").Equal(bars[1].Close))
	assert.Equal(t, time.UnixMilli(1709294520000).UTC(), bars[1].CloseTime)

	_, err = LoadBars(strings.NewReader("open_time,open,high,low,close,volume,close_time\nx,1,1,1,1,1,2\n"), "BTCUSDT", 0)
	assert.ErrorContains(t, err, "open_time")
}

func TestMerge(t *testing.T) {
	ticks, err := LoadQuotes(strings.NewReader(quotesCSV), "", 0)
	require.NoError(t, err)
	bars, err := LoadBars(strings.NewReader(barsCSV), "BTCUSDT", 0)
	require.NoError(t, err)

	events := Merge(ticks, bars)
	require.Len(t, events, 5)

	// the third quote shares its timestamp with the first bar close
	assert.IsType(t, core.Tick{}, events[0])
	assert.IsType(t, core.Tick{}, events[1])
	assert.IsType(t, core.Tick{}, events[2])
	assert.IsType(t, core.Bar{}, events[3])
	assert.IsType(t, core.Bar{}, events[4])
	for i := 1; i < len(events); i++ {
		assert.False(t, events[i].EventTime().Before(events[i-1].EventTime()))
	}
}

func writeReplayFiles(t *testing.T) config.ReplayFeedConfig {
	t.Helper()
	dir := t.TempDir()

	quotesPath := filepath.Join(dir, "quotes.csv.gz")
	f, err := os.Create(quotesPath)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(quotesCSV))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	barsPath := filepath.Join(dir, "bars.csv")
	require.NoError(t, os.WriteFile(barsPath, []byte(barsCSV), 0o644))

	return config.ReplayFeedConfig{
		QuotesFile:     quotesPath,
		BarsFile:       barsPath,
		TickSize:       0.1,
		PricePrecision: 1,
		SizePrecision:  3,
		QuoteCurrency:  "usdt",
	}
}

func TestReplayFeed_Run(t *testing.T) {
	feed, err := NewReplayFeed(writeReplayFiles(t), "BTCUSDT", &mockLogger{})
	require.NoError(t, err)
	assert.Equal(t, 5, feed.Len())

	inst, err := feed.GetInstrument(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "USDT", inst.QuoteCurrency)
	assert.True(t, d("0.1").Equal(inst.TickSize))
	assert.Equal(t, int32(3), inst.SizePrecision)

	_, err = feed.GetInstrument(context.Background(), "ETHUSDT")
	assert.ErrorIs(t, err, apperrors.ErrUnknownInstrument)
	assert.ErrorIs(t, feed.Subscribe(context.Background(), "ETHUSDT"), apperrors.ErrUnknownInstrument)

	// nothing is published before a subscription
	out := &sink{}
	type result struct {
		sent int
		err  error
	}
	done := make(chan result, 1)
	go func() {
		sent, err := feed.Run(context.Background(), out)
		done <- result{sent, err}
	}()
	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, out.count())

	require.NoError(t, feed.Subscribe(context.Background(), "BTCUSDT"))
	var res result
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("replay did not finish")
	}
	require.NoError(t, res.err)
	assert.Equal(t, 5, res.sent)
	events := out.snapshot()
	require.Len(t, events, 5)
	assert.IsType(t, core.Bar{}, events[4])
}

func TestReplayFeed_WaitsOutFullInbox(t *testing.T) {
	feed, err := NewReplayFeed(writeReplayFiles(t), "BTCUSDT", &mockLogger{})
	require.NoError(t, err)
	require.NoError(t, feed.Subscribe(context.Background(), "BTCUSDT"))

	out := &sink{err: apperrors.ErrInboxFull, fails: 3}
	sent, err := feed.Run(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, 5, sent)
	assert.Equal(t, 5, out.count())
}

func TestReplayFeed_StopsOnOtherErrorsAndCancel(t *testing.T) {
	feed, err := NewReplayFeed(writeReplayFiles(t), "BTCUSDT", &mockLogger{})
	require.NoError(t, err)
	require.NoError(t, feed.Subscribe(context.Background(), "BTCUSDT"))

	_, err = feed.Run(context.Background(), &sink{err: apperrors.ErrNetwork, fails: 1})
	assert.ErrorIs(t, err, apperrors.ErrNetwork)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sent, err := feed.Run(ctx, &sink{err: apperrors.ErrInboxFull, fails: 100})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, sent)
}

func TestNewReplayFeed_MissingBars(t *testing.T) {
	cfg := writeReplayFiles(t)
	cfg.BarsFile = filepath.Join(t.TempDir(), "missing.csv")
	_, err := NewReplayFeed(cfg, "BTCUSDT", &mockLogger{})
	assert.Error(t, err)
}
