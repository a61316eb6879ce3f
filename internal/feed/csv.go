package feed

import (
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"trend_follower/internal/config"
	"trend_follower/internal/core"
	apperrors "trend_follower/pkg/errors"

	"github.com/shopspring/decimal"
)

var (
	quoteColumns = []string{"timestamp", "ask_amount", "ask_price", "bid_price", "bid_amount"}
	barColumns   = []string{"open_time", "open", "high", "low", "close", "volume", "close_time"}
)

// openFile opens path, transparently gunzipping *.gz files
func openFile(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gunzip %s: %w", path, err)
	}
	return struct {
		io.Reader
		io.Closer
	}{gz, closerFunc(func() error {
		gz.Close()
		return f.Close()
	})}, nil
}

type closerFunc func() error

func (c closerFunc) Close() error { return c() }

// columnIndex maps the required header names to their positions
func columnIndex(header []string, required []string) (map[string]int, error) {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, name := range required {
		if _, ok := idx[name]; !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
	}
	return idx, nil
}

func decimalField(rec []string, i int, allowEmpty bool) (decimal.Decimal, error) {
	s := strings.TrimSpace(rec[i])
	if s == "" && allowEmpty {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// LoadQuotes reads top-of-book quotes in the tardis.dev "quotes" layout:
//
//	exchange,symbol,timestamp,local_timestamp,ask_amount,ask_price,bid_price,bid_amount
//
// Timestamps are microseconds since epoch. Empty amounts read as zero. When
// symbol is non-empty it replaces the symbol column. limit <= 0 reads all rows.
func LoadQuotes(r io.Reader, symbol string, limit int) ([]core.Tick, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read quotes header: %w", err)
	}
	cols, err := columnIndex(header, quoteColumns)
	if err != nil {
		return nil, err
	}
	symCol, hasSym := cols["symbol"]
	if symbol == "" && !hasSym {
		return nil, errors.New("quotes need a symbol column or an explicit symbol")
	}

	var ticks []core.Tick
	for line := 2; limit <= 0 || len(ticks) < limit; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("quotes line %d: %w", line, err)
		}

		us, err := strconv.ParseInt(strings.TrimSpace(rec[cols["timestamp"]]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("quotes line %d: timestamp: %w", line, err)
		}
		var vals [4]decimal.Decimal
		for i, c := range []struct {
			name       string
			allowEmpty bool
		}{{"bid_price", false}, {"ask_price", false}, {"bid_amount", true}, {"ask_amount", true}} {
			v, err := decimalField(rec, cols[c.name], c.allowEmpty)
			if err != nil {
				return nil, fmt.Errorf("quotes line %d: %s: %w", line, c.name, err)
			}
			vals[i] = v
		}

		sym := symbol
		if sym == "" {
			sym = strings.TrimSpace(rec[symCol])
		}
		ticks = append(ticks, core.Tick{
			Symbol:    sym,
			Bid:       vals[0],
			Ask:       vals[1],
			BidSize:   vals[2],
			AskSize:   vals[3],
			Timestamp: time.UnixMicro(us).UTC(),
		})
	}
	return ticks, nil
}

// LoadBars reads closed bars from open_time,open,high,low,close,volume,close_time
// rows with millisecond timestamps. limit <= 0 reads all rows.
func LoadBars(r io.Reader, symbol string, limit int) ([]core.Bar, error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read bars header: %w", err)
	}
	cols, err := columnIndex(header, barColumns)
	if err != nil {
		return nil, err
	}

	var bars []core.Bar
	for line := 2; limit <= 0 || len(bars) < limit; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("bars line %d: %w", line, err)
		}

		var times [2]int64
		for i, name := range []string{"open_time", "close_time"} {
			ms, err := strconv.ParseInt(strings.TrimSpace(rec[cols[name]]), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("bars line %d: %s: %w", line, name, err)
			}
			times[i] = ms
		}
		var vals [5]decimal.Decimal
		for i, name := range []string{"open", "high", "low", "close", "volume"} {
			v, err := decimalField(rec, cols[name], name == "volume")
			if err != nil {
				return nil, fmt.Errorf("bars line %d: %s: %w", line, name, err)
			}
			vals[i] = v
		}
		bars = append(bars, core.Bar{
			Symbol:    symbol,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
			OpenTime:  time.UnixMilli(times[0]).UTC(),
			CloseTime: time.UnixMilli(times[1]).UTC(),
		})
	}
	return bars, nil
}

// Merge interleaves ticks and bars in event time order. A tick and a bar with
// the same timestamp keep the tick first so the bar sees the latest quote.
func Merge(ticks []core.Tick, bars []core.Bar) []core.Event {
	events := make([]core.Event, 0, len(ticks)+len(bars))
	for _, t := range ticks {
		events = append(events, t)
	}
	for _, b := range bars {
		events = append(events, b)
	}
	sort.SliceStable(events, func(i, j int) bool {
		ti, tj := events[i].EventTime(), events[j].EventTime()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		_, iTick := events[i].(core.Tick)
		_, jTick := events[j].(core.Tick)
		return iTick && !jTick
	})
	return events
}

// ReplayFeed plays recorded quotes and bars for a single instrument
type ReplayFeed struct {
	instrument core.Instrument
	events     []core.Event
	retryDelay time.Duration
	logger     core.ILogger

	mu         sync.Mutex
	subscribed map[string]bool
	ready      chan struct{}
	readyOnce  sync.Once
}

// NewReplayFeed loads the configured files. The quotes file is optional.
func NewReplayFeed(cfg config.ReplayFeedConfig, symbol string, logger core.ILogger) (*ReplayFeed, error) {
	log := logger.WithField("component", "replay_feed")

	var ticks []core.Tick
	if cfg.QuotesFile != "" {
		r, err := openFile(cfg.QuotesFile)
		if err != nil {
			return nil, fmt.Errorf("open quotes: %w", err)
		}
		ticks, err = LoadQuotes(r, symbol, cfg.Limit)
		r.Close()
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", cfg.QuotesFile, err)
		}
	}

	r, err := openFile(cfg.BarsFile)
	if err != nil {
		return nil, fmt.Errorf("open bars: %w", err)
	}
	bars, err := LoadBars(r, symbol, cfg.Limit)
	r.Close()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", cfg.BarsFile, err)
	}

	log.Info("Loaded replay data", "symbol", symbol, "quotes", len(ticks), "bars", len(bars))
	return &ReplayFeed{
		instrument: core.Instrument{
			Symbol:         symbol,
			QuoteCurrency:  strings.ToUpper(cfg.QuoteCurrency),
			TickSize:       decimal.NewFromFloat(cfg.TickSize),
			PricePrecision: cfg.PricePrecision,
			SizePrecision:  cfg.SizePrecision,
		},
		events:     Merge(ticks, bars),
		retryDelay: time.Millisecond,
		logger:     log,
		subscribed: make(map[string]bool),
		ready:      make(chan struct{}),
	}, nil
}

func (f *ReplayFeed) Subscribe(ctx context.Context, symbol string) error {
	if symbol != f.instrument.Symbol {
		return fmt.Errorf("%w: replay only carries %s", apperrors.ErrUnknownInstrument, f.instrument.Symbol)
	}
	f.mu.Lock()
	f.subscribed[symbol] = true
	f.mu.Unlock()
	f.readyOnce.Do(func() { close(f.ready) })
	return nil
}

func (f *ReplayFeed) Unsubscribe(symbol string) error {
	f.mu.Lock()
	delete(f.subscribed, symbol)
	f.mu.Unlock()
	return nil
}

func (f *ReplayFeed) GetInstrument(ctx context.Context, symbol string) (*core.Instrument, error) {
	if symbol != f.instrument.Symbol {
		return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownInstrument, symbol)
	}
	inst := f.instrument
	return &inst, nil
}

// Len returns the number of events to replay
func (f *ReplayFeed) Len() int {
	return len(f.events)
}

// Run waits for the first subscription, then publishes every event into sink
// in order and returns when the data is exhausted or ctx ends. A full inbox is
// waited out rather than dropped.
func (f *ReplayFeed) Run(ctx context.Context, sink core.IEventSink) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-f.ready:
	}

	sent := 0
	for _, ev := range f.events {
		f.mu.Lock()
		ok := f.subscribed[ev.EventSymbol()]
		f.mu.Unlock()
		if !ok {
			continue
		}
		for {
			err := sink.Publish(ev)
			if err == nil {
				break
			}
			if !errors.Is(err, apperrors.ErrInboxFull) {
				return sent, fmt.Errorf("replay event %d: %w", sent, err)
			}
			select {
			case <-ctx.Done():
				return sent, ctx.Err()
			case <-time.After(f.retryDelay):
			}
		}
		sent++
		if ctx.Err() != nil {
			return sent, ctx.Err()
		}
	}
	f.logger.Info("Replay complete", "events", sent)
	return sent, nil
}

var (
	_ core.IMarketDataFeed     = (*ReplayFeed)(nil)
	_ core.IInstrumentProvider = (*ReplayFeed)(nil)
)
