// Package feed adapts market data sources onto the engine inbox
package feed

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"trend_follower/internal/config"
	"trend_follower/internal/core"
	apperrors "trend_follower/pkg/errors"
	"trend_follower/pkg/tradingutils"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

type binanceStreams struct {
	mu        sync.Mutex
	klineStop chan struct{}
	quoteStop chan struct{}
	closed    chan struct{}
}

func (s *binanceStreams) set(klineStop, quoteStop chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.klineStop = klineStop
	s.quoteStop = quoteStop
}

// stop closes the websocket stop channels, which go-binance never closes itself
func (s *binanceStreams) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range []chan struct{}{s.klineStop, s.quoteStop} {
		if c != nil {
			close(c)
		}
	}
	s.klineStop = nil
	s.quoteStop = nil
}

// BinanceFeed streams closed klines and best bid/ask from Binance USDⓈ-M
// futures, and serves instrument metadata and kline history from REST.
type BinanceFeed struct {
	client         *futures.Client
	sink           core.IEventSink
	interval       string
	reconnectDelay time.Duration
	logger         core.ILogger

	mu      sync.Mutex
	streams map[string]*binanceStreams
	symbols map[string]futures.Symbol
}

// NewBinanceFeed creates a feed publishing into sink
func NewBinanceFeed(cfg config.BinanceFeedConfig, interval string, sink core.IEventSink, logger core.ILogger) *BinanceFeed {
	futures.UseTestnet = cfg.Testnet
	return &BinanceFeed{
		client:         futures.NewClient(cfg.APIKey.Reveal(), cfg.SecretKey.Reveal()),
		sink:           sink,
		interval:       interval,
		reconnectDelay: 5 * time.Second,
		logger:         logger.WithField("component", "binance_feed"),
		streams:        make(map[string]*binanceStreams),
		symbols:        make(map[string]futures.Symbol),
	}
}

// Subscribe starts the kline and book ticker streams for symbol. Dropped
// connections are re-established until Unsubscribe.
func (f *BinanceFeed) Subscribe(ctx context.Context, symbol string) error {
	f.mu.Lock()
	if _, ok := f.streams[symbol]; ok {
		f.mu.Unlock()
		return nil
	}
	s := &binanceStreams{closed: make(chan struct{})}
	f.streams[symbol] = s
	f.mu.Unlock()

	if err := f.serve(symbol, s); err != nil {
		f.mu.Lock()
		delete(f.streams, symbol)
		f.mu.Unlock()
		return err
	}
	f.logger.Info("Subscribed", "symbol", symbol, "interval", f.interval)
	return nil
}

func (f *BinanceFeed) serve(symbol string, s *binanceStreams) error {
	errHandler := func(err error) {
		f.logger.Warn("Binance stream error", "symbol", symbol, "error", err.Error())
	}

	klineDone, klineStop, err := futures.WsKlineServe(symbol, f.interval, func(ev *futures.WsKlineEvent) {
		if !ev.Kline.IsFinal {
			return
		}
		bar, err := barFromWsKline(symbol, ev.Kline)
		if err != nil {
			f.logger.Debug("Dropping kline", "error", err.Error())
			return
		}
		f.publish(bar)
	}, errHandler)
	if err != nil {
		return fmt.Errorf("%w: kline stream %s: %v", apperrors.ErrNetwork, symbol, err)
	}

	quoteDone, quoteStop, err := futures.WsBookTickerServe(symbol, func(ev *futures.WsBookTickerEvent) {
		tick, err := tickFromBookTicker(ev)
		if err != nil {
			f.logger.Debug("Dropping book ticker", "error", err.Error())
			return
		}
		f.publish(tick)
	}, errHandler)
	if err != nil {
		close(klineStop)
		return fmt.Errorf("%w: book ticker stream %s: %v", apperrors.ErrNetwork, symbol, err)
	}

	s.set(klineStop, quoteStop)
	go f.watch(symbol, s, klineDone, quoteDone)
	return nil
}

// watch restarts both streams when either one ends without an unsubscribe
func (f *BinanceFeed) watch(symbol string, s *binanceStreams, klineDone, quoteDone chan struct{}) {
	select {
	case <-klineDone:
	case <-quoteDone:
	case <-s.closed:
		// an unsubscribe may race a reconnect
		s.stop()
		return
	}
	s.stop()

	for {
		select {
		case <-s.closed:
			return
		case <-time.After(f.reconnectDelay):
		}
		f.logger.Warn("Reconnecting Binance streams", "symbol", symbol)
		if err := f.serve(symbol, s); err != nil {
			f.logger.Error("Reconnect failed", "symbol", symbol, "error", err.Error())
			continue
		}
		return
	}
}

func (f *BinanceFeed) Unsubscribe(symbol string) error {
	f.mu.Lock()
	s, ok := f.streams[symbol]
	delete(f.streams, symbol)
	f.mu.Unlock()
	if !ok {
		return nil
	}
	close(s.closed)
	s.stop()
	f.logger.Info("Unsubscribed", "symbol", symbol)
	return nil
}

// Close stops every stream
func (f *BinanceFeed) Close() {
	f.mu.Lock()
	symbols := make([]string, 0, len(f.streams))
	for sym := range f.streams {
		symbols = append(symbols, sym)
	}
	f.mu.Unlock()
	for _, sym := range symbols {
		_ = f.Unsubscribe(sym)
	}
}

func (f *BinanceFeed) publish(ev core.Event) {
	if err := f.sink.Publish(ev); err != nil {
		f.logger.Warn("Market data dropped", "symbol", ev.EventSymbol(), "error", err.Error())
	}
}

// GetInstrument reads symbol metadata from exchange info, cached after the
// first call
func (f *BinanceFeed) GetInstrument(ctx context.Context, symbol string) (*core.Instrument, error) {
	f.mu.Lock()
	sym, ok := f.symbols[symbol]
	f.mu.Unlock()

	if !ok {
		info, err := f.client.NewExchangeInfoService().Do(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: exchange info: %v", apperrors.ErrNetwork, err)
		}
		f.mu.Lock()
		for _, s := range info.Symbols {
			f.symbols[s.Symbol] = s
		}
		sym, ok = f.symbols[symbol]
		f.mu.Unlock()
		if !ok {
			return nil, fmt.Errorf("%w: %s", apperrors.ErrUnknownInstrument, symbol)
		}
	}
	return instrumentFromSymbol(sym)
}

// RequestBars returns up to limit recent closed klines, oldest first
func (f *BinanceFeed) RequestBars(ctx context.Context, symbol string, limit int) ([]core.Bar, error) {
	// one extra because the newest kline is usually still open
	klines, err := f.client.NewKlinesService().
		Symbol(symbol).
		Interval(f.interval).
		Limit(limit + 1).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: klines %s: %v", apperrors.ErrNetwork, symbol, err)
	}

	now := time.Now()
	bars := make([]core.Bar, 0, len(klines))
	for _, k := range klines {
		bar, err := barFromKline(symbol, k)
		if err != nil {
			return nil, err
		}
		if bar.CloseTime.After(now) {
			continue
		}
		bars = append(bars, bar)
	}
	if len(bars) > limit {
		bars = bars[len(bars)-limit:]
	}
	return bars, nil
}

func instrumentFromSymbol(s futures.Symbol) (*core.Instrument, error) {
	inst := &core.Instrument{
		Symbol:         s.Symbol,
		QuoteCurrency:  strings.ToUpper(s.QuoteAsset),
		PricePrecision: int32(s.PricePrecision),
		SizePrecision:  int32(s.QuantityPrecision),
	}
	if pf := s.PriceFilter(); pf != nil && pf.TickSize != "" {
		tick, err := decimal.NewFromString(pf.TickSize)
		if err != nil {
			return nil, fmt.Errorf("%w: tick size %q", apperrors.ErrInvalidPrice, pf.TickSize)
		}
		inst.TickSize = tick
		// the tick size is authoritative when it is finer than the advertised precision
		if places := tradingutils.DecimalPlaces(tick); places > inst.PricePrecision {
			inst.PricePrecision = places
		}
	}
	if !inst.TickSize.IsPositive() {
		inst.TickSize = decimal.New(1, -inst.PricePrecision)
	}
	return inst, nil
}

func barFromKline(symbol string, k *futures.Kline) (core.Bar, error) {
	return parseBar(symbol, k.Open, k.High, k.Low, k.Close, k.Volume, k.OpenTime, k.CloseTime)
}

func barFromWsKline(symbol string, k futures.WsKline) (core.Bar, error) {
	return parseBar(symbol, k.Open, k.High, k.Low, k.Close, k.Volume, k.StartTime, k.EndTime)
}

func parseBar(symbol, o, h, l, c, v string, openMs, closeMs int64) (core.Bar, error) {
	var vals [5]decimal.Decimal
	for i, s := range []string{o, h, l, c, v} {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return core.Bar{}, fmt.Errorf("%w: kline field %q", apperrors.ErrInvalidPrice, s)
		}
		vals[i] = d
	}
	return core.Bar{
		Symbol:    symbol,
		Open:      vals[0],
		High:      vals[1],
		Low:       vals[2],
		Close:     vals[3],
		Volume:    vals[4],
		OpenTime:  time.UnixMilli(openMs).UTC(),
		CloseTime: time.UnixMilli(closeMs).UTC(),
	}, nil
}

func tickFromBookTicker(ev *futures.WsBookTickerEvent) (core.Tick, error) {
	var vals [4]decimal.Decimal
	for i, s := range []string{ev.BestBidPrice, ev.BestBidQty, ev.BestAskPrice, ev.BestAskQty} {
		v, err := decimal.NewFromString(s)
		if err != nil {
			return core.Tick{}, fmt.Errorf("%w: book ticker field %q", apperrors.ErrInvalidPrice, s)
		}
		vals[i] = v
	}
	ts := ev.Time
	if ts == 0 {
		ts = ev.TransactionTime
	}
	return core.Tick{
		Symbol:    ev.Symbol,
		Bid:       vals[0],
		BidSize:   vals[1],
		Ask:       vals[2],
		AskSize:   vals[3],
		Timestamp: time.UnixMilli(ts).UTC(),
	}, nil
}

var (
	_ core.IMarketDataFeed     = (*BinanceFeed)(nil)
	_ core.IInstrumentProvider = (*BinanceFeed)(nil)
	_ core.IHistoryProvider    = (*BinanceFeed)(nil)
)
