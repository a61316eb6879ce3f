package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"trend_follower/internal/config"
	"trend_follower/internal/core"
	apperrors "trend_follower/pkg/errors"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// relayMessage is the JSON envelope spoken by the market data relay.
// Timestamps are unix milliseconds.
type relayMessage struct {
	Type   string `json:"type"`
	Symbol string `json:"symbol"`

	Bid     decimal.Decimal `json:"bid,omitempty"`
	Ask     decimal.Decimal `json:"ask,omitempty"`
	BidSize decimal.Decimal `json:"bid_size,omitempty"`
	AskSize decimal.Decimal `json:"ask_size,omitempty"`

	Open      decimal.Decimal `json:"open,omitempty"`
	High      decimal.Decimal `json:"high,omitempty"`
	Low       decimal.Decimal `json:"low,omitempty"`
	Close     decimal.Decimal `json:"close,omitempty"`
	Volume    decimal.Decimal `json:"volume,omitempty"`
	OpenTime  int64           `json:"open_time,omitempty"`
	CloseTime int64           `json:"close_time,omitempty"`

	QuoteCurrency  string          `json:"quote_currency,omitempty"`
	TickSize       decimal.Decimal `json:"tick_size,omitempty"`
	PricePrecision int32           `json:"price_precision,omitempty"`
	SizePrecision  int32           `json:"size_precision,omitempty"`

	Timestamp int64  `json:"ts,omitempty"`
	Error     string `json:"error,omitempty"`
}

type relayCommand struct {
	Op     string `json:"op"`
	Symbol string `json:"symbol"`
}

const (
	opSubscribe   = "subscribe"
	opUnsubscribe = "unsubscribe"
)

func decodeRelayMessage(data []byte) (core.Event, error) {
	var msg relayMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode relay message: %w", err)
	}
	switch msg.Type {
	case "tick":
		return core.Tick{
			Symbol:    msg.Symbol,
			Bid:       msg.Bid,
			Ask:       msg.Ask,
			BidSize:   msg.BidSize,
			AskSize:   msg.AskSize,
			Timestamp: time.UnixMilli(msg.Timestamp).UTC(),
		}, nil
	case "bar":
		return core.Bar{
			Symbol:    msg.Symbol,
			Open:      msg.Open,
			High:      msg.High,
			Low:       msg.Low,
			Close:     msg.Close,
			Volume:    msg.Volume,
			OpenTime:  time.UnixMilli(msg.OpenTime).UTC(),
			CloseTime: time.UnixMilli(msg.CloseTime).UTC(),
		}, nil
	case "instrument":
		return core.Instrument{
			Symbol:         msg.Symbol,
			QuoteCurrency:  msg.QuoteCurrency,
			TickSize:       msg.TickSize,
			PricePrecision: msg.PricePrecision,
			SizePrecision:  msg.SizePrecision,
		}, nil
	case "error":
		return nil, fmt.Errorf("relay error for %s: %s", msg.Symbol, msg.Error)
	default:
		return nil, fmt.Errorf("unknown relay message type %q", msg.Type)
	}
}

// RelayFeed consumes a JSON websocket relay. Subscriptions are replayed after
// every reconnect, and instrument messages are cached for GetInstrument.
type RelayFeed struct {
	url          string
	sink         core.IEventSink
	pingInterval time.Duration
	dial         failsafe.Executor[*websocket.Conn]
	logger       core.ILogger

	mu          sync.Mutex
	writeMu     sync.Mutex
	conn        *websocket.Conn
	closed      bool
	subscribed  map[string]bool
	instruments map[string]core.Instrument

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRelayFeed(cfg config.RelayFeedConfig, sink core.IEventSink, logger core.ILogger) *RelayFeed {
	attempts := cfg.DialAttempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := time.Duration(cfg.DialBackoffMillis) * time.Millisecond
	if backoff <= 0 {
		backoff = 500 * time.Millisecond
	}
	ping := time.Duration(cfg.PingIntervalSeconds) * time.Second
	if ping <= 0 {
		ping = 15 * time.Second
	}

	log := logger.WithField("component", "relay_feed")
	retryPolicy := retrypolicy.NewBuilder[*websocket.Conn]().
		WithBackoff(backoff, 10*backoff).
		WithMaxRetries(attempts - 1).
		Build()

	return &RelayFeed{
		url:          cfg.URL,
		sink:         sink,
		pingInterval: ping,
		dial:         failsafe.With[*websocket.Conn](retryPolicy),
		logger:       log,
		subscribed:   make(map[string]bool),
		instruments:  make(map[string]core.Instrument),
	}
}

// Connect dials the relay and starts the read loop
func (f *RelayFeed) Connect(ctx context.Context) error {
	conn, err := f.connect(ctx)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(ctx)
	f.mu.Lock()
	f.conn = conn
	f.cancel = cancel
	f.mu.Unlock()

	f.wg.Add(2)
	go f.readLoop(loopCtx)
	go f.pingLoop(loopCtx)
	f.logger.Info("Connected to relay", "url", f.url)
	return nil
}

func (f *RelayFeed) connect(ctx context.Context) (*websocket.Conn, error) {
	conn, err := f.dial.WithContext(ctx).GetWithExecution(func(exec failsafe.Execution[*websocket.Conn]) (*websocket.Conn, error) {
		if exec.Attempts() > 1 {
			f.logger.Warn("Retrying relay dial", "attempt", exec.Attempts())
		}
		c, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", apperrors.ErrNetwork, f.url, err)
	}
	return conn, nil
}

func (f *RelayFeed) readLoop(ctx context.Context) {
	defer f.wg.Done()
	for {
		f.mu.Lock()
		conn := f.conn
		f.mu.Unlock()

		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			f.logger.Warn("Relay connection lost", "error", err.Error())
			if err := f.reconnect(ctx); err != nil {
				if ctx.Err() == nil {
					f.logger.Error("Relay reconnect failed", "error", err.Error())
				}
				return
			}
			continue
		}

		ev, err := decodeRelayMessage(data)
		if err != nil {
			f.logger.Warn("Ignoring relay message", "error", err.Error())
			continue
		}
		if inst, ok := ev.(core.Instrument); ok {
			f.mu.Lock()
			f.instruments[inst.Symbol] = inst
			f.mu.Unlock()
		}
		if err := f.sink.Publish(ev); err != nil {
			f.logger.Warn("Market data dropped", "symbol", ev.EventSymbol(), "error", err.Error())
		}
	}
}

func (f *RelayFeed) reconnect(ctx context.Context) error {
	conn, err := f.connect(ctx)
	if err != nil {
		return err
	}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		_ = conn.Close()
		return context.Canceled
	}
	old := f.conn
	f.conn = conn
	symbols := make([]string, 0, len(f.subscribed))
	for sym := range f.subscribed {
		symbols = append(symbols, sym)
	}
	f.mu.Unlock()
	_ = old.Close()

	for _, sym := range symbols {
		if err := f.send(relayCommand{Op: opSubscribe, Symbol: sym}); err != nil {
			return err
		}
	}
	f.logger.Info("Reconnected to relay", "subscriptions", len(symbols))
	return nil
}

func (f *RelayFeed) pingLoop(ctx context.Context) {
	defer f.wg.Done()
	ticker := time.NewTicker(f.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.mu.Lock()
			conn := f.conn
			f.mu.Unlock()
			f.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			f.writeMu.Unlock()
			if err != nil {
				f.logger.Debug("Relay ping failed", "error", err.Error())
			}
		}
	}
}

func (f *RelayFeed) send(cmd relayCommand) error {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: relay not connected", apperrors.ErrNetwork)
	}
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("%w: %s %s: %v", apperrors.ErrNetwork, cmd.Op, cmd.Symbol, err)
	}
	return nil
}

// Subscribe asks the relay for symbol. The subscription is recorded first so
// that a reconnect racing the request still replays it.
func (f *RelayFeed) Subscribe(ctx context.Context, symbol string) error {
	f.mu.Lock()
	f.subscribed[symbol] = true
	f.mu.Unlock()
	if err := f.send(relayCommand{Op: opSubscribe, Symbol: symbol}); err != nil {
		f.mu.Lock()
		delete(f.subscribed, symbol)
		f.mu.Unlock()
		return err
	}
	return nil
}

func (f *RelayFeed) Unsubscribe(symbol string) error {
	f.mu.Lock()
	delete(f.subscribed, symbol)
	f.mu.Unlock()
	err := f.send(relayCommand{Op: opUnsubscribe, Symbol: symbol})
	if errors.Is(err, apperrors.ErrNetwork) {
		// nothing to unsubscribe from on a dead connection
		return nil
	}
	return err
}

// GetInstrument returns the last instrument the relay pushed for symbol
func (f *RelayFeed) GetInstrument(ctx context.Context, symbol string) (*core.Instrument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instruments[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s not yet published by relay", apperrors.ErrUnknownInstrument, symbol)
	}
	return &inst, nil
}

// Close stops the loops and closes the connection
func (f *RelayFeed) Close() error {
	f.mu.Lock()
	cancel, conn := f.cancel, f.conn
	if cancel == nil || f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.mu.Unlock()
	cancel()
	var err error
	if conn != nil {
		f.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		f.writeMu.Unlock()
		err = conn.Close()
	}
	f.wg.Wait()
	return err
}

var (
	_ core.IMarketDataFeed     = (*RelayFeed)(nil)
	_ core.IInstrumentProvider = (*RelayFeed)(nil)
)
