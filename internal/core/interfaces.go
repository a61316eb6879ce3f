// Package core defines the core interfaces for the trend follower
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Clock supplies the current time
type Clock interface {
	Now() time.Time
}

// IIndicator is a streaming indicator updated once per closed bar
type IIndicator interface {
	Name() string
	Update(bar Bar)
	Value() decimal.Decimal
	Initialized() bool
	Count() int
	Reset()
}

// ISpreadAnalyzer tracks the quoted spread of an instrument
type ISpreadAnalyzer interface {
	Update(tick Tick)
	CalculateMetrics()
	AverageSpread() decimal.Decimal
	Initialized() bool
	SetPrecision(precision int32)
	Reset()
}

// ILiquidityAnalyzer derives a liquidity status from spread and volatility
type ILiquidityAnalyzer interface {
	Update(averageSpread, volatility decimal.Decimal)
	Value() decimal.Decimal
	IsLiquid() bool
	Reset()
}

// IRiskSizer converts a risk budget into an order quantity
type IRiskSizer interface {
	Calculate(
		equity decimal.Decimal,
		exchangeRate decimal.Decimal,
		riskBP decimal.Decimal,
		priceEntry decimal.Decimal,
		priceStopLoss decimal.Decimal,
		commissionRateBP decimal.Decimal,
		hardLimit decimal.Decimal,
		units int,
		unitBatchSize decimal.Decimal,
	) decimal.Decimal
}

// IOrderGateway submits and modifies orders at the venue
type IOrderGateway interface {
	Submit(ctx context.Context, bracket *BracketOrder, positionID string) error
	Modify(ctx context.Context, order *Order, price decimal.Decimal) error
}

// IPositionTracker is the query surface for one instrument's order/position state
type IPositionTracker interface {
	State() PositionState
	IsFlat() bool
	EntryOrdersCount() int
	WorkingStops() []*Order
}

// IAccount answers account inquiries
type IAccount interface {
	Currency() string
	FreeEquity() decimal.Decimal
	ExchangeRate(quoteCurrency string) (decimal.Decimal, error)
	Apply(event AccountEvent)
}

// IInstrumentProvider retrieves instrument metadata
type IInstrumentProvider interface {
	GetInstrument(ctx context.Context, symbol string) (*Instrument, error)
}

// IMarketDataFeed manages market data subscriptions
type IMarketDataFeed interface {
	Subscribe(ctx context.Context, symbol string) error
	Unsubscribe(symbol string) error
}

// IHistoryProvider serves recent closed bars for indicator warm-up
type IHistoryProvider interface {
	RequestBars(ctx context.Context, symbol string, limit int) ([]Bar, error)
}

// IEventSink accepts events for the single-threaded engine loop
type IEventSink interface {
	Publish(event Event) error
}

// IStrategyEventPublisher is the host's generic event channel
type IStrategyEventPublisher interface {
	Publish(event StrategyEvent)
}

// IJournal records strategy events for audit
type IJournal interface {
	Record(ctx context.Context, event StrategyEvent) error
	Close() error
}

// IHealthMonitor defines the interface for health monitoring
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
