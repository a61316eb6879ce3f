package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide is the direction of an order
type OrderSide int

const (
	OrderSideUnspecified OrderSide = iota
	OrderSideBuy
	OrderSideSell
)

func (s OrderSide) String() string {
	switch s {
	case OrderSideBuy:
		return "BUY"
	case OrderSideSell:
		return "SELL"
	default:
		return "UNSPECIFIED"
	}
}

// Opposite returns the side that closes a position opened with s
func (s OrderSide) Opposite() OrderSide {
	switch s {
	case OrderSideBuy:
		return OrderSideSell
	case OrderSideSell:
		return OrderSideBuy
	default:
		return OrderSideUnspecified
	}
}

// OrderType is the execution style of an order
type OrderType int

const (
	OrderTypeMarket OrderType = iota + 1
	OrderTypeStopMarket
	OrderTypeLimit
)

func (t OrderType) String() string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeStopMarket:
		return "STOP_MARKET"
	case OrderTypeLimit:
		return "LIMIT"
	default:
		return "UNKNOWN"
	}
}

// TimeInForce controls how long an order stays working
type TimeInForce int

const (
	TimeInForceGTC TimeInForce = iota + 1
	TimeInForceGTD
)

func (t TimeInForce) String() string {
	if t == TimeInForceGTD {
		return "GTD"
	}
	return "GTC"
}

// OrderStatus is the venue-side lifecycle status of an order
type OrderStatus int

const (
	OrderStatusInitialized OrderStatus = iota
	OrderStatusSubmitted
	OrderStatusAccepted
	OrderStatusWorking
	OrderStatusFilled
	OrderStatusCancelled
	OrderStatusExpired
	OrderStatusRejected
)

func (s OrderStatus) String() string {
	switch s {
	case OrderStatusSubmitted:
		return "SUBMITTED"
	case OrderStatusAccepted:
		return "ACCEPTED"
	case OrderStatusWorking:
		return "WORKING"
	case OrderStatusFilled:
		return "FILLED"
	case OrderStatusCancelled:
		return "CANCELLED"
	case OrderStatusExpired:
		return "EXPIRED"
	case OrderStatusRejected:
		return "REJECTED"
	default:
		return "INITIALIZED"
	}
}

// IsClosed reports whether the order can no longer be filled
func (s OrderStatus) IsClosed() bool {
	return s == OrderStatusFilled || s == OrderStatusCancelled || s == OrderStatusExpired || s == OrderStatusRejected
}

// Instrument describes a tradable symbol
type Instrument struct {
	Symbol         string
	QuoteCurrency  string
	TickSize       decimal.Decimal
	PricePrecision int32
	SizePrecision  int32
}

// MakePrice quantizes a price to the instrument's price precision
func (i *Instrument) MakePrice(price decimal.Decimal) decimal.Decimal {
	return price.Round(i.PricePrecision)
}

// MakeQuantity truncates a quantity to the instrument's size precision
func (i *Instrument) MakeQuantity(qty decimal.Decimal) decimal.Decimal {
	return qty.Truncate(i.SizePrecision)
}

// Bar is a closed OHLC aggregate for one interval
type Bar struct {
	Symbol    string
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
	OpenTime  time.Time
	CloseTime time.Time
}

// Tick is a top-of-book quote observation
type Tick struct {
	Symbol    string
	Bid       decimal.Decimal
	Ask       decimal.Decimal
	BidSize   decimal.Decimal
	AskSize   decimal.Decimal
	Timestamp time.Time
}

// Spread returns ask minus bid
func (t Tick) Spread() decimal.Decimal {
	return t.Ask.Sub(t.Bid)
}

// Mid returns the mid price
func (t Tick) Mid() decimal.Decimal {
	return t.Ask.Add(t.Bid).Div(decimal.NewFromInt(2))
}

// Order is a single order leg
type Order struct {
	ID          string
	BracketID   string
	Symbol      string
	Side        OrderSide
	Type        OrderType
	Quantity    decimal.Decimal
	Price       decimal.Decimal // trigger price for stops, limit price for limits
	TimeInForce TimeInForce
	ExpireTime  time.Time
	Label       string
	Status      OrderStatus
}

// Clone returns a copy of the order
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	return &c
}

// BracketOrder is an entry with contingent stop-loss and take-profit legs
type BracketOrder struct {
	ID         string
	Entry      *Order
	StopLoss   *Order
	TakeProfit *Order
}

// Legs returns the three legs in submission order
func (b *BracketOrder) Legs() []*Order {
	return []*Order{b.Entry, b.StopLoss, b.TakeProfit}
}

// Bias is the directional output of the signal evaluator
type Bias int

const (
	BiasNone Bias = iota
	BiasLong
	BiasShort
)

func (b Bias) String() string {
	switch b {
	case BiasLong:
		return "LONG"
	case BiasShort:
		return "SHORT"
	default:
		return "NONE"
	}
}

// EntrySide maps a bias onto the side of its entry order
func (b Bias) EntrySide() OrderSide {
	switch b {
	case BiasLong:
		return OrderSideBuy
	case BiasShort:
		return OrderSideSell
	default:
		return OrderSideUnspecified
	}
}

// PositionState is the per-instrument lifecycle state
type PositionState int

const (
	StateFlat PositionState = iota
	StatePendingEntry
	StatePositionOpen
)

func (s PositionState) String() string {
	switch s {
	case StatePendingEntry:
		return "PENDING_ENTRY"
	case StatePositionOpen:
		return "POSITION_OPEN"
	default:
		return "FLAT"
	}
}

// Event is anything the engine can dispatch to a strategy
type Event interface {
	EventSymbol() string
	EventTime() time.Time
}

func (t Tick) EventSymbol() string       { return t.Symbol }
func (t Tick) EventTime() time.Time      { return t.Timestamp }
func (b Bar) EventSymbol() string        { return b.Symbol }
func (b Bar) EventTime() time.Time       { return b.CloseTime }
func (i Instrument) EventSymbol() string { return i.Symbol }
func (i Instrument) EventTime() time.Time {
	return time.Time{}
}

// OrderEventKind enumerates order and position lifecycle events
type OrderEventKind int

const (
	OrderSubmitted OrderEventKind = iota + 1
	OrderAccepted
	OrderRejected
	OrderFilled
	OrderCancelled
	OrderExpired
	OrderModified
	PositionClosed
)

func (k OrderEventKind) String() string {
	switch k {
	case OrderSubmitted:
		return "SUBMITTED"
	case OrderAccepted:
		return "ACCEPTED"
	case OrderRejected:
		return "REJECTED"
	case OrderFilled:
		return "FILLED"
	case OrderCancelled:
		return "CANCELLED"
	case OrderExpired:
		return "EXPIRED"
	case OrderModified:
		return "MODIFIED"
	case PositionClosed:
		return "POSITION_CLOSED"
	default:
		return "UNKNOWN"
	}
}

// OrderEvent is a lifecycle report from the order system
type OrderEvent struct {
	Kind       OrderEventKind
	Symbol     string
	OrderID    string
	BracketID  string
	PositionID string
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Reason     string
	Timestamp  time.Time
}

func (e OrderEvent) EventSymbol() string  { return e.Symbol }
func (e OrderEvent) EventTime() time.Time { return e.Timestamp }

// AccountEvent reports the current account equity
type AccountEvent struct {
	Currency   string
	FreeEquity decimal.Decimal
	Timestamp  time.Time
}

// EventSymbol is empty: account events are delivered to every strategy
func (e AccountEvent) EventSymbol() string  { return "" }
func (e AccountEvent) EventTime() time.Time { return e.Timestamp }

// StrategyEventKind classifies what a strategy reports to its host
type StrategyEventKind string

const (
	EventEntrySubmitted   StrategyEventKind = "entry_submitted"
	EventSubmissionFailed StrategyEventKind = "submission_failed"
	EventSizingRejected   StrategyEventKind = "sizing_rejected"
	EventStopModified     StrategyEventKind = "stop_modified"
	EventModifyFailed     StrategyEventKind = "modify_failed"
	EventStateChanged     StrategyEventKind = "state_changed"
	EventUnprotected      StrategyEventKind = "unprotected_position"
)

// StrategyEvent is published on the host's generic event channel
type StrategyEvent struct {
	Kind       StrategyEventKind
	Symbol     string
	OrderID    string
	BracketID  string
	PositionID string
	Side       OrderSide
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Detail     string
	Timestamp  time.Time
}
