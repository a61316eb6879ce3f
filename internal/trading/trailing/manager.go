// Package trailing ratchets working stop-loss orders toward the market
package trailing

import (
	"trend_follower/internal/core"
	"trend_follower/internal/trading/order"

	"github.com/shopspring/decimal"
)

// StopKind says which position a stop protects
type StopKind int

const (
	LongStop  StopKind = iota + 1 // sell stop under a long
	ShortStop                     // buy stop over a short
)

func (k StopKind) String() string {
	switch k {
	case LongStop:
		return "LONG_STOP"
	case ShortStop:
		return "SHORT_STOP"
	default:
		return "UNKNOWN"
	}
}

// Stop is a working stop-loss tagged with the position it protects
type Stop struct {
	Kind  StopKind
	Order *core.Order
}

// Classify tags a working stop by its side
func Classify(o *core.Order) (Stop, bool) {
	switch o.Side {
	case core.OrderSideSell:
		return Stop{Kind: LongStop, Order: o}, true
	case core.OrderSideBuy:
		return Stop{Kind: ShortStop, Order: o}, true
	default:
		return Stop{}, false
	}
}

// Modification is a stop move to send to the venue
type Modification struct {
	Stop Stop
	From decimal.Decimal
	To   decimal.Decimal
}

// Manager computes trailing stop moves once per closed bar
type Manager struct {
	multiple decimal.Decimal
}

func NewManager(multiple decimal.Decimal) *Manager {
	if !multiple.IsPositive() {
		multiple = order.DefaultStopMultiple
	}
	return &Manager{multiple: multiple}
}

// Candidate is the quantized ideal stop price for s on bar
func (m *Manager) Candidate(s Stop, bar core.Bar, atr, avgSpread decimal.Decimal, instrument *core.Instrument) decimal.Decimal {
	var price decimal.Decimal
	switch s.Kind {
	case LongStop:
		price = order.LongStop(bar.Low, atr, m.multiple)
	case ShortStop:
		price = order.ShortStop(bar.High, atr, m.multiple, avgSpread)
	}
	return instrument.MakePrice(price)
}

// Adjust returns the stops whose candidate reduces risk. Long stops only move
// up and short stops only move down; an unchanged candidate yields nothing.
func (m *Manager) Adjust(stops []*core.Order, bar core.Bar, atr, avgSpread decimal.Decimal, instrument *core.Instrument) []Modification {
	if instrument == nil || !atr.IsPositive() {
		return nil
	}

	var mods []Modification
	for _, o := range stops {
		s, ok := Classify(o)
		if !ok {
			continue
		}
		candidate := m.Candidate(s, bar, atr, avgSpread, instrument)
		if !candidate.IsPositive() {
			continue
		}

		tighter := false
		switch s.Kind {
		case LongStop:
			tighter = candidate.GreaterThan(o.Price)
		case ShortStop:
			tighter = candidate.LessThan(o.Price)
		}
		if tighter {
			mods = append(mods, Modification{Stop: s, From: o.Price, To: candidate})
		}
	}
	return mods
}
