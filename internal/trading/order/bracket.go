// Package order builds, identifies and executes bracket orders
package order

import (
	"fmt"

	"trend_follower/internal/core"
	apperrors "trend_follower/pkg/errors"

	"github.com/shopspring/decimal"
)

// DefaultStopMultiple is the ATR multiple used for stop distances
var DefaultStopMultiple = decimal.NewFromInt(2)

// Prices are the three quantized bracket prices
type Prices struct {
	Entry      decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
}

// Risk is the entry-to-stop distance
func (p Prices) Risk() decimal.Decimal {
	return p.Entry.Sub(p.StopLoss).Abs()
}

// Reward is the entry-to-target distance
func (p Prices) Reward() decimal.Decimal {
	return p.TakeProfit.Sub(p.Entry).Abs()
}

// LongStop is the stop price protecting a long position: low - atr*multiple
func LongStop(low, atr, multiple decimal.Decimal) decimal.Decimal {
	return low.Sub(atr.Mul(multiple))
}

// ShortStop is the stop price protecting a short position: high + atr*multiple + spread
func ShortStop(high, atr, multiple, avgSpread decimal.Decimal) decimal.Decimal {
	return high.Add(atr.Mul(multiple)).Add(avgSpread)
}

// BracketBuilder computes entry, stop and target prices from a closed bar
type BracketBuilder struct {
	stopMultiple decimal.Decimal
}

func NewBracketBuilder(stopMultiple decimal.Decimal) *BracketBuilder {
	if !stopMultiple.IsPositive() {
		stopMultiple = DefaultStopMultiple
	}
	return &BracketBuilder{stopMultiple: stopMultiple}
}

// StopMultiple returns the configured ATR multiple
func (b *BracketBuilder) StopMultiple() decimal.Decimal {
	return b.stopMultiple
}

// Build prices a bracket for bias.
//
//	LONG:  entry = high + tickBuffer + avgSpread   stop = low - atr*m
//	SHORT: entry = low - tickBuffer                stop = high + atr*m + avgSpread
//
// Entry and stop are quantized first and the target is placed at the same
// distance on the other side, so the 1:1 ratio survives rounding.
func (b *BracketBuilder) Build(
	bias core.Bias,
	bar core.Bar,
	atr decimal.Decimal,
	avgSpread decimal.Decimal,
	tickBuffer decimal.Decimal,
	instrument *core.Instrument,
) (Prices, error) {
	if instrument == nil {
		return Prices{}, apperrors.ErrInstrumentNotLoaded
	}
	if !atr.IsPositive() {
		return Prices{}, fmt.Errorf("%w: atr %s", apperrors.ErrInvalidPrice, atr)
	}

	var p Prices
	switch bias {
	case core.BiasLong:
		p.Entry = instrument.MakePrice(bar.High.Add(tickBuffer).Add(avgSpread))
		p.StopLoss = instrument.MakePrice(LongStop(bar.Low, atr, b.stopMultiple))
		p.TakeProfit = p.Entry.Add(p.Entry.Sub(p.StopLoss))
	case core.BiasShort:
		p.Entry = instrument.MakePrice(bar.Low.Sub(tickBuffer))
		p.StopLoss = instrument.MakePrice(ShortStop(bar.High, atr, b.stopMultiple, avgSpread))
		p.TakeProfit = p.Entry.Sub(p.StopLoss.Sub(p.Entry))
	default:
		return Prices{}, fmt.Errorf("%w: %s", apperrors.ErrInvalidSignal, bias)
	}

	if !p.Risk().IsPositive() {
		return Prices{}, fmt.Errorf("%w: zero stop distance at %s", apperrors.ErrInvalidPrice, p.Entry)
	}
	if !p.TakeProfit.IsPositive() || !p.StopLoss.IsPositive() {
		return Prices{}, fmt.Errorf("%w: stop %s target %s", apperrors.ErrInvalidPrice, p.StopLoss, p.TakeProfit)
	}
	return p, nil
}
