// Package risk converts risk budgets into order quantities and gates entries on the result
package risk

import (
	"trend_follower/internal/core"
	"trend_follower/pkg/tradingutils"

	"github.com/shopspring/decimal"
)

// FixedRiskSizer sizes a position so that a stop-out loses a fixed share of equity
type FixedRiskSizer struct {
	sizePrecision int32
}

// NewFixedRiskSizer creates a sizer that truncates quantities to sizePrecision decimals
func NewFixedRiskSizer(sizePrecision int32) *FixedRiskSizer {
	return &FixedRiskSizer{sizePrecision: sizePrecision}
}

// Calculate returns the quantity to trade, or zero when nothing can be risked.
//
//	riskable = equity*riskBP/10000 - 2 * (equity*riskBP/10000)*commissionBP/10000
//	size     = riskable / (|entry - stop| * exchangeRate)
//
// size is capped at hardLimit (when positive), split across units and floored
// to a multiple of unitBatchSize (when positive).
func (s *FixedRiskSizer) Calculate(
	equity decimal.Decimal,
	exchangeRate decimal.Decimal,
	riskBP decimal.Decimal,
	priceEntry decimal.Decimal,
	priceStopLoss decimal.Decimal,
	commissionRateBP decimal.Decimal,
	hardLimit decimal.Decimal,
	units int,
	unitBatchSize decimal.Decimal,
) decimal.Decimal {
	if !equity.IsPositive() || !exchangeRate.IsPositive() || units <= 0 {
		return decimal.Zero
	}

	riskPoints := tradingutils.Distance(priceEntry, priceStopLoss)
	if !riskPoints.IsPositive() {
		return decimal.Zero
	}

	riskable := s.riskableMoney(equity, riskBP, commissionRateBP)
	if !riskable.IsPositive() {
		return decimal.Zero
	}

	size := riskable.Div(riskPoints.Mul(exchangeRate))
	if hardLimit.IsPositive() && size.GreaterThan(hardLimit) {
		size = hardLimit
	}

	size = size.Div(decimal.NewFromInt(int64(units)))
	size = tradingutils.FloorToMultiple(size, unitBatchSize)
	size = size.Truncate(s.sizePrecision)

	if size.IsNegative() {
		return decimal.Zero
	}
	return size
}

// commission is charged on both the entry and the exit
func (s *FixedRiskSizer) riskableMoney(equity, riskBP, commissionBP decimal.Decimal) decimal.Decimal {
	risk := tradingutils.BasisPoints(equity, riskBP)
	commission := tradingutils.BasisPoints(risk, commissionBP).Mul(decimal.NewFromInt(2))
	return risk.Sub(commission)
}

var _ core.IRiskSizer = (*FixedRiskSizer)(nil)
