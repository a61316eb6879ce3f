package risk

import (
	"fmt"

	"trend_follower/internal/core"

	"github.com/shopspring/decimal"
)

// SizingParams are the fixed sizer arguments that do not change per signal
type SizingParams struct {
	CommissionBP  decimal.Decimal
	HardLimit     decimal.Decimal
	Units         int
	UnitBatchSize decimal.Decimal
}

// DefaultSizingParams returns commission 0.15bp, hard limit 20,000,000, one unit in batches of 10,000
func DefaultSizingParams() SizingParams {
	return SizingParams{
		CommissionBP:  decimal.RequireFromString("0.15"),
		HardLimit:     decimal.NewFromInt(20000000),
		Units:         1,
		UnitBatchSize: decimal.NewFromInt(10000),
	}
}

// Decision is the outcome of the sizing gate
type Decision struct {
	Approved bool
	Quantity decimal.Decimal
	Reason   string
}

// Gate approves an entry only when the sizer returns a positive quantity
type Gate struct {
	sizer  core.IRiskSizer
	params SizingParams
}

func NewGate(sizer core.IRiskSizer, params SizingParams) *Gate {
	return &Gate{sizer: sizer, params: params}
}

// Decide sizes one signal. A rejection carries a reason and is never retried.
func (g *Gate) Decide(side core.OrderSide, equity, exchangeRate, riskBP, entry, stop decimal.Decimal) Decision {
	qty := g.sizer.Calculate(
		equity,
		exchangeRate,
		riskBP,
		entry,
		stop,
		g.params.CommissionBP,
		g.params.HardLimit,
		g.params.Units,
		g.params.UnitBatchSize,
	)
	if !qty.IsPositive() {
		return Decision{
			Quantity: decimal.Zero,
			Reason:   fmt.Sprintf("insufficient equity for %s signal", side),
		}
	}
	return Decision{Approved: true, Quantity: qty}
}
