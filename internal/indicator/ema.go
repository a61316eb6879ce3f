// Package indicator implements the streaming bar indicators the strategy consumes
package indicator

import (
	"fmt"

	"trend_follower/internal/core"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// EMA is an exponential moving average of bar closes.
// It seeds with the first close and is initialized after period updates.
type EMA struct {
	period int
	alpha  decimal.Decimal
	value  decimal.Decimal
	count  int
}

// NewEMA creates an EMA with smoothing 2/(period+1)
func NewEMA(period int) *EMA {
	if period <= 0 {
		period = 1
	}
	return &EMA{
		period: period,
		alpha:  two.Div(decimal.NewFromInt(int64(period + 1))),
	}
}

func (e *EMA) Name() string {
	return fmt.Sprintf("EMA(%d)", e.period)
}

func (e *EMA) Update(bar core.Bar) {
	e.UpdateRaw(bar.Close)
}

// UpdateRaw feeds a single price
func (e *EMA) UpdateRaw(price decimal.Decimal) {
	if e.count == 0 {
		e.value = price
	} else {
		// value += alpha * (price - value)
		e.value = e.value.Add(e.alpha.Mul(price.Sub(e.value)))
	}
	e.count++
}

func (e *EMA) Value() decimal.Decimal { return e.value }

func (e *EMA) Initialized() bool { return e.count >= e.period }

func (e *EMA) Count() int { return e.count }

func (e *EMA) Period() int { return e.period }

func (e *EMA) Reset() {
	e.value = decimal.Zero
	e.count = 0
}

var _ core.IIndicator = (*EMA)(nil)
