package indicator

import (
	"fmt"

	"trend_follower/internal/core"

	"github.com/shopspring/decimal"
)

// ATR is the simple average of true range over the last period bars.
// The first bar has no previous close, so its true range is high - low.
type ATR struct {
	period    int
	ranges    []decimal.Decimal
	next      int
	sum       decimal.Decimal
	prevClose decimal.Decimal
	hasPrev   bool
	count     int
}

// NewATR creates an ATR over period bars
func NewATR(period int) *ATR {
	if period <= 0 {
		period = 1
	}
	return &ATR{
		period: period,
		ranges: make([]decimal.Decimal, 0, period),
	}
}

func (a *ATR) Name() string {
	return fmt.Sprintf("ATR(%d)", a.period)
}

func (a *ATR) Update(bar core.Bar) {
	tr := TrueRange(bar, a.prevClose, a.hasPrev)
	a.prevClose = bar.Close
	a.hasPrev = true

	if len(a.ranges) < a.period {
		a.ranges = append(a.ranges, tr)
	} else {
		a.sum = a.sum.Sub(a.ranges[a.next])
		a.ranges[a.next] = tr
		a.next = (a.next + 1) % a.period
	}
	a.sum = a.sum.Add(tr)
	a.count++
}

// Value returns the average of the ranges collected so far
func (a *ATR) Value() decimal.Decimal {
	if len(a.ranges) == 0 {
		return decimal.Zero
	}
	return a.sum.Div(decimal.NewFromInt(int64(len(a.ranges))))
}

func (a *ATR) Initialized() bool { return a.count >= a.period }

func (a *ATR) Count() int { return a.count }

func (a *ATR) Reset() {
	a.ranges = a.ranges[:0]
	a.next = 0
	a.sum = decimal.Zero
	a.prevClose = decimal.Zero
	a.hasPrev = false
	a.count = 0
}

// TrueRange = max(high-low, |high-prevClose|, |low-prevClose|)
func TrueRange(bar core.Bar, prevClose decimal.Decimal, hasPrev bool) decimal.Decimal {
	tr := bar.High.Sub(bar.Low)
	if !hasPrev {
		return tr
	}
	if v := bar.High.Sub(prevClose).Abs(); v.GreaterThan(tr) {
		tr = v
	}
	if v := bar.Low.Sub(prevClose).Abs(); v.GreaterThan(tr) {
		tr = v
	}
	return tr
}

var _ core.IIndicator = (*ATR)(nil)
