package analytics

import (
	"trend_follower/internal/core"

	"github.com/shopspring/decimal"
)

// DefaultLiquidityThreshold is the minimum volatility-to-spread ratio considered liquid
var DefaultLiquidityThreshold = decimal.NewFromInt(2)

// LiquidityAnalyzer rates a market by volatility / average spread
type LiquidityAnalyzer struct {
	threshold   decimal.Decimal
	value       decimal.Decimal
	liquid      bool
	initialized bool
}

func NewLiquidityAnalyzer(threshold decimal.Decimal) *LiquidityAnalyzer {
	if !threshold.IsPositive() {
		threshold = DefaultLiquidityThreshold
	}
	return &LiquidityAnalyzer{threshold: threshold}
}

// Update recomputes the ratio. A zero spread costs nothing to cross and counts as liquid.
func (l *LiquidityAnalyzer) Update(averageSpread, volatility decimal.Decimal) {
	l.initialized = true
	if !averageSpread.IsPositive() {
		l.value = decimal.Zero
		l.liquid = true
		return
	}
	l.value = volatility.Div(averageSpread)
	l.liquid = l.value.GreaterThanOrEqual(l.threshold)
}

func (l *LiquidityAnalyzer) Value() decimal.Decimal { return l.value }

func (l *LiquidityAnalyzer) IsLiquid() bool { return l.initialized && l.liquid }

func (l *LiquidityAnalyzer) Initialized() bool { return l.initialized }

func (l *LiquidityAnalyzer) Reset() {
	l.value = decimal.Zero
	l.liquid = false
	l.initialized = false
}

var _ core.ILiquidityAnalyzer = (*LiquidityAnalyzer)(nil)
