// Package analytics holds the per-instrument market quality analyzers
package analytics

import (
	"trend_follower/internal/core"

	"github.com/shopspring/decimal"
)

// DefaultSpreadCapacity is the number of spreads kept for the average
const DefaultSpreadCapacity = 100

// SpreadAnalyzer keeps a bounded window of quoted spreads.
// AverageSpread only changes when CalculateMetrics is called.
type SpreadAnalyzer struct {
	capacity  int
	precision int32
	spreads   []decimal.Decimal
	next      int
	current   decimal.Decimal
	average   decimal.Decimal
	ticks     int
}

// NewSpreadAnalyzer creates an analyzer rounding its average to precision decimals
func NewSpreadAnalyzer(precision int32, capacity int) *SpreadAnalyzer {
	if capacity <= 0 {
		capacity = DefaultSpreadCapacity
	}
	return &SpreadAnalyzer{
		capacity:  capacity,
		precision: precision,
		spreads:   make([]decimal.Decimal, 0, capacity),
	}
}

// SetPrecision changes the rounding precision, e.g. after an instrument refresh
func (s *SpreadAnalyzer) SetPrecision(precision int32) {
	s.precision = precision
}

func (s *SpreadAnalyzer) Update(tick core.Tick) {
	spread := tick.Spread()
	if spread.IsNegative() {
		// crossed book, nothing useful to average
		return
	}
	if len(s.spreads) < s.capacity {
		s.spreads = append(s.spreads, spread)
	} else {
		s.spreads[s.next] = spread
		s.next = (s.next + 1) % s.capacity
	}
	s.current = spread
	s.ticks++
}

func (s *SpreadAnalyzer) CalculateMetrics() {
	if len(s.spreads) == 0 {
		return
	}
	sum := decimal.Zero
	for _, sp := range s.spreads {
		sum = sum.Add(sp)
	}
	s.average = sum.Div(decimal.NewFromInt(int64(len(s.spreads)))).Round(s.precision)
}

func (s *SpreadAnalyzer) AverageSpread() decimal.Decimal { return s.average }

func (s *SpreadAnalyzer) CurrentSpread() decimal.Decimal { return s.current }

// Initialized reports whether the window is full
func (s *SpreadAnalyzer) Initialized() bool { return len(s.spreads) >= s.capacity }

// TickCount returns the number of accepted ticks since the last reset
func (s *SpreadAnalyzer) TickCount() int { return s.ticks }

func (s *SpreadAnalyzer) Reset() {
	s.spreads = s.spreads[:0]
	s.next = 0
	s.current = decimal.Zero
	s.average = decimal.Zero
	s.ticks = 0
}

var _ core.ISpreadAnalyzer = (*SpreadAnalyzer)(nil)
