// Package signal turns the indicator snapshot into a directional bias
package signal

import (
	"trend_follower/internal/core"

	"github.com/shopspring/decimal"
)

// Evaluate compares the fast and slow averages. Equal values resolve to long.
func Evaluate(fast, slow decimal.Decimal) core.Bias {
	if fast.GreaterThanOrEqual(slow) {
		return core.BiasLong
	}
	return core.BiasShort
}

// Snapshot is the indicator state seen on one bar
type Snapshot struct {
	Fast     core.IIndicator
	Slow     core.IIndicator
	ATR      core.IIndicator
	HasTicks bool
}

// Ready reports whether every indicator is warmed up and a tick has been seen
func (s Snapshot) Ready() bool {
	return s.Fast.Initialized() && s.Slow.Initialized() && s.ATR.Initialized() && s.HasTicks
}

// Evaluator is stateless: each bar is judged on its own snapshot
type Evaluator struct{}

func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// Evaluate returns BiasNone until the snapshot is ready
func (e *Evaluator) Evaluate(s Snapshot) core.Bias {
	if !s.Ready() {
		return core.BiasNone
	}
	return Evaluate(s.Fast.Value(), s.Slow.Value())
}

// Eligible reports whether a fresh entry may be acted upon
func (e *Evaluator) Eligible(tracker core.IPositionTracker) bool {
	return tracker.EntryOrdersCount() == 0 && tracker.IsFlat()
}
