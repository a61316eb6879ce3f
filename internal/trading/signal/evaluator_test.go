package signal

import (
	"testing"

	"trend_follower/internal/core"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type stubIndicator struct {
	value decimal.Decimal
	ready bool
}

func (s *stubIndicator) Name() string           { return "stub" }
func (s *stubIndicator) Update(core.Bar)        {}
func (s *stubIndicator) Value() decimal.Decimal { return s.value }
func (s *stubIndicator) Initialized() bool      { return s.ready }
func (s *stubIndicator) Count() int             { return 0 }
func (s *stubIndicator) Reset()                 {}

type stubTracker struct {
	entries int
	flat    bool
}

func (s *stubTracker) State() core.PositionState { return core.StateFlat }
func (s *stubTracker) IsFlat() bool              { return s.flat }
func (s *stubTracker) EntryOrdersCount() int     { return s.entries }
func (s *stubTracker) WorkingStops() []*core.Order {
	return nil
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		fast, slow string
		want       core.Bias
	}{
		{"101", "100", core.BiasLong},
		{"100", "100", core.BiasLong},
		{"99.99", "100", core.BiasShort},
		{"-1", "0", core.BiasShort},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Evaluate(d(tt.fast), d(tt.slow)), "fast=%s slow=%s", tt.fast, tt.slow)
	}
}

func TestEvaluator_RequiresReadiness(t *testing.T) {
	e := NewEvaluator()
	ready := func(v string) *stubIndicator { return &stubIndicator{value: d(v), ready: true} }

	snap := Snapshot{Fast: ready("101"), Slow: ready("100"), ATR: ready("1.5"), HasTicks: true}
	assert.Equal(t, core.BiasLong, e.Evaluate(snap))

	noTicks := snap
	noTicks.HasTicks = false
	assert.Equal(t, core.BiasNone, e.Evaluate(noTicks))

	cold := snap
	cold.Slow = &stubIndicator{value: d("100")}
	assert.Equal(t, core.BiasNone, e.Evaluate(cold))

	coldATR := snap
	coldATR.ATR = &stubIndicator{}
	assert.Equal(t, core.BiasNone, e.Evaluate(coldATR))
}

func TestEvaluator_Eligible(t *testing.T) {
	e := NewEvaluator()
	assert.True(t, e.Eligible(&stubTracker{flat: true}))
	assert.False(t, e.Eligible(&stubTracker{flat: true, entries: 1}))
	assert.False(t, e.Eligible(&stubTracker{flat: false}))
}
