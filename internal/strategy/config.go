package strategy

import (
	"time"

	"trend_follower/internal/analytics"
	"trend_follower/internal/config"
	"trend_follower/internal/risk"

	"github.com/shopspring/decimal"
)

// Config holds the per-instrument parameters of an EMACross
type Config struct {
	Symbol             string
	FastPeriod         int
	SlowPeriod         int
	ATRPeriod          int
	StopMultiple       decimal.Decimal
	RiskBP             decimal.Decimal
	EntryExpiry        time.Duration
	Label              string
	RequireLiquidity   bool
	LiquidityThreshold decimal.Decimal
	SpreadCapacity     int
	WarmupBars         int
	Sizing             risk.SizingParams
}

// DefaultConfig mirrors config.DefaultConfig for one symbol
func DefaultConfig(symbol string) Config {
	return NewConfig(symbol, config.DefaultConfig())
}

// NewConfig maps the application config onto one instrument
func NewConfig(symbol string, cfg *config.Config) Config {
	s := cfg.Strategy
	return Config{
		Symbol:             symbol,
		FastPeriod:         s.FastEMAPeriod,
		SlowPeriod:         s.SlowEMAPeriod,
		ATRPeriod:          s.ATRPeriod,
		StopMultiple:       decimal.NewFromFloat(s.StopATRMultiple),
		RiskBP:             decimal.NewFromFloat(s.RiskBP),
		EntryExpiry:        s.EntryExpiry(),
		Label:              s.Label,
		RequireLiquidity:   s.RequireLiquidity,
		LiquidityThreshold: decimal.NewFromFloat(s.LiquidityThreshold),
		SpreadCapacity:     s.SpreadCapacity,
		WarmupBars:         s.WarmupBars,
		Sizing: risk.SizingParams{
			CommissionBP:  decimal.NewFromFloat(cfg.Sizing.CommissionBP),
			HardLimit:     decimal.NewFromFloat(cfg.Sizing.HardLimit),
			Units:         cfg.Sizing.Units,
			UnitBatchSize: decimal.NewFromFloat(cfg.Sizing.UnitBatchSize),
		},
	}
}

func (c Config) spreadCapacity() int {
	if c.SpreadCapacity <= 0 {
		return analytics.DefaultSpreadCapacity
	}
	return c.SpreadCapacity
}
