// Package strategy implements the EMA cross trend follower
package strategy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trend_follower/internal/analytics"
	"trend_follower/internal/core"
	"trend_follower/internal/indicator"
	"trend_follower/internal/risk"
	"trend_follower/internal/trading/order"
	"trend_follower/internal/trading/position"
	"trend_follower/internal/trading/signal"
	"trend_follower/internal/trading/trailing"
	apperrors "trend_follower/pkg/errors"
	"trend_follower/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Dependencies are the collaborators an EMACross is wired to.
// History may be nil, which skips warm-up.
type Dependencies struct {
	Gateway     core.IOrderGateway
	Account     core.IAccount
	Instruments core.IInstrumentProvider
	Feed        core.IMarketDataFeed
	History     core.IHistoryProvider
	Publisher   core.IStrategyEventPublisher
	Clock       core.Clock
	Logger      core.ILogger
}

func (d Dependencies) validate() error {
	switch {
	case d.Gateway == nil:
		return errors.New("gateway is required")
	case d.Account == nil:
		return errors.New("account is required")
	case d.Instruments == nil:
		return errors.New("instrument provider is required")
	case d.Feed == nil:
		return errors.New("market data feed is required")
	case d.Publisher == nil:
		return errors.New("event publisher is required")
	case d.Clock == nil:
		return errors.New("clock is required")
	case d.Logger == nil:
		return errors.New("logger is required")
	}
	return nil
}

// EMACross trades one instrument: it enters with a stop-market bracket in the
// direction of the fast/slow EMA comparison while flat, and trails the stop
// by an ATR multiple while a position is open.
type EMACross struct {
	cfg  Config
	deps Dependencies

	logger  core.ILogger
	metrics *telemetry.MetricsHolder

	fast      *indicator.EMA
	slow      *indicator.EMA
	atr       *indicator.ATR
	spread    *analytics.SpreadAnalyzer
	liquidity *analytics.LiquidityAnalyzer

	evaluator   *signal.Evaluator
	builder     *order.BracketBuilder
	factory     *order.Factory
	positionIDs *order.PositionIDGenerator
	tracker     *position.Tracker
	trailing    *trailing.Manager

	// set once the instrument is known
	instrument *core.Instrument
	tickBuffer decimal.Decimal
	gate       *risk.Gate

	running bool
}

// NewEMACross wires a strategy for cfg.Symbol. Nothing is requested from the
// collaborators until OnStart.
func NewEMACross(cfg Config, deps Dependencies) (*EMACross, error) {
	if cfg.Symbol == "" {
		return nil, errors.New("symbol is required")
	}
	if err := deps.validate(); err != nil {
		return nil, err
	}
	if cfg.Label == "" {
		cfg.Label = "S1"
	}
	if cfg.EntryExpiry <= 0 {
		cfg.EntryExpiry = time.Minute
	}

	s := &EMACross{
		cfg:         cfg,
		deps:        deps,
		logger:      deps.Logger.WithFields(map[string]interface{}{"component": "ema_cross", "symbol": cfg.Symbol}),
		metrics:     telemetry.GetGlobalMetrics(),
		fast:        indicator.NewEMA(cfg.FastPeriod),
		slow:        indicator.NewEMA(cfg.SlowPeriod),
		atr:         indicator.NewATR(cfg.ATRPeriod),
		spread:      analytics.NewSpreadAnalyzer(0, cfg.spreadCapacity()),
		liquidity:   analytics.NewLiquidityAnalyzer(cfg.LiquidityThreshold),
		evaluator:   signal.NewEvaluator(),
		builder:     order.NewBracketBuilder(cfg.StopMultiple),
		factory:     order.NewFactory(),
		positionIDs: order.NewPositionIDGenerator(cfg.Symbol),
		tracker:     position.NewTracker(cfg.Symbol),
		trailing:    trailing.NewManager(cfg.StopMultiple),
	}
	s.tracker.OnTransition(s.onTransition)
	s.tracker.OnUnprotected(s.onUnprotected)
	return s, nil
}

// Symbol returns the traded instrument
func (s *EMACross) Symbol() string { return s.cfg.Symbol }

// Tracker exposes the read-only position state
func (s *EMACross) Tracker() core.IPositionTracker { return s.tracker }

// Instrument returns the loaded instrument, nil before it is known
func (s *EMACross) Instrument() *core.Instrument { return s.instrument }

// OnStart loads the account and instrument, warms the indicators from history
// and subscribes to market data.
func (s *EMACross) OnStart(ctx context.Context) error {
	s.logger.Info("Strategy starting",
		"free_equity", s.deps.Account.FreeEquity().String(),
		"currency", s.deps.Account.Currency())

	inst, err := s.deps.Instruments.GetInstrument(ctx, s.cfg.Symbol)
	if err != nil {
		// bars are skipped until an instrument update arrives
		s.logger.Warn("Instrument lookup failed", "error", err.Error())
	} else {
		s.applyInstrument(inst)
	}

	s.warmUp(ctx)

	if err := s.deps.Feed.Subscribe(ctx, s.cfg.Symbol); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.Symbol, err)
	}

	s.running = true
	s.recordGauges()
	return nil
}

func (s *EMACross) warmUp(ctx context.Context) {
	if s.deps.History == nil || s.cfg.WarmupBars <= 0 {
		return
	}
	bars, err := s.deps.History.RequestBars(ctx, s.cfg.Symbol, s.cfg.WarmupBars)
	if err != nil {
		s.logger.Warn("History request failed, warming up from live bars", "error", err.Error())
		return
	}
	for _, bar := range bars {
		s.updateIndicators(bar)
	}
	s.logger.Info("Indicators warmed up",
		"bars", len(bars),
		"fast_ready", s.fast.Initialized(),
		"slow_ready", s.slow.Initialized(),
		"atr_ready", s.atr.Initialized())
}

// OnTick feeds the spread analyzer. Crossed quotes are dropped there and do
// not count as seen ticks.
func (s *EMACross) OnTick(ctx context.Context, tick core.Tick) error {
	if tick.Symbol != s.cfg.Symbol {
		return nil
	}
	s.spread.Update(tick)
	return nil
}

// OnBar runs one decision pass: indicators, entry logic, then trailing stops
func (s *EMACross) OnBar(ctx context.Context, bar core.Bar) error {
	if bar.Symbol != s.cfg.Symbol {
		return nil
	}
	start := time.Now()
	defer func() {
		s.metrics.RecordBarLatency(ctx, s.cfg.Symbol, float64(time.Since(start).Microseconds())/1000)
	}()

	s.updateIndicators(bar)
	s.metrics.Add(ctx, s.metrics.BarsProcessedTotal, s.cfg.Symbol)

	if !s.running {
		return nil
	}
	if s.instrument == nil {
		s.logger.Debug("Bar skipped", "reason", apperrors.ErrInstrumentNotLoaded.Error())
		return nil
	}
	snap := s.snapshot()
	if !snap.Ready() {
		s.logger.Debug("Bar skipped", "reason", apperrors.ErrNotReady.Error(),
			"fast", s.fast.Count(), "slow", s.slow.Count(), "atr", s.atr.Count(), "ticks", s.spread.TickCount())
		return nil
	}

	s.spread.CalculateMetrics()
	s.liquidity.Update(s.spread.AverageSpread(), s.atr.Value())

	if s.evaluator.Eligible(s.tracker) {
		s.enter(ctx, bar, snap)
	}
	s.trail(ctx, bar)

	s.recordGauges()
	return nil
}

func (s *EMACross) enter(ctx context.Context, bar core.Bar, snap signal.Snapshot) {
	if s.cfg.RequireLiquidity && !s.liquidity.IsLiquid() {
		s.logger.Debug("Entry skipped, market not liquid", "liquidity", s.liquidity.Value().String())
		return
	}

	bias := s.evaluator.Evaluate(snap)
	if bias == core.BiasNone {
		return
	}
	side := bias.EntrySide()
	s.metrics.Add(ctx, s.metrics.SignalsTotal, s.cfg.Symbol)

	prices, err := s.builder.Build(bias, bar, s.atr.Value(), s.spread.AverageSpread(), s.tickBuffer, s.instrument)
	if err != nil {
		s.logger.Warn("Bracket prices rejected", "bias", bias.String(), "error", err.Error())
		return
	}

	rate, err := s.deps.Account.ExchangeRate(s.instrument.QuoteCurrency)
	if err != nil {
		s.logger.Warn("Exchange rate unavailable", "quote_currency", s.instrument.QuoteCurrency, "error", err.Error())
		return
	}

	decision := s.gate.Decide(side, s.deps.Account.FreeEquity(), rate, s.cfg.RiskBP, prices.Entry, prices.StopLoss)
	if !decision.Approved {
		s.logger.Info(decision.Reason)
		s.metrics.Add(ctx, s.metrics.SizingRejectionsTotal, s.cfg.Symbol)
		s.publish(core.StrategyEvent{
			Kind:   core.EventSizingRejected,
			Side:   side,
			Price:  prices.Entry,
			Detail: decision.Reason,
		})
		return
	}

	bracket := s.factory.AtomicStopMarket(
		s.cfg.Symbol,
		side,
		decision.Quantity,
		prices.Entry,
		prices.StopLoss,
		prices.TakeProfit,
		s.cfg.Label,
		core.TimeInForceGTD,
		s.deps.Clock.Now().Add(s.cfg.EntryExpiry),
	)
	positionID := s.positionIDs.Generate()

	if err := s.deps.Gateway.Submit(ctx, bracket, positionID); err != nil {
		s.logger.Error("Bracket submission failed",
			"bracket_id", bracket.ID,
			"side", side.String(),
			"error", err.Error())
		s.metrics.Add(ctx, s.metrics.SubmissionFailuresTotal, s.cfg.Symbol)
		s.publish(core.StrategyEvent{
			Kind:       core.EventSubmissionFailed,
			BracketID:  bracket.ID,
			PositionID: positionID,
			Side:       side,
			Price:      prices.Entry,
			Quantity:   decision.Quantity,
			Detail:     err.Error(),
		})
		return
	}

	if err := s.tracker.OnSubmitted(bracket, positionID); err != nil {
		s.logger.Error("Tracker refused submitted bracket", "bracket_id", bracket.ID, "error", err.Error())
		return
	}

	s.metrics.Add(ctx, s.metrics.EntriesSubmittedTotal, s.cfg.Symbol)
	s.logger.Info("Entry submitted",
		"side", side.String(),
		"quantity", decision.Quantity.String(),
		"entry", prices.Entry.String(),
		"stop_loss", prices.StopLoss.String(),
		"take_profit", prices.TakeProfit.String(),
		"position_id", positionID)
	s.publish(core.StrategyEvent{
		Kind:       core.EventEntrySubmitted,
		OrderID:    bracket.Entry.ID,
		BracketID:  bracket.ID,
		PositionID: positionID,
		Side:       side,
		Price:      prices.Entry,
		Quantity:   decision.Quantity,
		Detail:     fmt.Sprintf("stop_loss=%s take_profit=%s", prices.StopLoss, prices.TakeProfit),
	})
}

func (s *EMACross) trail(ctx context.Context, bar core.Bar) {
	mods := s.trailing.Adjust(s.tracker.WorkingStops(), bar, s.atr.Value(), s.spread.AverageSpread(), s.instrument)
	for _, mod := range mods {
		o := mod.Stop.Order
		if err := s.deps.Gateway.Modify(ctx, o, mod.To); err != nil {
			s.logger.Warn("Stop modification failed", "order_id", o.ID, "price", mod.To.String(), "error", err.Error())
			s.publish(core.StrategyEvent{
				Kind:       core.EventModifyFailed,
				OrderID:    o.ID,
				BracketID:  o.BracketID,
				PositionID: s.tracker.PositionID(),
				Side:       o.Side,
				Price:      mod.To,
				Detail:     err.Error(),
			})
			continue
		}
		if err := s.tracker.ApplyStopPrice(o.ID, mod.To); err != nil {
			s.logger.Warn("Modified stop not tracked", "order_id", o.ID, "error", err.Error())
			continue
		}

		s.metrics.Add(ctx, s.metrics.StopModificationsTotal, s.cfg.Symbol)
		s.logger.Debug("Stop trailed", "kind", mod.Stop.Kind.String(), "from", mod.From.String(), "to", mod.To.String())
		s.publish(core.StrategyEvent{
			Kind:       core.EventStopModified,
			OrderID:    o.ID,
			BracketID:  o.BracketID,
			PositionID: s.tracker.PositionID(),
			Side:       o.Side,
			Price:      mod.To,
			Detail:     fmt.Sprintf("from=%s", mod.From),
		})
	}
}

// OnInstrument replaces the instrument when the symbol matches
func (s *EMACross) OnInstrument(ctx context.Context, inst core.Instrument) error {
	if inst.Symbol != s.cfg.Symbol {
		return nil
	}
	s.applyInstrument(&inst)
	s.logger.Info("Updated instrument", "tick_size", inst.TickSize.String(), "price_precision", inst.PricePrecision)
	return nil
}

func (s *EMACross) applyInstrument(inst *core.Instrument) {
	cp := *inst
	s.instrument = &cp
	s.tickBuffer = cp.TickSize
	s.spread.SetPrecision(cp.PricePrecision)
	s.gate = risk.NewGate(risk.NewFixedRiskSizer(cp.SizePrecision), s.cfg.Sizing)
}

// OnEvent routes order events to the tracker and account events to the account
func (s *EMACross) OnEvent(ctx context.Context, event core.Event) error {
	switch ev := event.(type) {
	case core.OrderEvent:
		if err := s.tracker.Apply(ev); err != nil {
			if errors.Is(err, apperrors.ErrUnknownOrder) {
				s.logger.Warn("Ignoring event for unknown order", "kind", ev.Kind.String(), "order_id", ev.OrderID)
				return nil
			}
			return err
		}
		s.recordGauges()
	case core.AccountEvent:
		s.deps.Account.Apply(ev)
		s.logger.Debug("Account updated", "free_equity", ev.FreeEquity.String())
	}
	return nil
}

// OnStop stops acting on bars. Working orders are left to the venue.
func (s *EMACross) OnStop(ctx context.Context) error {
	s.running = false
	s.logger.Info("Strategy stopped", "state", s.tracker.State().String())
	return nil
}

// OnReset clears indicators and analyzers. Order state is untouched.
func (s *EMACross) OnReset(ctx context.Context) error {
	s.fast.Reset()
	s.slow.Reset()
	s.atr.Reset()
	s.spread.Reset()
	s.liquidity.Reset()
	s.logger.Info("Strategy reset")
	return nil
}

// OnDispose unsubscribes from market data
func (s *EMACross) OnDispose(ctx context.Context) error {
	s.running = false
	if err := s.deps.Feed.Unsubscribe(s.cfg.Symbol); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", s.cfg.Symbol, err)
	}
	return nil
}

func (s *EMACross) updateIndicators(bar core.Bar) {
	s.fast.Update(bar)
	s.slow.Update(bar)
	s.atr.Update(bar)
}

func (s *EMACross) snapshot() signal.Snapshot {
	return signal.Snapshot{Fast: s.fast, Slow: s.slow, ATR: s.atr, HasTicks: s.spread.TickCount() > 0}
}

func (s *EMACross) onTransition(from, to core.PositionState, reason string) {
	s.logger.Info("Position state changed", "from", from.String(), "to", to.String(), "reason", reason)
	s.publish(core.StrategyEvent{
		Kind:       core.EventStateChanged,
		PositionID: s.tracker.PositionID(),
		Detail:     fmt.Sprintf("%s -> %s: %s", from, to, reason),
	})
}

func (s *EMACross) onUnprotected(positionID, reason string) {
	s.logger.Error("Position without stop-loss", "position_id", positionID, "reason", reason)
	s.publish(core.StrategyEvent{
		Kind:       core.EventUnprotected,
		PositionID: positionID,
		Detail:     reason,
	})
}

func (s *EMACross) publish(ev core.StrategyEvent) {
	ev.Symbol = s.cfg.Symbol
	if ev.Timestamp.IsZero() {
		ev.Timestamp = s.deps.Clock.Now()
	}
	s.deps.Publisher.Publish(ev)
}

func (s *EMACross) recordGauges() {
	s.metrics.SetPositionState(s.cfg.Symbol, int64(s.tracker.State()))
	s.metrics.SetWorkingStops(s.cfg.Symbol, int64(len(s.tracker.WorkingStops())))
	avg, _ := s.spread.AverageSpread().Float64()
	s.metrics.SetAverageSpread(s.cfg.Symbol, avg)
}
