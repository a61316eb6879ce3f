package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"trend_follower/internal/core"
	apperrors "trend_follower/pkg/errors"
	"trend_follower/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const DefaultInboxSize = 4096

// resetRequest is queued by RequestReset so OnReset runs on the loop goroutine
type resetRequest struct {
	symbol string
}

func (r resetRequest) EventSymbol() string  { return r.symbol }
func (r resetRequest) EventTime() time.Time { return time.Time{} }

// barrier is closed by the loop once every event queued before it is dispatched
type barrier struct {
	done chan struct{}
}

func (b barrier) EventSymbol() string  { return "" }
func (b barrier) EventTime() time.Time { return time.Time{} }

// Engine owns the inbox. Feeds and gateways call Publish from any goroutine;
// Run dispatches each event to completion before taking the next one.
type Engine struct {
	inbox      chan core.Event
	strategies map[string]Strategy
	symbols    []string
	clock      *EventClock
	logger     core.ILogger

	tracer        trace.Tracer
	eventCounter  metric.Int64Counter
	errorCounter  metric.Int64Counter
	dispatchHist  metric.Float64Histogram
	processed     atomic.Int64
	dropped       atomic.Int64
	handlerErrors atomic.Int64

	mu      sync.Mutex
	running bool
}

// NewEngine creates an engine with a bounded inbox
func NewEngine(inboxSize int, clock *EventClock, logger core.ILogger) *Engine {
	if inboxSize <= 0 {
		inboxSize = DefaultInboxSize
	}
	if clock == nil {
		clock = NewEventClock()
	}

	meter := telemetry.GetMeter("engine")
	eventCounter, _ := meter.Int64Counter("engine_events_total",
		metric.WithDescription("Total number of events dispatched"))
	errorCounter, _ := meter.Int64Counter("engine_handler_errors_total",
		metric.WithDescription("Total number of strategy hook errors"))
	dispatchHist, _ := meter.Float64Histogram("engine_dispatch_latency_seconds",
		metric.WithDescription("Latency of dispatching one event"))

	return &Engine{
		inbox:        make(chan core.Event, inboxSize),
		strategies:   make(map[string]Strategy),
		clock:        clock,
		logger:       logger.WithField("component", "engine"),
		tracer:       telemetry.GetTracer("engine"),
		eventCounter: eventCounter,
		errorCounter: errorCounter,
		dispatchHist: dispatchHist,
	}
}

// Clock returns the event clock strategies and gateways should share
func (e *Engine) Clock() *EventClock { return e.clock }

// Register adds one strategy per symbol. It must be called before Run.
func (e *Engine) Register(s Strategy) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("cannot register %s: engine is running", s.Symbol())
	}
	if _, ok := e.strategies[s.Symbol()]; ok {
		return fmt.Errorf("strategy for %s already registered", s.Symbol())
	}
	e.strategies[s.Symbol()] = s
	e.symbols = append(e.symbols, s.Symbol())
	return nil
}

// Publish enqueues an event without blocking
func (e *Engine) Publish(event core.Event) error {
	select {
	case e.inbox <- event:
		return nil
	default:
		e.dropped.Add(1)
		return fmt.Errorf("%w: dropping %T for %s", apperrors.ErrInboxFull, event, event.EventSymbol())
	}
}

// RequestReset queues a reset of the strategy for symbol, or of every
// strategy when symbol is empty
func (e *Engine) RequestReset(symbol string) error {
	return e.Publish(resetRequest{symbol: symbol})
}

// Drain blocks until the inbox is empty, including events published by
// handlers while draining. Run must be active.
func (e *Engine) Drain(ctx context.Context) error {
	for {
		before := e.processed.Load()
		b := barrier{done: make(chan struct{})}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e.inbox <- b:
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
		}
		if e.processed.Load() == before+1 {
			return nil
		}
	}
}

// Run starts every strategy, processes the inbox until ctx is cancelled, then
// stops and disposes the strategies. Events still queued at cancellation are
// discarded.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return fmt.Errorf("engine already running")
	}
	e.running = true
	e.mu.Unlock()

	e.logger.Info("Engine starting", "strategies", len(e.symbols), "inbox", cap(e.inbox))
	for _, sym := range e.symbols {
		if err := e.strategies[sym].OnStart(ctx); err != nil {
			e.shutdown()
			return fmt.Errorf("start %s: %w", sym, err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine stopping",
				"processed", e.processed.Load(),
				"dropped", e.dropped.Load(),
				"pending", len(e.inbox))
			e.shutdown()
			return nil
		case ev := <-e.inbox:
			e.dispatch(ctx, ev)
		}
	}
}

func (e *Engine) shutdown() {
	// hooks run after ctx is done, so they get a fresh context
	ctx := context.Background()
	for _, sym := range e.symbols {
		s := e.strategies[sym]
		if err := s.OnStop(ctx); err != nil {
			e.logger.Warn("Strategy stop failed", "symbol", sym, "error", err.Error())
		}
		if err := s.OnDispose(ctx); err != nil {
			e.logger.Warn("Strategy dispose failed", "symbol", sym, "error", err.Error())
		}
	}
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

func (e *Engine) dispatch(ctx context.Context, ev core.Event) {
	if b, ok := ev.(barrier); ok {
		e.processed.Add(1)
		close(b.done)
		return
	}

	start := time.Now()
	kind := eventKind(ev)
	attrs := metric.WithAttributes(attribute.String("event", kind))

	ctx, span := e.tracer.Start(ctx, "Dispatch",
		trace.WithAttributes(
			attribute.String("event", kind),
			attribute.String("symbol", ev.EventSymbol()),
		),
	)
	defer span.End()

	e.clock.Advance(ev.EventTime())

	for _, s := range e.route(ev) {
		if err := e.deliver(ctx, s, ev); err != nil {
			e.handlerErrors.Add(1)
			if e.errorCounter != nil {
				e.errorCounter.Add(ctx, 1, attrs)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			e.logger.Error("Strategy hook failed", "event", kind, "symbol", s.Symbol(), "error", err.Error())
		}
	}

	e.processed.Add(1)
	if e.eventCounter != nil {
		e.eventCounter.Add(ctx, 1, attrs)
	}
	if e.dispatchHist != nil {
		e.dispatchHist.Record(ctx, time.Since(start).Seconds(), attrs)
	}
}

// route picks the target strategies: broadcast for an empty symbol, else the
// single owner of the symbol
func (e *Engine) route(ev core.Event) []Strategy {
	sym := ev.EventSymbol()
	if sym == "" {
		out := make([]Strategy, 0, len(e.symbols))
		for _, s := range e.symbols {
			out = append(out, e.strategies[s])
		}
		return out
	}
	s, ok := e.strategies[sym]
	if !ok {
		e.logger.Debug("No strategy for event", "symbol", sym, "event", eventKind(ev))
		return nil
	}
	return []Strategy{s}
}

func (e *Engine) deliver(ctx context.Context, s Strategy, ev core.Event) error {
	switch v := ev.(type) {
	case core.Tick:
		return s.OnTick(ctx, v)
	case core.Bar:
		return s.OnBar(ctx, v)
	case core.Instrument:
		return s.OnInstrument(ctx, v)
	case resetRequest:
		return s.OnReset(ctx)
	default:
		return s.OnEvent(ctx, ev)
	}
}

func eventKind(ev core.Event) string {
	switch v := ev.(type) {
	case core.Tick:
		return "tick"
	case core.Bar:
		return "bar"
	case core.Instrument:
		return "instrument"
	case core.OrderEvent:
		return "order_" + v.Kind.String()
	case core.AccountEvent:
		return "account"
	case resetRequest:
		return "reset"
	default:
		return fmt.Sprintf("%T", ev)
	}
}

// Stats returns loop counters
func (e *Engine) Stats() map[string]int64 {
	return map[string]int64{
		"processed":      e.processed.Load(),
		"dropped":        e.dropped.Load(),
		"handler_errors": e.handlerErrors.Load(),
		"pending":        int64(len(e.inbox)),
	}
}

// CheckHealth fails when the inbox is close to full
func (e *Engine) CheckHealth() error {
	if pending, capacity := len(e.inbox), cap(e.inbox); pending*10 >= capacity*9 {
		return fmt.Errorf("inbox backlog %d/%d", pending, capacity)
	}
	return nil
}

var _ core.IEventSink = (*Engine)(nil)
var _ core.Clock = (*EventClock)(nil)
