package order

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"trend_follower/internal/core"
	apperrors "trend_follower/pkg/errors"
	"trend_follower/pkg/telemetry"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

const (
	defaultErrorCapacity = 256
	healthWindow         = 5 * time.Minute
	healthMaxErrors      = 20
)

// Executor paces calls to the venue gateway and records their outcome.
// It never blocks the caller: a call over the rate limit fails with
// ErrRateLimitExceeded, and nothing is retried.
type Executor struct {
	venue  core.IOrderGateway
	logger core.ILogger

	mu      sync.RWMutex
	limiter *rate.Limiter

	errorMu         sync.Mutex
	errorTimestamps []time.Time
	errorIndex      int
	errorCapacity   int
	now             func() time.Time

	tracer        trace.Tracer
	submitCounter metric.Int64Counter
	modifyCounter metric.Int64Counter
	failCounter   metric.Int64Counter
}

// NewExecutor wraps venue with a limit calls/second token bucket
func NewExecutor(venue core.IOrderGateway, limit float64, burst int, logger core.ILogger) *Executor {
	if limit <= 0 {
		limit = 10
	}
	if burst <= 0 {
		burst = 1
	}

	meter := telemetry.GetMeter("order-executor")
	submitCounter, _ := meter.Int64Counter("order_brackets_submitted_total",
		metric.WithDescription("Bracket orders sent to the venue"))
	modifyCounter, _ := meter.Int64Counter("order_modifications_total",
		metric.WithDescription("Order modifications sent to the venue"))
	failCounter, _ := meter.Int64Counter("order_failures_total",
		metric.WithDescription("Venue calls that failed or were rate limited"))

	return &Executor{
		venue:           venue,
		logger:          logger.WithField("component", "order_executor"),
		limiter:         rate.NewLimiter(rate.Limit(limit), burst),
		errorCapacity:   defaultErrorCapacity,
		errorTimestamps: make([]time.Time, 0, defaultErrorCapacity),
		now:             time.Now,
		tracer:          telemetry.GetTracer("order-executor"),
		submitCounter:   submitCounter,
		modifyCounter:   modifyCounter,
		failCounter:     failCounter,
	}
}

// SetRateLimit updates the rate limit
func (e *Executor) SetRateLimit(limit float64, burst int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.limiter = rate.NewLimiter(rate.Limit(limit), burst)
}

func (e *Executor) allow() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.limiter.Allow()
}

// Submit sends a bracket to the venue
func (e *Executor) Submit(ctx context.Context, bracket *core.BracketOrder, positionID string) error {
	ctx, span := e.tracer.Start(ctx, "SubmitBracket",
		trace.WithAttributes(
			attribute.String("symbol", bracket.Entry.Symbol),
			attribute.String("side", bracket.Entry.Side.String()),
			attribute.String("bracket_id", bracket.ID),
			attribute.String("position_id", positionID),
		),
	)
	defer span.End()

	attrs := metric.WithAttributes(
		attribute.String("symbol", bracket.Entry.Symbol),
		attribute.String("side", bracket.Entry.Side.String()),
	)

	if !e.allow() {
		return e.fail(ctx, span, "submit", attrs, apperrors.ErrRateLimitExceeded)
	}

	e.submitCounter.Add(ctx, 1, attrs)
	if err := e.venue.Submit(ctx, bracket, positionID); err != nil {
		return e.fail(ctx, span, "submit", attrs, err)
	}

	e.logger.Debug("Bracket submitted",
		"bracket_id", bracket.ID,
		"position_id", positionID,
		"symbol", bracket.Entry.Symbol)
	return nil
}

// Modify sends a new trigger price for a working order
func (e *Executor) Modify(ctx context.Context, order *core.Order, price decimal.Decimal) error {
	ctx, span := e.tracer.Start(ctx, "ModifyOrder",
		trace.WithAttributes(
			attribute.String("symbol", order.Symbol),
			attribute.String("order_id", order.ID),
			attribute.String("price", price.String()),
		),
	)
	defer span.End()

	attrs := metric.WithAttributes(
		attribute.String("symbol", order.Symbol),
		attribute.String("side", order.Side.String()),
	)

	if !e.allow() {
		return e.fail(ctx, span, "modify", attrs, apperrors.ErrRateLimitExceeded)
	}

	e.modifyCounter.Add(ctx, 1, attrs)
	if err := e.venue.Modify(ctx, order, price); err != nil {
		return e.fail(ctx, span, "modify", attrs, err)
	}
	return nil
}

func (e *Executor) fail(ctx context.Context, span trace.Span, op string, attrs metric.MeasurementOption, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	e.failCounter.Add(ctx, 1, attrs, metric.WithAttributes(attribute.String("op", op)))
	e.recordError()

	if errors.Is(err, apperrors.ErrRateLimitExceeded) {
		e.logger.Warn("Venue call rate limited", "op", op)
	} else {
		e.logger.Warn("Venue call failed", "op", op, "error", err.Error())
	}
	return fmt.Errorf("%s: %w", op, err)
}

// CheckHealth returns an error if too many venue calls failed recently
func (e *Executor) CheckHealth() error {
	if n := e.recentErrorCount(healthWindow); n > healthMaxErrors {
		return fmt.Errorf("high error rate: %d errors in last %s", n, healthWindow)
	}
	return nil
}

// recordError adds an error timestamp to a ring buffer
func (e *Executor) recordError() {
	e.errorMu.Lock()
	defer e.errorMu.Unlock()

	if len(e.errorTimestamps) < e.errorCapacity {
		e.errorTimestamps = append(e.errorTimestamps, e.now())
		return
	}
	e.errorTimestamps[e.errorIndex] = e.now()
	e.errorIndex = (e.errorIndex + 1) % e.errorCapacity
}

func (e *Executor) recentErrorCount(window time.Duration) int {
	e.errorMu.Lock()
	defer e.errorMu.Unlock()

	cutoff := e.now().Add(-window)
	count := 0
	for _, t := range e.errorTimestamps {
		if t.After(cutoff) {
			count++
		}
	}
	return count
}

var _ core.IOrderGateway = (*Executor)(nil)
