package mock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trend_follower/internal/core"
	"trend_follower/internal/trading/order"
	apperrors "trend_follower/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, f ...interface{})               {}
func (m *mockLogger) Info(msg string, f ...interface{})                {}
func (m *mockLogger) Warn(msg string, f ...interface{})                {}
func (m *mockLogger) Error(msg string, f ...interface{})               {}
func (m *mockLogger) Fatal(msg string, f ...interface{})               {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

type sink struct {
	mu     sync.Mutex
	events []core.Event
	err    error
}

func (s *sink) Publish(ev core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

// orderKinds lists order event kinds, skipping ticks
func (s *sink) orderKinds() []core.OrderEventKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []core.OrderEventKind
	for _, ev := range s.events {
		if oe, ok := ev.(core.OrderEvent); ok {
			out = append(out, oe.Kind)
		}
	}
	return out
}

func (s *sink) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newGateway() (*PaperGateway, *sink) {
	s := &sink{}
	return NewPaperGateway(s, fixedClock{t0}, "USDT", d("100000"), &mockLogger{}), s
}

func longBracket() *core.BracketOrder {
	return order.NewFactory().AtomicStopMarket("BTCUSDT", core.OrderSideBuy, d("10"),
		d("110.3"), d("104"), d("116.6"), "S1", core.TimeInForceGTD, t0.Add(time.Minute))
}

func shortBracket() *core.BracketOrder {
	return order.NewFactory().AtomicStopMarket("BTCUSDT", core.OrderSideSell, d("10"),
		d("106.9"), d("113.2"), d("100.6"), "S1", core.TimeInForceGTD, t0.Add(time.Minute))
}

func quote(bid, ask string, at time.Time) core.Tick {
	return core.Tick{Symbol: "BTCUSDT", Bid: d(bid), Ask: d(ask), Timestamp: at}
}

func TestPaperGateway_SubmitAcceptsLegs(t *testing.T) {
	g, s := newGateway()
	b := longBracket()
	require.NoError(t, g.Submit(context.Background(), b, "P-BTCUSDT-1"))

	assert.Equal(t, []core.OrderEventKind{core.OrderAccepted, core.OrderAccepted, core.OrderAccepted}, s.orderKinds())
	ev := s.events[0].(core.OrderEvent)
	assert.Equal(t, b.Entry.ID, ev.OrderID)
	assert.Equal(t, "P-BTCUSDT-1", ev.PositionID)
	assert.Len(t, g.OpenOrders("BTCUSDT"), 3)

	// the caller's bracket is not aliased
	b.Entry.Price = d("1")
	o, ok := g.Order(b.Entry.ID)
	require.True(t, ok)
	assert.Equal(t, "110.3", o.Price.String())

	err := g.Submit(context.Background(), b, "P-BTCUSDT-2")
	assert.ErrorIs(t, err, apperrors.ErrDuplicateOrder)
}

func TestPaperGateway_SubmitError(t *testing.T) {
	g, s := newGateway()
	g.SetSubmitError(apperrors.ErrOrderRejected)
	err := g.Submit(context.Background(), longBracket(), "P-1")
	assert.ErrorIs(t, err, apperrors.ErrOrderRejected)
	assert.Empty(t, s.events)
	assert.Empty(t, g.OpenOrders("BTCUSDT"))
}

func TestPaperGateway_LongEntryThenTarget(t *testing.T) {
	g, s := newGateway()
	b := longBracket()
	require.NoError(t, g.Submit(context.Background(), b, "P-BTCUSDT-1"))
	s.reset()

	g.UpdatePrice(quote("110.0", "110.2", t0.Add(time.Second)))
	assert.Empty(t, s.orderKinds())

	g.UpdatePrice(quote("110.2", "110.4", t0.Add(2*time.Second)))
	require.Equal(t, []core.OrderEventKind{core.OrderFilled}, s.orderKinds())
	fill := s.events[0].(core.OrderEvent)
	assert.Equal(t, b.Entry.ID, fill.OrderID)
	assert.Equal(t, "110.4", fill.Price.String())
	s.reset()

	g.UpdatePrice(quote("116.6", "116.8", t0.Add(3*time.Second)))
	assert.Equal(t, []core.OrderEventKind{core.OrderFilled, core.OrderCancelled, core.PositionClosed}, s.orderKinds())
	exit := s.events[0].(core.OrderEvent)
	assert.Equal(t, b.TakeProfit.ID, exit.OrderID)
	assert.Equal(t, "116.6", exit.Price.String())

	acct, ok := s.events[3].(core.AccountEvent)
	require.True(t, ok)
	// (116.6 - 110.4) * 10
	assert.Equal(t, "100062", acct.FreeEquity.String())
	assert.True(t, g.Equity().Equal(d("100062")))
	assert.Empty(t, g.OpenOrders("BTCUSDT"))
}

func TestPaperGateway_ShortEntryThenStop(t *testing.T) {
	g, s := newGateway()
	b := shortBracket()
	require.NoError(t, g.Submit(context.Background(), b, "P-BTCUSDT-1"))

	g.UpdatePrice(quote("106.8", "107.0", t0.Add(time.Second)))
	g.UpdatePrice(quote("113.3", "113.5", t0.Add(2*time.Second)))
	s.mu.Lock()
	last := s.events[len(s.events)-4].(core.OrderEvent)
	s.mu.Unlock()

	assert.Equal(t, core.OrderFilled, last.Kind)
	assert.Equal(t, b.StopLoss.ID, last.OrderID)
	assert.Equal(t, "113.5", last.Price.String())
	// short from 106.8 stopped at 113.5
	assert.True(t, g.Equity().Equal(d("99933")))
}

func TestPaperGateway_EntryExpires(t *testing.T) {
	g, s := newGateway()
	b := longBracket()
	require.NoError(t, g.Submit(context.Background(), b, "P-1"))
	s.reset()

	// price reaches the trigger only after the GTD deadline
	g.UpdatePrice(quote("111", "111.2", t0.Add(time.Minute)))
	assert.Equal(t, []core.OrderEventKind{core.OrderExpired, core.OrderCancelled, core.OrderCancelled}, s.orderKinds())
	assert.Empty(t, g.OpenOrders("BTCUSDT"))
}

func TestPaperGateway_ModifyStop(t *testing.T) {
	g, s := newGateway()
	b := longBracket()
	ctx := context.Background()
	require.NoError(t, g.Submit(ctx, b, "P-1"))
	g.UpdatePrice(quote("110.3", "110.4", t0.Add(time.Second)))
	s.reset()

	require.NoError(t, g.Modify(ctx, b.StopLoss, d("108")))
	require.Equal(t, []core.OrderEventKind{core.OrderModified}, s.orderKinds())
	assert.Equal(t, "108", s.events[0].(core.OrderEvent).Price.String())

	// the raised stop triggers where the old one would not
	g.UpdatePrice(quote("107.9", "108.1", t0.Add(2*time.Second)))
	o, _ := g.Order(b.StopLoss.ID)
	assert.Equal(t, core.OrderStatusFilled, o.Status)

	err := g.Modify(ctx, b.StopLoss, d("109"))
	assert.ErrorIs(t, err, apperrors.ErrOrderRejected)

	err = g.Modify(ctx, &core.Order{ID: "O-missing"}, d("109"))
	assert.ErrorIs(t, err, apperrors.ErrUnknownOrder)
}

func TestPaperGateway_ModifyError(t *testing.T) {
	g, _ := newGateway()
	b := longBracket()
	require.NoError(t, g.Submit(context.Background(), b, "P-1"))
	g.SetModifyError(errors.New("venue down"))
	assert.Error(t, g.Modify(context.Background(), b.StopLoss, d("105")))
	g.SetModifyError(nil)
	assert.NoError(t, g.Modify(context.Background(), b.StopLoss, d("105")))
}

func TestPaperGateway_SimulateRejectEntry(t *testing.T) {
	g, s := newGateway()
	b := longBracket()
	require.NoError(t, g.Submit(context.Background(), b, "P-1"))
	s.reset()

	require.NoError(t, g.SimulateReject(b.Entry.ID, "margin"))
	assert.Equal(t, []core.OrderEventKind{core.OrderRejected, core.OrderCancelled, core.OrderCancelled}, s.orderKinds())
	assert.Equal(t, "margin", s.events[0].(core.OrderEvent).Reason)

	assert.ErrorIs(t, g.SimulateCancel(b.Entry.ID, "again"), apperrors.ErrUnknownOrder)
}

func TestPaperGateway_PublishForwardsAndMatches(t *testing.T) {
	g, s := newGateway()
	b := longBracket()
	require.NoError(t, g.Submit(context.Background(), b, "P-1"))
	s.reset()

	require.NoError(t, g.Publish(quote("110.3", "110.5", t0.Add(time.Second))))
	require.NoError(t, g.Publish(core.Bar{Symbol: "BTCUSDT"}))

	require.Len(t, s.events, 3)
	_, isTick := s.events[0].(core.Tick)
	assert.True(t, isTick, "tick is forwarded before the fill it causes")
	assert.Equal(t, core.OrderFilled, s.events[1].(core.OrderEvent).Kind)
	_, isBar := s.events[2].(core.Bar)
	assert.True(t, isBar)
}

func TestPaperGateway_DeliveryFailureIsUnhealthy(t *testing.T) {
	g, s := newGateway()
	require.NoError(t, g.CheckHealth())
	s.err = apperrors.ErrInboxFull
	require.NoError(t, g.Submit(context.Background(), longBracket(), "P-1"))
	assert.Error(t, g.CheckHealth())
}
