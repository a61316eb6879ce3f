package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trend_follower/internal/core"
	apperrors "trend_follower/pkg/errors"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, f ...interface{})               {}
func (m *mockLogger) Info(msg string, f ...interface{})                {}
func (m *mockLogger) Warn(msg string, f ...interface{})                {}
func (m *mockLogger) Error(msg string, f ...interface{})               {}
func (m *mockLogger) Fatal(msg string, f ...interface{})               {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

type recordingStrategy struct {
	symbol  string
	mu      sync.Mutex
	calls   []string
	barErr  error
	startFn func() error
	barFn   func()
}

func (r *recordingStrategy) record(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recordingStrategy) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recordingStrategy) Symbol() string { return r.symbol }

func (r *recordingStrategy) OnStart(ctx context.Context) error {
	r.record("start")
	if r.startFn != nil {
		return r.startFn()
	}
	return nil
}

func (r *recordingStrategy) OnTick(ctx context.Context, tick core.Tick) error {
	r.record("tick")
	return nil
}

func (r *recordingStrategy) OnBar(ctx context.Context, bar core.Bar) error {
	r.record("bar")
	if r.barFn != nil {
		r.barFn()
	}
	return r.barErr
}

func (r *recordingStrategy) OnInstrument(ctx context.Context, instrument core.Instrument) error {
	r.record("instrument")
	return nil
}

func (r *recordingStrategy) OnEvent(ctx context.Context, event core.Event) error {
	switch ev := event.(type) {
	case core.OrderEvent:
		r.record("order_" + ev.Kind.String())
	case core.AccountEvent:
		r.record("account")
	}
	return nil
}

func (r *recordingStrategy) OnStop(ctx context.Context) error {
	r.record("stop")
	return nil
}

func (r *recordingStrategy) OnReset(ctx context.Context) error {
	r.record("reset")
	return nil
}

func (r *recordingStrategy) OnDispose(ctx context.Context) error {
	r.record("dispose")
	return nil
}

func runEngine(t *testing.T, e *Engine) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()
	return cancel, done
}

func waitCalls(t *testing.T, s *recordingStrategy, n int) {
	t.Helper()
	require.Eventually(t, func() bool { return len(s.Calls()) >= n }, time.Second, 5*time.Millisecond)
}

func TestEngine_RoutesBySymbol(t *testing.T) {
	e := NewEngine(16, nil, &mockLogger{})
	btc := &recordingStrategy{symbol: "BTCUSDT"}
	eth := &recordingStrategy{symbol: "ETHUSDT"}
	require.NoError(t, e.Register(btc))
	require.NoError(t, e.Register(eth))

	cancel, done := runEngine(t, e)

	require.NoError(t, e.Publish(core.Tick{Symbol: "BTCUSDT"}))
	require.NoError(t, e.Publish(core.Bar{Symbol: "BTCUSDT"}))
	require.NoError(t, e.Publish(core.Instrument{Symbol: "ETHUSDT"}))
	require.NoError(t, e.Publish(core.OrderEvent{Kind: core.OrderFilled, Symbol: "ETHUSDT"}))
	require.NoError(t, e.Publish(core.AccountEvent{Currency: "USDT"}))
	require.NoError(t, e.Publish(core.Bar{Symbol: "SOLUSDT"}))

	waitCalls(t, btc, 4)
	waitCalls(t, eth, 4)
	require.Eventually(t, func() bool { return e.Stats()["processed"] == 6 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"start", "tick", "bar", "account", "stop", "dispose"}, btc.Calls())
	assert.Equal(t, []string{"start", "instrument", "order_FILLED", "account", "stop", "dispose"}, eth.Calls())
}

func TestEngine_RegisterDuplicate(t *testing.T) {
	e := NewEngine(4, nil, &mockLogger{})
	require.NoError(t, e.Register(&recordingStrategy{symbol: "BTCUSDT"}))
	assert.Error(t, e.Register(&recordingStrategy{symbol: "BTCUSDT"}))
}

func TestEngine_PublishInboxFull(t *testing.T) {
	e := NewEngine(2, nil, &mockLogger{})
	require.NoError(t, e.Publish(core.Tick{Symbol: "BTCUSDT"}))
	require.NoError(t, e.Publish(core.Tick{Symbol: "BTCUSDT"}))

	err := e.Publish(core.Tick{Symbol: "BTCUSDT"})
	assert.ErrorIs(t, err, apperrors.ErrInboxFull)
	assert.Equal(t, int64(1), e.Stats()["dropped"])
	assert.Error(t, e.CheckHealth())
}

func TestEngine_HandlerErrorsAreNotFatal(t *testing.T) {
	e := NewEngine(8, nil, &mockLogger{})
	s := &recordingStrategy{symbol: "BTCUSDT", barErr: errors.New("boom")}
	require.NoError(t, e.Register(s))

	cancel, done := runEngine(t, e)
	require.NoError(t, e.Publish(core.Bar{Symbol: "BTCUSDT"}))
	require.NoError(t, e.Publish(core.Tick{Symbol: "BTCUSDT"}))
	waitCalls(t, s, 3)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, int64(1), e.Stats()["handler_errors"])
	assert.Contains(t, s.Calls(), "tick")
}

func TestEngine_StartFailure(t *testing.T) {
	e := NewEngine(8, nil, &mockLogger{})
	s := &recordingStrategy{symbol: "BTCUSDT", startFn: func() error { return errors.New("no feed") }}
	require.NoError(t, e.Register(s))

	err := e.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"start", "stop", "dispose"}, s.Calls())
}

func TestEngine_RequestReset(t *testing.T) {
	e := NewEngine(8, nil, &mockLogger{})
	btc := &recordingStrategy{symbol: "BTCUSDT"}
	eth := &recordingStrategy{symbol: "ETHUSDT"}
	require.NoError(t, e.Register(btc))
	require.NoError(t, e.Register(eth))

	cancel, done := runEngine(t, e)
	require.NoError(t, e.RequestReset("BTCUSDT"))
	require.NoError(t, e.RequestReset(""))
	waitCalls(t, btc, 3)
	waitCalls(t, eth, 2)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, []string{"start", "reset", "reset", "stop", "dispose"}, btc.Calls())
	assert.Equal(t, []string{"start", "reset", "stop", "dispose"}, eth.Calls())
}

func TestEngine_ClockFollowsEvents(t *testing.T) {
	clock := NewEventClock()
	e := NewEngine(8, clock, &mockLogger{})
	s := &recordingStrategy{symbol: "BTCUSDT"}
	require.NoError(t, e.Register(s))

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	cancel, done := runEngine(t, e)
	require.NoError(t, e.Publish(core.Bar{Symbol: "BTCUSDT", Close: decimal.NewFromInt(1), CloseTime: ts}))
	waitCalls(t, s, 2)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, ts, e.Clock().Now())
}

func TestEngine_DrainWaitsForHandlerEvents(t *testing.T) {
	e := NewEngine(8, nil, &mockLogger{})
	s := &recordingStrategy{symbol: "BTCUSDT"}
	// each bar makes the handler queue an order event, as the paper gateway does
	s.barFn = func() {
		_ = e.Publish(core.OrderEvent{Kind: core.OrderAccepted, Symbol: "BTCUSDT"})
	}
	require.NoError(t, e.Register(s))

	cancel, done := runEngine(t, e)
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Publish(core.Bar{Symbol: "BTCUSDT"}))
	}
	ctx, stop := context.WithTimeout(context.Background(), time.Second)
	defer stop()
	require.NoError(t, e.Drain(ctx))

	calls := s.Calls()
	assert.Len(t, calls, 7)
	assert.Equal(t, "order_ACCEPTED", calls[len(calls)-1])
	assert.Zero(t, e.Stats()["pending"])
}

func TestEngine_DrainHonoursContext(t *testing.T) {
	e := NewEngine(1, nil, &mockLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, e.Drain(ctx), context.Canceled)
}

func TestEventClock(t *testing.T) {
	wall := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewEventClock()
	c.wall = func() time.Time { return wall }
	assert.Equal(t, wall, c.Now())

	t1 := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)
	c.Advance(t1)
	c.Advance(t1.Add(-time.Second))
	c.Advance(time.Time{})
	assert.Equal(t, t1, c.Now())

	c.Advance(t1.Add(time.Minute))
	assert.Equal(t, t1.Add(time.Minute), c.Now())
}
