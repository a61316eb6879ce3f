package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricBarsProcessedTotal      = "trend_follower_bars_processed_total"
	MetricSignalsTotal            = "trend_follower_signals_total"
	MetricEntriesSubmittedTotal   = "trend_follower_entries_submitted_total"
	MetricSizingRejectionsTotal   = "trend_follower_sizing_rejections_total"
	MetricStopModificationsTotal  = "trend_follower_stop_modifications_total"
	MetricSubmissionFailuresTotal = "trend_follower_submission_failures_total"
	MetricPositionState           = "trend_follower_position_state"
	MetricWorkingStops            = "trend_follower_working_stops"
	MetricAverageSpread           = "trend_follower_average_spread"
	MetricBarLatency              = "trend_follower_bar_latency_ms"
)

// MetricsHolder holds initialized instruments.
// The Record/Set helpers are safe to call before InitMetrics.
type MetricsHolder struct {
	BarsProcessedTotal      metric.Int64Counter
	SignalsTotal            metric.Int64Counter
	EntriesSubmittedTotal   metric.Int64Counter
	SizingRejectionsTotal   metric.Int64Counter
	StopModificationsTotal  metric.Int64Counter
	SubmissionFailuresTotal metric.Int64Counter
	PositionState           metric.Int64ObservableGauge
	WorkingStops            metric.Int64ObservableGauge
	AverageSpread           metric.Float64ObservableGauge
	BarLatency              metric.Float64Histogram

	mu               sync.RWMutex
	positionStateMap map[string]int64
	workingStopsMap  map[string]int64
	avgSpreadMap     map[string]float64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			positionStateMap: make(map[string]int64),
			workingStopsMap:  make(map[string]int64),
			avgSpreadMap:     make(map[string]float64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	counters := []struct {
		target *metric.Int64Counter
		name   string
		desc   string
	}{
		{&m.BarsProcessedTotal, MetricBarsProcessedTotal, "Closed bars processed by the strategy"},
		{&m.SignalsTotal, MetricSignalsTotal, "Entry signals evaluated while flat"},
		{&m.EntriesSubmittedTotal, MetricEntriesSubmittedTotal, "Bracket entries submitted"},
		{&m.SizingRejectionsTotal, MetricSizingRejectionsTotal, "Signals skipped because the sizer returned zero"},
		{&m.StopModificationsTotal, MetricStopModificationsTotal, "Trailing stop modifications sent"},
		{&m.SubmissionFailuresTotal, MetricSubmissionFailuresTotal, "Bracket submissions rejected locally or by the venue"},
	}
	for _, c := range counters {
		counter, err := meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return err
		}
		*c.target = counter
	}

	var err error
	m.BarLatency, err = meter.Float64Histogram(MetricBarLatency, metric.WithDescription("Time spent handling one closed bar"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.PositionState, err = meter.Int64ObservableGauge(MetricPositionState, metric.WithDescription("Position state (0=flat, 1=pending entry, 2=open)"),
		metric.WithInt64Callback(m.observeInt(m.positionStateMap)))
	if err != nil {
		return err
	}

	m.WorkingStops, err = meter.Int64ObservableGauge(MetricWorkingStops, metric.WithDescription("Working stop-loss orders"),
		metric.WithInt64Callback(m.observeInt(m.workingStopsMap)))
	if err != nil {
		return err
	}

	m.AverageSpread, err = meter.Float64ObservableGauge(MetricAverageSpread, metric.WithDescription("Average quoted spread"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.avgSpreadMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	return err
}

func (m *MetricsHolder) observeInt(values map[string]int64) metric.Int64Callback {
	return func(ctx context.Context, obs metric.Int64Observer) error {
		m.mu.RLock()
		defer m.mu.RUnlock()
		for sym, val := range values {
			obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
		}
		return nil
	}
}

// Add increments counter c for symbol when the instrument exists
func (m *MetricsHolder) Add(ctx context.Context, c metric.Int64Counter, symbol string) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attribute.String("symbol", symbol)))
}

// RecordBarLatency records bar handling latency in milliseconds
func (m *MetricsHolder) RecordBarLatency(ctx context.Context, symbol string, ms float64) {
	if m.BarLatency == nil {
		return
	}
	m.BarLatency.Record(ctx, ms, metric.WithAttributes(attribute.String("symbol", symbol)))
}

func (m *MetricsHolder) SetPositionState(symbol string, state int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positionStateMap[symbol] = state
}

func (m *MetricsHolder) SetWorkingStops(symbol string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workingStopsMap[symbol] = count
}

func (m *MetricsHolder) SetAverageSpread(symbol string, spread float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.avgSpreadMap[symbol] = spread
}

func (m *MetricsHolder) GetPositionState() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64, len(m.positionStateMap))
	for k, v := range m.positionStateMap {
		res[k] = v
	}
	return res
}

func (m *MetricsHolder) GetWorkingStops() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make(map[string]int64, len(m.workingStopsMap))
	for k, v := range m.workingStopsMap {
		res[k] = v
	}
	return res
}
