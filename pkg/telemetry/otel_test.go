package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestTelemetrySetup(t *testing.T) {
	tel, err := Setup(Options{ServiceName: "test-service"})
	require.NoError(t, err)

	assert.NotNil(t, otel.GetTracerProvider())
	assert.NotNil(t, otel.GetMeterProvider())
	assert.NotNil(t, GetTracer("test-tracer"))
	assert.NotNil(t, GetMeter("test-meter"))

	m := GetGlobalMetrics()
	assert.NotNil(t, m.BarsProcessedTotal)
	assert.NotNil(t, m.BarLatency)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	assert.NoError(t, tel.Shutdown(ctx))
}

func TestMetricsHolder_GaugeState(t *testing.T) {
	m := GetGlobalMetrics()
	m.SetPositionState("BTCUSDT", 2)
	m.SetWorkingStops("BTCUSDT", 1)
	m.SetAverageSpread("BTCUSDT", 0.5)

	assert.Equal(t, int64(2), m.GetPositionState()["BTCUSDT"])
	assert.Equal(t, int64(1), m.GetWorkingStops()["BTCUSDT"])
}

func TestMetricsHolder_NilInstrumentsAreNoops(t *testing.T) {
	m := &MetricsHolder{}
	assert.NotPanics(t, func() {
		m.Add(context.Background(), m.SignalsTotal, "ETHUSDT")
		m.RecordBarLatency(context.Background(), "ETHUSDT", 1.5)
	})
}
