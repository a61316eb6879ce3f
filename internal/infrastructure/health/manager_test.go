package health

import (
	"errors"
	"testing"

	"trend_follower/internal/core"

	"github.com/stretchr/testify/assert"
)

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, f ...interface{})               {}
func (m *mockLogger) Info(msg string, f ...interface{})                {}
func (m *mockLogger) Warn(msg string, f ...interface{})                {}
func (m *mockLogger) Error(msg string, f ...interface{})               {}
func (m *mockLogger) Fatal(msg string, f ...interface{})               {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

func TestManager_Aggregation(t *testing.T) {
	m := NewManager(nil)
	assert.True(t, m.IsHealthy(), "no checks is healthy")

	m.Register("engine", func() error { return nil })
	assert.True(t, m.IsHealthy())

	m.Register("executor", func() error { return errors.New("rate limited") })
	assert.False(t, m.IsHealthy())

	status := m.GetStatus()
	assert.Equal(t, "Healthy", status["engine"])
	assert.Equal(t, "Unhealthy: rate limited", status["executor"])
	assert.Equal(t, []string{"engine", "executor"}, m.Components())
}

func TestManager_Recovery(t *testing.T) {
	m := NewManager(&mockLogger{})
	var failure error = errors.New("inbox 95% full")
	m.Register("engine", func() error { return failure })

	assert.False(t, m.IsHealthy())
	assert.Contains(t, m.failing, "engine")

	failure = nil
	assert.True(t, m.IsHealthy())
	assert.NotContains(t, m.failing, "engine")

	// replacing a check takes effect immediately
	m.Register("engine", func() error { return errors.New("stopped") })
	assert.Equal(t, "Unhealthy: stopped", m.GetStatus()["engine"])
}
