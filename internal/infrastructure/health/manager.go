// Package health aggregates component health checks
package health

import (
	"sort"
	"sync"

	"trend_follower/internal/core"
)

// Manager runs registered component checks on demand
type Manager struct {
	logger core.ILogger
	mu     sync.RWMutex
	checks map[string]func() error
	// last failure per component, so transitions are logged once
	failing map[string]string
}

func NewManager(logger core.ILogger) *Manager {
	m := &Manager{
		checks:  make(map[string]func() error),
		failing: make(map[string]string),
	}
	if logger != nil {
		m.logger = logger.WithField("component", "health_manager")
	}
	return m
}

// Register adds or replaces the check for component
func (m *Manager) Register(component string, check func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// Components returns the registered component names in order
func (m *Manager) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Manager) GetStatus() map[string]string {
	results := m.run()
	status := make(map[string]string, len(results))
	for component, err := range results {
		if err != nil {
			status[component] = "Unhealthy: " + err.Error()
		} else {
			status[component] = "Healthy"
		}
	}
	return status
}

func (m *Manager) IsHealthy() bool {
	for _, err := range m.run() {
		if err != nil {
			return false
		}
	}
	return true
}

func (m *Manager) run() map[string]error {
	m.mu.RLock()
	checks := make(map[string]func() error, len(m.checks))
	for name, check := range m.checks {
		checks[name] = check
	}
	m.mu.RUnlock()

	results := make(map[string]error, len(checks))
	for name, check := range checks {
		results[name] = check()
	}
	m.track(results)
	return results
}

func (m *Manager) track(results map[string]error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for name, err := range results {
		prev, wasFailing := m.failing[name]
		switch {
		case err != nil && (!wasFailing || prev != err.Error()):
			m.failing[name] = err.Error()
			if m.logger != nil {
				m.logger.Warn("Component unhealthy", "name", name, "error", err.Error())
			}
		case err == nil && wasFailing:
			delete(m.failing, name)
			if m.logger != nil {
				m.logger.Info("Component recovered", "name", name)
			}
		}
	}
}

var _ core.IHealthMonitor = (*Manager)(nil)
