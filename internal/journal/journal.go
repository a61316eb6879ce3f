// Package journal keeps an append-only audit trail of strategy events
package journal

import (
	"context"
	"fmt"
	"time"

	"trend_follower/internal/config"
	"trend_follower/internal/core"
)

// Store is a journal that can also be queried for reporting
type Store interface {
	core.IJournal
	Events(ctx context.Context, symbol string, limit int) ([]core.StrategyEvent, error)
}

// Open creates the store selected by the journal config
func Open(cfg config.JournalConfig) (Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown journal driver %q", cfg.Driver)
	}
}

// Recorder adapts a journal to an event hub subscriber. Failures are logged;
// trading never waits on the journal.
func Recorder(j core.IJournal, timeout time.Duration, logger core.ILogger) func(core.StrategyEvent) {
	log := logger.WithField("component", "journal")
	return func(ev core.StrategyEvent) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := j.Record(ctx, ev); err != nil {
			log.Error("Failed to record strategy event",
				"kind", string(ev.Kind),
				"symbol", ev.Symbol,
				"error", err.Error())
		}
	}
}
