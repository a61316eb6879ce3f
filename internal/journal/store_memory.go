package journal

import (
	"context"
	"sync"

	"trend_follower/internal/core"
)

// MemoryStore implements Store in memory
type MemoryStore struct {
	events []core.StrategyEvent
	mu     sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Record(ctx context.Context, event core.StrategyEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// Events returns up to limit of the most recent events for symbol, oldest
// first. An empty symbol matches every instrument; limit <= 0 means all.
func (s *MemoryStore) Events(ctx context.Context, symbol string, limit int) ([]core.StrategyEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.StrategyEvent
	for _, ev := range s.events {
		if symbol == "" || ev.Symbol == symbol {
			out = append(out, ev)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
