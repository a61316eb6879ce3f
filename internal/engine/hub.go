package engine

import (
	"sync"

	"trend_follower/internal/core"
	"trend_follower/pkg/concurrency"
)

const defaultHubQueue = 1024

// Subscriber receives strategy events off the engine goroutine
type Subscriber func(ev core.StrategyEvent)

type subscription struct {
	name string
	fn   Subscriber
	pool *concurrency.WorkerPool
}

// Hub fans strategy events out to subscribers. Each subscriber has its own
// single-worker queue, so it sees events in publish order and a slow
// subscriber never stalls the engine; when its queue is full the event is
// dropped for that subscriber only.
type Hub struct {
	mu        sync.RWMutex
	subs      []*subscription
	queueSize int
	logger    core.ILogger
	closed    bool
}

func NewHub(queueSize int, logger core.ILogger) *Hub {
	if queueSize <= 0 {
		queueSize = defaultHubQueue
	}
	return &Hub{
		queueSize: queueSize,
		logger:    logger.WithField("component", "event_hub"),
	}
}

// Subscribe registers fn under name
func (h *Hub) Subscribe(name string, fn Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs = append(h.subs, &subscription{
		name: name,
		fn:   fn,
		pool: concurrency.NewWorkerPool(concurrency.PoolConfig{
			Name:        "hub-" + name,
			MaxWorkers:  1,
			MaxCapacity: h.queueSize,
			NonBlocking: true,
		}, h.logger),
	})
}

// Publish implements core.IStrategyEventPublisher
func (h *Hub) Publish(ev core.StrategyEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	for _, sub := range h.subs {
		fn := sub.fn
		if err := sub.pool.Submit(func() { fn(ev) }); err != nil {
			h.logger.Warn("Strategy event dropped",
				"subscriber", sub.name,
				"kind", string(ev.Kind),
				"error", err.Error())
		}
	}
}

// Close drains every subscriber queue. Later publishes are ignored.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := h.subs
	h.mu.Unlock()
	for _, sub := range subs {
		sub.pool.Stop()
	}
}

// Stats returns per-subscriber queue statistics
func (h *Hub) Stats() map[string]concurrency.PoolStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]concurrency.PoolStats, len(h.subs))
	for _, sub := range h.subs {
		out[sub.name] = sub.pool.Stats()
	}
	return out
}

var _ core.IStrategyEventPublisher = (*Hub)(nil)
