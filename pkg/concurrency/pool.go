// Package concurrency wraps alitto/pond worker pools
package concurrency

import (
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"trend_follower/internal/core"

	"github.com/alitto/pond"
)

var (
	ErrPoolFull    = errors.New("worker pool full")
	ErrPoolStopped = errors.New("worker pool stopped")
)

// PoolConfig holds configuration for a worker pool
type PoolConfig struct {
	Name        string
	MaxWorkers  int
	MaxCapacity int
	IdleTimeout time.Duration
	NonBlocking bool // Submit fails with ErrPoolFull instead of blocking
}

// Ordered reports whether tasks run one at a time in submission order
func (c PoolConfig) Ordered() bool {
	return c.MaxWorkers == 1
}

// PoolStats is a point-in-time view of a pool
type PoolStats struct {
	Name      string
	Running   int
	Waiting   uint64
	Submitted uint64
	Completed uint64
	Panicked  uint64
	Dropped   int64
}

// WorkerPool is a pond pool that counts rejected tasks and refuses work after Stop
type WorkerPool struct {
	pool    *pond.WorkerPool
	config  PoolConfig
	logger  core.ILogger
	dropped atomic.Int64
	stopped atomic.Bool
}

func NewWorkerPool(cfg PoolConfig, logger core.ILogger) *WorkerPool {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 4
	}
	if cfg.MaxCapacity <= 0 {
		cfg.MaxCapacity = 256
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 30 * time.Second
	}

	log := logger.WithFields(map[string]interface{}{
		"component": "worker_pool",
		"pool":      cfg.Name,
	})

	opts := []pond.Option{
		pond.IdleTimeout(cfg.IdleTimeout),
		pond.PanicHandler(func(p interface{}) {
			log.Error("Task panicked", "panic", fmt.Sprint(p))
		}),
	}
	if cfg.Ordered() {
		opts = append(opts, pond.MinWorkers(1))
	} else {
		opts = append(opts, pond.MinWorkers(1), pond.Strategy(pond.Balanced()))
	}

	return &WorkerPool{
		pool:   pond.New(cfg.MaxWorkers, cfg.MaxCapacity, opts...),
		config: cfg,
		logger: log,
	}
}

// Submit queues task. A non-blocking pool rejects with ErrPoolFull when its
// queue is at capacity.
func (wp *WorkerPool) Submit(task func()) error {
	if wp.stopped.Load() {
		return fmt.Errorf("%w: %s", ErrPoolStopped, wp.config.Name)
	}
	if !wp.config.NonBlocking {
		wp.pool.Submit(task)
		return nil
	}
	if !wp.pool.TrySubmit(task) {
		wp.dropped.Add(1)
		return fmt.Errorf("%w: %s at %d queued", ErrPoolFull, wp.config.Name, wp.config.MaxCapacity)
	}
	return nil
}

// Stop runs every queued task, then releases the workers. It is idempotent.
func (wp *WorkerPool) Stop() {
	if wp.stopped.Swap(true) {
		return
	}
	wp.pool.StopAndWait()
	if n := wp.dropped.Load(); n > 0 {
		wp.logger.Warn("Worker pool stopped with drops", "dropped", n)
	}
}

func (wp *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Name:      wp.config.Name,
		Running:   wp.pool.RunningWorkers(),
		Waiting:   wp.pool.WaitingTasks(),
		Submitted: wp.pool.SubmittedTasks(),
		Completed: wp.pool.SuccessfulTasks(),
		Panicked:  wp.pool.FailedTasks(),
		Dropped:   wp.dropped.Load(),
	}
}
