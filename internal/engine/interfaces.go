// Package engine hosts strategies on a single-threaded event loop
package engine

import (
	"context"

	"trend_follower/internal/core"
)

// Strategy is the set of lifecycle hooks the engine drives. Every hook runs
// on the engine goroutine and a returned error is logged, never fatal.
type Strategy interface {
	Symbol() string
	OnStart(ctx context.Context) error
	OnTick(ctx context.Context, tick core.Tick) error
	OnBar(ctx context.Context, bar core.Bar) error
	OnInstrument(ctx context.Context, instrument core.Instrument) error
	OnEvent(ctx context.Context, event core.Event) error
	OnStop(ctx context.Context) error
	OnReset(ctx context.Context) error
	OnDispose(ctx context.Context) error
}
