// Package bootstrap wires the trader from configuration and runs it until a
// signal, a fatal error or the end of a replay
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trend_follower/internal/account"
	"trend_follower/internal/config"
	"trend_follower/internal/core"
	"trend_follower/internal/engine"
	"trend_follower/internal/feed"
	"trend_follower/internal/infrastructure/health"
	"trend_follower/internal/infrastructure/server"
	"trend_follower/internal/journal"
	"trend_follower/internal/mock"
	"trend_follower/internal/strategy"
	"trend_follower/internal/trading/order"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

const (
	journalTimeout  = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Runner is a component that runs until ctx is cancelled
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to Runner
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// marketData is what every feed mode provides
type marketData interface {
	core.IMarketDataFeed
	core.IInstrumentProvider
}

// App holds the wired components
type App struct {
	Cfg        *config.Config
	Logger     core.ILogger
	Engine     *engine.Engine
	Hub        *engine.Hub
	Gateway    *mock.PaperGateway
	Executor   *order.Executor
	Account    *account.Account
	Journal    journal.Store
	Health     *health.Manager
	Strategies []*strategy.EMACross

	feed    marketData
	server  *server.Server
	connect func(ctx context.Context) error
	runners []Runner
	closers []func() error
}

// NewApp builds every component for cfg. Nothing is started.
func NewApp(cfg *config.Config, logger core.ILogger) (*App, error) {
	a := &App{
		Cfg:    cfg,
		Logger: logger.WithField("component", "app"),
		Health: health.NewManager(logger),
	}

	a.Engine = engine.NewEngine(cfg.Engine.InboxSize, engine.NewEventClock(), logger)
	a.Account = account.FromConfig(cfg.Account, logger)
	a.Gateway = mock.NewPaperGateway(a.Engine, a.Engine.Clock(), a.Account.Currency(),
		decimal.NewFromFloat(cfg.Account.StartingEquity), logger)
	a.Executor = order.NewExecutor(a.Gateway, float64(cfg.Execution.RateLimit), cfg.Execution.Burst, logger)

	store, err := journal.Open(cfg.Journal)
	if err != nil {
		return nil, fmt.Errorf("journal: %w", err)
	}
	a.Journal = store
	a.Hub = engine.NewHub(cfg.Concurrency.BroadcastPoolBuffer, logger)
	a.Hub.Subscribe("journal", journal.Recorder(store, journalTimeout, logger))
	// closers run in reverse, so the hub drains into the journal before it closes
	a.closers = append(a.closers, store.Close, func() error { a.Hub.Close(); return nil })

	history, err := a.buildFeed(logger)
	if err != nil {
		a.close()
		return nil, err
	}

	for _, symbol := range cfg.App.Instruments {
		s, err := strategy.NewEMACross(strategy.NewConfig(symbol, cfg), strategy.Dependencies{
			Gateway:     a.Executor,
			Account:     a.Account,
			Instruments: a.feed,
			Feed:        a.feed,
			History:     history,
			Publisher:   a.Hub,
			Clock:       a.Engine.Clock(),
			Logger:      logger,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("strategy %s: %w", symbol, err)
		}
		if err := a.Engine.Register(s); err != nil {
			a.close()
			return nil, err
		}
		a.Strategies = append(a.Strategies, s)
	}

	a.Health.Register("engine", a.Engine.CheckHealth)
	a.Health.Register("executor", a.Executor.CheckHealth)
	a.Health.Register("gateway", a.Gateway.CheckHealth)

	if cfg.Telemetry.EnableMetrics && cfg.Telemetry.MetricsPort > 0 {
		a.server = server.New(cfg.Telemetry.MetricsPort, a.Health, logger)
		a.server.SetNote("mode", cfg.App.Mode)
	}
	return a, nil
}

// buildFeed creates the market data source for the configured mode. Feeds
// publish into the paper gateway, which forwards to the engine after
// matching resting orders against each quote.
func (a *App) buildFeed(logger core.ILogger) (core.IHistoryProvider, error) {
	cfg := a.Cfg
	switch cfg.App.Mode {
	case config.ModeBinance:
		f := feed.NewBinanceFeed(cfg.Feeds.Binance, cfg.Strategy.BarInterval, a.Gateway, logger)
		a.feed = f
		a.closers = append(a.closers, func() error { f.Close(); return nil })
		return f, nil

	case config.ModeRelay:
		f := feed.NewRelayFeed(cfg.Feeds.Relay, a.Gateway, logger)
		a.feed = f
		a.connect = f.Connect
		a.closers = append(a.closers, f.Close)
		return nil, nil

	case config.ModeReplay:
		f, err := feed.NewReplayFeed(cfg.Feeds.Replay, cfg.App.Instruments[0], logger)
		if err != nil {
			return nil, fmt.Errorf("replay feed: %w", err)
		}
		a.feed = f
		a.runners = append(a.runners, a.replayRunner(f))
		return nil, nil
	}
	return nil, fmt.Errorf("unknown mode %q", cfg.App.Mode)
}

// errReplayDone ends the run group once replayed data is fully processed
var errReplayDone = errors.New("replay finished")

// lockstep forwards one event and waits until the engine has handled it and
// everything it caused, so replayed quotes never overtake order submissions
type lockstep struct {
	ctx    context.Context
	next   core.IEventSink
	engine *engine.Engine
}

func (l lockstep) Publish(ev core.Event) error {
	if err := l.next.Publish(ev); err != nil {
		return err
	}
	return l.engine.Drain(l.ctx)
}

func (a *App) replayRunner(f *feed.ReplayFeed) Runner {
	return RunnerFunc(func(ctx context.Context) error {
		sent, err := f.Run(ctx, lockstep{ctx: ctx, next: a.Gateway, engine: a.Engine})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := a.Engine.Drain(ctx); err != nil {
			return nil
		}
		a.Logger.Info("Replay processed", "events", sent, "equity", a.Gateway.Equity().String())
		return errReplayDone
	})
}

// Run blocks until SIGINT/SIGTERM, a fatal error or the end of a replay
func (a *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.RunContext(ctx)
}

// RunContext is Run with a caller-supplied context
func (a *App) RunContext(ctx context.Context) error {
	defer a.close()

	if a.connect != nil {
		if err := a.connect(ctx); err != nil {
			return fmt.Errorf("connect feed: %w", err)
		}
	}
	if a.server != nil {
		if err := a.server.Start(); err != nil {
			return err
		}
	}

	a.Logger.Info("Starting trader",
		"mode", a.Cfg.App.Mode,
		"instruments", a.Cfg.App.Instruments,
		"equity", a.Account.FreeEquity().String())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Engine.Run(gctx) })
	for _, r := range a.runners {
		r := r
		g.Go(func() error { return r.Run(gctx) })
	}

	err := g.Wait()
	if errors.Is(err, errReplayDone) {
		err = nil
	}
	if err != nil {
		a.Logger.Error("Trader stopped with error", "error", err.Error())
		return err
	}
	a.Logger.Info("Trader shut down gracefully", "engine", a.Engine.Stats())
	return nil
}

func (a *App) close() {
	if a.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := a.server.Stop(ctx); err != nil {
			a.Logger.Warn("HTTP server stop failed", "error", err.Error())
		}
		cancel()
		a.server = nil
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("Close failed", "error", err.Error())
		}
	}
	a.closers = nil
}
