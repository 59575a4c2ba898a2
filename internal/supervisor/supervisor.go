// Package supervisor wires one process's full pipeline together: the
// exchange client, store, position book, dispatcher, one StrategyRunner per
// configured instrument, and the reconcile loop, then runs them under a
// single errgroup-cancelled lifecycle. Modeled on an App/Runner skeleton's
// errgroup.WithContext + signal.NotifyContext shape, generalized from a
// single generic Runner list to the concrete set of long-running components
// this domain needs.
package supervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"

	"github.com/opensqt/perpcore/internal/alert"
	"github.com/opensqt/perpcore/internal/config"
	"github.com/opensqt/perpcore/internal/core"
	"github.com/opensqt/perpcore/internal/dispatcher"
	"github.com/opensqt/perpcore/internal/eventbus"
	"github.com/opensqt/perpcore/internal/exchange"
	"github.com/opensqt/perpcore/internal/positionbook"
	"github.com/opensqt/perpcore/internal/reconcile"
	"github.com/opensqt/perpcore/internal/store"
	"github.com/opensqt/perpcore/internal/strategy"
	"github.com/opensqt/perpcore/pkg/concurrency"
)

// Supervisor owns every long-running component for one process's configured
// instrument set plus the locks and handles needed to shut them down
// cleanly.
type Supervisor struct {
	cfg    *config.Config
	logger core.ILogger

	locks []*flock.Flock

	Store     core.PersistentStore
	Client    core.ExchangeClient
	Book      core.PositionBook
	Events    *eventbus.Bus
	Dispatch  *dispatcher.Dispatcher
	Reconcile *reconcile.Loop
	Alerts    *alert.AlertManager

	runners []*strategy.Runner
	pool    *concurrency.WorkerPool
}

// Runners returns every configured StrategyRunner, used by the operator API
// to route per-coin auto-trading toggles.
func (s *Supervisor) Runners() []*strategy.Runner {
	return s.runners
}

// policyResolver adapts a Config's per-instrument sections, plus venue
// precision cached at startup, into dispatcher.PolicyResolver.
type policyResolver struct {
	cfg           *config.Config
	szDecimals    map[string]int
	priceDecimals map[string]int
}

// newAlertManager builds an AlertManager with a channel per configured
// credential; a config with no credentials set yields a manager with zero
// channels, so Alert calls are harmless no-ops.
func newAlertManager(cfg config.AlertConfig, logger core.ILogger) *alert.AlertManager {
	am := alert.NewAlertManager(logger)
	if cfg.SlackWebhookURL != "" {
		am.AddChannel(alert.NewSlackChannel(string(cfg.SlackWebhookURL)))
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		am.AddChannel(alert.NewTelegramChannel(string(cfg.TelegramBotToken), cfg.TelegramChatID))
	}
	return am
}

func (r *policyResolver) Resolve(coin string) (dispatcher.InstrumentPolicy, error) {
	inst, ok := r.cfg.Instruments[coin]
	if !ok {
		return dispatcher.InstrumentPolicy{}, fmt.Errorf("no instrument configured for coin %s", coin)
	}
	return dispatcher.InstrumentPolicy{
		Sizing:           inst.Sizing.ToCore(),
		Guardrails:       inst.Guardrails.ToCore(),
		SzDecimals:       r.szDecimals[coin],
		PriceDecimals:    r.priceDecimals[coin],
		EntrySlippageBps: inst.EntrySlippageBps,
		Mode:             inst.Mode,
	}, nil
}

// New builds every component from cfg but acquires no locks and starts
// nothing; call Run to start the pipeline.
func New(cfg *config.Config, logger core.ILogger) (*Supervisor, error) {
	client, err := exchange.New(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("construct exchange client: %w", err)
	}

	st, err := store.Open(cfg.App.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	events := eventbus.New(cfg.App.EventLogPath, logger)
	if err := events.Open(); err != nil {
		st.Close()
		return nil, fmt.Errorf("open event log: %w", err)
	}

	book := positionbook.New()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.Connect(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("connect exchange client: %w", err)
	}

	resolver := &policyResolver{cfg: cfg, szDecimals: map[string]int{}, priceDecimals: map[string]int{}}
	for coin := range cfg.Instruments {
		sz, err := client.GetSzDecimals(ctx, coin)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("fetch size precision for %s: %w", coin, err)
		}
		px, err := client.GetPriceDecimals(ctx, coin)
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("fetch price precision for %s: %w", coin, err)
		}
		resolver.szDecimals[coin] = sz
		resolver.priceDecimals[coin] = px
	}

	disp := dispatcher.New(st, book, client, resolver, events, logger)

	alerts := newAlertManager(cfg.Alerts, logger)
	disp.SetAlertManager(alerts)

	reconcileInterval := time.Duration(cfg.App.ReconcileIntervalSeconds) * time.Second
	reconcileLoop := reconcile.New(client, book, st, events, logger, reconcileInterval)
	reconcileLoop.SetAlertManager(alerts)

	pool := concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:       "strategy-runners",
		MaxWorkers: len(cfg.Instruments) + 1,
	}, logger)

	sup := &Supervisor{
		cfg:       cfg,
		logger:    logger.WithField("component", "supervisor"),
		Store:     st,
		Client:    client,
		Book:      book,
		Events:    events,
		Dispatch:  disp,
		Reconcile: reconcileLoop,
		Alerts:    alerts,
		pool:      pool,
	}

	for coin, inst := range cfg.Instruments {
		for _, assignment := range inst.Strategies {
			strat, err := strategy.NewStrategy(assignment.Name, assignment.Params)
			if err != nil {
				st.Close()
				return nil, fmt.Errorf("instrument %s: %w", coin, err)
			}
			runnerCfg := strategy.Config{
				Coin:               coin,
				Interval:           assignment.Interval,
				WarmupBars:         assignment.WarmupBars,
				AutoTradingEnabled: assignment.AutoTradingEnabled,
				Leverage:           inst.Leverage,
				IsCross:            inst.MarginType == core.MarginCross,
				CooldownBars:       inst.Guardrails.CooldownBars,
				MaxDailyLossUsd:    inst.Guardrails.MaxDailyLossUsd,
				MaxTradesPerDay:    inst.Guardrails.MaxTradesPerDay,
				SzDecimals:         resolver.szDecimals[coin],
				PriceDecimals:      resolver.priceDecimals[coin],
			}
			sup.runners = append(sup.runners, strategy.New(runnerCfg, strat, client, book, st, disp, events, logger))
		}
	}

	return sup, nil
}

// acquireLocks takes one flock(2) lock per configured instrument coin,
// guaranteeing no second process races the same instrument. It returns an
// error immediately if any lock is already held; partially acquired locks
// are released before returning.
func (s *Supervisor) acquireLocks() error {
	if err := os.MkdirAll(s.cfg.App.LockDir, 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	for coin := range s.cfg.Instruments {
		path := filepath.Join(s.cfg.App.LockDir, coin+".lock")
		fl := flock.New(path)
		ok, err := fl.TryLock()
		if err != nil {
			s.releaseLocks()
			return fmt.Errorf("lock %s: %w", coin, err)
		}
		if !ok {
			s.releaseLocks()
			return fmt.Errorf("instrument %s is already locked by another process (%s)", coin, path)
		}
		s.locks = append(s.locks, fl)
	}
	return nil
}

func (s *Supervisor) releaseLocks() {
	for _, fl := range s.locks {
		if err := fl.Unlock(); err != nil {
			s.logger.Warn("failed to release instrument lock", "path", fl.Path(), "error", err)
		}
	}
	s.locks = nil
}

// Run acquires the per-instrument locks, starts the reconcile loop and
// every StrategyRunner, and blocks until ctx is cancelled or a runner
// exits with an error. Every exit path releases the locks.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.acquireLocks(); err != nil {
		return err
	}
	defer s.releaseLocks()
	defer s.Store.Close()
	defer s.pool.Stop()

	s.Reconcile.Start(ctx)
	defer s.Reconcile.Stop()

	g, gctx := errgroup.WithContext(ctx)
	for _, r := range s.runners {
		r := r
		g.Go(func() error {
			var runErr error
			s.pool.SubmitAndWait(func() { runErr = r.Run(gctx) })
			return runErr
		})
	}

	s.logger.Info("supervisor running", "instruments", len(s.cfg.Instruments), "runners", len(s.runners))

	if err := g.Wait(); err != nil && gctx.Err() == nil {
		return err
	}
	return nil
}
