// Package strategy implements StrategyRunner: the per-instrument
// candle-driven loop that warms up a Strategy, tracks cooldown/loss-streak
// state, manages trailing stops, and hands qualifying signals to the
// SignalDispatcher, with circuit-breaker-style consecutive-loss/cooldown
// bookkeeping generalized from a global trip-switch to per-bar
// entry gating.
package strategy

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensqt/perpcore/internal/core"
	"github.com/opensqt/perpcore/internal/dispatcher"
)

// Config is the per-instrument assignment StrategyRunner is built from.
type Config struct {
	Coin               string
	Interval           string
	WarmupBars         int
	AutoTradingEnabled bool
	Leverage           int
	IsCross            bool
	CooldownBars       int
	MaxConsecutiveLosses int
	MaxDailyLossUsd    decimal.Decimal
	MaxTradesPerDay    int
	SzDecimals         int
	PriceDecimals      int
}

// state is the cooldown/tracking bookkeeping held across candles, owned
// exclusively by the single StrategyRunner goroutine that updates it.
type state struct {
	barsSinceExit     int
	consecutiveLosses int
	dailyPnl          decimal.Decimal
	tradesToday       int
	lastTradeDayUTC   time.Time

	hasExitLevel  bool
	lastExitLevel decimal.Decimal
	trailingSlOid string

	lastCandleAt   time.Time
	alertCounter   int64
	staleWarnCount int
}

// Runner drives one Strategy against one instrument's candle stream.
type Runner struct {
	cfg      Config
	strategy core.Strategy
	client   core.ExchangeClient
	book     core.PositionBook
	store    core.PersistentStore
	disp     *dispatcher.Dispatcher
	events   core.EventPublisher
	logger   core.ILogger

	st state

	// autoTradingEnabled starts from cfg.AutoTradingEnabled but is
	// live-toggleable via SetAutoTradingEnabled (the operator API's
	// per-coin switch), so it's tracked separately from cfg.
	autoTradingEnabled atomic.Bool

	onNewCandle func(core.Candle)
	onStaleData func(core.StaleDataEvent)
}

func New(cfg Config, strat core.Strategy, client core.ExchangeClient, book core.PositionBook, store core.PersistentStore, disp *dispatcher.Dispatcher, events core.EventPublisher, logger core.ILogger) *Runner {
	r := &Runner{
		cfg:      cfg,
		strategy: strat,
		client:   client,
		book:     book,
		store:    store,
		disp:     disp,
		events:   events,
		logger:   logger.WithField("coin", cfg.Coin),
	}
	r.autoTradingEnabled.Store(cfg.AutoTradingEnabled)
	return r
}

// Coin returns the instrument this runner drives, used by the operator API
// to route per-coin requests without reaching into cfg.
func (r *Runner) Coin() string { return r.cfg.Coin }

// SetAutoTradingEnabled flips the live auto-trading gate this runner checks
// on every signal dispatch. Takes effect on the next candle.
func (r *Runner) SetAutoTradingEnabled(enabled bool) {
	r.autoTradingEnabled.Store(enabled)
}

// AutoTradingEnabled reports the current live gate state.
func (r *Runner) AutoTradingEnabled() bool {
	return r.autoTradingEnabled.Load()
}

// SetObservers wires the optional onNewCandle/onStaleData hooks used by the
// API layer for live display; both may be left nil.
func (r *Runner) SetObservers(onNewCandle func(core.Candle), onStaleData func(core.StaleDataEvent)) {
	r.onNewCandle = onNewCandle
	r.onStaleData = onStaleData
}

// Run starts the candle stream, performs warmup, then processes candles
// until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) error {
	candles := make(chan core.Candle, 64)
	streamErr := make(chan error, 1)

	go func() {
		streamErr <- r.client.StreamCandles(ctx, r.cfg.Coin, r.cfg.Interval, func(c core.Candle) {
			select {
			case candles <- c:
			case <-ctx.Done():
			}
		})
	}()

	if err := r.warmup(ctx, candles); err != nil {
		return err
	}

	silentPolls := 0
	pollTimeout := r.pollTimeout()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-streamErr:
			return err
		case c := <-candles:
			silentPolls = 0
			r.st.lastCandleAt = c.T
			if r.onNewCandle != nil {
				r.onNewCandle(c)
			}
			if c.Closed {
				if err := r.processClosedCandle(ctx, c); err != nil {
					r.logger.Error("processClosedCandle failed", "coin", r.cfg.Coin, "error", err)
				}
			} else {
				r.tick(c)
			}
		case <-time.After(pollTimeout):
			silentPolls++
			if silentPolls >= 5 && r.onStaleData != nil {
				r.onStaleData(core.StaleDataEvent{
					Coin:         r.cfg.Coin,
					LastCandleAt: r.st.lastCandleAt,
					SilentMs:     time.Since(r.st.lastCandleAt).Milliseconds(),
				})
			}
		}
	}
}

func (r *Runner) pollTimeout() time.Duration {
	d, err := time.ParseDuration(r.cfg.Interval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// warmup accumulates closed bars from the stream until WarmupBars arrive,
// rejecting if the stream dries up with fewer than half that many. For an
// already-open position it re-derives lastExitLevel and recovers any
// persisted trailing-sl order id so no trailing stop becomes orphaned
// across a restart.
func (r *Runner) warmup(ctx context.Context, candles <-chan core.Candle) error {
	need := r.cfg.WarmupBars
	minBars := (need + 1) / 2

	var bars []core.Candle
	timeout := time.NewTimer(r.pollTimeout() * time.Duration(need+5))
	defer timeout.Stop()

	for len(bars) < need {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-candles:
			if c.Closed {
				bars = append(bars, c)
			}
		case <-timeout.C:
			if len(bars) < minBars {
				return fmt.Errorf("warmup for %s: only %d of %d bars arrived before timeout", r.cfg.Coin, len(bars), need)
			}
			return r.finishWarmup(ctx, bars)
		}
	}
	return r.finishWarmup(ctx, bars)
}

func (r *Runner) finishWarmup(ctx context.Context, bars []core.Candle) error {
	if err := r.strategy.Init(bars, nil); err != nil {
		return fmt.Errorf("strategy init for %s: %w", r.cfg.Coin, err)
	}

	pos, open := r.book.Get(r.cfg.Coin)
	if !open || len(bars) == 0 {
		return nil
	}

	sctx := core.StrategyContext{Coin: r.cfg.Coin, Candle: bars[len(bars)-1], Position: &pos}
	if level, ok, err := r.strategy.GetExitLevel(sctx); err == nil && ok {
		r.st.hasExitLevel = true
		r.st.lastExitLevel = level
	}
	if oid, ok, err := r.store.GetTrailingStopOrder(ctx, r.cfg.Coin); err == nil && ok {
		r.st.trailingSlOid = oid
	}
	return nil
}

// tick updates mark-to-market only; no strategy evaluation.
func (r *Runner) tick(c core.Candle) {
	r.book.UpdatePrice(r.cfg.Coin, c.C)
}

func (r *Runner) processClosedCandle(ctx context.Context, c core.Candle) error {
	day := c.T.UTC().Truncate(24 * time.Hour)
	if !day.Equal(r.st.lastTradeDayUTC) {
		r.st.dailyPnl = decimal.Zero
		r.st.tradesToday = 0
		r.st.consecutiveLosses = 0
		r.st.lastTradeDayUTC = day
	}

	r.book.UpdatePrice(r.cfg.Coin, c.C)
	pos, open := r.book.Get(r.cfg.Coin)

	if open {
		sctx := core.StrategyContext{Coin: r.cfg.Coin, Candle: c, Position: &pos}
		exit, err := r.strategy.ShouldExit(sctx)
		if err != nil {
			return err
		}
		if exit {
			return r.closePosition(ctx, pos, c)
		}
		r.trackTrailingStop(ctx, sctx, pos)
		return nil
	}

	r.st.barsSinceExit++
	if reason := r.canTrade(); reason != "" {
		return nil
	}

	sctx := core.StrategyContext{Coin: r.cfg.Coin, Candle: c}
	signal, err := r.strategy.OnCandle(sctx)
	if err != nil {
		return err
	}
	if signal == nil {
		return nil
	}

	r.st.alertCounter++
	alertID := fmt.Sprintf("runner-%d-%d", time.Now().UnixNano(), r.st.alertCounter)

	_, err = r.disp.Dispatch(ctx, dispatcher.Request{
		Signal:             *signal,
		Source:             core.SourceStrategy,
		AlertID:            alertID,
		Coin:               r.cfg.Coin,
		Leverage:           r.cfg.Leverage,
		IsCross:            r.cfg.IsCross,
		AutoTradingEnabled: r.autoTradingEnabled.Load(),
		CurrentPrice:       c.C,
	})
	if err != nil {
		r.logger.Warn("strategy signal dispatch failed", "coin", r.cfg.Coin, "error", err)
	}
	return nil
}

// canTrade consults the cooldown gate; returns a non-empty reason when
// entry is disallowed this bar.
func (r *Runner) canTrade() string {
	if r.cfg.CooldownBars > 0 && r.st.barsSinceExit < r.cfg.CooldownBars {
		return "cooldown"
	}
	maxLosses := r.cfg.MaxConsecutiveLosses
	if maxLosses <= 0 {
		maxLosses = 2
	}
	if r.st.consecutiveLosses >= maxLosses {
		return "consecutiveLosses"
	}
	if r.cfg.MaxDailyLossUsd.IsPositive() && r.st.dailyPnl.Neg().GreaterThanOrEqual(r.cfg.MaxDailyLossUsd) {
		return "dailyLoss"
	}
	if r.cfg.MaxTradesPerDay > 0 && r.st.tradesToday >= r.cfg.MaxTradesPerDay {
		return "tradesToday"
	}
	return ""
}

func (r *Runner) closePosition(ctx context.Context, pos core.Position, c core.Candle) error {
	isBuy := pos.Direction == core.Short // closing a short is buying back
	_, err := r.client.PlaceMarketOrder(ctx, r.cfg.Coin, isBuy, pos.Size, true)
	if err != nil {
		return fmt.Errorf("exit order for %s: %w", r.cfg.Coin, err)
	}

	var pnl decimal.Decimal
	if pos.Direction == core.Long {
		pnl = c.C.Sub(pos.EntryPrice).Mul(pos.Size)
	} else {
		pnl = pos.EntryPrice.Sub(c.C).Mul(pos.Size)
	}

	r.book.Close(r.cfg.Coin)
	r.st.barsSinceExit = 0
	r.st.hasExitLevel = false
	r.st.lastExitLevel = decimal.Zero
	r.st.trailingSlOid = ""
	r.st.dailyPnl = r.st.dailyPnl.Add(pnl)
	r.st.tradesToday++
	if pnl.IsNegative() {
		r.st.consecutiveLosses++
	} else {
		r.st.consecutiveLosses = 0
	}

	r.events.Publish("position_closed", map[string]interface{}{"coin": r.cfg.Coin, "pnl": pnl.String()})
	return nil
}

// trackTrailingStop implements the place-first-then-cancel sequencing so
// the position is never briefly unprotected.
func (r *Runner) trackTrailingStop(ctx context.Context, sctx core.StrategyContext, pos core.Position) {
	level, ok, err := r.strategy.GetExitLevel(sctx)
	if err != nil || !ok {
		return
	}

	moreProtective := !r.st.hasExitLevel
	if r.st.hasExitLevel {
		if pos.Direction == core.Long {
			moreProtective = level.GreaterThan(r.st.lastExitLevel)
		} else {
			moreProtective = level.LessThan(r.st.lastExitLevel)
		}
	}
	if !moreProtective {
		return
	}

	isBuy := pos.Direction == core.Short
	newOid, err := r.client.PlaceStopOrder(ctx, r.cfg.Coin, isBuy, pos.Size, level, true)
	if err != nil {
		r.logger.Warn("trailing stop placement failed", "coin", r.cfg.Coin, "error", err)
		return
	}

	if r.st.trailingSlOid != "" {
		if err := r.client.CancelOrder(ctx, r.cfg.Coin, r.st.trailingSlOid); err != nil {
			r.logger.Warn("cancel previous trailing stop failed", "coin", r.cfg.Coin, "oldOrderId", r.st.trailingSlOid, "error", err)
		}
	}

	r.st.trailingSlOid = newOid
	r.st.hasExitLevel = true
	r.st.lastExitLevel = level
	r.book.UpdateTrailingStopLoss(r.cfg.Coin, level)
}
