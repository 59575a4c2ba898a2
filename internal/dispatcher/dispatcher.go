// Package dispatcher implements SignalDispatcher: the idempotent pipeline
// that turns a Signal into a protected open position, with retry/backoff
// around placement and an optional durable-workflow split for each step,
// generalized from grid-slot actions to a single-position-per-instrument
// pipeline.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/opensqt/perpcore/internal/alert"
	"github.com/opensqt/perpcore/internal/core"
	"github.com/opensqt/perpcore/internal/exchange"
	"github.com/opensqt/perpcore/pkg/tradingutils"
)

// Request is the input to Dispatch.
type Request struct {
	Signal             core.Signal
	Source             core.SignalSource
	AlertID            string
	Coin               string
	Leverage           int
	IsCross            bool
	AutoTradingEnabled bool
	CurrentPrice       decimal.Decimal
}

// InstrumentPolicy carries the per-instrument config a dispatch needs:
// sizing, guardrails, precision, and entry slippage.
type InstrumentPolicy struct {
	Sizing            core.Sizing
	Guardrails        core.Guardrails
	SzDecimals        int
	PriceDecimals     int
	EntrySlippageBps  int
	Mode              core.Mode
}

// PolicyResolver supplies the InstrumentPolicy for a coin; implemented by
// the Supervisor's instrument config lookup.
type PolicyResolver interface {
	Resolve(coin string) (InstrumentPolicy, error)
}

// Dispatcher implements the SignalDispatcher pipeline.
type Dispatcher struct {
	store    core.PersistentStore
	book     core.PositionBook
	client   core.ExchangeClient
	policies PolicyResolver
	events   core.EventPublisher
	logger   core.ILogger
	alerts   *alert.AlertManager

	pendingMu sync.Mutex
	pending   map[string]struct{}
}

// SetAlertManager wires an outbound notification fan-out for the dispatch
// pipeline's unrecoverable failure path. Optional: a nil alerts field
// leaves that path logging only.
func (d *Dispatcher) SetAlertManager(am *alert.AlertManager) {
	d.alerts = am
}

func New(store core.PersistentStore, book core.PositionBook, client core.ExchangeClient, policies PolicyResolver, events core.EventPublisher, logger core.ILogger) *Dispatcher {
	return &Dispatcher{
		store:    store,
		book:     book,
		client:   client,
		policies: policies,
		events:   events,
		logger:   logger.WithField("component", "dispatcher"),
		pending:  make(map[string]struct{}),
	}
}

func (d *Dispatcher) tryLock(coin string) bool {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	if _, ok := d.pending[coin]; ok {
		return false
	}
	d.pending[coin] = struct{}{}
	return true
}

func (d *Dispatcher) unlock(coin string) {
	d.pendingMu.Lock()
	defer d.pendingMu.Unlock()
	delete(d.pending, coin)
}

// Dispatch runs the full 11-step pipeline. It always releases the
// per-instrument pending gate on return.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (core.Position, error) {
	// Step 1: gating.
	if req.Source == core.SourceStrategy && !req.AutoTradingEnabled {
		return core.Position{}, core.NewKindError(core.KindAutoTradingDisabled, "strategy-sourced signal blocked by auto-trading flag", nil)
	}

	// Step 2: per-instrument serialization. A coin is occupied either by a
	// concurrent in-flight dispatch or by an already-open position; both
	// reject with the same PositionAlreadyOpenOrPending kind.
	if !d.tryLock(req.Coin) {
		return core.Position{}, core.NewKindError(core.KindPositionAlreadyPending, fmt.Sprintf("dispatch already in progress for %s", req.Coin), nil)
	}
	defer d.unlock(req.Coin)

	if !d.book.IsFlat(req.Coin) {
		return core.Position{}, core.NewKindError(core.KindPositionAlreadyPending, fmt.Sprintf("position already open for %s", req.Coin), nil)
	}

	alertID := req.AlertID
	if alertID == "" {
		alertID = exchange.NewRunnerAlertID(req.Coin, 0)
	}

	// Step 3: idempotency.
	has, err := d.store.HasSignal(ctx, alertID)
	if err != nil {
		return core.Position{}, err
	}
	if has {
		return core.Position{}, core.NewKindError(core.KindDuplicate, "alert id already processed: "+alertID, nil)
	}

	policy, err := d.policies.Resolve(req.Coin)
	if err != nil {
		return core.Position{}, err
	}

	// Step 4: intent derivation.
	intent := d.deriveIntent(req, policy)
	if intent.Size.LessThanOrEqual(decimal.Zero) {
		d.persistSignal(ctx, alertID, req, intent, false, "SizeZero")
		return core.Position{}, core.NewKindError(core.KindValidation, "SizeZero", nil)
	}

	// Step 5: risk check.
	if reason := d.checkGuardrails(ctx, req, intent, policy); reason != "" {
		d.persistSignal(ctx, alertID, req, intent, false, reason)
		return core.Position{}, core.NewKindError(core.KindRiskRejected, reason, nil)
	}
	signalID := d.persistSignal(ctx, alertID, req, intent, true, "")
	in := dispatchInput{req: req, alertID: alertID, signalID: signalID, policy: policy, intent: intent}

	// Steps 6-11.
	if err := d.client.SetLeverage(ctx, req.Coin, req.Leverage, req.IsCross); err != nil {
		d.logger.Warn("leverage sync failed", "coin", req.Coin, "error", err)
	}

	posAny, err := d.placeEntry(ctx, in)
	if err != nil {
		return core.Position{}, err
	}
	pos := posAny.(core.Position)

	posAny, err = d.protectWithStopLoss(ctx, in, pos)
	if err != nil {
		return posAny.(core.Position), err
	}
	pos = posAny.(core.Position)

	d.placeTakeProfits(ctx, in, pos)
	d.hydrateAndNotify(pos)

	return pos, nil
}

// placeEntry executes step 7 (entry order placement and partial-fill
// handling) and returns the resulting core.Position. Shared by the inline
// Dispatch path and the DBOS-wrapped DurableWorkflow.
func (d *Dispatcher) placeEntry(ctx context.Context, in dispatchInput) (any, error) {
	req, policy, intent, signalID := in.req, in.policy, in.intent, in.signalID

	isBuy := req.Signal.Direction == core.Long
	fill, err := d.client.PlaceEntryOrder(ctx, req.Coin, isBuy, intent.Size, req.CurrentPrice, policy.EntrySlippageBps)
	if err != nil {
		d.insertOrder(ctx, signalID, req.Coin, core.SideForDirection(req.Signal.Direction), intent.Size, req.CurrentPrice, core.OrderTypeLimit, core.TagEntry, core.OrderRejected, policy.Mode, "")
		return core.Position{}, err
	}
	actualSize := tradingutils.TruncateQuantity(fill.FilledSize, policy.SzDecimals)
	if actualSize.LessThanOrEqual(decimal.Zero) {
		d.insertOrder(ctx, signalID, req.Coin, core.SideForDirection(req.Signal.Direction), intent.Size, req.CurrentPrice, core.OrderTypeLimit, core.TagEntry, core.OrderCancelled, policy.Mode, fill.OrderID)
		d.events.Publish("entry_no_fill", map[string]interface{}{"coin": req.Coin, "alertId": in.alertID})
		return core.Position{}, core.NewKindError(core.KindEntryNotFilled, "entry order filled zero size", nil)
	}
	d.insertOrder(ctx, signalID, req.Coin, core.SideForDirection(req.Signal.Direction), actualSize, fill.AvgPrice, core.OrderTypeLimit, core.TagEntry, core.OrderFilled, policy.Mode, fill.OrderID)

	return core.Position{
		Coin:         req.Coin,
		Direction:    req.Signal.Direction,
		EntryPrice:   fill.AvgPrice,
		Size:         actualSize,
		StopLoss:     req.Signal.StopLoss,
		TakeProfits:  req.Signal.TakeProfits,
		Leverage:     req.Leverage,
		CurrentPrice: fill.AvgPrice,
		SignalID:     signalID,
	}, nil
}

// protectWithStopLoss executes step 8: placing the critical protective
// stop, with rollback-then-hydrate-unprotected as the last resort. Returns
// the (possibly stopLoss-zeroed) position alongside any error; a non-nil
// error with a zero-valued position means the rollback itself succeeded
// and the caller should treat the dispatch as failed with no open position.
func (d *Dispatcher) protectWithStopLoss(ctx context.Context, in dispatchInput, pos core.Position) (any, error) {
	req, policy, signalID := in.req, in.policy, in.signalID
	isBuy := req.Signal.Direction == core.Long

	slSide := req.Signal.Direction.Opposite()
	slOrderID, err := d.client.PlaceStopOrder(ctx, req.Coin, slSide == core.Long, pos.Size, req.Signal.StopLoss, true)
	if err != nil {
		d.logger.Error("stop-loss placement failed, attempting rollback", "coin", req.Coin, "error", err)
		if _, rbErr := d.client.PlaceMarketOrder(ctx, req.Coin, !isBuy, pos.Size, true); rbErr != nil {
			d.logger.Error("rollback market order also failed; hydrating unprotected position", "coin", req.Coin, "error", rbErr)
			pos.StopLoss = decimal.Zero
			_ = d.book.Open(pos)
			if d.alerts != nil {
				d.alerts.Alert(ctx, "unprotected position", fmt.Sprintf("%s: stop-loss and rollback both failed", req.Coin), alert.Critical, map[string]string{
					"coin":        req.Coin,
					"size":        pos.Size.String(),
					"slErr":       err.Error(),
					"rollbackErr": rbErr.Error(),
				})
			}
			return pos, core.NewKindError(core.KindCriticalProtectionFailure, "stop-loss and rollback both failed", err)
		}
		return core.Position{}, err
	}
	d.insertOrder(ctx, signalID, req.Coin, core.SideForDirection(slSide), pos.Size, req.Signal.StopLoss, core.OrderTypeStop, core.TagSL, core.OrderPending, policy.Mode, slOrderID)
	return pos, nil
}

// placeTakeProfits executes step 9, best-effort: failures are logged and
// swallowed so the pipeline always reaches hydration and notification.
func (d *Dispatcher) placeTakeProfits(ctx context.Context, in dispatchInput, pos core.Position) {
	req, policy, signalID := in.req, in.policy, in.signalID
	slSide := req.Signal.Direction.Opposite()

	for i, tp := range req.Signal.TakeProfits {
		tpSize := tradingutils.TruncateQuantity(pos.Size.Mul(tp.Fraction), policy.SzDecimals)
		if tpSize.LessThanOrEqual(decimal.Zero) {
			continue
		}
		tpOrderID, tpErr := d.client.PlaceLimitOrder(ctx, req.Coin, slSide == core.Long, tpSize, tp.Price, true)
		if tpErr != nil {
			d.logger.Warn("take-profit placement failed", "coin", req.Coin, "index", i, "error", tpErr)
			continue
		}
		d.insertOrder(ctx, signalID, req.Coin, core.SideForDirection(slSide), tpSize, tp.Price, core.OrderTypeLimit, core.TPTag(i), core.OrderPending, policy.Mode, tpOrderID)
	}
}

// hydrateAndNotify executes steps 10-11: reconciling against a racing
// ReconcileLoop hydration and emitting the position_opened event.
func (d *Dispatcher) hydrateAndNotify(pos core.Position) {
	if existing, ok := d.book.Get(pos.Coin); ok && existing.SignalID == core.HydratedSignalID {
		d.book.Close(pos.Coin)
	}
	if err := d.book.Open(pos); err != nil {
		d.book.Close(pos.Coin)
		_ = d.book.Open(pos)
	}

	d.events.Publish("position_opened", map[string]interface{}{"coin": pos.Coin, "direction": pos.Direction, "size": pos.Size.String(), "entryPrice": pos.EntryPrice.String()})
}

func (d *Dispatcher) deriveIntent(req Request, policy InstrumentPolicy) core.OrderIntent {
	rawSize := policy.Sizing.Size(req.Signal.EntryPrice, req.Signal.StopLoss)
	size := tradingutils.TruncateQuantity(rawSize, policy.SzDecimals)
	entryPrice := tradingutils.TruncatePrice(req.Signal.EntryPrice, policy.PriceDecimals)
	stopLoss := tradingutils.TruncatePrice(req.Signal.StopLoss, policy.PriceDecimals)

	return core.OrderIntent{
		Coin:        req.Coin,
		Side:        core.SideForDirection(req.Signal.Direction),
		Direction:   req.Signal.Direction,
		Size:        size,
		EntryPrice:  entryPrice,
		StopLoss:    stopLoss,
		TakeProfits: req.Signal.TakeProfits,
		Notional:    size.Mul(entryPrice),
	}
}

func (d *Dispatcher) checkGuardrails(ctx context.Context, req Request, intent core.OrderIntent, policy InstrumentPolicy) string {
	g := policy.Guardrails
	if g.MaxNotionalUsd.IsPositive() && intent.Notional.GreaterThan(g.MaxNotionalUsd) {
		return "notional exceeds maxNotionalUsd"
	}
	if g.MaxLeverage > 0 && req.Leverage > g.MaxLeverage {
		return "leverage exceeds maxLeverage"
	}
	if g.MaxOpenPositions > 0 && d.book.Count() >= g.MaxOpenPositions {
		return "openPositions at or above maxOpenPositions"
	}
	if g.MaxDailyLossUsd.IsPositive() {
		pnl, err := d.store.GetTodayRealizedPnl(ctx, req.Coin)
		if err == nil && pnl.Neg().GreaterThanOrEqual(g.MaxDailyLossUsd) {
			return "daily loss at or above maxDailyLossUsd"
		}
	}
	if g.MaxTradesPerDay > 0 {
		count, err := d.store.GetTodayTradeCount(ctx, req.Coin)
		if err == nil && count >= g.MaxTradesPerDay {
			return "tradesToday at or above maxTradesPerDay"
		}
	}
	if g.MaxEntryDeviationPct.IsPositive() && req.CurrentPrice.IsPositive() {
		dev := req.Signal.EntryPrice.Sub(req.CurrentPrice).Abs().Div(req.CurrentPrice).Mul(decimal.NewFromInt(100))
		if dev.GreaterThan(g.MaxEntryDeviationPct) {
			return "entryPrice deviates from currentPrice beyond maxEntryDeviationPct"
		}
	}
	return ""
}

func (d *Dispatcher) persistSignal(ctx context.Context, alertID string, req Request, intent core.OrderIntent, passed bool, reason string) int64 {
	rec := core.SignalRecord{
		AlertID:         alertID,
		Source:          req.Source,
		Coin:            req.Coin,
		Side:            core.SideForDirection(req.Signal.Direction),
		EntryPrice:      intent.EntryPrice,
		StopLoss:        intent.StopLoss,
		TakeProfits:     req.Signal.TakeProfits,
		RiskCheckPassed: passed,
		RiskCheckReason: reason,
	}
	id, err := d.store.InsertSignal(ctx, rec)
	if err != nil {
		d.logger.Error("failed to persist signal", "coin", req.Coin, "error", err)
	}
	return id
}

func (d *Dispatcher) insertOrder(ctx context.Context, signalID int64, coin string, side core.Side, size, price decimal.Decimal, typ core.OrderType, tag core.OrderTag, status core.OrderStatus, mode core.Mode, exchangeOrderID string) {
	_, err := d.store.InsertOrder(ctx, core.OrderRecord{
		SignalID:        signalID,
		ExchangeOrderID: exchangeOrderID,
		Coin:            coin,
		Side:            side,
		Size:            size,
		Price:           price,
		Type:            typ,
		Tag:             tag,
		Status:          status,
		Mode:            mode,
	})
	if err != nil {
		d.logger.Error("failed to persist order", "coin", coin, "tag", tag, "error", err)
	}
}
