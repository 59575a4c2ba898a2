// Package reconcile implements ReconcileLoop: the fixed-cadence pass that
// reconciles PositionBook and PersistentStore against the exchange's own
// view, independent of dispatch traffic. Uses a ticker-driven Start/Stop
// shape with a separate order/position reconciliation split, regrounded
// from a multi-slot inventory model onto a single-position
// hydrate-or-close semantics.
package reconcile

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensqt/perpcore/internal/alert"
	"github.com/opensqt/perpcore/internal/core"
)

// driftTolerance is the maximum fractional size divergence between the
// local and exchange view of a both-present position before it is flagged.
var driftTolerance = decimal.NewFromFloat(0.01)

// Report summarizes one reconciliation pass, handed to the onReconciled
// observer and used to decide which event to emit.
type Report struct {
	Positions  []core.VenuePosition
	OpenOrders []core.VenueOrder
	Equity     decimal.Decimal
	Actions    []string
	Drift      bool
}

// Loop runs ReconcileLoop on a fixed interval for every coin present in
// either the PositionBook or the exchange's reported positions.
type Loop struct {
	exchange core.ExchangeClient
	book     core.PositionBook
	store    core.PersistentStore
	events   core.EventPublisher
	logger   core.ILogger
	interval time.Duration
	alerts   *alert.AlertManager

	onReconciled func(Report)

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(exchange core.ExchangeClient, book core.PositionBook, store core.PersistentStore, events core.EventPublisher, logger core.ILogger, interval time.Duration) *Loop {
	return &Loop{
		exchange: exchange,
		book:     book,
		store:    store,
		events:   events,
		logger:   logger.WithField("component", "reconcile"),
		interval: interval,
	}
}

// SetAlertManager wires an outbound notification fan-out for drift
// detection. Optional: a nil alerts field leaves drift logging only.
func (l *Loop) SetAlertManager(am *alert.AlertManager) {
	l.alerts = am
}

// SetObserver wires the optional onReconciled hook used by the API layer.
func (l *Loop) SetObserver(fn func(Report)) { l.onReconciled = fn }

// Start runs the reconcile ticker until ctx is cancelled or Stop is called.
func (l *Loop) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	l.mu.Lock()
	l.cancel = cancel
	l.mu.Unlock()

	l.wg.Add(1)
	go l.runLoop(runCtx)
}

func (l *Loop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	l.wg.Wait()
}

func (l *Loop) runLoop(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tickCtx, cancel := context.WithTimeout(ctx, l.interval)
			if err := l.Tick(tickCtx); err != nil {
				l.logger.Error("reconcile tick failed", "error", err)
			}
			cancel()
		}
	}
}

// Tick runs a single reconciliation pass.
func (l *Loop) Tick(ctx context.Context) error {
	positions, err := l.exchange.GetPositions(ctx)
	if err != nil {
		return err
	}
	openOrders, err := l.exchange.GetOpenOrders(ctx)
	if err != nil {
		return err
	}
	equity, err := l.exchange.GetAccountEquity(ctx)
	if err != nil {
		return err
	}

	report := Report{Positions: positions, OpenOrders: openOrders, Equity: equity}
	l.reconcilePositions(positions, &report)
	l.reconcileOrders(ctx, openOrders, &report)

	if err := l.store.InsertEquitySnapshot(ctx, core.EquitySnapshot{
		Ts:            time.Now(),
		Equity:        equity,
		OpenPositions: l.book.Count(),
	}); err != nil {
		l.logger.Error("insert equity snapshot failed", "error", err)
	}

	if report.Drift {
		l.events.Publish("reconcile_drift", report)
		if l.alerts != nil {
			l.alerts.Alert(ctx, "position drift detected", strings.Join(report.Actions, ", "), alert.Warning, nil)
		}
	} else {
		l.events.Publish("reconcile_ok", report)
	}
	if l.onReconciled != nil {
		l.onReconciled(report)
	}
	return nil
}

// reconcilePositions reconciles positions bidirectionally:
// hydrate/close, and drift detection for both-present positions.
func (l *Loop) reconcilePositions(venuePositions []core.VenuePosition, report *Report) {
	byCoin := make(map[string]core.VenuePosition, len(venuePositions))
	for _, p := range venuePositions {
		if !p.Size.IsZero() {
			byCoin[p.Coin] = p
		}
	}

	for coin, vp := range byCoin {
		local, open := l.book.Get(coin)
		if !open {
			l.book.Open(core.Position{
				Coin:          coin,
				Direction:     vp.Direction,
				EntryPrice:    vp.EntryPrice,
				Size:          vp.Size,
				StopLoss:      decimal.Zero,
				TakeProfits:   nil,
				LiquidationPx: vp.LiquidationPx,
				Leverage:      vp.Leverage,
				CurrentPrice:  vp.EntryPrice.Add(safeDiv(vp.UnrealizedPnl, vp.Size)),
				UnrealizedPnl: vp.UnrealizedPnl,
				OpenedAt:      time.Now(),
				SignalID:      core.HydratedSignalID,
			})
			report.Actions = append(report.Actions, "hydrated:"+coin)
			l.events.Publish("position_hydrated", map[string]interface{}{"coin": coin})
			continue
		}

		diff := local.Size.Sub(vp.Size).Abs()
		var rel decimal.Decimal
		if !local.Size.IsZero() {
			rel = diff.Div(local.Size)
		}
		if rel.GreaterThan(driftTolerance) {
			report.Drift = true
			report.Actions = append(report.Actions, "drift:"+coin)
		}

		local.CurrentPrice = vp.EntryPrice.Add(safeDiv(vp.UnrealizedPnl, vp.Size))
		local.UnrealizedPnl = vp.UnrealizedPnl
		l.book.UpdatePrice(coin, local.CurrentPrice)
	}

	for _, coin := range l.book.Coins() {
		if _, present := byCoin[coin]; !present {
			l.book.Close(coin)
			report.Actions = append(report.Actions, "auto_closed:"+coin)
			l.events.Publish("position_auto_closed", map[string]interface{}{"coin": coin})
		}
	}
}

// reconcileOrders syncs order status
// for every pending OrderRecord with a parseable numeric exchangeOrderId.
func (l *Loop) reconcileOrders(ctx context.Context, openOrders []core.VenueOrder, report *Report) {
	openByID := make(map[string]struct{}, len(openOrders))
	for _, o := range openOrders {
		openByID[o.OrderID] = struct{}{}
	}

	pending, err := l.store.GetPendingOrders(ctx)
	if err != nil {
		l.logger.Error("get pending orders failed", "error", err)
		return
	}

	for _, rec := range pending {
		if rec.ExchangeOrderID == "" {
			continue
		}
		if _, numErr := strconv.ParseInt(rec.ExchangeOrderID, 10, 64); numErr != nil {
			continue
		}
		if _, stillOpen := openByID[rec.ExchangeOrderID]; stillOpen {
			continue
		}

		venueOrder, found := l.findHistorical(ctx, rec.ExchangeOrderID)
		if !found {
			vo, err := l.exchange.GetOrderStatus(ctx, rec.ExchangeOrderID)
			if err == nil {
				venueOrder, found = vo, true
			}
		}

		if !found {
			if _, stillOpenPos := l.book.Get(rec.Coin); !stillOpenPos {
				_ = l.store.UpdateOrderStatus(ctx, rec.ID, core.OrderCancelled, rec.ExchangeOrderID)
				report.Actions = append(report.Actions, "order_cancelled:"+rec.ExchangeOrderID)
			}
			continue
		}

		if status, ok := mapVenueStatus(venueOrder.Status); ok {
			_ = l.store.UpdateOrderStatus(ctx, rec.ID, status, rec.ExchangeOrderID)
			report.Actions = append(report.Actions, "order_"+string(status)+":"+rec.ExchangeOrderID)
		}
	}
}

func (l *Loop) findHistorical(ctx context.Context, orderID string) (core.VenueOrder, bool) {
	hist, err := l.exchange.GetHistoricalOrders(ctx, 200)
	if err != nil {
		return core.VenueOrder{}, false
	}
	for _, o := range hist {
		if o.OrderID == orderID {
			return o, true
		}
	}
	return core.VenueOrder{}, false
}

func mapVenueStatus(venueStatus string) (core.OrderStatus, bool) {
	switch venueStatus {
	case "triggered", "filled":
		return core.OrderFilled, true
	case "canceled", "cancelled", "marginCanceled":
		return core.OrderCancelled, true
	case "rejected":
		return core.OrderRejected, true
	default:
		return "", false
	}
}

func safeDiv(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Div(b)
}
