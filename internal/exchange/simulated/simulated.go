// Package simulated provides an in-memory ExchangeClient used by tests and
// by instruments configured with mode: testnet when no live venue
// connection is desired: a mutex-guarded map of orders/positions with
// synchronous fills, no network calls.
package simulated

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/opensqt/perpcore/internal/core"
)

// Exchange is an in-memory ExchangeClient. Entry (limit-IOC) orders fill
// immediately at the supplied reference price and market orders at the
// coin's SetMidPrice value; stop and limit orders rest until explicitly
// filled via Fill, or cancelled.
type Exchange struct {
	mu sync.Mutex

	name          string
	szDecimals    map[string]int
	priceDecimals map[string]int
	leverage      map[string]int
	midPrices     map[string]decimal.Decimal
	equity        decimal.Decimal

	orders    map[string]core.VenueOrder
	positions map[string]core.VenuePosition
	orderSeq  int64

	candleSubs map[string][]func(core.Candle)
}

// New constructs a simulated exchange seeded with a $10,000 starting equity,
// matching a conventional mock exchange default balance.
func New(name string) *Exchange {
	return &Exchange{
		name:          name,
		szDecimals:    map[string]int{},
		priceDecimals: map[string]int{},
		leverage:      map[string]int{},
		midPrices:     map[string]decimal.Decimal{},
		equity:        decimal.NewFromInt(10_000),
		orders:        map[string]core.VenueOrder{},
		positions:     map[string]core.VenuePosition{},
		candleSubs:    map[string][]func(core.Candle){},
	}
}

func (e *Exchange) Connect(ctx context.Context) error { return nil }
func (e *Exchange) Name() string                       { return e.name }

// SetMidPrice lets tests drive the price GetMidPrice reports and market
// orders fill at.
func (e *Exchange) SetMidPrice(coin string, price decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.midPrices[coin] = price
}

// PushCandle delivers a candle to every coin subscriber, used by tests to
// drive a StrategyRunner under simulation.
func (e *Exchange) PushCandle(coin string, c core.Candle) {
	e.mu.Lock()
	subs := append([]func(core.Candle){}, e.candleSubs[coin]...)
	e.mu.Unlock()
	for _, cb := range subs {
		cb(c)
	}
}

func (e *Exchange) GetSzDecimals(ctx context.Context, coin string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d, ok := e.szDecimals[coin]; ok {
		return d, nil
	}
	return 5, nil
}

// SetSzDecimals lets tests override the default precision for a coin.
func (e *Exchange) SetSzDecimals(coin string, decimals int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.szDecimals[coin] = decimals
}

func (e *Exchange) GetPriceDecimals(ctx context.Context, coin string) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if d, ok := e.priceDecimals[coin]; ok {
		return d, nil
	}
	return 2, nil
}

func (e *Exchange) SetLeverage(ctx context.Context, coin string, leverage int, isCross bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.leverage[coin] = leverage
	return nil
}

func (e *Exchange) nextOrderID() string {
	e.orderSeq++
	return fmt.Sprintf("sim-%d", e.orderSeq)
}

// PlaceEntryOrder fills synchronously at referencePrice, matching the
// live adapter's limit-IOC contract: it never leaves a resting order.
func (e *Exchange) PlaceEntryOrder(ctx context.Context, coin string, isBuy bool, size, referencePrice decimal.Decimal, slippageBps int) (core.EntryFill, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextOrderID()
	side := core.Sell
	if isBuy {
		side = core.Buy
	}
	e.orders[id] = core.VenueOrder{OrderID: id, Coin: coin, Side: side, Size: size, Price: referencePrice, Status: "filled"}
	return core.EntryFill{OrderID: id, FilledSize: size, AvgPrice: referencePrice}, nil
}

func (e *Exchange) PlaceStopOrder(ctx context.Context, coin string, isBuy bool, size, triggerPrice decimal.Decimal, reduceOnly bool) (string, error) {
	return e.placeResting(coin, isBuy, size, triggerPrice)
}

func (e *Exchange) PlaceLimitOrder(ctx context.Context, coin string, isBuy bool, size, price decimal.Decimal, reduceOnly bool) (string, error) {
	return e.placeResting(coin, isBuy, size, price)
}

func (e *Exchange) placeResting(coin string, isBuy bool, size, price decimal.Decimal) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextOrderID()
	side := core.Sell
	if isBuy {
		side = core.Buy
	}
	e.orders[id] = core.VenueOrder{OrderID: id, Coin: coin, Side: side, Size: size, Price: price, Status: "open"}
	return id, nil
}

func (e *Exchange) PlaceMarketOrder(ctx context.Context, coin string, isBuy bool, size decimal.Decimal, reduceOnly bool) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextOrderID()
	side := core.Sell
	if isBuy {
		side = core.Buy
	}
	e.orders[id] = core.VenueOrder{OrderID: id, Coin: coin, Side: side, Size: size, Price: e.midPrices[coin], Status: "filled"}
	return id, nil
}

func (e *Exchange) CancelOrder(ctx context.Context, coin string, orderID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return fmt.Errorf("order not found: %s", orderID)
	}
	if o.Status == "filled" {
		return core.NewKindError(core.KindInvalidRequest, "order already filled", nil)
	}
	o.Status = "cancelled"
	e.orders[orderID] = o
	return nil
}

// Fill marks a resting order filled, used by tests to simulate a stop or
// take-profit triggering.
func (e *Exchange) Fill(orderID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if o, ok := e.orders[orderID]; ok {
		o.Status = "filled"
		e.orders[orderID] = o
	}
}

func (e *Exchange) GetPositions(ctx context.Context) ([]core.VenuePosition, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]core.VenuePosition, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, p)
	}
	return out, nil
}

// SetPosition lets tests seed a venue-side position for reconciliation
// scenarios.
func (e *Exchange) SetPosition(coin string, p core.VenuePosition) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions[coin] = p
}

func (e *Exchange) GetOpenOrders(ctx context.Context) ([]core.VenueOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []core.VenueOrder
	for _, o := range e.orders {
		if o.Status == "open" {
			out = append(out, o)
		}
	}
	return out, nil
}

func (e *Exchange) GetHistoricalOrders(ctx context.Context, limit int) ([]core.VenueOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []core.VenueOrder
	for _, o := range e.orders {
		out = append(out, o)
		if len(out) >= limit && limit > 0 {
			break
		}
	}
	return out, nil
}

func (e *Exchange) GetOrderStatus(ctx context.Context, orderID string) (core.VenueOrder, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	o, ok := e.orders[orderID]
	if !ok {
		return core.VenueOrder{}, fmt.Errorf("order not found: %s", orderID)
	}
	return o, nil
}

func (e *Exchange) GetAccountEquity(ctx context.Context) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.equity, nil
}

// SetEquity lets tests drive the account value directly.
func (e *Exchange) SetEquity(v decimal.Decimal) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.equity = v
}

func (e *Exchange) GetAccountState(ctx context.Context) (core.AccountState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return core.AccountState{AccountValue: e.equity, FreeCollateral: e.equity}, nil
}

func (e *Exchange) GetMidPrice(ctx context.Context, coin string) (decimal.Decimal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.midPrices[coin]
	if !ok {
		return decimal.Zero, fmt.Errorf("no mid price set for %s", coin)
	}
	return p, nil
}

func (e *Exchange) StreamCandles(ctx context.Context, coin string, interval string, onCandle func(core.Candle)) error {
	e.mu.Lock()
	e.candleSubs[coin] = append(e.candleSubs[coin], onCandle)
	e.mu.Unlock()

	<-ctx.Done()
	return nil
}

var _ core.ExchangeClient = (*Exchange)(nil)
