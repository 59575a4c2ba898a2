// Package core defines the domain types and interfaces shared across the
// trading pipeline: candles, signals, orders, positions and the boundary
// interfaces the rest of the module programs against.
package core

import (
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of an open position.
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Opposite returns the other direction.
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// Side is the side of an individual order.
type Side string

const (
	Buy  Side = "buy"
	Sell Side = "sell"
)

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// SideForDirection maps an intended position direction to the entry order side.
func SideForDirection(d Direction) Side {
	if d == Long {
		return Buy
	}
	return Sell
}

// OrderType distinguishes the venue order type used to realize an OrderIntent.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// OrderTag identifies the role an order plays in a dispatch.
type OrderTag string

const (
	TagEntry      OrderTag = "entry"
	TagSL         OrderTag = "sl"
	TagTrailingSL OrderTag = "trailing-sl"
	TagClose      OrderTag = "close"
)

// TPTag builds the tag for the nth take-profit leg (1-indexed).
func TPTag(n int) OrderTag {
	return OrderTag("tp" + strconv.Itoa(n))
}

// OrderStatus is the lifecycle state of an OrderRecord.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFilled    OrderStatus = "filled"
	OrderCancelled OrderStatus = "cancelled"
	OrderRejected  OrderStatus = "rejected"
)

// SignalSource identifies who produced a Signal.
type SignalSource string

const (
	SourceStrategy SignalSource = "strategy"
	SourceAPI      SignalSource = "api"
	SourceRouter   SignalSource = "router"
)

// MarginType is the venue-side margin mode for an instrument.
type MarginType string

const (
	MarginIsolated MarginType = "isolated"
	MarginCross    MarginType = "cross"
)

// Mode selects the venue environment.
type Mode string

const (
	ModeTestnet Mode = "testnet"
	ModeMainnet Mode = "mainnet"
)

// Instrument is a tradable symbol plus the venue precision it must be
// truncated to before any value leaves the process.
type Instrument struct {
	Coin          string
	SzDecimals    int
	PriceDecimals int
	Leverage      int
	MarginType    MarginType
	IsCross       bool
}

// Candle is one OHLCV bar for an instrument.
type Candle struct {
	T time.Time
	O decimal.Decimal
	H decimal.Decimal
	L decimal.Decimal
	C decimal.Decimal
	V decimal.Decimal

	// Closed is false for an in-progress bar (further mutations may arrive
	// with the same T); true once the bar will never be revised.
	Closed bool
}

// TakeProfit is one leg of a signal's scale-out plan.
type TakeProfit struct {
	Price    decimal.Decimal
	Fraction decimal.Decimal // 0..1
}

// Signal is a strategy's (or operator's) declarative trade intent. Immutable
// once constructed.
type Signal struct {
	Direction   Direction
	EntryPrice  decimal.Decimal
	StopLoss    decimal.Decimal
	TakeProfits []TakeProfit
	Comment     string
}

// OrderIntent is a Signal after sizing and instrument-precision truncation.
type OrderIntent struct {
	Coin        string
	Side        Side
	Direction   Direction
	Size        decimal.Decimal
	EntryPrice  decimal.Decimal
	StopLoss    decimal.Decimal
	TakeProfits []TakeProfit
	Notional    decimal.Decimal
}

// Position is the open-position record PositionBook keeps, one per coin.
type Position struct {
	Coin             string
	Direction        Direction
	EntryPrice       decimal.Decimal
	Size             decimal.Decimal
	StopLoss         decimal.Decimal
	TakeProfits      []TakeProfit
	TrailingStopLoss decimal.Decimal
	LiquidationPx    decimal.Decimal
	Leverage         int
	CurrentPrice     decimal.Decimal
	UnrealizedPnl    decimal.Decimal
	OpenedAt         time.Time
	SignalID         int64
}

// HydratedSignalID is the sentinel SignalID assigned to positions the
// ReconcileLoop discovers on the exchange with no local origin.
const HydratedSignalID int64 = -1

// OrderRecord is the durable record of a single order placed against the
// exchange (or attempted).
type OrderRecord struct {
	ID              int64
	SignalID        int64
	ExchangeOrderID string // empty if the order never reached the exchange
	Coin            string
	Side            Side
	Size            decimal.Decimal
	Price           decimal.Decimal
	Type            OrderType
	Tag             OrderTag
	Status          OrderStatus
	Mode            Mode
	FilledAt        *time.Time
	CreatedAt       time.Time
}

// SignalRecord is the durable, immutable-once-inserted record of a dispatch
// attempt, keyed by its dedup AlertID.
type SignalRecord struct {
	ID              int64
	AlertID         string
	Source          SignalSource
	Coin            string
	Side            Side
	EntryPrice      decimal.Decimal
	StopLoss        decimal.Decimal
	TakeProfits     []TakeProfit
	RiskCheckPassed bool
	RiskCheckReason string
	CreatedAt       time.Time
}

// EquitySnapshot is appended on every reconcile tick.
type EquitySnapshot struct {
	Ts            time.Time
	Equity        decimal.Decimal
	OpenPositions int
}

// AccountState is the composed equity/margin view ExchangeClient reports.
type AccountState struct {
	AccountValue   decimal.Decimal // perps accountValue
	FreeCollateral decimal.Decimal // free spot collateral, hold already excluded
	Leverage       decimal.Decimal
}

// Equity returns the total equity used for guardrail and display purposes.
func (a AccountState) Equity() decimal.Decimal {
	return a.AccountValue.Add(a.FreeCollateral)
}

// EntryFill is the result of placing an entry order.
type EntryFill struct {
	OrderID    string
	FilledSize decimal.Decimal
	AvgPrice   decimal.Decimal
}

// VenueOrder is an open or historical order as reported by the exchange.
type VenueOrder struct {
	OrderID    string
	Coin       string
	Side       Side
	Size       decimal.Decimal
	Price      decimal.Decimal
	Status     string // venue-native status string, mapped by the caller
	ReduceOnly bool
}

// VenuePosition is a position as reported by the exchange.
type VenuePosition struct {
	Coin          string
	Direction     Direction
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnl decimal.Decimal
	LiquidationPx decimal.Decimal
	Leverage      int
}
