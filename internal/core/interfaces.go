package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ExchangeClient is the polymorphic boundary to the venue. Implementations
// must perform its own venue-specific input sanitization
// silently: the rest of the core never sees malformed venue output.
type ExchangeClient interface {
	Connect(ctx context.Context) error
	Name() string

	// GetSzDecimals returns the venue's size precision for coin, cached;
	// callers get 5 when metadata has not loaded yet.
	GetSzDecimals(ctx context.Context, coin string) (int, error)
	GetPriceDecimals(ctx context.Context, coin string) (int, error)

	// SetLeverage is idempotent; callers re-send it on every entry.
	SetLeverage(ctx context.Context, coin string, leverage int, isCross bool) error

	// PlaceEntryOrder places a limit-IOC order at
	// truncatePrice(ref*(1±bps/10000)); it never leaves a resting order.
	PlaceEntryOrder(ctx context.Context, coin string, isBuy bool, size, referencePrice decimal.Decimal, slippageBps int) (EntryFill, error)
	PlaceStopOrder(ctx context.Context, coin string, isBuy bool, size, triggerPrice decimal.Decimal, reduceOnly bool) (string, error)
	PlaceLimitOrder(ctx context.Context, coin string, isBuy bool, size, price decimal.Decimal, reduceOnly bool) (string, error)
	PlaceMarketOrder(ctx context.Context, coin string, isBuy bool, size decimal.Decimal, reduceOnly bool) (string, error)
	CancelOrder(ctx context.Context, coin string, orderID string) error

	GetPositions(ctx context.Context) ([]VenuePosition, error)
	GetOpenOrders(ctx context.Context) ([]VenueOrder, error)
	GetHistoricalOrders(ctx context.Context, limit int) ([]VenueOrder, error)
	GetOrderStatus(ctx context.Context, orderID string) (VenueOrder, error)
	GetAccountEquity(ctx context.Context) (decimal.Decimal, error)
	GetAccountState(ctx context.Context) (AccountState, error)
	GetMidPrice(ctx context.Context, coin string) (decimal.Decimal, error)

	// StreamCandles delivers closed and in-progress candles until ctx is
	// cancelled. Implementations must push monotonically in T per coin.
	StreamCandles(ctx context.Context, coin string, interval string, onCandle func(Candle)) error
}

// PersistentStore is the durable, single-writer record of signals, orders
// and equity snapshots. Implementations guarantee writes are atomic with
// respect to process crashes.
type PersistentStore interface {
	InsertSignal(ctx context.Context, rec SignalRecord) (int64, error)
	HasSignal(ctx context.Context, alertID string) (bool, error)
	InsertOrder(ctx context.Context, rec OrderRecord) (int64, error)
	UpdateOrderStatus(ctx context.Context, id int64, status OrderStatus, exchangeOrderID string) error
	GetPendingOrders(ctx context.Context) ([]OrderRecord, error)
	GetRecentOrders(ctx context.Context, limit int) ([]OrderRecord, error)
	InsertEquitySnapshot(ctx context.Context, snap EquitySnapshot) error
	GetTodayRealizedPnl(ctx context.Context, coin string) (decimal.Decimal, error)
	GetTodayTradeCount(ctx context.Context, coin string) (int, error)
	// GetTrailingStopOrder recovers a persisted trailing-sl order id for a
	// coin, used by StrategyRunner.warmup to avoid orphaning a trailing
	// stop across a restart.
	GetTrailingStopOrder(ctx context.Context, coin string) (string, bool, error)
	Close() error
}

// PositionBook is the in-memory, authoritative view of open positions, one
// per coin. positionbook.Book guards its map with its own mutex; whether a
// coin may be opened is decided by the caller (the SignalDispatcher's
// per-coin pending gate, or ReconcileLoop).
type PositionBook interface {
	Open(pos Position) error
	Close(coin string) (Position, bool)
	Get(coin string) (Position, bool)
	IsFlat(coin string) bool
	UpdatePrice(coin string, price decimal.Decimal)
	UpdateTrailingStopLoss(coin string, level decimal.Decimal)
	Count() int
	Coins() []string
}

// StrategyContext is the read-only view a Strategy's decision functions see.
type StrategyContext struct {
	Coin     string
	Candle   Candle
	Position *Position // nil when flat
}

// Strategy is the external collaborator StrategyRunner drives. Strategy
// implementations are stateful and own their own indicator state across
// calls to Init/OnCandle/ShouldExit/GetExitLevel for a given instrument.
type Strategy interface {
	// Init seeds the strategy with warmup history and any higher-timeframe
	// aggregates the runner computed.
	Init(bars []Candle, htfs map[string][]Candle) error
	// OnCandle is called only for a flat instrument that passed the entry
	// gate; a non-nil Signal requests a new position.
	OnCandle(ctx StrategyContext) (*Signal, error)
	// ShouldExit is evaluated only when a position is open.
	ShouldExit(ctx StrategyContext) (bool, error)
	// GetExitLevel returns the current trailing-stop level, if any.
	GetExitLevel(ctx StrategyContext) (decimal.Decimal, bool, error)
}

// EventPublisher is how components emit structured events to the EventBus.
type EventPublisher interface {
	Publish(eventType string, data interface{})
}

// ILogger defines the interface for logging. Kept minimal
// verbatim: every component programs against this, not a concrete logger.
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// HealthMonitor aggregates health status from different components.
type HealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// StaleDataEvent is delivered to a StrategyRunner's onStaleData hook.
type StaleDataEvent struct {
	Coin         string
	LastCandleAt time.Time
	SilentMs     int64
}
