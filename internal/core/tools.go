package core

import (
	"github.com/shopspring/decimal"
)

// Guardrails are the static pre-trade checks SignalDispatcher enforces
// before placing an entry order.
type Guardrails struct {
	MaxNotionalUsd  decimal.Decimal
	MaxLeverage     int
	MaxOpenPositions int
	MaxDailyLossUsd decimal.Decimal
	MaxTradesPerDay int
	CooldownBars    int
	// MaxEntryDeviationPct bounds |entryPrice - currentPrice| / currentPrice.
	MaxEntryDeviationPct decimal.Decimal
}

// SizingMode enumerates the supported position-sizing policies.
type SizingMode string

const (
	SizingRisk  SizingMode = "risk"
	SizingCash  SizingMode = "cash"
	SizingFixed SizingMode = "fixed"
)

// Sizing is the configured sizing policy for one instrument.
type Sizing struct {
	Mode           SizingMode
	RiskPerTradeUsd decimal.Decimal
	CashPerTrade    decimal.Decimal
	FixedSize       decimal.Decimal
}

// Size computes the OrderIntent size for a signal under this policy.
// truncation to instrument precision happens downstream, in the dispatcher.
func (s Sizing) Size(entryPrice, stopLoss decimal.Decimal) decimal.Decimal {
	switch s.Mode {
	case SizingCash:
		if entryPrice.IsZero() {
			return decimal.Zero
		}
		return s.CashPerTrade.Div(entryPrice)
	case SizingFixed:
		return s.FixedSize
	case SizingRisk:
		fallthrough
	default:
		diff := entryPrice.Sub(stopLoss).Abs()
		if diff.IsZero() {
			return decimal.Zero
		}
		return s.RiskPerTradeUsd.Div(diff)
	}
}
