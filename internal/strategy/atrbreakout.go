package strategy

import (
	"github.com/shopspring/decimal"

	"github.com/opensqt/perpcore/internal/core"
)

// ATRBreakout is the reference core.Strategy shipped for tests and as a
// default instrument assignment: it enters on a close breaking out of the
// recent high/low channel and trails an ATR-multiple stop behind price.
// Modeled on a circuit-breaker drawdown-tracking style and its
// grid strategy's indicator bookkeeping, with the grid-slot ladder dropped
// since a single-position model has no slots to manage.
type ATRBreakout struct {
	ChannelBars   int
	ATRBars       int
	ATRMultiple   decimal.Decimal
	RiskRewardMin decimal.Decimal

	closes []decimal.Decimal
	highs  []decimal.Decimal
	lows   []decimal.Decimal
	atr    decimal.Decimal
}

func NewATRBreakout(channelBars, atrBars int, atrMultiple decimal.Decimal) *ATRBreakout {
	return &ATRBreakout{
		ChannelBars: channelBars,
		ATRBars:     atrBars,
		ATRMultiple: atrMultiple,
	}
}

func (s *ATRBreakout) Init(bars []core.Candle, htfs map[string][]core.Candle) error {
	for _, b := range bars {
		s.pushBar(b)
	}
	return nil
}

func (s *ATRBreakout) pushBar(c core.Candle) {
	s.closes = append(s.closes, c.C)
	s.highs = append(s.highs, c.H)
	s.lows = append(s.lows, c.L)

	max := s.ChannelBars
	if max < s.ATRBars {
		max = s.ATRBars
	}
	if len(s.closes) > max+1 {
		trim := len(s.closes) - (max + 1)
		s.closes = s.closes[trim:]
		s.highs = s.highs[trim:]
		s.lows = s.lows[trim:]
	}

	s.atr = s.computeATR()
}

func (s *ATRBreakout) computeATR() decimal.Decimal {
	n := s.ATRBars
	if len(s.closes) < 2 {
		return decimal.Zero
	}
	if n > len(s.closes)-1 {
		n = len(s.closes) - 1
	}
	if n <= 0 {
		return decimal.Zero
	}

	sum := decimal.Zero
	start := len(s.closes) - n
	for i := start; i < len(s.closes); i++ {
		prevClose := s.closes[i-1]
		tr1 := s.highs[i].Sub(s.lows[i]).Abs()
		tr2 := s.highs[i].Sub(prevClose).Abs()
		tr3 := s.lows[i].Sub(prevClose).Abs()
		tr := tr1
		if tr2.GreaterThan(tr) {
			tr = tr2
		}
		if tr3.GreaterThan(tr) {
			tr = tr3
		}
		sum = sum.Add(tr)
	}
	return sum.Div(decimal.NewFromInt(int64(n)))
}

func (s *ATRBreakout) channelHighLow() (high, low decimal.Decimal) {
	n := s.ChannelBars
	if n > len(s.highs) {
		n = len(s.highs)
	}
	if n == 0 {
		return decimal.Zero, decimal.Zero
	}
	start := len(s.highs) - n
	high, low = s.highs[start], s.lows[start]
	for i := start + 1; i < len(s.highs); i++ {
		if s.highs[i].GreaterThan(high) {
			high = s.highs[i]
		}
		if s.lows[i].LessThan(low) {
			low = s.lows[i]
		}
	}
	return high, low
}

func (s *ATRBreakout) OnCandle(ctx core.StrategyContext) (*core.Signal, error) {
	high, low := s.channelHighLow()
	full := len(s.highs) >= s.ChannelBars
	s.pushBar(ctx.Candle)
	if s.atr.IsZero() || !full {
		return nil, nil
	}

	price := ctx.Candle.C

	switch {
	case price.GreaterThan(high):
		stop := price.Sub(s.atr.Mul(s.ATRMultiple))
		return &core.Signal{
			Direction:  core.Long,
			EntryPrice: price,
			StopLoss:   stop,
			TakeProfits: []core.TakeProfit{
				{Price: price.Add(price.Sub(stop).Mul(decimal.NewFromInt(2))), Fraction: decimal.NewFromFloat(0.5)},
			},
			Comment: "atr_breakout_long",
		}, nil
	case price.LessThan(low):
		stop := price.Add(s.atr.Mul(s.ATRMultiple))
		return &core.Signal{
			Direction:  core.Short,
			EntryPrice: price,
			StopLoss:   stop,
			TakeProfits: []core.TakeProfit{
				{Price: price.Sub(stop.Sub(price).Mul(decimal.NewFromInt(2))), Fraction: decimal.NewFromFloat(0.5)},
			},
			Comment: "atr_breakout_short",
		}, nil
	}
	return nil, nil
}

// ShouldExit triggers only when price has reverted through the trailing
// ATR stop; StrategyRunner is the one that actually recognizes the venue
// stop order filling, so this covers the in-process mark-to-market path
// (e.g. a gap through the stop between candles).
func (s *ATRBreakout) ShouldExit(ctx core.StrategyContext) (bool, error) {
	if ctx.Position == nil || s.atr.IsZero() {
		return false, nil
	}
	level, ok, err := s.GetExitLevel(ctx)
	if err != nil || !ok {
		return false, nil
	}
	trail := ctx.Position.TrailingStopLoss
	if ctx.Position.Direction == core.Long {
		if trail.GreaterThan(level) {
			level = trail
		}
		return ctx.Candle.C.LessThanOrEqual(level), nil
	}
	if trail.IsPositive() && trail.LessThan(level) {
		level = trail
	}
	return ctx.Candle.C.GreaterThanOrEqual(level), nil
}

// GetExitLevel places the stop ATRMultiple*ATR behind the current close,
// never looser than the position's own stop-loss (for a short, only when
// that stop-loss is set). StrategyRunner only moves the venue stop when the
// level is more protective than the last one.
func (s *ATRBreakout) GetExitLevel(ctx core.StrategyContext) (decimal.Decimal, bool, error) {
	if ctx.Position == nil || s.atr.IsZero() {
		return decimal.Zero, false, nil
	}
	offset := s.atr.Mul(s.ATRMultiple)

	if ctx.Position.Direction == core.Long {
		level := ctx.Candle.C.Sub(offset)
		if level.LessThan(ctx.Position.StopLoss) {
			level = ctx.Position.StopLoss
		}
		return level, true, nil
	}
	level := ctx.Candle.C.Add(offset)
	if ctx.Position.StopLoss.IsPositive() && level.GreaterThan(ctx.Position.StopLoss) {
		level = ctx.Position.StopLoss
	}
	return level, true, nil
}

var _ core.Strategy = (*ATRBreakout)(nil)
