package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensqt/perpcore/internal/core"
	"github.com/opensqt/perpcore/internal/dispatcher"
	"github.com/opensqt/perpcore/internal/exchange/simulated"
	"github.com/opensqt/perpcore/internal/positionbook"
	"github.com/opensqt/perpcore/internal/store"
	"github.com/opensqt/perpcore/pkg/logging"
)

type noopEvents struct{}

func (noopEvents) Publish(eventType string, data interface{}) {}

type fixedPolicy struct{ p dispatcher.InstrumentPolicy }

func (f fixedPolicy) Resolve(coin string) (dispatcher.InstrumentPolicy, error) { return f.p, nil }

func newTestRunner(t *testing.T) (*Runner, *simulated.Exchange) {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	client := simulated.New("sim")
	client.SetMidPrice("BTC", decimal.NewFromInt(100))
	book := positionbook.New()
	st := store.NewMemoryStore()

	policy := dispatcher.InstrumentPolicy{
		Sizing:           core.Sizing{Mode: core.SizingFixed, FixedSize: decimal.NewFromInt(1)},
		Guardrails:       core.Guardrails{MaxOpenPositions: 5, MaxTradesPerDay: 50},
		SzDecimals:       4,
		PriceDecimals:    2,
		EntrySlippageBps: 10,
		Mode:             core.ModeTestnet,
	}
	disp := dispatcher.New(st, book, client, fixedPolicy{p: policy}, noopEvents{}, logger)

	strat := NewATRBreakout(3, 3, decimal.NewFromFloat(1.0))
	cfg := Config{
		Coin:               "BTC",
		Interval:           "1m",
		WarmupBars:         3,
		AutoTradingEnabled: true,
		Leverage:           5,
		MaxConsecutiveLosses: 2,
		MaxTradesPerDay:    50,
		SzDecimals:         4,
		PriceDecimals:      2,
	}
	r := New(cfg, strat, client, book, st, disp, noopEvents{}, logger)
	return r, client
}

func candle(t time.Time, o, h, l, c float64, closed bool) core.Candle {
	return core.Candle{
		T:      t,
		O:      decimal.NewFromFloat(o),
		H:      decimal.NewFromFloat(h),
		L:      decimal.NewFromFloat(l),
		C:      decimal.NewFromFloat(c),
		Closed: closed,
	}
}

func TestRunner_WarmupThenBreakoutEntersPosition(t *testing.T) {
	r, client := newTestRunner(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	time.Sleep(20 * time.Millisecond) // let StreamCandles register its subscription

	base := time.Unix(1_700_000_000, 0).UTC()
	// 3 warmup bars in a tight range.
	client.PushCandle("BTC", candle(base, 100, 101, 99, 100, true))
	client.PushCandle("BTC", candle(base.Add(time.Minute), 100, 101, 99, 100, true))
	client.PushCandle("BTC", candle(base.Add(2*time.Minute), 100, 101, 99, 100, true))

	time.Sleep(50 * time.Millisecond)

	// Breakout bar: close above the 3-bar high of 101.
	client.PushCandle("BTC", candle(base.Add(3*time.Minute), 100, 110, 100, 110, true))
	time.Sleep(50 * time.Millisecond)

	pos, open := r.book.Get("BTC")
	require.True(t, open, "expected a position to have opened on breakout")
	assert.Equal(t, core.Long, pos.Direction)

	cancel()
	<-done
}

func TestRunner_SetAutoTradingEnabledOverridesConfig(t *testing.T) {
	r, _ := newTestRunner(t)
	assert.True(t, r.AutoTradingEnabled())

	r.SetAutoTradingEnabled(false)
	assert.False(t, r.AutoTradingEnabled())
	assert.Equal(t, "BTC", r.Coin())

	r.SetAutoTradingEnabled(true)
	assert.True(t, r.AutoTradingEnabled())
}
