package dispatcher

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensqt/perpcore/internal/core"
	"github.com/opensqt/perpcore/internal/exchange/simulated"
	"github.com/opensqt/perpcore/internal/positionbook"
	"github.com/opensqt/perpcore/internal/store"
	"github.com/opensqt/perpcore/pkg/logging"
)

type noopEvents struct{ published []string }

func (e *noopEvents) Publish(eventType string, data interface{}) { e.published = append(e.published, eventType) }

type fixedPolicy struct{ p InstrumentPolicy }

func (f fixedPolicy) Resolve(coin string) (InstrumentPolicy, error) { return f.p, nil }

func newTestDispatcher(t *testing.T, policy InstrumentPolicy) (*Dispatcher, *simulated.Exchange, *noopEvents) {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	client := simulated.New("sim")
	client.SetMidPrice("BTC", decimal.NewFromInt(50000))
	book := positionbook.New()
	st := store.NewMemoryStore()
	events := &noopEvents{}

	d := New(st, book, client, fixedPolicy{p: policy}, events, logger)
	return d, client, events
}

func defaultPolicy() InstrumentPolicy {
	return InstrumentPolicy{
		Sizing:           core.Sizing{Mode: core.SizingCash, CashPerTrade: decimal.NewFromInt(1000)},
		Guardrails:       core.Guardrails{MaxNotionalUsd: decimal.NewFromInt(100000), MaxLeverage: 20, MaxOpenPositions: 5, MaxTradesPerDay: 50},
		SzDecimals:       4,
		PriceDecimals:    1,
		EntrySlippageBps: 10,
		Mode:             core.ModeTestnet,
	}
}

func baseRequest() Request {
	return Request{
		Signal: core.Signal{
			Direction:  core.Long,
			EntryPrice: decimal.NewFromInt(50000),
			StopLoss:   decimal.NewFromInt(49000),
			TakeProfits: []core.TakeProfit{
				{Price: decimal.NewFromInt(51000), Fraction: decimal.NewFromFloat(0.5)},
				{Price: decimal.NewFromInt(52000), Fraction: decimal.NewFromFloat(0.5)},
			},
		},
		Source:             core.SourceAPI,
		AlertID:            "alert-1",
		Coin:               "BTC",
		Leverage:           10,
		AutoTradingEnabled: true,
		CurrentPrice:       decimal.NewFromInt(50000),
	}
}

func TestDispatch_HappyPath_OpensPositionWithSLAndTPs(t *testing.T) {
	d, client, events := newTestDispatcher(t, defaultPolicy())

	pos, err := d.Dispatch(context.Background(), baseRequest())
	require.NoError(t, err)
	assert.Equal(t, "BTC", pos.Coin)
	assert.True(t, pos.Size.GreaterThan(decimal.Zero))
	assert.Contains(t, events.published, "position_opened")

	openOrders, err := client.GetOpenOrders(context.Background())
	require.NoError(t, err)
	// one stop + two take-profits resting.
	assert.Len(t, openOrders, 3)
}

func TestDispatch_StrategySourceBlockedWhenAutoTradingDisabled(t *testing.T) {
	d, _, _ := newTestDispatcher(t, defaultPolicy())

	req := baseRequest()
	req.Source = core.SourceStrategy
	req.AutoTradingEnabled = false

	_, err := d.Dispatch(context.Background(), req)
	require.Error(t, err)
	kind, ok := core.AsKind(err)
	require.True(t, ok)
	assert.Equal(t, core.KindAutoTradingDisabled, kind)
}

func TestDispatch_DuplicateAlertIDRejected(t *testing.T) {
	d, _, _ := newTestDispatcher(t, defaultPolicy())

	req := baseRequest()
	_, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)

	req2 := baseRequest()
	req2.Coin = "ETH" // different coin so the already-open BTC position isn't what rejects it
	req2.AlertID = req.AlertID
	_, err = d.Dispatch(context.Background(), req2)
	require.Error(t, err)
	kind, ok := core.AsKind(err)
	require.True(t, ok)
	assert.Equal(t, core.KindDuplicate, kind)
}

func TestDispatch_SizeZeroRejected(t *testing.T) {
	policy := defaultPolicy()
	policy.Sizing = core.Sizing{Mode: core.SizingFixed, FixedSize: decimal.Zero}
	d, _, _ := newTestDispatcher(t, policy)

	_, err := d.Dispatch(context.Background(), baseRequest())
	require.Error(t, err)
	kind, ok := core.AsKind(err)
	require.True(t, ok)
	assert.Equal(t, core.KindValidation, kind)
}

func TestDispatch_GuardrailRejectsExcessiveNotional(t *testing.T) {
	policy := defaultPolicy()
	policy.Guardrails.MaxNotionalUsd = decimal.NewFromInt(10)
	d, _, _ := newTestDispatcher(t, policy)

	_, err := d.Dispatch(context.Background(), baseRequest())
	require.Error(t, err)
	kind, ok := core.AsKind(err)
	require.True(t, ok)
	assert.Equal(t, core.KindRiskRejected, kind)
}

func TestDispatch_AlreadyOpenPositionRejectsSameCoin(t *testing.T) {
	d, _, _ := newTestDispatcher(t, defaultPolicy())

	req := baseRequest()
	_, err := d.Dispatch(context.Background(), req)
	require.NoError(t, err)

	req2 := req
	req2.AlertID = "alert-2"
	_, err = d.Dispatch(context.Background(), req2)
	require.Error(t, err)
}
