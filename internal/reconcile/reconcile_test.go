package reconcile

import (
	"context"
	"testing"
	"time"

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

func newTestLoop(t *testing.T) (*Loop, *simulated.Exchange, *positionbook.Book, *store.MemoryStore, *noopEvents) {
	t.Helper()
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	client := simulated.New("sim")
	book := positionbook.New()
	st := store.NewMemoryStore()
	events := &noopEvents{}
	loop := New(client, book, st, events, logger, time.Second)
	return loop, client, book, st, events
}

func TestTick_HydratesUnknownExchangePosition(t *testing.T) {
	loop, client, book, _, events := newTestLoop(t)

	client.SetPosition("BTC", core.VenuePosition{
		Coin:       "BTC",
		Direction:  core.Long,
		Size:       decimal.NewFromInt(2),
		EntryPrice: decimal.NewFromInt(100),
	})

	require.NoError(t, loop.Tick(context.Background()))

	pos, open := book.Get("BTC")
	require.True(t, open)
	assert.Equal(t, core.HydratedSignalID, pos.SignalID)
	assert.True(t, pos.StopLoss.IsZero())
	assert.Contains(t, events.published, "reconcile_ok")
}

func TestTick_AutoClosesLocalPositionMissingOnExchange(t *testing.T) {
	loop, _, book, _, _ := newTestLoop(t)

	require.NoError(t, book.Open(core.Position{Coin: "ETH", Direction: core.Long, Size: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(2000)}))

	require.NoError(t, loop.Tick(context.Background()))

	_, open := book.Get("ETH")
	assert.False(t, open)
}

func TestTick_FlagsDriftAboveTolerance(t *testing.T) {
	loop, client, book, _, events := newTestLoop(t)

	require.NoError(t, book.Open(core.Position{Coin: "BTC", Direction: core.Long, Size: decimal.NewFromInt(10), EntryPrice: decimal.NewFromInt(100)}))
	client.SetPosition("BTC", core.VenuePosition{Coin: "BTC", Direction: core.Long, Size: decimal.NewFromInt(8), EntryPrice: decimal.NewFromInt(100)})

	require.NoError(t, loop.Tick(context.Background()))

	assert.Contains(t, events.published, "reconcile_drift")
}
