package api

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensqt/perpcore/internal/core"
	"github.com/opensqt/perpcore/internal/exchange/simulated"
	"github.com/opensqt/perpcore/pkg/logging"
)

func candle(t time.Time, c float64, closed bool) core.Candle {
	return core.Candle{
		T:      t,
		O:      decimal.NewFromFloat(c),
		H:      decimal.NewFromFloat(c),
		L:      decimal.NewFromFloat(c),
		C:      decimal.NewFromFloat(c),
		Closed: closed,
	}
}

func TestCandleCache_BuffersClosedCandlesOnly(t *testing.T) {
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	client := simulated.New("sim")
	cache := newCandleCache(client, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cache.Start(ctx, nil)
	go cache.subscribe(ctx, "BTC", "1m")
	time.Sleep(20 * time.Millisecond)

	base := time.Unix(1_700_000_000, 0).UTC()
	closed := candle(base, 100, true)
	open := candle(base.Add(time.Minute), 101, false)
	client.PushCandle("BTC", closed)
	client.PushCandle("BTC", open)
	time.Sleep(20 * time.Millisecond)

	bars := cache.Recent("BTC", "1m", time.Time{}, 0)
	require.Len(t, bars, 1)
	assert.True(t, bars[0].Closed)
}

func TestCandleCache_RespectsLimit(t *testing.T) {
	logger, err := logging.NewZapLogger("ERROR")
	require.NoError(t, err)

	client := simulated.New("sim")
	cache := newCandleCache(client, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go cache.subscribe(ctx, "BTC", "1m")
	time.Sleep(20 * time.Millisecond)

	base := time.Unix(1_700_000_000, 0).UTC()
	for i := 0; i < 5; i++ {
		client.PushCandle("BTC", candle(base.Add(time.Duration(i)*time.Minute), 100+float64(i), true))
	}
	time.Sleep(20 * time.Millisecond)

	bars := cache.Recent("BTC", "1m", time.Time{}, 2)
	require.Len(t, bars, 2)
	assert.True(t, bars[1].C.Equal(decimal.NewFromFloat(104)))
}
