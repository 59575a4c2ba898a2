package strategy

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStrategyATRBreakoutDefaults(t *testing.T) {
	strat, err := NewStrategy("atr-breakout", nil)
	require.NoError(t, err)

	atr, ok := strat.(*ATRBreakout)
	require.True(t, ok)
	assert.Equal(t, 20, atr.ChannelBars)
	assert.Equal(t, 14, atr.ATRBars)
	assert.True(t, decimal.NewFromInt(2).Equal(atr.ATRMultiple))
}

func TestNewStrategyATRBreakoutOverrides(t *testing.T) {
	strat, err := NewStrategy("atr_breakout", map[string]string{
		"channelBars": "30",
		"atrBars":     "10",
		"atrMultiple": "1.5",
	})
	require.NoError(t, err)

	atr, ok := strat.(*ATRBreakout)
	require.True(t, ok)
	assert.Equal(t, 30, atr.ChannelBars)
	assert.Equal(t, 10, atr.ATRBars)
	assert.True(t, decimal.NewFromFloat(1.5).Equal(atr.ATRMultiple))
}

func TestNewStrategyUnknownName(t *testing.T) {
	_, err := NewStrategy("does-not-exist", nil)
	require.Error(t, err)
}

func TestNewStrategyBadParam(t *testing.T) {
	_, err := NewStrategy("atr-breakout", map[string]string{"channelBars": "not-a-number"})
	require.Error(t, err)
}
