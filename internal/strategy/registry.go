package strategy

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/opensqt/perpcore/internal/core"
)

// NewStrategy constructs a core.Strategy by name, parsing its tunables out of
// the assignment's Params map. Unknown names are a configuration error caught
// at Supervisor startup, not at candle-processing time.
func NewStrategy(name string, params map[string]string) (core.Strategy, error) {
	switch name {
	case "atr-breakout", "atr_breakout":
		channelBars, err := paramInt(params, "channelBars", 20)
		if err != nil {
			return nil, err
		}
		atrBars, err := paramInt(params, "atrBars", 14)
		if err != nil {
			return nil, err
		}
		atrMultiple, err := paramDecimal(params, "atrMultiple", decimal.NewFromInt(2))
		if err != nil {
			return nil, err
		}
		return NewATRBreakout(channelBars, atrBars, atrMultiple), nil
	default:
		return nil, fmt.Errorf("unknown strategy: %s", name)
	}
}

func paramInt(params map[string]string, key string, def int) (int, error) {
	raw, ok := params[key]
	if !ok || raw == "" {
		return def, nil
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return 0, fmt.Errorf("strategy param %s=%q: %w", key, raw, err)
	}
	return v, nil
}

func paramDecimal(params map[string]string, key string, def decimal.Decimal) (decimal.Decimal, error) {
	raw, ok := params[key]
	if !ok || raw == "" {
		return def, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("strategy param %s=%q: %w", key, raw, err)
	}
	return v, nil
}
