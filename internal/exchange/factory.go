// Package exchange provides exchange implementations
package exchange

import (
	"fmt"

	"github.com/opensqt/perpcore/internal/config"
	"github.com/opensqt/perpcore/internal/core"
	"github.com/opensqt/perpcore/internal/exchange/hyperliquid"
	"github.com/opensqt/perpcore/internal/exchange/simulated"
)

// New constructs the process's single ExchangeClient from the exchange and
// instrument configuration. An instrument running in testnet mode gets the
// in-memory simulated adapter regardless of the configured venue name;
// mainnet instruments get the live venue adapter. Mixed-mode deployments
// (some instruments testnet, others mainnet) are rejected, since a process
// wires exactly one ExchangeClient for all the instruments it runs.
func New(cfg *config.Config, logger core.ILogger) (core.ExchangeClient, error) {
	mode, err := processMode(cfg)
	if err != nil {
		return nil, err
	}

	if mode == core.ModeTestnet {
		return simulated.New(cfg.Exchange.Name), nil
	}

	switch cfg.Exchange.Name {
	case "hyperliquid":
		return hyperliquid.New(cfg.Exchange, logger), nil
	default:
		return nil, fmt.Errorf("unsupported exchange: %s", cfg.Exchange.Name)
	}
}

// processMode requires every configured instrument to agree on testnet vs.
// mainnet, since the process constructs one ExchangeClient shared by all of
// them.
func processMode(cfg *config.Config) (core.Mode, error) {
	var mode core.Mode
	seen := false
	for coin, inst := range cfg.Instruments {
		if !seen {
			mode = inst.Mode
			seen = true
			continue
		}
		if inst.Mode != mode {
			return "", fmt.Errorf("instrument %s has mode %q, expected %q: all instruments in one process must share a mode", coin, inst.Mode, mode)
		}
	}
	if !seen {
		return "", fmt.Errorf("no instruments configured")
	}
	return mode, nil
}
